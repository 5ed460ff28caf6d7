// Package queue holds the admission queue and the sequential worker that
// serializes all inference calls. Inbound handlers enqueue-or-reject and
// return; exactly one worker drains the queue.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/huang422/LineBot-VLM-GroupAgent/internal/drivesync"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity. The
// caller surfaces it to the user immediately; nothing ever blocks on a full
// queue.
var ErrQueueFull = errors.New("queue: full")

// Item is one accepted unit of inference work. Immutable after creation
// except Attempt. Owned by the queue until dequeued, then by the worker until
// a terminal state; never persisted.
type Item struct {
	ID             string
	UserID         string
	ConversationID string
	Prompt         string

	// Optional quoted context, resolved by the inbound handler.
	QuotedText    string
	QuotedImageID string // inbound media still to be downloaded at process time

	// Config is the snapshot active at admission time, carried by reference.
	Config *drivesync.Snapshot

	ReplyToken string
	CreatedAt  time.Time
	Deadline   time.Time
	Attempt    int
}

func NewItem(userID, conversationID, prompt string, cfg *drivesync.Snapshot, replyToken string, timeout time.Duration) *Item {
	now := time.Now()
	return &Item{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Prompt:         prompt,
		Config:         cfg,
		ReplyToken:     replyToken,
		CreatedAt:      now,
		Deadline:       now.Add(timeout),
	}
}

// Queue is a bounded FIFO mailbox of accepted items.
type Queue struct {
	ch chan *Item
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *Item, capacity)}
}

// TryEnqueue admits the item without blocking and returns its 1-indexed queue
// position, or ErrQueueFull.
func (q *Queue) TryEnqueue(it *Item) (int, error) {
	select {
	case q.ch <- it:
		return len(q.ch), nil
	default:
		return 0, ErrQueueFull
	}
}

// Depth reports the number of pending items.
func (q *Queue) Depth() int { return len(q.ch) }

func (q *Queue) Capacity() int { return cap(q.ch) }
