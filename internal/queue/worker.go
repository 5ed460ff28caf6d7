package queue

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/huang422/LineBot-VLM-GroupAgent/internal/llm"
)

// Outcome is the terminal state of a work item.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

const maxAttempts = 2 // one initial try plus one retry for transient failures

// Processor performs the full handling of one item: inference and result
// delivery. The context carries the item's absolute deadline.
type Processor func(ctx context.Context, it *Item) error

// Worker is the single consumer of the queue. It acquires a concurrency-1
// gate before each processing run: the downstream inference backend cannot
// safely serve two concurrent requests, so the gate must never be widened.
type Worker struct {
	queue   *Queue
	gate    *semaphore.Weighted
	process Processor
	onDone  func(it *Item, outcome Outcome, err error)

	processed atomic.Int64
	failures  atomic.Int64
}

// NewWorker wires a worker to its queue. onDone receives every terminal
// transition and may be nil.
func NewWorker(q *Queue, process Processor, onDone func(it *Item, outcome Outcome, err error)) *Worker {
	return &Worker{
		queue:   q,
		gate:    semaphore.NewWeighted(1),
		process: process,
		onDone:  onDone,
	}
}

// Run drains the queue until ctx is cancelled. It blocks on queue-empty and
// wakes on enqueue.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("✅ queue worker started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("queue worker stopped (processed=%d, failures=%d)", w.processed.Load(), w.failures.Load())
			return
		case it := <-w.queue.ch:
			w.handle(ctx, it)
		}
	}
}

func (w *Worker) handle(ctx context.Context, it *Item) {
	if err := w.gate.Acquire(ctx, 1); err != nil {
		return
	}
	defer w.gate.Release(1)

	outcome, err := w.processWithRetry(ctx, it)

	switch outcome {
	case OutcomeDelivered:
		w.processed.Add(1)
		log.Printf("request %s delivered (user=%s, attempt=%d, waited=%s)",
			it.ID, shortID(it.UserID), it.Attempt, time.Since(it.CreatedAt).Round(time.Millisecond))
	case OutcomeTimedOut:
		w.failures.Add(1)
		log.Printf("request %s timed out (user=%s, conversation=%s, attempt=%d)",
			it.ID, shortID(it.UserID), shortID(it.ConversationID), it.Attempt)
	default:
		w.failures.Add(1)
		log.Printf("request %s failed (user=%s, conversation=%s, attempt=%d): %v",
			it.ID, shortID(it.UserID), shortID(it.ConversationID), it.Attempt, err)
	}

	if w.onDone != nil {
		w.onDone(it, outcome, err)
	}
}

func (w *Worker) processWithRetry(ctx context.Context, it *Item) (Outcome, error) {
	for {
		if !time.Now().Before(it.Deadline) {
			return OutcomeTimedOut, context.DeadlineExceeded
		}

		// The deadline bounds the in-flight call: a hung inference backend
		// cancels out instead of stalling the worker forever.
		callCtx, cancel := context.WithDeadline(ctx, it.Deadline)
		it.Attempt++
		err := w.process(callCtx, it)
		cancel()

		if err == nil {
			return OutcomeDelivered, nil
		}
		if deadlineExceeded(err) && !time.Now().Before(it.Deadline) {
			return OutcomeTimedOut, err
		}
		if llm.IsTransient(err) && it.Attempt < maxAttempts {
			log.Printf("request %s transient failure, retrying (attempt=%d): %v", it.ID, it.Attempt, err)
			continue
		}
		return OutcomeFailed, err
	}
}

func deadlineExceeded(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, llm.ErrTimeout)
}

// Stats for the status surface.
type Stats struct {
	Depth     int   `json:"depth"`
	Capacity  int   `json:"capacity"`
	Processed int64 `json:"processed"`
	Failures  int64 `json:"failures"`
}

func (w *Worker) Stats() Stats {
	return Stats{
		Depth:     w.queue.Depth(),
		Capacity:  w.queue.Capacity(),
		Processed: w.processed.Load(),
		Failures:  w.failures.Load(),
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
