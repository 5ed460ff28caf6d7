// Package convo keeps a small, time-expiring log of recent messages per
// conversation so the model can see the ongoing discussion. Nothing here is
// persisted; a restart starts every conversation cold.
package convo

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const shardCount = 16

// Kind classifies a recorded entry.
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindSticker Kind = "sticker"
	KindReply   Kind = "assistant"
)

// Entry is one recorded message in a conversation.
type Entry struct {
	SenderID  string
	Kind      Kind
	Text      string
	Timestamp time.Time
}

// Store holds bounded per-conversation rings, sharded by conversation id so
// appends for different conversations do not contend on one lock.
type Store struct {
	shards     [shardCount]shard
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	rings map[string]*ring
}

// ring is a fixed-capacity circular buffer: the (cap+1)th append evicts the
// oldest entry.
type ring struct {
	entries []Entry
	start   int
	n       int
}

func (r *ring) push(e Entry) {
	if r.n < len(r.entries) {
		r.entries[(r.start+r.n)%len(r.entries)] = e
		r.n++
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % len(r.entries)
}

func (r *ring) all() []Entry {
	out := make([]Entry, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.entries[(r.start+i)%len(r.entries)])
	}
	return out
}

func NewStore(maxEntries int, ttl time.Duration) *Store {
	s := &Store{maxEntries: maxEntries, ttl: ttl, now: time.Now}
	for i := range s.shards {
		s.shards[i].rings = make(map[string]*ring)
	}
	return s
}

func (s *Store) shardFor(conversationID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &s.shards[h.Sum32()%shardCount]
}

// Append records an entry for the conversation, evicting the oldest when the
// ring is full. Appends for the same conversation are serialized by the shard
// lock, so concurrent handlers cannot corrupt the ring.
func (s *Store) Append(conversationID string, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	sh := s.shardFor(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.rings[conversationID]
	if !ok {
		r = &ring{entries: make([]Entry, s.maxEntries)}
		sh.rings[conversationID] = r
	}
	r.push(e)
}

// Snapshot returns up to maxEntries of the conversation's newest entries in
// oldest-first order, skipping entries older than the TTL. It never mutates
// the store.
func (s *Store) Snapshot(conversationID string, maxEntries int) []Entry {
	sh := s.shardFor(conversationID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	r, ok := sh.rings[conversationID]
	if !ok {
		return nil
	}

	now := s.now()
	live := make([]Entry, 0, r.n)
	for _, e := range r.all() {
		if now.Sub(e.Timestamp) > s.ttl {
			continue
		}
		live = append(live, e)
	}
	if maxEntries > 0 && len(live) > maxEntries {
		live = live[len(live)-maxEntries:]
	}
	return live
}

// Count reports how many conversations currently hold at least one live entry.
func (s *Store) Count() int {
	now := s.now()
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, r := range sh.rings {
			for _, e := range r.all() {
				if now.Sub(e.Timestamp) <= s.ttl {
					total++
					break
				}
			}
		}
		sh.mu.RUnlock()
	}
	return total
}

// Clear drops all entries for one conversation.
func (s *Store) Clear(conversationID string) {
	sh := s.shardFor(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.rings, conversationID)
}

// FormatPrompt renders the conversation history as the text block fed to the
// model, one "User_xxxx: text" line per entry, oldest first.
func (s *Store) FormatPrompt(conversationID string, maxEntries int) string {
	entries := s.Snapshot(conversationID, maxEntries)
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(displayName(e))
		b.WriteString(": ")
		switch e.Kind {
		case KindImage:
			b.WriteString("[sent an image]")
		case KindSticker:
			b.WriteString("[sent a sticker]")
		default:
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

func displayName(e Entry) string {
	if e.Kind == KindReply {
		return "Bot"
	}
	id := e.SenderID
	if len(id) > 4 {
		id = id[:4]
	}
	return fmt.Sprintf("User_%s", id)
}
