// Package scheduler sends recurring push messages on a weekly cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pusher sends a text message to a conversation.
type Pusher interface {
	Push(ctx context.Context, to, text string) error
}

type job struct {
	ID       string    `json:"id"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
}

// Scheduler wraps a cron runner pinned to Taiwan local time, where the
// recipients live.
type Scheduler struct {
	cron   *cron.Cron
	pusher Pusher

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	id   cron.EntryID
	spec string
}

func New(pusher Pusher) (*Scheduler, error) {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		pusher:  pusher,
		entries: make(map[string]entry),
	}, nil
}

// AddWeekly schedules a message every week on the given weekday at
// hour:minute. Re-adding an id replaces the previous schedule.
func (s *Scheduler) AddWeekly(jobID string, weekday time.Weekday, hour, minute int, groupID, message string) error {
	spec := fmt.Sprintf("%d %d * * %d", minute, hour, int(weekday))

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[jobID]; ok {
		s.cron.Remove(prev.id)
	}

	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.pusher.Push(ctx, groupID, message); err != nil {
			log.Printf("❌ scheduled message %q failed: %v", jobID, err)
			return
		}
		log.Printf("📅 scheduled message %q sent", jobID)
	})
	if err != nil {
		return fmt.Errorf("add job %q: %w", jobID, err)
	}
	s.entries[jobID] = entry{id: id, spec: spec}
	log.Printf("📅 weekly job %q scheduled (%s %02d:%02d Asia/Taipei)", jobID, weekday, hour, minute)
	return nil
}

// Remove drops a scheduled job. Unknown ids are a no-op.
func (s *Scheduler) Remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[jobID]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, jobID)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("✅ scheduler started (%d jobs)", len(s.Jobs()))
}

// Stop halts the cron runner and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Printf("scheduler stopped")
}

// Jobs lists the scheduled jobs for the status surface.
func (s *Scheduler) Jobs() []job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, job{ID: id, Schedule: e.spec, NextRun: s.cron.Entry(e.id).Next})
	}
	return out
}
