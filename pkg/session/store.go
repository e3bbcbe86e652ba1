package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"polybot/pkg/logger"
)

// Store tracks senders enrolled in a pending two-step interaction (the
// awaiting-upload set of the download command). Entries expire after a
// TTL and the store is capped, so abandoned enrollments cannot grow it
// without bound.
type Store struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	max     int
	clock   func() time.Time
	sweeper *cron.Cron
}

func NewStore(ttl time.Duration, max int) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 1024
	}
	return &Store{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		max:     max,
		clock:   time.Now,
	}
}

// Key builds the store key for one sender on one platform. Sender ids
// are only unique per platform, so both parts are required.
func Key(platform string, senderID int64) string {
	return fmt.Sprintf("%s:%d", platform, senderID)
}

// Mark enrolls a sender. When the store is full the oldest entry is
// evicted first.
func (s *Store) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok && len(s.entries) >= s.max {
		s.evictOldestLocked()
	}
	s.entries[key] = s.clock().Add(s.ttl)
}

// Consume reports whether the sender was enrolled and clears the
// enrollment in the same step, so two racing messages cannot both
// consume it.
func (s *Store) Consume(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	return s.clock().Before(deadline)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, deadline := range s.entries {
		if oldestKey == "" || deadline.Before(oldest) {
			oldestKey, oldest = k, deadline
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
		logger.WarnCF("session", "Awaiting store full, evicted oldest entry", map[string]interface{}{
			"key": oldestKey,
		})
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for k, deadline := range s.entries {
		if !now.Before(deadline) {
			delete(s.entries, k)
			removed++
		}
	}
	if removed > 0 {
		logger.DebugCF("session", "Swept expired awaiting entries", map[string]interface{}{
			"removed": removed,
		})
	}
}

// StartSweeper schedules periodic expiry sweeps. Stop releases the
// scheduler again.
func (s *Store) StartSweeper() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweeper != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", s.sweep); err != nil {
		return fmt.Errorf("failed to schedule awaiting sweep: %w", err)
	}
	c.Start()
	s.sweeper = c
	return nil
}

func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweeper != nil {
		s.sweeper.Stop()
		s.sweeper = nil
	}
}
