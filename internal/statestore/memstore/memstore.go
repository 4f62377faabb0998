// Package memstore is an in-memory statestore.Store with inactivity-TTL
// eviction, matching a single-process deployment — not designed for
// multi-replica use.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/stepweave/stepweave/internal/agentstate"
)

const minCleanupInterval = time.Millisecond

type entry struct {
	state    *agentstate.AgentState
	lastUsed time.Time
}

// Store is a thread-safe in-memory statestore.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	done    chan struct{}
}

// New creates a Store with the given inactivity TTL and starts a
// background eviction goroutine. Call Close to stop it.
func New(ttl time.Duration) *Store {
	if ttl < minCleanupInterval {
		ttl = minCleanupInterval
	}
	s := &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Load implements statestore.Store.
func (s *Store) Load(_ context.Context, agentID string) (*agentstate.AgentState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[agentID]
	if !ok {
		return nil, false, nil
	}
	return e.state, true, nil
}

// Save implements statestore.Store.
func (s *Store) Save(_ context.Context, agentID string, state *agentstate.AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[agentID] = &entry{state: state, lastUsed: time.Now()}
	return nil
}

// Count returns the number of tracked agents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			cutoff := time.Now().Add(-s.ttl)
			for id, e := range s.entries {
				if e.lastUsed.Before(cutoff) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
