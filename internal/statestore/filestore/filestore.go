// Package filestore is a JSON-file-backed statestore.Store: one file per
// agent id under a base directory, written atomically via a temp file plus
// rename so a crash mid-write never leaves a torn file behind.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/stepweave/stepweave/internal/agentstate"
)

// safeIDPattern restricts agent ids accepted as file names, since agentID
// is caller-supplied and must never escape dir via path traversal.
var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store persists agent state as one JSON file per agent under dir.
type Store struct {
	dir string
	// locks serializes Save/Load per agent id beyond what rename already
	// gives us, so concurrent Save calls for the same id can't interleave
	// their temp-file writes.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

func (s *Store) pathFor(agentID string) (string, error) {
	if !safeIDPattern.MatchString(agentID) {
		return "", fmt.Errorf("filestore: invalid agent id %q", agentID)
	}
	return filepath.Join(s.dir, agentID+".json"), nil
}

// Load implements statestore.Store.
func (s *Store) Load(_ context.Context, agentID string) (*agentstate.AgentState, bool, error) {
	path, err := s.pathFor(agentID)
	if err != nil {
		return nil, false, err
	}
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filestore: read %s: %w", path, err)
	}

	var state agentstate.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	return &state, true, nil
}

// Save implements statestore.Store.
func (s *Store) Save(_ context.Context, agentID string, state *agentstate.AgentState) error {
	path, err := s.pathFor(agentID)
	if err != nil {
		return err
	}
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, agentID+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: rename into place: %w", err)
	}
	return nil
}
