package facttrace

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoVerdict is returned by VerdictStore.Get when nothing has been
// stored and nothing is persisted.
var ErrNoVerdict = errors.New("no verdict available")

// Persistence mirrors the latest verdict outside process memory so the UI
// can survive a restart.
type Persistence interface {
	Load() (*Verdict, error)
	Save(*Verdict) error
}

// FileMirror persists the latest verdict as pretty-printed JSON at a
// fixed path. An absent file is ErrNoVerdict, not a failure.
type FileMirror struct {
	Path string
}

func (m FileMirror) Load() (*Verdict, error) {
	data, err := os.ReadFile(m.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoVerdict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read verdict file: %w", err)
	}

	var verdict Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict file: %w", err)
	}
	return &verdict, nil
}

func (m FileMirror) Save(v *Verdict) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	if dir := filepath.Dir(m.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.WriteFile(m.Path, data, 0644); err != nil {
		return fmt.Errorf("failed to write verdict file: %w", err)
	}
	return nil
}

// VerdictStore holds the single latest verdict: an in-memory copy plus an
// optional persistence mirror. Concurrent Puts race last-write-wins; this
// is a single-latest-verdict store, not a multi-session one.
type VerdictStore struct {
	mu     sync.RWMutex
	latest *Verdict
	mirror Persistence
}

// NewVerdictStore creates a store. A nil mirror means memory-only.
func NewVerdictStore(mirror Persistence) *VerdictStore {
	return &VerdictStore{mirror: mirror}
}

// Get returns the most recently stored verdict. The persisted copy is
// preferred over the in-memory one when both exist; a broken mirror
// silently degrades to memory-only behavior.
func (s *VerdictStore) Get() (*Verdict, error) {
	if s.mirror != nil {
		verdict, err := s.mirror.Load()
		if err == nil {
			return verdict, nil
		}
		if !errors.Is(err, ErrNoVerdict) {
			log.Printf("Verdict mirror unreadable, falling back to memory: %v", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoVerdict
	}
	verdict := s.latest.Clone()
	return &verdict, nil
}

// Put replaces the stored verdict. The in-memory replacement always
// succeeds; mirroring is best-effort and a write failure is only logged.
// Both copies are taken from the same clone, so later mutations of the
// caller's value reach neither.
func (s *VerdictStore) Put(v *Verdict) {
	clone := v.Clone()

	s.mu.Lock()
	s.latest = &clone
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Save(&clone); err != nil {
			log.Printf("Failed to mirror verdict to file: %v", err)
		}
	}
}
