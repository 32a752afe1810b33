// Package memory provides an in-process session store. Entries own device
// resources, so they cannot outlive the process and are never persisted.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hay-kot/snapdls/internal/core/session"
	"github.com/hay-kot/snapdls/pkg/randid"
)

// Store implements session.Store using a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]session.Entry

	// Now returns the current time. Tests override it.
	Now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]session.Entry),
		Now:     time.Now,
	}
}

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, e session.Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		// 128 random bits; a collision is not expected, but never overwrite.
		for {
			e.ID = randid.New()
			if _, ok := s.entries[e.ID]; !ok {
				break
			}
		}
	} else if e.ID == session.SentinelID && e.Kind != session.KindWarmup {
		return "", session.ErrReservedID
	} else if _, ok := s.entries[e.ID]; ok {
		return "", fmt.Errorf("%w: %s", session.ErrDuplicateID, e.ID)
	}

	now := s.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.LastUsed = now

	s.entries[e.ID] = e
	return e.ID, nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (session.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return session.Entry{}, session.ErrNotFound
	}

	e.LastUsed = s.Now()
	s.entries[id] = e
	return e, nil
}

// Take implements session.Store.
func (s *Store) Take(ctx context.Context, id string) (session.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return session.Entry{}, session.ErrNotFound
	}
	delete(s.entries, id)
	return e, nil
}

// Delete implements session.Store. The entry is unlinked under the lock and
// released after it, so a slow release does not block other sessions.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	e, err := s.Take(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := e.Release(); err != nil {
		return true, fmt.Errorf("release session %s: %w", id, err)
	}
	return true, nil
}

// List implements session.Store.
func (s *Store) List(ctx context.Context) ([]session.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]session.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Kind == session.KindClient {
			out = append(out, e)
		}
	}

	slices.SortFunc(out, func(a, b session.Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Prune implements session.Store.
func (s *Store) Prune(ctx context.Context, idle time.Duration) (int, error) {
	s.mu.Lock()
	now := s.Now()
	var stale []session.Entry
	for id, e := range s.entries {
		if e.Idle(now, idle) {
			stale = append(stale, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, e := range stale {
		if err := e.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release session %s: %w", e.ID, err))
		}
	}
	return len(stale), errors.Join(errs...)
}

// Clear removes and releases every entry, including a staged warm-up.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	all := make([]session.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	clear(s.entries)
	s.mu.Unlock()

	var errs []error
	for _, e := range all {
		if err := e.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release session %s: %w", e.ID, err))
		}
	}
	return len(all), errors.Join(errs...)
}

// Len returns the number of entries, including a staged warm-up.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ session.Store = (*Store)(nil)
