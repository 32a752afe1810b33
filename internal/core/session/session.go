// Package session defines session store entries, the pending warm-up future
// and the store interface.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/hay-kot/snapdls/internal/segment"
)

// SentinelID is the reserved key under which the next warm session is staged.
// It is never handed to clients.
const SentinelID = "prepared_session_id"

// Kind distinguishes staged warm-ups from client-owned sessions.
type Kind string

const (
	KindWarmup Kind = "warmup"
	KindClient Kind = "client"
)

// Entry pairs an id with either a ready session or a pending warm-up.
type Entry struct {
	ID        string           `json:"id"`
	Kind      Kind             `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	LastUsed  time.Time        `json:"last_used"`
	Session   *segment.Session `json:"-"`
	Pending   *Pending         `json:"-"`
}

// NewClient returns an entry owning a ready session. The store assigns the id.
func NewClient(s *segment.Session, now time.Time) Entry {
	return Entry{Kind: KindClient, CreatedAt: now, LastUsed: now, Session: s}
}

// NewWarmup returns the sentinel entry for a pending warm-up.
func NewWarmup(p *Pending, now time.Time) Entry {
	return Entry{ID: SentinelID, Kind: KindWarmup, CreatedAt: now, LastUsed: now, Pending: p}
}

// Ready reports whether the entry holds a usable session.
func (e Entry) Ready() bool {
	return e.Session != nil
}

// Idle reports whether the entry has not been used since before now-d.
func (e Entry) Idle(now time.Time, d time.Duration) bool {
	return e.Kind == KindClient && now.Sub(e.LastUsed) > d
}

// Release frees what the entry owns. A ready session is closed immediately;
// a pending warm-up is closed once it resolves, without blocking the caller.
func (e Entry) Release() error {
	if e.Session != nil {
		return e.Session.Close()
	}
	if e.Pending != nil {
		e.Pending.Discard()
	}
	return nil
}

// Pending is a warm-up in flight. It resolves exactly once, to a session or
// to the error that prevented building one.
type Pending struct {
	done chan struct{}
	once sync.Once

	sess *segment.Session
	err  error

	mu        sync.Mutex
	discarded bool
}

// NewPending returns an unresolved warm-up.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolve records the outcome. Calls after the first are ignored. If the
// warm-up was discarded before resolving, the session is closed here.
func (p *Pending) Resolve(s *segment.Session, err error) {
	p.once.Do(func() {
		p.sess, p.err = s, err
		close(p.done)

		p.mu.Lock()
		discarded := p.discarded
		p.mu.Unlock()
		if discarded && s != nil {
			_ = s.Close()
		}
	})
}

// Done is closed once the warm-up resolves.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the warm-up resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*segment.Session, error) {
	select {
	case <-p.done:
		return p.sess, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Discard marks the warm-up as unwanted. Its session is closed as soon as it
// is available.
func (p *Pending) Discard() {
	p.mu.Lock()
	p.discarded = true
	p.mu.Unlock()

	select {
	case <-p.done:
		if p.sess != nil {
			_ = p.sess.Close()
		}
	default:
		// Resolve closes it.
	}
}
