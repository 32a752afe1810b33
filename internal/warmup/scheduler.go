// Package warmup keeps a segmentation session under construction so that a
// client starting a session waits only for the remaining warm-up time.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hay-kot/snapdls/internal/core/session"
	"github.com/hay-kot/snapdls/internal/metrics"
	"github.com/hay-kot/snapdls/internal/segment"
	"github.com/rs/zerolog"
)

// Sentinel errors for scheduler operations.
var (
	ErrClosed    = errors.New("scheduler closed")
	ErrNotStaged = errors.New("no warm-up staged")
)

// BuildFunc constructs a fresh segmentation session.
type BuildFunc func(ctx context.Context) (*segment.Session, error)

// Options tunes a Scheduler.
type Options struct {
	// Timeout bounds a single construction. Zero means no limit.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Scheduler stages at most one warm-up under session.SentinelID and hands it
// to exactly one caller of Acquire, replacing it before that caller returns.
type Scheduler struct {
	store session.Store
	build BuildFunc
	log   zerolog.Logger
	opts  Options

	// mu serializes take-and-replace of the sentinel entry.
	mu      sync.Mutex
	closed  bool
	current *session.Pending

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. No warm-up runs until Start.
func New(store session.Store, build BuildFunc, log zerolog.Logger, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:  store,
		build:  build,
		log:    log,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start stages the first warm-up. Calling it again while a warm-up is staged
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.store.Get(ctx, session.SentinelID); err == nil {
		return nil
	}
	return s.stage(ctx)
}

// Acquire takes the staged warm-up, stages its replacement, waits for the
// taken one to finish and registers it under a new client id.
//
// When nothing is staged, a warm-up is built for this caller alone. A
// construction failure is returned to the caller that consumed it; the
// replacement is already staged by then.
func (s *Scheduler) Acquire(ctx context.Context) (string, error) {
	p, err := s.take(ctx)
	if err != nil {
		return "", err
	}

	sess, err := p.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.Discard()
			return "", ctxErr
		}
		return "", fmt.Errorf("warm up session: %w", err)
	}

	id, err := s.store.Create(ctx, session.NewClient(sess, time.Now()))
	if err != nil {
		_ = sess.Close()
		return "", fmt.Errorf("register session: %w", err)
	}

	s.opts.Metrics.SessionStarted()
	s.log.Debug().Str("session_id", id).Msg("session handed off")
	return id, nil
}

// take removes the staged warm-up and stages the next one in one critical
// section.
func (s *Scheduler) take(ctx context.Context) (*session.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	var p *session.Pending
	e, err := s.store.Take(ctx, session.SentinelID)
	switch {
	case err == nil && e.Pending != nil:
		p = e.Pending
	case err == nil && e.Session != nil:
		p = session.NewPending()
		p.Resolve(e.Session, nil)
	case err == nil, errors.Is(err, session.ErrNotFound):
		s.log.Debug().Msg("no warm-up staged, building inline")
		p = s.launch()
	default:
		return nil, fmt.Errorf("take warm-up: %w", err)
	}

	if err := s.stage(ctx); err != nil {
		// The caller still gets its session; the next Acquire builds inline.
		s.log.Error().Err(err).Msg("failed to stage replacement warm-up")
	}
	return p, nil
}

// stage launches a warm-up and registers it under the sentinel. Callers hold mu.
func (s *Scheduler) stage(ctx context.Context) error {
	p := s.launch()
	if _, err := s.store.Create(ctx, session.NewWarmup(p, time.Now())); err != nil {
		p.Discard()
		return fmt.Errorf("stage warm-up: %w", err)
	}
	s.current = p
	return nil
}

// launch starts a construction in the background and returns its future.
func (s *Scheduler) launch() *session.Pending {
	p := session.NewPending()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := s.ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}

		start := time.Now()
		sess, err := s.build(ctx)
		elapsed := time.Since(start)
		s.opts.Metrics.ObserveWarmup(elapsed, err)

		if err != nil {
			s.log.Error().Err(err).Dur("elapsed", elapsed).Msg("warm-up failed")
		} else {
			s.log.Info().Dur("elapsed", elapsed).Msg("warm-up ready")
		}
		p.Resolve(sess, err)
	}()

	return p
}

// Ready blocks until the most recently staged warm-up has resolved and
// returns its construction error, if any. It does not consume the warm-up.
func (s *Scheduler) Ready(ctx context.Context) error {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()

	if p == nil {
		return ErrNotStaged
	}

	select {
	case <-p.Done():
		_, err := p.Wait(ctx)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops staging, cancels constructions in flight and releases the
// staged warm-up. It waits for background constructions until ctx is done.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.current = nil
	if e, err := s.store.Take(ctx, session.SentinelID); err == nil {
		_ = e.Release()
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for warm-ups: %w", ctx.Err())
	}
}
