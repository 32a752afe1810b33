package server

import (
	"time"

	"github.com/rs/zerolog"
)

// timer records named stage durations for a request.
type timer struct {
	last   time.Time
	stages []stage
}

type stage struct {
	name string
	d    time.Duration
}

func newTimer() *timer {
	return &timer{last: time.Now()}
}

// mark closes the current stage and returns its duration.
func (t *timer) mark(name string) time.Duration {
	now := time.Now()
	d := now.Sub(t.last)
	t.last = now
	t.stages = append(t.stages, stage{name: name, d: d})
	return d
}

func (t *timer) log(evt *zerolog.Event) {
	for _, s := range t.stages {
		evt = evt.Dur(s.name, s.d)
	}
	evt.Msg("timings")
}
