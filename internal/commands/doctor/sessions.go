package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/snapdls/internal/server"
)

// SessionClient is the part of the API client the session check needs.
type SessionClient interface {
	Sessions(ctx context.Context) ([]server.SessionSummary, error)
	EndSession(ctx context.Context, id string) error
}

// IdleSessionCheck looks for sessions on a running server that have not been
// used for longer than idle.
type IdleSessionCheck struct {
	client SessionClient
	idle   time.Duration
	fix    bool
	now    func() time.Time
}

// NewIdleSessionCheck creates a new idle session check.
// If fix is true, idle sessions are ended.
func NewIdleSessionCheck(client SessionClient, idle time.Duration, fix bool) *IdleSessionCheck {
	return &IdleSessionCheck{
		client: client,
		idle:   idle,
		fix:    fix,
		now:    time.Now,
	}
}

func (c *IdleSessionCheck) Name() string {
	return "Sessions"
}

func (c *IdleSessionCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	sessions, err := c.client.Sessions(ctx)
	if err != nil {
		// A stopped server is not a broken setup.
		result.Items = append(result.Items, CheckItem{
			Label:  "Server",
			Status: StatusWarn,
			Detail: fmt.Sprintf("not reachable: %v", err),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "Server",
		Status: StatusPass,
		Detail: fmt.Sprintf("%d live session(s)", len(sessions)),
	})

	now := c.now()
	var idle []server.SessionSummary
	for _, s := range sessions {
		if now.Sub(s.LastUsed) > c.idle {
			idle = append(idle, s)
		}
	}

	if len(idle) == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "No idle sessions",
			Status: StatusPass,
			Detail: fmt.Sprintf("all sessions used within %s", c.idle),
		})
		return result
	}

	for _, s := range idle {
		unused := now.Sub(s.LastUsed).Round(time.Second)

		if !c.fix {
			result.Items = append(result.Items, CheckItem{
				Label:   s.ID,
				Status:  StatusWarn,
				Detail:  fmt.Sprintf("idle for %s (%s)", unused, s.State),
				Fixable: true,
			})
			continue
		}

		if err := c.client.EndSession(ctx, s.ID); err != nil {
			result.Items = append(result.Items, CheckItem{
				Label:  s.ID,
				Status: StatusFail,
				Detail: fmt.Sprintf("failed to end: %v", err),
			})
		} else {
			result.Items = append(result.Items, CheckItem{
				Label:  s.ID,
				Status: StatusPass,
				Detail: fmt.Sprintf("ended session idle for %s", unused),
			})
		}
	}

	return result
}
