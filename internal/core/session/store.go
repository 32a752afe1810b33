package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	ErrNotFound    = errors.New("session not found")
	ErrReservedID  = errors.New("session id is reserved")
	ErrDuplicateID = errors.New("session id already exists")
)

// Store maps session ids to entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create registers e under e.ID, or under a freshly minted id when e.ID is
	// empty, and returns the id. Returns ErrDuplicateID if the id is live.
	Create(ctx context.Context, e Entry) (string, error)
	// Get returns the entry for id and marks it used. Returns ErrNotFound if
	// not found.
	Get(ctx context.Context, id string) (Entry, error)
	// Take removes and returns the entry for id in one step. Returns
	// ErrNotFound if not found. The caller owns the entry's resources.
	Take(ctx context.Context, id string) (Entry, error)
	// Delete removes the entry for id and releases its resources before
	// returning. Reports whether an entry existed.
	Delete(ctx context.Context, id string) (bool, error)
	// List returns all client entries, oldest first.
	List(ctx context.Context) ([]Entry, error)
	// Prune deletes client entries idle for longer than idle and returns how
	// many were removed.
	Prune(ctx context.Context, idle time.Duration) (int, error)
}
