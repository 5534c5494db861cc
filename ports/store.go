package ports

import (
	"context"

	"github.com/askmygarmin/backend/core"
)

// AttemptRegistry holds in-flight login attempts keyed by session ID. An
// entry's presence means a challenge is pending or the result has not been
// collected yet. Implementations only need coarse mutual exclusion; the
// attempts carry their own synchronization.
type AttemptRegistry interface {
	Put(id string, attempt *core.LoginAttempt)
	Get(id string) (*core.LoginAttempt, bool)
	Remove(id string)
}

// MemoryStore persists athlete memories with soft deletes.
type MemoryStore interface {
	// List returns active memories for a user, oldest first.
	List(ctx context.Context, userID string) ([]*core.Memory, error)

	// Get returns an active memory by ID, or nil when absent.
	Get(ctx context.Context, userID, id string) (*core.Memory, error)

	Create(ctx context.Context, m *core.Memory) error
	Update(ctx context.Context, m *core.Memory) error

	// SoftDelete marks a memory deleted. Returns false when no active
	// memory matched.
	SoftDelete(ctx context.Context, userID, id string) (bool, error)
}
