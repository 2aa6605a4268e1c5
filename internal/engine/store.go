// Package engine implements the in-memory user store shared by the host and its remotes.
package engine

import (
	"context"
	"time"

	"github.com/celerix-dev/celerix-federation/pkg/schema"
)

// User-facing messages written to the error field of the state.
const (
	msgFetchUsers = "Failed to fetch users"
	msgFetchUser  = "Failed to fetch user"
	msgCreateUser = "Failed to create user"
	msgUpdateUser = "Failed to update user"
	msgDeleteUser = "Failed to delete user"
)

// Delays holds the simulated latency of each action.
type Delays struct {
	FetchUsers    time.Duration
	FetchUserByID time.Duration
	CreateUser    time.Duration
	UpdateUser    time.Duration
	DeleteUser    time.Duration
}

// DefaultDelays mirrors the latency of the mock API.
var DefaultDelays = Delays{
	FetchUsers:    500 * time.Millisecond,
	FetchUserByID: 300 * time.Millisecond,
	CreateUser:    800 * time.Millisecond,
	UpdateUser:    800 * time.Millisecond,
	DeleteUser:    500 * time.Millisecond,
}

// NoDelays disables the simulated latency.
var NoDelays = Delays{}

// Loader supplies the collection for FetchUsers.
type Loader func(ctx context.Context) ([]schema.User, error)

// Option configures a MemStore.
type Option func(*MemStore)

// WithDelays overrides the simulated latency.
func WithDelays(d Delays) Option {
	return func(m *MemStore) { m.delays = d }
}

// WithLoader sets the loader used by FetchUsers. Without one FetchUsers
// leaves the collection unchanged.
func WithLoader(l Loader) Option {
	return func(m *MemStore) { m.loader = l }
}

// WithUsers pre-populates the collection.
func WithUsers(users []schema.User) Option {
	return func(m *MemStore) {
		m.state.Users = schema.State{Users: users}.AllUsers()
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *MemStore) { m.now = now }
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
