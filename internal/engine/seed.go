package engine

import (
	"context"
	"time"

	"github.com/celerix-dev/celerix-federation/pkg/schema"
)

// SeedUsers returns the canonical mock collection, stamped with now.
func SeedUsers(now time.Time) []schema.User {
	users := []schema.User{
		{ID: 1, Name: "John Doe", Email: "john.doe@example.com", Role: "Admin", Phone: "+1 234 567 8900", Department: "Engineering", Active: true},
		{ID: 2, Name: "Jane Smith", Email: "jane.smith@example.com", Role: "User", Phone: "+1 234 567 8901", Department: "Marketing", Active: true},
		{ID: 3, Name: "Bob Johnson", Email: "bob.johnson@example.com", Role: "Editor", Phone: "+1 234 567 8902", Department: "Content", Active: true},
		{ID: 4, Name: "Alice Williams", Email: "alice.williams@example.com", Role: "User", Phone: "+1 234 567 8903", Department: "Sales", Active: true},
		{ID: 5, Name: "Charlie Brown", Email: "charlie.brown@example.com", Role: "Admin", Phone: "+1 234 567 8904", Department: "Engineering", Active: false},
	}
	for i := range users {
		t := now
		users[i].CreatedAt = &t
	}
	return users
}

// SeedLoader is a Loader returning SeedUsers.
func SeedLoader(ctx context.Context) ([]schema.User, error) {
	return SeedUsers(time.Now().UTC()), nil
}

// NewHostStore builds the store owned by the host: empty until the first
// FetchUsers loads the seed collection.
func NewHostStore(opts ...Option) *MemStore {
	return NewMemStore(append([]Option{WithLoader(SeedLoader)}, opts...)...)
}

// NewStandalone builds the fallback store a remote uses without a host.
// It starts populated so edit views work before the first fetch.
func NewStandalone(opts ...Option) *MemStore {
	base := []Option{
		WithLoader(SeedLoader),
		WithUsers(SeedUsers(time.Now().UTC())),
	}
	return NewMemStore(append(base, opts...)...)
}
