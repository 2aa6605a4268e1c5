package sdk

import (
	"context"
	"fmt"

	"github.com/celerix-dev/celerix-federation/pkg/schema"
)

// Lookup runs FetchUserByID and returns the user with that id from a single
// state snapshot taken afterwards. The current user is not consulted: a miss
// leaves the previous selection in place, and other callers may change it.
// A missing id yields ErrUserNotFound; the store keeps its own error message.
func Lookup(ctx context.Context, s UserStore, id int) (schema.User, error) {
	if err := s.FetchUserByID(ctx, id); err != nil {
		return schema.User{}, err
	}
	u, ok := s.State().UserByID(id)
	if !ok {
		return schema.User{}, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	return u, nil
}
