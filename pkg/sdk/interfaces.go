package sdk

import (
	"context"
	"errors"

	"github.com/celerix-dev/celerix-federation/pkg/schema"
)

var (
	// ErrUnknownModule is returned when the peer does not publish the requested module.
	ErrUnknownModule = errors.New("unknown module")
	// ErrProtocol is returned when a reply cannot be understood.
	ErrProtocol = errors.New("protocol error")
	// ErrUserNotFound is returned by lookups when the identifier is absent.
	ErrUserNotFound = errors.New("user not found")
)

// StoreModule is the well-known name under which the host publishes its store.
const StoreModule = "host/store"

// ProtocolVersion is the shared-singleton version of the store contract.
// A remote built against another version must not be composed.
const ProtocolVersion = "1.0.0"

// Mode tells whether a remote runs against the host store or its own.
type Mode string

const (
	ModeFederated  Mode = "federated"
	ModeStandalone Mode = "standalone"
)

// --- Functional Interfaces (Interface Segregation) ---

// UserReader exposes the pure projections over the store state.
// Every call is recomputed from the current state.
type UserReader interface {
	State() schema.State
	AllUsers() []schema.User
	ActiveUsers() []schema.User
	InactiveUsers() []schema.User
	UsersByRole(role string) []schema.User
	UserByID(id int) (schema.User, bool)
	TotalUsers() int
	CurrentUser() (schema.User, bool)
	IsLoading() bool
	HasError() bool
	ErrorMessage() string
}

// UserCommander exposes the asynchronous actions.
type UserCommander interface {
	FetchUsers(ctx context.Context) error
	FetchUserByID(ctx context.Context, id int) error
	CreateUser(ctx context.Context, in schema.UserInput) (schema.User, error)
	UpdateUser(ctx context.Context, u schema.User) (schema.User, error)
	DeleteUser(ctx context.Context, id int) error
}

// SelectionResetter exposes the trivial state resets.
type SelectionResetter interface {
	ClearCurrentUser()
	ClearError()
}

// --- Composite Interfaces ---

// UserStore is the surface shared by the host store and the standalone
// fallback. Components depend on this and cannot tell which one they hold.
type UserStore interface {
	UserReader
	UserCommander
	SelectionResetter
}
