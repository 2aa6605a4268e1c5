package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-federation/pkg/schema"
)

// Mutation types delivered to subscribers.
const (
	MutationSetUsers       = "SET_USERS"
	MutationAddUser        = "ADD_USER"
	MutationUpdateUser     = "UPDATE_USER"
	MutationDeleteUser     = "DELETE_USER"
	MutationSetCurrentUser = "SET_CURRENT_USER"
	MutationSetLoading     = "SET_LOADING"
	MutationSetError       = "SET_ERROR"
	MutationClearError     = "CLEAR_ERROR"
)

// Mutation describes one committed state change.
type Mutation struct {
	Type    string
	Payload any
}

// MemStore is the thread-safe user store.
// Every mutation is committed under a single write lock, so readers never
// observe a partially applied change. Logically concurrent writes to the
// same record are last-commit-wins.
type MemStore struct {
	mu       sync.RWMutex
	state    schema.State
	inflight int

	delays Delays
	loader Loader
	now    func() time.Time

	subMu   sync.RWMutex
	subs    map[int]func(Mutation)
	nextSub int
}

// NewMemStore initializes an empty store without a loader.
func NewMemStore(opts ...Option) *MemStore {
	m := &MemStore{
		state:  schema.State{Users: []schema.User{}},
		delays: DefaultDelays,
		now:    func() time.Time { return time.Now().UTC() },
		subs:   make(map[int]func(Mutation)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn for every committed mutation and returns a func
// that removes it. fn runs after the store lock is released.
func (m *MemStore) Subscribe(fn func(Mutation)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *MemStore) notify(muts ...Mutation) {
	m.subMu.RLock()
	fns := make([]func(Mutation), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()

	for _, mut := range muts {
		for _, fn := range fns {
			fn(mut)
		}
	}
}

// commit applies fn under the write lock and publishes its mutations.
func (m *MemStore) commit(fn func(s *schema.State) []Mutation) {
	m.mu.Lock()
	muts := fn(&m.state)
	m.mu.Unlock()
	m.notify(muts...)
}

// --- Action envelope ---

func (m *MemStore) begin() {
	m.mu.Lock()
	m.inflight++
	m.state.Error = ""
	m.mu.Unlock()
	m.notify(
		Mutation{Type: MutationSetLoading, Payload: true},
		Mutation{Type: MutationClearError},
	)
}

func (m *MemStore) end() {
	m.mu.Lock()
	m.inflight--
	idle := m.inflight == 0
	m.mu.Unlock()
	if idle {
		m.notify(Mutation{Type: MutationSetLoading, Payload: false})
	}
}

// run clears the error, marks the store loading, waits the simulated
// delay and applies effect. Any failure is written to the error field
// and returned. Loading is released on every path.
func (m *MemStore) run(ctx context.Context, delay time.Duration, failMsg string, effect func(ctx context.Context) error) error {
	m.begin()
	defer m.end()

	err := sleep(ctx, delay)
	if err == nil {
		err = effect(ctx)
	}
	if err != nil {
		m.commit(func(s *schema.State) []Mutation {
			s.Error = failMsg
			return []Mutation{{Type: MutationSetError, Payload: failMsg}}
		})
		return fmt.Errorf("%s: %w", failMsg, err)
	}
	return nil
}

// --- Commands ---

// FetchUsers replaces the collection with the loader's result. Without a
// loader the collection is left as is for an external loader to fill.
func (m *MemStore) FetchUsers(ctx context.Context) error {
	return m.run(ctx, m.delays.FetchUsers, msgFetchUsers, func(ctx context.Context) error {
		if m.loader == nil {
			return nil
		}
		users, err := m.loader(ctx)
		if err != nil {
			return err
		}
		users = schema.State{Users: users}.AllUsers()
		m.commit(func(s *schema.State) []Mutation {
			s.Users = users
			return []Mutation{{Type: MutationSetUsers, Payload: len(users)}}
		})
		return nil
	})
}

// FetchUserByID selects the user as the current user. An unknown id is
// reported through the error field, not as a returned error.
func (m *MemStore) FetchUserByID(ctx context.Context, id int) error {
	return m.run(ctx, m.delays.FetchUserByID, msgFetchUser, func(ctx context.Context) error {
		m.commit(func(s *schema.State) []Mutation {
			u, ok := s.UserByID(id)
			if !ok {
				s.Error = fmt.Sprintf("User with ID %d not found", id)
				return []Mutation{{Type: MutationSetError, Payload: s.Error}}
			}
			s.CurrentUser = &u
			return []Mutation{{Type: MutationSetCurrentUser, Payload: u.ID}}
		})
		return nil
	})
}

// CreateUser assigns the next identifier and appends the user.
func (m *MemStore) CreateUser(ctx context.Context, in schema.UserInput) (schema.User, error) {
	var created schema.User
	err := m.run(ctx, m.delays.CreateUser, msgCreateUser, func(ctx context.Context) error {
		now := m.now()
		m.commit(func(s *schema.State) []Mutation {
			u := in.ToUser()
			u.ID = schema.NextID(s.Users)
			c, up := now, now
			u.CreatedAt, u.UpdatedAt = &c, &up
			s.Users = append(s.Users, u)
			created = u.Clone()
			return []Mutation{{Type: MutationAddUser, Payload: u.ID}}
		})
		return nil
	})
	if err != nil {
		return schema.User{}, err
	}
	return created, nil
}

// UpdateUser replaces the user with the same identifier and refreshes its
// update timestamp. An unknown identifier is accepted and changes nothing.
func (m *MemStore) UpdateUser(ctx context.Context, u schema.User) (schema.User, error) {
	var updated schema.User
	err := m.run(ctx, m.delays.UpdateUser, msgUpdateUser, func(ctx context.Context) error {
		now := m.now()
		updated = u.Clone()
		updated.UpdatedAt = &now
		m.commit(func(s *schema.State) []Mutation {
			for i := range s.Users {
				if s.Users[i].ID != updated.ID {
					continue
				}
				if updated.CreatedAt == nil {
					updated.CreatedAt = s.Users[i].Clone().CreatedAt
				}
				s.Users[i] = updated.Clone()
				return []Mutation{{Type: MutationUpdateUser, Payload: updated.ID}}
			}
			return nil
		})
		return nil
	})
	if err != nil {
		return schema.User{}, err
	}
	return updated, nil
}

// DeleteUser removes the user. Deleting an unknown id is a no-op.
func (m *MemStore) DeleteUser(ctx context.Context, id int) error {
	return m.run(ctx, m.delays.DeleteUser, msgDeleteUser, func(ctx context.Context) error {
		m.commit(func(s *schema.State) []Mutation {
			kept := make([]schema.User, 0, len(s.Users))
			for _, u := range s.Users {
				if u.ID != id {
					kept = append(kept, u)
				}
			}
			if len(kept) == len(s.Users) {
				return nil
			}
			s.Users = kept
			return []Mutation{{Type: MutationDeleteUser, Payload: id}}
		})
		return nil
	})
}

// ClearCurrentUser drops the current selection.
func (m *MemStore) ClearCurrentUser() {
	m.commit(func(s *schema.State) []Mutation {
		s.CurrentUser = nil
		return []Mutation{{Type: MutationSetCurrentUser, Payload: nil}}
	})
}

// ClearError resets the error field.
func (m *MemStore) ClearError() {
	m.commit(func(s *schema.State) []Mutation {
		s.Error = ""
		return []Mutation{{Type: MutationClearError}}
	})
}

// --- Getters ---

// State returns a deep copy of the current state.
func (m *MemStore) State() schema.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state.Clone()
	s.Loading = m.inflight > 0
	return s
}

func (m *MemStore) AllUsers() []schema.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.AllUsers()
}

func (m *MemStore) ActiveUsers() []schema.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ActiveUsers()
}

func (m *MemStore) InactiveUsers() []schema.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.InactiveUsers()
}

func (m *MemStore) UsersByRole(role string) []schema.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.UsersByRole(role)
}

func (m *MemStore) UserByID(id int) (schema.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.UserByID(id)
}

func (m *MemStore) TotalUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Total()
}

func (m *MemStore) CurrentUser() (schema.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.CurrentUser == nil {
		return schema.User{}, false
	}
	return m.state.CurrentUser.Clone(), true
}

func (m *MemStore) IsLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inflight > 0
}

func (m *MemStore) HasError() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.HasError()
}

func (m *MemStore) ErrorMessage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Error
}
