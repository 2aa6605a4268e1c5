package schema

// State is a point-in-time snapshot of a user store.
// All store implementations derive their getters from these projections.
type State struct {
	Users       []User `json:"users"`
	Loading     bool   `json:"loading"`
	Error       string `json:"error,omitempty"`
	CurrentUser *User  `json:"currentUser,omitempty"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{
		Users:   cloneUsers(s.Users),
		Loading: s.Loading,
		Error:   s.Error,
	}
	if s.CurrentUser != nil {
		cu := s.CurrentUser.Clone()
		out.CurrentUser = &cu
	}
	return out
}

// HasError reports whether the last action left an error message.
func (s State) HasError() bool {
	return s.Error != ""
}

// Total returns the number of users.
func (s State) Total() int {
	return len(s.Users)
}

// AllUsers returns every user in display order.
func (s State) AllUsers() []User {
	return cloneUsers(s.Users)
}

// ActiveUsers returns the users whose active flag is set.
func (s State) ActiveUsers() []User {
	return s.filter(func(u User) bool { return u.Active })
}

// InactiveUsers returns the users whose active flag is cleared.
func (s State) InactiveUsers() []User {
	return s.filter(func(u User) bool { return !u.Active })
}

// UsersByRole returns the users with an exact role match.
func (s State) UsersByRole(role string) []User {
	return s.filter(func(u User) bool { return u.Role == role })
}

// UserByID looks a user up by identifier.
func (s State) UserByID(id int) (User, bool) {
	for _, u := range s.Users {
		if u.ID == id {
			return u.Clone(), true
		}
	}
	return User{}, false
}

func (s State) filter(keep func(User) bool) []User {
	out := make([]User, 0, len(s.Users))
	for _, u := range s.Users {
		if keep(u) {
			out = append(out, u.Clone())
		}
	}
	return out
}

func cloneUsers(users []User) []User {
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}
