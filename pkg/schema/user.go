// Package schema defines the user data structures shared by the host and every remote.
package schema

import "time"

// User represents a person record managed by the user store.
type User struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Phone      string     `json:"phone,omitempty"`
	Department string     `json:"department,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// UserInput is the payload accepted when creating a user.
// The store assigns the identifier and timestamps.
type UserInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Phone      string `json:"phone,omitempty"`
	Department string `json:"department,omitempty"`
	Active     bool   `json:"active"`
}

// ToUser builds an unsaved User from the input.
func (in UserInput) ToUser() User {
	return User{
		Name:       in.Name,
		Email:      in.Email,
		Role:       in.Role,
		Phone:      in.Phone,
		Department: in.Department,
		Active:     in.Active,
	}
}

// Clone returns a copy that shares no pointers with u.
func (u User) Clone() User {
	out := u
	if u.CreatedAt != nil {
		t := *u.CreatedAt
		out.CreatedAt = &t
	}
	if u.UpdatedAt != nil {
		t := *u.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// NextID returns max(ids)+1, or 1 for an empty collection.
func NextID(users []User) int {
	next := 1
	for _, u := range users {
		if u.ID >= next {
			next = u.ID + 1
		}
	}
	return next
}
