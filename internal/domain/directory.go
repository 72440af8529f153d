package domain

import "time"

// Package is a software package that can be tracked by stacks.
type Package struct {
	ID        string    `json:"-" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// User is an account known to the directory.
type User struct {
	ID        string    `json:"-" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"-" db:"created_at"`
	Groups    []*Group  `json:"groups,omitempty" db:"-"` // Only loaded on directory lookups
}

// InGroup reports whether the user belongs to any of the named groups.
func (u *User) InGroup(names ...string) bool {
	for _, g := range u.Groups {
		for _, name := range names {
			if g.Name == name {
				return true
			}
		}
	}
	return false
}

// Group is a named set of users.
type Group struct {
	ID        string    `json:"-" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"-" db:"created_at"`
	Members   []string  `json:"members,omitempty" db:"-"` // Only loaded on directory lookups
}

// SetUserGroupsRequest is the request body for replacing a user's group memberships.
type SetUserGroupsRequest struct {
	Groups []string `json:"groups" validate:"dive,entityname"`
}
