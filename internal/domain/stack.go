package domain

import "time"

// Stack is a named grouping of packages used for coordinated update tracking.
// It is owned by its users and by every member of its groups.
type Stack struct {
	ID          string     `json:"-" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	Packages    []*Package `json:"packages" db:"-"` // Stored in stack_packages
	Users       []*User    `json:"users" db:"-"`    // Stored in stack_users
	Groups      []*Group   `json:"groups" db:"-"`   // Stored in stack_groups
}

// HasOwners reports whether any user or group is assigned to the stack.
// Stacks without owners predate ownership checks and are open to every packager.
func (s *Stack) HasOwners() bool {
	return len(s.Users) > 0 || len(s.Groups) > 0
}

// OwnedBy reports whether u may modify the stack. When ownership comes through a
// group membership, that group is returned as well.
func (s *Stack) OwnedBy(u *User) (bool, *Group) {
	if u == nil {
		return false, nil
	}
	for _, owner := range s.Users {
		if owner.Name == u.Name {
			return true, nil
		}
	}
	for _, g := range u.Groups {
		for _, sg := range s.Groups {
			if sg.Name == g.Name {
				return true, sg
			}
		}
	}
	return false, nil
}

// Relation names one of the stack's association sets.
type Relation string

const (
	RelationPackages Relation = "packages"
	RelationUsers    Relation = "users"
	RelationGroups   Relation = "groups"
)

// Relations lists every association of a stack in the order they are merged.
var Relations = []Relation{RelationPackages, RelationUsers, RelationGroups}

// SaveStackRequest is the request body for creating or updating a stack.
// A nil list leaves that association untouched; an empty list clears it.
type SaveStackRequest struct {
	Name        string   `json:"name" validate:"required,entityname"`
	Description string   `json:"description,omitempty" validate:"max=4096"`
	Packages    []string `json:"packages,omitempty" validate:"dive,entityname"`
	Users       []string `json:"users,omitempty" validate:"dive,entityname"`
	Groups      []string `json:"groups,omitempty" validate:"dive,entityname"`
}

// SaveStackInput is a SaveStackRequest with every name resolved to an entity.
type SaveStackInput struct {
	Name        string
	Description string
	Packages    []*Package
	Users       []*User
	Groups      []*Group
}

// ListStacksQuery holds the query parameters of the stack listing.
type ListStacksQuery struct {
	Name        string   `json:"name" validate:"omitempty,entityname"`
	Like        string   `json:"like" validate:"max=255"`
	Packages    []string `json:"packages" validate:"dive,entityname"`
	Page        int      `json:"page" validate:"min=1"`
	RowsPerPage int      `json:"rows_per_page" validate:"min=1,max=100"`
}

// StackFilter selects stacks from storage. Zero values disable a filter.
type StackFilter struct {
	Name     string
	Like     string
	Packages []string // match stacks with at least one of these packages
	Limit    int
	Offset   int
	Page     int // 1-based page reported back to the client; derived from Offset when zero
}

// StackPage is one page of a stack listing.
type StackPage struct {
	Stacks      []*Stack `json:"stacks"`
	Page        int      `json:"page"`
	Pages       int      `json:"pages"`
	RowsPerPage int      `json:"rows_per_page"`
	Total       int      `json:"total"`
}
