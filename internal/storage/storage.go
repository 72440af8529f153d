package storage

import (
	"context"

	"github.com/bcnelson/stacks/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Stacks
	//
	// CreateStack inserts the stack unless a stack with the same name exists,
	// in which case it returns domain.ErrAlreadyExists.
	CreateStack(ctx context.Context, stack *domain.Stack) error
	// GetStackByName returns the stack with its packages, users and groups.
	GetStackByName(ctx context.Context, name string) (*domain.Stack, error)
	// ListStacks returns the stacks matching filter ordered by name descending,
	// along with the number of matches before Limit and Offset are applied.
	ListStacks(ctx context.Context, filter domain.StackFilter) ([]*domain.Stack, int, error)
	UpdateStack(ctx context.Context, stack *domain.Stack) error
	// DeleteStack removes the stack and all of its associations.
	DeleteStack(ctx context.Context, id string) error
	AddStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error
	RemoveStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error

	// Directory
	//
	// The Ensure methods return the entity with the given name, creating it first
	// when it does not exist.
	EnsurePackage(ctx context.Context, name string) (*domain.Package, error)
	EnsureUser(ctx context.Context, name string) (*domain.User, error)
	EnsureGroup(ctx context.Context, name string) (*domain.Group, error)
	GetPackageByName(ctx context.Context, name string) (*domain.Package, error)
	// GetUserByName returns the user with its groups.
	GetUserByName(ctx context.Context, name string) (*domain.User, error)
	// GetGroupByName returns the group with its member names.
	GetGroupByName(ctx context.Context, name string) (*domain.Group, error)
	SetUserGroups(ctx context.Context, userID string, groupIDs []string) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
