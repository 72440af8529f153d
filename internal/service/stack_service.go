package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/notify"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/google/uuid"
)

// StackService reads and modifies stacks on behalf of a user.
// A StackService is created for each request on top of its transaction.
type StackService struct {
	store  storage.Storage
	pub    notify.Publisher
	logger *slog.Logger
}

// NewStackService creates a StackService.
func NewStackService(store storage.Storage, pub notify.Publisher, logger *slog.Logger) *StackService {
	return &StackService{store: store, pub: pub, logger: logger}
}

// Get returns the stack with the given name.
func (s *StackService) Get(ctx context.Context, name string) (*domain.Stack, error) {
	return s.store.GetStackByName(ctx, name)
}

// List returns one page of the stacks matching filter, ordered by name
// descending. filter.Limit is the page size.
func (s *StackService) List(ctx context.Context, filter domain.StackFilter) (*domain.StackPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = domain.DefaultRowsPerPage
	}
	page := filter.Page
	if page <= 0 {
		page = filter.Offset/filter.Limit + 1
	}
	stacks, total, err := s.store.ListStacks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing stacks: %w", err)
	}
	return &domain.StackPage{
		Stacks:      stacks,
		Page:        page,
		Pages:       domain.PageCount(total, filter.Limit),
		RowsPerPage: filter.Limit,
		Total:       total,
	}, nil
}

// Save creates the stack when needed, checks that actor owns it and applies
// the description and membership changes of in.
func (s *StackService) Save(ctx context.Context, in *domain.SaveStackInput, actor *domain.User) (*domain.Stack, error) {
	stack, err := s.fetchOrCreate(ctx, in.Name, actor)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, stack, actor, "modify"); err != nil {
		return nil, err
	}

	if in.Description != "" {
		stack.Description = in.Description
	}

	if in.Packages != nil {
		err := s.applyRelation(ctx, stack.ID, domain.RelationPackages,
			ids(stack.Packages, func(p *domain.Package) string { return p.ID }),
			ids(in.Packages, func(p *domain.Package) string { return p.ID }))
		if err != nil {
			return nil, err
		}
	}
	if in.Users != nil {
		err := s.applyRelation(ctx, stack.ID, domain.RelationUsers,
			ids(stack.Users, func(u *domain.User) string { return u.ID }),
			ids(in.Users, func(u *domain.User) string { return u.ID }))
		if err != nil {
			return nil, err
		}
	}
	if in.Groups != nil {
		err := s.applyRelation(ctx, stack.ID, domain.RelationGroups,
			ids(stack.Groups, func(g *domain.Group) string { return g.ID }),
			ids(in.Groups, func(g *domain.Group) string { return g.ID }))
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateStack(ctx, stack); err != nil {
		return nil, fmt.Errorf("updating stack: %w", err)
	}

	saved, err := s.store.GetStackByName(ctx, stack.Name)
	if err != nil {
		return nil, fmt.Errorf("reloading stack: %w", err)
	}

	s.logger.InfoContext(ctx, "saved stack", "stack", saved.Name)
	s.pub.Publish(ctx, domain.TopicStackSave, domain.StackMessage{Stack: saved})

	return saved, nil
}

// Delete removes the stack after announcing it, so subscribers still see
// its packages, users and groups.
func (s *StackService) Delete(ctx context.Context, stack *domain.Stack, actor *domain.User) error {
	if err := s.authorize(ctx, stack, actor, "delete"); err != nil {
		return err
	}

	s.pub.Publish(ctx, domain.TopicStackDelete, domain.StackMessage{Stack: stack})

	if err := s.store.DeleteStack(ctx, stack.ID); err != nil {
		return fmt.Errorf("deleting stack: %w", err)
	}
	s.logger.InfoContext(ctx, "deleted stack", "stack", stack.Name)
	return nil
}

// fetchOrCreate returns the named stack, creating it owned by actor when it
// does not exist.
func (s *StackService) fetchOrCreate(ctx context.Context, name string, actor *domain.User) (*domain.Stack, error) {
	stack, err := s.store.GetStackByName(ctx, name)
	if err == nil {
		return stack, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("fetching stack: %w", err)
	}

	now := time.Now()
	stack = &domain.Stack{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Users:     []*domain.User{actor},
	}
	err = s.store.CreateStack(ctx, stack)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		// A concurrent request created it first; continue with that row.
		s.logger.InfoContext(ctx, "stack created concurrently", "stack", name)
	case err != nil:
		return nil, fmt.Errorf("creating stack: %w", err)
	default:
		s.logger.InfoContext(ctx, "created stack", "stack", name, "owner", actor.Name)
	}

	return s.store.GetStackByName(ctx, name)
}

// authorize checks that actor owns the stack. Stacks without any owner are
// open to everyone.
// TODO: decide whether unowned stacks should stay writable by every packager.
func (s *StackService) authorize(ctx context.Context, stack *domain.Stack, actor *domain.User, verb string) error {
	if !stack.HasOwners() {
		s.logger.DebugContext(ctx, "stack has no owners", "stack", stack.Name, "user", actor.Name)
		return nil
	}

	owned, via := stack.OwnedBy(actor)
	if owned {
		if via != nil {
			s.logger.InfoContext(ctx, "user is a member of an owning group",
				"user", actor.Name, "group", via.Name, "stack", stack.Name)
		} else {
			s.logger.InfoContext(ctx, "user is an owner of the stack", "user", actor.Name, "stack", stack.Name)
		}
		return nil
	}

	s.logger.WarnContext(ctx, "user is not an owner of the stack", "user", actor.Name, "stack", stack.Name)
	s.logger.DebugContext(ctx, "stack owners",
		"users", ids(stack.Users, func(u *domain.User) string { return u.Name }),
		"groups", ids(stack.Groups, func(g *domain.Group) string { return g.Name }))

	return &domain.ForbiddenError{
		Field:   "name",
		Message: fmt.Sprintf("%s does not have privileges to %s the %s stack", actor.Name, verb, stack.Name),
	}
}

// applyRelation makes the stack's rel association equal to desired.
func (s *StackService) applyRelation(ctx context.Context, stackID string, rel domain.Relation, current, desired []string) error {
	toAdd, toRemove := Reconcile(current, desired)
	for _, id := range toAdd {
		if err := s.store.AddStackMember(ctx, stackID, rel, id); err != nil {
			return fmt.Errorf("adding stack %s: %w", rel, err)
		}
	}
	for _, id := range toRemove {
		if err := s.store.RemoveStackMember(ctx, stackID, rel, id); err != nil {
			return fmt.Errorf("removing stack %s: %w", rel, err)
		}
	}
	if len(toAdd) > 0 || len(toRemove) > 0 {
		s.logger.DebugContext(ctx, "updated stack relation",
			"relation", rel, "added", len(toAdd), "removed", len(toRemove))
	}
	return nil
}
