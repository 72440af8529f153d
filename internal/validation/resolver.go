package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/storage"
)

// Resolver turns the names carried by validated requests into entities.
// It is created per request on top of the request's transaction.
type Resolver struct {
	store storage.Storage
}

// NewResolver creates a Resolver reading from store.
func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{store: store}
}

// ResolveStack looks up a stack named in the URL.
func (r *Resolver) ResolveStack(ctx context.Context, name string) (*domain.Stack, error) {
	if err := ValidateEntityName(name); err != nil {
		return nil, domain.ErrNotFound
	}
	return r.store.GetStackByName(ctx, name)
}

// ResolveSave resolves every package, user and group of a save request,
// creating the ones that do not exist yet. Lists left nil in the request
// stay nil in the result.
func (r *Resolver) ResolveSave(ctx context.Context, req *domain.SaveStackRequest) (*domain.SaveStackInput, error) {
	in := &domain.SaveStackInput{
		Name:        req.Name,
		Description: req.Description,
	}

	if req.Packages != nil {
		in.Packages = []*domain.Package{}
		for _, name := range uniqueNames(req.Packages) {
			pkg, err := r.store.EnsurePackage(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("resolving package %s: %w", name, err)
			}
			in.Packages = append(in.Packages, pkg)
		}
	}

	if req.Users != nil {
		in.Users = []*domain.User{}
		for _, name := range uniqueNames(req.Users) {
			user, err := r.store.EnsureUser(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("resolving user %s: %w", name, err)
			}
			in.Users = append(in.Users, user)
		}
	}

	if req.Groups != nil {
		in.Groups = []*domain.Group{}
		for _, name := range uniqueNames(req.Groups) {
			group, err := r.store.EnsureGroup(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("resolving group %s: %w", name, err)
			}
			in.Groups = append(in.Groups, group)
		}
	}

	return in, nil
}

// ResolveListQuery converts a validated listing query into a storage filter.
// Every package named in the query must exist.
func (r *Resolver) ResolveListQuery(ctx context.Context, q *domain.ListStacksQuery) (domain.StackFilter, error) {
	packages := uniqueNames(q.Packages)

	var unknown []string
	for _, name := range packages {
		_, err := r.store.GetPackageByName(ctx, name)
		if errors.Is(err, domain.ErrNotFound) {
			unknown = append(unknown, name)
			continue
		}
		if err != nil {
			return domain.StackFilter{}, fmt.Errorf("resolving package %s: %w", name, err)
		}
	}
	if len(unknown) > 0 {
		list := strings.Join(unknown, ", ")
		errs := ValidationErrors{{
			Location: LocationQuery,
			Field:    "packages",
			Value:    list,
			Message:  "Invalid packages specified: " + list,
		}}
		return domain.StackFilter{}, errs
	}

	return domain.StackFilter{
		Name:     q.Name,
		Like:     q.Like,
		Packages: packages,
		Limit:    q.RowsPerPage,
		Offset:   domain.PageOffset(q.Page, q.RowsPerPage),
		Page:     q.Page,
	}, nil
}

// uniqueNames drops duplicates while keeping the first occurrence order.
func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
