package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/google/uuid"
)

// memberSet is a set of entity IDs keyed by stack ID.
type memberSet map[string]map[string]bool

func (m memberSet) add(stackID, memberID string) {
	if m[stackID] == nil {
		m[stackID] = make(map[string]bool)
	}
	m[stackID][memberID] = true
}

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	apiKeys  map[string]*domain.APIKey  // key: id
	stacks   map[string]*domain.Stack   // key: id, associations not populated
	packages map[string]*domain.Package // key: id
	users    map[string]*domain.User    // key: id
	groups   map[string]*domain.Group   // key: id

	members    map[domain.Relation]memberSet
	userGroups map[string]map[string]bool // key: userID -> groupIDs
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:  make(map[string]*domain.APIKey),
		stacks:   make(map[string]*domain.Stack),
		packages: make(map[string]*domain.Package),
		users:    make(map[string]*domain.User),
		groups:   make(map[string]*domain.Group),
		members: map[domain.Relation]memberSet{
			domain.RelationPackages: make(memberSet),
			domain.RelationUsers:    make(memberSet),
			domain.RelationGroups:   make(memberSet),
		},
		userGroups: make(map[string]map[string]bool),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{Store: s}, nil
}

// Tx is a no-op transaction for the in-memory store: writes are applied
// immediately and Rollback does not undo them.
type Tx struct {
	*Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stored := *key
	s.apiKeys[key.ID] = &stored
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			found := *key
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		k := *key
		keys = append(keys, &k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Stacks
// ============================================

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stacks[stack.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.stacks {
		if existing.Name == stack.Name {
			return domain.ErrAlreadyExists
		}
	}
	row := *stack
	row.Packages, row.Users, row.Groups = nil, nil, nil
	s.stacks[stack.ID] = &row
	for _, p := range stack.Packages {
		s.members[domain.RelationPackages].add(stack.ID, p.ID)
	}
	for _, u := range stack.Users {
		s.members[domain.RelationUsers].add(stack.ID, u.ID)
	}
	for _, g := range stack.Groups {
		s.members[domain.RelationGroups].add(stack.ID, g.ID)
	}
	return nil
}

// hydrate returns a copy of the stack row with its associations.
// The caller must hold the lock.
func (s *Store) hydrate(row *domain.Stack) *domain.Stack {
	stack := *row
	stack.Packages = []*domain.Package{}
	for id := range s.members[domain.RelationPackages][row.ID] {
		p := *s.packages[id]
		stack.Packages = append(stack.Packages, &p)
	}
	sort.Slice(stack.Packages, func(i, j int) bool { return stack.Packages[i].Name < stack.Packages[j].Name })

	stack.Users = []*domain.User{}
	for id := range s.members[domain.RelationUsers][row.ID] {
		u := *s.users[id]
		u.Groups = nil
		stack.Users = append(stack.Users, &u)
	}
	sort.Slice(stack.Users, func(i, j int) bool { return stack.Users[i].Name < stack.Users[j].Name })

	stack.Groups = []*domain.Group{}
	for id := range s.members[domain.RelationGroups][row.ID] {
		g := *s.groups[id]
		g.Members = nil
		stack.Groups = append(stack.Groups, &g)
	}
	sort.Slice(stack.Groups, func(i, j int) bool { return stack.Groups[i].Name < stack.Groups[j].Name })
	return &stack
}

func (s *Store) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stack := range s.stacks {
		if stack.Name == name {
			return s.hydrate(stack), nil
		}
	}
	return nil, domain.ErrNotFound
}

// hasPackage reports whether the stack has any package with one of the names.
// The caller must hold the lock.
func (s *Store) hasPackage(stackID string, names []string) bool {
	for id := range s.members[domain.RelationPackages][stackID] {
		for _, name := range names {
			if s.packages[id].Name == name {
				return true
			}
		}
	}
	return false
}

func (s *Store) ListStacks(ctx context.Context, filter domain.StackFilter) ([]*domain.Stack, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*domain.Stack, 0, len(s.stacks))
	for _, stack := range s.stacks {
		if filter.Name != "" && stack.Name != filter.Name {
			continue
		}
		if filter.Like != "" && !strings.Contains(stack.Name, filter.Like) {
			continue
		}
		if len(filter.Packages) > 0 && !s.hasPackage(stack.ID, filter.Packages) {
			continue
		}
		matched = append(matched, stack)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Name > matched[j].Name
	})

	total := len(matched)
	if filter.Limit > 0 {
		start := min(max(filter.Offset, 0), total)
		end := min(start+filter.Limit, total)
		matched = matched[start:end]
	}

	stacks := make([]*domain.Stack, 0, len(matched))
	for _, stack := range matched {
		stacks = append(stacks, s.hydrate(stack))
	}
	return stacks, total, nil
}

func (s *Store) UpdateStack(ctx context.Context, stack *domain.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, exists := s.stacks[stack.ID]
	if !exists {
		return domain.ErrNotFound
	}
	stack.UpdatedAt = time.Now()
	row.Description = stack.Description
	row.UpdatedAt = stack.UpdatedAt
	return nil
}

func (s *Store) DeleteStack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stacks[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.stacks, id)
	for _, set := range s.members {
		delete(set, id)
	}
	return nil
}

func (s *Store) AddStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[rel]
	if !ok {
		return domain.ErrInvalidInput
	}
	if _, exists := s.stacks[stackID]; !exists {
		return domain.ErrNotFound
	}
	set.add(stackID, memberID)
	return nil
}

func (s *Store) RemoveStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[rel]
	if !ok {
		return domain.ErrInvalidInput
	}
	delete(set[stackID], memberID)
	return nil
}

// ============================================
// Directory
// ============================================

func (s *Store) GetPackageByName(ctx context.Context, name string) (*domain.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.packages {
		if p.Name == name {
			found := *p
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) EnsurePackage(ctx context.Context, name string) (*domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packages {
		if p.Name == name {
			found := *p
			return &found, nil
		}
	}
	id := uuid.NewString()
	p := &domain.Package{ID: id, Name: name, CreatedAt: time.Now()}
	s.packages[id] = p
	found := *p
	return &found, nil
}

// userWithGroups returns a copy of the user with its groups.
// The caller must hold the lock.
func (s *Store) userWithGroups(u *domain.User) *domain.User {
	user := *u
	user.Groups = []*domain.Group{}
	for groupID := range s.userGroups[u.ID] {
		g := *s.groups[groupID]
		g.Members = nil
		user.Groups = append(user.Groups, &g)
	}
	sort.Slice(user.Groups, func(i, j int) bool { return user.Groups[i].Name < user.Groups[j].Name })
	return &user
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Name == name {
			return s.userWithGroups(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) EnsureUser(ctx context.Context, name string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == name {
			return s.userWithGroups(u), nil
		}
	}
	id := uuid.NewString()
	u := &domain.User{ID: id, Name: name, CreatedAt: time.Now()}
	s.users[id] = u
	return s.userWithGroups(u), nil
}

// groupWithMembers returns a copy of the group with its member names.
// The caller must hold the lock.
func (s *Store) groupWithMembers(g *domain.Group) *domain.Group {
	group := *g
	group.Members = []string{}
	for userID, groups := range s.userGroups {
		if groups[g.ID] {
			group.Members = append(group.Members, s.users[userID].Name)
		}
	}
	sort.Strings(group.Members)
	return &group
}

func (s *Store) GetGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.Name == name {
			return s.groupWithMembers(g), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) EnsureGroup(ctx context.Context, name string) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == name {
			return s.groupWithMembers(g), nil
		}
	}
	id := uuid.NewString()
	g := &domain.Group{ID: id, Name: name, CreatedAt: time.Now()}
	s.groups[id] = g
	return s.groupWithMembers(g), nil
}

func (s *Store) SetUserGroups(ctx context.Context, userID string, groupIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[userID]; !exists {
		return domain.ErrNotFound
	}
	set := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		if _, exists := s.groups[id]; !exists {
			return domain.ErrNotFound
		}
		set[id] = true
	}
	s.userGroups[userID] = set
	return nil
}
