package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store and applies pending migrations.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// API Keys
// ============================================

const apiKeyColumns = `id, name, user_name, key_hash, key_prefix, created_at, last_used_at`

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.UserName, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

func countAPIKeys(ctx context.Context, db dbInterface) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}

// ============================================
// Stacks
// ============================================

const stackColumns = `s.id, s.name, s.description, s.created_at, s.updated_at`

// relationTables maps a stack relation to its join table and member column.
var relationTables = map[domain.Relation]struct{ table, column string }{
	domain.RelationPackages: {"stack_packages", "package_id"},
	domain.RelationUsers:    {"stack_users", "user_id"},
	domain.RelationGroups:   {"stack_groups", "group_id"},
}

func createStack(ctx context.Context, db dbInterface, stack *domain.Stack) error {
	// ON CONFLICT keeps a postgres transaction usable when a concurrent request
	// created the same name first.
	result, err := db.ExecContext(ctx,
		`INSERT INTO stacks (id, name, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO NOTHING`,
		stack.ID, stack.Name, stack.Description, stack.CreatedAt, stack.UpdatedAt)
	if err != nil {
		return wrapUniqueError(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrAlreadyExists
	}
	for _, u := range stack.Users {
		if err := addStackMember(ctx, db, stack.ID, domain.RelationUsers, u.ID); err != nil {
			return err
		}
	}
	for _, g := range stack.Groups {
		if err := addStackMember(ctx, db, stack.ID, domain.RelationGroups, g.ID); err != nil {
			return err
		}
	}
	for _, p := range stack.Packages {
		if err := addStackMember(ctx, db, stack.ID, domain.RelationPackages, p.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	return createStack(ctx, s.db, stack)
}

func (t *Tx) CreateStack(ctx context.Context, stack *domain.Stack) error {
	return createStack(ctx, t.tx, stack)
}

func loadStackAssociations(ctx context.Context, db dbInterface, stack *domain.Stack) error {
	stack.Packages = []*domain.Package{}
	if err := db.SelectContext(ctx, &stack.Packages,
		`SELECT p.id, p.name, p.created_at FROM packages p
		 JOIN stack_packages sp ON sp.package_id = p.id
		 WHERE sp.stack_id = $1 ORDER BY p.name`, stack.ID); err != nil {
		return fmt.Errorf("loading stack packages: %w", err)
	}
	stack.Users = []*domain.User{}
	if err := db.SelectContext(ctx, &stack.Users,
		`SELECT u.id, u.name, u.created_at FROM users u
		 JOIN stack_users su ON su.user_id = u.id
		 WHERE su.stack_id = $1 ORDER BY u.name`, stack.ID); err != nil {
		return fmt.Errorf("loading stack users: %w", err)
	}
	stack.Groups = []*domain.Group{}
	if err := db.SelectContext(ctx, &stack.Groups,
		`SELECT g.id, g.name, g.created_at FROM groups g
		 JOIN stack_groups sg ON sg.group_id = g.id
		 WHERE sg.stack_id = $1 ORDER BY g.name`, stack.ID); err != nil {
		return fmt.Errorf("loading stack groups: %w", err)
	}
	return nil
}

func getStackByName(ctx context.Context, db dbInterface, name string) (*domain.Stack, error) {
	var stack domain.Stack
	err := db.GetContext(ctx, &stack,
		`SELECT `+stackColumns+` FROM stacks s WHERE s.name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadStackAssociations(ctx, db, &stack); err != nil {
		return nil, err
	}
	return &stack, nil
}

func (s *Store) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	return getStackByName(ctx, s.db, name)
}

func (t *Tx) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	return getStackByName(ctx, t.tx, name)
}

// escapeLike escapes LIKE wildcards so the pattern matches a literal substring.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func listStacks(ctx context.Context, db dbInterface, filter domain.StackFilter) ([]*domain.Stack, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Name != "" {
		where = append(where, `s.name = ?`)
		args = append(args, filter.Name)
	}
	if filter.Like != "" {
		where = append(where, `s.name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.Like)+"%")
	}
	if len(filter.Packages) > 0 {
		clause, inArgs, err := sqlx.In(
			`s.id IN (SELECT sp.stack_id FROM stack_packages sp
			 JOIN packages p ON p.id = sp.package_id WHERE p.name IN (?))`, filter.Packages)
		if err != nil {
			return nil, 0, fmt.Errorf("building package filter: %w", err)
		}
		where = append(where, clause)
		args = append(args, inArgs...)
	}

	cond := ""
	if len(where) > 0 {
		cond = ` WHERE ` + strings.Join(where, ` AND `)
	}

	var total int
	if err := db.GetContext(ctx, &total, db.Rebind(`SELECT COUNT(*) FROM stacks s`+cond), args...); err != nil {
		return nil, 0, fmt.Errorf("counting stacks: %w", err)
	}

	query := `SELECT ` + stackColumns + ` FROM stacks s` + cond + ` ORDER BY s.name DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	stacks := []*domain.Stack{}
	if err := db.SelectContext(ctx, &stacks, db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("listing stacks: %w", err)
	}
	for _, stack := range stacks {
		if err := loadStackAssociations(ctx, db, stack); err != nil {
			return nil, 0, err
		}
	}
	return stacks, total, nil
}

func (s *Store) ListStacks(ctx context.Context, filter domain.StackFilter) ([]*domain.Stack, int, error) {
	return listStacks(ctx, s.db, filter)
}

func (t *Tx) ListStacks(ctx context.Context, filter domain.StackFilter) ([]*domain.Stack, int, error) {
	return listStacks(ctx, t.tx, filter)
}

func updateStack(ctx context.Context, db dbInterface, stack *domain.Stack) error {
	stack.UpdatedAt = time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE stacks SET description = $1, updated_at = $2 WHERE id = $3`,
		stack.Description, stack.UpdatedAt, stack.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateStack(ctx context.Context, stack *domain.Stack) error {
	return updateStack(ctx, s.db, stack)
}

func (t *Tx) UpdateStack(ctx context.Context, stack *domain.Stack) error {
	return updateStack(ctx, t.tx, stack)
}

func deleteStack(ctx context.Context, db dbInterface, id string) error {
	for _, rel := range domain.Relations {
		tbl := relationTables[rel]
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE stack_id = $1`, tbl.table), id); err != nil {
			return fmt.Errorf("deleting stack %s: %w", rel, err)
		}
	}
	result, err := db.ExecContext(ctx, `DELETE FROM stacks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteStack(ctx context.Context, id string) error {
	return deleteStack(ctx, s.db, id)
}

func (t *Tx) DeleteStack(ctx context.Context, id string) error {
	return deleteStack(ctx, t.tx, id)
}

func addStackMember(ctx context.Context, db dbInterface, stackID string, rel domain.Relation, memberID string) error {
	tbl, ok := relationTables[rel]
	if !ok {
		return fmt.Errorf("unknown stack relation %q: %w", rel, domain.ErrInvalidInput)
	}
	_, err := db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (stack_id, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`, tbl.table, tbl.column),
		stackID, memberID)
	return err
}

func (s *Store) AddStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error {
	return addStackMember(ctx, s.db, stackID, rel, memberID)
}

func (t *Tx) AddStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error {
	return addStackMember(ctx, t.tx, stackID, rel, memberID)
}

func removeStackMember(ctx context.Context, db dbInterface, stackID string, rel domain.Relation, memberID string) error {
	tbl, ok := relationTables[rel]
	if !ok {
		return fmt.Errorf("unknown stack relation %q: %w", rel, domain.ErrInvalidInput)
	}
	_, err := db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE stack_id = $1 AND %s = $2`, tbl.table, tbl.column),
		stackID, memberID)
	return err
}

func (s *Store) RemoveStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error {
	return removeStackMember(ctx, s.db, stackID, rel, memberID)
}

func (t *Tx) RemoveStackMember(ctx context.Context, stackID string, rel domain.Relation, memberID string) error {
	return removeStackMember(ctx, t.tx, stackID, rel, memberID)
}

// ============================================
// Directory
// ============================================

// ensureNamed inserts a row with the given name into table unless one exists.
// table is always one of the package constants below, never user input.
func ensureNamed(ctx context.Context, db dbInterface, table, name string) error {
	_, err := db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, name, created_at) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`, table),
		uuid.NewString(), name, time.Now())
	return wrapUniqueError(err)
}

func getPackageByName(ctx context.Context, db dbInterface, name string) (*domain.Package, error) {
	var pkg domain.Package
	err := db.GetContext(ctx, &pkg, `SELECT id, name, created_at FROM packages WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *Store) GetPackageByName(ctx context.Context, name string) (*domain.Package, error) {
	return getPackageByName(ctx, s.db, name)
}

func (t *Tx) GetPackageByName(ctx context.Context, name string) (*domain.Package, error) {
	return getPackageByName(ctx, t.tx, name)
}

func ensurePackage(ctx context.Context, db dbInterface, name string) (*domain.Package, error) {
	if err := ensureNamed(ctx, db, "packages", name); err != nil {
		return nil, err
	}
	return getPackageByName(ctx, db, name)
}

func (s *Store) EnsurePackage(ctx context.Context, name string) (*domain.Package, error) {
	return ensurePackage(ctx, s.db, name)
}

func (t *Tx) EnsurePackage(ctx context.Context, name string) (*domain.Package, error) {
	return ensurePackage(ctx, t.tx, name)
}

func getUserByName(ctx context.Context, db dbInterface, name string) (*domain.User, error) {
	var user domain.User
	err := db.GetContext(ctx, &user, `SELECT id, name, created_at FROM users WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.Groups = []*domain.Group{}
	if err := db.SelectContext(ctx, &user.Groups,
		`SELECT g.id, g.name, g.created_at FROM groups g
		 JOIN user_groups ug ON ug.group_id = g.id
		 WHERE ug.user_id = $1 ORDER BY g.name`, user.ID); err != nil {
		return nil, fmt.Errorf("loading user groups: %w", err)
	}
	return &user, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	return getUserByName(ctx, s.db, name)
}

func (t *Tx) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	return getUserByName(ctx, t.tx, name)
}

func ensureUser(ctx context.Context, db dbInterface, name string) (*domain.User, error) {
	if err := ensureNamed(ctx, db, "users", name); err != nil {
		return nil, err
	}
	return getUserByName(ctx, db, name)
}

func (s *Store) EnsureUser(ctx context.Context, name string) (*domain.User, error) {
	return ensureUser(ctx, s.db, name)
}

func (t *Tx) EnsureUser(ctx context.Context, name string) (*domain.User, error) {
	return ensureUser(ctx, t.tx, name)
}

func getGroupByName(ctx context.Context, db dbInterface, name string) (*domain.Group, error) {
	var group domain.Group
	err := db.GetContext(ctx, &group, `SELECT id, name, created_at FROM groups WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	group.Members = []string{}
	if err := db.SelectContext(ctx, &group.Members,
		`SELECT u.name FROM users u
		 JOIN user_groups ug ON ug.user_id = u.id
		 WHERE ug.group_id = $1 ORDER BY u.name`, group.ID); err != nil {
		return nil, fmt.Errorf("loading group members: %w", err)
	}
	return &group, nil
}

func (s *Store) GetGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return getGroupByName(ctx, s.db, name)
}

func (t *Tx) GetGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return getGroupByName(ctx, t.tx, name)
}

func ensureGroup(ctx context.Context, db dbInterface, name string) (*domain.Group, error) {
	if err := ensureNamed(ctx, db, "groups", name); err != nil {
		return nil, err
	}
	return getGroupByName(ctx, db, name)
}

func (s *Store) EnsureGroup(ctx context.Context, name string) (*domain.Group, error) {
	return ensureGroup(ctx, s.db, name)
}

func (t *Tx) EnsureGroup(ctx context.Context, name string) (*domain.Group, error) {
	return ensureGroup(ctx, t.tx, name)
}

func setUserGroups(ctx context.Context, db dbInterface, userID string, groupIDs []string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, groupID := range groupIDs {
		_, err := db.ExecContext(ctx,
			`INSERT INTO user_groups (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, groupID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetUserGroups(ctx context.Context, userID string, groupIDs []string) error {
	return setUserGroups(ctx, s.db, userID, groupIDs)
}

func (t *Tx) SetUserGroups(ctx context.Context, userID string, groupIDs []string) error {
	return setUserGroups(ctx, t.tx, userID, groupIDs)
}
