package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// The access predicate `(visibility = 'shared' OR created_by = caller)` is
// applied inside every item query so a row hidden from the caller behaves
// exactly like a row that does not exist.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, active_group_id, created_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.ActiveGroupID, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, active_group_id, created_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.ActiveGroupID, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Groups

// EnsureActiveGroup returns the user's active group, creating and assigning a
// fresh one when none is set. The user row is locked for the duration so
// concurrent calls for the same user resolve to a single group.
func (s *PostgresStore) EnsureActiveGroup(ctx context.Context, userID, groupName string) (Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, fmt.Errorf("begin ensure group: %w", err)
	}
	defer tx.Rollback()

	var activeGroupID *string
	if err := tx.QueryRowContext(ctx, `SELECT active_group_id FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&activeGroupID); err != nil {
		return Group{}, err
	}

	if activeGroupID != nil {
		group, err := scanGroup(tx.QueryRowContext(ctx, `
			SELECT id, name, invite_code, created_at FROM groups WHERE id=$1
		`, *activeGroupID))
		if err != nil {
			return Group{}, err
		}
		if err := tx.Commit(); err != nil {
			return Group{}, fmt.Errorf("commit ensure group: %w", err)
		}
		return group, nil
	}

	group := Group{ID: uuid.New().String(), Name: groupName}
	for attempt := 0; ; attempt++ {
		group.InviteCode = NewInviteCode()
		// A unique violation aborts the enclosing transaction, so each
		// attempt runs under a savepoint the retry can roll back to.
		if _, err := tx.ExecContext(ctx, `SAVEPOINT insert_group`); err != nil {
			return Group{}, fmt.Errorf("insert group: %w", err)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO groups (id, name, invite_code) VALUES ($1, $2, $3)
			RETURNING created_at
		`, group.ID, group.Name, group.InviteCode).Scan(&group.CreatedAt)
		if err == nil {
			break
		}
		if isUniqueViolation(err) && attempt < 4 {
			if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_group`); err != nil {
				return Group{}, fmt.Errorf("insert group: %w", err)
			}
			continue
		}
		return Group{}, fmt.Errorf("insert group: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET active_group_id=$1 WHERE id=$2`, group.ID, userID); err != nil {
		return Group{}, fmt.Errorf("assign group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Group{}, fmt.Errorf("commit ensure group: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `
		SELECT id, name, invite_code, created_at FROM groups WHERE id=$1
	`, groupID))
}

func (s *PostgresStore) GetGroupByInviteCode(ctx context.Context, code string) (Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `
		SELECT id, name, invite_code, created_at FROM groups WHERE invite_code=$1
	`, code))
}

// EnsureInviteCode backfills a code for groups that do not have one yet.
func (s *PostgresStore) EnsureInviteCode(ctx context.Context, groupID string) (string, error) {
	for attempt := 0; ; attempt++ {
		var code string
		err := s.db.QueryRowContext(ctx, `
			UPDATE groups SET invite_code=$1 WHERE id=$2 AND invite_code IS NULL
			RETURNING invite_code
		`, NewInviteCode(), groupID).Scan(&code)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			// Already set, read it back.
			group, err := s.GetGroup(ctx, groupID)
			if err != nil {
				return "", err
			}
			return group.InviteCode, nil
		}
		if isUniqueViolation(err) && attempt < 4 {
			continue
		}
		return "", fmt.Errorf("set invite code: %w", err)
	}
}

// SetActiveGroup overwrites the user's active group reference; a nil groupID
// clears it (leave).
func (s *PostgresStore) SetActiveGroup(ctx context.Context, userID string, groupID *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active_group_id=$1 WHERE id=$2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("set active group: %w", err)
	}
	return nil
}

// Items

const itemColumns = `id, text, visibility, completed, "order", group_id, created_by, created_at`

func (s *PostgresStore) ListItems(ctx context.Context, groupID, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE group_id=$1 AND (visibility='shared' OR created_by=$2)
		ORDER BY "order" ASC, created_at DESC
	`, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, item Item) (Item, error) {
	inserted, err := scanItem(s.db.QueryRowContext(ctx, `
		INSERT INTO items (id, text, visibility, completed, "order", group_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+itemColumns+`
	`, item.ID, item.Text, item.Visibility, item.Completed, item.Order, item.GroupID, item.CreatedBy))
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	return inserted, nil
}

// GetItem reads an item by id with no access filter; callers must run the
// result through the access gate before acting on it.
func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	return scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id=$1
	`, itemID))
}

// UpdateItem applies the non-nil patch fields to an item the caller can
// access. Returns sql.ErrNoRows when the row is absent or hidden.
func (s *PostgresStore) UpdateItem(ctx context.Context, itemID, groupID, userID string, patch ItemPatch) (Item, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 7)
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Text != nil {
		sets = append(sets, "text="+next(*patch.Text))
	}
	if patch.Completed != nil {
		sets = append(sets, "completed="+next(*patch.Completed))
	}
	if patch.Visibility != nil {
		sets = append(sets, "visibility="+next(*patch.Visibility))
	}
	if patch.Order != nil {
		sets = append(sets, `"order"=`+next(*patch.Order))
	}
	if len(sets) == 0 {
		return Item{}, fmt.Errorf("empty item patch")
	}

	query := fmt.Sprintf(`
		UPDATE items SET %s
		WHERE id=%s AND group_id=%s AND (visibility='shared' OR created_by=%s)
		RETURNING %s
	`, joinSets(sets), next(itemID), next(groupID), next(userID), itemColumns)

	return scanItem(s.db.QueryRowContext(ctx, query, args...))
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID, groupID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM items
		WHERE id=$1 AND group_id=$2 AND (visibility='shared' OR created_by=$3)
	`, itemID, groupID, userID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete item rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReorderItems persists a reorder batch in one transaction. Rows outside the
// caller's group or hidden from the caller match nothing and are skipped
// without failing the batch. Concurrent batches are last-write-wins per row.
func (s *PostgresStore) ReorderItems(ctx context.Context, groupID, userID string, updates []OrderUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	for _, update := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET "order"=$1
			WHERE id=$2 AND group_id=$3 AND (visibility='shared' OR created_by=$4)
		`, update.Order, update.ID, groupID, userID); err != nil {
			return fmt.Errorf("reorder item %s: %w", update.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

// Sessions

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (Group, error) {
	var group Group
	var code sql.NullString
	if err := row.Scan(&group.ID, &group.Name, &code, &group.CreatedAt); err != nil {
		return Group{}, err
	}
	group.InviteCode = code.String
	return group, nil
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Text, &item.Visibility, &item.Completed, &item.Order, &item.GroupID, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
