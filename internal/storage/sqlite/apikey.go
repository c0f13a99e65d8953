package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gateway "github.com/lkgate/lkgate/internal"
)

const keyColumns = `id, org_id, user_id, name, lookup_hash, slow_hash, preview,
 can_read, can_write, can_manage_keys, is_admin, rate_limit_per_minute,
 is_active, expires_at, last_used_at, created_at`

// CreateKey inserts a new API key.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO api_keys (id, org_id, user_id, name, lookup_hash, slow_hash, preview,
		 can_read, can_write, can_manage_keys, is_admin, rate_limit_per_minute,
		 is_active, expires_at, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.OrgID, nullStr(key.UserID), key.Name,
		key.LookupHash, key.SlowHash, key.Preview,
		boolToInt(key.Permissions.CanRead), boolToInt(key.Permissions.CanWrite),
		boolToInt(key.Permissions.CanManageKeys), boolToInt(key.Permissions.IsAdmin),
		key.Permissions.RateLimitPerMinute,
		boolToInt(key.IsActive), timeToStr(key.ExpiresAt), timeToStr(key.LastUsedAt),
		key.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetKey retrieves an API key by its ID.
func (s *Store) GetKey(ctx context.Context, id string) (*gateway.APIKey, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanKey(row)
}

// GetKeyByLookupHash retrieves an API key by its SHA-256 lookup hash.
func (s *Store) GetKeyByLookupHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE lookup_hash = ?`, hash)
	return scanKey(row)
}

// ListKeys returns API keys for an organization, newest first.
func (s *Store) ListKeys(ctx context.Context, orgID string, offset, limit int) ([]*gateway.APIKey, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE org_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		orgID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKey updates the mutable fields of an existing API key.
func (s *Store) UpdateKey(ctx context.Context, key *gateway.APIKey) error {
	result, err := s.writer.ExecContext(ctx,
		`UPDATE api_keys SET name=?, can_read=?, can_write=?, can_manage_keys=?,
		 is_admin=?, rate_limit_per_minute=?, is_active=?, expires_at=? WHERE id=?`,
		key.Name,
		boolToInt(key.Permissions.CanRead), boolToInt(key.Permissions.CanWrite),
		boolToInt(key.Permissions.CanManageKeys), boolToInt(key.Permissions.IsAdmin),
		key.Permissions.RateLimitPerMinute,
		boolToInt(key.IsActive), timeToStr(key.ExpiresAt), key.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// DeactivateKey revokes a key. The row survives with is_active off so the
// preview and usage trail remain queryable.
func (s *Store) DeactivateKey(ctx context.Context, id string) error {
	result, err := s.writer.ExecContext(ctx, `UPDATE api_keys SET is_active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// TouchKeyUsed updates the last_used_at timestamp.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.writer.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// notFoundErr translates sql.ErrNoRows to gateway.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

func scanKey(s scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var userID sql.NullString
	var canRead, canWrite, canManage, isAdmin, isActive int
	var expiresAt, lastUsedAt, createdAt sql.NullString

	err := s.Scan(
		&k.ID, &k.OrgID, &userID, &k.Name, &k.LookupHash, &k.SlowHash, &k.Preview,
		&canRead, &canWrite, &canManage, &isAdmin, &k.Permissions.RateLimitPerMinute,
		&isActive, &expiresAt, &lastUsedAt, &createdAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	k.UserID = userID.String
	k.Permissions.CanRead = canRead != 0
	k.Permissions.CanWrite = canWrite != 0
	k.Permissions.CanManageKeys = canManage != 0
	k.Permissions.IsAdmin = isAdmin != 0
	k.IsActive = isActive != 0
	k.ExpiresAt = parseTime(expiresAt)
	k.LastUsedAt = parseTime(lastUsedAt)
	if t := parseTime(createdAt); t != nil {
		k.CreatedAt = *t
	}
	return &k, nil
}

// helpers

func timeToStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, gateway.ErrNotFound)
	}
	return nil
}
