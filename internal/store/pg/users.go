package pg

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/veridian/internal/store/core"
)

func (s *Store) CreateUser(ctx context.Context, u *core.User, passwordHash string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var addr []byte
	if u.Address != nil {
		addr, _ = json.Marshal(u.Address)
	}
	const qu = `
		INSERT INTO users (id, email, email_verified, name, given_name, family_name,
		                   picture, zoneinfo, phone_number, phone_verified, address, roles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := tx.Exec(ctx, qu, u.ID, strings.ToLower(u.Email), u.EmailVerified, u.Name, u.GivenName,
		u.FamilyName, u.Picture, u.Zoneinfo, u.PhoneNumber, u.PhoneVerified, addr, u.Roles, u.CreatedAt); err != nil {
		return err
	}
	const qc = `INSERT INTO password_credentials (user_id, password_hash) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, qc, u.ID, passwordHash); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) scanUser(row pgx.Row) (*core.User, error) {
	var u core.User
	var addr []byte
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Name, &u.GivenName, &u.FamilyName,
		&u.Picture, &u.Zoneinfo, &u.PhoneNumber, &u.PhoneVerified, &addr, &u.Roles, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(addr) > 0 {
		_ = json.Unmarshal(addr, &u.Address)
	}
	return &u, nil
}

const userCols = `id, email, email_verified, name, given_name, family_name,
	picture, zoneinfo, phone_number, phone_verified, address, roles, created_at`

func (s *Store) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (s *Store) SetEmailVerified(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET email_verified = TRUE WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, userID string) (*core.PasswordCredential, error) {
	const q = `
		SELECT user_id, password_hash, failed_attempts, locked_until, mfa_enabled
		FROM password_credentials WHERE user_id = $1`
	var c core.PasswordCredential
	err := s.pool.QueryRow(ctx, q, userID).Scan(&c.UserID, &c.PasswordHash, &c.FailedAttempts, &c.LockedUntil, &c.MFAEnabled)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string) error {
	const q = `
		UPDATE password_credentials
		SET password_hash = $2, failed_attempts = 0, locked_until = NULL
		WHERE user_id = $1`
	tag, err := s.pool.Exec(ctx, q, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// RecordAuthFailure incrementa y bloquea en un solo UPDATE (el row-lock de
// Postgres hace el compare-and-set).
func (s *Store) RecordAuthFailure(ctx context.Context, userID string, max int, lockFor time.Duration) (*core.PasswordCredential, error) {
	const q = `
		UPDATE password_credentials
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN NOW() + $3 ELSE locked_until END
		WHERE user_id = $1
		RETURNING user_id, password_hash, failed_attempts, locked_until, mfa_enabled`
	var c core.PasswordCredential
	err := s.pool.QueryRow(ctx, q, userID, max, lockFor).Scan(&c.UserID, &c.PasswordHash, &c.FailedAttempts, &c.LockedUntil, &c.MFAEnabled)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) ResetAuthFailures(ctx context.Context, userID string) error {
	const q = `UPDATE password_credentials SET failed_attempts = 0, locked_until = NULL WHERE user_id = $1`
	tag, err := s.pool.Exec(ctx, q, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	const q = `UPDATE password_credentials SET mfa_enabled = $2 WHERE user_id = $1`
	tag, err := s.pool.Exec(ctx, q, userID, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
