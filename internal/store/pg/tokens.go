package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/veridian/internal/store/core"
)

func (s *Store) CreateAuthCode(ctx context.Context, c *core.AuthorizationCode) error {
	const q = `
		INSERT INTO auth_codes (code_hash, client_id, user_id, redirect_uri, scope,
		                        nonce, code_challenge, challenge_method, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, q, c.CodeHash, c.ClientID, c.UserID, c.RedirectURI, c.Scope,
		c.Nonce, c.CodeChallenge, c.ChallengeMethod, c.ExpiresAt)
	return err
}

func (s *Store) GetAuthCode(ctx context.Context, codeHash string) (*core.AuthorizationCode, error) {
	const q = `
		SELECT code_hash, client_id, user_id, redirect_uri, scope, nonce,
		       code_challenge, challenge_method, expires_at
		FROM auth_codes WHERE code_hash = $1`
	var c core.AuthorizationCode
	err := s.pool.QueryRow(ctx, q, codeHash).Scan(&c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI,
		&c.Scope, &c.Nonce, &c.CodeChallenge, &c.ChallengeMethod, &c.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ConsumeAuthCode: DELETE ... RETURNING garantiza que de dos exchanges
// concurrentes exactamente uno recibe la fila.
func (s *Store) ConsumeAuthCode(ctx context.Context, codeHash string) (*core.AuthorizationCode, error) {
	const q = `
		DELETE FROM auth_codes WHERE code_hash = $1
		RETURNING code_hash, client_id, user_id, redirect_uri, scope, nonce,
		          code_challenge, challenge_method, expires_at`
	var c core.AuthorizationCode
	err := s.pool.QueryRow(ctx, q, codeHash).Scan(&c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI,
		&c.Scope, &c.Nonce, &c.CodeChallenge, &c.ChallengeMethod, &c.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if time.Now().After(c.ExpiresAt) {
		return nil, core.ErrExpired
	}
	return &c, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, t *core.RefreshToken) error {
	const q = `
		INSERT INTO refresh_tokens (id, user_id, client_id, scope, token_hash, issued_at, expires_at, rotated_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, q, t.ID, t.UserID, t.ClientID, t.Scope, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.RotatedFrom)
	return err
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*core.RefreshToken, error) {
	const q = `
		SELECT id, user_id, client_id, scope, token_hash, issued_at, expires_at, rotated_from, revoked_at
		FROM refresh_tokens WHERE token_hash = $1`
	var t core.RefreshToken
	err := s.pool.QueryRow(ctx, q, hash).Scan(&t.ID, &t.UserID, &t.ClientID, &t.Scope, &t.TokenHash,
		&t.IssuedAt, &t.ExpiresAt, &t.RotatedFrom, &t.RevokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// RotateRefreshToken: revoca el viejo y crea el nuevo en una transacción; el
// UPDATE condicionado hace que solo una rotación concurrente gane.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, newToken *core.RefreshToken) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, oldID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrConflict
	}
	const q = `
		INSERT INTO refresh_tokens (id, user_id, client_id, scope, token_hash, issued_at, expires_at, rotated_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, q, newToken.ID, newToken.UserID, newToken.ClientID, newToken.Scope, newToken.TokenHash,
		newToken.IssuedAt, newToken.ExpiresAt, newToken.RotatedFrom); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ----- api keys -----

// CreateAPIKey expira la key viva previa del owner y crea la nueva dentro de
// la misma transacción (supersesión como una sola mutación lógica).
func (s *Store) CreateAPIKey(ctx context.Context, k *core.APIKey) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const expire = `
		UPDATE api_keys SET expires_at = NOW()
		WHERE owner_id = $1 AND kind = $2 AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())`
	if _, err := tx.Exec(ctx, expire, k.OwnerID, k.Kind); err != nil {
		return err
	}
	const ins = `
		INSERT INTO api_keys (id, owner_id, kind, key_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, ins, k.ID, k.OwnerID, k.Kind, k.KeyHash, k.ExpiresAt, k.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const apiKeyCols = `id, owner_id, kind, key_hash, expires_at, revoked_at, created_at`

func (s *Store) scanAPIKey(row pgx.Row) (*core.APIKey, error) {
	var k core.APIKey
	err := row.Scan(&k.ID, &k.OwnerID, &k.Kind, &k.KeyHash, &k.ExpiresAt, &k.RevokedAt, &k.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &k, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*core.APIKey, error) {
	return s.scanAPIKey(s.pool.QueryRow(ctx, `SELECT `+apiKeyCols+` FROM api_keys WHERE key_hash = $1`, hash))
}

func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*core.APIKey, error) {
	return s.scanAPIKey(s.pool.QueryRow(ctx, `SELECT `+apiKeyCols+` FROM api_keys WHERE id = $1`, id))
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
