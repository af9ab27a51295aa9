package pg

import (
	"context"
	"time"

	"github.com/dropDatabas3/veridian/internal/store/core"
)

func (s *Store) CreateClient(ctx context.Context, c *core.Client) error {
	const q = `
		INSERT INTO clients (id, name, redirect_uri, secret_hash, secret_expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, q, c.ID, c.Name, c.RedirectURI, c.SecretHash, c.SecretExpiresAt, c.CreatedAt)
	return err
}

func (s *Store) GetClient(ctx context.Context, id string) (*core.Client, error) {
	const q = `
		SELECT id, name, redirect_uri, secret_hash, secret_expires_at, created_at
		FROM clients WHERE id = $1`
	var c core.Client
	err := s.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.RedirectURI, &c.SecretHash, &c.SecretExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) UpdateClient(ctx context.Context, c *core.Client) error {
	const q = `UPDATE clients SET name = $2, redirect_uri = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, c.ID, c.Name, c.RedirectURI)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	// consents cascadean por FK ON DELETE CASCADE
	tag, err := s.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) SetClientSecret(ctx context.Context, id, secretHash string, expiresAt *time.Time) error {
	const q = `UPDATE clients SET secret_hash = $2, secret_expires_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, secretHash, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertConsent(ctx context.Context, c *core.Consent) error {
	const q = `
		INSERT INTO consents (user_id, client_id, scope, granted, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, client_id)
		DO UPDATE SET scope = EXCLUDED.scope, granted = EXCLUDED.granted, updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, q, c.UserID, c.ClientID, c.Scope, c.Granted, c.UpdatedAt)
	return err
}

func (s *Store) GetConsent(ctx context.Context, userID, clientID string) (*core.Consent, error) {
	const q = `
		SELECT user_id, client_id, scope, granted, updated_at
		FROM consents WHERE user_id = $1 AND client_id = $2`
	var c core.Consent
	err := s.pool.QueryRow(ctx, q, userID, clientID).Scan(&c.UserID, &c.ClientID, &c.Scope, &c.Granted, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}
