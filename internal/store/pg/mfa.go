package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/veridian/internal/store/core"
)

func (s *Store) CreateAuthenticator(ctx context.Context, a *core.Authenticator) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO authenticators (id, credential_id, type, active, secret_b32, destination, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, q, a.ID, a.CredentialID, a.Type, a.Active, a.SecretB32, a.Destination, a.CreatedAt); err != nil {
		return err
	}
	for _, rc := range a.RecoveryCodes {
		if _, err := tx.Exec(ctx, `INSERT INTO recovery_codes (authenticator_id, code_hash, used) VALUES ($1, $2, $3)`,
			a.ID, rc.Hash, rc.Used); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const authCols = `id, credential_id, type, active, secret_b32, destination, last_used_at, created_at`

func (s *Store) scanAuthenticator(row pgx.Row) (*core.Authenticator, error) {
	var a core.Authenticator
	err := row.Scan(&a.ID, &a.CredentialID, &a.Type, &a.Active, &a.SecretB32, &a.Destination, &a.LastUsedAt, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// loadRecoveryCodes carga los hashes asociados. Un pending no-recovery puede
// llevar los hashes de la primera enrolación hasta que confirm los mueva a su
// autenticador recovery propio.
func (s *Store) loadRecoveryCodes(ctx context.Context, a *core.Authenticator) error {
	rows, err := s.pool.Query(ctx, `SELECT code_hash, used FROM recovery_codes WHERE authenticator_id = $1`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rc core.RecoveryCode
		if err := rows.Scan(&rc.Hash, &rc.Used); err != nil {
			return err
		}
		a.RecoveryCodes = append(a.RecoveryCodes, rc)
	}
	return rows.Err()
}

func (s *Store) ListAuthenticators(ctx context.Context, credentialID string) ([]*core.Authenticator, error) {
	const q = `
		SELECT ` + authCols + ` FROM authenticators
		WHERE credential_id = $1
		ORDER BY (type = 'recovery-codes') DESC, created_at ASC`
	rows, err := s.pool.Query(ctx, q, credentialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Authenticator
	for rows.Next() {
		var a core.Authenticator
		if err := rows.Scan(&a.ID, &a.CredentialID, &a.Type, &a.Active, &a.SecretB32, &a.Destination, &a.LastUsedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range out {
		if err := s.loadRecoveryCodes(ctx, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) GetAuthenticator(ctx context.Context, id string) (*core.Authenticator, error) {
	a, err := s.scanAuthenticator(s.pool.QueryRow(ctx, `SELECT `+authCols+` FROM authenticators WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadRecoveryCodes(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) UpdateAuthenticator(ctx context.Context, a *core.Authenticator) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE authenticators SET secret_b32 = $2, destination = $3 WHERE id = $1`
	tag, err := tx.Exec(ctx, q, a.ID, a.SecretB32, a.Destination)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE authenticator_id = $1`, a.ID); err != nil {
		return err
	}
	for _, rc := range a.RecoveryCodes {
		if _, err := tx.Exec(ctx, `INSERT INTO recovery_codes (authenticator_id, code_hash, used) VALUES ($1, $2, $3)`,
			a.ID, rc.Hash, rc.Used); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ActivateAuthenticator: pending->active con UPDATE condicionado.
func (s *Store) ActivateAuthenticator(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE authenticators SET active = TRUE WHERE id = $1 AND active = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// o no existe o ya estaba activo
		if _, err := s.GetAuthenticator(ctx, id); err != nil {
			return err
		}
		return core.ErrConflict
	}
	return nil
}

func (s *Store) DeleteAuthenticator(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM authenticators WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAllAuthenticators(ctx context.Context, credentialID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM authenticators WHERE credential_id = $1`, credentialID)
	return err
}

// UseRecoveryCode: UPDATE condicionado used=false -> true; perder la carrera
// equivale a código ya usado.
func (s *Store) UseRecoveryCode(ctx context.Context, credentialID, codeHash string, at time.Time) (bool, error) {
	const q = `
		UPDATE recovery_codes rc SET used = TRUE
		FROM authenticators a
		WHERE rc.authenticator_id = a.id AND a.credential_id = $1
		  AND rc.code_hash = $2 AND rc.used = FALSE`
	tag, err := s.pool.Exec(ctx, q, credentialID, codeHash)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	const touch = `
		UPDATE authenticators SET last_used_at = $2
		WHERE credential_id = $1 AND type = 'recovery-codes'`
	_, _ = s.pool.Exec(ctx, touch, credentialID, at)
	return true, nil
}

func (s *Store) TouchAuthenticator(ctx context.Context, id string, usedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE authenticators SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
