package core

import (
	"context"
	"time"
)

// Repository es el contrato de persistencia del core. Cada entidad requiere
// lookup por id y por su natural key (client_id, email, hash del token/code).
// Las mutaciones marcadas como atómicas en los comentarios deben resolverse
// con compare-and-set a nivel de fila; no se necesitan transacciones
// cross-entity.
type Repository interface {
	ClientRepository
	ConsentRepository
	UserRepository
	CodeRepository
	TokenRepository
	APIKeyRepository
	MFARepository
}

type ClientRepository interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)
	UpdateClient(ctx context.Context, c *Client) error
	// DeleteClient borra el cliente y cascadea sus consents.
	DeleteClient(ctx context.Context, id string) error
	// SetClientSecret invalida el secret anterior de inmediato.
	SetClientSecret(ctx context.Context, id, secretHash string, expiresAt *time.Time) error
}

type ConsentRepository interface {
	UpsertConsent(ctx context.Context, c *Consent) error
	GetConsent(ctx context.Context, userID, clientID string) (*Consent, error)
}

type UserRepository interface {
	// CreateUser crea usuario y credencial password en un solo paso.
	CreateUser(ctx context.Context, u *User, passwordHash string) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetEmailVerified(ctx context.Context, userID string) error

	GetCredential(ctx context.Context, userID string) (*PasswordCredential, error)
	// SetPasswordHash fija el hash nuevo y limpia lockout + contador.
	SetPasswordHash(ctx context.Context, userID, hash string) error
	// RecordAuthFailure incrementa el contador de fallos de forma atómica y,
	// si alcanza max, fija LockedUntil = now + lockFor. Devuelve el estado.
	RecordAuthFailure(ctx context.Context, userID string, max int, lockFor time.Duration) (*PasswordCredential, error)
	ResetAuthFailures(ctx context.Context, userID string) error
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error
}

type CodeRepository interface {
	CreateAuthCode(ctx context.Context, c *AuthorizationCode) error
	// GetAuthCode lee sin consumir: un exchange rechazado por validación no
	// quema el code.
	GetAuthCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)
	// ConsumeAuthCode borra y devuelve el code de forma atómica: de dos
	// exchanges concurrentes con el mismo code, exactamente uno gana.
	// ErrNotFound si no existe o ya fue usado; ErrExpired si venció.
	ConsumeAuthCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)
}

type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// RotateRefreshToken revoca el token viejo y persiste el nuevo como una
	// sola mutación lógica. ErrConflict si el viejo ya fue rotado/revocado.
	RotateRefreshToken(ctx context.Context, oldID string, newToken *RefreshToken) error
	RevokeRefreshToken(ctx context.Context, id string) error
}

type APIKeyRepository interface {
	// CreateAPIKey persiste la key nueva y expira (ExpiresAt=now) cualquier
	// key no expirada previa del mismo owner, atómicamente.
	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	GetAPIKeyByID(ctx context.Context, id string) (*APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
}

type MFARepository interface {
	CreateAuthenticator(ctx context.Context, a *Authenticator) error
	// ListAuthenticators devuelve los autenticadores del credential, recovery
	// codes primero.
	ListAuthenticators(ctx context.Context, credentialID string) ([]*Authenticator, error)
	GetAuthenticator(ctx context.Context, id string) (*Authenticator, error)
	// UpdateAuthenticator reemplaza secreto/destino de un pending (re-associate).
	UpdateAuthenticator(ctx context.Context, a *Authenticator) error
	// ActivateAuthenticator hace la transición pending->active de forma
	// atómica. ErrConflict si ya estaba activo.
	ActivateAuthenticator(ctx context.Context, id string) error
	DeleteAuthenticator(ctx context.Context, id string) error
	DeleteAllAuthenticators(ctx context.Context, credentialID string) error
	// UseRecoveryCode marca un recovery code como usado de forma atómica.
	// Devuelve false si el hash no existe o ya se usó.
	UseRecoveryCode(ctx context.Context, credentialID, codeHash string, at time.Time) (bool, error)
	TouchAuthenticator(ctx context.Context, id string, usedAt time.Time) error
}
