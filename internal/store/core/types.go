package core

import "time"

// Client es un cliente OAuth2 registrado.
type Client struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	RedirectURI     *string    `json:"redirect_uri,omitempty"`
	SecretHash      string     `json:"-"`
	SecretExpiresAt *time.Time `json:"secret_expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Consent registra el scope concedido por un usuario a un cliente.
// Revocar no borra la fila: Granted pasa a false y queda el historial.
type Consent struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthorizationCode es el code del authorization_code grant, single-use.
// Se guarda solo el hash del valor opaco.
type AuthorizationCode struct {
	CodeHash        string
	ClientID        string
	UserID          string
	RedirectURI     string
	Scope           string
	Nonce           string
	CodeChallenge   string
	ChallengeMethod string // "plain" | "S256" | ""
	ExpiresAt       time.Time
}

type RefreshToken struct {
	ID          string
	UserID      string
	ClientID    string
	Scope       string
	TokenHash   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RotatedFrom *string
	RevokedAt   *time.Time
}

// User carries the profile claims surfaced by userinfo / the ID token.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	Name          string         `json:"name,omitempty"`
	GivenName     string         `json:"given_name,omitempty"`
	FamilyName    string         `json:"family_name,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	Zoneinfo      string         `json:"zoneinfo,omitempty"`
	PhoneNumber   string         `json:"phone_number,omitempty"`
	PhoneVerified bool           `json:"phone_number_verified"`
	Address       map[string]any `json:"address,omitempty"`
	Roles         []string       `json:"roles,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// PasswordCredential es la credencial password de un usuario, con contadores
// de lockout y el flag MFA.
type PasswordCredential struct {
	UserID         string
	PasswordHash   string
	FailedAttempts int
	LockedUntil    *time.Time
	MFAEnabled     bool
}

// AuthenticatorType distingue los cuatro tipos de autenticador MFA.
type AuthenticatorType string

const (
	AuthenticatorRecovery AuthenticatorType = "recovery-codes"
	AuthenticatorTOTP     AuthenticatorType = "totp"
	AuthenticatorOOBSMS   AuthenticatorType = "oob-sms"
	AuthenticatorOOBEmail AuthenticatorType = "oob-email"
)

// RecoveryCode es un código de recuperación hasheado, single-use.
type RecoveryCode struct {
	Hash string
	Used bool
}

// Authenticator: variante etiquetada; cada tipo usa solo los campos que
// necesita (SecretB32 para TOTP, Destination para OOB, RecoveryCodes para
// recovery). Lifecycle: pending (Active=false) -> active -> deleted.
type Authenticator struct {
	ID            string            `json:"id"`
	CredentialID  string            `json:"-"`
	Type          AuthenticatorType `json:"authenticator_type"`
	Active        bool              `json:"active"`
	SecretB32     string            `json:"-"`
	Destination   string            `json:"destination,omitempty"`
	RecoveryCodes []RecoveryCode    `json:"-"`
	LastUsedAt    *time.Time        `json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
}

// APIKeyKind separa API keys de credenciales machine; comparten lifecycle.
type APIKeyKind string

const (
	KindAPIKey  APIKeyKind = "api_key"
	KindMachine APIKeyKind = "machine"
)

type APIKey struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Kind      APIKeyKind `json:"kind"`
	KeyHash   string     `json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reporta si la key ya no sirve para autenticar.
func (k *APIKey) Expired(now time.Time) bool {
	if k.RevokedAt != nil {
		return true
	}
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// AnonymousUserID es el owner asignado a machine credentials creadas sin sesión.
const AnonymousUserID = "00000000-0000-0000-0000-000000000000"
