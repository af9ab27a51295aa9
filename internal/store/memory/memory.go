// Package memory implementa core.Repository en memoria. Las mutaciones
// atómicas del contrato (consumo de code, rotación de refresh, contadores de
// lockout, supersesión de API keys, pending->active) se resuelven bajo el
// mutex del store, que cumple el rol del row-lock.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/veridian/internal/store/core"
)

type Store struct {
	mu sync.Mutex

	clients  map[string]*core.Client            // id
	consents map[string]*core.Consent           // userID/clientID
	users    map[string]*core.User              // id
	byEmail  map[string]string                  // email -> userID
	creds    map[string]*core.PasswordCredential // userID
	codes    map[string]*core.AuthorizationCode // codeHash
	refresh  map[string]*core.RefreshToken      // id
	rtByHash map[string]string                  // tokenHash -> id
	apikeys  map[string]*core.APIKey            // id
	akByHash map[string]string                  // keyHash -> id
	auths    map[string]*core.Authenticator     // id
}

func New() *Store {
	return &Store{
		clients:  map[string]*core.Client{},
		consents: map[string]*core.Consent{},
		users:    map[string]*core.User{},
		byEmail:  map[string]string{},
		creds:    map[string]*core.PasswordCredential{},
		codes:    map[string]*core.AuthorizationCode{},
		refresh:  map[string]*core.RefreshToken{},
		rtByHash: map[string]string{},
		apikeys:  map[string]*core.APIKey{},
		akByHash: map[string]string{},
		auths:    map[string]*core.Authenticator{},
	}
}

func consentKey(userID, clientID string) string { return userID + "/" + clientID }

// ----- clients -----

func (s *Store) CreateClient(_ context.Context, c *core.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; ok {
		return core.ErrConflict
	}
	cp := *c
	s.clients[c.ID] = &cp
	return nil
}

func (s *Store) GetClient(_ context.Context, id string) (*core.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateClient(_ context.Context, c *core.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.clients[c.ID]
	if !ok {
		return core.ErrNotFound
	}
	cp := *c
	cp.SecretHash = old.SecretHash
	cp.SecretExpiresAt = old.SecretExpiresAt
	cp.CreatedAt = old.CreatedAt
	s.clients[c.ID] = &cp
	return nil
}

func (s *Store) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.clients, id)
	// cascade consents
	for k, c := range s.consents {
		if c.ClientID == id {
			delete(s.consents, k)
		}
	}
	return nil
}

func (s *Store) SetClientSecret(_ context.Context, id, secretHash string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return core.ErrNotFound
	}
	c.SecretHash = secretHash
	c.SecretExpiresAt = expiresAt
	return nil
}

// ----- consents -----

func (s *Store) UpsertConsent(_ context.Context, c *core.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.consents[consentKey(c.UserID, c.ClientID)] = &cp
	return nil
}

func (s *Store) GetConsent(_ context.Context, userID, clientID string) (*core.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[consentKey(userID, clientID)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ----- users / credentials -----

func (s *Store) CreateUser(_ context.Context, u *core.User, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return core.ErrConflict
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[email] = u.ID
	s.creds[u.ID] = &core.PasswordCredential{UserID: u.ID, PasswordHash: passwordHash}
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) SetEmailVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.EmailVerified = true
	return nil
}

func (s *Store) GetCredential(_ context.Context, userID string) (*core.PasswordCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SetPasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return core.ErrNotFound
	}
	c.PasswordHash = hash
	c.FailedAttempts = 0
	c.LockedUntil = nil
	return nil
}

func (s *Store) RecordAuthFailure(_ context.Context, userID string, max int, lockFor time.Duration) (*core.PasswordCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	c.FailedAttempts++
	if c.FailedAttempts >= max {
		until := time.Now().Add(lockFor)
		c.LockedUntil = &until
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ResetAuthFailures(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return core.ErrNotFound
	}
	c.FailedAttempts = 0
	c.LockedUntil = nil
	return nil
}

func (s *Store) SetMFAEnabled(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return core.ErrNotFound
	}
	c.MFAEnabled = enabled
	return nil
}

// ----- authorization codes -----

func (s *Store) CreateAuthCode(_ context.Context, c *core.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.codes[c.CodeHash] = &cp
	return nil
}

func (s *Store) GetAuthCode(_ context.Context, codeHash string) (*core.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[codeHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ConsumeAuthCode(_ context.Context, codeHash string) (*core.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[codeHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	// consumo exactly-once: se borra antes de mirar la expiración; un code
	// vencido tampoco debe poder reintentarse
	delete(s.codes, codeHash)
	if time.Now().After(c.ExpiresAt) {
		return nil, core.ErrExpired
	}
	cp := *c
	return &cp, nil
}

// ----- refresh tokens -----

func (s *Store) CreateRefreshToken(_ context.Context, t *core.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.refresh[t.ID] = &cp
	s.rtByHash[t.TokenHash] = t.ID
	return nil
}

func (s *Store) GetRefreshTokenByHash(_ context.Context, hash string) (*core.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.rtByHash[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.refresh[id]
	return &cp, nil
}

func (s *Store) RotateRefreshToken(_ context.Context, oldID string, newToken *core.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refresh[oldID]
	if !ok {
		return core.ErrNotFound
	}
	if old.RevokedAt != nil {
		return core.ErrConflict
	}
	now := time.Now()
	old.RevokedAt = &now
	cp := *newToken
	s.refresh[newToken.ID] = &cp
	s.rtByHash[newToken.TokenHash] = newToken.ID
	return nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[id]
	if !ok {
		return core.ErrNotFound
	}
	if t.RevokedAt == nil {
		now := time.Now()
		t.RevokedAt = &now
	}
	return nil
}

// ----- api keys -----

func (s *Store) CreateAPIKey(_ context.Context, k *core.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	// supersesión: expirar cualquier key viva del mismo owner en la misma
	// mutación lógica
	for _, prev := range s.apikeys {
		if prev.OwnerID == k.OwnerID && prev.Kind == k.Kind && !prev.Expired(now) {
			exp := now
			prev.ExpiresAt = &exp
		}
	}
	cp := *k
	s.apikeys[k.ID] = &cp
	s.akByHash[k.KeyHash] = k.ID
	return nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, hash string) (*core.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.akByHash[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.apikeys[id]
	return &cp, nil
}

func (s *Store) GetAPIKeyByID(_ context.Context, id string) (*core.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apikeys[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *Store) DeleteAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apikeys[id]
	if !ok {
		return core.ErrNotFound
	}
	delete(s.akByHash, k.KeyHash)
	delete(s.apikeys, id)
	return nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apikeys[id]
	if !ok {
		return core.ErrNotFound
	}
	k.RevokedAt = &at
	return nil
}

// ----- mfa authenticators -----

func (s *Store) CreateAuthenticator(_ context.Context, a *core.Authenticator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.RecoveryCodes = append([]core.RecoveryCode(nil), a.RecoveryCodes...)
	s.auths[a.ID] = &cp
	return nil
}

func (s *Store) ListAuthenticators(_ context.Context, credentialID string) ([]*core.Authenticator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Authenticator
	for _, a := range s.auths {
		if a.CredentialID == credentialID {
			cp := *a
			cp.RecoveryCodes = append([]core.RecoveryCode(nil), a.RecoveryCodes...)
			out = append(out, &cp)
		}
	}
	// recovery primero, después por fecha de alta
	sort.Slice(out, func(i, j int) bool {
		ri := out[i].Type == core.AuthenticatorRecovery
		rj := out[j].Type == core.AuthenticatorRecovery
		if ri != rj {
			return ri
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetAuthenticator(_ context.Context, id string) (*core.Authenticator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	cp.RecoveryCodes = append([]core.RecoveryCode(nil), a.RecoveryCodes...)
	return &cp, nil
}

func (s *Store) UpdateAuthenticator(_ context.Context, a *core.Authenticator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auths[a.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *a
	cp.RecoveryCodes = append([]core.RecoveryCode(nil), a.RecoveryCodes...)
	s.auths[a.ID] = &cp
	return nil
}

func (s *Store) ActivateAuthenticator(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[id]
	if !ok {
		return core.ErrNotFound
	}
	if a.Active {
		return core.ErrConflict
	}
	a.Active = true
	return nil
}

func (s *Store) DeleteAuthenticator(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auths[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.auths, id)
	return nil
}

func (s *Store) DeleteAllAuthenticators(_ context.Context, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.auths {
		if a.CredentialID == credentialID {
			delete(s.auths, id)
		}
	}
	return nil
}

func (s *Store) UseRecoveryCode(_ context.Context, credentialID, codeHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auths {
		if a.CredentialID != credentialID || a.Type != core.AuthenticatorRecovery {
			continue
		}
		for i := range a.RecoveryCodes {
			if a.RecoveryCodes[i].Hash == codeHash {
				if a.RecoveryCodes[i].Used {
					return false, nil
				}
				a.RecoveryCodes[i].Used = true
				a.LastUsedAt = &at
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) TouchAuthenticator(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[id]
	if !ok {
		return core.ErrNotFound
	}
	a.LastUsedAt = &usedAt
	return nil
}
