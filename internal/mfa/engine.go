// Package mfa implementa la máquina de estados de autenticadores:
// pending (asociado sin confirmar) -> active (confirmado) -> borrado.
// Los recovery codes no se asocian por el caller: nacen activos junto al
// primer autenticador confirmado y se listan siempre primero.
package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/veridian/internal/cache"
	"github.com/dropDatabas3/veridian/internal/notify"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/security/totp"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

var (
	// ErrMethodNotAllowed: asociación en conflicto con el pending slot.
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrInvalidCode      = errors.New("invalid code")
	ErrValidation       = errors.New("validation")
	ErrNotFound         = core.ErrNotFound
)

const recoveryCodeCount = 10

type Engine struct {
	Store      core.Repository
	Cache      cache.Cache
	Sender     notify.Sender
	TOTPIssuer string
	TOTPWindow int
	OOBTTL     time.Duration
}

// AssociateResult es la respuesta de Associate. RecoveryCodes viene poblado
// solo en la primera enrolación (se muestran una única vez).
type AssociateResult struct {
	Authenticator   *core.Authenticator
	ProvisioningURI string
	OOBCode         string
	RecoveryCodes   []string
}

type oobChallenge struct {
	AuthenticatorID string    `json:"authenticator_id"`
	Code            string    `json:"code"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func oobKey(oobCode string) string { return "mfa:oob:" + oobCode }

// Associate crea o refresca un autenticador pending del tipo dado.
// viaContinuance distingue la sesión de primer factor (MfaToken): ahí el
// pending slot puede reemplazarse; con sesión completa un pending de otro
// tipo bloquea la asociación con method_not_allowed.
func (e *Engine) Associate(ctx context.Context, user *core.User, typ core.AuthenticatorType, phoneNumber string, viaContinuance bool) (*AssociateResult, error) {
	if typ == core.AuthenticatorRecovery {
		return nil, ErrMethodNotAllowed
	}

	list, err := e.Store.ListAuthenticators(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	firstEver := true
	var pending *core.Authenticator      // inactivo del tipo pedido: se supersede
	var otherPending *core.Authenticator // inactivo de otro tipo: solo importa para el guard
	anyActive := false
	for _, a := range list {
		if a.Type == core.AuthenticatorRecovery {
			firstEver = false
			continue
		}
		if a.Active {
			anyActive = true
			firstEver = false
			continue
		}
		if a.Type == typ {
			pending = a
		} else {
			otherPending = a
		}
	}

	// guard del pending slot (solo rige mientras no hay nada activo)
	if pending == nil && otherPending != nil && !anyActive {
		if !viaContinuance {
			return nil, ErrMethodNotAllowed
		}
		// continuance: el slot se reemplaza
		if err := e.Store.DeleteAuthenticator(ctx, otherPending.ID); err != nil {
			return nil, err
		}
	}

	res := &AssociateResult{}

	a := pending
	if a == nil {
		a = &core.Authenticator{
			ID:           uuid.NewString(),
			CredentialID: user.ID,
			Type:         typ,
			CreatedAt:    time.Now().UTC(),
		}
	}

	switch typ {
	case core.AuthenticatorTOTP:
		_, b32, err := totp.GenerateSecret()
		if err != nil {
			return nil, err
		}
		a.SecretB32 = b32
		a.Destination = ""
		res.ProvisioningURI = totp.ProvisioningURL(e.TOTPIssuer, user.Email, b32)

	case core.AuthenticatorOOBSMS, core.AuthenticatorOOBEmail:
		dest := phoneNumber
		ch := notify.ChannelSMS
		if typ == core.AuthenticatorOOBEmail {
			dest = user.Email
			ch = notify.ChannelEmail
		}
		if strings.TrimSpace(dest) == "" {
			return nil, ErrValidation
		}
		a.SecretB32 = ""
		a.Destination = dest
		oob, err := e.dispatchOOB(ctx, a.ID, dest, ch)
		if err != nil {
			return nil, err
		}
		res.OOBCode = oob

	default:
		return nil, ErrValidation
	}

	// primera enrolación: generar recovery codes y dejarlos colgando del
	// pending hasta que confirm los promueva a su propio autenticador
	if firstEver {
		plain, err := tokens.GenerateRecoveryCodes(recoveryCodeCount)
		if err != nil {
			return nil, err
		}
		a.RecoveryCodes = a.RecoveryCodes[:0]
		for _, c := range plain {
			a.RecoveryCodes = append(a.RecoveryCodes, core.RecoveryCode{Hash: tokens.SHA256Base64URL(c)})
		}
		res.RecoveryCodes = plain
	}

	if pending != nil {
		err = e.Store.UpdateAuthenticator(ctx, a)
	} else {
		err = e.Store.CreateAuthenticator(ctx, a)
	}
	if err != nil {
		return nil, err
	}
	res.Authenticator = a
	return res, nil
}

func (e *Engine) dispatchOOB(ctx context.Context, authenticatorID, dest string, ch notify.Channel) (string, error) {
	code, err := tokens.GenerateNumericCode(6)
	if err != nil {
		return "", err
	}
	oob, err := tokens.GenerateOpaque(24)
	if err != nil {
		return "", err
	}
	payload, _ := json.Marshal(oobChallenge{
		AuthenticatorID: authenticatorID,
		Code:            code,
		ExpiresAt:       time.Now().Add(e.OOBTTL),
	})
	e.Cache.Set(ctx, oobKey(oob), payload, e.OOBTTL)
	_ = e.Sender.Send(ctx, dest, code, ch) // best-effort
	return oob, nil
}

// checkOOB valida y consume el challenge OOB correlado por oobCode.
func (e *Engine) checkOOB(ctx context.Context, oobCode, confirmationCode string) (authenticatorID string, err error) {
	if oobCode == "" {
		return "", ErrValidation
	}
	b, ok := e.Cache.Get(ctx, oobKey(oobCode))
	if !ok {
		return "", ErrInvalidCode
	}
	var ch oobChallenge
	if err := json.Unmarshal(b, &ch); err != nil {
		return "", ErrInvalidCode
	}
	if time.Now().After(ch.ExpiresAt) || ch.Code != strings.TrimSpace(confirmationCode) {
		return "", ErrInvalidCode
	}
	e.Cache.Delete(ctx, oobKey(oobCode))
	return ch.AuthenticatorID, nil
}

func (e *Engine) checkTOTP(ctx context.Context, a *core.Authenticator, code string) error {
	raw, err := totp.DecodeSecret(a.SecretB32)
	if err != nil {
		return ErrInvalidCode
	}
	var last *int64
	if a.LastUsedAt != nil {
		c := a.LastUsedAt.Unix() / totp.Period
		last = &c
	}
	ok, counter := totp.Verify(raw, code, time.Now(), e.TOTPWindow, last)
	if !ok {
		return ErrInvalidCode
	}
	_ = e.Store.TouchAuthenticator(ctx, a.ID, time.Unix(counter*totp.Period, 0).UTC())
	return nil
}

// ConfirmResult reporta la transición. FirstConfirm indica que este fue el
// primer autenticador confirmado del credential (el caller emite tokens si
// venía por continuance).
type ConfirmResult struct {
	Authenticator *core.Authenticator
	FirstConfirm  bool
}

// Confirm valida el confirmation code y hace pending -> active. En el primer
// confirm crea el autenticador de recovery codes (activo) y marca
// mfa_enabled. Un confirm fallido no activa nada.
func (e *Engine) Confirm(ctx context.Context, credentialID string, typ core.AuthenticatorType, oobCode, confirmationCode string) (*ConfirmResult, error) {
	list, err := e.Store.ListAuthenticators(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	var target *core.Authenticator
	hadActive := false
	for _, a := range list {
		if a.Type == core.AuthenticatorRecovery {
			continue
		}
		if a.Active {
			hadActive = true
		}
		if a.Type == typ && !a.Active {
			target = a
		}
	}
	if target == nil {
		return nil, ErrNotFound
	}

	switch typ {
	case core.AuthenticatorTOTP:
		if err := e.checkTOTP(ctx, target, confirmationCode); err != nil {
			return nil, err
		}
	case core.AuthenticatorOOBSMS, core.AuthenticatorOOBEmail:
		id, err := e.checkOOB(ctx, oobCode, confirmationCode)
		if err != nil {
			return nil, err
		}
		if id != target.ID {
			return nil, ErrInvalidCode
		}
	default:
		return nil, ErrValidation
	}

	if err := e.Store.ActivateAuthenticator(ctx, target.ID); err != nil {
		return nil, err
	}
	target.Active = true

	first := !hadActive
	if first {
		if len(target.RecoveryCodes) > 0 {
			rec := &core.Authenticator{
				ID:            uuid.NewString(),
				CredentialID:  credentialID,
				Type:          core.AuthenticatorRecovery,
				Active:        true,
				RecoveryCodes: target.RecoveryCodes,
				CreatedAt:     time.Now().UTC(),
			}
			if err := e.Store.CreateAuthenticator(ctx, rec); err != nil {
				return nil, err
			}
		}
		if err := e.Store.SetMFAEnabled(ctx, credentialID, true); err != nil {
			return nil, err
		}
	}
	return &ConfirmResult{Authenticator: target, FirstConfirm: first}, nil
}

// Challenge emite un challenge para un autenticador activo. TOTP no lleva
// OOB code (el usuario computa el código localmente); OOB despacha un código
// nuevo por el notificador.
type ChallengeResult struct {
	ChallengeType string // "otp" | "oob"
	OOBCode       string
}

func (e *Engine) Challenge(ctx context.Context, credentialID, authenticatorID string) (*ChallengeResult, error) {
	a, err := e.Store.GetAuthenticator(ctx, authenticatorID)
	if err != nil {
		return nil, err
	}
	if a.CredentialID != credentialID || !a.Active {
		return nil, ErrNotFound
	}
	switch a.Type {
	case core.AuthenticatorTOTP:
		return &ChallengeResult{ChallengeType: "otp"}, nil
	case core.AuthenticatorOOBSMS, core.AuthenticatorOOBEmail:
		ch := notify.ChannelSMS
		if a.Type == core.AuthenticatorOOBEmail {
			ch = notify.ChannelEmail
		}
		oob, err := e.dispatchOOB(ctx, a.ID, a.Destination, ch)
		if err != nil {
			return nil, err
		}
		return &ChallengeResult{ChallengeType: "oob", OOBCode: oob}, nil
	default:
		return nil, ErrValidation
	}
}

// Verify autentica el segundo factor contra un autenticador activo.
// Recovery consume un código (single-use); reusar falla.
func (e *Engine) Verify(ctx context.Context, credentialID string, typ core.AuthenticatorType, oobCode, code string) error {
	switch typ {
	case core.AuthenticatorRecovery:
		ok, err := e.Store.UseRecoveryCode(ctx, credentialID, tokens.SHA256Base64URL(strings.TrimSpace(code)), time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCode
		}
		return nil

	case core.AuthenticatorTOTP:
		a, err := e.activeByType(ctx, credentialID, typ)
		if err != nil {
			return err
		}
		return e.checkTOTP(ctx, a, code)

	case core.AuthenticatorOOBSMS, core.AuthenticatorOOBEmail:
		a, err := e.activeByType(ctx, credentialID, typ)
		if err != nil {
			return err
		}
		id, err := e.checkOOB(ctx, oobCode, code)
		if err != nil {
			return err
		}
		if id != a.ID {
			return ErrInvalidCode
		}
		_ = e.Store.TouchAuthenticator(ctx, a.ID, time.Now().UTC())
		return nil

	default:
		return ErrValidation
	}
}

func (e *Engine) activeByType(ctx context.Context, credentialID string, typ core.AuthenticatorType) (*core.Authenticator, error) {
	list, err := e.Store.ListAuthenticators(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.Type == typ && a.Active {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// Disassociate borra un autenticador. Si era el último no-recovery activo,
// borra también los recovery codes (no sirven sin otro factor).
func (e *Engine) Disassociate(ctx context.Context, credentialID, authenticatorID string) error {
	a, err := e.Store.GetAuthenticator(ctx, authenticatorID)
	if err != nil {
		return err
	}
	if a.CredentialID != credentialID {
		return ErrNotFound
	}
	if err := e.Store.DeleteAuthenticator(ctx, authenticatorID); err != nil {
		return err
	}
	list, err := e.Store.ListAuthenticators(ctx, credentialID)
	if err != nil {
		return err
	}
	remaining := 0
	var recovery *core.Authenticator
	for _, x := range list {
		if x.Type == core.AuthenticatorRecovery {
			recovery = x
			continue
		}
		if x.Active {
			remaining++
		}
	}
	if remaining == 0 {
		if recovery != nil {
			_ = e.Store.DeleteAuthenticator(ctx, recovery.ID)
		}
		_ = e.Store.SetMFAEnabled(ctx, credentialID, false)
	}
	return nil
}

// Disable borra todos los autenticadores y apaga mfa_enabled. Re-habilitar
// arranca de cero. También es la semántica del reset de operador.
func (e *Engine) Disable(ctx context.Context, credentialID string) error {
	if err := e.Store.DeleteAllAuthenticators(ctx, credentialID); err != nil {
		return err
	}
	return e.Store.SetMFAEnabled(ctx, credentialID, false)
}
