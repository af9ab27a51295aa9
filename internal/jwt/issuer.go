package jwt

import (
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/veridian/internal/store/core"
)

// Issuer firma Access e ID Tokens RS256 con la clave activa del keystore.
type Issuer struct {
	Iss       string
	Keys      *Keystore
	AccessTTL time.Duration
}

func NewIssuer(iss string, ks *Keystore) *Issuer {
	return &Issuer{Iss: iss, Keys: ks, AccessTTL: 15 * time.Minute}
}

// Keyfunc resuelve la pubkey por 'kid' del header (active o retiradas).
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			kid, _ = i.Keys.Active()
		}
		return i.Keys.PublicKeyByKID(kid)
	}
}

func (i *Issuer) sign(claims jwtv5.MapClaims) (string, error) {
	kid, priv := i.Keys.Active()
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	return tk.SignedString(priv)
}

// IssueAccess emite un Access Token con scope, amr y roles.
func (i *Issuer) IssueAccess(sub, aud, scope string, amr, roles []string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.AccessTTL)
	claims := jwtv5.MapClaims{
		"iss":   i.Iss,
		"sub":   sub,
		"aud":   aud,
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   exp.Unix(),
		"scope": scope,
	}
	if len(amr) > 0 {
		claims["amr"] = amr
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	signed, err := i.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueIDToken emite el ID Token OIDC. Los claims de perfil van gateados por
// scope con las mismas reglas que userinfo.
func (i *Issuer) IssueIDToken(u *core.User, aud, scope, nonce string) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": u.ID,
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(i.AccessTTL).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for k, v := range ScopedClaims(u, scope) {
		claims[k] = v
	}
	return i.sign(claims)
}

// ScopedClaims devuelve los claims de perfil autorizados por el scope
// concedido. Lo no autorizado se omite, nunca se defaultea.
func ScopedClaims(u *core.User, scope string) map[string]any {
	has := func(want string) bool {
		for _, s := range strings.Fields(scope) {
			if strings.EqualFold(s, want) {
				return true
			}
		}
		return false
	}
	out := map[string]any{}
	if has("email") {
		out["email"] = u.Email
		out["email_verified"] = u.EmailVerified
	}
	if has("profile") {
		if u.Name != "" {
			out["name"] = u.Name
		}
		if u.GivenName != "" {
			out["given_name"] = u.GivenName
		}
		if u.FamilyName != "" {
			out["family_name"] = u.FamilyName
		}
		if u.Picture != "" {
			out["picture"] = u.Picture
		}
		if u.Zoneinfo != "" {
			out["zoneinfo"] = u.Zoneinfo
		}
	}
	if has("phone") {
		if u.PhoneNumber != "" {
			out["phone_number"] = u.PhoneNumber
			out["phone_number_verified"] = u.PhoneVerified
		}
	}
	if has("address") {
		if u.Address != nil {
			out["address"] = u.Address
		}
	}
	return out
}
