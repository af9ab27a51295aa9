package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
)

// GenerateOpaque genera un token opaco aleatorio (base64url sin padding).
// Se usa para refresh tokens, authorization codes, API keys, MFA tokens y
// reset tokens: todos single-purpose, guardados solo como hash.
func GenerateOpaque(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (para DB).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateRecoveryCodes genera n códigos de 10 chars base32 (legibles,
// se muestran una sola vez).
func GenerateRecoveryCodes(n int) ([]string, error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		raw := make([]byte, 7)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		code := enc.EncodeToString(raw)
		if len(code) > 10 {
			code = code[:10]
		}
		out = append(out, code)
	}
	return out, nil
}

// GenerateNumericCode genera un código OOB de n dígitos.
func GenerateNumericCode(n int) (string, error) {
	const digits = "0123456789"
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	for i := range raw {
		raw[i] = digits[int(raw[i])%10]
	}
	return string(raw), nil
}
