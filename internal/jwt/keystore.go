package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// SigningKey es una clave RSA con su KID. La activa firma; las retiradas
// quedan solo para verificar tokens emitidos antes de la rotación.
type SigningKey struct {
	KID  string
	Priv *rsa.PrivateKey
}

// Keystore mantiene la clave activa más el historial. Inmutable tras el
// arranque salvo por Rotate, que es una operación explícita.
type Keystore struct {
	mu     sync.RWMutex
	active *SigningKey
	all    []*SigningKey // incluye la activa
}

var ErrKIDNotFound = errors.New("kid not found")

// NewKeystore genera una clave RSA-2048 inicial.
func NewKeystore() (*Keystore, error) {
	k, err := generate()
	if err != nil {
		return nil, err
	}
	return &Keystore{active: k, all: []*SigningKey{k}}, nil
}

func generate() (*SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &SigningKey{KID: uuid.NewString(), Priv: priv}, nil
}

// Active devuelve kid y clave privada activa.
func (ks *Keystore) Active() (string, *rsa.PrivateKey) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.active.KID, ks.active.Priv
}

// PublicKeyByKID busca en activa + retiradas.
func (ks *Keystore) PublicKeyByKID(kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	for _, k := range ks.all {
		if k.KID == kid {
			return &k.Priv.PublicKey, nil
		}
	}
	return nil, ErrKIDNotFound
}

// Rotate genera una clave nueva y la hace activa; la anterior queda en el
// set para verificación. Devuelve el KID nuevo.
func (ks *Keystore) Rotate() (string, error) {
	k, err := generate()
	if err != nil {
		return "", err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.active = k
	ks.all = append(ks.all, k)
	return k.KID, nil
}

// ----- JWKS (RFC 7517, solo material público) -----

type jwk struct {
	Kty string `json:"kty"` // "RSA"
	Use string `json:"use"` // "sig"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "RS256"
	N   string `json:"n"`   // base64url(modulus)
	E   string `json:"e"`   // base64url(exponent)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSJSON serializa todas las claves (activa + retiradas), nunca la parte
// privada.
func (ks *Keystore) JWKSJSON() []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	set := jwks{Keys: make([]jwk, 0, len(ks.all))}
	for _, k := range ks.all {
		pub := k.Priv.PublicKey
		set.Keys = append(set.Keys, jwk{
			Kty: "RSA",
			Use: "sig",
			Kid: k.KID,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	b, _ := json.Marshal(set)
	return b
}
