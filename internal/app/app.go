package app

import (
	"time"

	"github.com/dropDatabas3/veridian/internal/cache"
	jwtx "github.com/dropDatabas3/veridian/internal/jwt"
	"github.com/dropDatabas3/veridian/internal/mfa"
	"github.com/dropDatabas3/veridian/internal/notify"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

// Container es el contenedor DI simple que usamos en los handlers.
type Container struct {
	Store  core.Repository
	Issuer *jwtx.Issuer
	Cache  cache.Cache
	Sender notify.Sender
	MFA    *mfa.Engine

	// Knobs de protocolo (ver config).
	RefreshTTL time.Duration
	CodeTTL    time.Duration
	MFATTL     time.Duration
	ResetTTL   time.Duration
	OOBTTL     time.Duration

	LockoutMax    int
	LockoutWindow time.Duration

	TOTPIssuer string
	TOTPWindow int
}
