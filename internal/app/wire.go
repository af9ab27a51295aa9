package app

import (
	"context"
	"fmt"
	"log"

	"github.com/dropDatabas3/veridian/internal/cache"
	"github.com/dropDatabas3/veridian/internal/config"
	jwtx "github.com/dropDatabas3/veridian/internal/jwt"
	"github.com/dropDatabas3/veridian/internal/metrics"
	"github.com/dropDatabas3/veridian/internal/mfa"
	"github.com/dropDatabas3/veridian/internal/notify"
	"github.com/dropDatabas3/veridian/internal/store/memory"
	"github.com/dropDatabas3/veridian/internal/store/pg"
)

// Build arma el Container desde config: store, cache, keystore, issuer,
// notificador y engine MFA. Devuelve también un cleanup para recursos con
// conexión.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	var (
		c       = &Container{}
		cleanup = func() {}
	)

	switch cfg.Storage.Driver {
	case "", "memory":
		c.Store = memory.New()
	case "postgres":
		st, err := pg.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		c.Store = st
		cleanup = st.Close
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	c.Cache = cache.New(cache.Config{
		Kind:   cfg.Cache.Kind,
		Addr:   cfg.Cache.Redis.Addr,
		DB:     cfg.Cache.Redis.DB,
		Prefix: cfg.Cache.Redis.Prefix,
	})

	ks, err := jwtx.NewKeystore()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("keystore: %w", err)
	}
	c.Issuer = jwtx.NewIssuer(cfg.Issuer, ks)
	c.Issuer.AccessTTL = cfg.Tokens.AccessTTL.Std()

	if cfg.SMTP.Host != "" {
		c.Sender = notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
	} else {
		log.Println("smtp not configured, using in-process recorder sender")
		c.Sender = notify.NewRecorder()
	}

	c.RefreshTTL = cfg.Tokens.RefreshTTL.Std()
	c.CodeTTL = cfg.Tokens.CodeTTL.Std()
	c.MFATTL = cfg.Tokens.MFATTL.Std()
	c.ResetTTL = cfg.Tokens.ResetTTL.Std()
	c.OOBTTL = cfg.Tokens.OOBTTL.Std()
	c.LockoutMax = cfg.Lockout.MaxAttempts
	c.LockoutWindow = cfg.Lockout.Window.Std()
	c.TOTPIssuer = cfg.MFA.TOTPIssuer
	c.TOTPWindow = cfg.MFA.TOTPWindow

	c.MFA = &mfa.Engine{
		Store:      c.Store,
		Cache:      c.Cache,
		Sender:     c.Sender,
		TOTPIssuer: c.TOTPIssuer,
		TOTPWindow: c.TOTPWindow,
		OOBTTL:     c.OOBTTL,
	}

	if err := metrics.Register(nil); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	return c, cleanup, nil
}
