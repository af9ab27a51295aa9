package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/veridian/internal/app"
	"github.com/dropDatabas3/veridian/internal/config"
	"github.com/dropDatabas3/veridian/internal/security/password"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

// runMigrations aplica los *.sql del directorio en orden lexical. Sin
// down-migrations: el esquema solo avanza.
func runMigrations(ctx context.Context, dsn, dir string) error {
	if dsn == "" {
		return fmt.Errorf("storage.dsn is empty; migrate needs postgres")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		log.Println("no .sql migrations found, nothing to do")
		return nil
	}
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		log.Printf("applying %s", f)
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("exec %s: %w", f, err)
		}
	}
	log.Printf("applied %d migration(s)", len(files))
	return nil
}

// runSeed crea un cliente OAuth2 y un usuario ya verificado contra el store
// configurado. Idempotencia simple: si el email ya existe se reutiliza.
func runSeed(ctx context.Context, cfg *config.Config, email, pwd, clientName, redirectURI string) error {
	c, cleanup, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	secret, err := tokens.GenerateOpaque(32)
	if err != nil {
		return err
	}
	secretHash, err := password.Hash(secret)
	if err != nil {
		return err
	}
	cl := &core.Client{
		ID:          uuid.NewString(),
		Name:        clientName,
		RedirectURI: &redirectURI,
		SecretHash:  secretHash,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.Store.CreateClient(ctx, cl); err != nil {
		return fmt.Errorf("seed client: %w", err)
	}
	log.Printf("client %q created: id=%s secret=%s (shown once)", clientName, cl.ID, secret)

	email = strings.ToLower(strings.TrimSpace(email))
	if u, err := c.Store.GetUserByEmail(ctx, email); err == nil {
		log.Printf("user %s already exists (id=%s), skipping", email, u.ID)
		return nil
	}
	hash, err := password.Hash(pwd)
	if err != nil {
		return err
	}
	u := &core.User{
		ID:            uuid.NewString(),
		Email:         email,
		EmailVerified: true,
		Roles:         []string{"operator"},
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.Store.CreateUser(ctx, u, hash); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	log.Printf("user %s created: id=%s (role operator)", email, u.ID)
	return nil
}
