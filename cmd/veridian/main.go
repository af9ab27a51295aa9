package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/veridian/internal/app"
	"github.com/dropDatabas3/veridian/internal/config"
	httpx "github.com/dropDatabas3/veridian/internal/http"
	jwtx "github.com/dropDatabas3/veridian/internal/jwt"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	var cfgPath string

	root := &cobra.Command{
		Use:   "veridian",
		Short: "OAuth2/OIDC identity authorization core",
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, cleanup, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return httpx.Serve(ctx, cfg.Server.Addr, httpx.NewRouter(c))
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "Generate a fresh RSA signing key and print it with its JWKS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := jwtx.NewKeystore()
			if err != nil {
				return err
			}
			kid, priv := ks.Active()
			block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
			fmt.Printf("kid: %s\n\n", kid)
			if err := pem.Encode(os.Stdout, block); err != nil {
				return err
			}
			fmt.Printf("\njwks: %s\n", ks.JWKSJSON())
			return nil
		},
	}

	var migrateDir string
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the configured Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg.Storage.DSN, migrateDir)
		},
	}
	migrate.Flags().StringVar(&migrateDir, "dir", "migrations/postgres", "migrations directory (*.sql, applied in lexical order)")

	var seedEmail, seedPassword, seedClientName, seedRedirect string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo client and a verified user into the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runSeed(cmd.Context(), cfg, seedEmail, seedPassword, seedClientName, seedRedirect)
		},
	}
	seed.Flags().StringVar(&seedEmail, "email", "admin@example.com", "seed user email")
	seed.Flags().StringVar(&seedPassword, "password", "", "seed user password (required)")
	seed.Flags().StringVar(&seedClientName, "client", "Demo Client", "seed client name")
	seed.Flags().StringVar(&seedRedirect, "redirect-uri", "http://localhost:3000/callback", "seed client redirect URI")
	_ = seed.MarkFlagRequired("password")

	root.AddCommand(serve, keys, migrate, seed)
	if err := root.Execute(); err != nil {
		log.Fatalf("veridian: %v", err)
	}
}
