package handlers

import (
	"net/http"

	"github.com/dropDatabas3/veridian/internal/app"
)

// NewJWKSHandler sirve GET /.well-known/jwks.json: todas las claves del
// keystore (activa + retiradas), nunca material privado.
func NewJWKSHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(c.Issuer.Keys.JWKSJSON())
	}
}
