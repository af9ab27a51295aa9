package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/veridian/internal/app"
	"github.com/dropDatabas3/veridian/internal/http/handlers"
	"github.com/dropDatabas3/veridian/internal/httpx"
)

// NewRouter arma el árbol de rutas completo. Los endpoints MFA de
// list/associate/confirm/challenge/verify resuelven identidad por su cuenta
// (aceptan MfaToken de continuance además del bearer pleno), por eso no
// pasan por RequireAuth.
func NewRouter(c *app.Container) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.With(httpx.Metrics("discovery")).Get("/.well-known/openid-configuration", handlers.NewDiscoveryHandler(c))
	r.With(httpx.Metrics("jwks")).Get("/.well-known/jwks.json", handlers.NewJWKSHandler(c))

	r.Route("/oauth2", func(r chi.Router) {
		authorize := handlers.NewOAuthAuthorizeHandler(c)
		r.With(httpx.Metrics("authorize")).Get("/authorize", authorize)
		r.With(httpx.Metrics("authorize")).Post("/authorize", authorize)
		r.With(httpx.Metrics("token")).Post("/token", handlers.NewOAuthTokenHandler(c))
		r.With(httpx.Metrics("userinfo"), httpx.RequireAuth(c)).Get("/userinfo", handlers.NewUserInfoHandler(c))
	})

	r.Route("/v1/clients", func(r chi.Router) {
		r.With(httpx.Metrics("clients")).Post("/", handlers.NewClientCreateHandler(c))
		r.Route("/{id}", func(r chi.Router) {
			r.With(httpx.Metrics("clients")).Get("/", handlers.NewClientGetHandler(c))
			r.With(httpx.Metrics("clients")).Put("/", handlers.NewClientUpdateHandler(c))
			r.With(httpx.Metrics("clients")).Delete("/", handlers.NewClientDeleteHandler(c))
			r.With(httpx.Metrics("clients")).Post("/secret", handlers.NewClientSecretHandler(c))
			r.With(httpx.Metrics("consent")).Post("/consent", handlers.NewConsentUpsertHandler(c))
			r.With(httpx.Metrics("consent")).Get("/consent", handlers.NewConsentGetHandler(c))
		})
	})

	r.Route("/v1/credentials", func(r chi.Router) {
		r.With(httpx.Metrics("credentials")).Post("/register", handlers.NewRegisterHandler(c))
		r.With(httpx.Metrics("credentials")).Post("/confirm", handlers.NewConfirmRegistrationHandler(c))
		r.With(httpx.Metrics("credentials")).Post("/authenticate", handlers.NewAuthenticateHandler(c))
		r.With(httpx.Metrics("credentials")).Post("/forgot", handlers.NewForgotPasswordHandler(c))
		r.With(httpx.Metrics("credentials")).Post("/reset", handlers.NewResetPasswordHandler(c))
		r.With(httpx.Metrics("credentials")).Post("/machine", handlers.NewMachineCredentialHandler(c))
	})

	r.Route("/v1/apikeys", func(r chi.Router) {
		r.With(httpx.Metrics("apikeys")).Post("/", handlers.NewAPIKeyCreateHandler(c))
		r.With(httpx.Metrics("apikeys"), httpx.RequireAuth(c)).Delete("/{id}", handlers.NewAPIKeyDeleteHandler(c))
		r.With(httpx.Metrics("apikeys"), httpx.RequireAuth(c), httpx.RequireRole("operator")).Post("/{id}/revoke", handlers.NewAPIKeyRevokeHandler(c))
	})

	r.Route("/v1/mfa", func(r chi.Router) {
		r.With(httpx.Metrics("mfa")).Get("/authenticators", handlers.NewMFAListHandler(c))
		r.With(httpx.Metrics("mfa")).Post("/associate", handlers.NewMFAAssociateHandler(c))
		r.With(httpx.Metrics("mfa")).Post("/confirm", handlers.NewMFAConfirmHandler(c))
		r.With(httpx.Metrics("mfa")).Post("/challenge", handlers.NewMFAChallengeHandler(c))
		r.With(httpx.Metrics("mfa")).Post("/verify", handlers.NewMFAVerifyHandler(c))
		r.With(httpx.Metrics("mfa"), httpx.RequireAuth(c)).Delete("/authenticators/{id}", handlers.NewMFADisassociateHandler(c))
		r.With(httpx.Metrics("mfa"), httpx.RequireAuth(c)).Post("/disable", handlers.NewMFADisableHandler(c))
		r.With(httpx.Metrics("mfa"), httpx.RequireAuth(c), httpx.RequireRole("operator")).Post("/reset/{user_id}", handlers.NewMFAResetHandler(c))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
