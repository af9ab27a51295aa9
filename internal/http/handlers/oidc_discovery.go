package handlers

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
)

// NewDiscoveryHandler sirve GET /.well-known/openid-configuration.
// Documento estático de capacidades: response_type=code, RS256, PKCE
// plain+S256.
func NewDiscoveryHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iss := strings.TrimRight(c.Issuer.Iss, "/")
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"issuer":                                iss,
			"authorization_endpoint":                iss + "/oauth2/authorize",
			"token_endpoint":                        iss + "/oauth2/token",
			"userinfo_endpoint":                     iss + "/oauth2/userinfo",
			"jwks_uri":                              iss + "/.well-known/jwks.json",
			"response_types_supported":              []string{"code"},
			"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
			"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
			"code_challenge_methods_supported":      []string{"plain", "S256"},
			"scopes_supported":                      []string{"openid", "profile", "email", "phone", "address"},
			"claims_supported": []string{
				"sub", "email", "email_verified", "name", "given_name",
				"family_name", "picture", "zoneinfo", "phone_number",
				"phone_number_verified", "address", "nonce",
			},
		})
	}
}
