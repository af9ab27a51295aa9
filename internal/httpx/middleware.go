package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/veridian/internal/app"
	"github.com/dropDatabas3/veridian/internal/metrics"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
)

type ctxKey int

const identityKey ctxKey = 1

// Identity es el resultado de autenticar un bearer: un JWT firmado o una
// API key opaca.
type Identity struct {
	UserID   string
	ClientID string
	Scope    string
	AMR      []string
	Roles    []string
	ViaKey   bool // autenticado con API key, no con JWT
}

func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// BearerToken extrae el valor crudo del header Authorization.
func BearerToken(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) < 7 || !strings.EqualFold(ah[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(ah[7:])
}

// Authenticate resuelve la identidad del bearer: primero como JWT access
// token, después como API key. Devuelve nil si nada valida.
func Authenticate(c *app.Container, r *http.Request) *Identity {
	raw := BearerToken(r)
	if raw == "" {
		return nil
	}

	tk, err := jwtv5.Parse(raw, c.Issuer.Keyfunc(),
		jwtv5.WithValidMethods([]string{"RS256"}), jwtv5.WithIssuer(c.Issuer.Iss))
	if err == nil && tk.Valid {
		claims, ok := tk.Claims.(jwtv5.MapClaims)
		if !ok {
			return nil
		}
		id := &Identity{}
		id.UserID, _ = claims["sub"].(string)
		id.ClientID, _ = claims["aud"].(string)
		id.Scope, _ = claims["scope"].(string)
		if v, ok := claims["amr"].([]any); ok {
			for _, i := range v {
				if s, ok := i.(string); ok {
					id.AMR = append(id.AMR, s)
				}
			}
		}
		if v, ok := claims["roles"].([]any); ok {
			for _, i := range v {
				if s, ok := i.(string); ok {
					id.Roles = append(id.Roles, s)
				}
			}
		}
		return id
	}

	// fallback: API key opaca
	k, err := c.Store.GetAPIKeyByHash(r.Context(), tokens.SHA256Base64URL(raw))
	if err != nil || k.Expired(time.Now()) {
		return nil
	}
	id := &Identity{UserID: k.OwnerID, ViaKey: true}
	if u, err := c.Store.GetUserByID(r.Context(), k.OwnerID); err == nil {
		id.Roles = u.Roles
	}
	return id
}

// RequireAuth exige bearer válido (JWT o API key) y deja la identidad en el
// contexto.
func RequireAuth(c *app.Container) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Authenticate(c, r)
			if id == nil {
				WriteError(w, http.StatusUnauthorized, "unauthenticated", "valid bearer required", 1001)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

// RequireRole exige un rol en la identidad ya autenticada.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id == nil {
				WriteError(w, http.StatusUnauthorized, "unauthenticated", "valid bearer required", 1001)
				return
			}
			if !id.HasRole(role) {
				WriteError(w, http.StatusForbidden, "forbidden", "missing role: "+role, 1002)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics cuenta requests por ruta y status.
func Metrics(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
