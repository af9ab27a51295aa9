package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

type apiKeyRequest struct {
	ExpiresIn *int64 `json:"expires_in"` // segundos, opcional
}

type apiKeyResponse struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Kind      string     `json:"kind"`
	Key       string     `json:"key"` // solo al crear
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// createKey cubre API keys y machine credentials: mismo lifecycle, distinto
// kind. Siempre funciona, incluso anónimo (owner = usuario anónimo del
// sistema); crear supersede la key viva previa del mismo owner.
func createKey(c *app.Container, kind core.APIKeyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apiKeyRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		owner := core.AnonymousUserID
		if id := httpx.Authenticate(c, r); id != nil {
			owner = id.UserID
		}

		raw, err := tokens.GenerateOpaque(32)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "key_gen_failed", "could not generate key", 2601)
			return
		}
		k := &core.APIKey{
			ID:        uuid.NewString(),
			OwnerID:   owner,
			Kind:      kind,
			KeyHash:   tokens.SHA256Base64URL(raw),
			CreatedAt: time.Now().UTC(),
		}
		if req.ExpiresIn != nil {
			exp := time.Now().Add(time.Duration(*req.ExpiresIn) * time.Second).UTC()
			k.ExpiresAt = &exp
		}
		if err := c.Store.CreateAPIKey(r.Context(), k); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not persist key", 2602)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, apiKeyResponse{
			ID:        k.ID,
			OwnerID:   k.OwnerID,
			Kind:      string(k.Kind),
			Key:       raw,
			ExpiresAt: k.ExpiresAt,
			CreatedAt: k.CreatedAt,
		})
	}
}

// NewAPIKeyCreateHandler implementa POST /v1/apikeys.
func NewAPIKeyCreateHandler(c *app.Container) http.HandlerFunc {
	return createKey(c, core.KindAPIKey)
}

// NewMachineCredentialHandler implementa POST /v1/credentials/machine.
func NewMachineCredentialHandler(c *app.Container) http.HandlerFunc {
	return createKey(c, core.KindMachine)
}

// NewAPIKeyDeleteHandler implementa DELETE /v1/apikeys/{id}: solo el owner
// borra su key. Autenticar con ella después devuelve 401.
func NewAPIKeyDeleteHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := httpx.IdentityFrom(r.Context())
		k, err := c.Store.GetAPIKeyByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown key", 2603)
				return
			}
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not load key", 2604)
			return
		}
		if id == nil || id.UserID != k.OwnerID {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "not the key owner", 2605)
			return
		}
		if err := c.Store.DeleteAPIKey(r.Context(), k.ID); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not delete key", 2606)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewAPIKeyRevokeHandler implementa POST /v1/apikeys/{id}/revoke: rol
// operator (el router lo exige), cualquier owner.
func NewAPIKeyRevokeHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Store.RevokeAPIKey(r.Context(), chi.URLParam(r, "id"), time.Now().UTC()); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown key", 2603)
				return
			}
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not revoke key", 2607)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
