package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	"github.com/dropDatabas3/veridian/internal/security/password"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

type clientRequest struct {
	Name          string  `json:"name"`
	RedirectURI   *string `json:"redirect_uri"`
	SecretExpires *int64  `json:"secret_expires_in"` // segundos, opcional
}

type clientResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	RedirectURI     *string    `json:"redirect_uri,omitempty"`
	Secret          string     `json:"secret,omitempty"` // solo al crear/regenerar
	SecretExpiresAt *time.Time `json:"secret_expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toClientResponse(cl *core.Client, secret string) clientResponse {
	return clientResponse{
		ID:              cl.ID,
		Name:            cl.Name,
		RedirectURI:     cl.RedirectURI,
		Secret:          secret,
		SecretExpiresAt: cl.SecretExpiresAt,
		CreatedAt:       cl.CreatedAt,
	}
}

// NewClientCreateHandler implementa POST /v1/clients. El secret se devuelve
// una sola vez; solo el hash persiste.
func NewClientCreateHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clientRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "name required", 2401)
			return
		}

		secret, err := tokens.GenerateOpaque(32)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "secret_gen_failed", "could not generate secret", 2402)
			return
		}
		hash, err := password.Hash(secret)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "secret_gen_failed", "could not hash secret", 2402)
			return
		}

		cl := &core.Client{
			ID:          uuid.NewString(),
			Name:        strings.TrimSpace(req.Name),
			RedirectURI: req.RedirectURI,
			SecretHash:  hash,
			CreatedAt:   time.Now().UTC(),
		}
		if req.SecretExpires != nil {
			exp := time.Now().Add(time.Duration(*req.SecretExpires) * time.Second).UTC()
			cl.SecretExpiresAt = &exp
		}
		if err := c.Store.CreateClient(r.Context(), cl); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not persist client", 2403)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, toClientResponse(cl, secret))
	}
}

// NewClientGetHandler implementa GET /v1/clients/{id}.
func NewClientGetHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cl, err := c.Store.GetClient(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown client", 2404)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toClientResponse(cl, ""))
	}
}

// NewClientUpdateHandler implementa PUT /v1/clients/{id}: name y
// redirect_uri; el secret solo cambia por regeneración.
func NewClientUpdateHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clientRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		cl, err := c.Store.GetClient(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown client", 2404)
			return
		}
		if strings.TrimSpace(req.Name) != "" {
			cl.Name = strings.TrimSpace(req.Name)
		}
		if req.RedirectURI != nil {
			cl.RedirectURI = req.RedirectURI
		}
		if err := c.Store.UpdateClient(r.Context(), cl); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not update client", 2405)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toClientResponse(cl, ""))
	}
}

// NewClientDeleteHandler implementa DELETE /v1/clients/{id}. Cascadea los
// consents del cliente.
func NewClientDeleteHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Store.DeleteClient(r.Context(), chi.URLParam(r, "id")); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown client", 2404)
				return
			}
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not delete client", 2406)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewClientSecretHandler implementa POST /v1/clients/{id}/secret: regenera
// el secret invalidando el anterior de inmediato, sin período de gracia.
func NewClientSecretHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cl, err := c.Store.GetClient(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown client", 2404)
			return
		}

		secret, err := tokens.GenerateOpaque(32)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "secret_gen_failed", "could not generate secret", 2402)
			return
		}
		hash, err := password.Hash(secret)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "secret_gen_failed", "could not hash secret", 2402)
			return
		}
		if err := c.Store.SetClientSecret(r.Context(), cl.ID, hash, nil); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not rotate secret", 2407)
			return
		}
		cl.SecretExpiresAt = nil
		httpx.WriteJSON(w, http.StatusOK, toClientResponse(cl, secret))
	}
}
