package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

type consentRequest struct {
	UserID  string `json:"user_id"`
	Scope   string `json:"scope"`
	Granted bool   `json:"granted"`
}

// NewConsentUpsertHandler implementa POST /v1/clients/{id}/consent.
// Revocar pone granted=false sin borrar la fila: el historial queda.
func NewConsentUpsertHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req consentRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		clientID := chi.URLParam(r, "id")
		if _, err := c.Store.GetClient(r.Context(), clientID); err != nil {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown client", 2404)
			return
		}
		if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Scope) == "" {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "user_id and scope required", 2410)
			return
		}

		con := &core.Consent{
			UserID:    req.UserID,
			ClientID:  clientID,
			Scope:     strings.TrimSpace(req.Scope),
			Granted:   req.Granted,
			UpdatedAt: time.Now().UTC(),
		}
		if err := c.Store.UpsertConsent(r.Context(), con); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not persist consent", 2411)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, con)
	}
}

// NewConsentGetHandler implementa GET /v1/clients/{id}/consent?user_id=...
// granted=false tanto para revocado como para nunca-consentido.
func NewConsentGetHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "id")
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "user_id required", 2410)
			return
		}
		con, err := c.Store.GetConsent(r.Context(), userID, clientID)
		if err != nil {
			con = &core.Consent{UserID: userID, ClientID: clientID, Granted: false}
		}
		httpx.WriteJSON(w, http.StatusOK, con)
	}
}
