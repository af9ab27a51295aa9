package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

func addQS(u, k, v string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + url.QueryEscape(k) + "=" + url.QueryEscape(v)
}

// redirectError entrega el error OAuth2 como redirect al redirect_uri ya
// establecido (RFC 6749 §4.1.2.1).
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, desc string) {
	noStore(w)
	loc := addQS(redirectURI, "error", code)
	if desc != "" {
		loc = addQS(loc, "error_description", desc)
	}
	if state != "" {
		loc = addQS(loc, "state", state)
	}
	http.Redirect(w, r, loc, http.StatusFound)
}

// scopeCovers reporta si cada scope pedido está dentro del concedido.
func scopeCovers(granted, requested string) bool {
	have := map[string]bool{}
	for _, s := range strings.Fields(granted) {
		have[strings.ToLower(s)] = true
	}
	for _, s := range strings.Fields(requested) {
		if !have[strings.ToLower(s)] {
			return false
		}
	}
	return true
}

// NewOAuthAuthorizeHandler implementa GET/POST /oauth2/authorize.
// El orden de validación importa: client, sesión, response_type, scope,
// redirect_uri, PKCE, consent. Errores sin redirect_uri establecible salen
// como body directo; el resto como redirect con error/error_description.
func NewOAuthAuthorizeHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q url.Values
		switch r.Method {
		case http.MethodGet:
			q = r.URL.Query()
		case http.MethodPost:
			if err := r.ParseForm(); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form", 2100)
				return
			}
			q = r.PostForm
		default:
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST only", 1000)
			return
		}

		responseType := strings.TrimSpace(q.Get("response_type"))
		clientID := strings.TrimSpace(q.Get("client_id"))
		redirectURI := strings.TrimSpace(q.Get("redirect_uri"))
		scope := strings.TrimSpace(q.Get("scope"))
		state := strings.TrimSpace(q.Get("state"))
		nonce := strings.TrimSpace(q.Get("nonce"))
		codeChallenge := strings.TrimSpace(q.Get("code_challenge"))
		codeMethod := strings.TrimSpace(q.Get("code_challenge_method"))

		ctx := r.Context()

		cl, err := c.Store.GetClient(ctx, clientID)
		if err != nil {
			status := http.StatusInternalServerError
			if err == core.ErrNotFound {
				status = http.StatusUnauthorized
			}
			httpx.WriteError(w, status, "invalid_client", "unknown client", 2101)
			return
		}

		// sin sesión: a login con la query original, no es un error
		id := httpx.Authenticate(c, r)
		if id == nil || id.UserID == "" {
			http.Redirect(w, r, "/login?"+q.Encode(), http.StatusFound)
			return
		}

		// redirect_uri establecido = presente y igual al registrado
		established := cl.RedirectURI != nil && redirectURI != "" && redirectURI == *cl.RedirectURI

		fail := func(code, desc string) {
			if established {
				redirectError(w, r, redirectURI, state, code, desc)
				return
			}
			httpx.WriteError(w, http.StatusBadRequest, code, desc, 2102)
		}

		if responseType != "code" {
			fail("unsupported_response_type", "only response_type=code is supported")
			return
		}
		if !strings.Contains(" "+scope+" ", " openid ") {
			fail("invalid_scope", "scope must include openid")
			return
		}
		if !established {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "redirect_uri missing or not registered for client", 2103)
			return
		}
		if codeChallenge != "" && codeMethod == "" {
			redirectError(w, r, redirectURI, state, "invalid_request", "code_challenge_method required with code_challenge")
			return
		}
		if codeMethod != "" && codeMethod != "plain" && !strings.EqualFold(codeMethod, "S256") {
			redirectError(w, r, redirectURI, state, "invalid_request", "unsupported code_challenge_method")
			return
		}

		// consent: sin grant exacto del set pedido se redirige a la página de
		// consentimiento, no es un error
		consent, err := c.Store.GetConsent(ctx, id.UserID, clientID)
		if err != nil || !consent.Granted || !scopeCovers(consent.Scope, scope) {
			loc := "/consent?" + url.Values{"client_id": {clientID}, "scope": {scope}}.Encode()
			http.Redirect(w, r, loc, http.StatusFound)
			return
		}

		rawCode, err := tokens.GenerateOpaque(32)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not generate code", 2104)
			return
		}
		ac := &core.AuthorizationCode{
			CodeHash:        tokens.SHA256Base64URL(rawCode),
			ClientID:        clientID,
			UserID:          id.UserID,
			RedirectURI:     redirectURI,
			Scope:           scope,
			Nonce:           nonce,
			CodeChallenge:   codeChallenge,
			ChallengeMethod: codeMethod,
			ExpiresAt:       time.Now().Add(c.CodeTTL),
		}
		if err := c.Store.CreateAuthCode(ctx, ac); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not persist code", 2105)
			return
		}

		noStore(w)
		loc := addQS(redirectURI, "code", rawCode)
		if state != "" {
			loc = addQS(loc, "state", state)
		}
		http.Redirect(w, r, loc, http.StatusFound)
	}
}
