package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/veridian/internal/app"
	"github.com/dropDatabas3/veridian/internal/cache"
	httpx "github.com/dropDatabas3/veridian/internal/http"
	jwtx "github.com/dropDatabas3/veridian/internal/jwt"
	"github.com/dropDatabas3/veridian/internal/metrics"
	"github.com/dropDatabas3/veridian/internal/mfa"
	"github.com/dropDatabas3/veridian/internal/notify"
	"github.com/dropDatabas3/veridian/internal/store/memory"
)

// env es un server completo en memoria: store memory + recorder como
// notificador, igual que correría en dev pero sin red externa.
type env struct {
	ts  *httptest.Server
	c   *app.Container
	rec *notify.Recorder
	hc  *http.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ks, err := jwtx.NewKeystore()
	require.NoError(t, err)

	c := &app.Container{
		Store:  memory.New(),
		Issuer: jwtx.NewIssuer("http://veridian.test", ks),
		Cache:  cache.NewMemory(),
		Sender: notify.NewRecorder(),

		RefreshTTL: 720 * time.Hour,
		CodeTTL:    5 * time.Minute,
		MFATTL:     5 * time.Minute,
		ResetTTL:   time.Hour,
		OOBTTL:     5 * time.Minute,

		LockoutMax:    5,
		LockoutWindow: 15 * time.Minute,

		TOTPIssuer: "Veridian",
		TOTPWindow: 1,
	}
	c.MFA = &mfa.Engine{
		Store:      c.Store,
		Cache:      c.Cache,
		Sender:     c.Sender,
		TOTPIssuer: c.TOTPIssuer,
		TOTPWindow: c.TOTPWindow,
		OOBTTL:     c.OOBTTL,
	}
	require.NoError(t, metrics.Register(nil))

	ts := httptest.NewServer(httpx.NewRouter(c))
	t.Cleanup(ts.Close)

	return &env{
		ts:  ts,
		c:   c,
		rec: c.Sender.(*notify.Recorder),
		hc: &http.Client{
			// los redirects del authorize se inspeccionan, no se siguen
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *env) url(path string) string { return e.ts.URL + path }

// postJSON hace POST con body JSON y bearer opcional.
func (e *env) postJSON(t *testing.T, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.url(path), bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.hc.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

// postForm hace POST x-www-form-urlencoded (el token endpoint es form, no
// JSON).
func (e *env) postForm(t *testing.T, path string, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := e.hc.PostForm(e.url(path), form)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *env) do(t *testing.T, method, path, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.url(path), nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.hc.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// registerVerifiedUser registra + confirma vía el código capturado por el
// recorder y devuelve el user id.
func (e *env) registerVerifiedUser(t *testing.T, email, pwd string) string {
	t.Helper()
	resp, body := e.postJSON(t, "/v1/credentials/register", "", map[string]any{
		"email":    email,
		"password": pwd,
		"name":     "Ana García",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "register: %v", body)
	userID := str(body, "id")
	require.NotEmpty(t, userID)

	msg := e.rec.Last()
	require.NotNil(t, msg, "register must dispatch a verification code")
	resp, body = e.postJSON(t, "/v1/credentials/confirm", "", map[string]any{"code": msg.Code})
	require.Equal(t, http.StatusOK, resp.StatusCode, "confirm: %v", body)
	return userID
}

// login devuelve el body, sea sesión completa (200) o mfa_required (403).
func (e *env) login(t *testing.T, email, pwd, clientID, scope string) (*http.Response, map[string]any) {
	t.Helper()
	return e.postJSON(t, "/v1/credentials/authenticate", "", map[string]any{
		"email":     email,
		"password":  pwd,
		"client_id": clientID,
		"scope":     scope,
	})
}

// createClient registra un cliente OAuth2 y devuelve id + secret en claro.
func (e *env) createClient(t *testing.T, name, redirectURI string) (id, secret string) {
	t.Helper()
	payload := map[string]any{"name": name}
	if redirectURI != "" {
		payload["redirect_uri"] = redirectURI
	}
	resp, body := e.postJSON(t, "/v1/clients", "", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create client: %v", body)
	return str(body, "id"), str(body, "secret")
}

// authorize pega en /oauth2/authorize con sesión bearer y devuelve la
// respuesta cruda (el redirect NO se sigue) más la query del Location.
func (e *env) authorize(t *testing.T, bearer string, params url.Values) (*http.Response, url.Values) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.url("/oauth2/authorize?"+params.Encode()), nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.hc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	loc := resp.Header.Get("Location")
	if loc == "" {
		return resp, url.Values{}
	}
	u, err := url.Parse(loc)
	require.NoError(t, err)
	return resp, u.Query()
}

// grantConsent registra el consent exacto del scope pedido.
func (e *env) grantConsent(t *testing.T, clientID, userID, scope string) {
	t.Helper()
	resp, body := e.postJSON(t, "/v1/clients/"+clientID+"/consent", "", map[string]any{
		"user_id": userID,
		"scope":   scope,
		"granted": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "consent: %v", body)
}
