package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipcast/clipcast/backend/account-service/internal/accounts"
	"github.com/clipcast/clipcast/backend/account-service/internal/binding"
	"github.com/clipcast/clipcast/backend/account-service/internal/config"
	"github.com/clipcast/clipcast/backend/account-service/internal/gateway"
	"github.com/clipcast/clipcast/backend/account-service/internal/identity"
	"github.com/clipcast/clipcast/backend/account-service/internal/oidc"
	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
	"github.com/clipcast/clipcast/backend/account-service/internal/resolver"
)

// fakeToken implements oidc.Token
type fakeToken struct {
	claims map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	if m, ok := v.(*map[string]interface{}); ok {
		*m = t.claims
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier accepts one known token
type fakeVerifier struct{}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (oidc.Token, error) {
	if raw == "goodtoken" {
		return &fakeToken{claims: map[string]interface{}{"sub": "user-1", "name": "Alice"}}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

type testEnv struct {
	router  *gin.Engine
	cache   *accounts.Cache
	bus     *binding.Bus
	ids     *identity.Store
	backend *httptest.Server

	disconnects *int
	logouts     *int
}

// newTestEnv wires the full handler stack against a scripted backend. The
// backend reports bilibili as bound and every other platform unbound.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	disconnects := 0
	logouts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/accounts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":{"bilibili":{"connected":true,"username":"alice_bili","avatar":"http://cdn/a.png","connected_at":"2026-01-02T03:04:05Z"}}}`)
	})
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":{"bilibili_connected":true,"bilibili_user":{"mid":"42","name":"alice_bili","avatar":"http://cdn/a.png"}}}`)
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		logouts++
		fmt.Fprint(w, `{"code":200,"message":"ok"}`)
	})
	mux.HandleFunc("/auth/bilibili/disconnect", func(w http.ResponseWriter, r *http.Request) {
		disconnects++
		fmt.Fprint(w, `{"code":200,"message":"disconnected"}`)
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	cfg := &config.Config{}
	cfg.JWT.Secret = "handler-test-secret-32-bytes-xxxx"
	cfg.JWT.SessionTTL = time.Hour

	gw := gateway.NewClient(backend.URL, time.Second)
	cache := accounts.New(gw)
	bus := binding.NewBus()
	surface := binding.SurfaceFunc(func(p platform.Platform, authorizeURL string) error { return nil })
	ctrl := binding.NewController(gw, cache, bus, surface, ContextConfirmer(), "", time.Minute)
	ids := identity.NewStore(&fakeVerifier{}, nil, "firebase")
	ids.Initialize(context.Background())
	res := resolver.New(ids, cache)

	h := NewAuthHandler(cfg, ids, cache, ctrl, res, bus, gw)
	r := gin.New()
	h.Register(r.Group("/"))

	return &testEnv{
		router:      r,
		cache:       cache,
		bus:         bus,
		ids:         ids,
		backend:     backend,
		disconnects: &disconnects,
		logouts:     &logouts,
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestSession_EmptyUntilResolved(t *testing.T) {
	env := newTestEnv(t)

	w, resp := doJSON(t, env.router, http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, resp["user"])
	assert.Equal(t, true, resp["loading"])
}

func TestSession_LoadingEndsAfterFirstRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Refresh(context.Background())

	w, resp := doJSON(t, env.router, http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["loading"])
}

func TestLogin_MintsSessionToken(t *testing.T) {
	env := newTestEnv(t)

	w, resp := doJSON(t, env.router, http.MethodPost, "/auth/session/login", gin.H{"id_token": "goodtoken"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp["session_token"])

	user, ok := resp["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "user-1", user["id"])
	assert.Equal(t, "Alice", user["name"])
}

func TestLogin_RejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	w, _ := doJSON(t, env.router, http.MethodPost, "/auth/session/login", gin.H{"id_token": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	w, _ := doJSON(t, env.router, http.MethodPost, "/auth/session/login", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccounts_ReportsBoundPlatforms(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Refresh(context.Background())

	w, resp := doJSON(t, env.router, http.MethodGet, "/auth/accounts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list, ok := resp["accounts"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, len(platform.All()))

	byPlatform := map[string]map[string]interface{}{}
	for _, e := range list {
		entry := e.(map[string]interface{})
		byPlatform[entry["platform"].(string)] = entry
	}
	bili := byPlatform["bilibili"]
	assert.Equal(t, true, bili["connected"])
	assert.Equal(t, "alice_bili", bili["username"])
	assert.Equal(t, "bound", bili["phase"])

	yt := byPlatform["youtube"]
	assert.Equal(t, false, yt["connected"])
	assert.Equal(t, "unbound", yt["phase"])
	assert.NotContains(t, yt, "username")
}

func TestBind_ReturnsAuthorizeURLAndPopup(t *testing.T) {
	env := newTestEnv(t)

	w, resp := doJSON(t, env.router, http.MethodPost, "/auth/youtube/bind", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, env.backend.URL+"/auth/youtube/authorize", resp["authorize_url"])
	assert.Equal(t, "authorizing", resp["phase"])

	popup, ok := resp["popup"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(binding.PopupWidth), popup["width"])
	assert.Equal(t, float64(binding.PopupHeight), popup["height"])
}

func TestBind_UnknownPlatform(t *testing.T) {
	env := newTestEnv(t)

	w, _ := doJSON(t, env.router, http.MethodPost, "/auth/myspace/bind", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBind_AlreadyConnected(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Refresh(context.Background())

	w, _ := doJSON(t, env.router, http.MethodPost, "/auth/bilibili/bind", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestBind_SecondAttemptWhilePending(t *testing.T) {
	env := newTestEnv(t)

	w1, _ := doJSON(t, env.router, http.MethodPost, "/auth/douyin/bind", nil)
	require.Equal(t, http.StatusOK, w1.Code)

	w2, _ := doJSON(t, env.router, http.MethodPost, "/auth/douyin/bind", nil)
	require.Equal(t, http.StatusConflict, w2.Code)
}

func TestCallback_PublishesSignalAndRendersBridge(t *testing.T) {
	env := newTestEnv(t)
	sub := env.bus.Subscribe()
	defer sub.Cancel()

	req := httptest.NewRequest(http.MethodGet, "/auth/youtube/callback", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "auth_success")
	assert.Contains(t, w.Body.String(), "window.opener")

	select {
	case sig := <-sub.C:
		assert.Equal(t, binding.SignalAuthSuccess, sig.Type)
		assert.Equal(t, platform.YouTube, sig.Platform)
		assert.NotEmpty(t, sig.Origin)
	default:
		t.Fatal("expected a published completion signal")
	}
}

func TestCallback_UnknownPlatform(t *testing.T) {
	env := newTestEnv(t)
	sub := env.bus.Subscribe()
	defer sub.Cancel()

	w, _ := doJSON(t, env.router, http.MethodGet, "/auth/myspace/callback", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	select {
	case <-sub.C:
		t.Fatal("no signal expected for an unknown platform")
	default:
	}
}

func TestDisconnect_RequiresConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Refresh(context.Background())

	// no body
	w1, _ := doJSON(t, env.router, http.MethodPost, "/auth/bilibili/disconnect", nil)
	require.Equal(t, http.StatusBadRequest, w1.Code)

	// explicit refusal
	w2, _ := doJSON(t, env.router, http.MethodPost, "/auth/bilibili/disconnect", gin.H{"confirm": false})
	require.Equal(t, http.StatusBadRequest, w2.Code)

	assert.Equal(t, 0, *env.disconnects)
}

func TestDisconnect_Confirmed(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Refresh(context.Background())

	w, resp := doJSON(t, env.router, http.MethodPost, "/auth/bilibili/disconnect", gin.H{"confirm": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disconnected", resp["message"])
	assert.Equal(t, 1, *env.disconnects)
}

func TestDisconnect_NotConnected(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Refresh(context.Background())

	w, _ := doJSON(t, env.router, http.MethodPost, "/auth/youtube/disconnect", gin.H{"confirm": true})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestLogout_ClearsSessionAndCallsBackend(t *testing.T) {
	env := newTestEnv(t)

	_, resp := doJSON(t, env.router, http.MethodPost, "/auth/session/login", gin.H{"id_token": "goodtoken"})
	require.NotEmpty(t, resp["session_token"])

	w, out := doJSON(t, env.router, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "logged out", out["message"])
	assert.Equal(t, 1, *env.logouts)
	assert.Nil(t, env.ids.CurrentPrincipal())
}
