package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clipcast/clipcast/backend/account-service/internal/accounts"
	"github.com/clipcast/clipcast/backend/account-service/internal/binding"
	"github.com/clipcast/clipcast/backend/account-service/internal/config"
	"github.com/clipcast/clipcast/backend/account-service/internal/gateway"
	"github.com/clipcast/clipcast/backend/account-service/internal/identity"
	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
	"github.com/clipcast/clipcast/backend/account-service/internal/resolver"
	"github.com/clipcast/clipcast/backend/account-service/internal/tokens"
	"github.com/clipcast/clipcast/backend/account-service/pkg/logger"
)

// confirmKey carries the caller's explicit unbind approval through the
// request context to the controller's confirmer.
type confirmKey struct{}

// WithConfirmation marks the request context as carrying (or lacking) the
// caller's unbind approval.
func WithConfirmation(ctx context.Context, approved bool) context.Context {
	return context.WithValue(ctx, confirmKey{}, approved)
}

// ContextConfirmer approves an unbind only when the request context carries
// an explicit confirmation. Absence counts as declined.
func ContextConfirmer() binding.Confirmer {
	return binding.ConfirmerFunc(func(ctx context.Context, p platform.Platform) bool {
		approved, _ := ctx.Value(confirmKey{}).(bool)
		return approved
	})
}

// LoginRequest carries the provider ID token obtained by the client.
type LoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

// DisconnectRequest carries the explicit confirmation for an unbind.
type DisconnectRequest struct {
	Confirm bool `json:"confirm"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg   *config.Config
	ids   *identity.Store
	cache *accounts.Cache
	ctrl  *binding.Controller
	res   *resolver.Resolver
	bus   *binding.Bus
	gw    *gateway.Client
}

func NewAuthHandler(cfg *config.Config, ids *identity.Store, cache *accounts.Cache, ctrl *binding.Controller, res *resolver.Resolver, bus *binding.Bus, gw *gateway.Client) *AuthHandler {
	return &AuthHandler{cfg: cfg, ids: ids, cache: cache, ctrl: ctrl, res: res, bus: bus, gw: gw}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.GET("/session", h.Session)
	a.POST("/session/login", h.Login)
	a.POST("/logout", h.Logout)
	a.GET("/accounts", h.Accounts)
	a.POST("/:platform/bind", h.Bind)
	a.POST("/:platform/disconnect", h.Disconnect)
	a.GET("/:platform/callback", h.Callback)
}

// Session reports the resolved user and whether resolution is still loading.
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user":    h.res.ResolvedUser(),
		"loading": h.res.Loading(),
	})
}

// Login verifies the provider ID token, installs the principal and mints a
// session token for subsequent calls.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.ids.SignIn(c.Request.Context(), req.IDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed", "details": err.Error()})
		return
	}
	u := h.res.ResolvedUser()
	if u == nil {
		// the principal was just installed, so this can only be a race with
		// a concurrent sign-out
		c.JSON(http.StatusConflict, gin.H{"error": "session was cleared during login"})
		return
	}
	ttl := h.cfg.JWT.SessionTTL
	session, err := tokens.GenerateSessionToken(h.cfg.JWT.Secret, u, ttl)
	if err != nil {
		logger.Errorf("failed to mint session token for %s: %v", p.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_token": session,
		"user":          u,
		"expires_in":    int(ttl.Seconds()),
	})
}

// Logout clears the local session, invalidates the backend's legacy session
// and blacklists the caller's session token. Local state is cleared even
// when a provider-side call fails; the failure is reported as a warning.
func (h *AuthHandler) Logout(c *gin.Context) {
	var warning string
	if err := h.ids.SignOut(c.Request.Context()); err != nil {
		logger.Warnf("provider-side sign-out failed, local session cleared anyway: %v", err)
		warning = err.Error()
	}

	if err := h.gw.Logout(c.Request.Context()); err != nil {
		logger.Warnf("backend logout failed: %v", err)
		if warning == "" {
			warning = err.Error()
		}
	} else {
		h.cache.RefreshLegacy(c.Request.Context())
	}

	// blacklist the session token when the caller supplied one
	auth := c.GetHeader("Authorization")
	if auth != "" {
		var st string
		if n, _ := fmt.Sscanf(auth, "Bearer %s", &st); n == 1 {
			if err := tokens.BlacklistSessionToken(c.Request.Context(), st, h.cfg.JWT.SessionTTL); err != nil {
				logger.Warnf("failed to blacklist session token: %v", err)
			}
		}
	}

	resp := gin.H{"message": "logged out"}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

// Accounts returns every platform's binding record with its workflow phase.
func (h *AuthHandler) Accounts(c *gin.Context) {
	statuses := h.cache.All()
	out := make([]gin.H, 0, len(statuses))
	for _, st := range statuses {
		entry := gin.H{
			"platform":  st.Platform,
			"connected": st.Connected,
			"phase":     h.ctrl.Phase(st.Platform),
		}
		if st.Connected {
			entry["username"] = st.ExternalUsername
			entry["avatar"] = st.AvatarURL
			if !st.ConnectedAt.IsZero() {
				entry["connected_at"] = st.ConnectedAt.Format(time.RFC3339)
			}
		}
		if err := h.ctrl.LastError(st.Platform); err != nil {
			entry["last_error"] = err.Error()
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out, "loading": h.res.Loading()})
}

// Bind starts the authorization workflow and hands the consent URL plus the
// popup geometry back to the client.
func (h *AuthHandler) Bind(c *gin.Context) {
	p := platform.Platform(c.Param("platform"))
	authorizeURL, err := h.ctrl.Bind(c.Request.Context(), p)
	if err != nil {
		h.bindError(c, p, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorize_url": authorizeURL,
		"popup": gin.H{
			"width":  binding.PopupWidth,
			"height": binding.PopupHeight,
		},
		"phase": h.ctrl.Phase(p),
	})
}

func (h *AuthHandler) bindError(c *gin.Context, p platform.Platform, err error) {
	var popupErr *binding.PopupBlockedError
	switch {
	case errors.Is(err, binding.ErrUnsupportedPlatform):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform", "platform": p})
	case errors.Is(err, binding.ErrAlreadyConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "platform is already bound", "platform": p})
	case errors.Is(err, binding.ErrBindInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "an authorization is already pending", "platform": p})
	case errors.As(err, &popupErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "authorization surface could not be opened", "details": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Disconnect unbinds the platform account. The body must carry an explicit
// confirmation or the request is rejected before any backend call.
func (h *AuthHandler) Disconnect(c *gin.Context) {
	p := platform.Platform(c.Param("platform"))
	var req DisconnectRequest
	// a missing body counts as not confirmed
	_ = c.ShouldBindJSON(&req)

	ctx := WithConfirmation(c.Request.Context(), req.Confirm)
	if err := h.ctrl.Unbind(ctx, p); err != nil {
		h.disconnectError(c, p, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "disconnected", "platform": p})
}

func (h *AuthHandler) disconnectError(c *gin.Context, p platform.Platform, err error) {
	var appErr *gateway.ApplicationError
	var netErr *gateway.NetworkError
	switch {
	case errors.Is(err, binding.ErrUnsupportedPlatform):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform", "platform": p})
	case errors.Is(err, binding.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "platform is not bound", "platform": p})
	case errors.Is(err, binding.ErrConfirmationDeclined):
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmation required", "platform": p})
	case errors.As(err, &appErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": appErr.Message, "code": appErr.Code})
	case errors.As(err, &netErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unreachable", "details": netErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
<p>Authorization complete. You can close this window.</p>
<script>
  if (window.opener) {
    window.opener.postMessage({type: {{.Type}}, platform: {{.Platform}}}, {{.TargetOrigin}});
  }
  window.close();
</script>
</body>
</html>
`))

// Callback is where the platform's OAuth flow lands after consent. It
// publishes the completion signal for any pending bind and renders a small
// page that notifies the opener window and closes itself.
func (h *AuthHandler) Callback(c *gin.Context) {
	p := platform.Platform(c.Param("platform"))
	if !platform.Supported(p) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform", "platform": p})
		return
	}

	h.bus.Publish(binding.Signal{
		Type:     binding.SignalAuthSuccess,
		Platform: p,
		Origin:   requestOrigin(c),
	})

	targetOrigin := h.cfg.Backend.Origin
	if targetOrigin == "" {
		targetOrigin = "*"
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := callbackPage.Execute(c.Writer, map[string]string{
		"Type":         binding.SignalAuthSuccess,
		"Platform":     string(p),
		"TargetOrigin": targetOrigin,
	})
	if err != nil {
		logger.Errorf("callback page render failed: %v", err)
	}
}

// requestOrigin derives the origin the callback arrived on.
func requestOrigin(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
