package httpapi

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"healthfolio.org/internal/audit"
	"healthfolio.org/internal/auth"
	"healthfolio.org/internal/obs"
)

const refreshCookieName = "healthfolio_refresh"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.users.FindByEmail(r.Context(), email)
	if err != nil {
		// Same response for unknown account and bad password.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.Status != auth.UserStatusActive {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": email})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	principal := auth.Principal{ID: user.ID, Roles: user.Roles}
	pair, err := a.tokens.Issue(r.Context(), principal, clientInfo(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}
	obs.RecordTokenIssued()
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    user.ID,
		"expires_at": pair.AccessExpiresAt.Format(time.RFC3339),
	})

	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.AccessExpiresAt,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	raw := a.refreshTokenFrom(w, r)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "refresh token is required")
		return
	}

	pair, err := a.tokens.Rotate(r.Context(), raw, clientInfo(r))
	if err != nil {
		a.clearRefreshCookie(w)
		switch {
		case errors.Is(err, auth.ErrTokenReplay):
			// A consumed refresh token came back: possible theft. The
			// token service already revoked the whole family.
			obs.RecordTokenRotation("replay")
			_ = audit.LogEvent(r.Context(), "auth.token.replay_detected", map[string]any{
				"remote_ip": clientInfo(r).IP,
			})
			writeAuthError(w, r, "token_replay", "refresh token already used; session revoked")
		case errors.Is(err, auth.ErrTokenExpired):
			obs.RecordTokenRotation("expired")
			writeAuthError(w, r, "token_expired", "refresh token expired")
		case errors.Is(err, auth.ErrTokenRevoked):
			obs.RecordTokenRotation("revoked")
			writeAuthError(w, r, "token_revoked", "refresh token revoked")
		default:
			obs.RecordTokenRotation("invalid")
			writeAuthError(w, r, "token_invalid", "invalid refresh token")
		}
		return
	}

	obs.RecordTokenRotation("ok")
	_ = audit.LogEvent(r.Context(), "auth.token.rotated", nil)

	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.AccessExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if raw := a.refreshTokenFrom(w, r); raw != "" {
		if err := a.tokens.RevokeRefresh(r.Context(), raw, "logout"); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.token.revoked", map[string]any{"reason": "logout"})
	}
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": principal.ID,
		"roles":   principal.Roles,
	})
}

type authzCheckRequest struct {
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// handleAuthzCheck evaluates a permission for the calling principal. The
// dashboard uses it to grey out controls; the authoritative checks still
// run in each resource service before acting.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Action == "" || req.ResourceType == "" {
		writeError(w, r, http.StatusBadRequest, "action and resource_type are required")
		return
	}

	allowed, err := a.evaluator.Check(r.Context(), principal,
		auth.Action(req.Action), auth.ResourceType(req.ResourceType), req.ResourceID)
	if err != nil {
		// Resolver failure resolves as deny, never allow.
		allowed = false
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

// refreshTokenFrom prefers the httpOnly cookie and falls back to the JSON
// body for non-browser clients.
func (a *API) refreshTokenFrom(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}

func (a *API) setRefreshCookie(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		MaxAge:   int(a.tokens.RefreshTTL() / time.Second),
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteStrictMode,
	})
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
