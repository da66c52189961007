package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"relay/cmd/identity"
	"relay/cmd/internal/auth"
	"relay/cmd/internal/auth/token"
	"relay/cmd/internal/metrics"
	"relay/cmd/security/password"
)

// Handler wires the HTTP auth endpoints to the token service and the
// principal directory.
type Handler struct {
	log *slog.Logger
	cfg Config

	svc        *auth.Service
	principals identity.Store
	exchanger  auth.Identity
	pwd        password.Config

	metrics *metrics.Metrics

	dummyHash string
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, svc *auth.Service, principals identity.Store, exchanger auth.Identity, pwd password.Config) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc == nil {
		return nil, errors.New("authapi: nil token service")
	}
	if principals == nil {
		return nil, errors.New("authapi: nil principal store")
	}

	h := &Handler{
		log:        log,
		cfg:        cfg,
		svc:        svc,
		principals: principals,
		exchanger:  exchanger,
		pwd:        pwd,
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := pwd.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// SetMetrics wires the Prometheus collectors. Optional; nil disables.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	pw := strings.TrimSpace(req.Password)
	code := strings.TrimSpace(req.Code)

	hasCreds := username != "" && pw != ""
	if hasCreds == (code != "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "either username/password or code is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	var (
		p   auth.Principal
		err error
	)
	if hasCreds {
		p, err = h.loginWithPassword(ctx, username, pw)
	} else {
		p, err = h.loginWithCode(ctx, code)
	}
	if err != nil {
		h.countAuth("login", "rejected")
		h.auditLoginFailed(ip, ua, username, loginFailReason(err))
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	issued, err := h.svc.Login(ctx, now, p)
	if err != nil {
		h.countAuth("login", "error")
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.countAuth("login", "ok")
	h.auditLoginSuccess(ip, ua, p.ID)

	resp := toSessionResponse(issued)
	if h.cfg.CookiesEnabled {
		if _, err := h.setSessionCookies(w, issued); err != nil {
			h.log.Error("auth.login.cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		resp.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Principal: toPrincipalResponse(p),
		Session:   resp,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if cookieToken, ok := h.refreshTokenFromCookie(r); ok {
		fromCookie = true
		if refreshToken == "" {
			refreshToken = cookieToken
		}
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	p, issued, err := h.svc.Refresh(ctx, now, refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshRejected) {
			h.countAuth("refresh", "rejected")
			h.auditRefreshRejected(ip, ua)
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "refresh_rejected", "refresh rejected; log in again")
			return
		}
		h.countAuth("refresh", "error")
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.countAuth("refresh", "ok")
	h.auditRefreshSuccess(ip, ua, p.ID)

	resp := toSessionResponse(issued)
	if fromCookie || h.cfg.CookiesEnabled {
		if _, err := h.setSessionCookies(w, issued); err != nil {
			h.log.Error("auth.refresh.cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		resp.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, refreshResponse{Session: resp})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.svc.Logout(ctx, claims.Subject); err != nil {
		h.countAuth("logout", "error")
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.countAuth("logout", "ok")
	h.auditLogout(clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), claims.Subject)
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.claimsFromRequest(r, time.Now().UTC())
	if !ok {
		if h.cfg.AllowAnonymous {
			writeJSON(w, http.StatusOK, meResponse{Anonymous: true})
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return
	}

	p, err := h.principals.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "principal not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Principal: principalResponse{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Roles:       p.Roles,
		},
	})
}

// ---- credential checks ----

func (h *Handler) loginWithPassword(ctx context.Context, username, pw string) (auth.Principal, error) {
	p, err := h.principals.GetByUsername(ctx, username)
	if err != nil {
		// Timing resistance: perform a dummy verify when the principal is
		// missing.
		if h.dummyHash != "" {
			_, _ = h.pwd.Verify(h.dummyHash, pw)
		}
		return auth.Principal{}, errLoginNotFound
	}
	if p.PasswordHash == "" {
		if h.dummyHash != "" {
			_, _ = h.pwd.Verify(h.dummyHash, pw)
		}
		return auth.Principal{}, errLoginBadPassword
	}

	ok, err := h.pwd.Verify(p.PasswordHash, pw)
	if err != nil || !ok {
		return auth.Principal{}, errLoginBadPassword
	}

	return auth.Principal{ID: p.ID, DisplayName: p.DisplayName, Roles: p.Roles}, nil
}

func (h *Handler) loginWithCode(ctx context.Context, code string) (auth.Principal, error) {
	if h.exchanger == nil {
		return auth.Principal{}, errLoginCodeExchange
	}
	p, err := h.exchanger.ResolveAuthorizationCode(ctx, code)
	if err != nil {
		return auth.Principal{}, errLoginCodeExchange
	}
	return p, nil
}

var (
	errLoginNotFound     = errors.New("principal not found")
	errLoginBadPassword  = errors.New("bad password")
	errLoginCodeExchange = errors.New("code exchange failed")
)

func loginFailReason(err error) string {
	switch {
	case errors.Is(err, errLoginNotFound):
		return "not_found"
	case errors.Is(err, errLoginBadPassword):
		return "bad_password"
	case errors.Is(err, errLoginCodeExchange):
		return "code_exchange"
	default:
		return "unknown"
	}
}

// ---- helpers ----

// claimsFromRequest extracts and verifies an access token from the bearer
// header or the access cookie. No rotation happens here; that is the
// middleware's job.
func (h *Handler) claimsFromRequest(r *http.Request, now time.Time) (token.Claims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		if v, ok := h.accessTokenFromCookie(r); ok {
			raw = v
		}
	}
	if raw == "" {
		return token.Claims{}, false
	}
	claims, err := h.svc.VerifyAccess(raw, now)
	if err != nil {
		return token.Claims{}, false
	}
	return claims, true
}

func (h *Handler) requireClaims(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	claims, ok := h.claimsFromRequest(r, time.Now().UTC())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return token.Claims{}, false
	}
	return claims, true
}

func (h *Handler) countAuth(op, result string) {
	if h.metrics == nil {
		return
	}
	h.metrics.AuthRequests.WithLabelValues(op, result).Inc()
}

func toSessionResponse(issued auth.Issued) sessionResponse {
	return sessionResponse{
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp.UnixMilli(),
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp.UnixMilli(),
	}
}

func toPrincipalResponse(p auth.Principal) principalResponse {
	return principalResponse{ID: p.ID, DisplayName: p.DisplayName, Roles: p.Roles}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
