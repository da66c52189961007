package authapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"relay/cmd/internal/auth/token"
)

type principalCtxKey struct{}

// PrincipalFrom returns the verified claims attached to a request context by
// the Middleware. ok is false on anonymous requests.
func PrincipalFrom(ctx context.Context) (token.Claims, bool) {
	claims, ok := ctx.Value(principalCtxKey{}).(token.Claims)
	return claims, ok
}

// Middleware authenticates requests for the application's protected routes.
//
// The access token is taken from the Authorization header or the access
// cookie. When it verifies, the claims ride the request context. When it is
// expired and a refresh cookie is present, the middleware performs exactly
// one rotation, re-issues the cookies, and proceeds with the new identity;
// a failed rotation never retries. Without usable credentials the request
// proceeds anonymously when AllowAnonymous is set and gets a 401 otherwise.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()

		raw := bearerToken(r)
		if raw == "" {
			if v, ok := h.accessTokenFromCookie(r); ok {
				raw = v
			}
		}

		if raw != "" {
			claims, err := h.svc.VerifyAccess(raw, now)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), claims)))
				return
			}
			if errors.Is(err, token.ErrExpired) {
				if rotated, ok := h.rotateOnce(w, r, now); ok {
					next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), rotated)))
					return
				}
			}
		}

		if h.cfg.AllowAnonymous {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	})
}

// rotateOnce attempts the single silent rotation allowed per request. The
// refresh token only travels in its HttpOnly cookie here, guarded by the
// CSRF double submit.
func (h *Handler) rotateOnce(w http.ResponseWriter, r *http.Request, now time.Time) (token.Claims, bool) {
	refreshToken, ok := h.refreshTokenFromCookie(r)
	if !ok {
		return token.Claims{}, false
	}
	if !h.csrfDoubleSubmitValid(r) {
		return token.Claims{}, false
	}

	_, issued, err := h.svc.Refresh(r.Context(), now, refreshToken)
	if err != nil {
		h.countAuth("refresh", "rejected")
		h.auditRefreshRejected(clientIP(r, h.cfg.TrustProxy), r.UserAgent())
		h.clearSessionCookies(w)
		return token.Claims{}, false
	}

	if _, err := h.setSessionCookies(w, issued); err != nil {
		h.log.Error("auth.middleware.cookie.fail", "err", err)
		return token.Claims{}, false
	}
	h.countAuth("refresh", "ok")

	claims, err := h.svc.VerifyAccess(issued.AccessToken, now)
	if err != nil {
		return token.Claims{}, false
	}
	return claims, true
}

func withPrincipal(ctx context.Context, claims token.Claims) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, claims)
}
