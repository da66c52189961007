package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relay/cmd/internal/auth/refresh"
	"relay/cmd/internal/auth/token"
	"relay/cmd/internal/metrics"
)

// Service implements the high-level token operations for Relay.
//
// It issues token pairs on login, verifies access tokens, rotates refresh
// tokens with reuse detection, and revokes on logout. Access tokens are
// stateless; only the refresh side touches storage.
type Service struct {
	codec     *token.Codec
	refresh   *refresh.Manager
	identity  Identity
	accessTTL time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// Issued is the result of a login or a refresh: a short-lived access token
// and a rotated refresh token, each with its own expiry.
type Issued struct {
	AccessToken string
	AccessExp   time.Time

	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service. accessTTL is the access-token lifetime;
// the refresh lifetime is owned by the refresh manager.
func NewService(codec *token.Codec, rm *refresh.Manager, identity Identity, accessTTL time.Duration, log *slog.Logger) (*Service, error) {
	if codec == nil || rm == nil || identity == nil {
		return nil, fmt.Errorf("%w: nil collaborator", ErrConfig)
	}
	if accessTTL <= 0 {
		return nil, fmt.Errorf("%w: non-positive access ttl", ErrConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{codec: codec, refresh: rm, identity: identity, accessTTL: accessTTL, log: log}, nil
}

// SetMetrics wires the Prometheus collectors. Optional; nil disables.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Login mints a fresh token pair for an already-authenticated principal.
// Credential checking (password verify, OAuth exchange) happens before this
// call; Login trusts its argument.
func (s *Service) Login(ctx context.Context, now time.Time, p Principal) (Issued, error) {
	accessToken, accessExp, err := s.signAccess(now, p)
	if err != nil {
		return Issued{}, err
	}

	refreshToken, refreshExp, err := s.refresh.Issue(ctx, now, p.ID)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshToken,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyAccess verifies an access token and returns its claims. Purely
// computational; revocation does not apply to access tokens.
func (s *Service) VerifyAccess(raw string, now time.Time) (token.Claims, error) {
	return s.codec.Verify(raw, now)
}

// Refresh performs one rotation attempt with the presented refresh token.
//
// The token's subject names the principal; the current roles are re-fetched
// from the identity collaborator so the new access token reflects role
// changes made since login. Every failure collapses to ErrRefreshRejected:
// the client's only recovery is a fresh login. Never retried.
func (s *Service) Refresh(ctx context.Context, now time.Time, presented string) (Principal, Issued, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" || len(presented) > 4096 {
		return Principal{}, Issued{}, ErrRefreshRejected
	}

	claims, err := s.codec.Verify(presented, now)
	if err != nil {
		// Expired-but-well-formed still identifies the principal; let the
		// store-side check classify it so a late replay of a rotated token
		// triggers the reuse lockout.
		if !errors.Is(err, token.ErrExpired) {
			return Principal{}, Issued{}, ErrRefreshRejected
		}
		claims, err = s.codec.Decode(presented)
		if err != nil {
			return Principal{}, Issued{}, ErrRefreshRejected
		}
	}

	p, err := s.identity.Lookup(ctx, claims.Subject)
	if err != nil {
		s.log.Warn("auth.refresh.lookup_failed", "principal_id", claims.Subject, "err", err)
		return Principal{}, Issued{}, ErrRefreshRejected
	}

	nextRefresh, refreshExp, outcome, err := s.refresh.Rotate(ctx, now, p.ID, presented)
	if err != nil {
		return Principal{}, Issued{}, err
	}
	if outcome != refresh.OutcomeOK {
		if outcome == refresh.OutcomeReuseDetected && s.metrics != nil {
			s.metrics.RefreshReuse.Inc()
		}
		s.log.Warn("auth.refresh.rejected", "principal_id", p.ID, "outcome", outcome.String())
		return Principal{}, Issued{}, ErrRefreshRejected
	}

	accessToken, accessExp, err := s.signAccess(now, p)
	if err != nil {
		return Principal{}, Issued{}, err
	}

	return p, Issued{
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: nextRefresh,
		RefreshExp:   refreshExp,
	}, nil
}

// Logout revokes the principal's refresh record. Outstanding access tokens
// stay valid until they expire on their own.
func (s *Service) Logout(ctx context.Context, principalID string) error {
	return s.refresh.Revoke(ctx, principalID)
}

func (s *Service) signAccess(now time.Time, p Principal) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	raw, err := s.codec.Sign(p.ID, p.Roles, now, exp)
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, exp, nil
}
