package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"relay/cmd/identity"
	"relay/cmd/internal/auth"
	authapi "relay/cmd/internal/auth/api"
	"relay/cmd/internal/auth/refresh"
	"relay/cmd/internal/auth/token"
	"relay/cmd/internal/metrics"
	"relay/cmd/internal/presence"
	"relay/cmd/internal/realtime"
	"relay/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool
	rdb       *redis.Client

	metrics *metrics.Metrics
	tracker *presence.Tracker
	ws      *realtime.WSGateway
	auth    *authapi.Handler

	handler http.Handler
}

// New wires the full service graph from config. Storage backends are
// selected by what is configured: Postgres and Redis when available,
// in-memory fallbacks otherwise (dev mode).
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("app: connect database: %w", err)
		}
		a.pool = pool
		a.dbEnabled = true
		log.Info("app.db.connected", "max_conns", cfg.DBMaxConns)
	} else {
		log.Warn("app.db.disabled", "reason", "RELAY_DATABASE_URL not set; using in-memory stores")
	}

	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		log.Info("app.redis.connected", "addr", cfg.RedisAddr)
	}

	a.metrics = metrics.New()

	secret := cfg.TokenSecret
	if secret == "" {
		// Dev-only: tokens die with the process and every replica signs
		// with a different key.
		secret = randomSecret()
		log.Warn("app.token.ephemeral_secret",
			"reason", "RELAY_TOKEN_SECRET not set; sessions will not survive restarts")
	}

	codec, err := token.NewCodec([]byte(secret))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: token codec: %w", err)
	}

	refreshStore, storeKind := a.newRefreshStore()
	log.Info("app.refresh.store", "kind", storeKind)

	manager, err := refresh.NewManager(codec, refreshStore, cfg.RefreshTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: refresh manager: %w", err)
	}

	principals, principalKind, err := a.newPrincipalStore()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: principal store: %w", err)
	}
	log.Info("app.identity.store", "kind", principalKind)

	directory := directoryIdentity{store: principals}

	svc, err := auth.NewService(codec, manager, directory, cfg.AccessTTL, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: auth service: %w", err)
	}
	svc.SetMetrics(a.metrics)

	pwd, err := password.FromEnv()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: password config: %w", err)
	}

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), svc, principals, directory, pwd)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: auth handler: %w", err)
	}
	a.auth.SetMetrics(a.metrics)

	hub := realtime.NewHub(log)

	var msgStore realtime.MessageStore
	var members realtime.MembershipStore
	if a.dbEnabled {
		pg, err := realtime.NewPostgresStore(a.pool)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: message store: %w", err)
		}
		msgStore = pg

		members, err = realtime.NewPostgresMembershipStore(a.pool)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: membership store: %w", err)
		}
	} else {
		msgStore = realtime.NewInMemoryStore()
	}

	var pub presence.Publisher = realtime.NewHubPublisher(log, hub)
	if a.rdb != nil {
		redisPub, err := presence.NewRedisPublisher(a.rdb)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: redis publisher: %w", err)
		}
		pub = presence.MultiPublisher{pub, redisPub}
	}

	a.tracker = presence.NewTracker(log, pub)
	a.metrics.RegisterParticipants(a.tracker.Counts)

	a.ws = realtime.NewWSGateway(log, hub, msgStore, svc, members, a.tracker)
	a.ws.SetMetrics(a.metrics)

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, a.pool, a.dbEnabled, a.ws, a.auth, a.metrics)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log, a.metrics)

	return a, nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	// The liveness sweeper reclaims sessions whose client stopped sending
	// anything (no frames, no pongs) for longer than the idle window.
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(a.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := a.tracker.Sweep(ctx, time.Now().UTC(), a.cfg.IdleWindow)
				if n > 0 {
					a.metrics.SweepEvictions.Add(float64(n))
					a.log.Info("presence.sweep", "evicted", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("app.http.listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("app.shutdown.begin")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("app.shutdown.http", "err", err)
	}

	<-sweepDone
	// Final sweep so external subscribers see rooms drain before we go away.
	a.tracker.Sweep(shutdownCtx, time.Now().UTC(), 0)

	a.Close()
	a.log.Info("app.shutdown.done")
	return nil
}

// Close releases external connections. Safe to call more than once.
func (a *App) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) newRefreshStore() (refresh.Store, string) {
	switch {
	case a.rdb != nil:
		store, err := refresh.NewRedisStore(a.rdb)
		if err == nil {
			return store, "redis"
		}
	case a.pool != nil:
		store, err := refresh.NewPostgresStore(a.pool)
		if err == nil {
			return store, "postgres"
		}
	}
	return refresh.NewMemoryStore(), "memory"
}

func (a *App) newPrincipalStore() (identity.Store, string, error) {
	if a.pool != nil {
		store, err := identity.NewPostgresStore(a.pool)
		if err != nil {
			return nil, "", err
		}
		return store, "postgres", nil
	}
	return identity.NewMemoryStore(), "memory", nil
}

// directoryIdentity adapts the principal directory to the token service.
// Authorization-code exchange needs a configured OAuth provider; until one
// is wired in, code logins fail cleanly.
type directoryIdentity struct {
	store identity.Store
}

func (d directoryIdentity) Lookup(ctx context.Context, principalID string) (auth.Principal, error) {
	p, err := d.store.GetByID(ctx, principalID)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{ID: p.ID, DisplayName: p.DisplayName, Roles: p.Roles}, nil
}

func (d directoryIdentity) ResolveAuthorizationCode(ctx context.Context, code string) (auth.Principal, error) {
	return auth.Principal{}, errors.New("authorization code exchange is not configured")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
