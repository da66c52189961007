package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relay/cmd/identity"
	"relay/cmd/internal/auth"
	"relay/cmd/internal/auth/refresh"
	"relay/cmd/internal/auth/token"
	"relay/cmd/security/password"
)

const testPassword = "correct-horse-battery"

// storeIdentity adapts the principal directory to the token service, with a
// fixed code table standing in for the OAuth provider round-trip.
type storeIdentity struct {
	store identity.Store
	codes map[string]string // authorization code -> principal id
}

func (si storeIdentity) Lookup(ctx context.Context, principalID string) (auth.Principal, error) {
	p, err := si.store.GetByID(ctx, principalID)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{ID: p.ID, DisplayName: p.DisplayName, Roles: p.Roles}, nil
}

func (si storeIdentity) ResolveAuthorizationCode(ctx context.Context, code string) (auth.Principal, error) {
	id, ok := si.codes[code]
	if !ok {
		return auth.Principal{}, errors.New("unknown code")
	}
	return si.Lookup(ctx, id)
}

func testPasswordConfig() password.Config {
	return password.Config{
		Params: password.Argon2idParams{
			MemoryKiB:   8 * 1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: password.Policy{MinLength: 8, MaxLength: 256},
	}
}

func testConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		CookiesEnabled:    true,
		RefreshCookieName: "relay_refresh",
		AccessCookieName:  "relay_access",
		CSRFCookieName:    "relay_csrf",
		CSRFHeaderName:    "X-Relay-CSRF",
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteLaxMode,
	}
}

type testEnv struct {
	handler    *Handler
	svc        *auth.Service
	codec      *token.Codec
	principals *identity.MemoryStore
	alice      identity.Principal
}

func newTestEnv(t *testing.T, cfg Config, accessTTL time.Duration) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pwd := testPasswordConfig()

	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	rm, err := refresh.NewManager(codec, refresh.NewMemoryStore(), 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	principals := identity.NewMemoryStore()
	hash, err := pwd.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	alice, err := principals.Create(context.Background(), identity.CreatePrincipalInput{
		Username:     "alice",
		DisplayName:  "Alice",
		Roles:        []string{"member"},
		PasswordHash: hash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	si := storeIdentity{store: principals, codes: map[string]string{"good-code": alice.ID}}
	svc, err := auth.NewService(codec, rm, si, accessTTL, log)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	h, err := NewHandler(log, cfg, svc, principals, si, pwd)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	return &testEnv{handler: h, svc: svc, codec: codec, principals: principals, alice: alice}
}

func (e *testEnv) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	e.handler.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, mutate func(*http.Request)) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandler_LoginPasswordFlow(t *testing.T) {
	env := newTestEnv(t, testConfig(), 15*time.Minute)
	srv := env.serve(t)

	resp := postJSON(t, srv.URL+"/auth/login", loginRequest{Username: "alice", Password: testPassword}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[loginResponse](t, resp)

	if body.Principal.ID != env.alice.ID {
		t.Fatalf("principal = %+v", body.Principal)
	}
	if body.Session.AccessToken == "" || body.Session.AccessExpiresAt == 0 {
		t.Fatalf("session = %+v", body.Session)
	}
	// Cookie transport: the refresh token never appears in the body.
	if body.Session.RefreshToken != "" {
		t.Fatalf("refresh token leaked into body")
	}

	rc := cookieByName(resp, "relay_refresh")
	if rc == nil || rc.Value == "" || !rc.HttpOnly {
		t.Fatalf("refresh cookie = %+v", rc)
	}
	ac := cookieByName(resp, "relay_access")
	if ac == nil || ac.Value == "" || ac.HttpOnly {
		t.Fatalf("access cookie = %+v", ac)
	}
	if c := cookieByName(resp, "relay_csrf"); c == nil || c.Value == "" || c.HttpOnly {
		t.Fatalf("csrf cookie = %+v", c)
	}

	// The issued access token works against /me.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/me", nil)
	req.Header.Set("Authorization", "Bearer "+body.Session.AccessToken)
	meResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer func() { _ = meResp.Body.Close() }()
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", meResp.StatusCode)
	}
	me := decodeBody[meResponse](t, meResp)
	if me.Principal.ID != env.alice.ID || me.Anonymous {
		t.Fatalf("me = %+v", me)
	}
}

func TestHandler_LoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t, testConfig(), 15*time.Minute)
	srv := env.serve(t)

	for name, req := range map[string]loginRequest{
		"wrong password": {Username: "alice", Password: "not-the-password"},
		"unknown user":   {Username: "mallory", Password: testPassword},
		"bad code":       {Code: "bad-code"},
	} {
		resp := postJSON(t, srv.URL+"/auth/login", req, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", name, resp.StatusCode)
		}
	}
}

func TestHandler_LoginRequiresExactlyOneCredential(t *testing.T) {
	env := newTestEnv(t, testConfig(), 15*time.Minute)
	srv := env.serve(t)

	for name, req := range map[string]loginRequest{
		"both":    {Username: "alice", Password: testPassword, Code: "good-code"},
		"neither": {},
	} {
		resp := postJSON(t, srv.URL+"/auth/login", req, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", name, resp.StatusCode)
		}
	}
}

func TestHandler_LoginWithAuthorizationCode(t *testing.T) {
	env := newTestEnv(t, testConfig(), 15*time.Minute)
	srv := env.serve(t)

	resp := postJSON(t, srv.URL+"/auth/login", loginRequest{Code: "good-code"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[loginResponse](t, resp)
	if body.Principal.ID != env.alice.ID {
		t.Fatalf("principal = %+v", body.Principal)
	}
}

func TestHandler_RefreshViaBodyRotatesAndLocksReplay(t *testing.T) {
	cfg := testConfig()
	cfg.CookiesEnabled = false
	env := newTestEnv(t, cfg, 15*time.Minute)
	srv := env.serve(t)

	login := postJSON(t, srv.URL+"/auth/login", loginRequest{Username: "alice", Password: testPassword}, nil)
	if login.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", login.StatusCode)
	}
	first := decodeBody[loginResponse](t, login).Session
	if first.RefreshToken == "" {
		t.Fatalf("no refresh token in body with cookies disabled")
	}

	rot := postJSON(t, srv.URL+"/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, nil)
	if rot.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", rot.StatusCode)
	}
	second := decodeBody[refreshResponse](t, rot).Session
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Fatalf("rotation did not produce a new refresh token")
	}

	// Replay of the consumed token is rejected, and the reuse lockout also
	// kills the rotated token.
	replay := postJSON(t, srv.URL+"/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, nil)
	if replay.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay status = %d", replay.StatusCode)
	}
	locked := postJSON(t, srv.URL+"/auth/refresh", refreshRequest{RefreshToken: second.RefreshToken}, nil)
	if locked.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-lockout status = %d", locked.StatusCode)
	}
}

func TestHandler_RefreshViaCookieNeedsCSRF(t *testing.T) {
	env := newTestEnv(t, testConfig(), 15*time.Minute)
	srv := env.serve(t)

	login := postJSON(t, srv.URL+"/auth/login", loginRequest{Username: "alice", Password: testPassword}, nil)
	if login.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", login.StatusCode)
	}
	io.Copy(io.Discard, login.Body) //nolint:errcheck

	refreshCookie := cookieByName(login, "relay_refresh")
	csrfCookie := cookieByName(login, "relay_csrf")
	if refreshCookie == nil || csrfCookie == nil {
		t.Fatalf("missing session cookies")
	}

	withCookies := func(req *http.Request) {
		req.AddCookie(refreshCookie)
		req.AddCookie(csrfCookie)
	}

	// Cookie present, CSRF header missing: forbidden.
	noCSRF := postJSON(t, srv.URL+"/auth/refresh", refreshRequest{}, withCookies)
	if noCSRF.StatusCode != http.StatusForbidden {
		t.Fatalf("no-csrf status = %d", noCSRF.StatusCode)
	}

	ok := postJSON(t, srv.URL+"/auth/refresh", refreshRequest{}, func(req *http.Request) {
		withCookies(req)
		req.Header.Set("X-Relay-CSRF", csrfCookie.Value)
	})
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("csrf status = %d", ok.StatusCode)
	}
	if c := cookieByName(ok, "relay_refresh"); c == nil || c.Value == "" || c.Value == refreshCookie.Value {
		t.Fatalf("refresh cookie not rotated")
	}
}

func TestHandler_LogoutRevokesRefresh(t *testing.T) {
	cfg := testConfig()
	cfg.CookiesEnabled = false
	env := newTestEnv(t, cfg, 15*time.Minute)
	srv := env.serve(t)

	login := postJSON(t, srv.URL+"/auth/login", loginRequest{Username: "alice", Password: testPassword}, nil)
	sess := decodeBody[loginResponse](t, login).Session

	out := postJSON(t, srv.URL+"/auth/logout", struct{}{}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	})
	if out.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", out.StatusCode)
	}

	// The refresh token dies with the logout; the access token lives until
	// its own expiry.
	rot := postJSON(t, srv.URL+"/auth/refresh", refreshRequest{RefreshToken: sess.RefreshToken}, nil)
	if rot.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d", rot.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/me", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	me, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer func() { _ = me.Body.Close() }()
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me after logout = %d", me.StatusCode)
	}
}

func TestHandler_MeWithoutTokenHonorsAnonymousFlag(t *testing.T) {
	env := newTestEnv(t, testConfig(), 15*time.Minute)
	srv := env.serve(t)

	resp, err := http.Get(srv.URL + "/me")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("default status = %d, want 401", resp.StatusCode)
	}

	cfg := testConfig()
	cfg.AllowAnonymous = true
	anonEnv := newTestEnv(t, cfg, 15*time.Minute)
	anonSrv := anonEnv.serve(t)

	resp2, err := http.Get(anonSrv.URL + "/me")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("anonymous status = %d", resp2.StatusCode)
	}
	me := decodeBody[meResponse](t, resp2)
	if !me.Anonymous {
		t.Fatalf("me = %+v, want anonymous", me)
	}
}
