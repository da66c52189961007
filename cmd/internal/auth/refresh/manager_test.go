package refresh

import (
	"context"
	"testing"
	"time"

	"relay/cmd/internal/auth/token"
)

func newTestManager(t *testing.T, store Store, ttl time.Duration) *Manager {
	t.Helper()
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	m, err := NewManager(codec, store, ttl)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_IssueReplacesPriorRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := newTestManager(t, NewMemoryStore(), time.Hour)

	first, _, err := m.Issue(ctx, now, "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, _, err := m.Issue(ctx, now.Add(time.Second), "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// The older token is no longer the active record: reuse.
	out, err := m.ValidateAndConsume(ctx, now.Add(2*time.Second), "p1", first)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	if out != OutcomeReuseDetected {
		t.Fatalf("old token outcome = %s, want reuse_detected", out)
	}

	// Reuse revoked the active record, so even the newer token fails now.
	out, err = m.ValidateAndConsume(ctx, now.Add(3*time.Second), "p1", second)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	if out != OutcomeReuseDetected {
		t.Fatalf("post-lockout outcome = %s, want reuse_detected", out)
	}
}

func TestManager_IssueAtSameInstantStillRotates(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := newTestManager(t, NewMemoryStore(), time.Hour)

	// Two logins in the same millisecond. The minted tokens must differ, and
	// the first must be superseded even though every claim timestamp matches.
	first, _, err := m.Issue(ctx, now, "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, _, err := m.Issue(ctx, now, "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if first == second {
		t.Fatalf("same-instant issues minted identical tokens")
	}

	out, err := m.ValidateAndConsume(ctx, now, "p1", first)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	if out != OutcomeReuseDetected {
		t.Fatalf("superseded token outcome = %s, want reuse_detected", out)
	}
}

func TestManager_RotateHappyPath(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := newTestManager(t, NewMemoryStore(), time.Hour)

	first, _, err := m.Issue(ctx, now, "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, exp, out, err := m.Rotate(ctx, now.Add(time.Minute), "p1", first)
	if err != nil || out != OutcomeOK {
		t.Fatalf("Rotate: outcome=%s err=%v", out, err)
	}
	if next == "" || next == first {
		t.Fatalf("expected a fresh token")
	}
	if !exp.After(now.Add(time.Minute)) {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	// The rotated-away token is now a reuse signal.
	_, _, out, err = m.Rotate(ctx, now.Add(2*time.Minute), "p1", first)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if out != OutcomeReuseDetected {
		t.Fatalf("replay outcome = %s, want reuse_detected", out)
	}

	// And the lockout extends to the legitimate newer token.
	_, _, out, err = m.Rotate(ctx, now.Add(3*time.Minute), "p1", next)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if out != OutcomeReuseDetected {
		t.Fatalf("post-lockout outcome = %s, want reuse_detected", out)
	}

	// A fresh login clears the lockout.
	again, _, err := m.Issue(ctx, now.Add(4*time.Minute), "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	out, err = m.ValidateAndConsume(ctx, now.Add(5*time.Minute), "p1", again)
	if err != nil || out != OutcomeOK {
		t.Fatalf("after re-login: outcome=%s err=%v", out, err)
	}
}

func TestManager_ExpiredAndMissing(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := newTestManager(t, NewMemoryStore(), time.Minute)

	out, err := m.ValidateAndConsume(ctx, now, "ghost", "whatever")
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	if out != OutcomeNotFound {
		t.Fatalf("missing outcome = %s, want not_found", out)
	}

	plain, exp, err := m.Issue(ctx, now, "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Exactly at expiry: expired (exclusive comparison).
	out, err = m.ValidateAndConsume(ctx, exp, "p1", plain)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	if out != OutcomeExpired {
		t.Fatalf("at-expiry outcome = %s, want expired", out)
	}

	// One instant before: still good.
	out, err = m.ValidateAndConsume(ctx, exp.Add(-time.Millisecond), "p1", plain)
	if err != nil || out != OutcomeOK {
		t.Fatalf("before-expiry: outcome=%s err=%v", out, err)
	}
}

func TestManager_RevokeLogsOut(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := newTestManager(t, NewMemoryStore(), time.Hour)

	plain, _, err := m.Issue(ctx, now, "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Revoke(ctx, "p1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	out, err := m.ValidateAndConsume(ctx, now.Add(time.Second), "p1", plain)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	if out != OutcomeReuseDetected {
		t.Fatalf("revoked outcome = %s, want reuse_detected", out)
	}
}
