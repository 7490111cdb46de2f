package session

import (
	"context"
	"testing"
	"time"
)

type stubVerifier struct {
	code string
	err  error
}

func (v *stubVerifier) Verify(_ context.Context, _, code string) (bool, error) {
	if v.err != nil {
		return false, v.err
	}
	return code == v.code, nil
}

func newTestService(t *testing.T, config Config) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryStore(0), &stubVerifier{code: "123456"}, config)
	svc.WithClock(func() time.Time { return now })
	return svc, &now
}

func trustedRequest(userID string) CreateRequest {
	return CreateRequest{
		UserID:    userID,
		Kind:      KindWeb,
		IP:        "10.0.0.5",
		UserAgent: "Mozilla/5.0",
		DeviceID:  "device-1",
	}
}

func TestCreateAppliesExpiryInvariant(t *testing.T) {
	svc, now := newTestService(t, Config{})

	sess, err := svc.Create(context.Background(), trustedRequest("user-1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantIdle := now.Add(30 * time.Minute)
	if !sess.ExpiresAt.Equal(wantIdle) {
		t.Errorf("ExpiresAt = %v, want idle deadline %v", sess.ExpiresAt, wantIdle)
	}
	if sess.Status != StatusActive {
		t.Errorf("Status = %v, want active", sess.Status)
	}
}

func TestActivityNeverExtendsPastAbsoluteTimeout(t *testing.T) {
	svc, now := newTestService(t, Config{
		DefaultPolicy: Policy{IdleTimeout: time.Hour, AbsoluteTimeout: 2 * time.Hour},
	})

	sess, err := svc.Create(context.Background(), trustedRequest("user-1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	absolute := sess.CreatedAt.Add(2 * time.Hour)

	// Keep touching the session right up to the absolute deadline.
	for i := 0; i < 3; i++ {
		*now = now.Add(45 * time.Minute)
		ok, err := svc.UpdateActivity(context.Background(), sess.ID, sess.IP, sess.UserAgent)
		if err != nil {
			t.Fatalf("UpdateActivity() error = %v", err)
		}
		if !ok {
			t.Fatalf("UpdateActivity() = false at %v, want session still live", *now)
		}
	}

	got, err := svc.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want live session")
	}
	if got.ExpiresAt.After(absolute) {
		t.Errorf("ExpiresAt = %v extends past absolute deadline %v", got.ExpiresAt, absolute)
	}

	*now = absolute.Add(time.Second)
	if got, _ := svc.Get(context.Background(), sess.ID); got != nil {
		t.Error("Get() past absolute deadline = session, want nil")
	}
}

func TestIdleExpiryDropsSession(t *testing.T) {
	svc, now := newTestService(t, Config{})

	sess, err := svc.Create(context.Background(), trustedRequest("user-1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	*now = now.Add(31 * time.Minute)

	if got, _ := svc.Get(context.Background(), sess.ID); got != nil {
		t.Error("Get() after idle timeout = session, want nil")
	}
	ok, err := svc.UpdateActivity(context.Background(), sess.ID, sess.IP, sess.UserAgent)
	if err != nil {
		t.Fatalf("UpdateActivity() error = %v", err)
	}
	if ok {
		t.Error("UpdateActivity() on lapsed session = true, want false")
	}
}

func TestConcurrentCapEvictsOldest(t *testing.T) {
	svc, now := newTestService(t, Config{MaxConcurrent: 3})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := svc.Create(ctx, trustedRequest("user-1"))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, sess.ID)
		*now = now.Add(time.Minute)
	}

	if _, err := svc.Create(ctx, trustedRequest("user-1")); err != nil {
		t.Fatalf("Create() at cap error = %v", err)
	}

	if got, _ := svc.Get(ctx, ids[0]); got != nil {
		t.Error("oldest session survived creation past the cap")
	}
	if got, _ := svc.Get(ctx, ids[1]); got == nil {
		t.Error("second-oldest session was evicted, want only the oldest")
	}

	log, err := svc.ActivityLog(ctx, ids[0], 0)
	if err != nil {
		t.Fatalf("ActivityLog() error = %v", err)
	}
	found := false
	for _, entry := range log {
		if entry.EventType == "session_terminated" && entry.Details["reason"] == "concurrent_session_limit" {
			found = true
		}
	}
	if !found {
		t.Error("eviction not recorded with reason concurrent_session_limit")
	}
}

func TestDeniedOriginFailsBeforeAnyState(t *testing.T) {
	svc, _ := newTestService(t, Config{DeniedNetworks: []string{"203.0.113.0/24"}})

	req := trustedRequest("user-1")
	req.IP = "203.0.113.9"
	if _, err := svc.Create(context.Background(), req); err != ErrOriginBlocked {
		t.Fatalf("Create() from denied network error = %v, want ErrOriginBlocked", err)
	}

	live, err := svc.Sessions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(live) != 0 {
		t.Errorf("Sessions() = %d entries after blocked create, want 0", len(live))
	}
}

func TestBlockedUserAgent(t *testing.T) {
	svc, _ := newTestService(t, Config{BlockedUserAgents: []string{"EvilScanner"}})

	req := trustedRequest("user-1")
	req.UserAgent = "evilscanner/2.0"
	if _, err := svc.Create(context.Background(), req); err != ErrOriginBlocked {
		t.Fatalf("Create() with blocked agent error = %v, want ErrOriginBlocked", err)
	}
}

func TestIPChangeRaisesRiskAndFlags(t *testing.T) {
	svc, _ := newTestService(t, Config{HighRiskThreshold: 0.5, IPChangeIncrement: 0.3})
	ctx := context.Background()

	sess, err := svc.Create(ctx, trustedRequest("user-1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before := sess.RiskScore

	ok, err := svc.UpdateActivity(ctx, sess.ID, "198.51.100.7", sess.UserAgent)
	if err != nil {
		t.Fatalf("UpdateActivity() error = %v", err)
	}
	if !ok {
		t.Fatal("UpdateActivity() = false, want true")
	}

	got, err := svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RiskScore <= before {
		t.Errorf("RiskScore = %v after IP change, want > %v", got.RiskScore, before)
	}
	if got.IP != "198.51.100.7" {
		t.Errorf("IP = %q, want new IP recorded", got.IP)
	}
	if !got.HasFlag(FlagHighRisk) {
		t.Error("high_risk flag not set above threshold")
	}

	log, _ := svc.ActivityLog(ctx, sess.ID, 0)
	found := false
	for _, entry := range log {
		if entry.EventType == "ip_change_detected" && entry.Details["previous_ip"] == "10.0.0.5" {
			found = true
		}
	}
	if !found {
		t.Error("ip_change_detected not recorded with previous IP")
	}
}

func TestRiskScoreStaysBounded(t *testing.T) {
	svc, _ := newTestService(t, Config{HighRiskThreshold: 0.99, IPChangeIncrement: 0.4})
	ctx := context.Background()

	sess, err := svc.Create(ctx, trustedRequest("user-1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3", "198.51.100.4"} {
		if _, err := svc.UpdateActivity(ctx, sess.ID, ip, sess.UserAgent); err != nil {
			t.Fatalf("UpdateActivity() #%d error = %v", i, err)
		}
	}

	got, err := svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RiskScore > 1.0 {
		t.Errorf("RiskScore = %v, want clamped to 1.0", got.RiskScore)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	sess, err := svc.Create(ctx, trustedRequest("user-1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ok, err := svc.Terminate(ctx, sess.ID, "user_logout", "user-1")
	if err != nil || !ok {
		t.Fatalf("Terminate() = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = svc.Terminate(ctx, sess.ID, "user_logout", "user-1")
	if err != nil {
		t.Fatalf("second Terminate() error = %v", err)
	}
	if ok {
		t.Error("second Terminate() = true, want false")
	}

	// Activity log outlives the session and names the actor.
	log, err := svc.ActivityLog(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("ActivityLog() error = %v", err)
	}
	if len(log) == 0 {
		t.Fatal("activity log empty after termination, want retained entries")
	}
	last := log[len(log)-1]
	if last.EventType != "session_terminated" || last.Details["terminated_by"] != "user-1" {
		t.Errorf("last activity = %q %v, want session_terminated by user-1", last.EventType, last.Details)
	}
}

func TestTerminateAllForUser(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, trustedRequest("user-1")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	other, err := svc.Create(ctx, trustedRequest("user-2"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	count, err := svc.TerminateAllForUser(ctx, "user-1", "", "password_changed", "admin-1")
	if err != nil {
		t.Fatalf("TerminateAllForUser() error = %v", err)
	}
	if count != 3 {
		t.Errorf("TerminateAllForUser() = %d, want 3", count)
	}

	if got, _ := svc.Get(ctx, other.ID); got == nil {
		t.Error("unrelated user's session was terminated")
	}
}

func TestTerminateAllForUserSparesException(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	var keep *Session
	for i := 0; i < 3; i++ {
		sess, err := svc.Create(ctx, trustedRequest("user-1"))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if i == 2 {
			keep = sess
		}
	}

	count, err := svc.TerminateAllForUser(ctx, "user-1", keep.ID, "logout_all", "user-1")
	if err != nil {
		t.Fatalf("TerminateAllForUser() error = %v", err)
	}
	if count != 2 {
		t.Errorf("TerminateAllForUser() = %d, want 2", count)
	}
	if got, _ := svc.Get(ctx, keep.ID); got == nil {
		t.Error("excepted session was terminated")
	}
}

func TestMFAVerificationClearsFlagAndLowersRisk(t *testing.T) {
	svc, _ := newTestService(t, Config{
		KindPolicies: map[Kind]Policy{
			KindWeb: {Name: "web-mfa", IdleTimeout: 30 * time.Minute, AbsoluteTimeout: 8 * time.Hour, RequireMFA: true},
		},
	})
	ctx := context.Background()

	req := trustedRequest("user-1")
	req.IP = "203.0.113.40" // public origin, nonzero starting risk
	sess, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !sess.HasFlag(FlagMFARequired) {
		t.Fatal("mfa_required flag not set by policy")
	}
	before := sess.RiskScore

	ok, err := svc.VerifyMFA(ctx, sess.ID, "000000")
	if err != nil {
		t.Fatalf("VerifyMFA() error = %v", err)
	}
	if ok {
		t.Fatal("VerifyMFA() with wrong code = true, want false")
	}

	ok, err = svc.VerifyMFA(ctx, sess.ID, "123456")
	if err != nil {
		t.Fatalf("VerifyMFA() error = %v", err)
	}
	if !ok {
		t.Fatal("VerifyMFA() with right code = false, want true")
	}

	got, err := svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.MFAVerified {
		t.Error("MFAVerified = false after verification")
	}
	if got.HasFlag(FlagMFARequired) {
		t.Error("mfa_required flag still set after verification")
	}
	if got.RiskScore >= before {
		t.Errorf("RiskScore = %v after MFA, want < %v", got.RiskScore, before)
	}
	if got.RiskScore < 0 {
		t.Errorf("RiskScore = %v, want floored at 0", got.RiskScore)
	}
}

func TestSweepDropsLapsedSessions(t *testing.T) {
	svc, now := newTestService(t, Config{})
	ctx := context.Background()

	lapsed, err := svc.Create(ctx, trustedRequest("user-1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	*now = now.Add(20 * time.Minute)
	live, err := svc.Create(ctx, trustedRequest("user-2"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	*now = now.Add(15 * time.Minute) // lapsed is past idle, live is not

	count, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Sweep() = %d, want 1", count)
	}

	if got, _ := svc.Get(ctx, lapsed.ID); got != nil {
		t.Error("lapsed session survived sweep")
	}
	if got, _ := svc.Get(ctx, live.ID); got == nil {
		t.Error("live session dropped by sweep")
	}
}

func TestUnknownSessionIsNotAnError(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	if got, err := svc.Get(ctx, "no-such-id"); err != nil || got != nil {
		t.Errorf("Get(unknown) = (%v, %v), want (nil, nil)", got, err)
	}
	if ok, err := svc.UpdateActivity(ctx, "no-such-id", "10.0.0.1", "ua"); err != nil || ok {
		t.Errorf("UpdateActivity(unknown) = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := svc.Terminate(ctx, "no-such-id", "x", ""); err != nil || ok {
		t.Errorf("Terminate(unknown) = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := svc.VerifyMFA(ctx, "no-such-id", "123456"); err != nil || ok {
		t.Errorf("VerifyMFA(unknown) = (%v, %v), want (false, nil)", ok, err)
	}
}
