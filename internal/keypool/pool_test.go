package keypool_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/storefront-ai/recommender/internal/keypool"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, clock *fakeClock, secrets ...string) *keypool.Pool {
	t.Helper()
	p, err := keypool.New(secrets, keypool.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestNew_EmptyIsConfigurationError(t *testing.T) {
	for _, secrets := range [][]string{nil, {}, {"", "   "}} {
		p, err := keypool.New(secrets)
		if p != nil {
			t.Errorf("New(%q) returned non-nil pool", secrets)
		}
		var cfgErr *keypool.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("New(%q) error = %v, want ConfigurationError", secrets, err)
		}
	}
}

func TestNext_StaysOnActiveWhileHealthy(t *testing.T) {
	p := newTestPool(t, newClock(), "key-aaaa-0001", "key-bbbb-0002")

	for i := 0; i < 3; i++ {
		c, err := p.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if c.Index != 0 {
			t.Errorf("Next().Index = %d, want 0", c.Index)
		}
		p.ReportSuccess(c.Index)
	}
	if got := p.Health().Keys[0].CallCount; got != 3 {
		t.Errorf("CallCount = %d, want 3", got)
	}
}

func TestNext_SkipsRateLimitedToLastHealthy(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "secret-one-111", "secret-two-222", "secret-three-333", "secret-four-444")

	for i := 0; i < 3; i++ {
		p.ReportFailure(i, keypool.RateLimited)
	}

	c, err := p.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if c.Index != 3 {
		t.Errorf("Next().Index = %d, want 3", c.Index)
	}
	if c.Secret != "secret-four-444" {
		t.Errorf("Next().Secret = %q, want %q", c.Secret, "secret-four-444")
	}

	p.ReportFailure(3, keypool.RateLimited)
	if _, err := p.Next(); !errors.Is(err, keypool.ErrNoHealthyCredential) {
		t.Errorf("Next() with all rate limited: err = %v, want ErrNoHealthyCredential", err)
	}
}

func TestReportFailure_RateLimitCooldownExpires(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "only-key-12345")

	p.ReportFailure(0, keypool.RateLimited)
	if _, err := p.Next(); !errors.Is(err, keypool.ErrNoHealthyCredential) {
		t.Fatalf("Next() during cooldown: err = %v, want ErrNoHealthyCredential", err)
	}

	clock.Advance(30 * time.Second)
	c, err := p.Next()
	if err != nil {
		t.Fatalf("Next() after cooldown: error = %v", err)
	}
	if c.Index != 0 {
		t.Errorf("Next().Index = %d, want 0", c.Index)
	}
}

func TestReportFailure_RateLimitBackoffIsExponentialAndCapped(t *testing.T) {
	clock := newClock()
	p, err := keypool.New([]string{"only-key-12345"},
		keypool.WithClock(clock.Now),
		keypool.WithRateLimitBackoff(10*time.Second, 60*time.Second, 2),
		keypool.WithFailureCeiling(100),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := []int64{10, 20, 40, 60, 60}
	for i, w := range want {
		p.ReportFailure(0, keypool.RateLimited)
		got := p.Health().Keys[0].CooldownRemaining
		if got != w {
			t.Errorf("failure %d: CooldownRemaining = %d, want %d", i+1, got, w)
		}
	}
}

func TestReportFailure_AuthErrorNeverSelfHeals(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "bad-key-000000", "good-key-11111")

	p.ReportFailure(0, keypool.AuthError)
	clock.Advance(24 * time.Hour)

	c, err := p.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if c.Index != 1 {
		t.Errorf("Next().Index = %d, want 1", c.Index)
	}

	// A late success report from an in-flight call must not revive it.
	p.ReportSuccess(0)
	h := p.Health()
	if h.Keys[0].IsHealthy {
		t.Error("auth-failed credential reported healthy after ReportSuccess")
	}
	if !h.Keys[0].AuthFailed {
		t.Error("AuthFailed = false, want true")
	}
}

func TestReportFailure_UnknownUsesShortCooldown(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "key-aaaa-0001", "key-bbbb-0002")

	p.ReportFailure(0, keypool.Unknown)
	if got := p.Health().Keys[0].CooldownRemaining; got != 10 {
		t.Errorf("CooldownRemaining = %d, want 10", got)
	}

	clock.Advance(11 * time.Second)
	if !p.Health().Keys[0].IsHealthy {
		t.Error("credential still unhealthy after unknown-failure cooldown")
	}
}

func TestFailureCeiling_QuarantineThenReadmit(t *testing.T) {
	clock := newClock()
	p, err := keypool.New([]string{"only-key-12345"},
		keypool.WithClock(clock.Now),
		keypool.WithFailureCeiling(2),
		keypool.WithQuarantine(time.Minute),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p.ReportFailure(0, keypool.Unknown)
	p.ReportFailure(0, keypool.Unknown)

	clock.Advance(30 * time.Second)
	if _, err := p.Next(); !errors.Is(err, keypool.ErrNoHealthyCredential) {
		t.Fatalf("Next() during quarantine: err = %v, want ErrNoHealthyCredential", err)
	}

	clock.Advance(31 * time.Second)
	c, err := p.Next()
	if err != nil {
		t.Fatalf("Next() after quarantine: error = %v", err)
	}
	if c.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures after readmit = %d, want 0", c.ConsecutiveFailures)
	}
}

func TestReportSuccess_ClearsFailures(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "key-aaaa-0001")

	p.ReportFailure(0, keypool.Unknown)
	p.ReportSuccess(0)

	k := p.Health().Keys[0]
	if k.ConsecutiveFails != 0 {
		t.Errorf("ConsecutiveFails = %d, want 0", k.ConsecutiveFails)
	}
	if k.CooldownRemaining != 0 || !k.IsHealthy {
		t.Errorf("after success: cooldown = %d healthy = %v, want 0/true", k.CooldownRemaining, k.IsHealthy)
	}
}

func TestHealth_IsIdempotentAndMasked(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "sk-live-abcdefghijkl", "short")

	p.ReportFailure(0, keypool.RateLimited)
	if _, err := p.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	first := p.Health()
	second := p.Health()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Health() not idempotent:\n%+v\n%+v", first, second)
	}

	if got := first.Keys[0].MaskedSecret; got != "sk-l...ijkl" {
		t.Errorf("MaskedSecret = %q, want %q", got, "sk-l...ijkl")
	}
	if got := first.Keys[1].MaskedSecret; got != "*****" {
		t.Errorf("short MaskedSecret = %q, want %q", got, "*****")
	}
	if first.ActiveKeyIndex != 1 {
		t.Errorf("ActiveKeyIndex = %d, want 1", first.ActiveKeyIndex)
	}
	if first.LastRotation == nil {
		t.Error("LastRotation = nil after rotation")
	}
	if !first.Keys[0].RateLimited {
		t.Error("Keys[0].RateLimited = false, want true")
	}
}

func TestReset_RestoresPool(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "key-aaaa-0001", "key-bbbb-0002")

	p.ReportFailure(0, keypool.AuthError)
	p.ReportFailure(1, keypool.RateLimited)
	if _, err := p.Next(); err == nil {
		t.Fatal("Next() succeeded with every credential unhealthy")
	}

	p.Reset()
	h := p.Health()
	if h.HealthyKeys() != 2 {
		t.Errorf("HealthyKeys() after Reset = %d, want 2", h.HealthyKeys())
	}
	if h.ActiveKeyIndex != 0 || h.LastRotation != nil {
		t.Errorf("after Reset: active = %d lastRotation = %v", h.ActiveKeyIndex, h.LastRotation)
	}
	if h.Keys[1].MaskedSecret != "key-...0002" {
		t.Errorf("secret not preserved across Reset: %q", h.Keys[1].MaskedSecret)
	}
}

func TestRotateEvery_SpreadsCalls(t *testing.T) {
	clock := newClock()
	p, err := keypool.New([]string{"key-aaaa-0001", "key-bbbb-0002"},
		keypool.WithClock(clock.Now),
		keypool.WithRotateEvery(2),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var got []int
	for i := 0; i < 6; i++ {
		c, err := p.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, c.Index)
	}
	want := []int{0, 0, 1, 1, 0, 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dispense order = %v, want %v", got, want)
	}
}

func TestConcurrentReports_AuthFailureStaysUnhealthy(t *testing.T) {
	p := newTestPool(t, newClock(), "key-aaaa-0001", "key-bbbb-0002", "key-cccc-0003")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if c, err := p.Next(); err == nil {
				p.ReportSuccess(c.Index)
			}
		}()
		go func() {
			defer wg.Done()
			p.ReportFailure(0, keypool.AuthError)
		}()
		go func() {
			defer wg.Done()
			p.ReportSuccess(0)
		}()
	}
	wg.Wait()

	if p.Health().Keys[0].IsHealthy {
		t.Error("auth-failed credential reported healthy after concurrent reports")
	}
}

func TestHealth_ReportsReadmittableCredentialHealthy(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "only-key-12345")

	for i := 0; i < 5; i++ {
		p.ReportFailure(0, keypool.Unknown)
	}
	if got := p.Health().HealthyKeys(); got != 0 {
		t.Fatalf("HealthyKeys() during quarantine = %d, want 0", got)
	}

	clock.Advance(6 * time.Minute)
	before := p.Health()
	if before.HealthyKeys() != 1 || !before.Keys[0].IsHealthy {
		t.Errorf("HealthyKeys() after quarantine = %d, want 1", before.HealthyKeys())
	}
	if !reflect.DeepEqual(before, p.Health()) {
		t.Error("Health() changed pool state")
	}
	if _, err := p.Next(); err != nil {
		t.Errorf("Next() after quarantine: error = %v", err)
	}
}

func TestHealth_RateLimitedOnlyForRateLimits(t *testing.T) {
	clock := newClock()
	p := newTestPool(t, clock, "key-aaaa-0001", "key-bbbb-0002")

	p.ReportFailure(0, keypool.Unknown)
	p.ReportFailure(1, keypool.RateLimited)

	h := p.Health()
	if h.Keys[0].RateLimited {
		t.Error("Keys[0].RateLimited = true after unknown failure, want false")
	}
	if h.Keys[0].CooldownRemaining != 10 {
		t.Errorf("Keys[0].CooldownRemaining = %d, want 10", h.Keys[0].CooldownRemaining)
	}
	if !h.Keys[1].RateLimited {
		t.Error("Keys[1].RateLimited = false, want true")
	}
}
