// Package keypool manages a pool of rate-limited upstream API credentials.
//
// The pool hands out one active credential at a time, rotating round-robin
// past credentials that are cooling down, have hit the failure ceiling, or
// were rejected by the upstream as invalid. All state is in-memory and lives
// for the lifetime of the process.
package keypool

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/storefront-ai/recommender/pkg/models"
)

// FailureKind classifies an upstream failure reported against a credential.
type FailureKind int

const (
	Unknown FailureKind = iota
	RateLimited
	AuthError
)

func (k FailureKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case AuthError:
		return "auth_error"
	default:
		return "unknown"
	}
}

// ConfigurationError is returned when the pool cannot be built from config.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "keypool: configuration error: " + e.Reason
}

// ErrNoHealthyCredential is returned by Next when every credential is unhealthy.
var ErrNoHealthyCredential = errors.New("keypool: no healthy credential available")

// Credential is a snapshot of one pooled secret, returned by value.
type Credential struct {
	Index               int
	Secret              string
	CallCount           int
	LastUsed            time.Time
	CooldownUntil       *time.Time
	ConsecutiveFailures int
}

type entry struct {
	secret        string
	callCount     int
	lastUsed      time.Time
	cooldownUntil time.Time
	failures      int
	authFailed    bool
	rateLimited   bool // last failure was a rate limit
	dispensed     int  // since it became active
}

// Pool is safe for concurrent use.
type Pool struct {
	mu           sync.Mutex
	entries      []*entry
	active       int
	lastRotation time.Time

	failureCeiling  int
	rateLimitBase   time.Duration
	rateLimitMax    time.Duration
	rateLimitFactor float64
	unknownCooldown time.Duration
	quarantineFor   time.Duration
	rotateEvery     int
	now             func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithFailureCeiling sets how many consecutive failures mark a credential unhealthy.
func WithFailureCeiling(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.failureCeiling = n
		}
	}
}

// WithRateLimitBackoff sets the exponential cooldown applied on rate limiting.
func WithRateLimitBackoff(base, max time.Duration, factor float64) Option {
	return func(p *Pool) {
		if base > 0 {
			p.rateLimitBase = base
		}
		if max > 0 {
			p.rateLimitMax = max
		}
		if factor >= 1 {
			p.rateLimitFactor = factor
		}
	}
}

// WithUnknownCooldown sets the fixed cooldown for unclassified failures.
func WithUnknownCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.unknownCooldown = d
		}
	}
}

// WithQuarantine sets how long a credential at the failure ceiling is held
// out before it is given another chance.
func WithQuarantine(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.quarantineFor = d
		}
	}
}

// WithRotateEvery rotates the active credential after n dispenses.
// Zero keeps the active credential until it becomes unhealthy.
func WithRotateEvery(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.rotateEvery = n
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(p *Pool) { p.now = fn }
}

// New builds a pool from an ordered list of secrets. Blank entries are
// ignored; an empty result is a ConfigurationError.
func New(secrets []string, opts ...Option) (*Pool, error) {
	p := &Pool{
		failureCeiling:  5,
		rateLimitBase:   30 * time.Second,
		rateLimitMax:    10 * time.Minute,
		rateLimitFactor: 2,
		unknownCooldown: 10 * time.Second,
		quarantineFor:   5 * time.Minute,
		now:             time.Now,
	}
	for _, o := range opts {
		o(p)
	}

	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p.entries = append(p.entries, &entry{secret: s})
	}
	if len(p.entries) == 0 {
		return nil, &ConfigurationError{Reason: "no API credentials configured"}
	}
	return p, nil
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	return len(p.entries)
}

// Next returns the credential to use for the next upstream call.
func (p *Pool) Next() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.entries)

	start := p.active
	if p.rotateEvery > 0 && p.entries[p.active].dispensed >= p.rotateEvery {
		start = (p.active + 1) % n
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		e := p.entries[idx]
		if !dispensable(e, now) {
			continue
		}
		p.readmit(e)
		if idx != p.active {
			p.entries[p.active].dispensed = 0
			p.active = idx
			p.lastRotation = now
		}
		e.lastUsed = now
		e.dispensed++
		return p.credential(idx), nil
	}
	return Credential{}, ErrNoHealthyCredential
}

// ReportSuccess records a successful upstream call made with the credential.
func (p *Pool) ReportSuccess(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entry(index)
	if e == nil {
		return
	}
	e.callCount++
	e.failures = 0
	e.rateLimited = false
	e.cooldownUntil = time.Time{}
}

// ReportFailure records a failed upstream call made with the credential.
// Cooldowns only ever extend and the auth flag is sticky, so reports from
// concurrent requests can land in any order.
func (p *Pool) ReportFailure(index int, kind FailureKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entry(index)
	if e == nil {
		return
	}
	now := p.now()
	e.failures++
	e.rateLimited = kind == RateLimited

	switch kind {
	case RateLimited:
		p.extendCooldown(e, now.Add(p.backoff(e.failures)))
	case AuthError:
		e.authFailed = true
	default:
		p.extendCooldown(e, now.Add(p.unknownCooldown))
	}

	if e.failures >= p.failureCeiling {
		p.extendCooldown(e, now.Add(p.quarantineFor))
	}
}

// Health returns a masked, read-only snapshot of the pool.
func (p *Pool) Health() models.PoolHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	h := models.PoolHealth{
		TotalKeys:      len(p.entries),
		ActiveKeyIndex: p.active,
		Keys:           make([]models.KeyHealth, 0, len(p.entries)),
	}
	if !p.lastRotation.IsZero() {
		t := p.lastRotation
		h.LastRotation = &t
	}

	for i, e := range p.entries {
		cooling := now.Before(e.cooldownUntil)
		var remaining int64
		if cooling {
			remaining = int64((e.cooldownUntil.Sub(now) + time.Second - 1) / time.Second)
		}
		h.Keys = append(h.Keys, models.KeyHealth{
			Index:             i,
			MaskedSecret:      Mask(e.secret),
			CallCount:         e.callCount,
			ConsecutiveFails:  e.failures,
			LastUsed:          e.lastUsed,
			IsActive:          i == p.active,
			IsHealthy:         dispensable(e, now),
			RateLimited:       cooling && e.rateLimited && !e.authFailed,
			AuthFailed:        e.authFailed,
			CooldownRemaining: remaining,
		})
	}
	return h
}

// Reset clears counters, cooldowns and auth flags without reloading secrets.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.entries {
		p.entries[i] = &entry{secret: e.secret}
	}
	p.active = 0
	p.lastRotation = time.Time{}
}

// Mask hides all but a short prefix and suffix of a secret.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (p *Pool) entry(index int) *entry {
	if index < 0 || index >= len(p.entries) {
		return nil
	}
	return p.entries[index]
}

// dispensable reports whether Next would hand out the credential. Reaching
// the failure ceiling always sets a quarantine cooldown, so a credential at
// the ceiling is dispensable again exactly when that cooldown has passed.
func dispensable(e *entry, now time.Time) bool {
	return !e.authFailed && !now.Before(e.cooldownUntil)
}

// readmit clears the failure count of a credential coming back from
// quarantine. Must be called with mu held, on a dispensable entry.
func (p *Pool) readmit(e *entry) {
	if e.failures >= p.failureCeiling {
		e.failures = 0
		e.rateLimited = false
	}
}

func (p *Pool) extendCooldown(e *entry, until time.Time) {
	if until.After(e.cooldownUntil) {
		e.cooldownUntil = until
	}
}

// backoff returns the rate-limit cooldown for the nth consecutive failure.
func (p *Pool) backoff(failures int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.rateLimitBase,
		RandomizationFactor: 0,
		Multiplier:          p.rateLimitFactor,
		MaxInterval:         p.rateLimitMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < failures; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p *Pool) credential(idx int) Credential {
	e := p.entries[idx]
	c := Credential{
		Index:               idx,
		Secret:              e.secret,
		CallCount:           e.callCount,
		LastUsed:            e.lastUsed,
		ConsecutiveFailures: e.failures,
	}
	if !e.cooldownUntil.IsZero() {
		t := e.cooldownUntil
		c.CooldownUntil = &t
	}
	return c
}
