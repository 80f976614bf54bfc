// Package pairing issues and validates the single-use, time-boxed trust
// tokens that establish initial node identity. Tokens live in a bounded
// pending pool; validation is constant-time over the whole pool and every
// rejection carries its specific reason. A per-source failure limiter
// defends against brute-force enumeration.
package pairing

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/meshplane/core/pkg/audit"
	"github.com/meshplane/core/pkg/observability"
)

// Rejection reasons. Callers decide whether to re-issue; the service
// never retries on their behalf.
var (
	ErrNoFreeSlot    = errors.New("pairing: no free token slot")
	ErrRateLimited   = errors.New("pairing: source rate limited")
	ErrTokenExpired  = errors.New("pairing: token expired")
	ErrTokenReplayed = errors.New("pairing: token already used")
	ErrTokenUnknown  = errors.New("pairing: token unknown")
)

const (
	// TokenTTL is the fixed validity window stamped on every token.
	TokenTTL = 5 * time.Minute
	// tokenBytes of entropy per token; hex-encoded to a fixed length.
	tokenBytes = 32
	// DefaultPoolSize bounds the pending-token pool.
	DefaultPoolSize = 64
)

// Clock provides time for token stamps and the failure limiter.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Token is an issued pairing token handed to the operator provisioning a
// new device.
type Token struct {
	Value     string // high-entropy hex, fixed length
	Ref       string // opaque reference for audit logs; never the value
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type pendingToken struct {
	value     string
	ref       string
	issuedAt  time.Time
	expiresAt time.Time
	used      bool
}

// Service is the pairing token issuer and validator.
type Service struct {
	mu           sync.Mutex
	slots        []*pendingToken
	ttl          time.Duration
	clock        Clock
	limiter      *FailureLimiter
	issueLimiter *rate.Limiter
	events       audit.EventSink
	logger       *slog.Logger
	metrics      *observability.Provider
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTokenTTL overrides the default token validity window.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithFailureLimiter replaces the default failure limiter.
func WithFailureLimiter(fl *FailureLimiter) Option {
	return func(s *Service) { s.limiter = fl }
}

// WithIssueLimit throttles token issuance to r tokens/sec with the given
// burst, guarding the pool against issuance floods.
func WithIssueLimit(r rate.Limit, burst int) Option {
	return func(s *Service) { s.issueLimiter = rate.NewLimiter(r, burst) }
}

// WithEventSink sets the append-only pairing event log.
func WithEventSink(sink audit.EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithMetrics wires the observability counters.
func WithMetrics(m *observability.Provider) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a pairing service with a pool of poolSize pending
// tokens; poolSize <= 0 selects the default.
func NewService(poolSize int, opts ...Option) *Service {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	s := &Service{
		slots:  make([]*pendingToken, poolSize),
		ttl:    TokenTTL,
		clock:  wallClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewFailureLimiter(0, 0, 0, s.clock)
	}
	return s
}

// IssueToken generates a fresh token and stores it in the pending pool,
// reusing any slot holding an expired or already-used token. The caller
// delivers the value out of band to the joining device.
func (s *Service) IssueToken(ctx context.Context) (Token, error) {
	if s.issueLimiter != nil && !s.issueLimiter.Allow() {
		return Token{}, ErrRateLimited
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	idx := -1
	for i, slot := range s.slots {
		if slot == nil || slot.used || now.After(slot.expiresAt) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Token{}, ErrNoFreeSlot
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, fmt.Errorf("pairing: entropy source failed: %w", err)
	}

	pt := &pendingToken{
		value:     hex.EncodeToString(raw),
		ref:       uuid.NewString(),
		issuedAt:  now,
		expiresAt: now.Add(s.ttl),
	}
	s.slots[idx] = pt

	s.logger.Info("pairing token issued", "token_ref", pt.ref, "expires_at", pt.expiresAt.UTC())
	return Token{Value: pt.value, Ref: pt.ref, IssuedAt: pt.issuedAt, ExpiresAt: pt.expiresAt}, nil
}

// Validate checks a presented token for the claimed device. The rate
// limiter is consulted before the token is inspected at all, so a locked
// source learns nothing about token validity. The comparison scans every
// pending slot in constant time per slot regardless of where (or
// whether) the match occurs.
func (s *Service) Validate(ctx context.Context, tokenValue, sourceAddr, deviceID string) error {
	if s.limiter.Blocked(sourceAddr) {
		s.logger.Warn("pairing rejected", "reason", "rate_limited", "source", sourceAddr, "device_id", deviceID)
		s.metrics.RecordPairingAttempt(ctx, "rate_limited")
		s.logEvent(deviceID, "", false, "rate_limited")
		return ErrRateLimited
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := []byte(tokenValue)
	matched := -1
	for i, slot := range s.slots {
		if slot == nil {
			continue
		}
		if subtle.ConstantTimeCompare(candidate, []byte(slot.value)) == 1 {
			matched = i
		}
	}

	now := s.clock.Now()
	if matched < 0 {
		return s.rejectLocked(ctx, sourceAddr, deviceID, "", "unknown", ErrTokenUnknown)
	}
	slot := s.slots[matched]
	if now.After(slot.expiresAt) {
		return s.rejectLocked(ctx, sourceAddr, deviceID, slot.ref, "expired", ErrTokenExpired)
	}
	if slot.used {
		return s.rejectLocked(ctx, sourceAddr, deviceID, slot.ref, "replayed", ErrTokenReplayed)
	}

	// Single-use guarantee: the flag is set before success is reported
	// and never clears.
	slot.used = true

	s.logger.Info("pairing accepted", "token_ref", slot.ref, "device_id", deviceID)
	s.metrics.RecordPairingAttempt(ctx, "accepted")
	s.logEvent(deviceID, slot.ref, true, "")
	return nil
}

// rejectLocked records the failure against the source and logs the
// specific reason. Must be called with mu held.
func (s *Service) rejectLocked(ctx context.Context, sourceAddr, deviceID, tokenRef, reason string, err error) error {
	s.limiter.RecordFailure(sourceAddr)
	s.logger.Warn("pairing rejected", "reason", reason, "source", sourceAddr, "device_id", deviceID)
	s.metrics.RecordPairingAttempt(ctx, reason)
	s.logEvent(deviceID, tokenRef, false, reason)
	return err
}

func (s *Service) logEvent(deviceID, tokenRef string, success bool, reason string) {
	if s.events == nil {
		return
	}
	ev := audit.PairingEvent{
		Timestamp: s.clock.Now().UTC(),
		DeviceID:  deviceID,
		TokenRef:  tokenRef,
		Success:   success,
		Reason:    reason,
	}
	if err := s.events.Record(ev); err != nil {
		// The event log is audit-only; a write failure must not block
		// the admission decision, but it is loud in the logs.
		s.logger.Error("pairing event log write failed", "error", err)
	}
}

// PendingCount returns how many unexpired, unused tokens are pending.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	n := 0
	for _, slot := range s.slots {
		if slot != nil && !slot.used && !now.After(slot.expiresAt) {
			n++
		}
	}
	return n
}
