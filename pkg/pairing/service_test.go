package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/meshplane/core/pkg/audit"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
}

func newTestService(clk *fixedClock, poolSize int) *Service {
	return NewService(poolSize,
		WithClock(clk),
		WithFailureLimiter(NewFailureLimiter(0, 0, 0, clk)))
}

func TestIssueToken_Shape(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 4)

	tok, err := s.IssueToken(context.Background())
	require.NoError(t, err)
	assert.Len(t, tok.Value, 64) // 32 bytes hex-encoded
	assert.NotEmpty(t, tok.Ref)
	assert.NotEqual(t, tok.Ref, tok.Value)
	assert.Equal(t, 5*time.Minute, tok.ExpiresAt.Sub(tok.IssuedAt))

	// Tokens are unique.
	tok2, err := s.IssueToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, tok.Value, tok2.Value)
}

func TestValidate_SingleUse(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 4)

	tok, err := s.IssueToken(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1"))

	// The hard single-use guarantee: a second validation is a replay.
	err = s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1")
	assert.ErrorIs(t, err, ErrTokenReplayed)
}

func TestValidate_ExpiredEvenIfNeverUsed(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 4)

	tok, err := s.IssueToken(context.Background())
	require.NoError(t, err)

	clk.Advance(5*time.Minute + time.Second)
	err = s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidate_Unknown(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 4)

	err := s.Validate(context.Background(), "deadbeef", "10.0.0.9", "dev-1")
	assert.ErrorIs(t, err, ErrTokenUnknown)
}

func TestValidate_RateLimitedAfterFiveFailures(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 8)

	// A valid token exists; the lockout must apply regardless.
	tok, err := s.IssueToken(context.Background())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := s.Validate(context.Background(), "wrong-token", "10.0.0.9", "dev-1")
		assert.ErrorIs(t, err, ErrTokenUnknown)
		clk.Advance(10 * time.Second)
	}

	// Sixth attempt from the locked source: rejected without inspecting
	// the (valid) token.
	err = s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1")
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different source is unaffected.
	require.NoError(t, s.Validate(context.Background(), tok.Value, "10.0.0.7", "dev-1"))
}

func TestValidate_LockoutLiftsAfterDuration(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 8)

	for i := 0; i < 5; i++ {
		_ = s.Validate(context.Background(), "wrong", "10.0.0.9", "dev-1")
	}
	assert.ErrorIs(t, s.Validate(context.Background(), "wrong", "10.0.0.9", "dev-1"), ErrRateLimited)

	// Still locked within the 1800 s window.
	clk.Advance(1799 * time.Second)
	assert.ErrorIs(t, s.Validate(context.Background(), "wrong", "10.0.0.9", "dev-1"), ErrRateLimited)

	// Lifted lazily once the lockout duration has elapsed.
	clk.Advance(2 * time.Second)
	tok, err := s.IssueToken(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1"))
}

func TestIssueToken_PoolExhaustionAndSlotReuse(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 2)

	_, err := s.IssueToken(context.Background())
	require.NoError(t, err)
	tok2, err := s.IssueToken(context.Background())
	require.NoError(t, err)

	_, err = s.IssueToken(context.Background())
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	// A used slot is reclaimed.
	require.NoError(t, s.Validate(context.Background(), tok2.Value, "10.0.0.9", "dev-2"))
	_, err = s.IssueToken(context.Background())
	require.NoError(t, err)

	// And an expired slot is reclaimed too.
	clk.Advance(6 * time.Minute)
	_, err = s.IssueToken(context.Background())
	require.NoError(t, err)
	_, err = s.IssueToken(context.Background())
	require.NoError(t, err)
}

func TestIssueToken_FloodThrottle(t *testing.T) {
	clk := newFixedClock()
	s := NewService(64,
		WithClock(clk),
		WithFailureLimiter(NewFailureLimiter(0, 0, 0, clk)),
		WithIssueLimit(rate.Limit(1), 2))

	_, err := s.IssueToken(context.Background())
	require.NoError(t, err)
	_, err = s.IssueToken(context.Background())
	require.NoError(t, err)

	// Burst spent; the next immediate request is throttled.
	_, err = s.IssueToken(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestValidate_EventLogRecordsEveryAttempt(t *testing.T) {
	clk := newFixedClock()
	sink := audit.NewMemorySink()
	s := NewService(4,
		WithClock(clk),
		WithFailureLimiter(NewFailureLimiter(0, 0, 0, clk)),
		WithEventSink(sink))

	tok, err := s.IssueToken(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1"))
	_ = s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1")
	_ = s.Validate(context.Background(), "bogus", "10.0.0.9", "dev-2")

	events := sink.Events()
	require.Len(t, events, 3)

	assert.True(t, events[0].Success)
	assert.Equal(t, tok.Ref, events[0].TokenRef)
	assert.Equal(t, "dev-1", events[0].DeviceID)

	assert.False(t, events[1].Success)
	assert.Equal(t, "replayed", events[1].Reason)

	assert.False(t, events[2].Success)
	assert.Equal(t, "unknown", events[2].Reason)
	assert.Empty(t, events[2].TokenRef)
}

func TestPendingCount(t *testing.T) {
	clk := newFixedClock()
	s := newTestService(clk, 8)

	assert.Equal(t, 0, s.PendingCount())
	tok, err := s.IssueToken(context.Background())
	require.NoError(t, err)
	_, err = s.IssueToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.PendingCount())

	require.NoError(t, s.Validate(context.Background(), tok.Value, "10.0.0.9", "dev-1"))
	assert.Equal(t, 1, s.PendingCount())

	clk.Advance(6 * time.Minute)
	assert.Equal(t, 0, s.PendingCount())
}
