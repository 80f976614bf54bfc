package containment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshplane/core/pkg/crypto"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type stubVerifier struct{ err error }

func (v stubVerifier) VerifyAssertion(string) error { return v.err }

func testSigner(t *testing.T) crypto.Signer {
	t.Helper()
	signer, err := crypto.NewHMACSigner([]byte("containment-test-key-0123456789ab"), "test")
	require.NoError(t, err)
	return signer
}

func newTestController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	base := []Option{WithClock(&fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)})}
	ctrl, err := NewController(testSigner(t), stubVerifier{}, append(base, opts...)...)
	require.NoError(t, err)
	return ctrl
}

func TestCheckAndContain_AboveThresholdTriggers(t *testing.T) {
	ctrl := newTestController(t)
	require.NoError(t, ctrl.EnableShadow())

	triggered, err := ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 2.5, 2.0, "drift spike")
	require.NoError(t, err)
	assert.True(t, triggered)

	assert.Equal(t, ModeRestricted, ctrl.Mode())
	assert.True(t, ctrl.Locked())

	incidents := ctrl.Incidents()
	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, int64(1), inc.ID)
	assert.Equal(t, TriggerDriftSpike, inc.Trigger)
	assert.Equal(t, ModeShadowEnabled, inc.PriorMode)
	assert.Equal(t, ModeRestricted, inc.NewMode)
	assert.Equal(t, 2.5, inc.Observed)
	assert.Equal(t, 2.0, inc.Threshold)
	assert.NotEmpty(t, inc.Signature)
}

func TestCheckAndContain_AtOrBelowThresholdIsNoOp(t *testing.T) {
	ctrl := newTestController(t)

	for _, observed := range []float64{1.0, 2.0} {
		triggered, err := ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, observed, 2.0, "drift spike")
		require.NoError(t, err)
		assert.False(t, triggered, "observed %v", observed)
	}
	assert.False(t, ctrl.Locked())
	assert.Empty(t, ctrl.Incidents())
}

func TestCheckAndContain_NeverSelfHeals(t *testing.T) {
	ctrl := newTestController(t)

	triggered, err := ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 2.5, 2.0, "drift spike")
	require.NoError(t, err)
	require.True(t, triggered)

	// Healthy readings afterwards must not lift the lock.
	for i := 0; i < 10; i++ {
		triggered, err = ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 1.0, 2.0, "drift spike")
		require.NoError(t, err)
		assert.False(t, triggered)
	}
	assert.True(t, ctrl.Locked())
	assert.Equal(t, ModeRestricted, ctrl.Mode())
	assert.Len(t, ctrl.Incidents(), 1)
}

func TestCheckAndContain_UnknownTrigger(t *testing.T) {
	ctrl := newTestController(t)

	_, err := ctrl.CheckAndContain(context.Background(), TriggerKind("COSMIC_RAYS"), 9.0, 1.0, "")
	assert.ErrorIs(t, err, ErrUnknownTrigger)
	assert.False(t, ctrl.Locked())
}

func TestContain_UsesBuiltInDefaults(t *testing.T) {
	ctrl := newTestController(t)

	triggered, err := ctrl.Contain(context.Background(), TriggerEntropyCollapse, 0.9)
	require.NoError(t, err)
	assert.True(t, triggered)

	incidents := ctrl.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, 0.5, incidents[0].Threshold)
	assert.NotEmpty(t, incidents[0].Description)
}

func TestEnableShadow_RefusedWhileLocked(t *testing.T) {
	ctrl := newTestController(t)

	_, err := ctrl.CheckAndContain(context.Background(), TriggerModelAging, 45.0, 30.0, "model aging")
	require.NoError(t, err)

	assert.ErrorIs(t, ctrl.EnableShadow(), ErrLocked)
	assert.Equal(t, ModeRestricted, ctrl.Mode())
}

func TestEffectiveMode_ReportsContained(t *testing.T) {
	ctrl := newTestController(t)
	assert.Equal(t, ModeRestricted, ctrl.EffectiveMode())

	_, err := ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 2.5, 2.0, "drift spike")
	require.NoError(t, err)
	assert.Equal(t, ModeContained, ctrl.EffectiveMode())
}

func TestUnlockAfterRevalidation(t *testing.T) {
	ctrl := newTestController(t)
	_, err := ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 2.5, 2.0, "drift spike")
	require.NoError(t, err)
	require.True(t, ctrl.Locked())

	require.NoError(t, ctrl.UnlockAfterRevalidation(context.Background(), "assertion"))

	assert.False(t, ctrl.Locked())
	assert.Equal(t, ModeShadowEnabled, ctrl.Mode())
	// The incident log survives the unlock.
	assert.Len(t, ctrl.Incidents(), 1)
}

func TestUnlockAfterRevalidation_RejectedAssertion(t *testing.T) {
	ctrl, err := NewController(testSigner(t), stubVerifier{err: errors.New("expired")})
	require.NoError(t, err)

	_, err = ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 2.5, 2.0, "drift spike")
	require.NoError(t, err)

	err = ctrl.UnlockAfterRevalidation(context.Background(), "stale-assertion")
	assert.ErrorIs(t, err, ErrRevalidationRequired)
	assert.True(t, ctrl.Locked())
	assert.Equal(t, ModeRestricted, ctrl.Mode())
}

func TestIncidentChain_VerifiesAndDetectsTampering(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	ctrl := newTestController(t, WithClock(clock))

	for i, kind := range []TriggerKind{TriggerDriftSpike, TriggerCalibrationInflation, TriggerConsensusDivergence} {
		clock.Advance(time.Minute)
		d, err := DefaultFor(kind)
		require.NoError(t, err)
		triggered, err := ctrl.CheckAndContain(context.Background(), kind, d.Threshold*2+1, d.Threshold, d.Description)
		require.NoError(t, err)
		require.True(t, triggered, "trigger %d", i)
	}

	incidents := ctrl.Incidents()
	require.Len(t, incidents, 3)
	// Ids are sequential and the chain links by predecessor hash.
	assert.Equal(t, "", incidents[0].PrevHash)
	assert.NotEqual(t, incidents[1].PrevHash, incidents[2].PrevHash)
	require.NoError(t, ctrl.VerifyChain())

	signer := testSigner(t)

	tampered := append([]Incident(nil), incidents...)
	tampered[1].Observed = 0.0
	assert.Error(t, VerifyIncidents(tampered, signer))

	reordered := []Incident{incidents[0], incidents[2], incidents[1]}
	assert.Error(t, VerifyIncidents(reordered, signer))

	truncated := []Incident{incidents[0], incidents[2]}
	assert.Error(t, VerifyIncidents(truncated, signer))
}

func TestFlagStore_Propagation(t *testing.T) {
	flags := NewMemoryFlagStore()
	ctrl := newTestController(t, WithFlagStore(flags))

	_, err := ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 2.5, 2.0, "drift spike")
	require.NoError(t, err)

	locked, err := flags.Locked(context.Background())
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, ctrl.UnlockAfterRevalidation(context.Background(), "assertion"))
	locked, err = flags.Locked(context.Background())
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestFlagStore_FailureStillContainsLocally(t *testing.T) {
	flags := NewMemoryFlagStore()
	flags.FailSets = errors.New("redis unreachable")
	ctrl := newTestController(t, WithFlagStore(flags))

	triggered, err := ctrl.CheckAndContain(context.Background(), TriggerDriftSpike, 2.5, 2.0, "drift spike")
	assert.Error(t, err)
	assert.True(t, triggered)
	assert.True(t, ctrl.Locked())
}
