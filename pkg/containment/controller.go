package containment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshplane/core/pkg/crypto"
	"github.com/meshplane/core/pkg/observability"
)

var (
	// ErrUnknownTrigger rejects trigger kinds outside the recognized set.
	ErrUnknownTrigger = errors.New("unknown trigger kind")
	// ErrLocked rejects mode upgrades while the controller is locked.
	ErrLocked = errors.New("controller is locked pending re-validation")
	// ErrRevalidationRequired rejects an unlock without a verifiable
	// re-validation assertion.
	ErrRevalidationRequired = errors.New("re-validation assertion rejected")
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RevalidationVerifier checks the explicit re-validation assertion
// presented to unlock a contained fleet. The controller never re-derives
// trust itself.
type RevalidationVerifier interface {
	VerifyAssertion(assertion string) error
}

// LockFlagStore propagates the locked flag to a shared store so that
// every node's preflight gate observes a containment raised anywhere in
// the fleet.
type LockFlagStore interface {
	Set(ctx context.Context, locked bool) error
	Locked(ctx context.Context) (bool, error)
}

// Controller is the fleet's containment state machine. It starts in
// RESTRICTED mode, unlocked.
type Controller struct {
	mu        sync.Mutex
	mode      Mode
	locked    bool
	incidents []Incident
	prevHash  string

	signer    crypto.Signer
	verifier  RevalidationVerifier
	flags     LockFlagStore
	persisted IncidentStore
	clock     Clock
	logger    *slog.Logger
	metrics   *observability.Provider
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctrl *Controller) { ctrl.logger = l }
}

// WithFlagStore propagates lock state to a shared flag store.
func WithFlagStore(s LockFlagStore) Option {
	return func(ctrl *Controller) { ctrl.flags = s }
}

// WithMetrics wires the observability counters.
func WithMetrics(m *observability.Provider) Option {
	return func(ctrl *Controller) { ctrl.metrics = m }
}

// WithIncidentStore persists each incident at append time and seeds the
// sequence from the store on construction, so the trail survives
// restarts.
func WithIncidentStore(s IncidentStore) Option {
	return func(ctrl *Controller) { ctrl.persisted = s }
}

// NewController creates a controller that signs incidents with signer
// and accepts unlock assertions checked by verifier. When an incident
// store is configured, the persisted trail is verified and replayed so
// ids continue from where the previous run stopped; a lock flag store,
// when present, restores the locked state too.
func NewController(signer crypto.Signer, verifier RevalidationVerifier, opts ...Option) (*Controller, error) {
	ctrl := &Controller{
		mode:     ModeRestricted,
		signer:   signer,
		verifier: verifier,
		clock:    systemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	if ctrl.persisted != nil {
		incidents, err := ctrl.persisted.LoadAll(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load incident log: %w", err)
		}
		if err := VerifyIncidents(incidents, ctrl.signer); err != nil {
			return nil, fmt.Errorf("verify incident log: %w", err)
		}
		if len(incidents) > 0 {
			last := incidents[len(incidents)-1]
			hash, err := last.chainHash()
			if err != nil {
				return nil, err
			}
			ctrl.incidents = incidents
			ctrl.prevHash = hash
		}
	}
	if ctrl.flags != nil {
		locked, err := ctrl.flags.Locked(context.Background())
		if err != nil {
			return nil, fmt.Errorf("read lock flag: %w", err)
		}
		if locked {
			ctrl.locked = true
			ctrl.mode = ModeRestricted
		}
	}
	return ctrl, nil
}

// Mode returns the raw operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Locked reports whether the controller is locked pending re-validation.
func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// EffectiveMode is the mode the rest of the system must obey: a locked
// restricted controller is in post-incident lockdown.
func (c *Controller) EffectiveMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked && c.mode == ModeRestricted {
		return ModeContained
	}
	return c.mode
}

// EnableShadow upgrades to SHADOW_ENABLED. While locked it leaves all
// state unchanged and returns ErrLocked; callers that only need the
// no-op behavior may ignore the error.
func (c *Controller) EnableShadow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return ErrLocked
	}
	c.mode = ModeShadowEnabled
	return nil
}

// CheckAndContain evaluates one signal against its threshold. Values at
// or below threshold leave all state untouched and return false. Above
// threshold it appends a signed incident, persists it, forces RESTRICTED
// mode, sets the lock, and returns true. A persistence or flag-store
// propagation failure is returned as an error, but local containment has
// already taken effect.
func (c *Controller) CheckAndContain(ctx context.Context, kind TriggerKind, observed, threshold float64, description string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: %s", ErrUnknownTrigger, kind)
	}
	if observed <= threshold {
		return false, nil
	}

	c.mu.Lock()
	prior := c.mode
	inc := Incident{
		ID:          int64(len(c.incidents)) + 1,
		Timestamp:   c.clock.Now().UTC(),
		Trigger:     kind,
		PriorMode:   prior,
		NewMode:     ModeRestricted,
		Observed:    observed,
		Threshold:   threshold,
		Description: description,
		PrevHash:    c.prevHash,
	}
	signed, err := inc.sign(c.signer)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	hash, err := signed.chainHash()
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	c.incidents = append(c.incidents, signed)
	c.prevHash = hash
	c.mode = ModeRestricted
	c.locked = true
	c.mu.Unlock()

	c.logger.Warn("containment triggered",
		"trigger", kind,
		"observed", observed,
		"threshold", threshold,
		"prior_mode", prior,
		"incident_id", signed.ID,
	)
	c.metrics.RecordContainmentTrigger(ctx, string(kind))

	if c.persisted != nil {
		if err := c.persisted.Append(ctx, signed); err != nil {
			return true, fmt.Errorf("persist incident %d: %w", signed.ID, err)
		}
	}
	if c.flags != nil {
		if err := c.flags.Set(ctx, true); err != nil {
			return true, fmt.Errorf("propagate lock flag: %w", err)
		}
	}
	return true, nil
}

// Contain runs CheckAndContain with the trigger's built-in threshold and
// description.
func (c *Controller) Contain(ctx context.Context, kind TriggerKind, observed float64) (bool, error) {
	d, err := DefaultFor(kind)
	if err != nil {
		return false, err
	}
	return c.CheckAndContain(ctx, kind, observed, d.Threshold, d.Description)
}

// UnlockAfterRevalidation is the only way out of lockdown. The caller
// must present the assertion produced by the separate re-validation
// step; a rejected assertion leaves all state unchanged.
func (c *Controller) UnlockAfterRevalidation(ctx context.Context, assertion string) error {
	if c.verifier == nil {
		return ErrRevalidationRequired
	}
	if err := c.verifier.VerifyAssertion(assertion); err != nil {
		return fmt.Errorf("%w: %v", ErrRevalidationRequired, err)
	}

	c.mu.Lock()
	c.locked = false
	c.mode = ModeShadowEnabled
	c.mu.Unlock()

	c.logger.Info("containment lifted after re-validation")
	if c.flags != nil {
		if err := c.flags.Set(ctx, false); err != nil {
			return fmt.Errorf("clear lock flag: %w", err)
		}
	}
	return nil
}

// Incidents returns a copy of the incident log in append order.
func (c *Controller) Incidents() []Incident {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Incident, len(c.incidents))
	copy(out, c.incidents)
	return out
}

// VerifyChain re-checks every incident signature and chain link.
func (c *Controller) VerifyChain() error {
	return VerifyIncidents(c.Incidents(), c.signer)
}
