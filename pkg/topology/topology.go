package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrUnknownDevice is returned when assigning a role to an
	// unregistered device identifier.
	ErrUnknownDevice = errors.New("topology: unknown device")
	// ErrInvalidRole is returned for roles outside the closed set.
	ErrInvalidRole = errors.New("topology: invalid role")
)

// Assignment binds one device to exactly one role.
type Assignment struct {
	Role        Role      `json:"role"`
	DeviceID    string    `json:"device_id"`
	MeshAddress string    `json:"mesh_address"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// Store persists role assignments, one durable record per device.
type Store interface {
	Save(ctx context.Context, a Assignment) error
	LoadAll(ctx context.Context) ([]Assignment, error)
}

// DeviceDirectory answers whether a device identity exists. The registry
// satisfies this.
type DeviceDirectory interface {
	IsRegistered(deviceID string) bool
}

// Clock provides time for assignment stamps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Topology tracks the role of every device in the fleet.
type Topology struct {
	mu          sync.Mutex
	assignments map[string]Assignment
	directory   DeviceDirectory
	store       Store
	clock       Clock
	logger      *slog.Logger
}

// Option configures a Topology.
type Option func(*Topology)

func WithClock(c Clock) Option {
	return func(t *Topology) { t.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Topology) { t.logger = l }
}

// New creates a topology over the given directory, persisting through
// store. Previously persisted assignments are loaded on construction.
func New(directory DeviceDirectory, store Store, opts ...Option) (*Topology, error) {
	if directory == nil {
		return nil, fmt.Errorf("topology: device directory must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("topology: store must not be nil")
	}
	t := &Topology{
		assignments: make(map[string]Assignment),
		directory:   directory,
		store:       store,
		clock:       wallClock{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	existing, err := store.LoadAll(context.Background())
	if err != nil {
		return nil, fmt.Errorf("topology: load persisted assignments: %w", err)
	}
	for _, a := range existing {
		t.assignments[a.DeviceID] = a
	}
	return t, nil
}

// AssignRole sets the device's single role and persists it atomically.
func (t *Topology) AssignRole(ctx context.Context, deviceID string, role Role, meshAddress string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !t.directory.IsRegistered(deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, hadPrev := t.assignments[deviceID]
	next := Assignment{
		Role:        role,
		DeviceID:    deviceID,
		MeshAddress: meshAddress,
		AssignedAt:  t.clock.Now().UTC(),
	}
	t.assignments[deviceID] = next

	if err := t.store.Save(ctx, next); err != nil {
		if hadPrev {
			t.assignments[deviceID] = prev
		} else {
			delete(t.assignments, deviceID)
		}
		return fmt.Errorf("topology: persist assignment for %s: %w", deviceID, err)
	}

	t.logger.Info("role assigned", "device_id", deviceID, "role", role, "mesh_address", meshAddress)
	return nil
}

// RoleOf returns the device's current role, UNASSIGNED if none was ever set.
func (t *Topology) RoleOf(deviceID string) Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.assignments[deviceID]; ok {
		return a.Role
	}
	return RoleUnassigned
}

// ActiveRoles returns the multiset of currently assigned roles.
func (t *Topology) ActiveRoles() []Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	roles := make([]Role, 0, len(t.assignments))
	for _, a := range t.assignments {
		roles = append(roles, a.Role)
	}
	return roles
}

// Quorum computes the quorum snapshot from the currently assigned roles.
func (t *Topology) Quorum() QuorumSnapshot {
	return CheckQuorum(t.ActiveRoles())
}
