// Package registry is the source of truth for which device identities
// exist in the fleet. It is a capacity-bounded, durable membership list:
// every successful mutation is persisted before the call returns, so a
// registry success always implies durability.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrCapacityExceeded is returned when the registry is full.
	ErrCapacityExceeded = errors.New("registry: device capacity exceeded")
	// ErrDuplicateIdentity is returned when the device identifier already exists.
	ErrDuplicateIdentity = errors.New("registry: duplicate device identity")
	// ErrNotFound is returned when the device identifier is unknown.
	ErrNotFound = errors.New("registry: device not found")
	// ErrEmptyDeviceID is returned when the identifier is blank.
	ErrEmptyDeviceID = errors.New("registry: device id must not be empty")
)

// DeviceRecord describes one registered device.
type DeviceRecord struct {
	DeviceID string    `json:"device_id"`
	Name     string    `json:"device_name"`
	PairedAt time.Time `json:"paired_at"`
	LastSeen time.Time `json:"last_seen"`
	Active   bool      `json:"active"`
}

// Snapshot is the durable form of the whole registry.
type Snapshot struct {
	MaxDevices  int            `json:"max_devices"`
	DeviceCount int            `json:"device_count"`
	Devices     []DeviceRecord `json:"devices"`
}

// Store persists registry snapshots. Save must leave the durable record
// either untouched or fully updated; partial writes are a Store bug.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
}

// Clock provides time for paired-at and last-seen stamps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Registry is the thread-safe device membership list.
type Registry struct {
	mu      sync.Mutex
	records map[string]*DeviceRecord
	order   []string // registration order, for stable snapshots
	max     int
	store   Store
	clock   Clock
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects a clock (tests use a fixed one).
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry bounded at maxDevices, persisting through store.
// Any state already in the store is loaded so a restarted node resumes
// with its previous membership.
func New(maxDevices int, store Store, opts ...Option) (*Registry, error) {
	if maxDevices <= 0 {
		return nil, fmt.Errorf("registry: max devices must be positive, got %d", maxDevices)
	}
	if store == nil {
		return nil, fmt.Errorf("registry: store must not be nil")
	}
	r := &Registry{
		records: make(map[string]*DeviceRecord),
		max:     maxDevices,
		store:   store,
		clock:   wallClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	snap, ok, err := store.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("registry: load persisted state: %w", err)
	}
	if ok {
		for i := range snap.Devices {
			rec := snap.Devices[i]
			r.records[rec.DeviceID] = &rec
			r.order = append(r.order, rec.DeviceID)
		}
	}
	return r, nil
}

// Register adds a new device. The duplicate check runs before the capacity
// check, so a retried duplicate never consumes remaining capacity.
func (r *Registry) Register(ctx context.Context, deviceID, name string) error {
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	name = norm.NFC.String(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[deviceID]; exists {
		return ErrDuplicateIdentity
	}
	if len(r.records) >= r.max {
		return ErrCapacityExceeded
	}

	now := r.clock.Now().UTC()
	rec := &DeviceRecord{
		DeviceID: deviceID,
		Name:     name,
		PairedAt: now,
		LastSeen: now,
		Active:   true,
	}
	r.records[deviceID] = rec
	r.order = append(r.order, deviceID)

	if err := r.persistLocked(ctx); err != nil {
		// Roll back so memory matches the durable record.
		delete(r.records, deviceID)
		r.order = r.order[:len(r.order)-1]
		return fmt.Errorf("registry: persist after register %s: %w", deviceID, err)
	}

	r.logger.Info("device registered", "device_id", deviceID, "count", len(r.records), "max", r.max)
	return nil
}

// IsRegistered reports whether the device identifier exists.
func (r *Registry) IsRegistered(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[deviceID]
	return ok
}

// Touch updates the device's last-seen time to now.
func (r *Registry) Touch(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[deviceID]
	if !ok {
		return ErrNotFound
	}
	prev := rec.LastSeen
	rec.LastSeen = r.clock.Now().UTC()

	if err := r.persistLocked(ctx); err != nil {
		rec.LastSeen = prev
		return fmt.Errorf("registry: persist after touch %s: %w", deviceID, err)
	}
	return nil
}

// Capacity returns the current device count and the configured maximum.
func (r *Registry) Capacity() (count, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records), r.max
}

// Get returns a copy of the device record.
func (r *Registry) Get(deviceID string) (DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[deviceID]
	if !ok {
		return DeviceRecord{}, ErrNotFound
	}
	return *rec, nil
}

// snapshotLocked builds the durable form. Must be called with mu held.
func (r *Registry) snapshotLocked() Snapshot {
	snap := Snapshot{
		MaxDevices:  r.max,
		DeviceCount: len(r.records),
		Devices:     make([]DeviceRecord, 0, len(r.records)),
	}
	for _, id := range r.order {
		if rec, ok := r.records[id]; ok {
			snap.Devices = append(snap.Devices, *rec)
		}
	}
	return snap
}

func (r *Registry) persistLocked(ctx context.Context) error {
	return r.store.Save(ctx, r.snapshotLocked())
}
