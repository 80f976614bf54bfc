package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FleetProfile is a named operating profile carrying the fleet-wide
// tunables. Every node in a fleet must run the same profile or pairing
// and merge validation disagree across devices.
type FleetProfile struct {
	Name        string            `yaml:"name" json:"name"`
	Pairing     PairingConfig     `yaml:"pairing" json:"pairing"`
	Registry    RegistryConfig    `yaml:"registry" json:"registry"`
	Topology    TopologyConfig    `yaml:"topology" json:"topology"`
	Preflight   PreflightConfig   `yaml:"preflight" json:"preflight"`
	Containment ContainmentConfig `yaml:"containment" json:"containment"`
	Consistency ConsistencyConfig `yaml:"consistency" json:"consistency"`
}

// PairingConfig tunes token issuance and the failure lockout.
type PairingConfig struct {
	TokenTTLSeconds      int     `yaml:"token_ttl_seconds" json:"token_ttl_seconds"`
	FailureWindowSeconds int     `yaml:"failure_window_seconds" json:"failure_window_seconds"`
	FailureThreshold     int     `yaml:"failure_threshold" json:"failure_threshold"`
	LockoutSeconds       int     `yaml:"lockout_seconds" json:"lockout_seconds"`
	IssuesPerSecond      float64 `yaml:"issues_per_second,omitempty" json:"issues_per_second,omitempty"`
	PendingTokenPoolSize int     `yaml:"pending_token_pool_size,omitempty" json:"pending_token_pool_size,omitempty"`
}

// RegistryConfig bounds fleet membership.
type RegistryConfig struct {
	MaxDevices int    `yaml:"max_devices" json:"max_devices"`
	Backend    string `yaml:"backend,omitempty" json:"backend,omitempty"` // "file" | "sqlite" | "postgres"
}

// TopologyConfig tunes replication.
type TopologyConfig struct {
	ReplicationIntervalSeconds int `yaml:"replication_interval_seconds" json:"replication_interval_seconds"`
}

// PreflightConfig tunes the gate and its version constraint. The host
// evidence flags cover checks the node cannot probe itself: the
// provisioning pipeline attests them out of band and they default to
// false, so an unreported check fails the gate.
type PreflightConfig struct {
	ProbeTimeoutSeconds    int      `yaml:"probe_timeout_seconds" json:"probe_timeout_seconds"`
	VersionConstraint      string   `yaml:"version_constraint,omitempty" json:"version_constraint,omitempty"`
	DenyRules              []string `yaml:"deny_rules,omitempty" json:"deny_rules,omitempty"`
	TelemetryMarker        string   `yaml:"telemetry_marker,omitempty" json:"telemetry_marker,omitempty"`
	TelemetryMaxAgeSeconds int      `yaml:"telemetry_max_age_seconds,omitempty" json:"telemetry_max_age_seconds,omitempty"`
	MeshTransportActive    bool     `yaml:"mesh_transport_active" json:"mesh_transport_active"`
	DiskEncryptionActive   bool     `yaml:"disk_encryption_active" json:"disk_encryption_active"`
	ThermalWithinLimits    bool     `yaml:"thermal_within_limits" json:"thermal_within_limits"`
}

// ContainmentConfig overrides per-trigger thresholds.
type ContainmentConfig struct {
	Thresholds map[string]float64 `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
}

// ConsistencyConfig tunes merge-validation tolerances.
type ConsistencyConfig struct {
	PrecisionTolerance   float64 `yaml:"precision_tolerance" json:"precision_tolerance"`
	CalibrationTolerance float64 `yaml:"calibration_tolerance" json:"calibration_tolerance"`
}

// TokenTTL returns the pairing token lifetime, zero when unset.
func (p PairingConfig) TokenTTL() time.Duration {
	return time.Duration(p.TokenTTLSeconds) * time.Second
}

// ReplicationInterval returns the pull replication interval, zero when
// unset.
func (t TopologyConfig) ReplicationInterval() time.Duration {
	return time.Duration(t.ReplicationIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout, zero when unset.
func (p PreflightConfig) ProbeTimeout() time.Duration {
	return time.Duration(p.ProbeTimeoutSeconds) * time.Second
}

// TelemetryMaxAge returns the freshness bound for the telemetry marker,
// zero when unset.
func (p PreflightConfig) TelemetryMaxAge() time.Duration {
	return time.Duration(p.TelemetryMaxAgeSeconds) * time.Second
}

// LoadProfile loads profile_<name>.yaml from the profiles directory.
func LoadProfile(profilesDir, name string) (*FleetProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile FleetProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by profile name.
func LoadAllProfiles(profilesDir string) (map[string]*FleetProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*FleetProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var profile FleetProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Name] = &profile
	}
	return profiles, nil
}
