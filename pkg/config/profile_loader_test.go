package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
name: production
pairing:
  token_ttl_seconds: 300
  failure_window_seconds: 600
  failure_threshold: 5
  lockout_seconds: 1800
registry:
  max_devices: 100
  backend: sqlite
topology:
  replication_interval_seconds: 60
preflight:
  probe_timeout_seconds: 3
  version_constraint: "~1.4.0"
  deny_rules:
    - 'input["telemetry_fresh"] == false'
  telemetry_marker: /var/run/meshplane/telemetry.marker
  telemetry_max_age_seconds: 120
  mesh_transport_active: true
  disk_encryption_active: true
  thermal_within_limits: true
containment:
  thresholds:
    DRIFT_SPIKE: 2.0
    ENTROPY_COLLAPSE: 0.5
consistency:
  precision_tolerance: 0.0001
  calibration_tolerance: 0.0001
`

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "production", sampleProfile)

	p, err := LoadProfile(dir, "production")
	require.NoError(t, err)

	assert.Equal(t, "production", p.Name)
	assert.Equal(t, 5*time.Minute, p.Pairing.TokenTTL())
	assert.Equal(t, 5, p.Pairing.FailureThreshold)
	assert.Equal(t, 100, p.Registry.MaxDevices)
	assert.Equal(t, "sqlite", p.Registry.Backend)
	assert.Equal(t, time.Minute, p.Topology.ReplicationInterval())
	assert.Equal(t, 3*time.Second, p.Preflight.ProbeTimeout())
	assert.Equal(t, "~1.4.0", p.Preflight.VersionConstraint)
	assert.Len(t, p.Preflight.DenyRules, 1)
	assert.Equal(t, "/var/run/meshplane/telemetry.marker", p.Preflight.TelemetryMarker)
	assert.Equal(t, 2*time.Minute, p.Preflight.TelemetryMaxAge())
	assert.True(t, p.Preflight.MeshTransportActive)
	assert.True(t, p.Preflight.DiskEncryptionActive)
	assert.True(t, p.Preflight.ThermalWithinLimits)
	assert.Equal(t, 2.0, p.Containment.Thresholds["DRIFT_SPIKE"])
	assert.Equal(t, 0.0001, p.Consistency.PrecisionTolerance)
}

func TestLoadProfile_NameDefaultsFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "edge", "pairing:\n  token_ttl_seconds: 60\n")

	p, err := LoadProfile(dir, "edge")
	require.NoError(t, err)
	assert.Equal(t, "edge", p.Name)
}

func TestLoadProfile_Missing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "ghost")
	assert.Error(t, err)
}

func TestLoadProfile_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "broken", "pairing: [not a mapping")

	_, err := LoadProfile(dir, "broken")
	assert.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "production", sampleProfile)
	writeProfile(t, dir, "edge", "name: edge\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Contains(t, profiles, "production")
	assert.Contains(t, profiles, "edge")
}
