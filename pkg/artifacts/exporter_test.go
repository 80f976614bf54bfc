package artifacts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshplane/core/pkg/consistency"
	"github.com/meshplane/core/pkg/containment"
	"github.com/meshplane/core/pkg/crypto"
)

func testSigner(t *testing.T) crypto.Signer {
	t.Helper()
	signer, err := crypto.NewHMACSigner([]byte("artifacts-test-key-0123456789abc"), "test")
	require.NoError(t, err)
	return signer
}

func passingVerdict(t *testing.T) (consistency.Verdict, []consistency.DeviceReport) {
	t.Helper()
	reports := []consistency.DeviceReport{
		{DeviceID: "dev-a", Digest: "a3f1", Precision: 0.96, CalibrationError: 0.015, Seed: consistency.RequiredSeed, Epoch: 10, Field: "shard-0"},
		{DeviceID: "dev-b", Digest: "a3f1", Precision: 0.96, CalibrationError: 0.015, Seed: consistency.RequiredSeed, Epoch: 10, Field: "shard-0"},
	}
	verdict := consistency.NewValidator().Validate(reports)
	require.True(t, verdict.MergeAllowed)
	return verdict, reports
}

func TestExportAccuracy_WritesLatestAndArchives(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewFileStore(filepath.Join(dir, "cas"))
	require.NoError(t, err)
	exp, err := NewExporter(filepath.Join(dir, "snapshots"), archive, testSigner(t))
	require.NoError(t, err)

	verdict, reports := passingVerdict(t)
	snap, err := SnapshotFromVerdict(verdict, reports, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	hash, err := exp.ExportAccuracy(context.Background(), snap)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	data, err := os.ReadFile(filepath.Join(dir, "snapshots", "accuracy-latest.json"))
	require.NoError(t, err)

	var written AccuracySnapshot
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, "dev-a", written.ReferenceDevice)
	assert.Equal(t, 2, written.DeviceCount)
	assert.NotEmpty(t, written.Signature)
	require.NoError(t, exp.VerifyAccuracy(written))

	archived, err := archive.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, data, archived)
}

func TestExportAccuracy_ReplacesLatest(t *testing.T) {
	dir := t.TempDir()
	exp, err := NewExporter(dir, nil, nil)
	require.NoError(t, err)

	verdict, reports := passingVerdict(t)
	first, err := SnapshotFromVerdict(verdict, reports, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = exp.ExportAccuracy(context.Background(), first)
	require.NoError(t, err)

	second := first
	second.Epoch = 11
	_, err = exp.ExportAccuracy(context.Background(), second)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "accuracy-latest.json"))
	require.NoError(t, err)
	var written AccuracySnapshot
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, int64(11), written.Epoch)
}

func TestExportIncident_NamesBySequence(t *testing.T) {
	dir := t.TempDir()
	exp, err := NewExporter(dir, nil, nil)
	require.NoError(t, err)

	inc := containment.Incident{
		ID:        3,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Trigger:   containment.TriggerDriftSpike,
		PriorMode: containment.ModeShadowEnabled,
		NewMode:   containment.ModeRestricted,
		Observed:  2.5,
		Threshold: 2.0,
	}
	_, err = exp.ExportIncident(context.Background(), inc)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "incident-000003.json"))
	require.NoError(t, err)
	var written containment.Incident
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, inc.Trigger, written.Trigger)
}

func TestSnapshotFromVerdict_RejectsFailedVerdict(t *testing.T) {
	verdict := consistency.NewValidator().Validate(nil)
	_, err := SnapshotFromVerdict(verdict, nil, time.Now())
	assert.Error(t, err)
}

func TestVerifyAccuracy_DetectsTampering(t *testing.T) {
	exp, err := NewExporter(t.TempDir(), nil, testSigner(t))
	require.NoError(t, err)

	verdict, reports := passingVerdict(t)
	snap, err := SnapshotFromVerdict(verdict, reports, time.Now())
	require.NoError(t, err)
	_, err = exp.ExportAccuracy(context.Background(), snap)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(exp.dir, "accuracy-latest.json"))
	require.NoError(t, err)
	var written AccuracySnapshot
	require.NoError(t, json.Unmarshal(data, &written))

	written.Precision = 0.99
	assert.Error(t, exp.VerifyAccuracy(written))
}
