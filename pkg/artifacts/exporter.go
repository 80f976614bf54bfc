package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meshplane/core/pkg/canonicalize"
	"github.com/meshplane/core/pkg/consistency"
	"github.com/meshplane/core/pkg/containment"
	"github.com/meshplane/core/pkg/crypto"
	"github.com/meshplane/core/pkg/store"
)

// AccuracySnapshot is the durable record of the latest validated
// metrics, refreshed after each passing merge validation.
type AccuracySnapshot struct {
	Timestamp        time.Time           `json:"timestamp"`
	ReferenceDevice  string              `json:"reference_device"`
	DeviceCount      int                 `json:"device_count"`
	Precision        float64             `json:"precision"`
	CalibrationError float64             `json:"calibration_error"`
	Epoch            int64               `json:"epoch"`
	Verdict          consistency.Verdict `json:"verdict"`
	Signature        string              `json:"signature,omitempty"`
}

// Exporter writes accuracy snapshots and containment incidents for the
// reporting tooling outside this core. The latest snapshot lives at a
// fixed path replaced atomically; every record is also archived in the
// content-addressed store.
type Exporter struct {
	dir     string
	archive Store
	signer  crypto.Signer
}

// NewExporter creates (if needed) the snapshot directory. archive and
// signer may be nil to disable archiving and signing.
func NewExporter(dir string, archive Store, signer crypto.Signer) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure snapshot dir: %w", err)
	}
	return &Exporter{dir: dir, archive: archive, signer: signer}, nil
}

// ExportAccuracy replaces the latest-metrics record and archives a copy.
// It returns the archive content hash, empty when archiving is disabled.
func (e *Exporter) ExportAccuracy(ctx context.Context, snap AccuracySnapshot) (string, error) {
	if e.signer != nil {
		unsigned := snap
		unsigned.Signature = ""
		payload, err := canonicalize.JCS(unsigned)
		if err != nil {
			return "", fmt.Errorf("canonicalize snapshot: %w", err)
		}
		sig, err := e.signer.Sign(payload)
		if err != nil {
			return "", fmt.Errorf("sign snapshot: %w", err)
		}
		snap.Signature = sig
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := store.WriteFileAtomic(filepath.Join(e.dir, "accuracy-latest.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return e.archiveBlob(ctx, data)
}

// ExportIncident writes one containment incident record, named by its
// sequence id, and archives a copy. Incidents are already signed and
// chained by the controller; the exporter stores them verbatim.
func (e *Exporter) ExportIncident(ctx context.Context, inc containment.Incident) (string, error) {
	data, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode incident %d: %w", inc.ID, err)
	}
	name := fmt.Sprintf("incident-%06d.json", inc.ID)
	if err := store.WriteFileAtomic(filepath.Join(e.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write incident %d: %w", inc.ID, err)
	}
	return e.archiveBlob(ctx, data)
}

// SnapshotFromVerdict derives an accuracy snapshot from a passing
// validation run.
func SnapshotFromVerdict(verdict consistency.Verdict, reports []consistency.DeviceReport, now time.Time) (AccuracySnapshot, error) {
	if !verdict.MergeAllowed || len(reports) == 0 {
		return AccuracySnapshot{}, fmt.Errorf("snapshot requires a passing verdict with reports")
	}
	ref := reports[0]
	return AccuracySnapshot{
		Timestamp:        now.UTC(),
		ReferenceDevice:  ref.DeviceID,
		DeviceCount:      len(reports),
		Precision:        ref.Precision,
		CalibrationError: ref.CalibrationError,
		Epoch:            ref.Epoch,
		Verdict:          verdict,
	}, nil
}

// VerifyAccuracy checks a snapshot's signature.
func (e *Exporter) VerifyAccuracy(snap AccuracySnapshot) error {
	if e.signer == nil {
		return fmt.Errorf("no signer configured")
	}
	sig := snap.Signature
	snap.Signature = ""
	payload, err := canonicalize.JCS(snap)
	if err != nil {
		return fmt.Errorf("canonicalize snapshot: %w", err)
	}
	if !e.signer.Verify(payload, sig) {
		return fmt.Errorf("snapshot signature mismatch")
	}
	return nil
}

func (e *Exporter) archiveBlob(ctx context.Context, data []byte) (string, error) {
	if e.archive == nil {
		return "", nil
	}
	hash, err := e.archive.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("archive blob: %w", err)
	}
	return hash, nil
}
