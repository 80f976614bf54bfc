// Package consistency is the merge-admission gate: before a distributed
// merge, it compares per-device result reports against a single
// reference report under strict tolerances and blocks on the first
// inconsistency. There is no partial or majority merge.
package consistency

import (
	"fmt"
	"math"
	"time"
)

// RequiredSeed is the fixed training seed shared by every node in the
// fleet. A report carrying any other seed cannot have run the same
// computation.
const RequiredSeed int64 = 42

// Default tolerances for the floating-point checks. Boundaries are
// inclusive: a delta exactly equal to the tolerance passes.
const (
	DefaultPrecisionTolerance = 0.0001
	DefaultErrorTolerance     = 0.0001
)

// CheckKind names one consistency check.
type CheckKind string

const (
	CheckInsufficientDevices CheckKind = "InsufficientDevices"
	CheckSeedMismatch        CheckKind = "SeedMismatch"
	CheckFieldMismatch       CheckKind = "FieldMismatch"
	CheckEpochMismatch       CheckKind = "EpochMismatch"
	CheckHashMismatch        CheckKind = "HashMismatch"
	CheckPrecisionMismatch   CheckKind = "PrecisionMismatch"
	CheckEceMismatch         CheckKind = "EceMismatch"
	CheckPass                CheckKind = "Pass"
)

// DeviceReport summarizes one device's merge candidate.
type DeviceReport struct {
	DeviceID         string    `json:"device_id"`
	Digest           string    `json:"digest"`
	Precision        float64   `json:"precision"`
	CalibrationError float64   `json:"calibration_error"`
	Seed             int64     `json:"seed"`
	Epoch            int64     `json:"epoch"`
	Field            string    `json:"field"`
	Timestamp        time.Time `json:"timestamp"`
}

// Verdict is the validator's decision. MergeAllowed is true only when
// the reference matched every other report with zero mismatches across
// all checks.
type Verdict struct {
	Passed        bool      `json:"passed"`
	Failed        CheckKind `json:"failed_check,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	MismatchCount int       `json:"mismatch_count"`
	Reason        string    `json:"reason"`
	MergeAllowed  bool      `json:"merge_allowed"`
}

// Validator compares device reports for merge admission.
type Validator struct {
	precisionTolerance float64
	errorTolerance     float64
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithTolerances overrides the default precision and calibration-error
// tolerances.
func WithTolerances(precision, calibration float64) ValidatorOption {
	return func(v *Validator) {
		v.precisionTolerance = precision
		v.errorTolerance = calibration
	}
}

// NewValidator creates a validator with the default tolerances.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		precisionTolerance: DefaultPrecisionTolerance,
		errorTolerance:     DefaultErrorTolerance,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the checks in a fixed short-circuit order over the
// reports; the first failing check wins and aborts the scan. The first
// report is the reference the rest are compared against.
func (v *Validator) Validate(reports []DeviceReport) Verdict {
	if len(reports) < 2 {
		return fail(CheckInsufficientDevices, "", fmt.Sprintf("need at least 2 reports, got %d", len(reports)))
	}

	ref := reports[0]

	// Structural checks run over every report, reference included.
	for _, r := range reports {
		if r.Seed != RequiredSeed {
			return fail(CheckSeedMismatch, r.DeviceID, fmt.Sprintf("device %s ran seed %d, fleet requires %d", r.DeviceID, r.Seed, RequiredSeed))
		}
		if r.Field != ref.Field {
			return fail(CheckFieldMismatch, r.DeviceID, fmt.Sprintf("device %s reported field %q, reference is %q", r.DeviceID, r.Field, ref.Field))
		}
		if r.Epoch != ref.Epoch {
			return fail(CheckEpochMismatch, r.DeviceID, fmt.Sprintf("device %s reported epoch %d, reference is %d", r.DeviceID, r.Epoch, ref.Epoch))
		}
	}

	// Result checks compare non-reference reports against the reference.
	for _, r := range reports[1:] {
		if r.Digest != ref.Digest {
			return fail(CheckHashMismatch, r.DeviceID, fmt.Sprintf("device %s digest diverged from reference", r.DeviceID))
		}
		if math.Abs(r.Precision-ref.Precision) > v.precisionTolerance {
			return fail(CheckPrecisionMismatch, r.DeviceID, fmt.Sprintf("device %s precision %.6f deviates from reference %.6f beyond %.6f", r.DeviceID, r.Precision, ref.Precision, v.precisionTolerance))
		}
		if math.Abs(r.CalibrationError-ref.CalibrationError) > v.errorTolerance {
			return fail(CheckEceMismatch, r.DeviceID, fmt.Sprintf("device %s calibration error %.6f deviates from reference %.6f beyond %.6f", r.DeviceID, r.CalibrationError, ref.CalibrationError, v.errorTolerance))
		}
	}

	return Verdict{
		Passed:       true,
		Failed:       CheckPass,
		Reason:       fmt.Sprintf("all %d reports consistent with reference %s", len(reports), ref.DeviceID),
		MergeAllowed: true,
	}
}

func fail(kind CheckKind, deviceID, reason string) Verdict {
	return Verdict{
		Passed:        false,
		Failed:        kind,
		DeviceID:      deviceID,
		MismatchCount: 1,
		Reason:        reason,
		MergeAllowed:  false,
	}
}
