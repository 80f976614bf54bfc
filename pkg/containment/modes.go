// Package containment downgrades the fleet to a restricted operating
// mode the instant a monitored anomaly signal crosses its threshold,
// recording a tamper-evident incident for every transition. Recovery is
// never automatic: only an explicit re-validation call lifts the lock.
package containment

import "fmt"

// Mode is the fleet's operating mode.
type Mode string

const (
	// ModeRestricted is the baseline: no autonomous authority.
	ModeRestricted Mode = "RESTRICTED"
	// ModeShadowEnabled allows advisory automation.
	ModeShadowEnabled Mode = "SHADOW_ENABLED"
	// ModeContained is the post-incident lockdown, reported when the
	// controller is locked in restricted mode.
	ModeContained Mode = "CONTAINED"
)

// TriggerKind names a monitored anomaly signal.
type TriggerKind string

const (
	TriggerDriftSpike           TriggerKind = "DRIFT_SPIKE"
	TriggerEntropyCollapse      TriggerKind = "ENTROPY_COLLAPSE"
	TriggerCalibrationInflation TriggerKind = "CALIBRATION_INFLATION"
	TriggerConsensusDivergence  TriggerKind = "CONSENSUS_DIVERGENCE"
	TriggerModelAging           TriggerKind = "MODEL_AGING"
)

// TriggerDefault carries a trigger's built-in threshold and description.
type TriggerDefault struct {
	Threshold   float64
	Description string
}

// triggerDefaults routes every kind through the same contain-and-log
// primitive; only the threshold and wording differ per cause.
var triggerDefaults = map[TriggerKind]TriggerDefault{
	TriggerDriftSpike:           {Threshold: 2.0, Description: "gradient drift spike exceeded tolerance"},
	TriggerEntropyCollapse:      {Threshold: 0.5, Description: "output entropy collapsed below operating floor"},
	TriggerCalibrationInflation: {Threshold: 0.1, Description: "calibration error inflated beyond tolerance"},
	TriggerConsensusDivergence:  {Threshold: 0.25, Description: "device consensus diverged beyond tolerance"},
	TriggerModelAging:           {Threshold: 30.0, Description: "model age exceeded refresh deadline"},
}

// DefaultFor returns the built-in threshold and description for a
// trigger kind.
func DefaultFor(kind TriggerKind) (TriggerDefault, error) {
	d, ok := triggerDefaults[kind]
	if !ok {
		return TriggerDefault{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, kind)
	}
	return d, nil
}

// Valid reports whether the trigger kind is recognized.
func (k TriggerKind) Valid() bool {
	_, ok := triggerDefaults[k]
	return ok
}
