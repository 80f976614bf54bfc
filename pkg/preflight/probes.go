package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
)

// DeviceDirectory answers registration lookups for the local device.
type DeviceDirectory interface {
	IsRegistered(deviceID string) bool
}

// RegisteredProbe checks that the local device appears in the fleet
// registry.
func RegisteredProbe(dir DeviceDirectory, deviceID string) Probe {
	return ProbeFunc{
		CheckName: CheckDeviceRegistered,
		Fn: func(ctx context.Context) (bool, error) {
			return dir.IsRegistered(deviceID), nil
		},
	}
}

// StorageWritableProbe verifies the data directory accepts writes by
// creating and removing a scratch file.
func StorageWritableProbe(dir string) Probe {
	return ProbeFunc{
		CheckName: CheckStorageWritable,
		Fn: func(ctx context.Context) (bool, error) {
			f, err := os.CreateTemp(dir, ".preflight-*")
			if err != nil {
				return false, fmt.Errorf("storage probe: %w", err)
			}
			name := f.Name()
			_, werr := f.Write([]byte("ok"))
			cerr := f.Close()
			_ = os.Remove(name)
			if werr != nil {
				return false, fmt.Errorf("storage probe: %w", werr)
			}
			if cerr != nil {
				return false, fmt.Errorf("storage probe: %w", cerr)
			}
			return true, nil
		},
	}
}

// VersionProbe checks the local runtime version against the fleet's
// required constraint, e.g. "~1.4.0". Unparseable versions fail closed.
func VersionProbe(localVersion, constraint string) Probe {
	return ProbeFunc{
		CheckName: CheckVersionMatch,
		Fn: func(ctx context.Context) (bool, error) {
			c, err := semver.NewConstraint(constraint)
			if err != nil {
				return false, fmt.Errorf("version constraint %q: %w", constraint, err)
			}
			v, err := semver.NewVersion(localVersion)
			if err != nil {
				return false, fmt.Errorf("local version %q: %w", localVersion, err)
			}
			return c.Check(v), nil
		},
	}
}

// LockFlagReader reports whether a fleet-wide lockdown flag is raised.
type LockFlagReader interface {
	Locked(ctx context.Context) (bool, error)
}

// NoLockdownProbe passes only when the shared lockdown flag is absent.
func NoLockdownProbe(flags LockFlagReader) Probe {
	return ProbeFunc{
		CheckName: CheckNoLockdownFlag,
		Fn: func(ctx context.Context) (bool, error) {
			locked, err := flags.Locked(ctx)
			if err != nil {
				return false, fmt.Errorf("lockdown flag: %w", err)
			}
			return !locked, nil
		},
	}
}

// QuorumChecker reports whether the active role assignments form a
// functioning cluster.
type QuorumChecker interface {
	QuorumOK() bool
}

// QuorumProbe passes when the topology reports quorum.
func QuorumProbe(q QuorumChecker) Probe {
	return ProbeFunc{
		CheckName: CheckQuorumEvidence,
		Fn: func(ctx context.Context) (bool, error) {
			return q.QuorumOK(), nil
		},
	}
}

// TelemetryFreshProbe passes when the marker file at path was modified
// within maxAge of now.
func TelemetryFreshProbe(path string, maxAge time.Duration, now func() time.Time) Probe {
	return ProbeFunc{
		CheckName: CheckTelemetryFresh,
		Fn: func(ctx context.Context) (bool, error) {
			info, err := os.Stat(filepath.Clean(path))
			if err != nil {
				return false, fmt.Errorf("telemetry marker: %w", err)
			}
			return now().Sub(info.ModTime()) <= maxAge, nil
		},
	}
}

// StaticProbe returns a fixed outcome, for checks whose evidence is
// gathered out of band (disk encryption state, thermal readings).
func StaticProbe(name CheckName, passed bool) Probe {
	return ProbeFunc{
		CheckName: name,
		Fn:        func(ctx context.Context) (bool, error) { return passed, nil },
	}
}
