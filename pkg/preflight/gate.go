// Package preflight aggregates independent readiness checks into one
// fail-closed decision gating privileged operations (training start,
// model merge). The gate owns only the aggregation rule: every named
// check must be true, a check that cannot be evaluated counts as false,
// and no majority heuristic can override a single failure.
package preflight

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/meshplane/core/pkg/observability"
)

// CheckName identifies one readiness check.
type CheckName string

const (
	CheckStorageWritable  CheckName = "storage_writable"
	CheckQuorumEvidence   CheckName = "quorum_evidence"
	CheckMeshTransport    CheckName = "mesh_transport_active"
	CheckDeviceRegistered CheckName = "device_registered"
	CheckVersionMatch     CheckName = "version_match"
	CheckDiskEncryption   CheckName = "disk_encryption_active"
	CheckThermalLimits    CheckName = "thermal_within_limits"
	CheckNoLockdownFlag   CheckName = "no_lockdown_flag"
	CheckTelemetryFresh   CheckName = "telemetry_fresh"
)

// Probe supplies the boolean outcome of one named check. Probes that
// consult the OS or hardware live outside this package; the gate only
// runs them under a bounded timeout.
type Probe interface {
	Name() CheckName
	Check(ctx context.Context) (bool, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	CheckName CheckName
	Fn        func(ctx context.Context) (bool, error)
}

func (p ProbeFunc) Name() CheckName { return p.CheckName }

func (p ProbeFunc) Check(ctx context.Context) (bool, error) { return p.Fn(ctx) }

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name   CheckName `json:"name"`
	Passed bool      `json:"passed"`
	Detail string    `json:"detail,omitempty"`
}

// Result is the gate's decision. Passed is the AND of every check (and
// the policy verdict, when a policy is configured); Failed lists the
// checks that blocked the operation, for diagnostics only.
type Result struct {
	Passed bool          `json:"passed"`
	Checks []CheckResult `json:"checks"`
	Failed []CheckName   `json:"failed,omitempty"`
}

// DefaultProbeTimeout bounds each probe call.
const DefaultProbeTimeout = 3 * time.Second

// Gate evaluates the configured probes.
type Gate struct {
	probes  []Probe
	timeout time.Duration
	policy  *Policy
	logger  *slog.Logger
	metrics *observability.Provider
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithProbeTimeout bounds each probe call; a probe that does not answer
// in time fails its check.
func WithProbeTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithPolicy attaches a CEL policy that is AND-ed into the verdict. The
// policy can only deny, never resurrect a failed check.
func WithPolicy(p *Policy) GateOption {
	return func(g *Gate) { g.policy = p }
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// WithMetrics wires the observability counters.
func WithMetrics(m *observability.Provider) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a gate over the given probes.
func NewGate(probes []Probe, opts ...GateOption) *Gate {
	g := &Gate{
		probes:  probes,
		timeout: DefaultProbeTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs every probe and aggregates fail-closed. Probe errors and
// timeouts are recorded as failed checks with the error as detail; they
// are never retried here.
func (g *Gate) Evaluate(ctx context.Context) Result {
	res := Result{Passed: true, Checks: make([]CheckResult, 0, len(g.probes))}

	for _, probe := range g.probes {
		cr := g.runProbe(ctx, probe)
		res.Checks = append(res.Checks, cr)
		if !cr.Passed {
			res.Passed = false
			res.Failed = append(res.Failed, cr.Name)
		}
	}

	if g.policy != nil {
		allowed, detail := g.policy.Evaluate(res.Checks)
		if !allowed {
			res.Passed = false
			res.Failed = append(res.Failed, PolicyCheckName)
			res.Checks = append(res.Checks, CheckResult{Name: PolicyCheckName, Passed: false, Detail: detail})
		} else {
			res.Checks = append(res.Checks, CheckResult{Name: PolicyCheckName, Passed: true})
		}
	}

	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i] < res.Failed[j] })

	if !res.Passed {
		g.logger.Warn("preflight denied", "failed_checks", res.Failed)
	}
	g.metrics.RecordPreflightDecision(ctx, res.Passed)
	return res
}

func (g *Gate) runProbe(ctx context.Context, probe Probe) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		ok, err := probe.Check(cctx)
		ch <- outcome{ok, err}
	}()

	select {
	case <-cctx.Done():
		// Absence of evidence is treated as false.
		return CheckResult{Name: probe.Name(), Passed: false, Detail: "probe timed out"}
	case out := <-ch:
		if out.err != nil {
			return CheckResult{Name: probe.Name(), Passed: false, Detail: out.err.Error()}
		}
		return CheckResult{Name: probe.Name(), Passed: out.ok}
	}
}

// Aggregate folds a set of precomputed check outcomes without running
// probes, for callers that gathered the booleans themselves.
func Aggregate(checks map[CheckName]bool) Result {
	res := Result{Passed: true}
	names := make([]CheckName, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, name := range names {
		ok := checks[name]
		res.Checks = append(res.Checks, CheckResult{Name: name, Passed: ok})
		if !ok {
			res.Passed = false
			res.Failed = append(res.Failed, name)
		}
	}
	return res
}
