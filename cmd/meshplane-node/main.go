// Command meshplane-node runs the fleet control process on one device:
// pairing admission, membership, role topology, preflight gating,
// containment, and merge validation, wired from environment
// configuration and the fleet operating profile.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meshplane/core/pkg/artifacts"
	"github.com/meshplane/core/pkg/audit"
	"github.com/meshplane/core/pkg/config"
	"github.com/meshplane/core/pkg/consistency"
	"github.com/meshplane/core/pkg/containment"
	"github.com/meshplane/core/pkg/crypto"
	"github.com/meshplane/core/pkg/identity"
	"github.com/meshplane/core/pkg/observability"
	"github.com/meshplane/core/pkg/pairing"
	"github.com/meshplane/core/pkg/preflight"
	"github.com/meshplane/core/pkg/registry"
	"github.com/meshplane/core/pkg/topology"
)

const nodeVersion = "1.4.0"

func main() {
	if err := run(); err != nil {
		slog.Error("node failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.DeviceID == "" {
		return fmt.Errorf("MESHPLANE_DEVICE_ID is required")
	}

	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.ProfileName)
	if err != nil {
		return fmt.Errorf("load fleet profile: %w", err)
	}
	logger.Info("fleet profile loaded", "profile", profile.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = nodeVersion
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Enabled = true
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	keyring, err := loadKeyring(cfg.FleetRootKey)
	if err != nil {
		return err
	}

	incidentSigner, err := keyring.DeriveSigner("incident-log")
	if err != nil {
		return fmt.Errorf("derive incident signer: %w", err)
	}
	snapshotSigner, err := keyring.DeriveSigner("accuracy-snapshot")
	if err != nil {
		return fmt.Errorf("derive snapshot signer: %w", err)
	}
	assertions, err := identity.NewAssertionManager(keyring)
	if err != nil {
		return fmt.Errorf("init assertion manager: %w", err)
	}

	// Membership.
	maxDevices := profile.Registry.MaxDevices
	if maxDevices == 0 {
		maxDevices = 100
	}
	regStore, err := newRegistryStore(cfg, profile.Registry.Backend)
	if err != nil {
		return err
	}
	reg, err := registry.New(maxDevices, regStore, registry.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	// Topology.
	topoStore, err := topology.NewFileStore(filepath.Join(cfg.DataDir, "topology"))
	if err != nil {
		return fmt.Errorf("init topology store: %w", err)
	}
	topo, err := topology.New(reg, topoStore, topology.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init topology: %w", err)
	}
	replication := topology.NewReplicationTracker(replicationInterval(profile))

	// Pairing.
	events, err := audit.NewFileEventLog(filepath.Join(cfg.DataDir, "pairing-events.jsonl"))
	if err != nil {
		return fmt.Errorf("init pairing event log: %w", err)
	}
	defer events.Close()

	pairingOpts := []pairing.Option{
		pairing.WithLogger(logger),
		pairing.WithEventSink(events),
		pairing.WithMetrics(obs),
	}
	if ttl := profile.Pairing.TokenTTL(); ttl > 0 {
		pairingOpts = append(pairingOpts, pairing.WithTokenTTL(ttl))
	}
	if fw, ft, lo := profile.Pairing.FailureWindowSeconds, profile.Pairing.FailureThreshold, profile.Pairing.LockoutSeconds; fw > 0 && ft > 0 && lo > 0 {
		limiter := pairing.NewFailureLimiter(
			time.Duration(fw)*time.Second,
			ft,
			time.Duration(lo)*time.Second,
			nil,
		)
		pairingOpts = append(pairingOpts, pairing.WithFailureLimiter(limiter))
	}
	pairingSvc := pairing.NewService(profile.Pairing.PendingTokenPoolSize, pairingOpts...)

	// Containment.
	incidentStore, err := containment.NewFileIncidentStore(filepath.Join(cfg.DataDir, "incidents"))
	if err != nil {
		return fmt.Errorf("init incident store: %w", err)
	}
	containOpts := []containment.Option{
		containment.WithLogger(logger),
		containment.WithMetrics(obs),
		containment.WithIncidentStore(incidentStore),
	}
	var flags containment.LockFlagStore
	if cfg.RedisAddr != "" {
		redisFlags := containment.NewRedisFlagStore(cfg.RedisAddr, "", 0, "")
		defer redisFlags.Close()
		flags = redisFlags
	} else {
		flags = containment.NewMemoryFlagStore()
	}
	containOpts = append(containOpts, containment.WithFlagStore(flags))
	controller, err := containment.NewController(incidentSigner, assertions, containOpts...)
	if err != nil {
		return fmt.Errorf("init containment controller: %w", err)
	}

	// Merge validation and export.
	archive, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}
	exporter, err := artifacts.NewExporter(filepath.Join(cfg.DataDir, "snapshots"), archive, snapshotSigner)
	if err != nil {
		return fmt.Errorf("init exporter: %w", err)
	}
	merges := &mergeGate{
		validator: consistency.NewValidator(consistencyOptions(profile)...),
		exporter:  exporter,
		inbox:     filepath.Join(cfg.DataDir, "merge-reports.json"),
		logger:    logger,
	}

	// Preflight.
	gate, err := buildGate(cfg, profile, reg, topo, flags, logger, obs)
	if err != nil {
		return err
	}

	logger.Info("meshplane node started",
		"device_id", cfg.DeviceID,
		"max_devices", maxDevices,
		"mode", controller.EffectiveMode(),
		"pending_tokens", pairingSvc.PendingCount(),
	)

	// Incidents replayed from the durable log were already archived by
	// the run that raised them.
	var lastExportedIncident int64
	if incs := controller.Incidents(); len(incs) > 0 {
		lastExportedIncident = incs[len(incs)-1].ID
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("meshplane node stopping")
			return nil
		case <-ticker.C:
			if replication.ShouldReplicate(time.Now()) {
				snapshot := topo.Quorum()
				logger.Info("replication due",
					"quorum_ok", snapshot.QuorumOK,
					"authority", snapshot.AuthorityCount,
					"storage", snapshot.StorageCount,
					"worker", snapshot.WorkerCount,
				)
				replication.MarkReplicated(time.Now())
			}
			res := gate.Evaluate(ctx)
			if !res.Passed {
				logger.Warn("preflight not green", "failed_checks", res.Failed)
			}
			merges.drainInbox(ctx)
			for _, inc := range controller.Incidents() {
				if inc.ID <= lastExportedIncident {
					continue
				}
				if _, err := exporter.ExportIncident(ctx, inc); err != nil {
					logger.Error("export incident", "incident_id", inc.ID, "error", err)
					break
				}
				lastExportedIncident = inc.ID
			}
		}
	}
}

// mergeGate validates merge-candidate reports dropped at the inbox path
// by the training runtime and exports a fresh accuracy snapshot on pass.
// The inbox file is consumed whether or not the merge is admitted; the
// verdict is final for that proposal.
type mergeGate struct {
	validator *consistency.Validator
	exporter  *artifacts.Exporter
	inbox     string
	logger    *slog.Logger
}

func (g *mergeGate) drainInbox(ctx context.Context) {
	data, err := os.ReadFile(g.inbox)
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.Error("read merge inbox", "error", err)
		}
		return
	}
	defer func() {
		if err := os.Remove(g.inbox); err != nil {
			g.logger.Error("consume merge inbox", "error", err)
		}
	}()

	var reports []consistency.DeviceReport
	if err := json.Unmarshal(data, &reports); err != nil {
		g.logger.Error("parse merge reports", "error", err)
		return
	}

	verdict := g.validator.Validate(reports)
	if !verdict.MergeAllowed {
		g.logger.Warn("merge blocked",
			"check", verdict.Failed,
			"device_id", verdict.DeviceID,
			"reason", verdict.Reason,
		)
		return
	}

	snap, err := artifacts.SnapshotFromVerdict(verdict, reports, time.Now())
	if err != nil {
		g.logger.Error("build accuracy snapshot", "error", err)
		return
	}
	if _, err := g.exporter.ExportAccuracy(ctx, snap); err != nil {
		g.logger.Error("export accuracy snapshot", "error", err)
		return
	}
	g.logger.Info("merge admitted", "devices", snap.DeviceCount, "reference", snap.ReferenceDevice)
}

// quorumAdapter exposes the topology's quorum verdict to the gate.
type quorumAdapter struct {
	topo *topology.Topology
}

func (q quorumAdapter) QuorumOK() bool {
	return q.topo.Quorum().QuorumOK
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func loadKeyring(rootHex string) (*crypto.Keyring, error) {
	if rootHex == "" {
		slog.Warn("MESHPLANE_FLEET_ROOT_KEY unset, generating ephemeral keyring")
		return crypto.NewRandomKeyring()
	}
	root, err := hex.DecodeString(rootHex)
	if err != nil {
		return nil, fmt.Errorf("decode fleet root key: %w", err)
	}
	return crypto.NewKeyring(root)
}

func newRegistryStore(cfg *config.Config, backend string) (registry.Store, error) {
	switch backend {
	case "", "file":
		return registry.NewFileStore(filepath.Join(cfg.DataDir, "registry.json"))
	case "sqlite":
		return registry.NewSQLiteStore(filepath.Join(cfg.DataDir, "registry.db"))
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("MESHPLANE_DATABASE_URL is required for the postgres backend")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store := registry.NewPostgresStore(db)
		if err := store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate registry: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported registry backend: %s", backend)
	}
}

func replicationInterval(profile *config.FleetProfile) time.Duration {
	if d := profile.Topology.ReplicationInterval(); d > 0 {
		return d
	}
	return topology.DefaultReplicationInterval
}

func consistencyOptions(profile *config.FleetProfile) []consistency.ValidatorOption {
	c := profile.Consistency
	if c.PrecisionTolerance > 0 && c.CalibrationTolerance > 0 {
		return []consistency.ValidatorOption{consistency.WithTolerances(c.PrecisionTolerance, c.CalibrationTolerance)}
	}
	return nil
}

func buildGate(
	cfg *config.Config,
	profile *config.FleetProfile,
	reg *registry.Registry,
	topo *topology.Topology,
	flags containment.LockFlagStore,
	logger *slog.Logger,
	obs *observability.Provider,
) (*preflight.Gate, error) {
	constraint := profile.Preflight.VersionConstraint
	if constraint == "" {
		constraint = "~" + nodeVersion
	}
	// Host evidence checks come from the profile: attested out of band
	// by provisioning, false unless explicitly reported good.
	telemetry := preflight.StaticProbe(preflight.CheckTelemetryFresh, false)
	if profile.Preflight.TelemetryMarker != "" {
		maxAge := profile.Preflight.TelemetryMaxAge()
		if maxAge <= 0 {
			maxAge = time.Minute
		}
		telemetry = preflight.TelemetryFreshProbe(profile.Preflight.TelemetryMarker, maxAge, time.Now)
	}
	probes := []preflight.Probe{
		preflight.StorageWritableProbe(cfg.DataDir),
		preflight.RegisteredProbe(reg, cfg.DeviceID),
		preflight.QuorumProbe(quorumAdapter{topo}),
		preflight.VersionProbe(nodeVersion, constraint),
		preflight.NoLockdownProbe(flags),
		preflight.StaticProbe(preflight.CheckMeshTransport, profile.Preflight.MeshTransportActive),
		preflight.StaticProbe(preflight.CheckDiskEncryption, profile.Preflight.DiskEncryptionActive),
		preflight.StaticProbe(preflight.CheckThermalLimits, profile.Preflight.ThermalWithinLimits),
		telemetry,
	}

	opts := []preflight.GateOption{
		preflight.WithLogger(logger),
		preflight.WithMetrics(obs),
	}
	if d := profile.Preflight.ProbeTimeout(); d > 0 {
		opts = append(opts, preflight.WithProbeTimeout(d))
	}
	if len(profile.Preflight.DenyRules) > 0 {
		policy, err := preflight.NewPolicy(profile.Preflight.DenyRules)
		if err != nil {
			return nil, fmt.Errorf("compile preflight policy: %w", err)
		}
		opts = append(opts, preflight.WithPolicy(policy))
	}
	return preflight.NewGate(probes, opts...), nil
}
