// Command vcpd is the control-plane process: it loads configuration
// once, constructs every component with injected collaborators (no
// ambient globals beyond the process-wide logger), and runs until
// signaled.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vircore/controlplane/internal/affinity"
	"github.com/vircore/controlplane/internal/audit"
	"github.com/vircore/controlplane/internal/auth"
	"github.com/vircore/controlplane/internal/balancer"
	"github.com/vircore/controlplane/internal/cluster"
	"github.com/vircore/controlplane/internal/config"
	"github.com/vircore/controlplane/internal/crypto"
	"github.com/vircore/controlplane/internal/fencing"
	"github.com/vircore/controlplane/internal/healthz"
	"github.com/vircore/controlplane/internal/log"
	"github.com/vircore/controlplane/internal/metrics"
	"github.com/vircore/controlplane/internal/snapshot"
	"github.com/vircore/controlplane/internal/storagebackend"
	"github.com/vircore/controlplane/internal/store"
	"github.com/vircore/controlplane/internal/types"
	"github.com/vircore/controlplane/internal/webhook"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "vcpd",
	Short:   "vcpd is the virtualization control-plane core process",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vcpd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(applyCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// core bundles every constructed component, passed by reference into
// the operations that use it rather than reached for through a global.
type core struct {
	cfg        *config.Config
	cryptoMgr  *crypto.Manager
	store      store.Store
	auditLog   *audit.Log
	rotator    *audit.Rotator
	authMgr    *auth.Manager
	storage    *storagebackend.Registry
	clusterMgr *cluster.Cluster
	fencingMgr *fencing.Manager
	affinity   *affinity.Engine
	balancer   *balancer.Balancer
	snapshots  *snapshot.Scheduler
	health     *healthz.Aggregator
	webhooks   *webhook.Dispatcher
}

func buildCore() (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cryptoMgr, err := crypto.LoadKey(cfg.Crypto)
	if err != nil {
		return nil, fmt.Errorf("load crypto key material: %w", err)
	}

	st, err := store.NewBoltStore(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	auditLog, err := audit.New(cfg.Audit.RingCapacity, cfg.Audit.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	var rotator *audit.Rotator
	if cfg.Audit.FilePath != "" {
		rotator = audit.NewRotator(cfg.Audit.FilePath, audit.RotationPolicy{
			Kind: audit.RotateDaily, AtHour: 0, MaxArchives: cfg.Audit.MaxArchives,
		})
	}

	authMgr := auth.New(st, cryptoMgr, auditLog)
	storage := storagebackend.NewRegistry(cfg.Store.DataDir)
	clusterMgr := cluster.New(cfg.Cluster.NodeID, cfg.Cluster.LockTTL)
	fencingMgr := fencing.New(cfg.Fencing.Enabled, cfg.Fencing.DeviceTimeout)
	affinityEngine := affinity.New()
	bal := balancer.New(balancer.Config{Strategy: balancer.StrategyWeighted, Threshold: 20, MinGain: 5, MaxMigrations: 2})

	snapshots := snapshot.New(cfg.Snapshot.TickInterval, lookupVM(st), &unimplementedSnapshotManager{})

	health := healthz.New()
	health.Register(healthz.FuncProbe{ProbeName: healthz.DatabaseProbeName, Fn: func(ctx context.Context) healthz.ComponentHealth {
		if _, err := st.ListVms(); err != nil {
			return healthz.ComponentHealth{Status: healthz.StatusUnhealthy, Message: err.Error()}
		}
		return healthz.ComponentHealth{Status: healthz.StatusHealthy}
	}})
	health.Register(healthz.FuncProbe{ProbeName: "cluster", Fn: func(ctx context.Context) healthz.ComponentHealth {
		return healthz.ComponentHealth{Status: healthz.StatusHealthy}
	}})
	if cmd := cfg.Observability.VMManagerProbe; len(cmd) > 0 {
		health.Register(healthz.NewExecProbe("vm-manager", cmd))
	}

	webhooks := webhook.New(webhook.Config{}, &noopSender{})

	return &core{
		cfg: cfg, cryptoMgr: cryptoMgr, store: st, auditLog: auditLog, rotator: rotator,
		authMgr: authMgr, storage: storage, clusterMgr: clusterMgr, fencingMgr: fencingMgr,
		affinity: affinityEngine, balancer: bal, snapshots: snapshots, health: health, webhooks: webhooks,
	}, nil
}

// lookupVM adapts the store's GetVm into the snapshot scheduler's lookup
// callback shape.
func lookupVM(st store.Store) snapshot.VmLookup {
	return func(id string) (*types.VmRecord, bool) {
		vm, err := st.GetVm(id)
		if err != nil {
			return nil, false
		}
		return vm, true
	}
}

// unimplementedSnapshotManager satisfies snapshot.SnapshotManager until
// a hypervisor-facing implementation is wired in at deployment.
type unimplementedSnapshotManager struct{}

func (unimplementedSnapshotManager) Create(ctx context.Context, vmID, name string, includeMemory bool) error {
	return fmt.Errorf("snapshot creation requires an external snapshot manager collaborator")
}

func (unimplementedSnapshotManager) List(ctx context.Context, vmID string) ([]types.SnapshotInfo, error) {
	return nil, nil
}

func (unimplementedSnapshotManager) Delete(ctx context.Context, vmID, name string) error {
	return nil
}

// noopSender is the default webhook Sender; production wiring replaces
// it with an HTTP client.
type noopSender struct{}

func (noopSender) Send(ctx context.Context, endpoint string, event types.AuditEvent) error {
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane core until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore()
		if err != nil {
			return err
		}
		defer c.store.Close()

		c.snapshots.Start()
		defer c.snapshots.Stop()

		stopSweeps := make(chan struct{})
		go runBackgroundSweeps(c, stopSweeps)
		defer close(stopSweeps)

		logger := log.WithComponent("vcpd")

		httpSrv := newObservabilityServer(c)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("observability server failed")
			}
		}()
		defer httpSrv.Shutdown(context.Background())

		logger.Info().Str("node_id", c.cfg.Cluster.NodeID).Str("listen_addr", c.cfg.Observability.ListenAddr).Msg("control plane started")

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		logger.Info().Msg("shutting down")
		return nil
	},
}

// runBackgroundSweeps drives the periodic sweepers: expired sessions,
// expired locks, stale nodes, and (if configured) audit rotation.
func runBackgroundSweeps(c *core, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			logger := log.WithComponent("vcpd")
			if _, err := c.store.SweepExpiredSessions(now); err != nil {
				logger.Warn().Err(err).Msg("session sweep failed")
			}
			c.clusterMgr.CleanupExpired(now)
			c.clusterMgr.SweepStaleNodes(now, 30*time.Second)
			if c.rotator != nil && c.rotator.Due(now) {
				if err := c.rotator.Rotate(now); err != nil {
					logger.Warn().Err(err).Msg("audit rotation failed")
				} else if err := c.auditLog.Reopen(); err != nil {
					logger.Warn().Err(err).Msg("audit file reopen after rotation failed")
				}
			}
		case <-stop:
			return
		}
	}
}

// newObservabilityServer exposes /healthz, /readyz, and /metrics over
// HTTP.
func newObservabilityServer(c *core) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		results, overall := c.health.Check(r.Context())
		if overall == healthz.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": overall, "components": results})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !c.health.Ready(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: c.cfg.Observability.ListenAddr, Handler: mux}
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Run startup health checks and print a summary to stderr",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "startup check failed: %v\n", err)
			return err
		}
		defer c.store.Close()

		results, overall := c.health.Check(context.Background())
		for _, r := range results {
			fmt.Fprintf(os.Stderr, "%-12s %-10s %s\n", r.Name, r.Status, r.Message)
		}
		if overall == healthz.StatusUnhealthy {
			os.Exit(1)
		}
		return nil
	},
}
