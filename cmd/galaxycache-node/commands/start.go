package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/galaxycache/internal/adminapi"
	"github.com/marmos91/galaxycache/internal/backup"
	"github.com/marmos91/galaxycache/internal/cluster"
	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/internal/idalloc"
	"github.com/marmos91/galaxycache/internal/logger"
	"github.com/marmos91/galaxycache/internal/metrics"
	"github.com/marmos91/galaxycache/internal/storage/memory"
	"github.com/marmos91/galaxycache/internal/telemetry"
	"github.com/marmos91/galaxycache/internal/xdrcomm"
	"github.com/marmos91/galaxycache/pkg/config"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a galaxycache node",
	Long: `Start a galaxycache node: bring up the coherence engine, join the
cluster, open the write-ahead backup log, and serve the admin API. The
log's existing entries are not replayed into the line table at start.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/galaxycache/config.yaml.

Examples:
  # Start with the default config
  galaxycache-node start

  # Start with a custom config file
  galaxycache-node start --config /etc/galaxycache/config.yaml

  # Start with environment variable overrides
  GALAXYCACHE_LOGGING_LEVEL=DEBUG galaxycache-node start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "galaxycache-node",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "galaxycache-node",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("galaxycache-node - distributed shared object cache")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	} else {
		logger.Info("Profiling disabled")
	}

	reg := metrics.New(cfg.Metrics.Enabled)
	coherenceMetrics := metrics.NewCoherenceMetrics(reg)
	if reg.IsEnabled() {
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// The coherence Node needs its own Comm before dispatching any op,
	// but the transport needs a callback into the Node to deliver
	// inbound messages. Break the cycle with a forwarding closure
	// closed over a pointer the Node is assigned to once constructed.
	var node *coherence.Node
	transport, err := xdrcomm.New(ctx, cfg.Node.ListenAddr, func(ctx context.Context, msg coherence.Message) {
		if node == nil {
			return
		}
		if err := node.Receive(ctx, msg); err != nil {
			logger.Error("failed to process inbound message", "error", err)
		}
	}, logger.With("component", "xdrcomm"))
	if err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer func() { _ = transport.Close() }()

	idAlloc, err := idalloc.New(ctx, cfg.Postgres, logger.With("component", "idalloc"))
	if err != nil {
		return fmt.Errorf("failed to start id allocator: %w", err)
	}
	defer idAlloc.Close()

	storage := memory.New(nil)

	// fetch closes over node the same way the transport's ReceiveFunc
	// does: backup.New needs it before the Node it resolves lines
	// through exists.
	fetch := func(id uint64) ([]byte, bool) {
		if node == nil {
			return nil, false
		}
		line, ok := node.Table().Lookup(coherence.LineID(id))
		if !ok {
			return nil, false
		}
		return line.Data(), true
	}

	backupStore, err := backup.New(ctx, cfg.Backup, fetch, logger.With("component", "backup"))
	if err != nil {
		return fmt.Errorf("failed to start backup log: %w", err)
	}
	defer func() {
		if err := backupStore.Close(); err != nil {
			logger.Error("backup store close error", "error", err)
		}
	}()

	var clusterHandle *cluster.Cluster
	if cfg.Postgres.DSN != "" {
		clusterHandle, err = cluster.New(ctx, cfg.Postgres, cfg.Node, transport, nodeEventSink{&node}, logger.With("component", "cluster"))
		if err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		clusterHandle.Start(ctx)
		defer clusterHandle.Stop()
	}

	node, err = coherence.NewNode(cfg.Coherence, coherence.NodeDeps{
		Comm:     commPtr(transport, cfg.Coherence.Mode == coherence.ServerDirected),
		Backup:   backupStore,
		Storage:  storage,
		IdAlloc:  idAlloc,
		Cluster:  clusterListener(clusterHandle),
		Listener: metrics.WrapListener(reg, coherence.NoopCacheListener{}),
		Recorder: coherenceMetrics,
		Log:      logger.With("component", "coherence"),
	})
	if err != nil {
		return fmt.Errorf("failed to start coherence engine: %w", err)
	}

	sampler := metrics.NewSampler(coherenceMetrics, node.Table(), metrics.DefaultSampleInterval)
	sampler.Start(ctx)
	defer sampler.Stop()

	var adminServer *adminapi.Server
	if cfg.AdminAPI.Enabled {
		adminServer, err = adminapi.NewServer(cfg.AdminAPI, node.Table(), node, clusterHandle)
		if err != nil {
			return fmt.Errorf("failed to create admin API server: %w", err)
		}
		logger.Info("Admin API configured", "port", adminServer.Port())
	}

	serverDone := make(chan error, 1)
	go func() {
		if adminServer == nil {
			<-ctx.Done()
			serverDone <- nil
			return
		}
		serverDone <- adminServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Node is running. Press Ctrl+C to stop.", "node_id", cfg.Node.ID, "listen_addr", cfg.Node.ListenAddr)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("admin API shutdown error", "error", err)
			return err
		}
		logger.Info("Node stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("admin API error", "error", err)
			return err
		}
		logger.Info("Node stopped")
	}

	return nil
}

// commPtr builds the engine-facing Comm from the transport, selecting
// server-directed routing when the deployment mode requires it.
func commPtr(t *xdrcomm.Transport, serverDirected bool) *coherence.Comm {
	c := t.Comm(serverDirected)
	return &c
}

// clusterListener adapts a possibly-nil *cluster.Cluster to
// coherence.ClusterListener; a nil cluster means standalone mode, which
// NewNode already treats as "no cluster membership configured".
func clusterListener(c *cluster.Cluster) coherence.ClusterListener {
	if c == nil {
		return nil
	}
	return c
}

// nodeEventSink defers to whatever *coherence.Node the enclosing
// closure's pointer is ultimately assigned to, since the cluster poller
// is started before the Node exists (see runStart's Comm wiring
// comment for why the same pattern is needed twice).
type nodeEventSink struct {
	node **coherence.Node
}

func (s nodeEventSink) NodeRemoved(ctx context.Context, id coherence.NodeID) {
	if *s.node != nil {
		(*s.node).NodeRemoved(ctx, id)
	}
}

func (s nodeEventSink) NodeSwitched(ctx context.Context, id coherence.NodeID) {
	if *s.node != nil {
		(*s.node).NodeSwitched(ctx, id)
	}
}
