package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/beacon/internal/config"
	"github.com/3leaps/beacon/internal/observability"
	"github.com/3leaps/beacon/internal/orchestrator"
	"github.com/3leaps/beacon/internal/server"
	"github.com/3leaps/beacon/internal/server/handlers"
	"github.com/3leaps/beacon/pkg/agentstate"
	"github.com/3leaps/beacon/pkg/engine"
	"github.com/3leaps/beacon/pkg/gateway"
	"github.com/3leaps/beacon/pkg/jobregistry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loop",
	Long: `Run the agent: poll the operator gateway, answer commands, and fire the
heartbeat cycle on the configured interval.

SIGINT or SIGTERM stops the loop. Outstanding runs get server.shutdown_timeout
to finish before the final state save.

Examples:
  beacon run
  beacon run --console             # Talk to the agent on stdin/stdout
  beacon run --serve --port 9000   # Also expose /health and /status`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("console", false, "Use the console gateway regardless of config")
	runCmd.Flags().Bool("serve", false, "Enable the status server regardless of config")
	runCmd.Flags().Int("port", 0, "Status server port override")
}

// agent holds the wired runtime.
type agent struct {
	cfg     *config.Config
	logger  *zap.Logger
	gw      gateway.Gateway
	engine  *engine.Engine
	orch    *orchestrator.Orchestrator
	store   agentstate.Store
	redis   *redis.Client
	journal *jobregistry.Store
	server  *server.Server
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to load config", err)
	}
	if forced, _ := cmd.Flags().GetBool("console"); forced {
		cfg.Gateway.Kind = config.GatewayConsole
	}
	if serve, _ := cmd.Flags().GetBool("serve"); serve {
		cfg.Server.Enabled = true
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if err := cfg.ValidateForRun(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "configuration is incomplete", err)
	}

	logger, err := observability.Init(config.AppName, observability.LoggingConfig{
		Level:   cfg.Logging.Level,
		Profile: cfg.Logging.Profile,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid logging config", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(ctx, cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return a.run(ctx)
}

func newAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger, in io.Reader, out io.Writer) (*agent, error) {
	a := &agent{cfg: cfg, logger: logger}

	store, client, err := openStateStore(cfg)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "failed to open state store", err)
	}
	a.store, a.redis = store, client
	state := loadState(ctx, store, logger)

	a.journal = journalStore(cfg)
	executor := jobregistry.NewExecutor(a.journal, logger.Named("executor"))
	cat, err := buildCatalog(cfg, executor, logger)
	if err != nil {
		a.closeStore()
		return nil, exitError(foundry.ExitFileReadError, "failed to load job catalog", err)
	}

	llm, err := newReasoningClient(cfg)
	if err != nil {
		a.closeStore()
		return nil, exitError(foundry.ExitInvalidArgument, "failed to configure reasoning client", err)
	}

	gw, primary, err := openGateway(cfg, in, out, logger)
	if err != nil {
		a.closeStore()
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "failed to open gateway", err)
	}
	a.gw = gw

	a.engine = engine.New(cat,
		engine.WithNotifier(orchestrator.NewNotifier(gw, primary, logger.Named("notify"))),
		engine.WithRecorder(a.journal),
		engine.WithLogger(logger.Named("engine")),
	)

	a.orch, err = orchestrator.New(orchestratorConfig(cfg, primary), orchestrator.Deps{
		Gateway:   gw,
		Engine:    a.engine,
		Catalog:   cat,
		Reasoning: llm,
		Store:     store,
		State:     state,
		History:   a.journal,
		Logger:    logger.Named("orchestrator"),
	})
	if err != nil {
		_ = gw.Close()
		a.closeStore()
		return nil, err
	}

	if cfg.Server.Enabled {
		a.server = a.newServer()
	}
	return a, nil
}

func (a *agent) newServer() *server.Server {
	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("heartbeat", heartbeatHealthChecker{
		status:   a.orch,
		interval: a.cfg.Agent.HeartbeatInterval,
	})
	if a.redis != nil {
		health.RegisterChecker("state", redisHealthChecker{client: a.redis})
	}
	return server.New(a.cfg.Server.Host, a.cfg.Server.Port,
		server.WithLogger(a.logger.Named("server")),
		server.WithStatus(a.orch),
		server.WithHealthManager(health),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.IdleTimeout),
	)
}

// run drives the loop until ctx ends, then shuts down: stop the server, wait
// for outstanding runs within the shutdown timeout, save the state and close
// the gateway.
func (a *agent) run(ctx context.Context) error {
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	var serverErr error
	serverDone := make(chan struct{})
	if a.server != nil {
		go func() {
			defer close(serverDone)
			if err := a.server.Start(); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
				serverErr = err
				cancelLoop()
			}
		}()
	} else {
		close(serverDone)
	}

	runErr := a.orch.Run(loopCtx)
	a.shutdown()
	<-serverDone

	if runErr != nil {
		return runErr
	}
	if serverErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "status server failed", serverErr)
	}
	return nil
}

func (a *agent) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("status server shutdown", zap.Error(err))
		}
	}

	if err := a.engine.Wait(ctx); err != nil {
		running := a.engine.ListRunning()
		keys := make([]string, 0, len(running))
		for _, r := range running {
			keys = append(keys, r.Key)
		}
		a.logger.Warn("runs still active at shutdown", zap.Strings("keys", keys), zap.Error(err))
	}

	// A heartbeat interrupted mid-cycle returns without saving; this save
	// covers it.
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSave()
	if err := a.store.Save(saveCtx, a.orch.State()); err != nil {
		a.logger.Error("final state save failed", zap.String("store", a.store.Describe()), zap.Error(err))
	}

	if err := a.gw.Close(); err != nil && !errors.Is(err, gateway.ErrClosed) {
		a.logger.Warn("gateway close", zap.Error(err))
	}
	a.closeStore()
	a.logger.Info("beacon stopped")
}

func (a *agent) closeStore() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
