package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goharvest/internal/observability"
	"github.com/3leaps/goharvest/internal/server"
	"github.com/3leaps/goharvest/internal/server/handlers"
	"github.com/3leaps/goharvest/pkg/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP job API",
	Long: `Start the HTTP server exposing the job API under /api/v1:

  POST   /api/v1/jobs          submit a DIRECTORY_SCAN or RECORD_STREAM job
  GET    /api/v1/jobs          list jobs (?status=, ?kind=)
  GET    /api/v1/jobs/{id}     job status and progress
  DELETE /api/v1/jobs/{id}     cancel a job
  POST   /api/v1/estimate      estimate records in a file
  GET    /api/v1/formats       supported extraction formats

Health checks are served at /health, /health/live, /health/ready and
/health/startup. SIGINT or SIGTERM drains the server and cancels running
jobs.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return exitError(exitConfigError, "Configuration unavailable", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	logger, err := observability.InitServerLogger(appIdentity.BinaryName, cfg.Logging.Observability())
	if err != nil {
		return exitError(exitConfigError, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger, true)
	if err != nil {
		return exitError(exitServiceUnavailable, "Failed to initialize engine", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Engine shutdown reported errors", zap.Error(err))
		}
	}()
	rt.engine.Start(ctx)

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signals", signalHealthChecker{})
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: appIdentity.BinaryName,
		envPrefix:  appIdentity.EnvPrefix,
		configName: appIdentity.ConfigName,
	})
	health.RegisterChecker("engine", engineHealthChecker{engine: rt.engine})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithJobService(rt.engine),
		server.WithLogger(logger.Named("http")),
		server.WithHealthManager(health),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	)

	logger.Info("Starting goharvest server",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("sink", cfg.Sink.Driver),
		zap.Int("max_concurrent_jobs", cfg.Engine.MaxConcurrentJobs),
		zap.Duration("retention_ttl", cfg.Retention.TTL))

	if err := srv.ListenAndServe(ctx); err != nil {
		return exitError(exitServiceUnavailable, "Server failed", err)
	}
	logger.Info("Server stopped", zap.Int("unfinished_jobs", rt.engine.Running()))
	return nil
}

// signalHealthChecker is always healthy; its presence shows the signal
// handler is installed.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity: missing env prefix")
	case c.configName == "":
		return errors.New("app identity: missing config name")
	}
	return nil
}

// engineHealthChecker fails once the engine stops accepting jobs.
type engineHealthChecker struct {
	engine *engine.Engine
}

func (c engineHealthChecker) CheckHealth(context.Context) error {
	if c.engine == nil {
		return errors.New("engine not initialized")
	}
	if c.engine.Closed() {
		return fmt.Errorf("engine: %w", engine.ErrClosed)
	}
	return nil
}
