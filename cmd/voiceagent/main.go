// =============================================================================
// Voice Agent Runtime worker entry point
// =============================================================================
// Connects to the room-server control plane, registers as an outbound
// calling worker, and runs one Session per assigned job.
//
//	voiceagent serve                       # start the worker
//	voiceagent serve --config config.yaml  # specify a config file
//	voiceagent version                     # print version information
//	voiceagent health                      # check the worker's health endpoint
// =============================================================================

package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/controlplane"
	"github.com/voiceagent/runtime/dialer"
	"github.com/voiceagent/runtime/dispatcher"
	"github.com/voiceagent/runtime/idempotency"
	"github.com/voiceagent/runtime/internal/telemetry"
	"github.com/voiceagent/runtime/metrics"
	"github.com/voiceagent/runtime/providers"
	"github.com/voiceagent/runtime/session"
	"github.com/voiceagent/runtime/tools"
	"github.com/voiceagent/runtime/types"
)

// Version, BuildTime, and GitCommit are injected at build time via
// -ldflags, following the teacher's own build-injection convention.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes, spec.md §6: 0 clean shutdown, 1 fatal initialization error,
// 2 authentication failure.
const (
	exitOK        = 0
	exitFatalInit = 1
	exitAuthFail  = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitFatalInit)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitFatalInit)
	}
}

// runServe loads configuration, wires every dependency the dispatcher
// needs, and blocks until a shutdown signal arrives or the control plane
// permanently rejects this worker's credentials. Its return value is the
// process exit code (spec.md §6).
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitFatalInit
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return exitFatalInit
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting voiceagent worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	if otelProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	deps, err := buildDispatcherDeps(cfg, logger)
	if err != nil {
		logger.Error("failed to build worker dependencies", zap.Error(err))
		return exitFatalInit
	}

	d := dispatcher.New(cfg.Dispatcher, cfg.SIP, cfg.Agent.ToAgentConfig(), deps)

	healthSrv := newHealthServer(cfg.Server, d, logger)
	if err := healthSrv.Start(); err != nil {
		logger.Error("failed to start health/metrics server", zap.Error(err))
		return exitFatalInit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- d.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining active calls")
	case err := <-runErr:
		if err != nil {
			logger.Error("dispatcher stopped with error", zap.Error(err))
			if authFailure(err) {
				healthSrv.Shutdown(context.Background())
				return exitAuthFail
			}
			healthSrv.Shutdown(context.Background())
			return exitFatalInit
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	healthSrv.Shutdown(shutdownCtx)

	logger.Info("voiceagent worker stopped")
	return exitOK
}

// authFailure reports whether err represents the control plane rejecting
// this worker's credentials, warranting spec.md §6's exit code 2 rather
// than the generic fatal-init exit code 1.
func authFailure(err error) bool {
	var e *types.Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Code == types.ErrAuthentication
}

// buildDispatcherDeps constructs the real, non-fake production
// dependencies: the control-plane/room client, the outbound dialer, the
// provider adapters, a per-job tool registry factory, and the metrics
// collector.
func buildDispatcherDeps(cfg *config.Config, logger *zap.Logger) (dispatcher.Deps, error) {
	control := controlplane.New(cfg.Dispatcher.JobServerURL, cfg.Dispatcher.APIKey, cfg.Dispatcher.APISecret, cfg.LLM.Timeout, logger)

	d := dialer.New(control, cfg.SIP, logger)

	collector := metrics.NewCollector("voiceagent", logger)

	idem := idempotency.NewFromConfig(cfg.Redis, logger)
	supplemented := tools.SupplementedRegistrations(logger)

	// toolsFactory builds a fresh registry/executor per job: the built-in
	// tools (transferCall/endCall/detectedAnsweringMachine) need that
	// job's DialInfo, dialed SIP identity, and session lifecycle
	// controller, none of which exist yet when the worker starts up
	// (spec.md §4.5).
	toolsFactory := func(dial tools.DialInfo, ctrl tools.SessionController, roomName, participantIdentity string) (tools.Registry, tools.Executor, error) {
		registry := tools.NewDefaultRegistry(logger)
		for _, reg := range tools.BuiltinRegistrations(dial, control, roomName, participantIdentity, ctrl, logger) {
			if err := registry.Register(reg); err != nil {
				return nil, nil, fmt.Errorf("register builtin tool: %w", err)
			}
		}
		for _, reg := range supplemented {
			if err := registry.Register(reg); err != nil {
				return nil, nil, fmt.Errorf("register supplemented tool: %w", err)
			}
		}
		executor := tools.NewDefaultExecutorWithIdempotency(registry, idem, time.Hour, logger)
		return registry, executor, nil
	}

	// Fail fast on a bad tool registration (a programming error, e.g. a
	// duplicate tool name) at startup rather than on the first dialed job.
	if _, _, err := toolsFactory(tools.DialInfo{}, tools.NoopSessionController{}, "", ""); err != nil {
		return dispatcher.Deps{}, err
	}

	sessionDeps := session.Deps{
		STT:     providers.NewDeepgramProvider(cfg.STT, logger),
		LLM:     providers.NewOpenAIProvider(cfg.LLM, logger),
		TTS:     providers.NewElevenLabsProvider(cfg.TTS, logger),
		VAD:     providers.NewEnergyVADProvider(providers.DefaultEnergyVADConfig(), logger),
		Metrics: collector,
		Logger:  logger,
	}

	return dispatcher.Deps{
		Control:      control,
		Room:         control,
		Dialer:       d,
		SessionDeps:  sessionDeps,
		ToolsFactory: toolsFactory,
		Metrics:      collector,
		Logger:       logger,
	}, nil
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8081", "Health server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("voiceagent %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`voiceagent - Voice Agent Runtime worker

Usage:
  voiceagent <command> [options]

Commands:
  serve     Start the worker (connects to the control plane, runs jobs)
  version   Show version information
  health    Check the worker's health endpoint
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'health':
  --addr <url>      Health server base URL (default http://localhost:8081)

Examples:
  voiceagent serve
  voiceagent serve --config /etc/voiceagent/config.yaml
  voiceagent health --addr http://localhost:8081
  voiceagent version`)
}

// initLogger builds a zap logger from cfg, matching the teacher's own
// console/JSON encoder selection and level parsing.
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	buildOpts := []zap.Option{zap.AddCaller()}
	if cfg.EnableStacktrace {
		buildOpts = append(buildOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(buildOpts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
