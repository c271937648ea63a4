// Package main is the CLI entry point for appgate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/engine"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/plan"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appgate",
	Short: "Mindful app gate - adds friction before distracting apps",
	Long: `appgate decides when a distracting app is restricted. Inside a
scheduled window a restricted app first gets a mindful pause, then an
active block once its usage cap is reached. Overrides are possible but
always cost a cooldown.

Run 'appgate init' to write a starter plan, then 'appgate run'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gate daemon in the foreground",
	Long: `Loads the active plan, restores the persisted engine state and
starts the 1 Hz engine tick, the process scan and the command queue.
Stops on SIGINT or SIGTERM.`,
	RunE: runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var jsonOutput bool

func init() {
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	addInspectCommands(rootCmd)
	addControlCommands(rootCmd)
	addServiceCommands(rootCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg, loc)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return err
	}
	defer store.Close()

	eng := engine.New(engineConfig(cfg, loc), plan.NewFileSource(cfg.PlanFile, logger), store, store, store, engine.SystemClock{}, logger)
	eng.OnStateChange(func(prev, next domain.EngineState) {
		logger.Info("state changed",
			zap.String("from", string(prev.CurrentState)),
			zap.String("to", string(next.CurrentState)),
			zap.String("target", next.TargetApp))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	eng.Load(ctx)

	pm := infra.NewProcessManager()
	enforcer := usecase.NewEnforcer(eng, pm, logger)
	usage := usecase.NewUsageAccumulator(eng, store, 2*cfg.ScanInterval, logger)
	monitor := daemon.NewMonitor(daemon.MonitorConfig{
		TickInterval:        cfg.TickInterval,
		ScanInterval:        cfg.ScanInterval,
		PlanRefreshInterval: cfg.PlanRefreshInterval,
	}, eng, store, pm, enforcer, usage, logger)

	logger.Info("appgate started",
		zap.String("version", Version),
		zap.String("user", cfg.UserID),
		zap.String("mode", string(cfg.Mode)),
		zap.String("plan_file", cfg.PlanFile),
		zap.String("store", store.Path()))

	if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func engineConfig(cfg config.Config, loc *time.Location) engine.Config {
	ec := engine.DefaultConfig()
	ec.UserID = cfg.UserID
	ec.Location = loc
	ec.EventLogCapacity = cfg.EventLogCapacity
	ec.TickInterval = cfg.TickInterval
	return ec
}

// openStore opens the encrypted store, generating its key on first use.
func openStore(cfg config.Config, loc *time.Location) (*infra.EncryptedStore, error) {
	key, _, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load store key: %w", err)
	}
	return infra.NewEncryptedStore(cfg.DataDir, key, loc)
}

func createLogger(path string) *zap.Logger {
	logCfg := zap.NewProductionConfig()
	logCfg.OutputPaths = []string{path}
	logCfg.ErrorOutputPaths = []string{path}
	logCfg.EncoderConfig.TimeKey = "time"
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(filepath.Dir(path), 0700); err == nil {
		if logger, err := logCfg.Build(); err == nil {
			return logger
		}
	}
	// Fallback to stderr if file logging fails
	logger, _ := zap.NewProduction()
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("appgate %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
