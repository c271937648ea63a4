// Package daemon runs the long-lived appgate loop around the engine.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

// Engine is the engine surface the monitor drives.
type Engine interface {
	domain.Gate
	GetState() domain.EngineState
	Tick(ctx context.Context)
	RefreshPlan(ctx context.Context) error
	RequestOverride(ctx context.Context, appID, bundleID string) domain.OverrideResult
	ActivateQuickDisable(ctx context.Context, minutes int) domain.QuickDisableResult
	DeactivateQuickDisable(ctx context.Context)
}

// MonitorConfig holds monitor daemon configuration.
type MonitorConfig struct {
	TickInterval        time.Duration // Engine tick and command drain (default 1s)
	ScanInterval        time.Duration // Process scan, usage and enforcement (default 5s)
	PlanRefreshInterval time.Duration // Plan file reload (default 1m)
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TickInterval:        time.Second,
		ScanInterval:        5 * time.Second,
		PlanRefreshInterval: time.Minute,
	}
}

// Monitor owns the engine at runtime. It ticks it, applies queued CLI
// commands, and scans processes for usage and enforcement.
type Monitor struct {
	config         MonitorConfig
	engine         Engine
	queue          domain.CommandQueue
	processManager domain.ProcessManager
	enforcer       *usecase.Enforcer
	usage          *usecase.UsageAccumulator
	now            func() time.Time
	logger         *zap.Logger
}

// NewMonitor creates a new monitor daemon. queue may be nil.
func NewMonitor(
	config MonitorConfig,
	engine Engine,
	queue domain.CommandQueue,
	pm domain.ProcessManager,
	enforcer *usecase.Enforcer,
	usage *usecase.UsageAccumulator,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		config:         config,
		engine:         engine,
		queue:          queue,
		processManager: pm,
		enforcer:       enforcer,
		usage:          usage,
		now:            time.Now,
		logger:         logger,
	}
}

// Run starts the monitor loop.
// This blocks until context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started",
		zap.Duration("tick_interval", m.config.TickInterval),
		zap.Duration("scan_interval", m.config.ScanInterval))

	m.TickOnce(ctx)
	m.Scan(ctx)

	tickTicker := time.NewTicker(m.config.TickInterval)
	scanTicker := time.NewTicker(m.config.ScanInterval)
	refreshTicker := time.NewTicker(m.config.PlanRefreshInterval)
	defer func() {
		tickTicker.Stop()
		scanTicker.Stop()
		refreshTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping")
			return ctx.Err()

		case <-tickTicker.C:
			m.TickOnce(ctx)

		case <-scanTicker.C:
			m.Scan(ctx)

		case <-refreshTicker.C:
			m.refreshPlan(ctx)
		}
	}
}

// TickOnce applies pending commands, then advances the engine clock.
func (m *Monitor) TickOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panicked", zap.Any("panic", r))
		}
	}()

	m.drainCommands(ctx)
	m.engine.Tick(ctx)
}

// Scan lists processes, credits usage and enforces the engine's decisions.
func (m *Monitor) Scan(ctx context.Context) domain.EnforcementResult {
	procs, err := m.processManager.List()
	if err != nil {
		m.logger.Warn("failed to list processes", zap.Error(err))
		return domain.EnforcementResult{Errors: []error{err}, ExecutedAt: m.now()}
	}

	targets := usecase.MatchTargets(m.engine.GetActivePlan(), procs)
	if m.usage != nil {
		// Usage errors are logged by the accumulator; enforcement goes on.
		_ = m.usage.Record(ctx, targets, m.now())
	}

	result := m.enforcer.Enforce(ctx, targets)
	if len(result.KilledPIDs) > 0 || len(result.Errors) > 0 {
		m.logger.Info("enforcement completed",
			zap.Int("targets", len(result.Checked)),
			zap.Int("processes_killed", len(result.KilledPIDs)),
			zap.Int("errors", len(result.Errors)))
	}
	return result
}

func (m *Monitor) refreshPlan(ctx context.Context) {
	if err := m.engine.RefreshPlan(ctx); err != nil {
		m.logger.Warn("plan refresh failed, keeping previous plan", zap.Error(err))
	}
}

func (m *Monitor) drainCommands(ctx context.Context) {
	if m.queue == nil {
		return
	}
	cmds, err := m.queue.Drain(ctx)
	if err != nil {
		m.logger.Warn("failed to drain command queue", zap.Error(err))
		return
	}
	for _, cmd := range cmds {
		m.Apply(ctx, cmd)
	}
}

// Apply executes one queued command against the engine.
func (m *Monitor) Apply(ctx context.Context, cmd domain.Command) {
	switch cmd.Kind {
	case domain.CommandOverride:
		res := m.engine.RequestOverride(ctx, cmd.AppID, "")
		m.logger.Info("override command applied",
			zap.String("app", cmd.AppID),
			zap.Bool("granted", res.Granted),
			zap.String("reason", res.Reason),
			zap.String("state", string(res.State)))

	case domain.CommandQuickDisable:
		res := m.engine.ActivateQuickDisable(ctx, cmd.Minutes)
		m.logger.Info("quick disable command applied",
			zap.Int("minutes", cmd.Minutes),
			zap.Bool("granted", res.Granted),
			zap.String("reason", res.Reason))

	case domain.CommandQuickEnable:
		// DeactivateQuickDisable lands in IDLE from any state.
		if state := m.engine.GetState().CurrentState; state != domain.StateQuickDisabled {
			m.logger.Info("quick enable command ignored, no quick disable active",
				zap.String("state", string(state)))
			return
		}
		m.engine.DeactivateQuickDisable(ctx)
		m.logger.Info("quick enable command applied")

	case domain.CommandRefreshPlan:
		m.refreshPlan(ctx)

	default:
		m.logger.Warn("unknown command ignored",
			zap.Int64("id", cmd.ID),
			zap.String("kind", string(cmd.Kind)))
	}
}
