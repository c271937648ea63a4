package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Enforcer applies engine decisions to running target processes.
// Processes are killed only while the engine reports ACTIVE_BLOCK; a mindful
// pause is left to the UI and only logged here.
type Enforcer struct {
	gate           domain.Gate
	processManager domain.ProcessManager
	logger         *zap.Logger
}

// NewEnforcer creates a new enforcer.
func NewEnforcer(gate domain.Gate, pm domain.ProcessManager, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		gate:           gate,
		processManager: pm,
		logger:         logger,
	}
}

// Enforce asks the engine about each target once and acts on the answer.
func (e *Enforcer) Enforce(ctx context.Context, targets []Target) domain.EnforcementResult {
	start := time.Now()
	result := domain.EnforcementResult{
		Checked:    make([]string, 0, len(targets)),
		Paused:     make([]string, 0),
		KilledPIDs: make([]int, 0),
		Errors:     make([]error, 0),
		ExecutedAt: start,
	}

	for _, t := range targets {
		if len(t.Processes) == 0 {
			continue
		}
		result.Checked = append(result.Checked, t.AppID)

		d := e.gate.ShouldBlockApp(ctx, t.AppID, t.Processes[0].Name)
		switch d.State {
		case domain.StateActiveBlock:
			if d.Blocked {
				e.kill(t, d, &result)
			}
		case domain.StateMindfulPause:
			e.logger.Info("mindful pause in progress",
				zap.String("app", t.AppID),
				zap.String("group", t.Group),
				zap.Int("wait_seconds", d.WaitSeconds))
			result.Paused = append(result.Paused, t.AppID)
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (e *Enforcer) kill(t Target, d domain.Decision, result *domain.EnforcementResult) {
	for _, proc := range t.Processes {
		if err := e.processManager.Kill(proc.PID); err != nil {
			e.logger.Warn("failed to kill process",
				zap.Int("pid", proc.PID),
				zap.String("app", t.AppID),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}
		e.logger.Info("killed process",
			zap.String("app", t.AppID),
			zap.String("group", t.Group),
			zap.String("reason", d.Reason),
			zap.Int("pid", proc.PID),
			zap.String("name", proc.Name))
		result.KilledPIDs = append(result.KilledPIDs, proc.PID)
	}
}
