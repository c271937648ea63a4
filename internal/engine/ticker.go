package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Tick advances time-based transitions. Order matters:
//  1. quick disable expiry
//  2. mindful pause completion
//  3. cooldown completion
//  4. schedule exit (last, so a mid-pause app is reset the instant its window ends)
//
// A tick that made no other transition enters ELIGIBLE when a window is
// open while idle. A failed persist is retried first.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	now := e.clock.Now()
	if e.dirty {
		e.persist(ctx)
	}
	before := len(e.pending)

	e.expireQuickDisable(ctx, now)

	if e.state.CurrentState == domain.StateMindfulPause &&
		elapsed(now, e.state.PauseStartedAt, e.pauseSeconds()) {
		ev := newEvent(domain.EventPauseCompleted, e.state.TargetApp, "", nil)
		e.transition(ctx, now, domain.StateActiveBlock, func(s *domain.EngineState) {
			s.BlockStartedAt = now.UnixMilli()
		}, ev)
	}

	if e.state.CurrentState == domain.StateCooldown &&
		elapsed(now, e.state.CooldownStartedAt, e.cooldownSeconds()) {
		ev := newEvent(domain.EventCooldownCompleted, e.state.TargetApp, "", nil)
		e.transition(ctx, now, domain.StateIdle, func(s *domain.EngineState) {
			s.ClearTarget()
		}, ev)
	}

	active := e.activeSchedule(now)
	switch {
	case active == nil:
		e.exitSchedule(ctx, now)
	case e.state.CurrentState == domain.StateIdle && len(e.pending) == before:
		ev := newEvent(domain.EventScheduleActivated, "", "", map[string]string{"schedule": active.ID})
		e.transition(ctx, now, domain.StateEligible, func(s *domain.EngineState) {
			s.ActiveScheduleID = active.ID
		}, ev)
	}
}

// Run drives Tick on the configured cadence until ctx is canceled.
// A panicking tick is logged and the loop keeps going.
//
// Run is for embedders that drive the engine alone. The appgate daemon does
// not call it: daemon.Monitor owns the production cadence and ticks through
// Monitor.TickOnce, so queued commands are applied before each tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	e.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine ticker stopping")
			return ctx.Err()
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tick panicked", zap.Any("panic", r))
		}
	}()
	e.Tick(ctx)
}

// expireQuickDisable returns to IDLE once quickDisableUntil is reached.
// Caller holds mu.
func (e *Engine) expireQuickDisable(ctx context.Context, now time.Time) {
	until := e.state.QuickDisableUntil
	if until == 0 || now.UnixMilli() < until {
		return
	}
	ev := newEvent(domain.EventQuickDisableExpired, "", "", nil)
	e.transition(ctx, now, domain.StateIdle, func(s *domain.EngineState) {
		s.ClearTarget()
		s.ActiveScheduleID = ""
		s.QuickDisableUntil = 0
	}, ev)
}

// exitSchedule forces IDLE when no window is active. Quick disable is left
// alone; it ends only on expiry or deactivation. Caller holds mu.
func (e *Engine) exitSchedule(ctx context.Context, now time.Time) {
	switch e.state.CurrentState {
	case domain.StateIdle, domain.StateQuickDisabled:
		return
	}
	ev := newEvent(domain.EventScheduleEnded, e.state.TargetApp, "", map[string]string{
		"schedule": e.state.ActiveScheduleID,
	})
	e.transition(ctx, now, domain.StateIdle, func(s *domain.EngineState) {
		s.ClearTarget()
		s.ActiveScheduleID = ""
	}, ev)
}

func elapsed(now time.Time, startedAt int64, seconds int) bool {
	if seconds < 0 {
		seconds = 0
	}
	return now.UnixMilli()-startedAt >= int64(seconds)*1000
}
