// Package engine implements the blocking state machine.
//
// The engine is the single owner of EngineState. Every public method and
// Tick run under one mutex and follow evaluate, commit, persist, notify.
// Listeners are called after the lock is released, so they may read the
// engine but must not expect to observe a state older than the one passed.
package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/quota"
	"github.com/eliteGoblin/focusd/app_gate/internal/schedule"
)

// Config holds engine configuration.
type Config struct {
	UserID           string         // Whose plan to load
	Location         *time.Location // Local time for schedules (default time.Local)
	EventLogCapacity int            // Bounded in-state event history
	TickInterval     time.Duration  // Ticker cadence (default 1s)
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		UserID:           "default",
		Location:         time.Local,
		EventLogCapacity: domain.DefaultEventLogCapacity,
		TickInterval:     time.Second,
	}
}

// Listener observes committed transitions.
type Listener func(prev, next domain.EngineState)

type change struct {
	prev, next domain.EngineState
}

// Engine decides when a target app is restricted and drives the
// mindful pause, active block and cooldown sequence.
type Engine struct {
	config    Config
	plans     domain.PlanSource
	usage     domain.UsageSource
	store     domain.StateStore
	sink      domain.EventSink
	clock     Clock
	schedules *schedule.Evaluator
	sessions  *quota.SessionTracker
	logger    *zap.Logger

	mu      sync.Mutex
	plan    *domain.RestrictionPlan
	state   domain.EngineState
	dirty   bool
	pending []change

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// New creates an engine in a fresh IDLE state.
// Call Load to rehydrate persisted state and fetch the plan.
// usage, store and sink may be nil.
func New(
	config Config,
	plans domain.PlanSource,
	usage domain.UsageSource,
	store domain.StateStore,
	sink domain.EventSink,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.EventLogCapacity <= 0 {
		config.EventLogCapacity = domain.DefaultEventLogCapacity
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		config:    config,
		plans:     plans,
		usage:     usage,
		store:     store,
		sink:      sink,
		clock:     clock,
		schedules: schedule.NewEvaluator(config.Location),
		sessions:  quota.NewSessionTracker(),
		logger:    logger,
		state:     domain.NewEngineState(config.EventLogCapacity),
		listeners: make(map[int]Listener),
	}
}

// Load rehydrates the persisted snapshot and loads the active plan.
// Corrupt or unreadable state is discarded in favour of a fresh IDLE state;
// startup never fails because of it.
func (e *Engine) Load(ctx context.Context) {
	e.mu.Lock()
	if e.store != nil {
		saved, err := e.store.LoadState(ctx)
		switch {
		case err != nil:
			e.logger.Warn("discarding unreadable engine state", zap.Error(err))
		case saved == nil:
			e.logger.Debug("no persisted engine state, starting idle")
		case !knownState(saved.CurrentState):
			e.logger.Warn("discarding engine state with unknown state",
				zap.String("state", string(saved.CurrentState)))
		default:
			saved.Events.Resize(e.config.EventLogCapacity)
			e.state = *saved
			e.logger.Info("engine state restored",
				zap.String("state", string(saved.CurrentState)),
				zap.String("target", saved.TargetApp),
				zap.Int("events", saved.Events.Len()))
		}
	}
	e.mu.Unlock()

	if err := e.RefreshPlan(ctx); err != nil {
		e.logger.Warn("starting without a plan", zap.Error(err))
	}
}

// RefreshPlan reloads the active plan wholesale. On error the previous
// plan stays in effect.
func (e *Engine) RefreshPlan(ctx context.Context) error {
	if e.plans == nil {
		return nil
	}
	plan, err := e.plans.LoadActivePlan(ctx, e.config.UserID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()

	if plan == nil {
		e.logger.Info("no active plan", zap.String("user", e.config.UserID))
	} else {
		e.logger.Info("active plan loaded",
			zap.String("plan", plan.ID),
			zap.Int("groups", len(plan.Groups)),
			zap.Int("schedules", len(plan.Schedules)))
	}
	return nil
}

// ShouldBlockApp is the single decision entrypoint, called on every
// foreground or focus event for an app.
func (e *Engine) ShouldBlockApp(ctx context.Context, appID, bundleID string) domain.Decision {
	e.mu.Lock()
	defer e.unlockAndNotify()

	now := e.clock.Now()
	e.expireQuickDisable(ctx, now)
	if e.state.QuickDisableUntil != 0 {
		return domain.Decision{State: domain.StateQuickDisabled, Reason: domain.ReasonQuickDisabled}
	}

	active := e.activeSchedule(now)
	if active == nil {
		e.exitSchedule(ctx, now)
		reason := domain.ReasonNoSchedule
		if e.plan == nil {
			reason = domain.ReasonNoPlan
		}
		return domain.Decision{State: domain.StateIdle, Reason: reason}
	}

	group := e.plan.GroupFor(appID, bundleID)
	if group == nil {
		return domain.Decision{State: e.state.CurrentState, Reason: domain.ReasonNotRestricted}
	}

	target := targetID(appID, bundleID)
	if e.state.CurrentState == domain.StateCooldown && sameApp(e.state.TargetApp, target) {
		return domain.Decision{State: domain.StateCooldown, Reason: domain.ReasonCooldown, Group: group.Name}
	}

	usage, err := e.readUsage(ctx, target, now)
	if err != nil {
		e.logger.Warn("usage unavailable, not blocking",
			zap.String("app", target),
			zap.Error(err))
		return domain.Decision{State: e.state.CurrentState, Reason: domain.ReasonUnavailable, Group: group.Name}
	}

	if over, dim := quota.Exceeded(*group, usage); over {
		// Another target's friction is left alone; this app is still blocked on its own cap.
		owned := e.state.TargetApp == "" || sameApp(e.state.TargetApp, target)
		if owned && e.state.CurrentState != domain.StateActiveBlock {
			ev := newEvent(domain.EventBlockTriggered, target, bundleID, map[string]string{
				"group":           group.Name,
				"dimension":       string(dim),
				"daily_minutes":   formatMinutes(usage.DailyMinutes),
				"session_minutes": formatMinutes(usage.SessionMinutes),
			})
			e.transition(ctx, now, domain.StateActiveBlock, func(s *domain.EngineState) {
				s.ClearTarget()
				s.TargetApp = target
				s.BlockStartedAt = now.UnixMilli()
				s.ActiveScheduleID = active.ID
			}, ev)
		}
		return domain.Decision{Blocked: true, State: domain.StateActiveBlock, Reason: domain.ReasonLimitReached, Group: group.Name}
	}

	switch e.state.CurrentState {
	case domain.StateIdle, domain.StateEligible:
		pauseSec := e.plan.MindfulPauseSec
		ev := newEvent(domain.EventPauseStarted, target, bundleID, map[string]string{
			"group":     group.Name,
			"pause_sec": strconv.Itoa(pauseSec),
		})
		e.transition(ctx, now, domain.StateMindfulPause, func(s *domain.EngineState) {
			s.ClearTarget()
			s.TargetApp = target
			s.PauseStartedAt = now.UnixMilli()
			s.ActiveScheduleID = active.ID
		}, ev)
		return domain.Decision{Blocked: true, State: domain.StateMindfulPause, Reason: domain.ReasonMindfulPause, WaitSeconds: pauseSec, Group: group.Name}
	}

	// Friction belongs to the target app only.
	if !sameApp(e.state.TargetApp, target) {
		return domain.Decision{State: e.state.CurrentState, Reason: domain.ReasonOtherTarget, Group: group.Name}
	}
	return e.currentDecision(now, group.Name)
}

// RequestOverride asks to bypass an active block. Only the blocked target
// can be overridden, and overrides always cost a cooldown period.
func (e *Engine) RequestOverride(ctx context.Context, appID, bundleID string) domain.OverrideResult {
	e.mu.Lock()
	defer e.unlockAndNotify()

	current := e.state.CurrentState
	deny := func(reason string) domain.OverrideResult {
		e.logger.Info("override denied",
			zap.String("app", targetID(appID, bundleID)),
			zap.String("reason", reason))
		return domain.OverrideResult{Reason: reason, State: current}
	}

	if current != domain.StateActiveBlock {
		return deny(domain.DenyNotBlocked)
	}
	if e.plan == nil {
		return deny(domain.ReasonNoPlan)
	}
	if e.plan.OverridePolicy == domain.OverrideForbidden {
		return deny(domain.DenyOverrideDisabled)
	}
	target := targetID(appID, bundleID)
	if !sameApp(target, e.state.TargetApp) {
		return deny(domain.DenyNotTarget)
	}
	// Strictness follows the blocked target, not the request's bundle id.
	group := e.plan.GroupFor(e.state.TargetApp, "")
	if group == nil {
		return deny(domain.ReasonNotRestricted)
	}
	if group.Strict {
		return deny(domain.DenyStrictGroup)
	}

	now := e.clock.Now()
	ev := newEvent(domain.EventOverrideUsed, target, bundleID, map[string]string{
		"group":        group.Name,
		"cooldown_sec": strconv.Itoa(e.plan.CooldownSec),
	})
	e.transition(ctx, now, domain.StateCooldown, func(s *domain.EngineState) {
		s.ClearTarget()
		s.TargetApp = target
		s.CooldownStartedAt = now.UnixMilli()
	}, ev)
	return domain.OverrideResult{Granted: true, State: domain.StateCooldown}
}

// ActivateQuickDisable suspends all blocking for the given number of minutes.
// Refused when the plan is strict and has at least one strict group.
func (e *Engine) ActivateQuickDisable(ctx context.Context, minutes int) domain.QuickDisableResult {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if minutes <= 0 {
		return domain.QuickDisableResult{Reason: domain.DenyInvalidDuration, State: e.state.CurrentState}
	}
	if e.plan != nil && e.plan.Intensity == domain.IntensityStrict && e.plan.HasStrictGroup() {
		e.logger.Info("quick disable denied", zap.String("reason", domain.DenyStrictPlan))
		return domain.QuickDisableResult{Reason: domain.DenyStrictPlan, State: e.state.CurrentState}
	}

	now := e.clock.Now()
	until := now.Add(time.Duration(minutes) * time.Minute)
	ev := newEvent(domain.EventScheduleActivated, "", "", map[string]string{
		"quick_disable":    "true",
		"duration_minutes": strconv.Itoa(minutes),
		"until":            until.UTC().Format(time.RFC3339),
	})
	e.transition(ctx, now, domain.StateQuickDisabled, func(s *domain.EngineState) {
		s.ClearTarget()
		s.ActiveScheduleID = ""
		s.QuickDisableUntil = until.UnixMilli()
	}, ev)
	return domain.QuickDisableResult{Granted: true, Until: until.UnixMilli(), State: domain.StateQuickDisabled}
}

// DeactivateQuickDisable ends a quick disable early. Always permitted.
func (e *Engine) DeactivateQuickDisable(ctx context.Context) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	ev := newEvent(domain.EventQuickDisableEnded, "", "", map[string]string{
		"was_active": strconv.FormatBool(e.state.QuickDisableUntil != 0),
	})
	e.transition(ctx, e.clock.Now(), domain.StateIdle, func(s *domain.EngineState) {
		s.ClearTarget()
		s.ActiveScheduleID = ""
		s.QuickDisableUntil = 0
	}, ev)
}

// GetState returns a copy of the current state.
func (e *Engine) GetState() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// GetActivePlan returns the plan in effect, or nil. Callers must not mutate it.
func (e *Engine) GetActivePlan() *domain.RestrictionPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// Events returns up to n newest log entries, oldest first. n <= 0 means all.
func (e *Engine) Events(n int) []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Events.Clone().Last(n)
}

// RecordSessionUsage adds minutes to the in-memory session of an app.
func (e *Engine) RecordSessionUsage(appID string, minutes float64) {
	e.sessions.Add(appID, minutes)
}

// EndSession resets the session counter of an app.
func (e *Engine) EndSession(appID string) {
	e.sessions.End(appID)
}

// SessionUsage returns the current session minutes of an app.
func (e *Engine) SessionUsage(appID string) float64 {
	return e.sessions.Minutes(appID)
}

// OnStateChange registers a listener. The returned func unsubscribes it.
func (e *Engine) OnStateChange(fn Listener) (unsubscribe func()) {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenersMu.Lock()
			delete(e.listeners, id)
			e.listenersMu.Unlock()
		})
	}
}

// currentDecision reports the state unchanged. Caller holds mu.
func (e *Engine) currentDecision(now time.Time, group string) domain.Decision {
	d := domain.Decision{State: e.state.CurrentState, Blocked: e.state.CurrentState.Blocking(), Group: group}
	switch e.state.CurrentState {
	case domain.StateMindfulPause:
		d.Reason = domain.ReasonMindfulPause
		remaining := int64(e.pauseSeconds())*1000 - (now.UnixMilli() - e.state.PauseStartedAt)
		if remaining > 0 {
			d.WaitSeconds = int((remaining + 999) / 1000)
		}
	case domain.StateActiveBlock:
		d.Reason = domain.ReasonBlocked
	case domain.StateCooldown:
		d.Reason = domain.ReasonCooldown
	}
	return d
}

func (e *Engine) readUsage(ctx context.Context, appID string, now time.Time) (quota.Usage, error) {
	u := quota.Usage{SessionMinutes: e.sessions.Minutes(appID)}
	if e.usage == nil {
		return u, nil
	}
	daily, err := e.usage.TodayUsage(ctx, appID, now)
	if err != nil {
		return quota.Usage{}, err
	}
	u.DailyMinutes = daily
	return u, nil
}

func (e *Engine) activeSchedule(now time.Time) *domain.Schedule {
	if e.plan == nil {
		return nil
	}
	return e.schedules.Active(e.plan.Schedules, now)
}

func (e *Engine) pauseSeconds() int {
	if e.plan == nil {
		return 0
	}
	return e.plan.MindfulPauseSec
}

func (e *Engine) cooldownSeconds() int {
	if e.plan == nil {
		return 0
	}
	return e.plan.CooldownSec
}

// transition commits a new state, persists it, forwards the event to the
// sink and queues listener notification. Caller holds mu.
func (e *Engine) transition(ctx context.Context, now time.Time, to domain.BlockState, mutate func(*domain.EngineState), ev domain.Event) {
	prev := e.state.Clone()
	if mutate != nil {
		mutate(&e.state)
	}
	e.state.CurrentState = to

	ev.From = prev.CurrentState
	ev.To = to
	ev.Timestamp = now.UnixMilli()
	e.state.Events.Append(ev)

	e.logger.Info("state transition",
		zap.String("from", string(prev.CurrentState)),
		zap.String("to", string(to)),
		zap.String("event", string(ev.Type)),
		zap.String("app", ev.AppID))

	e.persist(ctx)
	e.emit(ctx, ev)
	e.pending = append(e.pending, change{prev: prev, next: e.state.Clone()})
}

// persist saves the snapshot. A failure leaves the in-memory state as is
// and marks it dirty so the next tick retries. Caller holds mu.
func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveState(ctx, e.state); err != nil {
		e.dirty = true
		e.logger.Error("failed to persist engine state, will retry", zap.Error(err))
		return
	}
	e.dirty = false
}

func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.LogEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to write event to durable log",
			zap.String("event", string(ev.Type)),
			zap.Error(err))
	}
}

func (e *Engine) unlockAndNotify() {
	changes := e.pending
	e.pending = nil
	e.mu.Unlock()
	e.notify(changes)
}

func (e *Engine) notify(changes []change) {
	if len(changes) == 0 {
		return
	}

	e.listenersMu.Lock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.listeners[id])
	}
	e.listenersMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			e.callListener(fn, c)
		}
	}
}

func (e *Engine) callListener(fn Listener, c change) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("state listener panicked", zap.Any("panic", r))
		}
	}()
	fn(c.prev, c.next)
}

func newEvent(t domain.EventType, appID, bundleID string, md map[string]string) domain.Event {
	ev := domain.Event{
		ID:       uuid.NewString(),
		Type:     t,
		AppID:    appID,
		Metadata: md,
	}
	if bundleID != "" && !sameApp(bundleID, appID) {
		ev.Domain = bundleID
	}
	return ev
}

func targetID(appID, bundleID string) string {
	if appID != "" {
		return appID
	}
	return bundleID
}

func sameApp(a, b string) bool {
	return strings.EqualFold(a, b)
}

func knownState(s domain.BlockState) bool {
	switch s {
	case domain.StateIdle, domain.StateEligible, domain.StateMindfulPause,
		domain.StateActiveBlock, domain.StateCooldown, domain.StateQuickDisabled:
		return true
	}
	return false
}

func formatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'f', 1, 64)
}

// Ensure Engine implements domain.Gate.
var _ domain.Gate = (*Engine)(nil)
