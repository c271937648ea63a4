// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// BlockState is the restriction state the engine is in.
type BlockState string

const (
	StateIdle          BlockState = "IDLE"
	StateEligible      BlockState = "ELIGIBLE"
	StateMindfulPause  BlockState = "MINDFUL_PAUSE"
	StateActiveBlock   BlockState = "ACTIVE_BLOCK"
	StateCooldown      BlockState = "COOLDOWN"
	StateQuickDisabled BlockState = "QUICK_DISABLED"
)

// Blocking reports whether the target app is held back while in this state.
func (s BlockState) Blocking() bool {
	return s == StateMindfulPause || s == StateActiveBlock
}

// Intensity controls how hard the plan is to bypass.
type Intensity string

const (
	IntensityNormal Intensity = "normal"
	IntensityStrict Intensity = "strict"
)

// OverridePolicy says whether overrides may be requested at all.
type OverridePolicy string

const (
	OverrideAllowed   OverridePolicy = "allowed"
	OverrideForbidden OverridePolicy = "forbidden"
)

// RestrictionPlan is the user's active configuration.
// Treated as read-only by the engine; replaced wholesale on refresh.
type RestrictionPlan struct {
	ID              string         `json:"id" yaml:"id"`
	UserID          string         `json:"user_id" yaml:"user"`
	Name            string         `json:"name" yaml:"name"`
	Intensity       Intensity      `json:"intensity" yaml:"intensity"`
	OverridePolicy  OverridePolicy `json:"override_policy" yaml:"override_policy"`
	MindfulPauseSec int            `json:"mindful_pause_sec" yaml:"mindful_pause_sec"`
	CooldownSec     int            `json:"cooldown_sec" yaml:"cooldown_sec"`
	Groups          []AppGroup     `json:"groups" yaml:"groups"`
	Schedules       []Schedule     `json:"schedules" yaml:"schedules"`
}

// GroupFor returns the first group containing either identifier.
// An app should belong to at most one group; first match wins otherwise.
func (p *RestrictionPlan) GroupFor(appID, bundleID string) *AppGroup {
	if p == nil {
		return nil
	}
	for i := range p.Groups {
		if p.Groups[i].Contains(appID) || p.Groups[i].Contains(bundleID) {
			return &p.Groups[i]
		}
	}
	return nil
}

// HasStrictGroup reports whether any group forbids overrides.
func (p *RestrictionPlan) HasStrictGroup() bool {
	if p == nil {
		return false
	}
	for _, g := range p.Groups {
		if g.Strict {
			return true
		}
	}
	return false
}

// AppGroup is a named set of target apps sharing caps and strictness.
// A nil cap means no limit for that dimension.
type AppGroup struct {
	Name              string   `json:"name" yaml:"name"`
	Apps              []string `json:"apps" yaml:"apps"`
	DailyCapMinutes   *int     `json:"daily_cap_minutes,omitempty" yaml:"daily_cap_minutes"`
	SessionCapMinutes *int     `json:"session_cap_minutes,omitempty" yaml:"session_cap_minutes"`
	Strict            bool     `json:"strict" yaml:"strict"`
}

// Contains matches an identifier case-insensitively.
func (g AppGroup) Contains(id string) bool {
	if id == "" {
		return false
	}
	for _, app := range g.Apps {
		if strings.EqualFold(app, id) {
			return true
		}
	}
	return false
}

// Schedule is a recurring local time window, HH:mm bounds, end exclusive.
// A window whose end is before its start wraps past midnight.
type Schedule struct {
	ID         string `json:"id" yaml:"id"`
	DaysOfWeek []int  `json:"days_of_week" yaml:"days"` // 0 = Sunday
	StartLocal string `json:"start_local" yaml:"start"`
	EndLocal   string `json:"end_local" yaml:"end"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

// HasDay reports whether the weekday is part of the schedule.
func (s Schedule) HasDay(day int) bool {
	for _, d := range s.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// EngineState is the persisted snapshot of the state machine.
// Timestamps are epoch milliseconds; zero means unset.
type EngineState struct {
	CurrentState      BlockState `json:"current_state"`
	TargetApp         string     `json:"target_app,omitempty"`
	PauseStartedAt    int64      `json:"pause_started_at,omitempty"`
	BlockStartedAt    int64      `json:"block_started_at,omitempty"`
	CooldownStartedAt int64      `json:"cooldown_started_at,omitempty"`
	QuickDisableUntil int64      `json:"quick_disable_until,omitempty"`
	ActiveScheduleID  string     `json:"active_schedule_id,omitempty"`
	Events            EventLog   `json:"events"`
}

// NewEngineState returns a fresh IDLE state with an empty log.
func NewEngineState(logCapacity int) EngineState {
	return EngineState{
		CurrentState: StateIdle,
		Events:       NewEventLog(logCapacity),
	}
}

// Clone returns a deep copy safe to hand to listeners.
func (s EngineState) Clone() EngineState {
	c := s
	c.Events = s.Events.Clone()
	return c
}

// ClearTarget drops the target app and all friction timestamps.
func (s *EngineState) ClearTarget() {
	s.TargetApp = ""
	s.PauseStartedAt = 0
	s.BlockStartedAt = 0
	s.CooldownStartedAt = 0
}

// Decision is the answer to a ShouldBlockApp call.
type Decision struct {
	Blocked     bool       `json:"blocked"`
	State       BlockState `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	WaitSeconds int        `json:"wait_seconds,omitempty"`
	Group       string     `json:"group,omitempty"`
}

// Decision reasons.
const (
	ReasonQuickDisabled = "quick disable active"
	ReasonNoPlan        = "no active plan"
	ReasonNoSchedule    = "no active schedule"
	ReasonNotRestricted = "app not restricted"
	ReasonLimitReached  = "limit reached"
	ReasonMindfulPause  = "mindful pause"
	ReasonBlocked       = "blocked"
	ReasonCooldown      = "override cooldown"
	ReasonUnavailable   = "usage unavailable"
	ReasonOtherTarget   = "another app is the current target"
)

// OverrideResult is the answer to an override request.
type OverrideResult struct {
	Granted bool       `json:"granted"`
	Reason  string     `json:"reason,omitempty"`
	State   BlockState `json:"state"`
}

// QuickDisableResult is the answer to a quick disable request.
type QuickDisableResult struct {
	Granted bool       `json:"granted"`
	Reason  string     `json:"reason,omitempty"`
	Until   int64      `json:"until,omitempty"`
	State   BlockState `json:"state"`
}

// Denial reasons.
const (
	DenyNotBlocked       = "not in active block"
	DenyNotTarget        = "app is not the blocked target"
	DenyOverrideDisabled = "overrides forbidden by plan"
	DenyStrictGroup      = "app group is strict"
	DenyStrictPlan       = "strict plan forbids quick disable"
	DenyInvalidDuration  = "duration must be positive"
)

// Process is a running OS process as seen by the enforcement layer.
type Process struct {
	PID  int
	Name string
	Exe  string
}

// CommandKind identifies a queued control request.
type CommandKind string

const (
	CommandOverride     CommandKind = "override"
	CommandQuickDisable CommandKind = "quick_disable"
	CommandQuickEnable  CommandKind = "quick_enable"
	CommandRefreshPlan  CommandKind = "refresh_plan"
)

// Command is a control request queued by the CLI for the running daemon.
type Command struct {
	ID        int64
	Kind      CommandKind
	AppID     string
	Minutes   int
	CreatedAt int64
}

// EnforcementResult captures what happened during a single enforcement scan.
type EnforcementResult struct {
	Checked    []string
	Paused     []string
	KilledPIDs []int
	Errors     []error
	ExecutedAt time.Time
	DurationMs int64
}
