package domain

import (
	"context"
	"time"
)

// PlanSource supplies the user's active restriction plan.
// Pull-based: read at startup and on explicit refresh. Returns (nil, nil)
// when the user has no active plan.
type PlanSource interface {
	LoadActivePlan(ctx context.Context, userID string) (*RestrictionPlan, error)
}

// UsageSource supplies today's accumulated usage for an app, in minutes.
// Implementation: daily usage table in the encrypted store.
type UsageSource interface {
	TodayUsage(ctx context.Context, appID string, now time.Time) (float64, error)
}

// UsageRecorder accumulates usage minutes per (app, day).
type UsageRecorder interface {
	AddUsage(ctx context.Context, appID string, day time.Time, minutes float64) error
}

// StateStore persists the full engine snapshot under a fixed key.
type StateStore interface {
	// SaveState writes the snapshot, replacing the previous one.
	SaveState(ctx context.Context, state EngineState) error

	// LoadState returns (nil, nil) if nothing was saved yet.
	LoadState(ctx context.Context) (*EngineState, error)
}

// EventSink is the external durable event log.
// The engine never depends on it succeeding.
type EventSink interface {
	LogEvent(ctx context.Context, event Event) error
}

// CommandQueue carries control requests from the CLI to the running daemon.
type CommandQueue interface {
	Enqueue(ctx context.Context, cmd Command) error

	// Drain returns pending commands oldest first and removes them.
	Drain(ctx context.Context) ([]Command, error)
}

// Gate is the engine surface used by the scan loop.
type Gate interface {
	GetActivePlan() *RestrictionPlan
	ShouldBlockApp(ctx context.Context, appID, bundleID string) Decision
	RecordSessionUsage(appID string, minutes float64)
	EndSession(appID string)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// List returns currently running processes.
	List() ([]Process, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ServiceManager installs the gate daemon as an OS service that starts at login or boot.
type ServiceManager interface {
	// Install writes the service definition for execPath and loads it.
	Install(execPath string) error

	// Uninstall unloads and removes the service definition.
	Uninstall() error

	// IsInstalled reports whether a service definition exists.
	IsInstalled() bool

	// NeedsUpdate reports whether the installed definition differs from
	// the one that would be written for execPath.
	NeedsUpdate(execPath string) bool
}
