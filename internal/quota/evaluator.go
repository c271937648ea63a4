// Package quota checks app group usage caps.
//
// Daily usage comes from an external store. Session usage lives only in
// memory: it resets when the monitored session ends and is never persisted,
// so a restart always starts every app with an empty session.
package quota

import (
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Dimension names which cap was hit.
type Dimension string

const (
	DimensionNone    Dimension = ""
	DimensionDaily   Dimension = "daily"
	DimensionSession Dimension = "session"
)

// Usage is the usage snapshot a cap is checked against, in minutes.
type Usage struct {
	DailyMinutes   float64
	SessionMinutes float64
}

// Exceeded reports whether either cap of the group is reached.
// Daily is checked first. A nil cap never triggers.
func Exceeded(group domain.AppGroup, u Usage) (bool, Dimension) {
	if group.DailyCapMinutes != nil && u.DailyMinutes >= float64(*group.DailyCapMinutes) {
		return true, DimensionDaily
	}
	if group.SessionCapMinutes != nil && u.SessionMinutes >= float64(*group.SessionCapMinutes) {
		return true, DimensionSession
	}
	return false, DimensionNone
}

// SessionTracker holds in-memory session minutes keyed by app id.
type SessionTracker struct {
	mu      sync.Mutex
	minutes map[string]float64
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{minutes: make(map[string]float64)}
}

func key(appID string) string {
	return strings.ToLower(appID)
}

// Add accumulates minutes for an app. Negative values are ignored.
func (t *SessionTracker) Add(appID string, minutes float64) {
	if minutes <= 0 || appID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minutes[key(appID)] += minutes
}

// Minutes returns the current session usage of an app.
func (t *SessionTracker) Minutes(appID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minutes[key(appID)]
}

// End resets the session of an app.
func (t *SessionTracker) End(appID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.minutes, key(appID))
}

// Active returns the app ids with a running session.
func (t *SessionTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.minutes))
	for id := range t.minutes {
		ids = append(ids, id)
	}
	return ids
}
