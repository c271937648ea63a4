package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// DefaultMaxScanGap caps the time credited for one scan. Larger gaps mean
// the machine slept and are not counted as usage.
const DefaultMaxScanGap = time.Minute

// UsageAccumulator turns periodic scans into daily usage rows and engine
// session counters.
type UsageAccumulator struct {
	gate     domain.Gate
	recorder domain.UsageRecorder
	maxGap   time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	lastScan time.Time
	running  map[string]string // lowercase key -> app id
}

// NewUsageAccumulator creates an accumulator. recorder may be nil, in which
// case only sessions are tracked.
func NewUsageAccumulator(gate domain.Gate, recorder domain.UsageRecorder, maxGap time.Duration, logger *zap.Logger) *UsageAccumulator {
	if maxGap <= 0 {
		maxGap = DefaultMaxScanGap
	}
	return &UsageAccumulator{
		gate:     gate,
		recorder: recorder,
		maxGap:   maxGap,
		logger:   logger,
		running:  make(map[string]string),
	}
}

// Record credits the time since the previous scan to every target that was
// running then and is still running now. Targets that disappeared end their
// session. The first scan only establishes a baseline.
func (a *UsageAccumulator) Record(ctx context.Context, targets []Target, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var minutes float64
	if !a.lastScan.IsZero() {
		gap := now.Sub(a.lastScan)
		if gap > 0 && gap <= a.maxGap {
			minutes = gap.Minutes()
		} else if gap > a.maxGap {
			a.logger.Debug("scan gap too large, not counted", zap.Duration("gap", gap))
		}
	}
	a.lastScan = now

	current := make(map[string]string, len(targets))
	for _, t := range targets {
		current[strings.ToLower(t.AppID)] = t.AppID
	}

	var firstErr error
	for key, appID := range current {
		if _, wasRunning := a.running[key]; !wasRunning || minutes == 0 {
			continue
		}
		a.gate.RecordSessionUsage(appID, minutes)
		if a.recorder == nil {
			continue
		}
		if err := a.recorder.AddUsage(ctx, appID, now, minutes); err != nil {
			a.logger.Warn("failed to record usage",
				zap.String("app", appID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for key, appID := range a.running {
		if _, still := current[key]; !still {
			a.gate.EndSession(appID)
			a.logger.Info("session ended", zap.String("app", appID))
		}
	}
	a.running = current
	return firstErr
}
