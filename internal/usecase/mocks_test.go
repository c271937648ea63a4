package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// mockGate implements domain.Gate for testing
type mockGate struct {
	mu        sync.Mutex
	plan      *domain.RestrictionPlan
	decisions map[string]domain.Decision
	asked     []string
	session   map[string]float64
	ended     []string
}

func newMockGate() *mockGate {
	return &mockGate{
		decisions: make(map[string]domain.Decision),
		session:   make(map[string]float64),
	}
}

func (m *mockGate) GetActivePlan() *domain.RestrictionPlan {
	return m.plan
}

func (m *mockGate) ShouldBlockApp(ctx context.Context, appID, bundleID string) domain.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asked = append(m.asked, appID)
	if d, ok := m.decisions[appID]; ok {
		return d
	}
	return domain.Decision{State: domain.StateIdle, Reason: domain.ReasonNoSchedule}
}

func (m *mockGate) RecordSessionUsage(appID string, minutes float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session[appID] += minutes
}

func (m *mockGate) EndSession(appID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, appID)
	delete(m.session, appID)
}

// mockProcessManager implements domain.ProcessManager for testing
type mockProcessManager struct {
	procs      []domain.Process
	listErr    error
	killErr    error
	killedPIDs []int
}

func (m *mockProcessManager) List() ([]domain.Process, error) {
	return m.procs, m.listErr
}

func (m *mockProcessManager) Kill(pid int) error {
	if m.killErr != nil {
		return m.killErr
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	for _, p := range m.procs {
		if p.PID == pid {
			return true
		}
	}
	return false
}

// mockRecorder implements domain.UsageRecorder for testing
type mockRecorder struct {
	minutes map[string]float64
	err     error
}

func (m *mockRecorder) AddUsage(ctx context.Context, appID string, day time.Time, minutes float64) error {
	if m.err != nil {
		return m.err
	}
	if m.minutes == nil {
		m.minutes = make(map[string]float64)
	}
	m.minutes[appID] += minutes
	return nil
}

var errKill = errors.New("operation not permitted")

func testPlan() *domain.RestrictionPlan {
	return &domain.RestrictionPlan{
		ID: "focus",
		Groups: []domain.AppGroup{
			{Name: "games", Apps: []string{"steam_osx", "dota2"}},
			{Name: "social", Apps: []string{"Slack"}, Strict: true},
		},
	}
}
