package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// fridayNoon is inside the work schedule used by most tests.
var fridayNoon = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

// mockPlanSource implements domain.PlanSource for testing
type mockPlanSource struct {
	plan  *domain.RestrictionPlan
	err   error
	calls int
}

func (m *mockPlanSource) LoadActivePlan(ctx context.Context, userID string) (*domain.RestrictionPlan, error) {
	m.calls++
	return m.plan, m.err
}

// mockUsageSource implements domain.UsageSource for testing
type mockUsageSource struct {
	minutes map[string]float64
	err     error
}

func (m *mockUsageSource) TodayUsage(ctx context.Context, appID string, now time.Time) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.minutes[appID], nil
}

// memoryStore implements domain.StateStore and domain.EventSink, keeping the
// JSON snapshot like the real store does.
type memoryStore struct {
	mu       sync.Mutex
	data     []byte
	saveErr  error
	loadErr  error
	saves    int
	events   []domain.Event
	eventErr error
}

func (m *memoryStore) SaveState(ctx context.Context, state domain.EngineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

func (m *memoryStore) LoadState(ctx context.Context) (*domain.EngineState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return nil, nil
	}
	var s domain.EngineState
	if err := json.Unmarshal(m.data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memoryStore) LogEvent(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventErr != nil {
		return m.eventErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryStore) snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

var errDisk = errors.New("disk full")

func workPlan() *domain.RestrictionPlan {
	return &domain.RestrictionPlan{
		ID:              "focus",
		UserID:          "default",
		Intensity:       domain.IntensityNormal,
		OverridePolicy:  domain.OverrideAllowed,
		MindfulPauseSec: 10,
		CooldownSec:     300,
		Groups: []domain.AppGroup{
			{Name: "games", Apps: []string{"steam", "dota2"}, DailyCapMinutes: intPtr(60), SessionCapMinutes: intPtr(30)},
			{Name: "social", Apps: []string{"twitter", "x.com"}, Strict: true},
		},
		Schedules: []domain.Schedule{
			{ID: "work", DaysOfWeek: []int{1, 2, 3, 4, 5}, StartLocal: "09:00", EndLocal: "17:00", Enabled: true},
		},
	}
}

type fixture struct {
	engine *Engine
	clock  *ManualClock
	plans  *mockPlanSource
	usage  *mockUsageSource
	store  *memoryStore
}

func newFixture(t *testing.T, plan *domain.RestrictionPlan) *fixture {
	t.Helper()
	f := &fixture{
		clock: NewManualClock(fridayNoon),
		plans: &mockPlanSource{plan: plan},
		usage: &mockUsageSource{minutes: map[string]float64{}},
		store: &memoryStore{},
	}
	f.engine = f.build()
	f.engine.Load(context.Background())
	require.Equal(t, domain.StateIdle, f.engine.GetState().CurrentState)
	return f
}

// build creates another engine over the same collaborators, as a restart would.
func (f *fixture) build() *Engine {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.EventLogCapacity = 20
	return New(cfg, f.plans, f.usage, f.store, f.store, f.clock, zap.NewNop())
}
