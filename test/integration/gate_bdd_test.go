//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/engine"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/plan"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
	"github.com/eliteGoblin/focusd/app_gate/test/fixtures"
)

// fridayNoon is inside the fixture plans' workday window.
var fridayNoon = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

// fakeProcesses implements domain.ProcessManager over a fixed list.
type fakeProcesses struct {
	procs  []domain.Process
	killed []int
}

func (f *fakeProcesses) List() ([]domain.Process, error) { return f.procs, nil }
func (f *fakeProcesses) Kill(pid int) error {
	f.killed = append(f.killed, pid)
	return nil
}
func (f *fakeProcesses) IsRunning(pid int) bool { return false }

func eventTypes(events []domain.Event) []domain.EventType {
	types := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

var _ = Describe("Gate engine with encrypted store", func() {
	var (
		ctx      context.Context
		tmpDir   string
		planPath string
		key      []byte
		store    *infra.EncryptedStore
		clock    *engine.ManualClock
		logger   *zap.Logger
	)

	openStore := func() *infra.EncryptedStore {
		s, err := infra.NewEncryptedStore(tmpDir, key, time.UTC)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	newEngine := func() *engine.Engine {
		cfg := engine.DefaultConfig()
		cfg.UserID = "tester"
		cfg.Location = time.UTC
		cfg.EventLogCapacity = 50
		eng := engine.New(cfg, plan.NewFileSource(planPath, logger), store, store, store, clock, logger)
		eng.Load(ctx)
		return eng
	}

	writePlan := func(body string) {
		var err error
		planPath, err = fixtures.WritePlanFile(tmpDir, body)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		logger = zap.NewNop()
		clock = engine.NewManualClock(fridayNoon)

		tmpDir, err = os.MkdirTemp("", "appgate-integration-*")
		Expect(err).NotTo(HaveOccurred())

		key, _, err = infra.EnsureKey(infra.NewFileKeyProvider(tmpDir))
		Expect(err).NotTo(HaveOccurred())
		store = openStore()
		writePlan(fixtures.GamesPlanYAML)
	})

	AfterEach(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("the friction sequence", func() {
		It("should pause, block, grant an override and cool down", func() {
			eng := newEngine()
			Expect(eng.GetActivePlan()).NotTo(BeNil())

			eng.Tick(ctx)
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateEligible))

			d := eng.ShouldBlockApp(ctx, "dota2", "dota2")
			Expect(d.Blocked).To(BeTrue())
			Expect(d.State).To(Equal(domain.StateMindfulPause))
			Expect(d.WaitSeconds).To(Equal(10))

			clock.Advance(10 * time.Second)
			eng.Tick(ctx)
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateActiveBlock))

			res := eng.RequestOverride(ctx, "dota2", "")
			Expect(res.Granted).To(BeTrue())
			Expect(res.State).To(Equal(domain.StateCooldown))

			d = eng.ShouldBlockApp(ctx, "dota2", "dota2")
			Expect(d.Blocked).To(BeFalse())
			Expect(d.State).To(Equal(domain.StateCooldown))

			clock.Advance(60 * time.Second)
			eng.Tick(ctx)
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateIdle))

			events, err := store.RecentEvents(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(eventTypes(events)).To(Equal([]domain.EventType{
				domain.EventScheduleActivated,
				domain.EventPauseStarted,
				domain.EventPauseCompleted,
				domain.EventOverrideUsed,
				domain.EventCooldownCompleted,
			}))
		})

		It("should deny overrides for strict groups", func() {
			eng := newEngine()
			eng.ShouldBlockApp(ctx, "x.com", "")
			clock.Advance(10 * time.Second)
			eng.Tick(ctx)
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateActiveBlock))

			res := eng.RequestOverride(ctx, "x.com", "")
			Expect(res.Granted).To(BeFalse())
			Expect(res.Reason).To(Equal(domain.DenyStrictGroup))
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateActiveBlock))
		})
	})

	Describe("daily usage", func() {
		Context("when recorded usage reaches the cap", func() {
			It("should block immediately without a pause", func() {
				Expect(store.AddUsage(ctx, "dota2", fridayNoon.Add(-2*time.Hour), 30)).To(Succeed())
				eng := newEngine()

				d := eng.ShouldBlockApp(ctx, "dota2", "")
				Expect(d.Blocked).To(BeTrue())
				Expect(d.State).To(Equal(domain.StateActiveBlock))
				Expect(d.Reason).To(Equal(domain.ReasonLimitReached))
			})
		})

		Context("when the cap was reached yesterday", func() {
			It("should start a fresh day", func() {
				Expect(store.AddUsage(ctx, "dota2", fridayNoon.Add(-24*time.Hour), 90)).To(Succeed())
				eng := newEngine()

				d := eng.ShouldBlockApp(ctx, "dota2", "")
				Expect(d.State).To(Equal(domain.StateMindfulPause))
			})
		})
	})

	Describe("restart", func() {
		It("should resume the persisted state and event log", func() {
			eng := newEngine()
			eng.ShouldBlockApp(ctx, "dota2", "")
			clock.Advance(4 * time.Second)
			before := eng.GetState()

			Expect(store.Close()).To(Succeed())
			store = openStore()
			restarted := newEngine()

			after := restarted.GetState()
			Expect(after.CurrentState).To(Equal(domain.StateMindfulPause))
			Expect(after.TargetApp).To(Equal("dota2"))
			Expect(after.PauseStartedAt).To(Equal(before.PauseStartedAt))
			Expect(after.Events.Len()).To(Equal(before.Events.Len()))

			d := restarted.ShouldBlockApp(ctx, "dota2", "")
			Expect(d.WaitSeconds).To(Equal(6))
		})

		It("should keep a quick disable across restarts until it expires", func() {
			eng := newEngine()
			res := eng.ActivateQuickDisable(ctx, 5)
			Expect(res.Granted).To(BeTrue())

			Expect(store.Close()).To(Succeed())
			store = openStore()
			restarted := newEngine()
			Expect(restarted.GetState().CurrentState).To(Equal(domain.StateQuickDisabled))

			d := restarted.ShouldBlockApp(ctx, "dota2", "")
			Expect(d.Blocked).To(BeFalse())
			Expect(d.Reason).To(Equal(domain.ReasonQuickDisabled))

			clock.Advance(5 * time.Minute)
			restarted.Tick(ctx)
			Expect(restarted.GetState().CurrentState).To(Equal(domain.StateIdle))
		})
	})

	Describe("strict plans", func() {
		It("should refuse quick disable and overrides", func() {
			writePlan(fixtures.StrictPlanYAML)
			Expect(store.AddUsage(ctx, "dota2", fridayNoon, 45)).To(Succeed())
			eng := newEngine()

			Expect(eng.ShouldBlockApp(ctx, "dota2", "").State).To(Equal(domain.StateActiveBlock))
			Expect(eng.RequestOverride(ctx, "dota2", "").Reason).To(Equal(domain.DenyOverrideDisabled))

			res := eng.ActivateQuickDisable(ctx, 15)
			Expect(res.Granted).To(BeFalse())
			Expect(res.Reason).To(Equal(domain.DenyStrictPlan))
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateActiveBlock))
		})
	})

	Describe("the daemon monitor", func() {
		It("should apply queued CLI commands and enforce blocks", func() {
			eng := newEngine()
			procs := &fakeProcesses{procs: []domain.Process{{PID: 4242, Name: "dota2"}}}
			monitor := daemon.NewMonitor(
				daemon.DefaultMonitorConfig(),
				eng,
				store,
				procs,
				usecase.NewEnforcer(eng, procs, logger),
				usecase.NewUsageAccumulator(eng, store, time.Minute, logger),
				logger,
			)

			monitor.Scan(ctx)
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateMindfulPause))
			Expect(procs.killed).To(BeEmpty())

			clock.Advance(10 * time.Second)
			monitor.TickOnce(ctx)
			monitor.Scan(ctx)
			Expect(procs.killed).To(ConsistOf(4242))

			Expect(store.Enqueue(ctx, domain.Command{Kind: domain.CommandOverride, AppID: "dota2"})).To(Succeed())
			monitor.TickOnce(ctx)
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateCooldown))

			Expect(store.Enqueue(ctx, domain.Command{Kind: domain.CommandQuickDisable, Minutes: 10})).To(Succeed())
			monitor.TickOnce(ctx)
			Expect(eng.GetState().CurrentState).To(Equal(domain.StateQuickDisabled))

			pending, err := store.Drain(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})
})
