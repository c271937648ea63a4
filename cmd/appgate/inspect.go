package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/engine"
	"github.com/eliteGoblin/focusd/app_gate/internal/plan"
)

var (
	eventsLimit int
	checkAt     string
	checkBundle string
)

func addInspectCommands(root *cobra.Command) {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted engine state",
		Long:  `Shows the current state, target app, quick disable time left and today's usage.`,
		RunE:  runStatus,
	}
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent state machine events",
		RunE:  runEvents,
	}
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "Number of events to show")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the active restriction plan",
		RunE:  runPlan,
	}
	checkCmd := &cobra.Command{
		Use:   "check <app>",
		Short: "Dry-run a gate decision for an app",
		Long: `Evaluates the active plan for an app against a throwaway engine, so
the running daemon is not affected. Use --at to evaluate another time
(RFC3339 or "2006-01-02 15:04" in the configured timezone).`,
		Args: cobra.ExactArgs(1),
		RunE: runCheck,
	}
	checkCmd.Flags().StringVar(&checkAt, "at", "", "Evaluate at this time instead of now")
	checkCmd.Flags().StringVar(&checkBundle, "bundle", "", "Bundle id or domain of the app")

	root.AddCommand(statusCmd, eventsCmd, planCmd, checkCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, loc)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	fmt.Println("\n=== appgate Status ===")
	fmt.Printf("User: %s (%s mode)\n", cfg.UserID, cfg.Mode)

	state, err := store.LoadState(ctx)
	switch {
	case err != nil:
		fmt.Printf("State: unreadable (%v)\n", err)
	case state == nil:
		fmt.Println("State: IDLE (never run)")
	default:
		fmt.Printf("State: %s\n", state.CurrentState)
		if state.TargetApp != "" {
			fmt.Printf("Target app: %s\n", state.TargetApp)
		}
		if state.ActiveScheduleID != "" {
			fmt.Printf("Schedule: %s\n", state.ActiveScheduleID)
		}
		if state.QuickDisableUntil > 0 {
			left := time.Until(time.UnixMilli(state.QuickDisableUntil)).Round(time.Second)
			if left > 0 {
				fmt.Printf("Quick disable: %s left\n", left)
			} else {
				fmt.Println("Quick disable: expired, ends on next tick")
			}
		}
	}

	usage, err := store.UsageForDay(ctx, time.Now())
	if err == nil && len(usage) > 0 {
		apps := make([]string, 0, len(usage))
		for app := range usage {
			apps = append(apps, app)
		}
		sort.Strings(apps)
		fmt.Println("\nUsage today:")
		for _, app := range apps {
			fmt.Printf("  - %s: %.1f min\n", app, usage[app])
		}
	}

	fmt.Println("======================")
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, loc)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.RecentEvents(context.Background(), eventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%s  %-26s %-14s %s -> %s\n",
			time.UnixMilli(ev.Timestamp).In(loc).Format("2006-01-02 15:04:05"),
			ev.Type, ev.AppID, ev.From, ev.To)
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	p, err := plan.NewFileSource(cfg.PlanFile, logger).LoadActivePlan(context.Background(), cfg.UserID)
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Printf("No active plan for %s in %s.\nRun 'appgate init' to write a starter plan.\n", cfg.UserID, cfg.PlanFile)
		return nil
	}

	out, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	fmt.Printf("# %s\n%s", cfg.PlanFile, out)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	at, err := parseAt(checkAt, loc)
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	// Usage comes from the real store when available; state is never written.
	var usage domain.UsageSource
	if store, err := openStore(cfg, loc); err == nil {
		defer store.Close()
		usage = store
	} else {
		logger.Warn("store unavailable, assuming zero usage", zap.Error(err))
	}

	ctx := context.Background()
	eng := engine.New(engineConfig(cfg, loc), plan.NewFileSource(cfg.PlanFile, logger), usage, nil, nil, engine.NewManualClock(at), zap.NewNop())
	eng.Load(ctx)
	eng.Tick(ctx)

	d := eng.ShouldBlockApp(ctx, args[0], checkBundle)
	fmt.Printf("App:     %s\n", args[0])
	fmt.Printf("At:      %s\n", at.Format(time.RFC3339))
	fmt.Printf("Blocked: %t\n", d.Blocked)
	fmt.Printf("State:   %s\n", d.State)
	if d.Reason != "" {
		fmt.Printf("Reason:  %s\n", d.Reason)
	}
	if d.Group != "" {
		fmt.Printf("Group:   %s\n", d.Group)
	}
	if d.WaitSeconds > 0 {
		fmt.Printf("Wait:    %ds\n", d.WaitSeconds)
	}
	return nil
}

func parseAt(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Now().In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: want RFC3339 or \"2006-01-02 15:04\"", s)
	}
	return t, nil
}
