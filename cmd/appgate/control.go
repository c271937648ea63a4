package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/plan"
)

var (
	quickDisableMinutes int
	initForce           bool
)

func addControlCommands(root *cobra.Command) {
	overrideCmd := &cobra.Command{
		Use:   "override <app>",
		Short: "Ask to bypass an active block (costs a cooldown)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(domain.Command{Kind: domain.CommandOverride, AppID: args[0]})
		},
	}
	quickDisableCmd := &cobra.Command{
		Use:   "quick-disable",
		Short: "Suspend all restrictions for a while",
		Long:  `Suspends restrictions for --minutes. Strict plans refuse this.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if quickDisableMinutes <= 0 {
				return fmt.Errorf("--minutes must be positive")
			}
			return enqueue(domain.Command{Kind: domain.CommandQuickDisable, Minutes: quickDisableMinutes})
		},
	}
	quickDisableCmd.Flags().IntVar(&quickDisableMinutes, "minutes", 15, "How long to suspend restrictions")

	quickEnableCmd := &cobra.Command{
		Use:   "quick-enable",
		Short: "End a quick disable early",
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(domain.Command{Kind: domain.CommandQuickEnable})
		},
	}
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload the plan file in the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(domain.Command{Kind: domain.CommandRefreshPlan})
		},
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter plan and config",
		Long: `Writes a starter plan (games capped, social media strict during work
hours) to the plan file, creates the store key and writes the config file
if it does not exist yet.`,
		RunE: runInit,
	}
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing plan file")

	root.AddCommand(overrideCmd, quickDisableCmd, quickEnableCmd, refreshCmd, initCmd)
}

// enqueue hands a command to the running daemon through the store.
func enqueue(c domain.Command) error {
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

	if err := store.Enqueue(context.Background(), c); err != nil {
		return err
	}
	fmt.Printf("Queued %s. The running daemon applies it on its next tick;\nsee 'appgate events' for the outcome.\n", c.Kind)
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.PlanFile); err == nil && !initForce {
		fmt.Printf("Plan file already exists: %s (use --force to overwrite)\n", cfg.PlanFile)
	} else {
		starter := plan.Starter(cfg.UserID)
		if err := plan.Save(cfg.PlanFile, []plan.Entry{{Plan: starter, Active: true}}); err != nil {
			return err
		}
		fmt.Printf("Wrote starter plan %q to %s\n", starter.ID, cfg.PlanFile)
	}

	store, err := openStore(cfg, loc)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Printf("Store ready: %s\n", store.Path())

	if _, err := os.Stat(config.FilePath()); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote config to %s\n", config.FilePath())
	}

	fmt.Println("\nStart the gate with: appgate run")
	return nil
}
