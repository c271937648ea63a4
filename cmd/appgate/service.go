package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
)

func addServiceCommands(root *cobra.Command) {
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Register the daemon with launchd",
		Long: `Registers 'appgate run' as a launchd job. Run as root to install a
LaunchDaemon for all users, otherwise a LaunchAgent for the current user is
installed. Reinstalling replaces an outdated definition.`,
		RunE: runInstall,
	}
	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the launchd job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc := newService(cfg)
			if !svc.IsInstalled() {
				fmt.Println("Not installed.")
				return nil
			}
			if err := svc.Uninstall(); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", svc.PlistPath())
			return nil
		},
	}
	root.AddCommand(installCmd, uninstallCmd)
}

func newService(cfg config.Config) *infra.LaunchdService {
	svcCfg := infra.DefaultServiceConfig(cfg.Mode == config.ModeSystem, config.RealUserHome(), cfg.DataDir)
	svcCfg.ConfigFile = config.FilePath()
	return infra.NewLaunchdService(svcCfg)
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}

	svc := newService(cfg)
	if svc.IsInstalled() && !svc.NeedsUpdate(execPath) {
		fmt.Printf("Already installed: %s\n", svc.PlistPath())
		return nil
	}
	if err := svc.Install(execPath); err != nil {
		return err
	}
	fmt.Printf("Installed %s (%s mode)\n", svc.PlistPath(), cfg.Mode)
	return nil
}
