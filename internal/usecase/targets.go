// Package usecase contains the scan-time logic that connects running
// processes to the blocking engine.
package usecase

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Target is a plan app identifier with the processes currently matching it.
type Target struct {
	AppID     string
	Group     string
	Processes []domain.Process
}

// MatchTargets groups running processes by the plan identifier they match.
// A process matches on its name or executable base name, case-insensitively.
// Targets are sorted by AppID so scans are deterministic.
func MatchTargets(plan *domain.RestrictionPlan, procs []domain.Process) []Target {
	if plan == nil || len(procs) == 0 {
		return nil
	}

	byApp := make(map[string]*Target)
	for _, proc := range procs {
		appID, group, ok := matchProcess(plan, proc)
		if !ok {
			continue
		}
		key := strings.ToLower(appID)
		t, found := byApp[key]
		if !found {
			t = &Target{AppID: appID, Group: group}
			byApp[key] = t
		}
		t.Processes = append(t.Processes, proc)
	}

	targets := make([]Target, 0, len(byApp))
	for _, t := range byApp {
		targets = append(targets, *t)
	}
	sort.Slice(targets, func(i, j int) bool {
		return strings.ToLower(targets[i].AppID) < strings.ToLower(targets[j].AppID)
	})
	return targets
}

// matchProcess returns the first group identifier the process matches.
func matchProcess(plan *domain.RestrictionPlan, proc domain.Process) (appID, group string, ok bool) {
	candidates := []string{proc.Name}
	if proc.Exe != "" {
		if base := filepath.Base(proc.Exe); !strings.EqualFold(base, proc.Name) {
			candidates = append(candidates, base)
		}
	}
	for _, g := range plan.Groups {
		for _, app := range g.Apps {
			for _, c := range candidates {
				if strings.EqualFold(app, c) {
					return app, g.Name, true
				}
			}
		}
	}
	return "", "", false
}
