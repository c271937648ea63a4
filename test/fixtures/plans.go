// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"os"
	"path/filepath"
)

// GamesPlanYAML restricts dota2 and steam_osx on weekdays 09:00-17:00 with a
// 30 minute daily cap, a 10 second mindful pause and a 60 second cooldown.
const GamesPlanYAML = `
plans:
  - id: weekday-games
    user: tester
    active: true
    mindful_pause_sec: 10
    cooldown_sec: 60
    groups:
      - name: games
        apps: [dota2, steam_osx]
        daily_cap_minutes: 30
      - name: social
        apps: [x.com]
        strict: true
    schedules:
      - id: workday
        days: [1, 2, 3, 4, 5]
        start: "09:00"
        end: "17:00"
`

// StrictPlanYAML has strict intensity, a strict social group and forbids
// overrides, so neither quick disable nor override is ever granted.
const StrictPlanYAML = `
plans:
  - id: strict
    user: tester
    active: true
    intensity: strict
    override_policy: forbidden
    mindful_pause_sec: 0
    groups:
      - name: games
        apps: [dota2]
        daily_cap_minutes: 30
      - name: social
        apps: [x.com]
        strict: true
    schedules:
      - id: workday
        days: [1, 2, 3, 4, 5]
        start: "09:00"
        end: "17:00"
`

// WritePlanFile writes a plan document into dir and returns its path.
func WritePlanFile(dir, body string) (string, error) {
	path := filepath.Join(dir, "plans.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		return "", err
	}
	return path, nil
}
