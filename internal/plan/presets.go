// Package plan loads restriction plans and provides built-in app presets.
package plan

import (
	"sort"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Preset is a named, ready-made app group.
type Preset struct {
	ID   string
	Name string
	// Apps are identifiers matched case-insensitively against process names
	// and bundle ids.
	Apps []string
}

var presets = map[string]Preset{
	"steam": {
		ID:   "steam",
		Name: "Steam",
		Apps: []string{
			"Steam",
			"steam_osx",
			"steamwebhelper",
			"Steam Helper",
			"com.valvesoftware.steam",
		},
	},
	"dota2": {
		ID:   "dota2",
		Name: "Dota 2",
		Apps: []string{
			"dota2",
			"dota_osx64",
			"Dota 2",
			"dota2_launcher",
		},
	},
	"social": {
		ID:   "social",
		Name: "Social media",
		Apps: []string{
			"twitter.com",
			"x.com",
			"reddit.com",
			"instagram.com",
			"com.twitter.twitter-mac",
		},
	},
}

// GetPreset returns a preset by id.
func GetPreset(id string) (Preset, bool) {
	p, ok := presets[id]
	return p, ok
}

// PresetIDs returns all preset ids, sorted.
func PresetIDs() []string {
	ids := make([]string, 0, len(presets))
	for id := range presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Group turns a preset into an app group with the given caps.
func (p Preset) Group(dailyCap, sessionCap *int, strict bool) domain.AppGroup {
	apps := make([]string, len(p.Apps))
	copy(apps, p.Apps)
	return domain.AppGroup{
		Name:              p.ID,
		Apps:              apps,
		DailyCapMinutes:   dailyCap,
		SessionCapMinutes: sessionCap,
		Strict:            strict,
	}
}

// Starter returns the plan written by `appgate init`: games capped on
// weekday evenings, social media strict during work hours.
func Starter(userID string) domain.RestrictionPlan {
	steam, _ := GetPreset("steam")
	dota, _ := GetPreset("dota2")
	social, _ := GetPreset("social")

	daily, session := 60, 30
	games := steam.Group(&daily, &session, false)
	games.Name = "games"
	games.Apps = append(games.Apps, dota.Apps...)

	return domain.RestrictionPlan{
		ID:              "starter",
		UserID:          userID,
		Name:            "Starter plan",
		Intensity:       domain.IntensityNormal,
		OverridePolicy:  domain.OverrideAllowed,
		MindfulPauseSec: 15,
		CooldownSec:     600,
		Groups: []domain.AppGroup{
			games,
			social.Group(nil, nil, true),
		},
		Schedules: []domain.Schedule{
			{ID: "workday", DaysOfWeek: []int{1, 2, 3, 4, 5}, StartLocal: "09:00", EndLocal: "17:30", Enabled: true},
			{ID: "late-night", DaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6}, StartLocal: "23:00", EndLocal: "07:00", Enabled: true},
		},
	}
}
