package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

const samplePlans = `
plans:
  - id: evenings
    user: alice
    name: Evenings
    active: true
    intensity: normal
    override_policy: allowed
    mindful_pause_sec: 20
    cooldown_sec: 300
    groups:
      - name: games
        preset: steam
        apps: [dota2]
        daily_cap_minutes: 60
        session_cap_minutes: 30
      - name: social
        apps: [x.com, reddit.com]
        strict: true
    schedules:
      - id: night
        days: [0, 1, 2, 3, 4, 5, 6]
        start: "22:00"
        end: "06:00"
  - id: shared
    active: true
    groups:
      - name: video
        apps: [youtube.com]
    schedules:
      - id: always
        days: [1]
        start: "00:00"
        end: "00:00"
        enabled: false
`

func TestParse(t *testing.T) {
	entries, err := Parse([]byte(samplePlans))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	p := entries[0].Plan
	assert.True(t, entries[0].Active)
	assert.Equal(t, "evenings", p.ID)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, 20, p.MindfulPauseSec)
	assert.Equal(t, 300, p.CooldownSec)
	require.Len(t, p.Groups, 2)

	games := p.Groups[0]
	assert.Contains(t, games.Apps, "dota2")
	assert.Contains(t, games.Apps, "steam_osx", "preset apps are merged into the group")
	require.NotNil(t, games.DailyCapMinutes)
	assert.Equal(t, 60, *games.DailyCapMinutes)
	require.NotNil(t, games.SessionCapMinutes)
	assert.Equal(t, 30, *games.SessionCapMinutes)
	assert.True(t, p.Groups[1].Strict)

	require.Len(t, p.Schedules, 1)
	assert.True(t, p.Schedules[0].Enabled, "schedules default to enabled")

	shared := entries[1].Plan
	assert.Equal(t, domain.IntensityNormal, shared.Intensity)
	assert.Equal(t, domain.OverrideAllowed, shared.OverridePolicy)
	assert.Nil(t, shared.Groups[0].DailyCapMinutes)
	assert.False(t, shared.Schedules[0].Enabled)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "missing id",
			yaml:  "plans:\n  - name: x\n",
			field: "id",
		},
		{
			name:  "bad intensity",
			yaml:  "plans:\n  - id: p\n    intensity: extreme\n",
			field: "intensity",
		},
		{
			name:  "bad override policy",
			yaml:  "plans:\n  - id: p\n    override_policy: sometimes\n",
			field: "override_policy",
		},
		{
			name:  "negative pause",
			yaml:  "plans:\n  - id: p\n    mindful_pause_sec: -1\n",
			field: "mindful_pause_sec",
		},
		{
			name:  "group without apps",
			yaml:  "plans:\n  - id: p\n    groups:\n      - name: empty\n",
			field: "groups[0].apps",
		},
		{
			name:  "unknown preset",
			yaml:  "plans:\n  - id: p\n    groups:\n      - name: g\n        preset: nope\n",
			field: "groups[0].preset",
		},
		{
			name:  "negative cap",
			yaml:  "plans:\n  - id: p\n    groups:\n      - name: g\n        apps: [a]\n        daily_cap_minutes: -5\n",
			field: "groups[0].daily_cap_minutes",
		},
		{
			name:  "bad schedule time",
			yaml:  "plans:\n  - id: p\n    schedules:\n      - id: s\n        days: [1]\n        start: \"25:00\"\n        end: \"10:00\"\n",
			field: "schedules[0]",
		},
		{
			name:  "duplicate id",
			yaml:  "plans:\n  - id: p\n  - id: p\n",
			field: "id",
		},
		{
			name:  "malformed yaml",
			yaml:  "plans: [",
			field: "yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestParse_AggregatesErrors(t *testing.T) {
	_, err := Parse([]byte("plans:\n  - id: p\n    intensity: x\n    cooldown_sec: -1\n"))
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "plan p: intensity")
	assert.Contains(t, err.Error(), "plan p: cooldown_sec")
}

func TestSelect(t *testing.T) {
	entries := []Entry{
		{Plan: domain.RestrictionPlan{ID: "inactive", UserID: "alice"}, Active: false},
		{Plan: domain.RestrictionPlan{ID: "bob", UserID: "bob"}, Active: true},
		{Plan: domain.RestrictionPlan{ID: "alice", UserID: "alice"}, Active: true},
		{Plan: domain.RestrictionPlan{ID: "everyone"}, Active: true},
	}

	tests := []struct {
		user string
		want string
	}{
		{user: "alice", want: "alice"},
		{user: "bob", want: "bob"},
		{user: "carol", want: "everyone"},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			p := Select(entries, tt.user)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.ID)
		})
	}

	assert.Nil(t, Select(entries[:1], "alice"), "inactive plans are never selected")
	assert.Nil(t, Select(nil, "alice"))
}

func TestOverlappingApps(t *testing.T) {
	p := domain.RestrictionPlan{Groups: []domain.AppGroup{
		{Name: "a", Apps: []string{"Steam", "dota2"}},
		{Name: "b", Apps: []string{"steam", "x.com"}},
	}}
	assert.Equal(t, []string{"steam"}, OverlappingApps(p))
	assert.Empty(t, OverlappingApps(domain.RestrictionPlan{}))
}

func TestFileSource_MissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "plans.yaml"), zap.NewNop())

	p, err := src.LoadActivePlan(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFileSource_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  - intensity: x\n"), 0600))

	_, err := NewFileSource(path, zap.NewNop()).LoadActivePlan(context.Background(), "alice")
	var verrs ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plans.yaml")
	starter := Starter("alice")

	require.NoError(t, Save(path, []Entry{
		{Plan: domain.RestrictionPlan{ID: "old", UserID: "alice"}},
		{Plan: starter, Active: true},
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	src := NewFileSource(path, zap.NewNop())
	assert.Equal(t, path, src.Path())

	got, err := src.LoadActivePlan(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, starter.ID, got.ID)
	assert.Equal(t, starter.MindfulPauseSec, got.MindfulPauseSec)
	assert.Equal(t, starter.CooldownSec, got.CooldownSec)
	assert.Equal(t, starter.Groups, got.Groups)
	assert.Equal(t, starter.Schedules, got.Schedules)

	other, err := src.LoadActivePlan(context.Background(), "bob")
	require.NoError(t, err)
	assert.Nil(t, other, "starter plan is scoped to its user")
}
