package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/schedule"
)

type rawDocument struct {
	Plans []rawPlan `yaml:"plans"`
}

type rawPlan struct {
	ID              string        `yaml:"id"`
	User            string        `yaml:"user"`
	Name            string        `yaml:"name"`
	Active          bool          `yaml:"active"`
	Intensity       string        `yaml:"intensity"`
	OverridePolicy  string        `yaml:"override_policy"`
	MindfulPauseSec int           `yaml:"mindful_pause_sec"`
	CooldownSec     int           `yaml:"cooldown_sec"`
	Groups          []rawGroup    `yaml:"groups"`
	Schedules       []rawSchedule `yaml:"schedules"`
}

type rawGroup struct {
	Name              string   `yaml:"name"`
	Preset            string   `yaml:"preset,omitempty"`
	Apps              []string `yaml:"apps"`
	DailyCapMinutes   *int     `yaml:"daily_cap_minutes,omitempty"`
	SessionCapMinutes *int     `yaml:"session_cap_minutes,omitempty"`
	Strict            bool     `yaml:"strict"`
}

type rawSchedule struct {
	ID      string `yaml:"id"`
	Days    []int  `yaml:"days"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// ValidationError captures a single field-specific validation issue.
type ValidationError struct {
	Plan    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("plan %s: %s", e.Plan, e.Message)
	}
	return fmt.Sprintf("plan %s: %s: %s", e.Plan, e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

// Entry is a plan as stored in the plan file.
type Entry struct {
	Plan   domain.RestrictionPlan
	Active bool
}

// Parse reads and validates a YAML plan document.
func Parse(data []byte) ([]Entry, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ValidationErrors{{Plan: "-", Field: "yaml", Message: err.Error()}}
	}

	var errs ValidationErrors
	entries := make([]Entry, 0, len(raw.Plans))
	seen := make(map[string]bool)
	for i, rp := range raw.Plans {
		p, perrs := convertPlan(rp, i)
		errs = append(errs, perrs...)
		if seen[p.ID] {
			errs = append(errs, ValidationError{Plan: p.ID, Field: "id", Message: "duplicate plan id"})
		}
		seen[p.ID] = true
		entries = append(entries, Entry{Plan: p, Active: rp.Active})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return entries, nil
}

func convertPlan(rp rawPlan, index int) (domain.RestrictionPlan, ValidationErrors) {
	var errs ValidationErrors
	id := strings.TrimSpace(rp.ID)
	if id == "" {
		id = fmt.Sprintf("#%d", index)
		errs = append(errs, ValidationError{Plan: id, Field: "id", Message: "is required"})
	}
	fail := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Plan: id, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	p := domain.RestrictionPlan{
		ID:              id,
		UserID:          strings.TrimSpace(rp.User),
		Name:            rp.Name,
		Intensity:       domain.IntensityNormal,
		OverridePolicy:  domain.OverrideAllowed,
		MindfulPauseSec: rp.MindfulPauseSec,
		CooldownSec:     rp.CooldownSec,
	}

	switch strings.ToLower(strings.TrimSpace(rp.Intensity)) {
	case "", string(domain.IntensityNormal):
	case string(domain.IntensityStrict):
		p.Intensity = domain.IntensityStrict
	default:
		fail("intensity", "must be normal or strict, got %q", rp.Intensity)
	}

	switch strings.ToLower(strings.TrimSpace(rp.OverridePolicy)) {
	case "", string(domain.OverrideAllowed):
	case string(domain.OverrideForbidden):
		p.OverridePolicy = domain.OverrideForbidden
	default:
		fail("override_policy", "must be allowed or forbidden, got %q", rp.OverridePolicy)
	}

	if rp.MindfulPauseSec < 0 {
		fail("mindful_pause_sec", "must not be negative")
	}
	if rp.CooldownSec < 0 {
		fail("cooldown_sec", "must not be negative")
	}

	for gi, rg := range rp.Groups {
		field := fmt.Sprintf("groups[%d]", gi)
		g := domain.AppGroup{
			Name:              strings.TrimSpace(rg.Name),
			Apps:              append([]string(nil), rg.Apps...),
			DailyCapMinutes:   rg.DailyCapMinutes,
			SessionCapMinutes: rg.SessionCapMinutes,
			Strict:            rg.Strict,
		}
		if rg.Preset != "" {
			preset, ok := GetPreset(rg.Preset)
			if !ok {
				fail(field+".preset", "unknown preset %q (known: %s)", rg.Preset, strings.Join(PresetIDs(), ", "))
			} else {
				g.Apps = append(g.Apps, preset.Apps...)
				if g.Name == "" {
					g.Name = preset.ID
				}
			}
		}
		if g.Name == "" {
			fail(field+".name", "is required")
		}
		if len(g.Apps) == 0 {
			fail(field+".apps", "must list at least one app")
		}
		if g.DailyCapMinutes != nil && *g.DailyCapMinutes < 0 {
			fail(field+".daily_cap_minutes", "must not be negative")
		}
		if g.SessionCapMinutes != nil && *g.SessionCapMinutes < 0 {
			fail(field+".session_cap_minutes", "must not be negative")
		}
		p.Groups = append(p.Groups, g)
	}

	for si, rs := range rp.Schedules {
		s := domain.Schedule{
			ID:         strings.TrimSpace(rs.ID),
			DaysOfWeek: append([]int(nil), rs.Days...),
			StartLocal: strings.TrimSpace(rs.Start),
			EndLocal:   strings.TrimSpace(rs.End),
			Enabled:    rs.Enabled == nil || *rs.Enabled,
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("schedule-%d", si)
		}
		if err := schedule.Validate(s); err != nil {
			fail(fmt.Sprintf("schedules[%d]", si), "%v", err)
		}
		p.Schedules = append(p.Schedules, s)
	}

	return p, errs
}

// Select returns the first active plan for the user, or nil.
// Plans without a user apply to everyone.
func Select(entries []Entry, userID string) *domain.RestrictionPlan {
	for _, e := range entries {
		if !e.Active {
			continue
		}
		if e.Plan.UserID == "" || e.Plan.UserID == userID {
			p := e.Plan
			return &p
		}
	}
	return nil
}

// OverlappingApps lists app ids that appear in more than one group.
// Only the first group is ever consulted for them.
func OverlappingApps(p domain.RestrictionPlan) []string {
	owner := make(map[string]string)
	var dup []string
	for _, g := range p.Groups {
		for _, app := range g.Apps {
			key := strings.ToLower(app)
			if first, ok := owner[key]; ok && first != g.Name {
				dup = append(dup, app)
				continue
			}
			owner[key] = g.Name
		}
	}
	return dup
}

// FileSource implements domain.PlanSource on a YAML file.
type FileSource struct {
	path   string
	logger *zap.Logger
}

// NewFileSource creates a plan source reading path on every load.
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Path returns the plan file location.
func (s *FileSource) Path() string {
	return s.path
}

// LoadActivePlan reads the file and returns the user's active plan.
// A missing file means no plan, not an error.
func (s *FileSource) LoadActivePlan(ctx context.Context, userID string) (*domain.RestrictionPlan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("plan file not found", zap.String("path", s.path))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	entries, err := Parse(data)
	if err != nil {
		return nil, err
	}

	p := Select(entries, userID)
	if p != nil {
		for _, app := range OverlappingApps(*p) {
			s.logger.Warn("app listed in several groups, first group wins",
				zap.String("plan", p.ID),
				zap.String("app", app))
		}
	}
	return p, nil
}

// Save writes plan entries to path as YAML.
func Save(path string, entries []Entry) error {
	doc := rawDocument{Plans: make([]rawPlan, 0, len(entries))}
	for _, e := range entries {
		p := e.Plan
		rp := rawPlan{
			ID:              p.ID,
			User:            p.UserID,
			Name:            p.Name,
			Active:          e.Active,
			Intensity:       string(p.Intensity),
			OverridePolicy:  string(p.OverridePolicy),
			MindfulPauseSec: p.MindfulPauseSec,
			CooldownSec:     p.CooldownSec,
		}
		for _, g := range p.Groups {
			rp.Groups = append(rp.Groups, rawGroup{
				Name:              g.Name,
				Apps:              g.Apps,
				DailyCapMinutes:   g.DailyCapMinutes,
				SessionCapMinutes: g.SessionCapMinutes,
				Strict:            g.Strict,
			})
		}
		for _, s := range p.Schedules {
			enabled := s.Enabled
			rp.Schedules = append(rp.Schedules, rawSchedule{
				ID:      s.ID,
				Days:    s.DaysOfWeek,
				Start:   s.StartLocal,
				End:     s.EndLocal,
				Enabled: &enabled,
			})
		}
		doc.Plans = append(doc.Plans, rp)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode plans: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// Ensure FileSource implements domain.PlanSource.
var _ domain.PlanSource = (*FileSource)(nil)
