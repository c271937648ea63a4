package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// 2026-10-16 is a Friday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "06:30", want: 390},
		{in: "9:05", want: 545},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1200", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Matches_SameDayWindow(t *testing.T) {
	e := NewEvaluator(time.UTC)
	s := domain.Schedule{ID: "work", DaysOfWeek: []int{1, 2, 3, 4, 5}, StartLocal: "09:00", EndLocal: "17:00", Enabled: true}

	assert.True(t, e.Matches(s, at(16, 9, 0)), "start is inclusive")
	assert.True(t, e.Matches(s, at(16, 16, 59)))
	assert.False(t, e.Matches(s, at(16, 17, 0)), "end is exclusive")
	assert.False(t, e.Matches(s, at(16, 8, 59)))
	assert.False(t, e.Matches(s, at(17, 10, 0)), "saturday is not configured")
}

func TestEvaluator_Matches_AcrossMidnight(t *testing.T) {
	e := NewEvaluator(time.UTC)
	s := domain.Schedule{ID: "night", DaysOfWeek: []int{int(time.Friday)}, StartLocal: "22:00", EndLocal: "06:00", Enabled: true}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"friday 23:30", at(16, 23, 30), true},
		{"saturday 05:30", at(17, 5, 30), true},
		{"friday 20:00", at(16, 20, 0), false},
		{"saturday 07:00", at(17, 7, 0), false},
		{"friday 05:30 belongs to thursday", at(16, 5, 30), false},
		{"saturday 23:00 not configured", at(17, 23, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Matches(s, tt.now))
		})
	}
}

func TestEvaluator_Matches_SundayWrapFromSaturday(t *testing.T) {
	e := NewEvaluator(time.UTC)
	s := domain.Schedule{DaysOfWeek: []int{int(time.Saturday)}, StartLocal: "23:00", EndLocal: "01:00", Enabled: true}

	assert.True(t, e.Matches(s, at(18, 0, 30)), "sunday early morning belongs to saturday")
}

func TestEvaluator_Matches_DisabledAndInvalid(t *testing.T) {
	e := NewEvaluator(time.UTC)

	disabled := domain.Schedule{DaysOfWeek: []int{5}, StartLocal: "00:00", EndLocal: "23:59", Enabled: false}
	assert.False(t, e.Matches(disabled, at(16, 12, 0)))

	invalid := domain.Schedule{DaysOfWeek: []int{5}, StartLocal: "noon", EndLocal: "23:59", Enabled: true}
	assert.False(t, e.Matches(invalid, at(16, 12, 0)))
}

func TestEvaluator_Matches_EqualBoundsIsWholeDay(t *testing.T) {
	e := NewEvaluator(time.UTC)
	s := domain.Schedule{DaysOfWeek: []int{5}, StartLocal: "00:00", EndLocal: "00:00", Enabled: true}

	assert.True(t, e.Matches(s, at(16, 0, 0)))
	assert.True(t, e.Matches(s, at(16, 23, 59)))
	assert.False(t, e.Matches(s, at(17, 0, 0)))
}

func TestEvaluator_Matches_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	e := NewEvaluator(loc)
	s := domain.Schedule{DaysOfWeek: []int{int(time.Saturday)}, StartLocal: "08:00", EndLocal: "09:00", Enabled: true}

	// Friday 22:30 UTC is Saturday 08:30 at UTC+10.
	assert.True(t, e.Matches(s, at(16, 22, 30)))
}

func TestEvaluator_Active_FirstMatchWins(t *testing.T) {
	e := NewEvaluator(time.UTC)
	schedules := []domain.Schedule{
		{ID: "off", DaysOfWeek: []int{5}, StartLocal: "00:00", EndLocal: "23:00", Enabled: false},
		{ID: "first", DaysOfWeek: []int{5}, StartLocal: "09:00", EndLocal: "12:00", Enabled: true},
		{ID: "second", DaysOfWeek: []int{5}, StartLocal: "10:00", EndLocal: "13:00", Enabled: true},
	}

	got := e.Active(schedules, at(16, 11, 0))
	require.NotNil(t, got)
	assert.Equal(t, "first", got.ID)

	got = e.Active(schedules, at(16, 12, 30))
	require.NotNil(t, got)
	assert.Equal(t, "second", got.ID)

	assert.Nil(t, e.Active(schedules, at(16, 14, 0)))
	assert.Nil(t, e.Active(nil, at(16, 14, 0)))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(domain.Schedule{DaysOfWeek: []int{0, 6}, StartLocal: "22:00", EndLocal: "06:00"}))
	assert.Error(t, Validate(domain.Schedule{DaysOfWeek: []int{7}, StartLocal: "22:00", EndLocal: "06:00"}))
	assert.Error(t, Validate(domain.Schedule{StartLocal: "22", EndLocal: "06:00"}))
	assert.Error(t, Validate(domain.Schedule{StartLocal: "22:00", EndLocal: "6pm"}))
}

func TestWindowLength(t *testing.T) {
	d, err := WindowLength(domain.Schedule{StartLocal: "22:00", EndLocal: "06:00"})
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, d)

	d, err = WindowLength(domain.Schedule{StartLocal: "07:00", EndLocal: "07:00"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
}
