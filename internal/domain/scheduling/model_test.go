package scheduling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 9*60 + 30, false},
		{"23:59", 23*60 + 59, false},
		{"24:00", EndOfDay, false},
		{"24:01", 0, true},
		{"25:00", 0, true},
		{"12:60", 0, true},
		{"9:30", 0, true},
		{"09-30", 0, true},
		{"+9:30", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClockTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestClockTime_JSON(t *testing.T) {
	var w struct {
		Start ClockTime `json:"start"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"08:15"}`), &w))
	assert.Equal(t, ClockTime(8*60+15), w.Start)

	b, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"08:15"}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"start":495}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"start":"8am"}`), &w))
}

func TestScheduleWindow_Contains(t *testing.T) {
	w := &ScheduleWindow{DayOfWeek: time.Monday, StartTime: 9 * 60, EndTime: 17 * 60}

	assert.True(t, w.Contains(at(monday, 9, 0), time.UTC))
	assert.True(t, w.Contains(at(monday, 16, 59), time.UTC))
	assert.False(t, w.Contains(at(monday, 17, 0), time.UTC))
	assert.False(t, w.Contains(at(monday, 8, 59), time.UTC))
	assert.False(t, w.Contains(at(monday.AddDate(0, 0, 1), 10, 0), time.UTC))

	// 15:00 UTC on Monday is 10:00 Monday five hours west.
	west := time.FixedZone("UTC-5", -5*3600)
	assert.True(t, w.Contains(at(monday, 15, 0), west))
	// 03:00 UTC Monday is still Sunday there.
	assert.False(t, w.Contains(at(monday, 3, 0), west))
}

func TestScheduleWindow_ContainsUntilMidnight(t *testing.T) {
	w := &ScheduleWindow{DayOfWeek: time.Monday, StartTime: 22 * 60, EndTime: EndOfDay}

	assert.True(t, w.Contains(at(monday, 23, 59), time.UTC))
	assert.False(t, w.Contains(at(monday, 24, 0), time.UTC), "midnight belongs to Tuesday")
}

func TestScheduleWindow_Overlaps(t *testing.T) {
	a := &ScheduleWindow{DayOfWeek: time.Monday, StartTime: 9 * 60, EndTime: 12 * 60}

	assert.True(t, a.Overlaps(&ScheduleWindow{DayOfWeek: time.Monday, StartTime: 11 * 60, EndTime: 13 * 60}))
	assert.True(t, a.Overlaps(&ScheduleWindow{DayOfWeek: time.Monday, StartTime: 10 * 60, EndTime: 11 * 60}))
	assert.False(t, a.Overlaps(&ScheduleWindow{DayOfWeek: time.Monday, StartTime: 12 * 60, EndTime: 13 * 60}))
	assert.False(t, a.Overlaps(&ScheduleWindow{DayOfWeek: time.Tuesday, StartTime: 9 * 60, EndTime: 12 * 60}))
}

func TestBookingStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseBookingStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseBookingStatus("pending")
	assert.Error(t, err)

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusBooked.IsTerminal())

	assert.True(t, StatusPending.ConsumesCapacity())
	assert.True(t, StatusCompleted.ConsumesCapacity())
	assert.False(t, StatusCancelled.ConsumesCapacity())
}

func TestCivilDate(t *testing.T) {
	west := time.FixedZone("UTC-5", -5*3600)
	got := CivilDate(at(monday, 3, 0), west)
	assert.Equal(t, time.Date(2030, time.January, 6, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, monday, CivilDate(at(monday, 23, 0), time.UTC))
}

func TestDateOf(t *testing.T) {
	west := time.FixedZone("UTC-5", -5*3600)
	assert.Equal(t, monday, DateOf(time.Date(2030, time.January, 7, 0, 0, 0, 0, west)))
	assert.Equal(t, monday, DateOf(time.Date(2030, time.January, 7, 23, 59, 0, 0, west)))

	slot := CivilDate(at(monday, 15, 0), west)
	assert.Equal(t, slot, DateOf(slot))
}
