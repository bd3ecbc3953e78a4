package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"MailCourier/internal/models"
)

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestCalculateNextRun(t *testing.T) {
	// 2024-05-15 is a Wednesday.
	wed10 := date(2024, time.May, 15, 10, 0)

	tests := []struct {
		name     string
		schedule models.Schedule
		now      time.Time
		want     time.Time
	}{
		{
			name:     "daily later today",
			schedule: models.Schedule{Frequency: models.FrequencyDaily, TimeOfDay: "18:30"},
			now:      wed10,
			want:     date(2024, time.May, 15, 18, 30),
		},
		{
			name:     "daily already passed",
			schedule: models.Schedule{Frequency: models.FrequencyDaily, TimeOfDay: "09:00"},
			now:      wed10,
			want:     date(2024, time.May, 16, 9, 0),
		},
		{
			name:     "daily exactly now moves to tomorrow",
			schedule: models.Schedule{Frequency: models.FrequencyDaily, TimeOfDay: "10:00"},
			now:      wed10,
			want:     date(2024, time.May, 16, 10, 0),
		},
		{
			name:     "weekly monday and friday from wednesday",
			schedule: models.Schedule{Frequency: models.FrequencyWeekly, TimeOfDay: "09:00", Days: []int{1, 5}},
			now:      wed10,
			want:     date(2024, time.May, 17, 9, 0),
		},
		{
			name:     "weekly today but passed waits a week",
			schedule: models.Schedule{Frequency: models.FrequencyWeekly, TimeOfDay: "09:00", Days: []int{3}},
			now:      wed10,
			want:     date(2024, time.May, 22, 9, 0),
		},
		{
			name:     "weekly today still ahead",
			schedule: models.Schedule{Frequency: models.FrequencyWeekly, TimeOfDay: "11:00", Days: []int{3}},
			now:      wed10,
			want:     date(2024, time.May, 15, 11, 0),
		},
		{
			name:     "weekly defaults to monday",
			schedule: models.Schedule{Frequency: models.FrequencyWeekly, TimeOfDay: "09:00"},
			now:      wed10,
			want:     date(2024, time.May, 20, 9, 0),
		},
		{
			name:     "monthly later this month",
			schedule: models.Schedule{Frequency: models.FrequencyMonthly, TimeOfDay: "08:00", Days: []int{1, 20}},
			now:      wed10,
			want:     date(2024, time.May, 20, 8, 0),
		},
		{
			name:     "monthly rolls to first listed day of next month",
			schedule: models.Schedule{Frequency: models.FrequencyMonthly, TimeOfDay: "08:00", Days: []int{10, 5}},
			now:      wed10,
			want:     date(2024, time.June, 5, 8, 0),
		},
		{
			name:     "monthly december rolls into january",
			schedule: models.Schedule{Frequency: models.FrequencyMonthly, TimeOfDay: "07:15", Days: []int{3}},
			now:      date(2024, time.December, 20, 12, 0),
			want:     date(2025, time.January, 3, 7, 15),
		},
		{
			name:     "monthly skips days missing from the month",
			schedule: models.Schedule{Frequency: models.FrequencyMonthly, TimeOfDay: "09:00", Days: []int{31}},
			now:      date(2024, time.April, 2, 9, 0),
			want:     date(2024, time.May, 31, 9, 0),
		},
		{
			name:     "monthly uses last day when no listed day exists next month",
			schedule: models.Schedule{Frequency: models.FrequencyMonthly, TimeOfDay: "09:00", Days: []int{30}},
			now:      date(2025, time.January, 31, 9, 0),
			want:     date(2025, time.February, 28, 9, 0),
		},
		{
			name:     "monthly defaults to the first",
			schedule: models.Schedule{Frequency: models.FrequencyMonthly, TimeOfDay: "09:00"},
			now:      wed10,
			want:     date(2024, time.June, 1, 9, 0),
		},
		{
			name:     "custom behaves as daily",
			schedule: models.Schedule{Frequency: models.FrequencyCustom, TimeOfDay: "12:00"},
			now:      wed10,
			want:     date(2024, time.May, 15, 12, 0),
		},
		{
			name:     "empty time uses default",
			schedule: models.Schedule{Frequency: models.FrequencyDaily},
			now:      wed10,
			want:     date(2024, time.May, 16, 9, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateNextRun(tt.schedule, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateNextRun_Errors(t *testing.T) {
	now := date(2024, time.May, 15, 10, 0)

	_, err := CalculateNextRun(models.Schedule{Frequency: models.FrequencyDaily, TimeOfDay: "25:99"}, now)
	assert.ErrorIs(t, err, ErrInvalidTimeOfDay)

	_, err = CalculateNextRun(models.Schedule{Frequency: models.FrequencyWeekly, TimeOfDay: "09:00", Days: []int{7}}, now)
	assert.ErrorIs(t, err, ErrInvalidDay)

	_, err = CalculateNextRun(models.Schedule{Frequency: models.FrequencyMonthly, TimeOfDay: "09:00", Days: []int{0}}, now)
	assert.ErrorIs(t, err, ErrInvalidDay)
}

func TestNextRunOrFallback(t *testing.T) {
	now := date(2024, time.May, 15, 10, 0)

	got := NextRunOrFallback(models.Schedule{TimeOfDay: "noon"}, now, zaptest.NewLogger(t))
	assert.Equal(t, now.Add(time.Hour), got)

	got = NextRunOrFallback(models.Schedule{TimeOfDay: "11:00"}, now, zaptest.NewLogger(t))
	assert.Equal(t, date(2024, time.May, 15, 11, 0), got)
}
