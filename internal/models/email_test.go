package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     EmailStatus
		to       EmailStatus
		expected bool
	}{
		{name: "Valid: Pending to Success", from: StatusPending, to: StatusSuccess, expected: true},
		{name: "Valid: Pending to Failed", from: StatusPending, to: StatusFailed, expected: true},
		{name: "Valid: Failed to Pending", from: StatusFailed, to: StatusPending, expected: true},
		{name: "Invalid: Success to Pending", from: StatusSuccess, to: StatusPending, expected: false},
		{name: "Invalid: Success to Failed", from: StatusSuccess, to: StatusFailed, expected: false},
		{name: "Invalid: Failed to Success", from: StatusFailed, to: StatusSuccess, expected: false},
		{name: "Invalid: Pending to Pending", from: StatusPending, to: StatusPending, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestEmailStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusSuccess.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, EmailStatus("processing").Valid())
}

func TestSettingsUpdate_Apply(t *testing.T) {
	base := Settings{
		TemplateID:           "welcome",
		RetryIntervalMinutes: 30,
		Attachment:           AttachmentSettings{FileCountThreshold: 5, SafeSizeMB: 20},
	}
	tmpl := "invoice"
	threshold := 8
	zero := 0

	got := SettingsUpdate{
		TemplateID:           &tmpl,
		FileCountThreshold:   &threshold,
		RetryIntervalMinutes: &zero,
	}.Apply(base)

	assert.Equal(t, "invoice", got.TemplateID)
	assert.Equal(t, 8, got.Attachment.FileCountThreshold)
	assert.Equal(t, 20, got.Attachment.SafeSizeMB)
	assert.Equal(t, 30, got.RetryIntervalMinutes, "non-positive interval is ignored")
	assert.Equal(t, "welcome", base.TemplateID, "base is not mutated")
}

func TestScheduleUpdate_Apply(t *testing.T) {
	enabled := true
	weekly := FrequencyWeekly
	got := ScheduleUpdate{Enabled: &enabled, Frequency: &weekly, Days: []int{1, 5}}.Apply(Schedule{TimeOfDay: "09:00"})

	assert.True(t, got.Enabled)
	assert.Equal(t, FrequencyWeekly, got.Frequency)
	assert.Equal(t, "09:00", got.TimeOfDay)
	assert.Equal(t, []int{1, 5}, got.Days)
}
