package models

import "time"

type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunRunning    RunStatus = "running"
	RunStopping   RunStatus = "stopping"
	RunRestarting RunStatus = "restarting"
	RunError      RunStatus = "error"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

type Summary struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Skipped    int `json:"skipped"`
}

// AttachmentSettings carries the thresholds used to pick an attachment mode.
// Sizes are in megabytes; AllowedExtensions of ["all"] or ["*"] matches any file.
type AttachmentSettings struct {
	FileCountThreshold int      `json:"file_count_threshold"`
	AllowedExtensions  []string `json:"allowed_extensions"`
	MaxSizeMB          int      `json:"max_size_mb"`
	SafeSizeMB         int      `json:"safe_size_mb"`
	CloudThresholdMB   int      `json:"cloud_threshold_mb"`
}

type Settings struct {
	RetryOnFailure       bool               `json:"retry_on_failure"`
	RetryIntervalMinutes int                `json:"retry_interval_minutes"`
	TemplateID           string             `json:"template_id"`
	SharingOption        string             `json:"sharing_option"`
	RecipientAllowlist   []string           `json:"recipient_allowlist"`
	Attachment           AttachmentSettings `json:"attachment"`
}

func (s Settings) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalMinutes) * time.Minute
}

type Schedule struct {
	Enabled   bool       `json:"enabled"`
	Frequency Frequency  `json:"frequency"`
	TimeOfDay string     `json:"time_of_day"`
	Days      []int      `json:"days"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// AutomationConfig is the single persisted configuration record.
type AutomationConfig struct {
	Settings Settings `json:"settings"`
	Schedule Schedule `json:"schedule"`
}

type StatusReport struct {
	Status    RunStatus  `json:"status"`
	IsRunning bool       `json:"is_running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	Summary   Summary    `json:"summary"`
	LastError string     `json:"last_error,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
}

// SettingsUpdate is a partial update: nil fields are left unchanged.
type SettingsUpdate struct {
	RetryOnFailure       *bool    `json:"retry_on_failure,omitempty"`
	RetryIntervalMinutes *int     `json:"retry_interval_minutes,omitempty"`
	TemplateID           *string  `json:"template_id,omitempty"`
	SharingOption        *string  `json:"sharing_option,omitempty"`
	RecipientAllowlist   []string `json:"recipient_allowlist,omitempty"`

	FileCountThreshold *int     `json:"file_count_threshold,omitempty"`
	AllowedExtensions  []string `json:"allowed_extensions,omitempty"`
	MaxSizeMB          *int     `json:"max_size_mb,omitempty"`
	SafeSizeMB         *int     `json:"safe_size_mb,omitempty"`
	CloudThresholdMB   *int     `json:"cloud_threshold_mb,omitempty"`
}

func (u SettingsUpdate) Apply(s Settings) Settings {
	if u.RetryOnFailure != nil {
		s.RetryOnFailure = *u.RetryOnFailure
	}
	if u.RetryIntervalMinutes != nil && *u.RetryIntervalMinutes > 0 {
		s.RetryIntervalMinutes = *u.RetryIntervalMinutes
	}
	if u.TemplateID != nil {
		s.TemplateID = *u.TemplateID
	}
	if u.SharingOption != nil {
		s.SharingOption = *u.SharingOption
	}
	if u.RecipientAllowlist != nil {
		s.RecipientAllowlist = append([]string(nil), u.RecipientAllowlist...)
	}
	if u.FileCountThreshold != nil && *u.FileCountThreshold > 0 {
		s.Attachment.FileCountThreshold = *u.FileCountThreshold
	}
	if u.AllowedExtensions != nil {
		s.Attachment.AllowedExtensions = append([]string(nil), u.AllowedExtensions...)
	}
	if u.MaxSizeMB != nil && *u.MaxSizeMB > 0 {
		s.Attachment.MaxSizeMB = *u.MaxSizeMB
	}
	if u.SafeSizeMB != nil && *u.SafeSizeMB > 0 {
		s.Attachment.SafeSizeMB = *u.SafeSizeMB
	}
	if u.CloudThresholdMB != nil && *u.CloudThresholdMB > 0 {
		s.Attachment.CloudThresholdMB = *u.CloudThresholdMB
	}
	return s
}

type ScheduleUpdate struct {
	Enabled   *bool      `json:"enabled,omitempty"`
	Frequency *Frequency `json:"frequency,omitempty"`
	TimeOfDay *string    `json:"time_of_day,omitempty"`
	Days      []int      `json:"days,omitempty"`
}

func (u ScheduleUpdate) Apply(s Schedule) Schedule {
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.Frequency != nil {
		s.Frequency = *u.Frequency
	}
	if u.TimeOfDay != nil {
		s.TimeOfDay = *u.TimeOfDay
	}
	if u.Days != nil {
		s.Days = append([]int(nil), u.Days...)
	}
	return s
}
