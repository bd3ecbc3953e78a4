package models

import "time"

type EmailStatus string

const (
	StatusPending EmailStatus = "pending"
	StatusSuccess EmailStatus = "success"
	StatusFailed  EmailStatus = "failed"
)

func (s EmailStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the persisted job statuses.
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

type Transition struct {
	From EmailStatus
	To   EmailStatus
}

// ValidTransitions lists every status change a job may go through.
// Failed -> Pending is reserved for the bulk requeue of failed jobs.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusSuccess},
	{From: StatusPending, To: StatusFailed},
	{From: StatusFailed, To: StatusPending},
}

func IsValidTransition(from, to EmailStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

type EmailJob struct {
	ID          int64  `json:"id"`
	CompanyName string `json:"company_name"`
	Recipient   string `json:"recipient"`
	Subject     string `json:"subject"`
	FolderPath  string `json:"folder_path,omitempty"`

	SendAt time.Time   `json:"send_at"`
	Status EmailStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Mapping is the persisted recipient/attachment pairing of a job.
type Mapping struct {
	Email    string
	FilePath string
}
