package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"MailCourier/internal/models"
)

const DefaultMaxRows = 1000

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

// column aliases, matched case-insensitively against the header row
var columns = map[string][]string{
	"company": {"company", "company_name"},
	"email":   {"email", "recipient"},
	"subject": {"subject"},
	"folder":  {"folder", "folder_path", "path"},
	"send_at": {"send_at", "send_date", "date"},
}

// ParseJobs reads email jobs from a CSV with a header row. Email is required;
// company, subject, folder and send date columns are optional. Rows with the
// wrong number of fields or no email are skipped. maxRows caps the number of
// jobs returned.
func ParseJobs(r io.Reader, maxRows int) ([]models.EmailJob, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	idx := indexColumns(headers)
	if _, ok := idx["email"]; !ok {
		return nil, errors.New("csv must contain an email column")
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	jobs := make([]models.EmailJob, 0)
	line := 1
	for len(jobs) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if errors.Is(err, csv.ErrFieldCount) {
			continue
		}
		if err != nil {
			return nil, err
		}

		get := func(key string) string {
			if i, ok := idx[key]; ok {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		recipient := get("email")
		if recipient == "" {
			continue
		}

		job := models.EmailJob{
			CompanyName: get("company"),
			Recipient:   recipient,
			Subject:     get("subject"),
			FolderPath:  get("folder"),
			Status:      models.StatusPending,
		}
		if raw := get("send_at"); raw != "" {
			sendAt, err := parseDate(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			job.SendAt = sendAt
		}

		jobs = append(jobs, job)
	}

	if len(jobs) == 0 {
		return nil, errors.New("csv must contain at least one data row")
	}

	return jobs, nil
}

func indexColumns(headers []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		for key, aliases := range columns {
			if _, seen := idx[key]; seen {
				continue
			}
			for _, a := range aliases {
				if h == a {
					idx[key] = i
				}
			}
		}
	}
	return idx
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid send date %q", s)
}
