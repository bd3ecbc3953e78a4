package mapping

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"MailCourier/internal/db"
	"MailCourier/internal/models"
)

var (
	ErrNoRecord          = errors.New("no persisted mapping for job")
	ErrRecipientMismatch = errors.New("recipient mismatch")
	ErrPathMismatch      = errors.New("file path mismatch")
	ErrNotAllowed        = errors.New("recipient not in allowlist")
)

type Loader interface {
	LoadMapping(ctx context.Context, id int64) (models.Mapping, error)
}

// Validator confirms that a job's recipient and attachment path still match
// the persisted record before anything is sent.
type Validator struct {
	store Loader
}

func NewValidator(store Loader) *Validator {
	return &Validator{store: store}
}

// Validate compares recipient and filePath with the persisted mapping of
// jobID. When alreadyValidated is true the check is skipped.
func (v *Validator) Validate(ctx context.Context, jobID int64, recipient, filePath string, alreadyValidated bool) error {
	if alreadyValidated {
		return nil
	}

	m, err := v.store.LoadMapping(ctx, jobID)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: job %d", ErrNoRecord, jobID)
	}
	if err != nil {
		return fmt.Errorf("load mapping for job %d: %w", jobID, err)
	}

	if !strings.EqualFold(strings.TrimSpace(m.Email), strings.TrimSpace(recipient)) {
		return fmt.Errorf("%w: job %d is mapped to %s, got %s", ErrRecipientMismatch, jobID, m.Email, recipient)
	}

	stored, given := NormalizePath(m.FilePath), NormalizePath(filePath)
	if stored != "" && given != "" && stored != given {
		return fmt.Errorf("%w: job %d is mapped to %s, got %s", ErrPathMismatch, jobID, m.FilePath, filePath)
	}

	return nil
}

// NormalizePath makes paths comparable regardless of separator style, case
// and redundant elements. Empty input stays empty.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	return strings.ToLower(p)
}

// Allowed reports whether recipient passes the allowlist. Entries are full
// addresses or domains ("example.com" or "@example.com"). An empty list
// allows everyone.
func Allowed(recipient string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	addr := strings.ToLower(strings.TrimSpace(recipient))
	domain := ""
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		domain = addr[i+1:]
	}
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == addr {
			return true
		}
		if domain != "" && strings.TrimPrefix(entry, "@") == domain {
			return true
		}
	}
	return false
}
