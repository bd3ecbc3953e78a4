package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MailCourier/internal/db"
	"MailCourier/internal/models"
)

type mockLoader struct {
	MockLoadMapping func(ctx context.Context, id int64) (models.Mapping, error)
	calls           int
}

func (m *mockLoader) LoadMapping(ctx context.Context, id int64) (models.Mapping, error) {
	m.calls++
	return m.MockLoadMapping(ctx, id)
}

func staticMapping(email, path string) *mockLoader {
	return &mockLoader{MockLoadMapping: func(ctx context.Context, id int64) (models.Mapping, error) {
		return models.Mapping{Email: email, FilePath: path}, nil
	}}
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name      string
		stored    models.Mapping
		recipient string
		path      string
		wantErr   error
	}{
		{name: "exact match", stored: models.Mapping{Email: "a@x.com", FilePath: "/data/acme"}, recipient: "a@x.com", path: "/data/acme"},
		{name: "email case insensitive", stored: models.Mapping{Email: "A@X.com"}, recipient: "a@x.COM"},
		{name: "recipient mismatch", stored: models.Mapping{Email: "b@x.com"}, recipient: "a@x.com", wantErr: ErrRecipientMismatch},
		{name: "path normalised", stored: models.Mapping{Email: "a@x.com", FilePath: `C:\Data\Acme\`}, recipient: "a@x.com", path: "c:/data/acme"},
		{name: "path mismatch", stored: models.Mapping{Email: "a@x.com", FilePath: "/data/acme"}, recipient: "a@x.com", path: "/data/globex", wantErr: ErrPathMismatch},
		{name: "stored path absent", stored: models.Mapping{Email: "a@x.com"}, recipient: "a@x.com", path: "/data/acme"},
		{name: "given path absent", stored: models.Mapping{Email: "a@x.com", FilePath: "/data/acme"}, recipient: "a@x.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(staticMapping(tt.stored.Email, tt.stored.FilePath))
			err := v.Validate(context.Background(), 1, tt.recipient, tt.path, false)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "mismatch")
		})
	}
}

func TestValidator_NoRecord(t *testing.T) {
	v := NewValidator(&mockLoader{MockLoadMapping: func(ctx context.Context, id int64) (models.Mapping, error) {
		return models.Mapping{}, db.ErrNotFound
	}})

	err := v.Validate(context.Background(), 42, "a@x.com", "", false)
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestValidator_StoreError(t *testing.T) {
	v := NewValidator(&mockLoader{MockLoadMapping: func(ctx context.Context, id int64) (models.Mapping, error) {
		return models.Mapping{}, errors.New("connection reset")
	}})

	err := v.Validate(context.Background(), 42, "a@x.com", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestValidator_SkippedWhenAlreadyValidated(t *testing.T) {
	loader := staticMapping("b@x.com", "")
	v := NewValidator(loader)

	assert.NoError(t, v.Validate(context.Background(), 1, "a@x.com", "", true))
	assert.Zero(t, loader.calls)
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed("anyone@x.com", nil))
	assert.True(t, Allowed("a@x.com", []string{"A@X.com"}))
	assert.True(t, Allowed("a@x.com", []string{"x.com"}))
	assert.True(t, Allowed("a@x.com", []string{"@x.com"}))
	assert.False(t, Allowed("a@y.com", []string{"x.com", "b@y.com"}))
	assert.False(t, Allowed("not-an-address", []string{"x.com"}))
}
