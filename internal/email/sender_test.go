package email

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

func newTestSender(retries int) *Sender {
	s := NewSender(Credentials{Host: "smtp.test", Port: 25, From: "noreply@test.local"}, retries, zap.NewNop())
	s.retryWait = time.Millisecond
	return s
}

func TestCredentials_Complete(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  bool
	}{
		{name: "anonymous relay", creds: Credentials{Host: "h", Port: 25, From: "f@x"}, want: true},
		{name: "authenticated", creds: Credentials{Host: "h", Port: 587, From: "f@x", User: "u", Password: "p"}, want: true},
		{name: "missing host", creds: Credentials{Port: 25, From: "f@x"}, want: false},
		{name: "missing port", creds: Credentials{Host: "h", From: "f@x"}, want: false},
		{name: "missing from", creds: Credentials{Host: "h", Port: 25}, want: false},
		{name: "user without password", creds: Credentials{Host: "h", Port: 25, From: "f@x", User: "u"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.creds.Complete())
		})
	}
}

func TestSender_Send_RetriesThenSucceeds(t *testing.T) {
	s := newTestSender(3)
	calls := 0
	s.send = func(m *gomail.Message) error {
		calls++
		if calls < 3 {
			return errors.New("421 try again later")
		}
		return nil
	}

	err := s.Send(context.Background(), &Message{To: "a@x.com", Subject: "hi", Body: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestSender_Send_GivesUp(t *testing.T) {
	s := newTestSender(1)
	calls := 0
	s.send = func(m *gomail.Message) error {
		calls++
		return errors.New("550 mailbox unavailable")
	}

	err := s.Send(context.Background(), &Message{To: "a@x.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSend)
	assert.Contains(t, err.Error(), "550 mailbox unavailable")
	assert.Equal(t, 2, calls)
}

func TestSender_Send_BuildsAttachments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	s := newTestSender(0)
	var raw bytes.Buffer
	s.send = func(m *gomail.Message) error {
		_, err := m.WriteTo(&raw)
		return err
	}

	err := s.Send(context.Background(), &Message{
		To:      "a@x.com",
		Subject: "Monthly report",
		Body:    "<p>attached</p>",
		Attachments: []Attachment{
			{Path: path, Name: "acme-report.pdf", ContentType: "application/pdf"},
		},
	})
	require.NoError(t, err)

	out := raw.String()
	assert.Contains(t, out, "Subject: Monthly report")
	assert.Contains(t, out, "acme-report.pdf")
	assert.Contains(t, out, "application/pdf")
}

func TestNewSender_WiresDialer(t *testing.T) {
	s := NewSender(Credentials{Host: "127.0.0.1", Port: 1, From: "noreply@test.local"}, 0, zap.NewNop())
	require.NotNil(t, s.send)
	assert.Equal(t, "127.0.0.1", s.dialer.Host)
	assert.Equal(t, 1, s.dialer.Port)

	m := gomail.NewMessage()
	m.SetHeader("From", "noreply@test.local")
	m.SetHeader("To", "a@x.com")
	m.SetBody("text/plain", "hi")
	assert.Error(t, s.send(m), "nothing listens on port 1")
}
