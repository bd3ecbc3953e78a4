package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var (
	ErrConnect = errors.New("smtp connection failed")
	ErrSend    = errors.New("smtp send failed")
)

// Credentials are the mail transport settings a run needs before it starts.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Complete reports whether the credentials are usable: host, port and sender
// must be set, and user/password must be given together.
func (c Credentials) Complete() bool {
	if c.Host == "" || c.Port <= 0 || c.From == "" {
		return false
	}
	return (c.User == "") == (c.Password == "")
}

type Attachment struct {
	Path        string
	Name        string
	ContentType string
}

type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Sender struct {
	creds     Credentials
	retries   int
	retryWait time.Duration
	log       *zap.Logger

	dialer *gomail.Dialer
	send   func(m *gomail.Message) error
}

func NewSender(creds Credentials, retries int, logger *zap.Logger) *Sender {
	d := gomail.NewDialer(creds.Host, creds.Port, creds.User, creds.Password)
	if retries < 0 {
		retries = 0
	}
	return &Sender{
		creds:     creds,
		retries:   retries,
		retryWait: 500 * time.Millisecond,
		log:       logger.Named("smtp"),
		dialer:    d,
		send:      func(m *gomail.Message) error { return d.DialAndSend(m) },
	}
}

func (s *Sender) Credentials() Credentials {
	return s.creds
}

// CheckConnection dials and authenticates against the SMTP server without
// sending anything.
func (s *Sender) CheckConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	closer, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return closer.Close()
}

// Send builds the message and delivers it, retrying transient failures with
// exponential backoff.
func (s *Sender) Send(ctx context.Context, msg *Message) error {
	m := s.build(msg)

	attempt := 0
	operation := func() error {
		attempt++
		err := s.send(m)
		if err != nil {
			s.log.Warn("smtp attempt failed",
				zap.String("to", msg.To),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryWait
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	return nil
}

func (s *Sender) build(msg *Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.creds.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	for _, a := range msg.Attachments {
		settings := []gomail.FileSetting{}
		if a.Name != "" {
			settings = append(settings, gomail.Rename(a.Name))
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Path, settings...)
	}

	return m
}
