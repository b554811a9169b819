package mailer

import (
	"context"
	"encoding/json"
	"time"

	auth "github.com/goliatone/go-session-auth"
)

// Template names the email a Job renders
type Template string

const (
	TemplateConfirmEmail    Template = "auth.confirm_email"
	TemplateConfirmNewEmail Template = "auth.confirm_new_email"
	TemplateForgotPassword  Template = "auth.forgot_password"
)

// Job is the message handed to the delivery worker
type Job struct {
	Template  Template          `json:"template"`
	To        string            `json:"to"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
}

// Encode returns the JSON body of the job.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a job body.
func DecodeJob(body []byte) (Job, error) {
	var job Job
	err := json.Unmarshal(body, &job)
	return job, err
}

// Sender delivers a rendered job
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// Mailer implements auth.Mailer by turning every notice into a Job
type Mailer struct {
	sender Sender
	now    func() time.Time
}

var _ auth.Mailer = (*Mailer)(nil)

// New creates a Mailer delivering through sender
func New(sender Sender) *Mailer {
	return &Mailer{
		sender: sender,
		now:    time.Now,
	}
}

func (m *Mailer) SendConfirmEmail(ctx context.Context, to, hash string) error {
	return m.send(ctx, TemplateConfirmEmail, to, map[string]string{"hash": hash})
}

func (m *Mailer) SendConfirmNewEmail(ctx context.Context, to, hash string) error {
	return m.send(ctx, TemplateConfirmNewEmail, to, map[string]string{"hash": hash})
}

func (m *Mailer) SendForgotPassword(ctx context.Context, to, hash string, expiresAt time.Time) error {
	return m.send(ctx, TemplateForgotPassword, to, map[string]string{
		"hash":       hash,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (m *Mailer) send(ctx context.Context, template Template, to string, data map[string]string) error {
	return m.sender.Send(ctx, Job{
		Template:  template,
		To:        to,
		Data:      data,
		CreatedAt: m.now(),
	})
}

// LogSender writes jobs to the log instead of delivering them, it is meant
// for local development.
type LogSender struct {
	logger auth.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger auth.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, job Job) error {
	s.logger.Info("mail job",
		"template", job.Template,
		"to", job.To,
		"data", job.Data,
	)
	return nil
}
