// Package mailer composes and delivers campaign mail through an SMTP relay,
// one fresh connection per message, paced by a rate limiter.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.io/infrasutra/bulkmail/internal/config"
	"github.io/infrasutra/bulkmail/internal/ratelimit"
	"github.io/infrasutra/bulkmail/internal/templates"
)

var ErrMissingCredentials = errors.New("smtp credentials not configured")

// Message is the content shared by every recipient of a send.
type Message struct {
	Subject     string
	Body        string
	Kind        templates.Kind
	FromName    string
	ReplyTo     string
	Attachments []string
}

// Email is a Message addressed to a single recipient.
type Email struct {
	To string
	Message
}

type Option func(*Mailer)

func WithTransport(t Transport) Option {
	return func(m *Mailer) { m.transport = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSleeper replaces the backoff sleep between retries.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Mailer) { m.sleep = sleep }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(m *Mailer) { m.limiter = l }
}

type Mailer struct {
	username          string
	senderName        string
	replyTo           string
	maxAttachmentSize int64

	transport Transport
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

func New(cfg config.Config, opts ...Option) (*Mailer, error) {
	if strings.TrimSpace(cfg.SMTPUsername) == "" || cfg.SMTPPassword == "" {
		return nil, ErrMissingCredentials
	}
	m := &Mailer{
		username:          cfg.SMTPUsername,
		senderName:        cfg.SenderName,
		replyTo:           cfg.ReplyTo,
		maxAttachmentSize: cfg.MaxAttachmentSize,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:             ratelimit.Sleep,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport == nil {
		m.transport = &SMTPTransport{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Security: SecurityForPort(cfg.SMTPPort),
			Timeout:  cfg.SMTPTimeout,
		}
	}
	if m.limiter == nil {
		m.limiter = ratelimit.New(cfg.RatePerMinute)
	}
	return m, nil
}

// TestConnection connects and authenticates without sending anything.
func (m *Mailer) TestConnection(ctx context.Context) error {
	if err := m.transport.Probe(ctx); err != nil {
		m.logger.Warn("smtp connection test failed", "error", err)
		return err
	}
	m.logger.Info("smtp connection successful")
	return nil
}

// Send waits for the rate limiter, then composes and delivers one message.
func (m *Mailer) Send(ctx context.Context, e Email) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	raw, err := m.compose(e)
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	return m.transport.Deliver(ctx, m.username, []string{e.To}, raw)
}

// Outcome is the result of SendWithRetry. Err is nil on success and holds the
// last failure otherwise.
type Outcome struct {
	Attempts int
	Err      error
}

func (o Outcome) Sent() bool { return o.Err == nil }

// SendWithRetry makes up to maxRetries attempts, sleeping 2^n seconds after
// failed attempt n (counting from zero). There is no sleep after the last
// attempt. A cancelled context ends the loop early.
func (m *Mailer) SendWithRetry(ctx context.Context, e Email, maxRetries int) Outcome {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var out Outcome
	for attempt := 0; attempt < maxRetries; attempt++ {
		out.Attempts++
		out.Err = m.Send(ctx, e)
		if out.Err == nil {
			return out
		}
		m.logger.Debug("send attempt failed", "to", e.To, "attempt", out.Attempts, "error", out.Err)
		if ctx.Err() != nil {
			return out
		}
		if attempt < maxRetries-1 {
			if err := m.sleep(ctx, backoff(attempt)); err != nil {
				return out
			}
		}
	}
	return out
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

type BulkRecipient struct {
	Email   string
	Name    string
	Company string
}

type BulkOptions struct {
	ContinueOnError bool
	MaxRetries      int
}

func DefaultBulkOptions() BulkOptions {
	return BulkOptions{ContinueOnError: true, MaxRetries: 3}
}

// Result is the outcome for one recipient of a bulk send. Index is 1-based.
type Result struct {
	Index    int    `json:"index"`
	Email    string `json:"email"`
	Sent     bool   `json:"sent"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type BulkSummary struct {
	Total       int      `json:"total"`
	Successful  int      `json:"successful"`
	Failed      int      `json:"failed"`
	SuccessRate float64  `json:"success_rate"`
	Errors      []string `json:"errors"`
	Results     []Result `json:"results"`
}

// SendBulk sends msg to every recipient in order. Recipients without an
// address fail immediately without an attempt and never stop the loop. With
// ContinueOnError unset the loop stops at the first delivery failure and the
// remaining recipients get no Result.
func (m *Mailer) SendBulk(ctx context.Context, recipients []BulkRecipient, msg Message, opts BulkOptions) BulkSummary {
	summary := BulkSummary{Total: len(recipients), Errors: []string{}}
	m.logger.Info("bulk send started", "recipients", summary.Total)

	for i, r := range recipients {
		index := i + 1
		email := strings.TrimSpace(r.Email)
		if email == "" {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("Recipient %d: No email address", index))
			summary.Results = append(summary.Results, Result{Index: index, Error: "No email address"})
			continue
		}
		if ctx.Err() != nil {
			break
		}

		out := m.SendWithRetry(ctx, Email{To: email, Message: msg}, opts.MaxRetries)
		result := Result{Index: index, Email: email, Sent: out.Sent(), Attempts: out.Attempts}
		if out.Sent() {
			summary.Successful++
			m.logger.Info("email sent", "to", email, "position", index, "total", summary.Total)
		} else {
			summary.Failed++
			result.Error = out.Err.Error()
			summary.Errors = append(summary.Errors, fmt.Sprintf("Recipient %d (%s): %s", index, email, result.Error))
			m.logger.Warn("email failed", "to", email, "attempts", out.Attempts, "error", out.Err)
		}
		summary.Results = append(summary.Results, result)

		if !out.Sent() && !opts.ContinueOnError {
			m.logger.Warn("stopping bulk send after failure", "position", index)
			break
		}
	}

	if summary.Total > 0 {
		summary.SuccessRate = math.Round(float64(summary.Successful)/float64(summary.Total)*1000) / 10
	}
	m.logger.Info("bulk send finished", "successful", summary.Successful, "total", summary.Total)
	return summary
}

func (m *Mailer) SetRateLimit(perMinute int) {
	m.limiter.SetRate(perMinute)
	m.logger.Info("rate limit updated", "per_minute", perMinute)
}

type RateLimitInfo struct {
	EmailsPerMinute int     `json:"emails_per_minute"`
	MinutesPer100   float64 `json:"estimated_completion_time"`
}

func (m *Mailer) RateLimitInfo() RateLimitInfo {
	return RateLimitInfo{
		EmailsPerMinute: m.limiter.Rate(),
		MinutesPer100:   m.limiter.EstimateCompletion(100),
	}
}
