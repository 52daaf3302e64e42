// Package campaign drives a send end to end: it promotes validated
// recipients into a stored campaign, sends to them in batches and records
// each outcome as it happens.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.io/infrasutra/bulkmail/internal/mailer"
	"github.io/infrasutra/bulkmail/internal/personalize"
	"github.io/infrasutra/bulkmail/internal/ratelimit"
	"github.io/infrasutra/bulkmail/internal/recipients"
	"github.io/infrasutra/bulkmail/internal/store"
)

var (
	ErrBusy         = errors.New("a campaign is already running")
	ErrNoRecipients = errors.New("no valid recipients")
)

type Store interface {
	CreateCampaign(ctx context.Context, c store.NewCampaign) (string, error)
	AddRecipients(ctx context.Context, campaignID string, rows []store.NewRecipient) error
	UpdateRecipientStatus(ctx context.Context, campaignID, email string, u store.StatusUpdate) (int64, error)
	SetCampaignStatus(ctx context.Context, campaignID string, status store.CampaignStatus) error
	CampaignSummary(ctx context.Context, campaignID string) (store.CampaignSummary, bool, error)
	Recipients(ctx context.Context, campaignID string, status store.RecipientStatus) ([]store.Recipient, error)
}

type Sender interface {
	SendWithRetry(ctx context.Context, e mailer.Email, maxRetries int) mailer.Outcome
	SetRateLimit(perMinute int)
}

type Publisher interface {
	Publish(topic, event string, data any) error
}

// Target is one recipient queued for sending.
type Target struct {
	Email        string
	Name         string
	Company      string
	Row          recipients.Row
	PriorRetries int
}

type Prepared struct {
	CampaignID string
	Validation recipients.Summary
	Duplicates int
	Mapping    personalize.Mapping
	Targets    []Target
}

type Progress struct {
	CampaignID string  `json:"campaign_id"`
	Email      string  `json:"email"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	Processed  int     `json:"processed"`
	Sent       int     `json:"sent"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Batch      int     `json:"batch"`
	Batches    int     `json:"batches"`
	ETAMinutes float64 `json:"eta_minutes"`
}

type Report struct {
	CampaignID string        `json:"campaign_id"`
	Total      int           `json:"total"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Stopped    bool          `json:"stopped"`
	Canceled   bool          `json:"canceled"`
	Errors     []string      `json:"errors"`
	Duration   time.Duration `json:"duration"`
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.events = p }
}

// WithSleeper replaces the pause between batches.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// Runner executes one campaign at a time.
type Runner struct {
	store  Store
	sender Sender
	events Publisher
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time

	busy atomic.Bool
}

func NewRunner(s Store, sender Sender, opts ...Option) *Runner {
	r := &Runner{
		store:  s,
		sender: sender,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:  ratelimit.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) claim() error {
	if !r.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (r *Runner) release() {
	r.busy.Store(false)
}

var errJobDone = errors.New("job already finished")

// Job is a run that holds the runner. Until Execute or Release is called
// every other Start, StartRetry or Run gets ErrBusy.
type Job struct {
	CampaignID string
	Targets    []Target

	runner  *Runner
	plan    Plan
	mapping personalize.Mapping
	done    atomic.Bool
}

// Execute sends the job and releases the runner. It can be called once.
func (j *Job) Execute(ctx context.Context) (Report, error) {
	if !j.done.CompareAndSwap(false, true) {
		return Report{}, errJobDone
	}
	defer j.runner.release()
	if len(j.Targets) == 0 {
		return Report{CampaignID: j.CampaignID, Errors: []string{}}, nil
	}
	return j.runner.run(ctx, j.CampaignID, j.plan, j.mapping, j.Targets)
}

// Release gives the runner back without sending.
func (j *Job) Release() {
	if j.done.CompareAndSwap(false, true) {
		j.runner.release()
	}
}

// Start claims the runner, then prepares the campaign. A busy runner stores
// nothing.
func (r *Runner) Start(ctx context.Context, plan Plan, table recipients.Table) (Prepared, *Job, error) {
	if err := plan.Validate(); err != nil {
		return Prepared{}, nil, err
	}
	if err := r.claim(); err != nil {
		return Prepared{}, nil, err
	}
	prepared, err := r.Prepare(ctx, plan, table)
	if err != nil {
		r.release()
		return prepared, nil, err
	}
	return prepared, &Job{
		CampaignID: prepared.CampaignID,
		Targets:    prepared.Targets,
		runner:     r,
		plan:       plan,
		mapping:    prepared.Mapping,
	}, nil
}

// Prepare cleans, deduplicates and filters table, then stores a new campaign
// holding the surviving rows as pending recipients.
func (r *Runner) Prepare(ctx context.Context, plan Plan, table recipients.Table) (Prepared, error) {
	column := plan.EmailColumn
	if column == "" {
		detected, ok := recipients.DetectEmailColumn(table)
		if !ok {
			return Prepared{}, fmt.Errorf("detect email column: %w", recipients.ErrColumnNotFound)
		}
		column = detected
	}

	cleaned, err := recipients.Clean(table, column)
	if err != nil {
		return Prepared{}, err
	}
	deduped := recipients.RemoveDuplicates(cleaned)
	valid, err := recipients.FilterValid(deduped)
	if err != nil {
		return Prepared{}, err
	}

	prepared := Prepared{
		Validation: recipients.Summarize(cleaned),
		Duplicates: cleaned.Len() - deduped.Len(),
		Mapping:    plan.Mapping,
	}
	if len(prepared.Mapping) == 0 {
		prepared.Mapping = personalize.DefaultMapping(table.Columns)
	}
	if valid.Len() == 0 {
		return prepared, ErrNoRecipients
	}

	prepared.Targets = make([]Target, 0, valid.Len())
	rows := make([]store.NewRecipient, 0, valid.Len())
	for _, row := range valid.Rows {
		t := Target{
			Email:   row.Email(),
			Name:    mapped(row, prepared.Mapping, "name"),
			Company: mapped(row, prepared.Mapping, "company"),
			Row:     row,
		}
		prepared.Targets = append(prepared.Targets, t)
		rows = append(rows, store.NewRecipient{Email: t.Email, Name: t.Name, Company: t.Company})
	}

	id, err := r.store.CreateCampaign(ctx, store.NewCampaign{
		Subject:      plan.Subject,
		TemplateType: string(plan.Template),
		SenderName:   plan.SenderName,
	})
	if err != nil {
		return prepared, err
	}
	if err := r.store.AddRecipients(ctx, id, rows); err != nil {
		return prepared, err
	}
	prepared.CampaignID = id

	r.logger.Info("campaign prepared",
		"campaign", id,
		"recipients", len(rows),
		"invalid", prepared.Validation.Invalid,
		"duplicates", prepared.Duplicates,
	)
	return prepared, nil
}

func mapped(row recipients.Row, mapping personalize.Mapping, placeholder string) string {
	if column, ok := mapping[placeholder]; ok && column != "" {
		return row.Get(column)
	}
	return row.Get(placeholder)
}

// Run sends plan to targets in batches, persisting every outcome. The
// campaign is marked sending for the duration and completed afterwards,
// including when the run stops early.
func (r *Runner) Run(ctx context.Context, campaignID string, plan Plan, mapping personalize.Mapping, targets []Target) (Report, error) {
	if err := r.claim(); err != nil {
		return Report{}, err
	}
	defer r.release()
	return r.run(ctx, campaignID, plan, mapping, targets)
}

func (r *Runner) run(ctx context.Context, campaignID string, plan Plan, mapping personalize.Mapping, targets []Target) (Report, error) {
	if err := plan.Validate(); err != nil {
		return Report{}, err
	}

	started := r.now()
	report := Report{CampaignID: campaignID, Total: len(targets), Errors: []string{}}
	if err := r.store.SetCampaignStatus(ctx, campaignID, store.CampaignSending); err != nil {
		return report, err
	}
	r.sender.SetRateLimit(plan.RatePerMinute)
	limiter := ratelimit.New(plan.RatePerMinute)
	compose := plan.compose()

	batches := (len(targets) + plan.BatchSize - 1) / plan.BatchSize
	r.logger.Info("campaign started", "campaign", campaignID, "recipients", len(targets), "batches", batches)

	processed := 0
send:
	for start := 0; start < len(targets); start += plan.BatchSize {
		end := min(start+plan.BatchSize, len(targets))
		batch := start/plan.BatchSize + 1
		r.logger.Debug("sending batch", "campaign", campaignID, "batch", batch, "batches", batches)

		for _, t := range targets[start:end] {
			if ctx.Err() != nil {
				report.Canceled = true
				break send
			}
			body := personalize.Render(t.Row, plan.Body, mapping, compose)
			out := r.sender.SendWithRetry(ctx, mailer.Email{To: t.Email, Message: plan.message(body)}, plan.MaxRetries)
			if ctx.Err() != nil && errors.Is(out.Err, ctx.Err()) {
				// Interrupted before reaching the relay; the recipient stays pending.
				report.Canceled = true
				break send
			}
			processed++

			event := Progress{CampaignID: campaignID, Email: t.Email, Total: len(targets), Batch: batch, Batches: batches}
			if err := r.record(ctx, campaignID, t, out); err != nil {
				r.logger.Error("record recipient outcome", "campaign", campaignID, "email", t.Email, "error", err)
			}
			if out.Sent() {
				report.Sent++
				event.Status = string(store.StatusSent)
			} else {
				report.Failed++
				event.Status = string(store.StatusFailed)
				event.Error = out.Err.Error()
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", t.Email, out.Err))
			}

			p := limiter.Progress(report.Sent+report.Failed, len(targets))
			event.Processed = processed
			event.Sent = report.Sent
			event.Failed = report.Failed
			event.Percentage = p.Percentage
			event.ETAMinutes = p.ETAMinutes
			r.publish(campaignID, "progress", event)

			if !out.Sent() && !plan.continueOnError() {
				report.Stopped = true
				r.logger.Warn("campaign stopped after failure", "campaign", campaignID, "email", t.Email)
				break send
			}
		}

		if end < len(targets) && plan.BatchDelay > 0 {
			if err := r.sleep(ctx, plan.BatchDelay); err != nil {
				report.Canceled = true
				break
			}
		}
	}

	report.Skipped = len(targets) - processed
	report.Duration = r.now().Sub(started)

	final := context.WithoutCancel(ctx)
	if err := r.store.SetCampaignStatus(final, campaignID, store.CampaignCompleted); err != nil {
		return report, err
	}
	r.publish(campaignID, "done", report)
	r.logger.Info("campaign finished",
		"campaign", campaignID,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration,
	)
	return report, nil
}

func (r *Runner) record(ctx context.Context, campaignID string, t Target, out mailer.Outcome) error {
	ctx = context.WithoutCancel(ctx)
	update := store.StatusUpdate{Status: store.StatusSent}
	if !out.Sent() {
		retries := t.PriorRetries + out.Attempts
		update = store.StatusUpdate{
			Status:       store.StatusFailed,
			ErrorMessage: out.Err.Error(),
			RetryCount:   &retries,
		}
	}
	_, err := r.store.UpdateRecipientStatus(ctx, campaignID, t.Email, update)
	return err
}

func (r *Runner) publish(campaignID, event string, data any) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(campaignID, event, data); err != nil {
		r.logger.Warn("publish campaign event", "campaign", campaignID, "event", event, "error", err)
	}
}

// Send prepares and runs a campaign in one call.
func (r *Runner) Send(ctx context.Context, plan Plan, table recipients.Table) (Prepared, Report, error) {
	prepared, job, err := r.Start(ctx, plan, table)
	if err != nil {
		return prepared, Report{}, err
	}
	report, err := job.Execute(ctx)
	return prepared, report, err
}

// StartRetry claims the runner and loads a campaign's failed recipients.
// A job without targets sends nothing when executed.
func (r *Runner) StartRetry(ctx context.Context, campaignID string, plan Plan) (*Job, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := r.claim(); err != nil {
		return nil, err
	}
	targets, err := r.failedTargets(ctx, campaignID)
	if err != nil {
		r.release()
		return nil, err
	}
	if len(targets) > 0 {
		r.logger.Info("retrying failed recipients", "campaign", campaignID, "recipients", len(targets))
	}
	return &Job{
		CampaignID: campaignID,
		Targets:    targets,
		runner:     r,
		plan:       plan,
		mapping:    personalize.DefaultMapping(retryColumns),
	}, nil
}

// RetryFailed re-sends a campaign's failed recipients using plan's content.
// Only the stored email, name and company are available to the template.
func (r *Runner) RetryFailed(ctx context.Context, campaignID string, plan Plan) (Report, error) {
	job, err := r.StartRetry(ctx, campaignID, plan)
	if err != nil {
		return Report{}, err
	}
	return job.Execute(ctx)
}

var retryColumns = []string{"email", "name", "company"}

func (r *Runner) failedTargets(ctx context.Context, campaignID string) ([]Target, error) {
	if _, ok, err := r.store.CampaignSummary(ctx, campaignID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, store.ErrNotFound)
	}

	failed, err := r.store.Recipients(ctx, campaignID, store.StatusFailed)
	if err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(failed))
	for _, rec := range failed {
		table := recipients.NewTable(retryColumns, [][]string{{rec.Email, rec.Name, rec.Company}})
		targets = append(targets, Target{
			Email:        rec.Email,
			Name:         rec.Name,
			Company:      rec.Company,
			Row:          table.Rows[0],
			PriorRetries: rec.RetryCount,
		})
	}
	return targets, nil
}
