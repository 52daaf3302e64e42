package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.io/infrasutra/bulkmail/internal/mailer"
	"github.io/infrasutra/bulkmail/internal/personalize"
	"github.io/infrasutra/bulkmail/internal/templates"
)

var ErrInvalidPlan = errors.New("invalid campaign plan")

// Plan describes one send: the content, the pacing and how recipient columns
// map onto placeholders.
type Plan struct {
	Subject         string              `yaml:"subject" json:"subject"`
	Body            string              `yaml:"body" json:"body"`
	BodyFile        string              `yaml:"body_file,omitempty" json:"body_file,omitempty"`
	Template        templates.Kind      `yaml:"template" json:"template"`
	Message         string              `yaml:"message" json:"message"`
	SenderName      string              `yaml:"sender_name" json:"sender_name"`
	ReplyTo         string              `yaml:"reply_to,omitempty" json:"reply_to,omitempty"`
	Attachments     []string            `yaml:"attachments,omitempty" json:"attachments,omitempty"`
	RatePerMinute   int                 `yaml:"rate_per_minute" json:"rate_per_minute"`
	BatchSize       int                 `yaml:"batch_size" json:"batch_size"`
	BatchDelay      time.Duration       `yaml:"batch_delay" json:"batch_delay"`
	ContinueOnError *bool               `yaml:"continue_on_error" json:"continue_on_error"`
	MaxRetries      int                 `yaml:"max_retries" json:"max_retries"`
	Mapping         personalize.Mapping `yaml:"mapping,omitempty" json:"mapping,omitempty"`
	EmailColumn     string              `yaml:"email_column,omitempty" json:"email_column,omitempty"`
}

// UnmarshalJSON accepts batch_delay as a duration string ("5s") or a
// number of seconds.
func (p *Plan) UnmarshalJSON(data []byte) error {
	type plain Plan
	aux := struct {
		*plain
		BatchDelay json.RawMessage `json:"batch_delay"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.BatchDelay) == 0 || string(aux.BatchDelay) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(aux.BatchDelay, &text); err == nil {
		d, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("batch_delay: %w", err)
		}
		p.BatchDelay = d
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(aux.BatchDelay, &seconds); err != nil {
		return fmt.Errorf("batch_delay: want a duration string or seconds")
	}
	p.BatchDelay = time.Duration(seconds * float64(time.Second))
	return nil
}

func DefaultPlan() Plan {
	continueOnError := true
	return Plan{
		Template:        templates.Plain,
		RatePerMinute:   60,
		BatchSize:       50,
		BatchDelay:      5 * time.Second,
		ContinueOnError: &continueOnError,
		MaxRetries:      3,
	}
}

// LoadPlan reads a YAML plan, expanding environment variables, and fills
// unset fields from DefaultPlan. A relative body_file is resolved against
// the plan's directory.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if plan.BodyFile != "" {
		bodyPath := plan.BodyFile
		if !filepath.IsAbs(bodyPath) {
			bodyPath = filepath.Join(filepath.Dir(path), bodyPath)
		}
		body, err := os.ReadFile(bodyPath)
		if err != nil {
			return Plan{}, fmt.Errorf("read body file: %w", err)
		}
		plan.Body = string(body)
	}
	return plan.WithDefaults()
}

// WithDefaults returns p with every unset field taken from DefaultPlan.
// An empty body falls back to the built-in template for the plan's kind.
func (p Plan) WithDefaults() (Plan, error) {
	if err := mergo.Merge(&p, DefaultPlan()); err != nil {
		return Plan{}, fmt.Errorf("merge plan defaults: %w", err)
	}
	p.Template = templates.Kind(strings.ToLower(strings.TrimSpace(string(p.Template))))
	if strings.TrimSpace(p.Body) == "" {
		p.Body = templates.Default(p.Template)
	}
	return p, nil
}

func (p Plan) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		problems = append(problems, "body is required")
	} else if !templates.Validate(p.Body) {
		problems = append(problems, "body template has invalid syntax")
	}
	switch p.Template {
	case templates.Plain, templates.HTML:
	default:
		problems = append(problems, fmt.Sprintf("unknown template type %q", p.Template))
	}
	if p.RatePerMinute <= 0 {
		problems = append(problems, "rate_per_minute must be positive")
	}
	if p.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if p.MaxRetries <= 0 {
		problems = append(problems, "max_retries must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(problems, "; "))
	}
	return nil
}

func (p Plan) continueOnError() bool {
	return p.ContinueOnError == nil || *p.ContinueOnError
}

func (p Plan) compose() personalize.Compose {
	return personalize.Compose{SenderName: p.SenderName, Subject: p.Subject, Message: p.Message}
}

func (p Plan) message(body string) mailer.Message {
	return mailer.Message{
		Subject:     p.Subject,
		Body:        body,
		Kind:        p.Template,
		FromName:    p.SenderName,
		ReplyTo:     p.ReplyTo,
		Attachments: p.Attachments,
	}
}
