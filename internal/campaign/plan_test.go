package campaign

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.io/infrasutra/bulkmail/internal/templates"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPlanAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "body.html", "<p>Hello {{ name }}</p>")
	path := writeFile(t, dir, "plan.yaml", `
subject: "Launch for ${PLAN_TEST_PRODUCT}"
body_file: body.html
template: HTML
sender_name: Ops
batch_delay: 2s
continue_on_error: false
mapping:
  name: first_name
`)
	t.Setenv("PLAN_TEST_PRODUCT", "Widgets")

	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Subject != "Launch for Widgets" {
		t.Errorf("env not expanded: %q", plan.Subject)
	}
	if plan.Body != "<p>Hello {{ name }}</p>" || plan.Template != templates.HTML {
		t.Errorf("unexpected body/template %q %q", plan.Body, plan.Template)
	}
	if plan.RatePerMinute != 60 || plan.BatchSize != 50 || plan.MaxRetries != 3 {
		t.Errorf("defaults not merged: %+v", plan)
	}
	if plan.BatchDelay != 2*time.Second {
		t.Errorf("expected 2s batch delay, got %v", plan.BatchDelay)
	}
	if plan.continueOnError() {
		t.Error("explicit continue_on_error=false must survive the merge")
	}
	if plan.Mapping["name"] != "first_name" {
		t.Errorf("unexpected mapping %v", plan.Mapping)
	}
	if err := plan.Validate(); err != nil {
		t.Errorf("expected valid plan, got %v", err)
	}
}

func TestWithDefaultsUsesBuiltInBody(t *testing.T) {
	plan, err := Plan{Subject: "x"}.WithDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if plan.Body != templates.DefaultPlain || !plan.continueOnError() {
		t.Errorf("unexpected defaults %+v", plan)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	plan, err := Plan{Template: "markdown", Body: "{% if name %}open"}.WithDefaults()
	if err != nil {
		t.Fatal(err)
	}
	err = plan.Validate()
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
	for _, want := range []string{"subject is required", "invalid syntax", `unknown template type "markdown"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestPlanJSONBatchDelay(t *testing.T) {
	cases := map[string]time.Duration{
		`{"subject":"s","batch_delay":"1500ms"}`: 1500 * time.Millisecond,
		`{"subject":"s","batch_delay":5}`:        5 * time.Second,
		`{"subject":"s","batch_delay":0.5}`:      500 * time.Millisecond,
		`{"subject":"s"}`:                        0,
	}
	for raw, want := range cases {
		var plan Plan
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if plan.BatchDelay != want || plan.Subject != "s" {
			t.Errorf("%s: got delay %v subject %q", raw, plan.BatchDelay, plan.Subject)
		}
	}

	var plan Plan
	if err := json.Unmarshal([]byte(`{"batch_delay":"soon"}`), &plan); err == nil {
		t.Error("expected an error for an unparseable delay")
	}
}

func TestLoadPlanMissingFile(t *testing.T) {
	if _, err := LoadPlan(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error")
	}
}
