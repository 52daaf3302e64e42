package personalize

import (
	"strings"
	"testing"

	"github.io/infrasutra/bulkmail/internal/recipients"
	"github.io/infrasutra/bulkmail/internal/templates"
)

func TestDefaultMapping(t *testing.T) {
	mapping := DefaultMapping([]string{"Email", "Full_Name", "Name", "Organization"})
	if mapping["name"] != "Full_Name" {
		t.Errorf("expected first matching name column, got %q", mapping["name"])
	}
	if mapping["company"] != "Organization" {
		t.Errorf("expected Organization, got %q", mapping["company"])
	}
	if mapping["email"] != "Email" {
		t.Errorf("expected Email, got %q", mapping["email"])
	}

	if got := DefaultMapping([]string{"address"}); len(got) != 0 {
		t.Errorf("expected empty mapping, got %v", got)
	}
}

func TestRenderResolvesMappedColumns(t *testing.T) {
	table := recipients.NewTable([]string{"email", "First_Name", "Org"}, [][]string{
		{"dana@example.com", "Dana", "nan"},
	})
	mapping := Mapping{"name": "First_Name", "company": "Org", "{{subject}}": "Missing"}
	compose := Compose{SenderName: "Sam", Subject: "News", Message: "Big news."}

	out := Render(table.Rows[0], "{{name}}|{{company|default('none')}}|{{email}}|{{subject}}|{{message}}|{{sender_name}}", mapping, compose)
	if out != "Dana|none|dana@example.com||Big news.|Sam" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRenderFallsBackOnBrokenTemplate(t *testing.T) {
	table := recipients.NewTable([]string{"email", "name"}, [][]string{{"a@x.com", ""}})
	compose := Compose{SenderName: "Sam", Message: "Body"}

	out := Render(table.Rows[0], "Hello {{name", Mapping{"name": "name"}, compose)
	want := "Hello there,\n\nBody\n\nBest regards,\nSam"
	if out != want {
		t.Errorf("expected fallback %q, got %q", want, out)
	}
}

func TestPreviews(t *testing.T) {
	table := recipients.NewTable([]string{"email", "name"}, [][]string{
		{"a@x.com", "A"}, {"b@x.com", "B"}, {"c@x.com", "C"}, {"d@x.com", "D"},
	})
	long := strings.Repeat("x", 600)
	previews := Previews(table, "{{name}} {{message}}", DefaultMapping(table.Columns), Compose{Message: long}, 3)
	if len(previews) != 3 {
		t.Fatalf("expected 3 previews, got %d", len(previews))
	}
	if previews[1].Email != "b@x.com" || previews[1].Name != "B" {
		t.Errorf("unexpected preview %+v", previews[1])
	}
	if got := len([]rune(previews[0].Content)); got != 503 || !strings.HasSuffix(previews[0].Content, "...") {
		t.Errorf("expected truncated content of 503 runes, got %d", got)
	}

	bare := recipients.NewTable([]string{"contact"}, [][]string{{"z@x.com"}})
	p := Previews(bare, templates.DefaultPlain, Mapping{}, Compose{}, 5)
	if len(p) != 1 || p[0].Email != "N/A" || p[0].Name != "N/A" {
		t.Errorf("unexpected bare preview %+v", p)
	}
}

func TestValidateMapping(t *testing.T) {
	table := recipients.NewTable([]string{"email", "name", "company"}, [][]string{
		{"a@x.com", "A", ""},
		{"b@x.com", "B", "null"},
	})
	report := ValidateMapping(table, Mapping{"name": "name", "company": "company", "email": "mail"})
	if len(report.Valid) != 2 || len(report.Missing) != 1 || len(report.Empty) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Missing[0] != "email -> mail" {
		t.Errorf("unexpected missing entry %q", report.Missing[0])
	}
	if report.Empty[0] != "company -> company (no data)" {
		t.Errorf("unexpected empty entry %q", report.Empty[0])
	}
	if report.OK() {
		t.Error("report with missing columns should not be OK")
	}
}
