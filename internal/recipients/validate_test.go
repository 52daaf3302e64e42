package recipients

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSyntax(t *testing.T) {
	valid := map[string]string{
		"user@example.com":          "user@example.com",
		"  User.Name@Example.COM  ": "user.name@example.com",
		"first+tag@sub.example.org": "first+tag@sub.example.org",
		"o'brien@example.ie":        "o'brien@example.ie",
	}
	for in, want := range valid {
		got, err := ValidateSyntax(in)
		if err != nil {
			t.Errorf("ValidateSyntax(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ValidateSyntax(%q) = %q, want %q", in, got, want)
		}
	}

	invalid := []string{
		"not-an-email",
		"",
		"@example.com",
		"user@",
		"user@@example.com",
		"user@example",
		"user@example.c",
		".user@example.com",
		"user.@example.com",
		"us..er@example.com",
		"spaces @example.com",
		"user@-example.com",
		"user@exa_mple.com",
		"user@example.c0m",
	}
	for _, in := range invalid {
		got, err := ValidateSyntax(in)
		if err == nil {
			t.Errorf("ValidateSyntax(%q) = %q, expected error", in, got)
			continue
		}
		var syntaxErr *SyntaxError
		if !errors.As(err, &syntaxErr) {
			t.Errorf("ValidateSyntax(%q) error type %T", in, err)
		}
		if strings.TrimSpace(err.Error()) == "" {
			t.Errorf("ValidateSyntax(%q) returned an empty reason", in)
		}
	}
}

func TestIsDisposable(t *testing.T) {
	if !IsDisposable("someone@Mailinator.com") {
		t.Error("expected mailinator.com to be disposable")
	}
	if IsDisposable("someone@example.com") {
		t.Error("expected example.com not to be disposable")
	}
	if IsDisposable("someone@sub.mailinator.com") {
		t.Error("subdomains are not exact matches")
	}
}

func TestCleanMissingColumn(t *testing.T) {
	table := NewTable([]string{"address"}, [][]string{{"a@x.com"}})
	if _, err := Clean(table, "email"); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
}

func TestCleanPopulatesRowFields(t *testing.T) {
	table := NewTable([]string{"email", "name"}, [][]string{
		{" Alice@Example.com ", "Alice"},
		{"nan", "Ghost"},
		{"", "Blank"},
		{"temp@yopmail.com", "Temp"},
		{"broken", "Broken"},
	})
	cleaned, err := Clean(table, "email")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if !cleaned.Validated() {
		t.Fatal("expected table to be marked validated")
	}
	if table.Validated() {
		t.Fatal("input table must not be modified")
	}

	first := cleaned.Rows[0]
	if !first.Valid || first.EmailClean != "alice@example.com" || first.EmailOriginal != " Alice@Example.com " {
		t.Errorf("unexpected first row: %+v", first)
	}
	for _, i := range []int{1, 2} {
		row := cleaned.Rows[i]
		if row.Valid || row.ValidationError != "Empty email" || row.EmailClean != "" {
			t.Errorf("row %d: expected empty email failure, got %+v", i, row)
		}
	}
	if !cleaned.Rows[3].Disposable {
		t.Error("expected yopmail address to be flagged disposable")
	}
	broken := cleaned.Rows[4]
	if broken.Valid || broken.ValidationError == "" || broken.Disposable {
		t.Errorf("unexpected broken row: %+v", broken)
	}
}

func TestPipelineScenario(t *testing.T) {
	table := FromEmails([]string{"a@x.com", "bad-email", "a@x.com"})
	cleaned, err := Clean(table, "email")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	summary := Summarize(cleaned)
	if summary.Total != 3 {
		t.Errorf("expected total 3, got %d", summary.Total)
	}
	if summary.Invalid < 1 {
		t.Errorf("expected at least one invalid, got %d", summary.Invalid)
	}

	deduped := RemoveDuplicates(cleaned)
	if deduped.Len() != 2 {
		t.Errorf("expected 2 rows after dedup, got %d", deduped.Len())
	}
	valid, err := FilterValid(deduped)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if valid.Len() != 1 {
		t.Fatalf("expected exactly one valid row, got %d", valid.Len())
	}
	if got := valid.Rows[0].EmailClean; got != "a@x.com" {
		t.Errorf("expected a@x.com, got %q", got)
	}
}

func TestRemoveDuplicatesKeepsFirstOccurrence(t *testing.T) {
	table := NewTable([]string{"email", "name"}, [][]string{
		{"b@x.com", "first-b"},
		{"A@x.com", "first-a"},
		{"b@x.com", "second-b"},
		{"a@x.com", "second-a"},
		{"c@x.com", "only-c"},
	})
	cleaned, err := Clean(table, "email")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	deduped := RemoveDuplicates(cleaned)

	want := []string{"first-b", "first-a", "only-c"}
	if deduped.Len() != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), deduped.Len())
	}
	seen := map[string]bool{}
	for i, row := range deduped.Rows {
		if seen[row.EmailClean] {
			t.Errorf("duplicate %q survived", row.EmailClean)
		}
		seen[row.EmailClean] = true
		if row.Name() != want[i] {
			t.Errorf("row %d: expected %q, got %q", i, want[i], row.Name())
		}
	}
}

func TestFilterValidRequiresValidation(t *testing.T) {
	if _, err := FilterValid(FromEmails([]string{"a@x.com"})); !errors.Is(err, ErrNotValidated) {
		t.Fatalf("expected ErrNotValidated, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	allValid, _ := Clean(FromEmails([]string{"a@x.com", "b@x.com"}), "email")
	if got := Summarize(allValid).ValidPercentage; got != 100.0 {
		t.Errorf("expected 100, got %v", got)
	}
	allInvalid, _ := Clean(FromEmails([]string{"nope", "also-nope"}), "email")
	if got := Summarize(allInvalid).ValidPercentage; got != 0.0 {
		t.Errorf("expected 0, got %v", got)
	}
	empty, _ := Clean(FromEmails(nil), "email")
	if got := Summarize(empty); got.Total != 0 || got.ValidPercentage != 0 {
		t.Errorf("expected zero summary, got %+v", got)
	}
	third, _ := Clean(FromEmails([]string{"a@x.com", "bad", "worse"}), "email")
	if got := Summarize(third).ValidPercentage; got != 33.33 {
		t.Errorf("expected 33.33, got %v", got)
	}
}
