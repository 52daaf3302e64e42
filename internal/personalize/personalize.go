// Package personalize turns a recipient row and a campaign body into the
// text that recipient will receive.
package personalize

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.io/infrasutra/bulkmail/internal/recipients"
	"github.io/infrasutra/bulkmail/internal/templates"
)

const previewLimit = 500

// Mapping maps a placeholder name to the table column that feeds it.
type Mapping map[string]string

// Compose carries the campaign-wide values every rendering shares.
type Compose struct {
	SenderName string
	Subject    string
	Message    string
}

var aliases = []struct {
	placeholder string
	columns     []string
}{
	{placeholder: "name", columns: []string{"name", "first_name", "full_name"}},
	{placeholder: "company", columns: []string{"company", "organization"}},
	{placeholder: "email", columns: []string{"email"}},
}

// DefaultMapping guesses a mapping from column names. The first column that
// matches one of a placeholder's aliases wins.
func DefaultMapping(columns []string) Mapping {
	mapping := Mapping{}
	for _, alias := range aliases {
		for _, col := range columns {
			if containsFold(alias.columns, col) {
				mapping[alias.placeholder] = col
				break
			}
		}
	}
	return mapping
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Variables builds the template variables for row.
func Variables(row recipients.Row, mapping Mapping, compose Compose) templates.Variables {
	vars := templates.Variables{
		"sender_name": compose.SenderName,
		"subject":     compose.Subject,
		"message":     compose.Message,
	}
	for placeholder, column := range mapping {
		vars[strings.Trim(placeholder, "{} ")] = row.Get(column)
	}
	if row.Has("email") {
		vars["email"] = row.Get("email")
	}
	if vars["email"] == "" && row.EmailClean != "" {
		vars["email"] = row.EmailClean
	}
	return vars
}

// Render personalizes text for row. A template that fails to render is
// replaced by a minimal greeting so a single bad body never blocks a send.
func Render(row recipients.Row, text string, mapping Mapping, compose Compose) string {
	vars := Variables(row, mapping, compose)
	out, err := templates.Render(text, vars)
	if err == nil {
		return out
	}
	return Fallback(vars["name"], compose)
}

// Fallback is the body used when a template cannot be rendered.
func Fallback(name string, compose Compose) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hello %s,\n\n%s\n\nBest regards,\n%s", name, compose.Message, compose.SenderName)
}

type Preview struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Content string `json:"personalized_content"`
}

// Previews renders the first n rows, truncating long content for display.
func Previews(t recipients.Table, text string, mapping Mapping, compose Compose, n int) []Preview {
	head := t.Head(n)
	previews := make([]Preview, 0, head.Len())
	for _, row := range head.Rows {
		content := Render(row, text, mapping, compose)
		if utf8.RuneCountInString(content) > previewLimit {
			content = string([]rune(content)[:previewLimit]) + "..."
		}
		p := Preview{Email: "N/A", Name: "N/A", Content: content}
		if email := row.Email(); email != "" {
			p.Email = email
		}
		if row.Has("name") {
			p.Name = row.Get("name")
		}
		previews = append(previews, p)
	}
	return previews
}

// MappingReport classifies mapping entries against a table.
type MappingReport struct {
	Valid   []string `json:"valid_columns"`
	Missing []string `json:"missing_columns"`
	Empty   []string `json:"empty_columns"`
}

func (r MappingReport) OK() bool {
	return len(r.Missing) == 0
}

func ValidateMapping(t recipients.Table, mapping Mapping) MappingReport {
	report := MappingReport{Valid: []string{}, Missing: []string{}, Empty: []string{}}
	placeholders := make([]string, 0, len(mapping))
	for p := range mapping {
		placeholders = append(placeholders, p)
	}
	sort.Strings(placeholders)

	for _, placeholder := range placeholders {
		column := mapping[placeholder]
		entry := fmt.Sprintf("%s -> %s", placeholder, column)
		if !t.HasColumn(column) {
			report.Missing = append(report.Missing, entry)
			continue
		}
		report.Valid = append(report.Valid, entry)
		if t.ColumnEmpty(column) {
			report.Empty = append(report.Empty, entry+" (no data)")
		}
	}
	return report
}
