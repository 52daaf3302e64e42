package recipients

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseText(t *testing.T) {
	input := "Contact alice@example.com or bob@test.org today\n\nnothing here\ncarol@sub.example.co.uk\n"
	table, err := ParseText(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"alice@example.com", "bob@test.org", "carol@sub.example.co.uk"}
	if table.Len() != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), table.Len())
	}
	for i, row := range table.Rows {
		if row.Get("email") != want[i] {
			t.Errorf("row %d: expected %q, got %q", i, want[i], row.Get("email"))
		}
	}
	if len(table.Columns) != 1 || table.Columns[0] != "email" {
		t.Errorf("unexpected columns %v", table.Columns)
	}
}

func TestParseCSV(t *testing.T) {
	input := "Email,Name,Company\nalice@example.com,Alice,Acme\n,,\nbob@example.com,Bob\n"
	table, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("expected blank line dropped, got %d rows", table.Len())
	}
	if table.Rows[1].Get("Company") != "" {
		t.Errorf("short record should pad with empty values")
	}
	if col, ok := DetectEmailColumn(table); !ok || col != "Email" {
		t.Errorf("expected Email column, got %q %v", col, ok)
	}
}

func TestDetectEmailColumn(t *testing.T) {
	partial := NewTable([]string{"name", "work_email_field"}, [][]string{{"a", "a@x.com"}})
	if col, ok := DetectEmailColumn(partial); !ok || col != "work_email_field" {
		t.Errorf("expected substring match, got %q", col)
	}

	sniffed := NewTable([]string{"name", "contact"}, [][]string{
		{"a", "a@x.com"}, {"b", "b@x.com"}, {"c", "c@x.com"}, {"d", "not known"},
	})
	if col, ok := DetectEmailColumn(sniffed); !ok || col != "contact" {
		t.Errorf("expected sniffed match, got %q", col)
	}

	none := NewTable([]string{"name"}, [][]string{{"a"}})
	if _, ok := DetectEmailColumn(none); ok {
		t.Error("expected no email column")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "list.csv")
	if err := os.WriteFile(csvPath, []byte("email,name\na@x.com,A\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	table, err := Load(csvPath)
	if err != nil || table.Len() != 1 {
		t.Fatalf("load csv: %v (%d rows)", err, table.Len())
	}

	txtPath := filepath.Join(dir, "list.TXT")
	if err := os.WriteFile(txtPath, []byte("a@x.com b@y.org\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	table, err = Load(txtPath)
	if err != nil || table.Len() != 2 {
		t.Fatalf("load txt: %v (%d rows)", err, table.Len())
	}

	xlsxPath := filepath.Join(dir, "list.xlsx")
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	_ = book.SetSheetRow(sheet, "A1", &[]any{"email", "name", "company"})
	_ = book.SetSheetRow(sheet, "A2", &[]any{"c@x.com", "Carol", "Initech"})
	if err := book.SaveAs(xlsxPath); err != nil {
		t.Fatal(err)
	}
	table, err = Load(xlsxPath)
	if err != nil {
		t.Fatalf("load xlsx: %v", err)
	}
	if table.Len() != 1 || table.Rows[0].Company() != "Initech" {
		t.Fatalf("unexpected xlsx table: %+v", table)
	}

	if _, err := Load(filepath.Join(dir, "list.pdf")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
