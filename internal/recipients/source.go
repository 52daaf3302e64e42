package recipients

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

var emailColumnAliases = []string{
	"email", "e-mail", "mail", "email_address", "emailaddress",
	"e_mail", "e_mail_address",
}

// Load reads a recipient source file, choosing the parser by extension.
func Load(path string) (Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", ".xlsx", ".txt":
	default:
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if ext == ".xlsx" {
		return loadXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()

	if ext == ".csv" {
		return ParseCSV(f)
	}
	return ParseText(f)
}

// ParseCSV reads a header row followed by records.
func ParseCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, errors.New("parse csv: file is empty")
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return NewTable(header, dropBlankRecords(records[1:])), nil
}

// ParseText extracts every email-looking substring, line by line.
func ParseText(r io.Reader) (Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var emails []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		emails = append(emails, emailPattern.FindAllString(line, -1)...)
	}
	if err := scanner.Err(); err != nil {
		return Table{}, fmt.Errorf("parse text: %w", err)
	}
	return FromEmails(emails), nil
}

func loadXLSX(path string) (Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, errors.New("parse spreadsheet: no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("parse spreadsheet: %w", err)
	}
	if len(rows) == 0 {
		return Table{}, errors.New("parse spreadsheet: sheet is empty")
	}
	return NewTable(rows[0], dropBlankRecords(rows[1:])), nil
}

func dropBlankRecords(records [][]string) [][]string {
	out := records[:0]
	for _, record := range records {
		blank := true
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				blank = false
				break
			}
		}
		if !blank {
			out = append(out, record)
		}
	}
	return out
}

// DetectEmailColumn guesses which column holds addresses: exact alias match
// first, then substring match, then by sampling values.
func DetectEmailColumn(t Table) (string, bool) {
	for _, col := range t.Columns {
		for _, alias := range emailColumnAliases {
			if strings.ToLower(col) == alias {
				return col, true
			}
		}
	}
	for _, col := range t.Columns {
		lower := strings.ToLower(col)
		for _, alias := range emailColumnAliases {
			if strings.Contains(lower, alias) {
				return col, true
			}
		}
	}
	for _, col := range t.Columns {
		var sampled, looksLike int
		for _, row := range t.Rows {
			value := row.Get(col)
			if value == "" {
				continue
			}
			sampled++
			if strings.Contains(value, "@") && strings.Contains(value, ".") {
				looksLike++
			}
			if sampled == 10 {
				break
			}
		}
		if sampled > 0 && float64(looksLike) >= float64(sampled)*0.7 {
			return col, true
		}
	}
	return "", false
}
