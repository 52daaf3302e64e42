package recipients

import (
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrNotValidated   = errors.New("table has not been validated")
)

const (
	maxLocalLength   = 64
	maxDomainLength  = 253
	maxLabelLength   = 63
	emptyEmailReason = "Empty email"
)

var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"guerrillamail.com": {},
	"mailinator.com":    {},
	"tempmail.org":      {},
	"throwaway.email":   {},
	"yopmail.com":       {},
}

// SyntaxError explains why an address was rejected.
type SyntaxError struct {
	Address string
	Reason  string
}

func (e *SyntaxError) Error() string {
	return e.Reason
}

// ValidateSyntax trims and lowercases address and checks it is a deliverable
// mailbox form. On success it returns the normalized address.
func ValidateSyntax(address string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	reject := func(format string, args ...any) (string, error) {
		return "", &SyntaxError{Address: address, Reason: fmt.Sprintf(format, args...)}
	}

	if normalized == "" {
		return reject(emptyEmailReason)
	}
	if strings.Count(normalized, "@") != 1 {
		return reject("The email address is not valid. It must have exactly one @-sign.")
	}
	local, domain, _ := strings.Cut(normalized, "@")

	if local == "" {
		return reject("There must be something before the @-sign.")
	}
	if len(local) > maxLocalLength {
		return reject("The email address is too long before the @-sign (%d characters too many).", len(local)-maxLocalLength)
	}
	if strings.HasPrefix(local, ".") {
		return reject("An email address cannot start with a period.")
	}
	if strings.HasSuffix(local, ".") {
		return reject("An email address cannot have a period immediately before the @-sign.")
	}
	if strings.Contains(local, "..") {
		return reject("An email address cannot have two periods in a row.")
	}
	if bad := invalidLocalChars(local); bad != "" {
		return reject("The email address contains invalid characters before the @-sign: %s.", bad)
	}

	if domain == "" {
		return reject("There must be something after the @-sign.")
	}
	if len(domain) > maxDomainLength {
		return reject("The email address is too long after the @-sign.")
	}
	if reason := domainProblem(domain); reason != "" {
		return reject("%s", reason)
	}

	parsed, err := mail.ParseAddress(normalized)
	if err != nil || !strings.EqualFold(parsed.Address, normalized) {
		return reject("The email address is not valid.")
	}
	return normalized, nil
}

func invalidLocalChars(local string) string {
	var bad []string
	seen := map[rune]struct{}{}
	for _, r := range local {
		if isAtext(r) || r == '.' {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		bad = append(bad, fmt.Sprintf("%q", r))
	}
	return strings.Join(bad, ", ")
}

func isAtext(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("!#$%&'*+/=?^_`{|}~-", r)
}

func domainProblem(domain string) string {
	if strings.HasPrefix(domain, ".") {
		return "An email address cannot have a period immediately after the @-sign."
	}
	if strings.HasSuffix(domain, ".") {
		return "An email address cannot end with a period."
	}
	if strings.Contains(domain, "..") {
		return "An email address cannot have two periods in a row."
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "The part after the @-sign is not valid. It should have a period."
	}
	for _, label := range labels {
		if len(label) > maxLabelLength {
			return "After the @-sign, periods cannot be separated by so many characters."
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "An email address cannot have a hyphen immediately before or after a period in the domain."
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return fmt.Sprintf("The part after the @-sign contains invalid characters: %q.", r)
			}
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return "The part after the @-sign is not valid. It is not within a valid top-level domain."
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return "The part after the @-sign is not valid. It is not within a valid top-level domain."
		}
	}
	return ""
}

// IsDisposable reports whether the domain of address is a known throwaway
// mailbox provider.
func IsDisposable(address string) bool {
	idx := strings.LastIndex(address, "@")
	domain := strings.ToLower(strings.TrimSpace(address[idx+1:]))
	_, ok := disposableDomains[domain]
	return ok
}

// Clean validates every row's emailColumn and records the outcome on a copy
// of the table.
func Clean(t Table, emailColumn string) (Table, error) {
	if !t.HasColumn(emailColumn) {
		return Table{}, fmt.Errorf("email column %q: %w", emailColumn, ErrColumnNotFound)
	}
	out := Table{
		Columns:   append([]string(nil), t.Columns...),
		Rows:      make([]Row, 0, len(t.Rows)),
		validated: true,
	}
	for _, src := range t.Rows {
		row := src.clone()
		raw := row.Fields[emailColumn]
		row.EmailOriginal = raw
		row.EmailClean = ""
		row.Valid = false
		row.ValidationError = ""
		row.Disposable = false

		email := strings.ToLower(strings.TrimSpace(raw))
		if isNullLike(email) {
			row.ValidationError = emptyEmailReason
			out.Rows = append(out.Rows, row)
			continue
		}
		clean, err := ValidateSyntax(email)
		if err != nil {
			row.ValidationError = err.Error()
			out.Rows = append(out.Rows, row)
			continue
		}
		row.EmailClean = clean
		row.Valid = true
		row.Disposable = IsDisposable(clean)
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// RemoveDuplicates keeps the first row for each cleaned address, preserving
// input order.
func RemoveDuplicates(t Table) Table {
	out := t
	out.Columns = append([]string(nil), t.Columns...)
	out.Rows = make([]Row, 0, len(t.Rows))
	seen := make(map[string]struct{}, len(t.Rows))
	for _, row := range t.Rows {
		if _, ok := seen[row.EmailClean]; ok {
			continue
		}
		seen[row.EmailClean] = struct{}{}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// FilterValid returns the rows that passed validation.
func FilterValid(t Table) (Table, error) {
	if !t.validated {
		return Table{}, ErrNotValidated
	}
	out := t
	out.Columns = append([]string(nil), t.Columns...)
	out.Rows = make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		if row.Valid {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

type Summary struct {
	Total           int     `json:"total_emails"`
	Valid           int     `json:"valid_emails"`
	Invalid         int     `json:"invalid_emails"`
	Disposable      int     `json:"disposable_emails"`
	ValidPercentage float64 `json:"valid_percentage"`
}

func Summarize(t Table) Summary {
	s := Summary{Total: len(t.Rows)}
	for _, row := range t.Rows {
		if row.Valid {
			s.Valid++
		}
		if row.Disposable {
			s.Disposable++
		}
	}
	s.Invalid = s.Total - s.Valid
	if s.Total > 0 {
		s.ValidPercentage = math.Round(float64(s.Valid)/float64(s.Total)*100*100) / 100
	}
	return s
}
