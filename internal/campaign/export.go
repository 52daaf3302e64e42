package campaign

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.io/infrasutra/bulkmail/internal/store"
)

var failedHeader = []string{"email", "name", "company", "error_message", "retry_count"}

// WriteFailedCSV writes failed recipients in the export layout used for
// manual follow-up.
func WriteFailedCSV(w io.Writer, rows []store.FailedRecipient) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(failedHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Email, r.Name, r.Company, r.ErrorMessage, strconv.Itoa(r.RetryCount)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecipientsCSV exports every recipient of a campaign with its status.
func WriteRecipientsCSV(w io.Writer, rows []store.Recipient) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"email", "name", "company", "status", "error_message", "sent_at", "retry_count"}); err != nil {
		return err
	}
	for _, r := range rows {
		sentAt := ""
		if !r.SentAt.IsZero() {
			sentAt = r.SentAt.UTC().Format(time.RFC3339)
		}
		record := []string{r.Email, r.Name, r.Company, string(r.Status), r.ErrorMessage, sentAt, strconv.Itoa(r.RetryCount)}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
