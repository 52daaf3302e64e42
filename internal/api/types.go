package api

import (
	"errors"
	"time"

	"github.io/infrasutra/bulkmail/internal/campaign"
	"github.io/infrasutra/bulkmail/internal/personalize"
	"github.io/infrasutra/bulkmail/internal/recipients"
	"github.io/infrasutra/bulkmail/internal/store"
)

// recipientSet is the recipient part of a request: either a table given as
// columns and rows, or a bare list of addresses.
type recipientSet struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Emails  []string   `json:"emails"`
}

func (rs recipientSet) table() (recipients.Table, error) {
	switch {
	case len(rs.Columns) > 0:
		return recipients.NewTable(rs.Columns, rs.Rows), nil
	case len(rs.Emails) > 0:
		return recipients.FromEmails(rs.Emails), nil
	default:
		return recipients.Table{}, errors.New("recipients required: provide columns and rows, or emails")
	}
}

type sendRequest struct {
	Plan campaign.Plan `json:"plan"`
	recipientSet
}

type createResponse struct {
	CampaignID string             `json:"campaign_id"`
	Recipients int                `json:"recipients"`
	Duplicates int                `json:"duplicates"`
	Validation recipients.Summary `json:"validation"`
}

type previewRequest struct {
	Plan  campaign.Plan `json:"plan"`
	Count int           `json:"count"`
	recipientSet
}

type previewResponse struct {
	TemplateValid bool                      `json:"template_valid"`
	Mapping       personalize.Mapping       `json:"mapping"`
	MappingReport personalize.MappingReport `json:"mapping_report"`
	Previews      []personalize.Preview     `json:"previews"`
}

type recipientResponse struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Company      string `json:"company"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	SentAt       string `json:"sent_at,omitempty"`
	RetryCount   int    `json:"retry_count"`
}

func toRecipientResponse(r store.Recipient) recipientResponse {
	out := recipientResponse{
		Email:        r.Email,
		Name:         r.Name,
		Company:      r.Company,
		Status:       string(r.Status),
		ErrorMessage: r.ErrorMessage,
		RetryCount:   r.RetryCount,
	}
	if !r.SentAt.IsZero() {
		out.SentAt = r.SentAt.UTC().Format(time.RFC3339)
	}
	return out
}
