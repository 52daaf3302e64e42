package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("campaign not found")

type CampaignStatus string

const (
	CampaignCreated   CampaignStatus = "created"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
)

type RecipientStatus string

const (
	StatusPending RecipientStatus = "pending"
	StatusSent    RecipientStatus = "sent"
	StatusFailed  RecipientStatus = "failed"
)

type NewCampaign struct {
	Subject      string
	TemplateType string
	SenderName   string
}

type NewRecipient struct {
	Email   string
	Name    string
	Company string
}

type Recipient struct {
	ID           int64
	CampaignID   string
	Email        string
	Name         string
	Company      string
	Status       RecipientStatus
	ErrorMessage string
	SentAt       time.Time
	RetryCount   int
}

// StatusUpdate describes one recipient transition. ErrorMessage is only
// written when non-empty and RetryCount only when set.
type StatusUpdate struct {
	Status       RecipientStatus
	ErrorMessage string
	RetryCount   *int
}

type CampaignSummary struct {
	ID              string         `json:"id"`
	Subject         string         `json:"subject"`
	TemplateType    string         `json:"template_type"`
	SenderName      string         `json:"sender_name"`
	TotalRecipients int            `json:"total_recipients"`
	CreatedAt       time.Time      `json:"created_at"`
	Status          CampaignStatus `json:"status"`
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	PendingCount    int            `json:"pending_count"`
	SuccessRate     float64        `json:"success_rate"`
}

type FailedRecipient struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Company      string `json:"company"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
}
