package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	if !inMemory && !strings.HasPrefix(trimmed, "file:") {
		if dir := filepath.Dir(trimmed); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
            id TEXT PRIMARY KEY,
            subject TEXT NOT NULL,
            template_type TEXT NOT NULL,
            sender_name TEXT NOT NULL,
            total_recipients INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'created'
        );`,
		`CREATE TABLE IF NOT EXISTS recipients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            campaign_id TEXT NOT NULL,
            email TEXT NOT NULL,
            name TEXT,
            company TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            error_message TEXT,
            sent_at INTEGER,
            retry_count INTEGER NOT NULL DEFAULT 0,
            FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_campaign ON recipients(campaign_id);`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_campaign_email ON recipients(campaign_id, email);`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_status ON recipients(campaign_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_created ON campaigns(created_at);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateCampaign(ctx context.Context, c NewCampaign) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO campaigns
        (id, subject, template_type, sender_name, total_recipients, created_at, status)
        VALUES (?, ?, ?, ?, 0, ?, ?);`,
		id, c.Subject, c.TemplateType, c.SenderName, s.now().Unix(), string(CampaignCreated))
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return id, nil
}

func (s *Store) SetCampaignStatus(ctx context.Context, campaignID string, status CampaignStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaigns SET status = ? WHERE id = ?;`, string(status), campaignID)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	return nil
}

// AddRecipients inserts rows as pending and refreshes the campaign's total
// from the stored row count.
func (s *Store) AddRecipients(ctx context.Context, campaignID string, rows []NewRecipient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO recipients (campaign_id, email, name, company, status)
        VALUES (?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("prepare recipient insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, campaignID, row.Email, row.Name, row.Company, string(StatusPending)); err != nil {
			return fmt.Errorf("insert recipient: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE campaigns
        SET total_recipients = (SELECT COUNT(*) FROM recipients WHERE campaign_id = ?)
        WHERE id = ?;`, campaignID, campaignID)
	if err != nil {
		return fmt.Errorf("update recipient total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recipients: %w", err)
	}
	return nil
}

// UpdateRecipientStatus applies u to the recipient addressed by
// (campaignID, email). It returns the number of rows changed; zero is not an
// error.
func (s *Store) UpdateRecipientStatus(ctx context.Context, campaignID, email string, u StatusUpdate) (int64, error) {
	sets := []string{"status = ?"}
	args := []any{string(u.Status)}

	if u.Status == StatusSent {
		sets = append(sets, "sent_at = ?", "error_message = NULL")
		args = append(args, s.now().Unix())
	} else if u.ErrorMessage != "" {
		sets = append(sets, "error_message = ?")
		args = append(args, u.ErrorMessage)
	}
	if u.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *u.RetryCount)
	}
	args = append(args, campaignID, email)

	query := "UPDATE recipients SET " + strings.Join(sets, ", ") + " WHERE campaign_id = ? AND email = ?;"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update recipient status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update recipient status: %w", err)
	}
	return affected, nil
}

// CampaignSummary returns the campaign with live recipient counts. The
// boolean is false when no such campaign exists.
func (s *Store) CampaignSummary(ctx context.Context, campaignID string) (CampaignSummary, bool, error) {
	summary := CampaignSummary{ID: campaignID}
	var createdAt int64
	var status string
	row := s.db.QueryRowContext(ctx, `SELECT subject, template_type, sender_name, total_recipients, created_at, status
        FROM campaigns WHERE id = ?;`, campaignID)
	if err := row.Scan(
		&summary.Subject,
		&summary.TemplateType,
		&summary.SenderName,
		&summary.TotalRecipients,
		&createdAt,
		&status,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CampaignSummary{}, false, nil
		}
		return CampaignSummary{}, false, fmt.Errorf("get campaign: %w", err)
	}
	summary.CreatedAt = time.Unix(createdAt, 0)
	summary.Status = CampaignStatus(status)

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM recipients
        WHERE campaign_id = ? GROUP BY status;`, campaignID)
	if err != nil {
		return CampaignSummary{}, false, fmt.Errorf("count recipients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var count int
		if err := rows.Scan(&st, &count); err != nil {
			return CampaignSummary{}, false, fmt.Errorf("count recipients: %w", err)
		}
		switch RecipientStatus(st) {
		case StatusSent:
			summary.SentCount = count
		case StatusFailed:
			summary.FailedCount = count
		case StatusPending:
			summary.PendingCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return CampaignSummary{}, false, fmt.Errorf("count recipients: %w", err)
	}
	summary.SuccessRate = successRate(summary.SentCount, summary.TotalRecipients)
	return summary, true, nil
}

func (s *Store) FailedRecipients(ctx context.Context, campaignID string) ([]FailedRecipient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, COALESCE(name, ''), COALESCE(company, ''),
        COALESCE(error_message, ''), retry_count
        FROM recipients WHERE campaign_id = ? AND status = ? ORDER BY id;`, campaignID, string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("get failed recipients: %w", err)
	}
	defer rows.Close()

	failed := []FailedRecipient{}
	for rows.Next() {
		var f FailedRecipient
		if err := rows.Scan(&f.Email, &f.Name, &f.Company, &f.ErrorMessage, &f.RetryCount); err != nil {
			return nil, fmt.Errorf("get failed recipients: %w", err)
		}
		failed = append(failed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get failed recipients: %w", err)
	}
	return failed, nil
}

// Recipients lists a campaign's recipients in insertion order, optionally
// restricted to one status.
func (s *Store) Recipients(ctx context.Context, campaignID string, status RecipientStatus) ([]Recipient, error) {
	query := `SELECT id, campaign_id, email, COALESCE(name, ''), COALESCE(company, ''), status,
        COALESCE(error_message, ''), sent_at, retry_count
        FROM recipients WHERE campaign_id = ?`
	args := []any{campaignID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id;"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var list []Recipient
	for rows.Next() {
		var r Recipient
		var st string
		var sentAt sql.NullInt64
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.Email, &r.Name, &r.Company, &st, &r.ErrorMessage, &sentAt, &r.RetryCount); err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		r.Status = RecipientStatus(st)
		if sentAt.Valid {
			r.SentAt = time.Unix(sentAt.Int64, 0)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return list, nil
}

// AllCampaigns returns every campaign, newest first.
func (s *Store) AllCampaigns(ctx context.Context) ([]CampaignSummary, error) {
	campaigns, _, err := s.ListCampaigns(ctx, 0, -1, false)
	return campaigns, err
}

// ListCampaigns returns one page of campaigns and the total number of
// campaigns. Pages are newest first unless oldestFirst is set. A negative
// limit returns everything from offset.
func (s *Store) ListCampaigns(ctx context.Context, offset, limit int32, oldestFirst bool) ([]CampaignSummary, int32, error) {
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM campaigns;`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}
	if total > int64(^uint32(0)>>1) {
		total = int64(^uint32(0) >> 1)
	}

	order := "DESC"
	if oldestFirst {
		order = "ASC"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT c.id, c.subject, c.template_type, c.sender_name,
            c.total_recipients, c.created_at, c.status,
            COUNT(CASE WHEN r.status = 'sent' THEN 1 END),
            COUNT(CASE WHEN r.status = 'failed' THEN 1 END),
            COUNT(CASE WHEN r.status = 'pending' THEN 1 END)
        FROM campaigns c
        LEFT JOIN recipients r ON r.campaign_id = c.id
        GROUP BY c.id
        ORDER BY c.created_at `+order+`, c.rowid `+order+`
        LIMIT ? OFFSET ?;`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []CampaignSummary{}
	for rows.Next() {
		var c CampaignSummary
		var createdAt int64
		var status string
		if err := rows.Scan(
			&c.ID,
			&c.Subject,
			&c.TemplateType,
			&c.SenderName,
			&c.TotalRecipients,
			&createdAt,
			&status,
			&c.SentCount,
			&c.FailedCount,
			&c.PendingCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		c.Status = CampaignStatus(status)
		c.SuccessRate = successRate(c.SentCount, c.TotalRecipients)
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, int32(total), nil
}

func successRate(sent, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(sent)/float64(total)*100*10) / 10
}
