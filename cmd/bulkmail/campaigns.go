package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.io/infrasutra/bulkmail/internal/campaign"
	"github.io/infrasutra/bulkmail/internal/pagination"
	"github.io/infrasutra/bulkmail/internal/store"
)

func newCampaignsCmd(a *app) *cobra.Command {
	var page, limit int
	var oldest bool
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "List campaign history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(limit))
			if oldest {
				q.Set("sort", "oldest")
			}
			params := pagination.Parse(q)
			campaigns, total, err := db.ListCampaigns(cmd.Context(), params.Offset, params.Limit, params.OldestFirst())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(campaigns) == 0 {
				fmt.Fprintln(out, "No campaigns yet.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tSUBJECT\tTOTAL\tSENT\tFAILED\tSUCCESS")
			for _, c := range campaigns {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.1f%%\n",
					c.ID, c.CreatedAt.Format(time.DateTime), c.Status, c.Subject,
					c.TotalRecipients, c.SentCount, c.FailedCount, c.SuccessRate)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if params.HasNext(total) {
				fmt.Fprintf(out, "\n%d of %d shown; next: --page %d\n", params.Offset+int32(len(campaigns)), total, params.Page+1)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", int(pagination.DefaultLimit), "campaigns per page")
	cmd.Flags().BoolVar(&oldest, "oldest", false, "oldest first")
	return cmd
}

func loadSummary(ctx context.Context, a *app, id string) (store.CampaignSummary, error) {
	db, err := a.openStore(ctx)
	if err != nil {
		return store.CampaignSummary{}, err
	}
	summary, ok, err := db.CampaignSummary(ctx, id)
	if err != nil {
		return store.CampaignSummary{}, err
	}
	if !ok {
		return store.CampaignSummary{}, fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
	}
	return summary, nil
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <campaign-id>",
		Short: "Show one campaign with recipient counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadSummary(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\t%s\n", c.ID)
			fmt.Fprintf(tw, "Subject\t%s\n", c.Subject)
			fmt.Fprintf(tw, "Template\t%s\n", c.TemplateType)
			fmt.Fprintf(tw, "Sender\t%s\n", c.SenderName)
			fmt.Fprintf(tw, "Created\t%s\n", c.CreatedAt.Format(time.DateTime))
			fmt.Fprintf(tw, "Status\t%s\n", c.Status)
			fmt.Fprintf(tw, "Recipients\t%d\n", c.TotalRecipients)
			fmt.Fprintf(tw, "Sent\t%d\n", c.SentCount)
			fmt.Fprintf(tw, "Failed\t%d\n", c.FailedCount)
			fmt.Fprintf(tw, "Pending\t%d\n", c.PendingCount)
			fmt.Fprintf(tw, "Success rate\t%.1f%%\n", c.SuccessRate)
			return tw.Flush()
		},
	}
}

func newExportFailedCmd(a *app) *cobra.Command {
	var output string
	var all bool
	cmd := &cobra.Command{
		Use:   "export-failed <campaign-id>",
		Short: "Write a campaign's failed recipients as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadSummary(ctx, a, args[0])
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			if all {
				rows, err := a.db.Recipients(ctx, c.ID, "")
				if err != nil {
					return err
				}
				return campaign.WriteRecipientsCSV(w, rows)
			}
			failed, err := a.db.FailedRecipients(ctx, c.ID)
			if err != nil {
				return err
			}
			if err := campaign.WriteFailedCSV(w, failed); err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d failed recipients to %s\n", len(failed), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout when empty)")
	cmd.Flags().BoolVar(&all, "all", false, "export every recipient with its status")
	return cmd
}

func newTestConnectionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Connect and authenticate to the SMTP relay without sending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.openMailer()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.SMTPTimeout+5*time.Second)
			defer cancel()
			if err := m.TestConnection(ctx); err != nil {
				return fmt.Errorf("SMTP connection failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SMTP connection successful (%s:%d)\n", a.cfg.SMTPHost, a.cfg.SMTPPort)
			info := m.RateLimitInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "Rate limit: %d/min, about %.1f minutes per 100 emails\n", info.EmailsPerMinute, info.MinutesPer100)
			return nil
		},
	}
}
