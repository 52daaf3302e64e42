package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.io/infrasutra/bulkmail/internal/campaign"
	"github.io/infrasutra/bulkmail/internal/personalize"
	"github.io/infrasutra/bulkmail/internal/ratelimit"
	"github.io/infrasutra/bulkmail/internal/recipients"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func loadRecipients(path, column string) (recipients.Table, string, error) {
	table, err := recipients.Load(path)
	if err != nil {
		return recipients.Table{}, "", err
	}
	if column == "" {
		detected, ok := recipients.DetectEmailColumn(table)
		if !ok {
			return table, "", fmt.Errorf("%s: %w (use --column)", path, recipients.ErrColumnNotFound)
		}
		column = detected
	}
	if !table.HasColumn(column) {
		return table, "", fmt.Errorf("%s: column %q: %w", path, column, recipients.ErrColumnNotFound)
	}
	return table, column, nil
}

func loadPlan(path, column string) (campaign.Plan, error) {
	if path == "" {
		return campaign.Plan{}, errors.New("--plan is required")
	}
	plan, err := campaign.LoadPlan(path)
	if err != nil {
		return campaign.Plan{}, err
	}
	if column != "" {
		plan.EmailColumn = column
	}
	return plan, plan.Validate()
}

func printSummary(w io.Writer, s recipients.Summary) {
	fmt.Fprintf(w, "Total:       %d\n", s.Total)
	fmt.Fprintf(w, "Valid:       %d (%.2f%%)\n", s.Valid, s.ValidPercentage)
	fmt.Fprintf(w, "Invalid:     %d\n", s.Invalid)
	fmt.Fprintf(w, "Disposable:  %d\n", s.Disposable)
}

func newValidateCmd(a *app) *cobra.Command {
	var column string
	var showInvalid int
	cmd := &cobra.Command{
		Use:   "validate <recipients-file>",
		Short: "Clean, deduplicate and summarise a recipient list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, column, err := loadRecipients(args[0], column)
			if err != nil {
				return err
			}
			cleaned, err := recipients.Clean(table, column)
			if err != nil {
				return err
			}
			deduped := recipients.RemoveDuplicates(cleaned)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Email column: %s\n", column)
			printSummary(out, recipients.Summarize(cleaned))
			fmt.Fprintf(out, "Duplicates:  %d\n", cleaned.Len()-deduped.Len())

			shown := 0
			for _, row := range cleaned.Rows {
				if row.Valid || shown >= showInvalid {
					continue
				}
				if shown == 0 {
					fmt.Fprintln(out, "\nInvalid rows:")
				}
				fmt.Fprintf(out, "  %-40s %s\n", row.EmailOriginal, row.ValidationError)
				shown++
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "email column (detected when empty)")
	cmd.Flags().IntVar(&showInvalid, "show-invalid", 20, "number of invalid rows to list")
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	var planPath, column string
	var count int
	cmd := &cobra.Command{
		Use:   "preview <recipients-file>",
		Short: "Render the first few personalised messages without sending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlan(planPath, column)
			if err != nil {
				return err
			}
			table, _, err := loadRecipients(args[0], plan.EmailColumn)
			if err != nil {
				return err
			}
			mapping := plan.Mapping
			if len(mapping) == 0 {
				mapping = personalize.DefaultMapping(table.Columns)
			}

			out := cmd.OutOrStdout()
			report := personalize.ValidateMapping(table, mapping)
			for _, entry := range report.Valid {
				fmt.Fprintf(out, "ok       %s\n", entry)
			}
			for _, entry := range report.Empty {
				fmt.Fprintf(out, "empty    %s\n", entry)
			}
			for _, entry := range report.Missing {
				fmt.Fprintf(out, "missing  %s\n", entry)
			}

			compose := personalize.Compose{SenderName: plan.SenderName, Subject: plan.Subject, Message: plan.Message}
			for i, p := range personalize.Previews(table, plan.Body, mapping, compose, count) {
				fmt.Fprintf(out, "\n--- %d: %s (%s) ---\n%s\n", i+1, p.Email, p.Name, p.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "campaign plan (YAML)")
	cmd.Flags().StringVar(&column, "column", "", "email column (overrides the plan)")
	cmd.Flags().IntVarP(&count, "count", "n", 3, "number of previews")
	return cmd
}

func newSendCmd(a *app) *cobra.Command {
	var planPath, column string
	var yes bool
	cmd := &cobra.Command{
		Use:   "send <recipients-file>",
		Short: "Create a campaign and send it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlan(planPath, column)
			if err != nil {
				return err
			}
			table, column, err := loadRecipients(args[0], plan.EmailColumn)
			if err != nil {
				return err
			}
			plan.EmailColumn = column
			if a.cfg.MaxRecipients > 0 && table.Len() > a.cfg.MaxRecipients {
				return fmt.Errorf("%d recipients exceeds MAX_RECIPIENTS=%d", table.Len(), a.cfg.MaxRecipients)
			}

			cleaned, err := recipients.Clean(table, column)
			if err != nil {
				return err
			}
			valid, err := recipients.FilterValid(recipients.RemoveDuplicates(cleaned))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSummary(out, recipients.Summarize(cleaned))
			fmt.Fprintf(out, "Sending to %d unique valid recipients, about %.1f minutes at %d/min\n",
				valid.Len(), ratelimit.New(plan.RatePerMinute).EstimateCompletion(valid.Len()), plan.RatePerMinute)
			if valid.Len() == 0 {
				return campaign.ErrNoRecipients
			}
			if !yes && !confirm(cmd, "Send now?") {
				fmt.Fprintln(out, "Cancelled.")
				return nil
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			runner, err := a.openRunner(ctx)
			if err != nil {
				return err
			}
			prepared, report, err := runner.Send(ctx, plan, table)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Campaign %s created\n", prepared.CampaignID)
			printReport(out, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "campaign plan (YAML)")
	cmd.Flags().StringVar(&column, "column", "", "email column (overrides the plan)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "send without asking for confirmation")
	return cmd
}

func newRetryCmd(a *app) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "retry <campaign-id>",
		Short: "Re-send a campaign's failed recipients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlan(planPath, "")
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			runner, err := a.openRunner(ctx)
			if err != nil {
				return err
			}
			report, err := runner.RetryFailed(ctx, args[0], plan)
			if err != nil {
				return err
			}
			if report.Total == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed recipients to retry.")
				return nil
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "campaign plan (YAML)")
	return cmd
}

func printReport(w io.Writer, r campaign.Report) {
	fmt.Fprintf(w, "\nCampaign %s finished in %s\n", r.CampaignID, r.Duration.Round(time.Second))
	fmt.Fprintf(w, "Sent: %d  Failed: %d  Skipped: %d\n", r.Sent, r.Failed, r.Skipped)
	switch {
	case r.Canceled:
		fmt.Fprintln(w, "Interrupted; remaining recipients are still pending.")
	case r.Stopped:
		fmt.Fprintln(w, "Stopped at the first failure (continue_on_error is false).")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", prompt)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}
