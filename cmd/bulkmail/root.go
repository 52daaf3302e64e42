package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.io/infrasutra/bulkmail/internal/campaign"
	"github.io/infrasutra/bulkmail/internal/config"
	"github.io/infrasutra/bulkmail/internal/mailer"
	"github.io/infrasutra/bulkmail/internal/sse"
	"github.io/infrasutra/bulkmail/internal/store"
)

type globalFlags struct {
	envFile  string
	logLevel string
	dbPath   string
}

// app carries what every command needs. The store, mailer and runner are
// opened lazily because validate and preview work without them.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	hub    *sse.Hub

	db     *store.Store
	mailer *mailer.Mailer
	runner *campaign.Runner
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	a := &app{}

	root := &cobra.Command{
		Use:   "bulkmail",
		Short: "Validate recipient lists and send personalised email campaigns",
		Long: `bulkmail sends personalised campaigns through an SMTP relay.

It cleans and deduplicates recipient lists (CSV, XLSX or TXT), renders a
template per recipient, paces delivery with a per-minute rate limit and
records every outcome in a local SQLite database.

Example:
  bulkmail validate contacts.csv
  bulkmail preview contacts.csv --plan spring.yaml
  bulkmail send contacts.csv --plan spring.yaml
  bulkmail retry <campaign-id> --plan spring.yaml
  bulkmail export-failed <campaign-id> -o failed.csv`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(flags)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&flags.envFile, "env", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "campaign database path; overrides DB_PATH")

	root.AddCommand(
		newValidateCmd(a),
		newPreviewCmd(a),
		newSendCmd(a),
		newRetryCmd(a),
		newCampaignsCmd(a),
		newShowCmd(a),
		newExportFailedCmd(a),
		newTestConnectionCmd(a),
		newServeCmd(a),
		newRelayCmd(a),
	)
	return root
}

func (a *app) init(flags *globalFlags) error {
	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", flags.envFile, err)
	}
	a.cfg = config.Load()
	if flags.logLevel != "" {
		a.cfg.LogLevel = flags.logLevel
	}
	if flags.dbPath != "" {
		a.cfg.DBPath = flags.dbPath
	}
	a.logger = newLogger(a.cfg.LogLevel)
	a.hub = sse.NewHub()
	return nil
}

func newLogger(level string) *slog.Logger {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
	})
	return slog.New(handler)
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.Open(ctx, a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) openMailer() (*mailer.Mailer, error) {
	if a.mailer != nil {
		return a.mailer, nil
	}
	m, err := mailer.New(a.cfg, mailer.WithLogger(a.logger))
	if err != nil {
		if errors.Is(err, mailer.ErrMissingCredentials) {
			return nil, fmt.Errorf("%w: set %s", err, strings.Join(a.cfg.Missing(), " and "))
		}
		return nil, err
	}
	a.mailer = m
	return m, nil
}

func (a *app) openRunner(ctx context.Context) (*campaign.Runner, error) {
	if a.runner != nil {
		return a.runner, nil
	}
	db, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	m, err := a.openMailer()
	if err != nil {
		return nil, err
	}
	a.runner = campaign.NewRunner(db, m, campaign.WithLogger(a.logger), campaign.WithPublisher(a.hub))
	return a.runner, nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
