// Package api exposes the send pipeline over HTTP: campaign history, failed
// recipient exports, live progress streams and background sends.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.io/infrasutra/bulkmail/internal/campaign"
	"github.io/infrasutra/bulkmail/internal/config"
	"github.io/infrasutra/bulkmail/internal/pagination"
	"github.io/infrasutra/bulkmail/internal/personalize"
	"github.io/infrasutra/bulkmail/internal/recipients"
	"github.io/infrasutra/bulkmail/internal/sse"
	"github.io/infrasutra/bulkmail/internal/store"
)

type Store interface {
	Ping(ctx context.Context) error
	ListCampaigns(ctx context.Context, offset, limit int32, oldestFirst bool) ([]store.CampaignSummary, int32, error)
	CampaignSummary(ctx context.Context, campaignID string) (store.CampaignSummary, bool, error)
	FailedRecipients(ctx context.Context, campaignID string) ([]store.FailedRecipient, error)
	Recipients(ctx context.Context, campaignID string, status store.RecipientStatus) ([]store.Recipient, error)
}

type Runner interface {
	Start(ctx context.Context, plan campaign.Plan, table recipients.Table) (campaign.Prepared, *campaign.Job, error)
	StartRetry(ctx context.Context, campaignID string, plan campaign.Plan) (*campaign.Job, error)
}

type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

type Server struct {
	cfg    config.Config
	store  Store
	runner Runner
	conn   ConnectionTester
	hub    *sse.Hub
	logger *slog.Logger
	router chi.Router

	baseCtx context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
}

func NewServer(cfg config.Config, s Store, runner Runner, conn ConnectionTester, hub *sse.Hub, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		cfg:     cfg,
		store:   s,
		runner:  runner,
		conn:    conn,
		hub:     hub,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(server.logRequests)

	r.Get("/health", server.handleHealth)
	r.Get("/ready", server.handleReady)
	r.Route("/api", func(r chi.Router) {
		r.Get("/campaigns", server.handleListCampaigns)
		r.Post("/campaigns", server.handleCreateCampaign)
		r.Get("/campaigns/{id}", server.handleCampaign)
		r.Get("/campaigns/{id}/recipients", server.handleRecipients)
		r.Get("/campaigns/{id}/failed", server.handleFailed)
		r.Get("/campaigns/{id}/failed.csv", server.handleFailedCSV)
		r.Get("/campaigns/{id}/stream", server.handleStream)
		r.Post("/campaigns/{id}/retry", server.handleRetry)
		r.Post("/preview", server.handlePreview)
		r.Post("/connection/test", server.handleConnectionTest)
	})
	server.router = r
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Shutdown cancels background sends and waits for them to record their
// final state.
func (s *Server) Shutdown() {
	s.cancel()
	s.runs.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())
	campaigns, total, err := s.store.ListCampaigns(r.Context(), params.Offset, params.Limit, params.OldestFirst())
	if err != nil {
		s.logger.Error("list campaigns", "error", err)
		http.Error(w, "unable to list campaigns", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		Campaigns []store.CampaignSummary `json:"campaigns"`
		Page      int32                   `json:"page"`
		Limit     int32                   `json:"limit"`
		Total     int32                   `json:"total"`
		HasNext   bool                    `json:"has_next"`
	}{
		Campaigns: campaigns,
		Page:      params.Page,
		Limit:     params.Limit,
		Total:     total,
		HasNext:   params.HasNext(total),
	})
}

// campaignOr404 loads the campaign named in the URL, writing the error
// response itself when it cannot.
func (s *Server) campaignOr404(w http.ResponseWriter, r *http.Request) (store.CampaignSummary, bool) {
	id := chi.URLParam(r, "id")
	summary, ok, err := s.store.CampaignSummary(r.Context(), id)
	if err != nil {
		s.logger.Error("get campaign", "campaign", id, "error", err)
		http.Error(w, "unable to load campaign", http.StatusInternalServerError)
		return store.CampaignSummary{}, false
	}
	if !ok {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return store.CampaignSummary{}, false
	}
	return summary, true
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.campaignOr404(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.campaignOr404(w, r)
	if !ok {
		return
	}
	status := store.RecipientStatus(strings.ToLower(r.URL.Query().Get("status")))
	switch status {
	case "", store.StatusPending, store.StatusSent, store.StatusFailed:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	list, err := s.store.Recipients(r.Context(), summary.ID, status)
	if err != nil {
		s.logger.Error("list recipients", "campaign", summary.ID, "error", err)
		http.Error(w, "unable to list recipients", http.StatusInternalServerError)
		return
	}
	out := make([]recipientResponse, 0, len(list))
	for _, rec := range list {
		out = append(out, toRecipientResponse(rec))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.campaignOr404(w, r)
	if !ok {
		return
	}
	failed, err := s.store.FailedRecipients(r.Context(), summary.ID)
	if err != nil {
		s.logger.Error("list failed recipients", "campaign", summary.ID, "error", err)
		http.Error(w, "unable to list failed recipients", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusOK, failed)
}

func (s *Server) handleFailedCSV(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.campaignOr404(w, r)
	if !ok {
		return
	}
	failed, err := s.store.FailedRecipients(r.Context(), summary.ID)
	if err != nil {
		s.logger.Error("list failed recipients", "campaign", summary.ID, "error", err)
		http.Error(w, "unable to list failed recipients", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="failed_emails_%s.csv"`, summary.ID))
	if err := campaign.WriteFailedCSV(w, failed); err != nil {
		s.logger.Error("write failed csv", "campaign", summary.ID, "error", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.campaignOr404(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(summary.ID)
	defer unsubscribe()

	if frame, err := sse.Frame("ready", summary); err == nil {
		_, _ = w.Write(frame)
	}
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	plan, err := payload.Plan.WithDefaults()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := plan.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	table, err := payload.table()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.cfg.MaxRecipients > 0 && table.Len() > s.cfg.MaxRecipients {
		http.Error(w, fmt.Sprintf("too many recipients: %d exceeds %d", table.Len(), s.cfg.MaxRecipients), http.StatusRequestEntityTooLarge)
		return
	}
	prepared, job, err := s.runner.Start(r.Context(), plan, table)
	switch {
	case errors.Is(err, campaign.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, recipients.ErrColumnNotFound), errors.Is(err, campaign.ErrNoRecipients):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		s.logger.Error("prepare campaign", "error", err)
		http.Error(w, "unable to create campaign", http.StatusInternalServerError)
		return
	}

	s.background(job)
	s.respondJSON(w, http.StatusAccepted, createResponse{
		CampaignID: prepared.CampaignID,
		Recipients: len(prepared.Targets),
		Duplicates: prepared.Duplicates,
		Validation: prepared.Validation,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.campaignOr404(w, r)
	if !ok {
		return
	}
	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	plan, err := payload.Plan.WithDefaults()
	if err == nil {
		err = plan.Validate()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if summary.FailedCount == 0 {
		s.respondJSON(w, http.StatusOK, map[string]any{"campaign_id": summary.ID, "retrying": 0})
		return
	}
	job, err := s.runner.StartRetry(r.Context(), summary.ID, plan)
	switch {
	case errors.Is(err, campaign.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.logger.Error("load failed recipients", "campaign", summary.ID, "error", err)
		http.Error(w, "unable to retry campaign", http.StatusInternalServerError)
		return
	}
	if len(job.Targets) == 0 {
		job.Release()
		s.respondJSON(w, http.StatusOK, map[string]any{"campaign_id": summary.ID, "retrying": 0})
		return
	}
	s.background(job)
	s.respondJSON(w, http.StatusAccepted, map[string]any{"campaign_id": summary.ID, "retrying": len(job.Targets)})
}

func (s *Server) background(job *campaign.Job) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		report, err := job.Execute(s.baseCtx)
		if err != nil {
			s.logger.Error("campaign run failed", "campaign", job.CampaignID, "error", err)
			return
		}
		s.logger.Info("campaign run finished", "campaign", job.CampaignID, "sent", report.Sent, "failed", report.Failed)
	}()
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var payload previewRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	plan, err := payload.Plan.WithDefaults()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	table, err := payload.table()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mapping := plan.Mapping
	if len(mapping) == 0 {
		mapping = personalize.DefaultMapping(table.Columns)
	}
	count := payload.Count
	if count <= 0 {
		count = 3
	}
	compose := personalize.Compose{SenderName: plan.SenderName, Subject: plan.Subject, Message: plan.Message}
	s.respondJSON(w, http.StatusOK, previewResponse{
		TemplateValid: plan.Validate() == nil,
		Mapping:       mapping,
		MappingReport: personalize.ValidateMapping(table, mapping),
		Previews:      personalize.Previews(table, plan.Body, mapping, compose, count),
	})
}

func (s *Server) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.conn.TestConnection(ctx); err != nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": false, "message": fmt.Sprintf("SMTP connection failed: %v", err)})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "SMTP connection successful"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
