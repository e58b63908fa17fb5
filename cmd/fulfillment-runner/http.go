package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/visionvation/fulfillment/config"
	"github.com/visionvation/fulfillment/internal/models"
	"github.com/visionvation/fulfillment/internal/services/pipeline"
)

// statusReader is the ledger read path exposed to operators.
type statusReader interface {
	CurrentStatus(ctx context.Context, subjectID, subjectType string) (string, error)
	History(ctx context.Context, subjectID, subjectType string) ([]*models.StatusEvent, error)
}

type runnerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	pipeline *pipeline.Pipeline
	statuses statusReader
	cfg      *config.Config
}

type statusEventOut struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

func newRunnerRouter(opts runnerHTTPOpts) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.pipeline == nil {
			_, _ = w.Write([]byte(`{"error":"pipeline not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.pipeline.Stats())
	})

	r.Get("/orders/{orderID}/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.statuses == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"ledger not wired"}`))
			return
		}
		orderID := chi.URLParam(req, "orderID")

		status, err := opts.statuses.CurrentStatus(req.Context(), orderID, models.SubjectTypeOrder)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if status == "" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"order has no status history"}`))
			return
		}

		events, err := opts.statuses.History(req.Context(), orderID, models.SubjectTypeOrder)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		history := make([]statusEventOut, 0, len(events))
		for _, e := range events {
			out := statusEventOut{Status: e.Status, Timestamp: e.Timestamp}
			if e.Notes != nil {
				out.Notes = *e.Notes
			}
			history = append(history, out)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"orderId": orderID,
			"status":  status,
			"history": history,
		})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Operational settings only, no credentials.
		fc := opts.cfg.Fulfillment
		out := map[string]any{
			"schedulerIntervalMinutes":     fc.SchedulerIntervalMinutes,
			"acceptanceMaxAttempts":        fc.AcceptanceMaxAttempts,
			"acceptanceValidationPauseSec": fc.AcceptanceValidationPauseSec,
			"labelMaxAttempts":             fc.LabelMaxAttempts,
			"labelRetryPauseSec":           fc.LabelRetryPauseSec,
			"cancelSweepDays":              fc.CancelSweepDays,
			"cancelRateLimitPerMinute":     fc.CancelRateLimitPerMinute,
			"ingestStateCodes":             fc.IngestStateCodes,
			"carrierCode":                  fc.Carrier.Code,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.pipeline == nil {
			_, _ = w.Write([]byte(`{"error":"pipeline not wired"}`))
			return
		}
		opts.pipeline.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	return r
}

func runRunnerHTTPServer(ctx context.Context, opts runnerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8084"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newRunnerRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
