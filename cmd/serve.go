package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/monitoring"
	"github.com/sells-group/sales-agent/internal/store"
)

var (
	servePort          int
	serveSweepInterval time.Duration
	serveLearnInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAgent(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, cfg.Orchestrator.StaleDeferredAge())

		// Background health checks.
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		// Background maintenance sweep.
		go runSweepLoop(ctx, env)

		// Background learning cycles.
		go runLearnLoop(ctx, env)

		r := newRouter(env, collector)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// runSweepLoop re-drives deferred leads and pulls CRM outcomes on a fixed
// interval. lastSync advances only after a successful sweep so no outcome
// window is skipped.
func runSweepLoop(ctx context.Context, env *agentEnv) {
	lastSync := time.Now().AddDate(0, 0, -cfg.Salesforce.OutcomeDays)
	ticker := time.NewTicker(serveSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := time.Now()
			if _, err := env.Orchestrator.Sweep(ctx, lastSync); err != nil {
				zap.L().Error("background sweep failed", zap.Error(err))
				continue
			}
			lastSync = started
		}
	}
}

// runLearnLoop periodically evaluates outcomes that no completed cycle has
// consumed yet. Listing from the store makes cycles durable across restarts;
// Ingest drops duplicates already queued by live outcome recording.
func runLearnLoop(ctx context.Context, env *agentEnv) {
	ticker := time.NewTicker(serveLearnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcomes, err := env.Store.ListUnevaluatedOutcomes(ctx, time.Time{})
			if err != nil {
				zap.L().Error("listing outcomes for learning failed", zap.Error(err))
				continue
			}
			for _, o := range outcomes {
				if err := env.Learning.Ingest(o); err != nil {
					zap.L().Warn("skipping outcome",
						zap.String("outcome_id", o.ID),
						zap.Error(err),
					)
				}
			}
			suggestions, err := env.Learning.RunCycle(ctx)
			if err != nil {
				zap.L().Error("background learning cycle failed", zap.Error(err))
				continue
			}
			if len(suggestions) > 0 {
				zap.L().Info("background learning cycle finished",
					zap.Int("suggestions", len(suggestions)),
				)
			}
		}
	}
}

func newRouter(env *agentEnv, collector *monitoring.Collector) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		snap, err := collector.Collect(req.Context(), cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/leads", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			CompanyName string         `json:"company_name"`
			Domain      string         `json:"domain"`
			Attributes  map[string]any `json:"attributes"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if body.CompanyName == "" {
			writeError(w, http.StatusBadRequest, eris.New("company_name is required"))
			return
		}

		lead := &model.Lead{
			CompanyName:   body.CompanyName,
			Domain:        body.Domain,
			RawAttributes: body.Attributes,
		}
		if err := env.Orchestrator.Admit(req.Context(), lead); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		// Drive the lead in the background; admission must not block on
		// enrichment or scoring.
		go func() {
			if _, err := env.Orchestrator.Process(context.Background(), lead.ID); err != nil {
				zap.L().Error("lead processing failed",
					zap.String("lead_id", lead.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"lead_id": lead.ID})
	})

	r.Get("/leads/{id}", func(w http.ResponseWriter, req *http.Request) {
		lead, err := env.Store.GetLead(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	})

	r.Post("/leads/{id}/enrichment", func(w http.ResponseWriter, req *http.Request) {
		var attrs map[string]any
		if err := json.NewDecoder(req.Body).Decode(&attrs); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		lead, err := env.Orchestrator.AddEnrichment(req.Context(), chi.URLParam(req, "id"), attrs)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	})

	r.Get("/profile", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.Profiles.Current())
	})

	r.Get("/profile/versions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.Profiles.History())
	})

	r.Get("/suggestions", func(w http.ResponseWriter, req *http.Request) {
		status := model.SuggestionStatus(req.URL.Query().Get("status"))
		if status == "" {
			status = model.SuggestionProposed
		}
		suggestions, err := env.Store.ListSuggestions(req.Context(), status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, suggestions)
	})

	r.Post("/suggestions/{id}/commit", func(w http.ResponseWriter, req *http.Request) {
		profile, err := applySuggestion(req.Context(), env.Store, env.Profiles, chi.URLParam(req, "id"))
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, err)
			case errors.Is(err, errSuggestionNotProposed):
				writeError(w, http.StatusConflict, err)
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveSweepInterval, "sweep-interval", 15*time.Minute, "background sweep interval")
	serveCmd.Flags().DurationVar(&serveLearnInterval, "learn-interval", time.Hour, "background learning cycle interval")
	rootCmd.AddCommand(serveCmd)
}
