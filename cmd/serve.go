package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxbill-cli/internal/engine"
	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/monitoring"
	"github.com/sells-group/taxbill-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run reports, source states, and Prometheus metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(env.Metrics.Registry, promhttp.HandlerOpts{}))

		r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
			runs, err := env.Store.ListRuns(req.Context(), store.RunFilter{
				Status: model.RunStatus(req.URL.Query().Get("status")),
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/api/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		r.Get("/api/runs/{id}/results", func(w http.ResponseWriter, req *http.Request) {
			results, err := env.Store.ListResults(req.Context(), chi.URLParam(req, "id"), store.ResultFilter{
				Status:    model.ResultStatus(req.URL.Query().Get("status")),
				SourceKey: req.URL.Query().Get("source"),
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, results)
		})

		r.Get("/api/report/latest", func(w http.ResponseWriter, req *http.Request) {
			runs, err := env.Store.ListRuns(req.Context(), store.RunFilter{
				Status: model.RunStatusComplete,
				Limit:  1,
			})
			if err != nil {
				writeError(w, err)
				return
			}
			if len(runs) == 0 || runs[0].Report == nil {
				http.Error(w, `{"error":"no completed runs"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, runs[0].Report)
		})

		collector := monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.LookbackWindowHours)*time.Hour)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
			snap, err := collector.Collect(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Get("/api/sources", func(w http.ResponseWriter, _ *http.Request) {
			states := env.Breakers.States()
			out := make(map[string]string, len(states))
			for key, st := range states {
				out[key] = st.String()
			}
			writeJSON(w, http.StatusOK, out)
		})

		// One-off extraction of a single item, processed asynchronously
		// through the same pipeline as batch runs.
		r.Post("/api/extract", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				ID            string `json:"id"`
				URL           string `json:"url"`
				AccountNumber string `json:"account_number"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
			if body.URL == "" {
				http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
				return
			}

			item := model.WorkItem{
				ID:        body.ID,
				SourceURL: body.URL,
			}
			item.Hints.AccountNumber = body.AccountNumber

			go func() {
				outcome, err := env.Engine.Run(ctx, []model.WorkItem{item}, engine.RunOptions{Label: "api"})
				if err != nil {
					zap.L().Error("api extraction failed", zap.String("url", body.URL), zap.Error(err))
					return
				}
				zap.L().Info("api extraction complete",
					zap.String("url", body.URL),
					zap.String("run_id", outcome.RunID),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "accepted",
				"url":    body.URL,
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("api error", zap.Error(err))
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
