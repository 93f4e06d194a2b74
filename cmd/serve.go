package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/forecast"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/monitoring"
	"github.com/sells-group/pumpcast/internal/pipeline"
	"github.com/sells-group/pumpcast/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history, freshness and metrics over HTTP",
	Long:  "Starts the status server. POST /refresh rebuilds Gold from the current Silver tables in the background.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, initOpts{Publish: true})
		if err != nil {
			return err
		}
		defer env.Close()

		go newChecker(env).Run(ctx)

		srv := &statusServer{
			ctx:          ctx,
			runs:         env.Runs,
			health:       env.Health,
			metrics:      env.Metrics,
			forecastPath: cfg.Data.ForecastPath(),
			refresh: func(ctx context.Context) (*model.Run, error) {
				return env.Orchestrator.RunGoldOnly(ctx, pipeline.RunOpts{})
			},
		}
		return startServer(ctx, srv.routes(), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newChecker wires the background freshness and failure-rate checker.
func newChecker(env *pipelineEnv) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(env.Runs),
		env.Health,
		monitoring.NewAlerter(cfg.Health),
		env.Metrics,
		cfg.Health,
	)
}

// statusServer serves the read-only status API and the refresh trigger.
type statusServer struct {
	// ctx outlives requests; background refreshes run under it.
	ctx          context.Context
	runs         store.Store
	health       *monitoring.HealthChecker
	metrics      *monitoring.Metrics
	forecastPath string
	refresh      func(ctx context.Context) (*model.Run, error)

	refreshing atomic.Bool
}

func (s *statusServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/healthz/freshness", s.handleFreshness)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/forecast", s.handleForecast)
	r.Post("/refresh", s.handleRefresh)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

func (s *statusServer) handleFreshness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, r, http.StatusServiceUnavailable, "health checker not configured")
		return
	}
	report, err := s.health.Check(r.Context())
	if err != nil {
		zap.L().Error("serve: freshness check failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "freshness check failed")
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveHealth(report)
	}
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, report)
}

func (s *statusServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "run log not configured")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Mode:   model.RunMode(q.Get("mode")),
		Limit:  50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, 1000)
	}

	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list runs failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, r, http.StatusOK, runs)
}

func (s *statusServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "run log not configured")
		return
	}
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, r, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("serve: get run failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "get run failed")
		return
	}
	phases, err := s.runs.ListPhases(r.Context(), run.ID)
	if err != nil {
		zap.L().Error("serve: list phases failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "list phases failed")
		return
	}
	writeJSON(w, r, http.StatusOK, struct {
		*model.Run
		Phases []model.RunPhase `json:"phases"`
	}{run, phases})
}

func (s *statusServer) handleForecast(w http.ResponseWriter, r *http.Request) {
	f, err := forecast.Read(s.forecastPath)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, r, http.StatusNotFound, "no forecast published")
		return
	}
	if err != nil {
		zap.L().Error("serve: read forecast failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "forecast unreadable")
		return
	}
	writeJSON(w, r, http.StatusOK, f)
}

// handleRefresh starts a Gold-only run in the background.
func (s *statusServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, r, http.StatusServiceUnavailable, "refresh not configured")
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		writeError(w, r, http.StatusConflict, pipeline.ErrBusy.Error())
		return
	}

	go func() {
		defer s.refreshing.Store(false)
		run, err := s.refresh(s.ctx)
		if errors.Is(err, pipeline.ErrBusy) {
			zap.L().Warn("serve: refresh skipped, a run is in progress")
			return
		}
		if err != nil {
			zap.L().Error("serve: refresh failed", zap.Error(err))
			return
		}
		zap.L().Info("serve: refresh complete",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
	}()

	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is cancelled, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}
