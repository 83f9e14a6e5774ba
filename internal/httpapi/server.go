// Package httpapi serves the administrative HTTP surface of the migrator.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mirajehossain/datamigratex/internal/logger"
	"github.com/mirajehossain/datamigratex/internal/metrics"
	"github.com/mirajehossain/datamigratex/internal/migrator"
)

// Handler exposes a Runner over HTTP.
type Handler struct {
	runner  *migrator.Runner
	metrics *metrics.Collector
	log     *logger.Logger
	origins []string
}

// NewHandler creates a handler. A nil collector disables /metrics.
func NewHandler(runner *migrator.Runner, collector *metrics.Collector, log *logger.Logger, corsOrigins []string) *Handler {
	return &Handler{runner: runner, metrics: collector, log: log, origins: corsOrigins}
}

// Routes builds the router wrapped in CORS handling.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/migrations", func(r chi.Router) {
		r.Get("/", h.listDefinitions)
		r.Get("/plan", h.plan)
		r.Get("/applied", h.listApplied)
		r.Get("/version", h.currentVersion)
		r.Get("/prerequisites", h.checkPrerequisites)
		r.Post("/run", h.runPending)
		r.Post("/{id}/run", h.runOne)
	})

	origins := h.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	})
	return c.Handler(r)
}

func (h *Handler) listDefinitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Definitions())
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.runner.Plan(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) listApplied(w http.ResponseWriter, r *http.Request) {
	records, err := h.runner.Registry().ListApplied(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) currentVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.runner.Registry().CurrentVersion(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": v})
}

func (h *Handler) checkPrerequisites(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, raw := range r.URL.Query()["ids"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("ids query parameter is required"))
		return
	}
	check, err := h.runner.Registry().CheckPrerequisites(r.Context(), ids)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// runPending answers 200 even when a migration failed; the body says so.
// Runs are detached from the request so a dropped client cannot abort a body.
func (h *Handler) runPending(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.RunPending(context.WithoutCancel(r.Context()))
	if err != nil {
		h.log.Error("http.run_pending", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) runOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.runner.RunOne(context.WithoutCancel(r.Context()), id)
	switch {
	case errors.Is(err, migrator.ErrUnknownMigration):
		writeJSON(w, http.StatusNotFound, res)
	case err != nil:
		h.log.Error("http.run_one", map[string]any{"migration_id": id, "error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("http.request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Error("http.error", map[string]any{"error": err.Error()})
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Serve runs the admin server until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute, // bulk runs can be slow
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http.listen", map[string]any{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
