package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/export"
	"github.com/sells-group/leadgen/internal/leadgen"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

var (
	servePort     int
	serveNoWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job API, with an in-process worker by default",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		mode := "run"
		if serveNoWorker {
			mode = "serve"
		}
		env, err := initApp(ctx, mode, !serveNoWorker)
		if err != nil {
			return err
		}
		defer env.Close()

		errc := make(chan error, 1)
		if !serveNoWorker {
			go func() { errc <- newWorker(env.Controller).Run(ctx) }()
		} else {
			close(errc)
		}

		handler := buildRouter(env.Controller, cfg.Server.CORSOrigins)
		if err := startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port)); err != nil {
			stop()
			<-errc
			return err
		}
		return <-errc
	},
}

func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// buildRouter mounts the job API.
func buildRouter(ctrl *leadgen.Controller, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := &jobHandlers{ctrl: ctrl}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", h.create)
		r.Get("/jobs", h.list)
		r.Get("/jobs/{id}", h.status)
		r.Post("/jobs/{id}/cancel", h.cancel)
		r.Get("/jobs/{id}/leads", h.leads)
		r.Get("/jobs/{id}/leads.xlsx", h.exportXLSX)
		r.Post("/pools/{id}/jobs", h.queue)
	})
	return r
}

type jobHandlers struct {
	ctrl *leadgen.Controller
}

func (h *jobHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req leadgen.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	poolID, jobID, err := h.ctrl.CreateJob(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pool_id": poolID, "job_id": jobID})
}

func (h *jobHandlers) queue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Providers []string `json:"providers"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	var set model.ProviderSet
	for _, name := range body.Providers {
		kind, err := model.ParseProviderKind(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		set = set.With(kind)
	}
	jobID, err := h.ctrl.QueueJob(r.Context(), chi.URLParam(r, "id"), set)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pool_id": chi.URLParam(r, "id"), "job_id": jobID})
}

func (h *jobHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	filter, err := jobFilter(q.Get("status"), q.Get("pool_id"), limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := h.ctrl.List(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *jobHandlers) status(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctrl.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *jobHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ctrl.Cancel(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	job, err := h.ctrl.Status(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *jobHandlers) leads(w http.ResponseWriter, r *http.Request) {
	companies, contacts, err := h.ctrl.Leads(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if companies == nil {
		companies = []model.CandidateCompany{}
	}
	if contacts == nil {
		contacts = []model.CandidateContact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": companies, "contacts": contacts})
}

func (h *jobHandlers) exportXLSX(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	companies, contacts, err := h.ctrl.Leads(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "leads-"+id+".xlsx"))
	if err := export.WriteXLSX(w, companies, contacts, export.Options{}); err != nil {
		zap.L().Error("export failed", zap.String("job_id", id), zap.Error(err))
	}
}

// writeErr maps controller errors to HTTP responses.
func writeErr(w http.ResponseWriter, err error) {
	var verr *leadgen.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request", "fields": verr.Fields})
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case eris.Is(err, leadgen.ErrLeadsUnsupported):
		writeError(w, http.StatusNotImplemented, "store does not persist leads")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "serve the API only; leave queued jobs to separate workers")
	rootCmd.AddCommand(serveCmd)
}
