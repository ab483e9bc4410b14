package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"clickup-metrics/clickup"
	"clickup-metrics/config"
	"clickup-metrics/metrics"
	"clickup-metrics/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TreeFetcher resolves a full task tree. *fetcher.Fetcher implements it.
type TreeFetcher interface {
	FetchTree(ctx context.Context, req clickup.TaskRequest) (*clickup.Task, error)
}

// Server handles HTTP requests
type Server struct {
	Router *chi.Mux
	config config.Config
	trees  TreeFetcher
	logger *slog.Logger
}

// NewServer creates a new web server
func NewServer(cfg config.Config, trees TreeFetcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{config: cfg, trees: trees, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute)) // deep trees take a while

	r.Get("/health", s.healthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks/{taskID}/report", s.getTaskReport)
	})

	s.Router = r
}

// healthCheck returns server health status
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "clickup-metrics-api",
	})
}

// getTaskReport fetches the tree below taskID and returns its metrics.
//
// Query parameters: policy, remove_weekends, weekend_mode, use_custom_id,
// workspace_id and format (json or text). Unset parameters fall back to the
// server configuration.
func (s *Server) getTaskReport(w http.ResponseWriter, r *http.Request) {
	req, opts, format, err := s.parseReportRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := s.logger.With("request_id", middleware.GetReqID(r.Context()), "task_id", req.TaskID)

	tree, err := s.trees.FetchTree(r.Context(), req)
	if err != nil {
		msg, actionable := clickup.UserMessage(err)
		status := http.StatusBadGateway
		if actionable {
			status = http.StatusUnprocessableEntity
		}
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		log.Error("fetching task tree", "error", err, "status", status)
		writeError(w, status, msg)
		return
	}

	root := metrics.Build(tree, opts)
	rendered := report.Render(root)

	if format == report.FormatText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, rendered)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"data":      root,
		"report":    rendered,
		"stats":     metrics.Summarize(root),
		"policy":    opts.Policy,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) parseReportRequest(r *http.Request) (clickup.TaskRequest, metrics.Options, report.Format, error) {
	q := r.URL.Query()
	opts := s.config.MetricsOptions()
	req := clickup.TaskRequest{TaskID: chi.URLParam(r, "taskID")}

	if v := q.Get("policy"); v != "" {
		policy, err := metrics.ParsePolicy(v)
		if err != nil {
			return req, opts, "", err
		}
		opts.Policy = policy
	}
	if v := q.Get("remove_weekends"); v != "" {
		remove, err := strconv.ParseBool(v)
		if err != nil {
			return req, opts, "", fmt.Errorf("invalid remove_weekends %q", v)
		}
		opts.ExcludeWeekends = remove
	}
	if v := q.Get("weekend_mode"); v != "" {
		mode, err := metrics.ParseWeekendMode(v)
		if err != nil {
			return req, opts, "", err
		}
		opts.WeekendMode = mode
	}

	// A workspace is only sent for custom ids; ClickUp rejects it otherwise.
	if v := q.Get("use_custom_id"); v != "" {
		useCustomID, err := strconv.ParseBool(v)
		if err != nil {
			return req, opts, "", fmt.Errorf("invalid use_custom_id %q", v)
		}
		if useCustomID {
			req.WorkspaceID = q.Get("workspace_id")
			if req.WorkspaceID == "" {
				req.WorkspaceID = s.config.WorkspaceID
			}
		}
	}

	format := report.FormatJSON
	if v := q.Get("format"); v != "" {
		f, err := report.ParseFormat(v)
		if err != nil {
			return req, opts, "", err
		}
		if f != report.FormatJSON && f != report.FormatText {
			return req, opts, "", fmt.Errorf("format %q is not served over HTTP", v)
		}
		format = f
	}

	return req, opts, format, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"status":    "error",
		"error":     msg,
		"timestamp": time.Now().UTC(),
	})
}

// Start serves the API on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting ClickUp metrics API server", "port", port)
	s.logger.Info("available endpoints",
		"health", "GET /health",
		"report", "GET /api/tasks/{taskID}/report")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}
