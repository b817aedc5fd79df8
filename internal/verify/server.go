// Copyright Contributors to the Sykli project

package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/yairfalse/sykli/internal/logging"
	"github.com/yairfalse/sykli/internal/target"
)

// Server is the peer-side HTTP endpoint a Coordinator dispatches
// single-task verification runs to.
type Server struct {
	Driver       target.Driver
	WorkspaceDir string

	httpServer *http.Server
}

// NewServer returns a Server that executes dispatched tasks with drv,
// materializing shipped artifacts under workspaceDir.
func NewServer(drv target.Driver, workspaceDir string) *Server {
	return &Server{Driver: drv, WorkspaceDir: workspaceDir}
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	router := s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(120 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/v1/verify/tasks", func(r chi.Router) {
		r.Post("/{name}", s.handleRunTask)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	name := chi.URLParam(r, "name")

	var req RunTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Task.Name != name {
		http.Error(w, "task name mismatch between path and body", http.StatusBadRequest)
		return
	}

	if err := s.materializeArtifacts(req.Artifacts); err != nil {
		http.Error(w, fmt.Sprintf("materialize artifacts: %v", err), http.StatusInternalServerError)
		return
	}

	start := time.Now()
	resp := s.execute(r.Context(), req, start)
	log.V(1).Info("verify server ran task", "task", name, "status", resp.Status)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) execute(ctx context.Context, req RunTaskRequest, start time.Time) RunTaskResponse {
	task := req.Task
	spec := target.Spec{
		TaskName:    task.Name,
		Command:     task.Command,
		Image:       task.Container,
		Workdir:     task.Workdir,
		Env:         req.Env,
		TimeoutSecs: task.TimeoutSecs,
		K8s:         task.K8s,
		K8sRaw:      task.K8sRaw,
	}

	result, err := s.Driver.Execute(ctx, spec)
	dur := time.Since(start).Milliseconds()
	if err != nil {
		return RunTaskResponse{TaskName: task.Name, Status: "failed", Reason: err.Error(), DurationMS: dur}
	}
	if result.ExitCode != 0 {
		return RunTaskResponse{
			TaskName: task.Name, Status: "failed", Reason: "exec_failure",
			ExitCode: result.ExitCode, DurationMS: dur, Stdout: result.Stdout, Stderr: result.Stderr,
		}
	}
	return RunTaskResponse{
		TaskName: task.Name, Status: "success", ExitCode: result.ExitCode,
		DurationMS: dur, Stdout: result.Stdout, Stderr: result.Stderr,
	}
}

func (s *Server) materializeArtifacts(artifacts map[string][]byte) error {
	for relPath, content := range artifacts {
		dst := filepath.Join(s.WorkspaceDir, relPath)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return err
		}
	}
	return nil
}
