package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/warren/internal/api/handlers"
	"github.com/eargollo/warren/internal/config"
	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
	"github.com/eargollo/warren/internal/scan"
	"github.com/eargollo/warren/internal/scheduler"
	"github.com/eargollo/warren/internal/session"
	"github.com/eargollo/warren/internal/trash"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// Deps bundles everything the handlers need.
type Deps struct {
	Cfg      *config.Config
	Store    *db.Store
	Engine   *engine.Engine
	Scans    *scan.Manager
	Sessions *session.Manager
	Sched    *scheduler.Scheduler
	Maint    *scheduler.Maintenance
	Lib      *library.Library
	Trash    *trash.Manager
	Hub      *Hub
	Version  string
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{
		Store: d.Store, Engine: d.Engine, Scans: d.Scans,
		Sessions: d.Sessions, Sched: d.Sched, Version: d.Version,
	}
	scansH := &handlers.ScansHandler{Store: d.Store, Manager: d.Scans}
	sessionsH := &handlers.SessionsHandler{Sessions: d.Sessions}
	tasksH := &handlers.TasksHandler{Engine: d.Engine}
	filesH := &handlers.FilesHandler{Store: d.Store}
	maintH := &handlers.MaintenanceHandler{Maint: d.Maint}
	trashH := &handlers.TrashHandler{Trash: d.Trash, Lib: d.Lib, Store: d.Store}
	eventsH := &eventsHandler{hub: d.Hub}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Post("/scans/cancel", scansH.Cancel)
		r.Post("/scans/demote", scansH.Demote)
		r.Get("/jobs", scansH.Jobs)

		r.Post("/sessions", sessionsH.Open)
		r.Delete("/sessions/{id}", sessionsH.Close)
		r.Post("/sessions/{id}/viewport", sessionsH.Viewport)
		r.Post("/sessions/{id}/loaded", sessionsH.Loaded)
		r.Post("/sessions/{id}/fullres", sessionsH.Fullres)

		r.Get("/tasks", tasksH.List)
		r.Post("/tasks/cancel", tasksH.Cancel)

		r.Get("/files", filesH.Info)
		r.Get("/files/thumbnail", filesH.Thumbnail)
		r.Get("/files/preview", filesH.Preview)
		r.Post("/files/trash", trashH.Discard)

		r.Get("/trash", trashH.List)
		r.Post("/trash/restore", trashH.Restore)
		r.Post("/trash/purge", trashH.Purge)

		r.Post("/maintenance", maintH.Trigger)

		r.Get("/events", eventsH.ServeHTTP)
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
