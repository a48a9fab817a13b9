package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudacm/acm/internal/config"
	"github.com/cloudacm/acm/internal/db"
	"github.com/cloudacm/acm/internal/metrics"
	"github.com/cloudacm/acm/internal/object"
	"github.com/cloudacm/acm/internal/permissionset"
	"github.com/cloudacm/acm/internal/subject"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server wires the ACM engine behind its HTTP surface.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	db         *sql.DB
	subjects   subject.Manager
	sets       permissionset.Manager
	objects    object.Manager
	metrics    *metrics.Metrics
	system     *metrics.SystemTracker
}

// New creates an ACM server, opening the store and wiring the managers.
func New(cfg *config.Config) (*Server, error) {
	sqlDB, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	subjects := subject.NewManager(sqlDB)
	sets := permissionset.NewManager(sqlDB)
	objects := object.NewManager(sqlDB, subjects.Resolver(), sets.Catalog())

	s := &Server{
		config:   cfg,
		db:       sqlDB,
		subjects: subjects,
		sets:     sets,
		objects:  objects,
		metrics:  metrics.New(),
		system:   metrics.NewSystemTracker(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	router := s.routes()

	cors := handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)

	return handlers.RecoveryHandler(handlers.RecoveryLogger(logrus.StandardLogger()))(cors(router))
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logging)

	// Public endpoints: everything else requires basic auth.
	router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/").Subrouter()
	api.Use(s.basicAuth)

	api.HandleFunc("/objects", s.handleCreateObject).Methods(http.MethodPost)
	api.HandleFunc("/objects/{id}", s.handleReadObject).Methods(http.MethodGet)
	api.HandleFunc("/objects/{id}", s.handleUpdateObject).Methods(http.MethodPut)
	api.HandleFunc("/objects/{id}", s.handleDeleteObject).Methods(http.MethodDelete)
	api.HandleFunc("/objects/{id}/acl", s.handleAddSubjects).Methods(http.MethodPut)
	api.HandleFunc("/objects/{id}/acl", s.handleRemoveSubjects).Methods(http.MethodDelete)
	api.HandleFunc("/objects/{id}/users", s.handleUsersForObject).Methods(http.MethodGet)

	api.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", s.handleDeleteUser).Methods(http.MethodDelete)
	api.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}", s.handleGetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}", s.handleDeleteGroup).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{id}/members", s.handleListMembers).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/members/{uid}", s.handleAddMember).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/members/{uid}", s.handleRemoveMember).Methods(http.MethodDelete)

	api.HandleFunc("/permission_sets", s.handleCreatePermissionSet).Methods(http.MethodPost)
	api.HandleFunc("/permission_sets", s.handleListPermissionSets).Methods(http.MethodGet)
	api.HandleFunc("/permission_sets/{name}", s.handleGetPermissionSet).Methods(http.MethodGet)
	api.HandleFunc("/permission_sets/{name}", s.handleDeletePermissionSet).Methods(http.MethodDelete)

	return router
}

// Start runs the server until ctx is cancelled, then shuts down cleanly.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logrus.WithField("listen", s.config.Listen).Info("ACM API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.db.Close()
		return err
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down ACM server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown failed")
	}

	return s.db.Close()
}

// Close releases the server's resources without serving. Used by tests
// that exercise the handler directly.
func (s *Server) Close() error {
	return s.db.Close()
}
