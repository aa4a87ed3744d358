package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/auth"
	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/database"
	"github.com/queryportal/queryportal/internal/executor"
	"github.com/queryportal/queryportal/internal/notification"
	"github.com/queryportal/queryportal/internal/pool"
	"github.com/queryportal/queryportal/internal/web/handlers"
	"github.com/queryportal/queryportal/internal/web/middleware"
	"github.com/queryportal/queryportal/internal/web/stream"
	"github.com/queryportal/queryportal/internal/workflow"
)

// Server represents the web server
type Server struct {
	db              *database.DB
	port            int
	bind            string
	allowedNet      *net.IPNet
	router          *chi.Mux
	authService     *auth.Service
	streamBroker    *stream.Broker
	workflowMgr     *workflow.Manager
	orchestrator    *executor.Orchestrator
	notificationMgr *notification.Manager
	handlers        *handlers.Handlers
}

// NewServer creates a new web server
func NewServer(db *database.DB, instances *config.Store, workflowMgr *workflow.Manager, orch *executor.Orchestrator, pools *pool.Manager, port int, bind string, allowedNet *net.IPNet, isDev bool) *Server {
	s := &Server{
		db:           db,
		port:         port,
		bind:         bind,
		allowedNet:   allowedNet,
		router:       chi.NewRouter(),
		authService:  auth.NewService(db),
		streamBroker: stream.NewBroker(),
		workflowMgr:  workflowMgr,
		orchestrator: orch,
	}

	// Live script output flows through the broker to WebSocket subscribers.
	orch.SetOutputPublisher(s.streamBroker)

	s.handlers = handlers.New(db, instances, s.authService, workflowMgr, orch, pools, isDev)
	s.handlers.SetStreamBroker(s.streamBroker)
	s.setupRoutes()

	return s
}

// StreamBroker returns the output stream broker
func (s *Server) StreamBroker() *stream.Broker {
	return s.streamBroker
}

// SetNotificationManager sets the notification manager and updates handlers
func (s *Server) SetNotificationManager(mgr *notification.Manager) {
	s.notificationMgr = mgr
	s.handlers.SetNotificationManager(mgr)
}

// SetLogFile records the active log file for settings re-apply
func (s *Server) SetLogFile(path string) {
	s.handlers.SetLogFile(path)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router
	h := s.handlers

	// Global middleware (applied to all routes, except timeout which is per-group)
	r.Use(chimiddleware.RequestID)
	// AllowSubnet must come BEFORE RealIP so we check the actual connection source
	r.Use(middleware.AllowSubnet(s.allowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))
		r.Get("/api/health", h.Health)
		r.Post("/api/setup", h.Setup)
		r.Post("/api/login", h.Login)
		r.Post("/api/logout", h.Logout)
	})

	// Output streaming - no timeout (long-lived WebSocket connections)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.authService))
		r.Get("/api/requests/{id}/stream", h.RequestStream)
	})

	// Authenticated API
	r.Group(func(r chi.Router) {
		// Query and script execution can legitimately run for a minute;
		// the orchestrator enforces its own tighter deadlines.
		r.Use(chimiddleware.Timeout(2 * time.Minute))
		r.Use(middleware.Auth(s.authService))

		r.Get("/api/me", h.Me)
		r.Post("/api/me/password", h.ChangePassword)
		r.Post("/api/me/keys", h.APIKeyCreate)
		r.Delete("/api/me/keys/{id}", h.APIKeyDelete)

		r.Get("/api/instances", h.InstanceList)
		r.Post("/api/instances/{id}/test", h.InstanceTest)
		r.Get("/api/pool/stats", h.PoolStats)

		r.Route("/api/requests", func(r chi.Router) {
			r.Post("/", h.RequestCreate)
			r.Get("/", h.RequestList)
			r.Get("/{id}", h.RequestGet)
			r.Get("/{id}/events", h.RequestEvents)

			// Review and execution need the approver role
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireReviewer)
				r.Post("/{id}/approve", h.RequestApprove)
				r.Post("/{id}/reject", h.RequestReject)
				r.Post("/{id}/execute", h.RequestExecute)
			})
		})

		// Admin-only management
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/api/users", h.UserCreate)
			r.Post("/api/pool/release", h.PoolRelease)
			r.Get("/api/settings", h.SettingsGet)
			r.Put("/api/settings", h.SettingsUpdate)
			r.Post("/api/notifications/{provider}/test", h.NotificationTest)
		})
	})
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.bind != "" {
		addr = fmt.Sprintf("%s:%d", s.bind, s.port)
	} else {
		addr = fmt.Sprintf(":%d", s.port)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow WebSocket long-lived connections
		// Chi middleware timeout protects regular requests
		WriteTimeout: 0,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
