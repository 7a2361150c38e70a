package http

// this is entry point of the http request handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	auth2 "gitlab.com/encodefarm.net/internal/core/services/auth"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
	"gitlab.com/encodefarm.net/internal/core/services/job"
	"gitlab.com/encodefarm.net/internal/handlers"
	"gitlab.com/encodefarm.net/internal/handlers/auth"
	"gitlab.com/encodefarm.net/internal/handlers/jobs"
	"gitlab.com/encodefarm.net/internal/handlers/nodes"
)

type ServiceProvider struct {
	coordinator coordinator.IMasterCoordinator
	jobService  job.IJobService
	localAuth   auth2.IAuthService
	jwtService  primary.JWTService
}

func NewServiceProvider(
	coord coordinator.IMasterCoordinator,
	jobService job.IJobService,
	localAuth auth2.IAuthService,
	jwtService primary.JWTService,
) *ServiceProvider {
	return &ServiceProvider{
		coordinator: coord,
		jobService:  jobService,
		localAuth:   localAuth,
		jwtService:  jwtService,
	}
}

type Server struct {
	router          *mux.Router
	Port            int
	ServiceName     string
	ServiceProvider ServiceProvider
	logger          primary.Logger
	srv             *http.Server
}

func NewServer(port int, serviceName string, serviceProvider ServiceProvider, logger primary.Logger) *Server {
	return &Server{
		Port:            port,
		ServiceName:     serviceName,
		ServiceProvider: serviceProvider,
		logger:          logger,
	}
}

func (s *Server) Init() error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handlers.ResponseWithJson(w, http.StatusOK, map[string]string{"service": s.ServiceName, "status": "ok"})
	}).Methods("GET")
	auth.NewHandler(s.ServiceProvider.localAuth, s.logger).RegisterRoutes(r)

	api := r.NewRoute().Subrouter()
	api.Use(handlers.New(s.ServiceProvider.jwtService).JWTMiddleware)
	nodes.NewHandler(s.ServiceProvider.coordinator, s.logger).Register(api)
	jobs.NewJobHandler(s.ServiceProvider.jobService, s.logger).RegisterRoutes(api)

	s.router = r
	return nil
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background; errs receives a listen failure
func (s *Server) Start(ctx context.Context, errs chan<- error) {
	// Set up server
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	// Start the server in a goroutine
	go func() {
		s.logger.Info("Server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", "error", err)
			errs <- err
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down http server...")
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
