package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/devrenanferrari/genesis/backend"
	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/deploy"
	"github.com/devrenanferrari/genesis/fs"
	"github.com/devrenanferrari/genesis/llm"
	"github.com/devrenanferrari/genesis/logger"
	"github.com/devrenanferrari/genesis/vcs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Options are the collaborators of a Server. Git and Deployer are optional;
// leave them nil to skip those materializations.
type Options struct {
	Config    config.ServerConfig
	ChatModel string
	LLM       llm.Client
	Backend   backend.Backend
	FS        *fs.FileSystem
	Engine    *core.Engine
	Git       vcs.Pusher
	Deployer  deploy.Deployer
	Logger    logger.Logger
}

type Server struct {
	cfg       config.ServerConfig
	chatModel string
	llm       llm.Client
	backend   backend.Backend
	fs        *fs.FileSystem
	engine    *core.Engine
	git       vcs.Pusher
	deployer  deploy.Deployer
	logger    logger.Logger
	router    chi.Router
}

func New(opts Options) (*Server, error) {
	if opts.LLM == nil || opts.Backend == nil || opts.FS == nil || opts.Engine == nil {
		return nil, errors.New("server needs an llm client, a backend, a file system and an engine")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}
	s := &Server{
		cfg:       opts.Config,
		chatModel: opts.ChatModel,
		llm:       opts.LLM,
		backend:   opts.Backend,
		fs:        opts.FS,
		engine:    opts.Engine,
		git:       opts.Git,
		deployer:  opts.Deployer,
		logger:    opts.Logger.WithField("component", "server"),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(limitBody(s.cfg.MaxBodyBytes))

	r.Get("/healthz", s.handleHealth)

	r.Post("/generate", s.handleGenerate)
	r.Post("/generate_project", s.handleGenerateProject)
	r.Post("/create_project_files", s.handleCreateProjectFiles)
	r.Post("/deploy_project", s.handleDeployProject)

	r.Post("/auth/signup", s.handleSignUp)
	r.Post("/auth/login", s.handleLogin)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/send", s.handleChatSend)
		r.Get("/sessions", s.handleChatSessions)
		r.Get("/history/{sessionID}", s.handleChatHistory)
		r.Delete("/history/{sessionID}", s.handleChatDelete)
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Get("/{userID}/{project}", s.handleGetProject)
		r.Get("/{userID}/{project}/download", s.handleDownloadProject)
	})

	s.router = r
}

// sinks lists every materialization target configured for project commits.
func (s *Server) sinks() []core.Sink {
	sinks := []core.Sink{core.NewDiskSink(s.fs)}
	if s.git != nil {
		sinks = append(sinks, vcs.NewSink(s.git))
	}
	if s.deployer != nil {
		sinks = append(sinks, deploy.NewSink(s.deployer))
	}
	return sinks
}

// ListenAndServe serves until ctx is cancelled and then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Addr).Info("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
