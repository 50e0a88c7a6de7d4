package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrenanferrari/genesis/backend"
	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/deploy"
	"github.com/devrenanferrari/genesis/fs"
	"github.com/devrenanferrari/genesis/llm"
	"github.com/devrenanferrari/genesis/logger"
	"github.com/devrenanferrari/genesis/server"
	"github.com/devrenanferrari/genesis/vcs"
)

// runServe wires every collaborator from cfg and serves until SIGINT or SIGTERM.
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := logger.InitLogger(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return err
	}
	l := logger.GetLogger()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := llm.NewClient(cfg.LLM, l)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	store, err := backend.New(cfg.Backend, l)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := cfg.Server.Workers
	engine := core.NewEngine(workers, workers*4, l)
	engine.Start(ctx)
	defer engine.Shutdown(cfg.Server.ShutdownTimeout)

	opts := server.Options{
		Config:    cfg.Server,
		ChatModel: cfg.LLM.ChatModel,
		LLM:       client,
		Backend:   store,
		FS:        fs.NewOsFileSystem(cfg.Storage.Root),
		Engine:    engine,
		Logger:    l,
	}
	if cfg.GitHubEnabled() {
		gh, err := vcs.NewGitHubClient(cfg.GitHub, "", l)
		if err != nil {
			return fmt.Errorf("failed to create github client: %w", err)
		}
		opts.Git = gh
	} else {
		l.Info("GITHUB_TOKEN not set, git materialization disabled")
	}
	if cfg.DeployEnabled() {
		vc, err := deploy.NewVercelClient(cfg.Deploy, nil, l)
		if err != nil {
			return fmt.Errorf("failed to create deploy client: %w", err)
		}
		opts.Deployer = vc
	} else {
		l.Info("VERCEL_TOKEN not set, deployments disabled")
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
