package cli

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/logger"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Genesis turns a prompt into a generated, committed and deployed project",
	Long: `Genesis runs the project generation backend and talks to it from the terminal.
Use "genesis serve" to start the HTTP API, "genesis gen" to generate a project
and "genesis get" to download one.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Genesis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a project from a description",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := parseGenFlags(cmd)
		if err != nil {
			return fmt.Errorf("error parsing flags: %w", err)
		}

		l, err := clientLogger()
		if err != nil {
			return err
		}

		model := newGenerateModel(flags, l)
		p := tea.NewProgram(model)
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running program: %w", err)
		}
		model.Shutdown()
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Download a generated project",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := parseGetFlags(cmd)
		if err != nil {
			return fmt.Errorf("error parsing flags: %w", err)
		}
		return runGet(cmd.Context(), flags)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to custom configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(genCmd)
	rootCmd.AddCommand(getCmd)

	for _, cmd := range []*cobra.Command{genCmd, getCmd} {
		cmd.Flags().StringP("server", "s", "http://localhost:8000", "Genesis API base URL")
		cmd.Flags().StringP("token", "t", "", "Bearer token for a proxy in front of the API; the Genesis server does not check it")
		cmd.Flags().StringP("user", "u", "", "User id owning the project")
		cmd.Flags().StringP("name", "n", "", "The name of the project. Also used as the project directory name")
		cmd.MarkFlagRequired("user")
		cmd.MarkFlagRequired("name")
	}
	genCmd.Flags().StringP("model", "m", "", "Model override for this generation")
}

func parseGetFlags(cmd *cobra.Command) (getFlags, error) {
	server, token, user, name, err := commonFlags(cmd)
	if err != nil {
		return getFlags{}, err
	}
	return getFlags{
		server:  server,
		token:   token,
		userID:  user,
		project: name,
	}, nil
}

func parseGenFlags(cmd *cobra.Command) (genFlags, error) {
	server, token, user, name, err := commonFlags(cmd)
	if err != nil {
		return genFlags{}, err
	}
	model, err := cmd.Flags().GetString("model")
	if err != nil {
		return genFlags{}, err
	}
	return genFlags{
		server:  server,
		token:   token,
		userID:  user,
		project: name,
		model:   model,
	}, nil
}

func commonFlags(cmd *cobra.Command) (server, token, user, name string, err error) {
	if server, err = cmd.Flags().GetString("server"); err != nil {
		return
	}
	if token, err = cmd.Flags().GetString("token"); err != nil {
		return
	}
	if user, err = cmd.Flags().GetString("user"); err != nil {
		return
	}
	name, err = cmd.Flags().GetString("name")
	return
}

// clientLogger logs to the configured file only, so the TUI owns the terminal.
func clientLogger() (logger.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Log.File == "" {
		return logger.NewNullLogger(), nil
	}
	return logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
