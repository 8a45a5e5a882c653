// Package main is the sharpbot CLI.
//
// Sharpbot connects messaging platforms (Telegram, Slack, Discord) to
// LLM providers (OpenAI, Anthropic) behind a single assistant with
// tool execution, skills, scheduled jobs, and semantic memory.
//
// Start the gateway:
//
//	sharpbot serve --config sharpbot.yaml
//
// Talk to the assistant on stdin/stdout:
//
//	sharpbot chat
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sharphq/sharpbot/internal/config"
	"github.com/sharphq/sharpbot/internal/service"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sharpbot",
		Short:        "Sharpbot - multi-channel AI assistant gateway",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildVersionCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if path := os.Getenv("SHARPBOT_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "sharpbot.yaml"
	}
	return filepath.Join(home, ".sharpbot", "sharpbot.yaml")
}

func loadService(configPath string, debug bool) (*service.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := service.NewLogger(cfg.Logging)
	return service.New(cfg, logger)
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway with all configured channels",
		Long: `Start the gateway: channel adapters, the agent loop, the cron
scheduler, the heartbeat, and the metrics endpoint. Shuts down
gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadService(configPath, debug)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant on stdin/stdout",
		Long: `Run the full stack with an interactive terminal channel in place of
the messaging platforms. Remote adapters still start if configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadService(configPath, debug)
			if err != nil {
				return err
			}
			defer s.Close()
			s.RegisterCLI(os.Stdin, os.Stdout)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			fmt.Println("sharpbot ready. Type a message, Ctrl+C to quit.")
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sharpbot %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
