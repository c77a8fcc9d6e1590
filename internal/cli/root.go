// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatgate/internal/agent"
	"github.com/jeranaias/chatgate/internal/cloud"
	"github.com/jeranaias/chatgate/internal/config"
	chatctx "github.com/jeranaias/chatgate/internal/context"
	"github.com/jeranaias/chatgate/internal/gateway"
	"github.com/jeranaias/chatgate/internal/local"
	"github.com/jeranaias/chatgate/internal/provider"
	"github.com/jeranaias/chatgate/internal/settings"
	"github.com/jeranaias/chatgate/internal/storage"
)

// app carries the global flags shared by every subcommand.
type app struct {
	configPath string
	envFile    string

	cfg *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "chatgate",
		Short:         "Streaming chat gateway for cloud, local and agent model backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.chatgate/config.toml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file loaded before the config (default .env if present)")

	root.AddCommand(
		newServeCmd(a),
		newConversationsCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		code := ExitCode(err)
		if code == ExitGeneralError && isUsage(err) {
			code = ExitUsageError
		}
		return code
	}
	return ExitSuccess
}

// isUsage recognizes cobra's own argument and flag errors.
func isUsage(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "requires ", "required flag", "invalid argument"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// load reads the dotenv file and the config. Variables already present in
// the environment win over the dotenv file.
func (a *app) load() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return &configError{err: fmt.Errorf("failed to load env file %s: %w", a.envFile, err)}
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &configError{err: fmt.Errorf("failed to load .env: %w", err)}
	}

	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &configError{err: err}
	}
	a.cfg = cfg
	return nil
}

// newLogger builds the slog logger described by [log].
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) openStore() (storage.Store, error) {
	store, err := storage.Open(a.cfg.Storage.Backend, a.cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store at %s: %w", a.cfg.Storage.Backend, a.cfg.Storage.Dir, err)
	}
	return store, nil
}

// =============================================================================
// GATEWAY WIRING
// =============================================================================

func timeout(p config.ProviderConfig) time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// newRegistry registers every backend. Unconfigured cloud backends stay
// registered; their requests fail fast and fall back to mock.
func newRegistry(cfg *config.Config) *provider.Registry {
	p := cfg.Providers
	return provider.NewRegistry(
		provider.Entry{
			Adapter:      provider.NewMock(time.Duration(p.Mock.DelayMs) * time.Millisecond),
			Timeout:      timeout(p.Mock),
			DefaultModel: p.Mock.Model,
		},
		provider.Entry{
			Adapter:      cloud.NewClaude(cloud.Options{APIKey: p.Claude.APIKey, BaseURL: p.Claude.BaseURL, Model: p.Claude.Model}),
			Timeout:      timeout(p.Claude),
			DefaultModel: p.Claude.Model,
		},
		provider.Entry{
			Adapter:      cloud.NewGemini(cloud.Options{APIKey: p.Gemini.APIKey, BaseURL: p.Gemini.BaseURL, Model: p.Gemini.Model}),
			Timeout:      timeout(p.Gemini),
			DefaultModel: p.Gemini.Model,
		},
		provider.Entry{
			Adapter:      local.NewDocker(local.Config{BaseURL: p.Docker.BaseURL}),
			Timeout:      timeout(p.Docker),
			DefaultModel: p.Docker.Model,
		},
		provider.Entry{
			Adapter:      agent.NewCodex(agent.Config{Binary: p.Codex.Binary}),
			Timeout:      timeout(p.Codex),
			DefaultModel: p.Codex.Model,
		},
	)
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		MaxMessages:      cfg.Server.MaxMessages,
		MaxMessageLength: cfg.Server.MaxMessageLength,
		Defaults: settings.Settings{
			Temperature:    cfg.Defaults.Temperature,
			MaxTokens:      cfg.Defaults.MaxTokens,
			SystemPrompt:   cfg.Defaults.SystemPrompt,
			PermissionMode: settings.PermissionMode(cfg.Defaults.PermissionMode),
		},
		Context: chatctx.Config{
			MaxTokens:       cfg.Context.MaxTokens,
			MinWindowTokens: cfg.Context.MinWindowTokens,
			MaxMessages:     cfg.Context.MaxMessages,
		},
	}
}
