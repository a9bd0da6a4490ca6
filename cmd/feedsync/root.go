package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	feedsync "github.com/JordyChamba/feedsync"
	"github.com/JordyChamba/feedsync/pkg/config"
	"github.com/JordyChamba/feedsync/pkg/credentials"
	"github.com/JordyChamba/feedsync/pkg/logger"
)

type rootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg config.Config
	log logger.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "feedsync",
		Short:         "Social feed client with optimistic updates and live notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a .toml or .yaml config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides the config")

	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newFeedCommand(opts))
	cmd.AddCommand(newLikeCommand(opts))
	cmd.AddCommand(newFollowCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func (o *rootOptions) load() error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format == config.LogFormatJSON {
		o.log = logger.NewZerolog(zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger())
	} else {
		o.log = logger.NewConsole(os.Stderr, level)
	}
	return nil
}

func (o *rootOptions) openCredentials() (*credentials.SQLiteStore, error) {
	path := o.cfg.Credentials.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return credentials.OpenSQLite(path)
}

// withSession opens a session on the stored credentials, runs fn and closes
// everything again.
func (o *rootOptions) withSession(ctx context.Context, fn func(s *feedsync.Session) error) error {
	creds, err := o.openCredentials()
	if err != nil {
		return err
	}
	defer creds.Close()

	s, err := feedsync.Open(ctx, o.cfg, creds, feedsync.WithLogger(o.log))
	if err != nil {
		return fmt.Errorf("%w (run 'feedsync login' first)", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.API.Timeout)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			o.log.Warn("session did not close cleanly", "error", err)
		}
	}()

	return fn(s)
}
