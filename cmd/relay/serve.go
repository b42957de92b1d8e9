package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doctordirect/consult-relay/internal/app"
	"github.com/doctordirect/consult-relay/internal/config"
	"github.com/doctordirect/consult-relay/internal/log"
)

func newServeCommand() *cobra.Command {
	var overrides config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Str("auth_mode", cfg.Auth.Mode).Msg("starting relay")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("relay stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&overrides.LogFormat, "log-format", "", "log format (console, json)")
	f.StringVar(&overrides.Store.Driver, "store", "", "message store driver (sqlite, redis, postgres)")
	f.StringVar(&overrides.Auth.Mode, "auth-mode", "", "identity mode (token, trust)")
	return cmd
}

// loadConfig reads the layered config using the --config flag.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	bootstrap := log.New("info", "console")
	cfg, resolved, err := config.Load(bootstrap, path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", resolved, err)
	}
	return cfg, nil
}

