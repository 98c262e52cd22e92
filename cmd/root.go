package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"domtrace/internal/config"
	"domtrace/internal/observability"
	"domtrace/internal/tracer"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newRootCmd builds the domtrace command. Reports go to stdout, logs to stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()

	return &cobra.Command{
		Use:   "domtrace",
		Short: "Print the ancestor chains of marked elements in a remote-debuggable page.",
		Long: `domtrace reads the target listing of a browser's remote-debugging endpoint, attaches
to the matching page, and evaluates a DOM scan in every execution context that belongs to the
marked document. Matches are printed to stdout as indented JSON.

Settings come from DOMTRACE_* environment variables, a .env file, or ./domtrace.yaml.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			logger := observability.New(cfg.Logger, zapcore.Lock(zapcore.AddSync(stderr)))
			defer func() { _ = logger.Sync() }()

			res := tracer.New(cfg, stdout, logger).Run(cmd.Context())
			if res.Status == tracer.StatusError {
				logger.Warn("Trace failed", zap.Error(res.Err))
				return nil
			}
			logger.Debug("Trace finished",
				zap.Stringer("status", res.Status),
				zap.Int("contexts", res.Contexts),
				zap.Int("reports", len(res.Reports)),
				zap.Error(res.Err))
			return nil
		},
	}
}

// loadConfig layers defaults, ./domtrace.yaml, .env and DOMTRACE_* variables.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	_ = godotenv.Load()

	config.SetDefaults(v)
	v.SetConfigName("domtrace")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("DOMTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return config.NewConfigFromViper(v)
}
