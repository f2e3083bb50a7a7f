// Command cidflow runs the HTTP gateway or a demo service host on any of the
// built-in transports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	configpkg "github.com/drblury/cidflow/internal/runtime/config"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	_ "github.com/drblury/cidflow/transport/transports"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "cidflow",
	Short:         "Correlation-id aware RPC and event gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(gatewayCmd, serveCmd, tokenCmd)
}

func main() {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cidflow:", err)
		os.Exit(1)
	}
}

func newLogger() (loggingpkg.ServiceLogger, error) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	zl := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("app", "cidflow").Logger()
	return loggingpkg.NewZerologServiceLogger(zl), nil
}

// loadConfig reads --config when given. Otherwise the environment and
// defaults apply.
func loadConfig() (*configpkg.Config, error) {
	var (
		conf *configpkg.Config
		err  error
	)
	if configPath == "" {
		conf, err = configpkg.Parse(nil)
	} else {
		conf, err = configpkg.Load(configPath)
	}
	if err != nil {
		return nil, err
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	return conf, nil
}
