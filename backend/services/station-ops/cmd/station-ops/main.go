package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"chargeops/backend/libs/logging"
	app "chargeops/backend/services/station-ops/internal/app"
	"chargeops/backend/services/station-ops/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup finishes before os.Exit.
func run(args []string) int {
	flags := pflag.NewFlagSet("station-ops", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to YAML config (defaults to $CONFIG_FILE)")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.NewLogger("station-ops")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer logger.Sync() // best-effort flush

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return 1
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped with error", zap.Error(err))
		return 1
	}
	return 0
}
