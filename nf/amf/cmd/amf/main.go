// The amf command runs the Access and Mobility Management Function. It
// takes no arguments; configuration is read from the default path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5gc-core/common/logging"
	"github.com/your-org/5gc-core/nf/amf/internal/config"
	"github.com/your-org/5gc-core/nf/amf/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(config.DefaultConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.DefaultConfig()
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := logging.NewLogger(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Broken peers must not kill the process on write.
	signal.Ignore(syscall.SIGPIPE)

	amf := service.NewAMF(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = amf.Start(ctx)
	cancel()
	if err != nil {
		logger.Error("AMF startup failed", zap.Error(err))
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	amf.Shutdown(shutdownCtx)
	return 0
}
