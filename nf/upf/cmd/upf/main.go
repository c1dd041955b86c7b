// The upf command runs the User Plane Function fast path. It takes no
// arguments; configuration is read from the default path.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5gc-core/common/logging"
	"github.com/your-org/5gc-core/nf/upf/internal/config"
	upfctx "github.com/your-org/5gc-core/nf/upf/internal/context"
	"github.com/your-org/5gc-core/nf/upf/internal/dataplane"
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

	signal.Ignore(syscall.SIGPIPE)

	table := upfctx.NewTable()
	if err := table.InstallFromConfig(cfg.Sessions); err != nil {
		logger.Error("failed to install sessions", zap.Error(err))
		return 1
	}

	engine, err := dataplane.NewEngine(cfg, table, logger)
	if err != nil {
		logger.Error("failed to build data plane", zap.Error(err))
		return 1
	}
	engine.Start()
	defer engine.Shutdown()

	stopDrain := make(chan struct{})
	go drainTx(engine, stopDrain)
	defer close(stopDrain)

	var offload *dataplane.Offload
	if cfg.DataplaneType == "xdp" {
		localIP, err := upfctx.IPv4ToUint32(cfg.N3Address)
		if err != nil {
			logger.Error("invalid N3 address", zap.Error(err))
			return 1
		}
		offload, err = dataplane.LoadOffload(cfg.XDPObjectPath, cfg.N3Iface, cfg.N6Iface,
			localIP, table, logger)
		if err != nil {
			logger.Error("failed to load XDP offload", zap.Error(err))
			return 1
		}
		defer offload.Close()
	}

	logger.Info("UPF started",
		zap.String("dataplane", cfg.DataplaneType),
		zap.Int("sessions", table.Count()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", zap.String("signal", sig.String()))
			return 0
		case <-ticker.C:
			stats := engine.Stats()
			logger.Info("forwarding statistics",
				zap.Uint64("dl_forwarded", stats.DownlinkForwarded),
				zap.Uint64("ul_forwarded", stats.UplinkForwarded),
				zap.Uint64("dl_dropped", stats.DownlinkDropped),
				zap.Uint64("ul_dropped", stats.UplinkDropped),
			)
		}
	}
}

// drainTx consumes the transmit queues while no NIC binding is attached, so
// the workers never stall on a full queue.
func drainTx(engine *dataplane.Engine, stop <-chan struct{}) {
	for {
		for i := 0; i < engine.Queues(); i++ {
			select {
			case <-engine.GNBTx(i):
			case <-engine.DNTx(i):
			case <-stop:
				return
			default:
			}
		}
		select {
		case <-stop:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
