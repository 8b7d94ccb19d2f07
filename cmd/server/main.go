package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vikasavn/packetgate/pkg/config"
	"github.com/vikasavn/packetgate/pkg/httpfrontend"
	"github.com/vikasavn/packetgate/pkg/logging"
	"github.com/vikasavn/packetgate/pkg/metrics"
	"github.com/vikasavn/packetgate/pkg/registry"
	"github.com/vikasavn/packetgate/pkg/session"
	"github.com/vikasavn/packetgate/pkg/tcpmanager"
	"github.com/vikasavn/packetgate/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to config file (defaults are used when empty)")
	hashPasscode := flag.String("hash-passcode", "", "Print the bcrypt hash of a passcode for the accounts section and exit")
	flag.Parse()

	if *hashPasscode != "" {
		h, err := session.HashPasscode(*hashPasscode)
		if err != nil {
			return err
		}
		fmt.Println(h)
		return nil
	}

	// Load configuration
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			return err
		}
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = logger.WithName("packetgate")

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer stop()
	ctx = logging.IntoContext(ctx, logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(promReg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	reg := registry.NewRegistry(
		registry.WithLogger(logger.WithName("clientlist")),
		registry.WithMetrics(recorder),
	)
	defer reg.Close()

	dispatcher := worker.NewDispatcher(cfg.Workers.Count, cfg.Workers.QueueSize, logger.WithName("worker"))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	tcpMgr := tcpmanager.NewTCPManager(reg, dispatcher, session.NewAuthenticator(cfg.Accounts),
		tcpmanager.Options{ServerName: cfg.Server.Name, Metrics: recorder},
		logger.WithName("tcp"))
	if _, err := tcpMgr.Listen(cfg.ClientAddr()); err != nil {
		return err
	}

	httpFrontend := httpfrontend.NewHTTPFrontend(reg, promReg, logger.WithName("http"))

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpMgr.Serve(ctx); err != nil {
			errs <- fmt.Errorf("tcp server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpFrontend.StartServer(cfg.HTTPAddr()); err != nil {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for shutdown signal or a server failure
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, gracefully shutting down")
	case err = <-errs:
		logger.Error(err, "Server failed, shutting down")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpFrontend.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "HTTP server shutdown error")
	}
	tcpMgr.CloseAllConnections()
	dispatcher.Stop()

	wg.Wait()
	logger.Info("Server shutdown complete")
	return err
}
