package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/iomekam/dapp-inter/internal/cli"
	"github.com/iomekam/dapp-inter/internal/config"
	"github.com/iomekam/dapp-inter/internal/logging"
	"github.com/iomekam/dapp-inter/internal/metrics"
	"github.com/iomekam/dapp-inter/internal/otel"
	"github.com/iomekam/dapp-inter/internal/rpc"
	"github.com/iomekam/dapp-inter/internal/stream"
	"github.com/iomekam/dapp-inter/internal/version"
	"github.com/iomekam/dapp-inter/internal/vstorage"
	"github.com/iomekam/dapp-inter/internal/watcher"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	shutdownTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "storagewatch: %v\n", err)
		printHelp(stderr)
		return exitUsage
	}
	meta := cli.HelpVersionFlags{Help: flags.Help, Version: flags.Version}
	if meta.Handle(stdout, "storagewatch", printHelp) {
		return exitOK
	}

	settings, err := config.LoadSettings(flags.ConfigPath, flags.Overrides)
	if err != nil {
		fmt.Fprintf(stderr, "storagewatch: %v\n", err)
		return exitUsage
	}
	settings.AddWatches(flags.Watches...)
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(stderr, "storagewatch: %v\n", err)
		return exitUsage
	}
	if len(settings.Watches) == 0 && settings.Listen == "" {
		fmt.Fprintln(stderr, "storagewatch: nothing to watch; pass kind:path arguments or [[watch]] entries")
		return exitUsage
	}

	logger := logging.NewLoggerWithOutput(nil, settings.LogLevel, stderr).ForCategory(logging.CategoryCLI)
	if err := watch(ctx, settings, flags, stdout, logger); err != nil {
		logger.Error("storagewatch stopped", map[string]string{"error": err.Error()})
		return exitError
	}
	return exitOK
}

func watch(ctx context.Context, settings config.Settings, flags flagValues, stdout io.Writer, logger *logging.Logger) error {
	shutdownTelemetry, err := otel.SetupSDK(ctx, otel.SDKOptionsFromEnv(otel.SDKOptions{
		Enabled:            settings.Telemetry.Enabled,
		HTTPEndpoint:       settings.Telemetry.Endpoint,
		ServiceName:        settings.Telemetry.ServiceName,
		ServiceVersion:     version.Version,
		ResourceAttributes: otel.ParseResourceAttributes(settings.Telemetry.ResourceAttributes),
	}))
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", map[string]string{"error": err.Error()})
		}
	}()

	httpClient, err := rpc.NewHTTPClient(rpc.TransportOptions{
		CAPath:             settings.RPC.CAFile,
		InsecureSkipVerify: settings.RPC.InsecureSkipVerify,
	})
	if err != nil {
		return err
	}

	registry := metrics.Default
	coalesceDelay := settings.CoalesceDelay
	if flags.Once {
		// the single round comes from Refresh
		coalesceDelay = time.Hour
	}
	w, err := watcher.New(watcher.Options{
		RPCAddr:            settings.RPCAddr,
		ChainID:            settings.ChainID,
		Namespace:          settings.Namespace,
		Interval:           settings.Interval,
		CoalesceDelay:      coalesceDelay,
		RequestTimeout:     settings.RequestTimeout,
		MaxRoundsPerSecond: settings.MaxRoundsPerSecond,
		HTTPClient:         httpClient,
		MaxResponseBytes:   settings.RPC.MaxResponseBytes,
		Logger:             logger,
		Metrics:            registry,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	output, err := newUpdateWriter(stdout, flags.Format)
	if err != nil {
		return err
	}
	for _, path := range settings.Watches {
		if _, err := w.Watch(path,
			func(value vstorage.Value) { output.Update(path, value) },
			func(message string) { output.Error(path, message) },
		); err != nil {
			return err
		}
	}
	logger.Info("watching", map[string]string{
		"rpc_addr": settings.RPCAddr,
		"paths":    strconv.Itoa(len(settings.Watches)),
	})

	if flags.Once {
		roundErr := w.Refresh(ctx)
		_ = w.Close()
		if err := output.Close(); err != nil {
			return err
		}
		return roundErr
	}

	var server *http.Server
	serveErr := make(chan error, 1)
	if settings.Listen != "" {
		listener, err := net.Listen("tcp", settings.Listen)
		if err != nil {
			return err
		}
		server = &http.Server{
			Handler: stream.NewHandler(stream.Options{
				Source:  w,
				Metrics: registry,
				Logger:  logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info("storagewatch listening", map[string]string{"addr": listener.Addr().String()})
		go func() {
			serveErr <- server.Serve(listener)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	_ = w.Close()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}
	if err := output.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
