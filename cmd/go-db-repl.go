package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/api"
	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/repl"
	"github.com/adfharrison1/go-db-repl/pkg/server"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
)

func main() {
	// Command line flags
	var (
		port               = flag.String("port", "8080", "Server port")
		dataDir            = flag.String("data-dir", "", "Data directory for the WAL and checkpoints. Empty runs in memory only.")
		durability         = flag.String("durability", "os", "WAL durability: none, memory, os or full")
		checkpointInterval = flag.Duration("checkpoint-interval", 30*time.Second, "Checkpoint interval (e.g., 5m, 30s). Set to 0 to disable.")
		maxWALMB           = flag.Int64("max-wal-mb", 100, "WAL size in MB that forces a checkpoint")
		oplogSizeMB        = flag.Int64("oplog-size-mb", repl.DefaultOplogSize/(1024*1024), "Capped size in MB of oplogs created through the storage interface")
		minValidNS         = flag.String("minvalid-ns", repl.DefaultMinValidNamespace, "Namespace of the min-valid document")
		logLevel           = flag.String("log-level", "info", "Log level: debug, info, warn or error")
		showHelp           = flag.Bool("help", false, "Show help message")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\ngo-db-repl is the replication storage layer of a document database, with a read-only HTTP inspection API.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                         # In-memory engine on :8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -data-dir /tmp/go-db-repl               # Durable engine\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -data-dir /tmp/go-db-repl -durability full -checkpoint-interval 5m\n", os.Args[0])
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	durabilityLevel, err := storage.ParseDurabilityLevel(*durability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -durability: %v\n", err)
		os.Exit(2)
	}
	minValid, err := domain.ParseNamespace(*minValidNS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -minvalid-ns: %v\n", err)
		os.Exit(2)
	}

	// Build storage options based on flags
	storageOptions := []storage.StorageOption{
		storage.WithLogger(logger),
		storage.WithDurabilityLevel(durabilityLevel),
		storage.WithCheckpointInterval(*checkpointInterval),
		storage.WithMaxWALSize(*maxWALMB * 1024 * 1024),
	}
	if *dataDir != "" {
		storageOptions = append(storageOptions, storage.WithDataDir(*dataDir))
	} else {
		logger.Warn("no data directory given - nothing will survive a restart")
	}

	engine, err := storage.NewStorageEngine(storageOptions...)
	if err != nil {
		logger.Error("failed to open storage engine", "error", err)
		os.Exit(1)
	}

	si := repl.New(engine,
		repl.WithLogger(logger),
		repl.WithMinValidNamespace(minValid),
		repl.WithOplogSize(*oplogSizeMB*1024*1024),
	)
	srv := server.NewServer(":"+*port, api.NewHandler(si, logger), logger)

	// Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API endpoints available", "url", "http://localhost:"+*port)
		serveErr <- srv.ListenAndServe()
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", "error", err)
			exitCode = 1
		}
	}

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		exitCode = 1
	}
	cancel()
	if err := engine.Close(); err != nil {
		logger.Error("failed to close storage engine", "error", err)
		exitCode = 1
	}

	logger.Info("server exited")
	os.Exit(exitCode)
}
