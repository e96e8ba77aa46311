package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ironsheep/symbol-count-mcp/internal/config"
	"github.com/ironsheep/symbol-count-mcp/internal/httpapi"
	"github.com/ironsheep/symbol-count-mcp/internal/server"
	"github.com/ironsheep/symbol-count-mcp/internal/service"
	"github.com/ironsheep/symbol-count-mcp/internal/store"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("symbol-count-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("symbol-count-mcp - MCP server that counts symbols on engineering drawings")
			fmt.Println()
			fmt.Println("Usage: symbol-count-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  " + config.EnvConfig + "=path.yaml    Configuration file")
			fmt.Println("  " + config.EnvDB + "=symbols.db         Template and run database")
			fmt.Println("  " + config.EnvHTTPAddr + "=:8088      Also serve the HTTP API")
			fmt.Println("  " + config.EnvLogLevel + "=debug     Log level (debug, info, warn, error)")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "symbol-count-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	// Logging goes to stderr; stdout is for MCP protocol.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	log.Debug("starting", "version", Version, "build_time", BuildTime, "commit", GitCommit, "db", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := service.New(ctx, st, cfg.Detection, service.Settings{
		Workers:     cfg.Workers,
		PageTimeout: cfg.PageTimeout,
		DefaultDPI:  cfg.DefaultDPI,
	}, log)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		hs := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.New(svc, log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("http api listening", "addr", cfg.HTTPAddr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http api stopped", "error", err)
			}
		}()
		defer shutdownHTTP(hs, 5*time.Second, log)
	}

	server.Version = Version
	srv := server.New(svc, log)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// shutdownHTTP stops hs, giving in-flight requests up to timeout to finish.
func shutdownHTTP(hs *http.Server, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := hs.Shutdown(ctx); err != nil {
		log.Warn("http api shutdown", "error", err)
	}
}
