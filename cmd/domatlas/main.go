// Command domatlas scans pages into indexed element trees and serves
// them over HTTP and MCP.
//
// Usage:
//
//	domatlas -url https://example.com            # scan once, print the rendering
//	domatlas -url https://example.com -serve     # serve the scan/history API
//	domatlas -url https://example.com -serve -mcp # also MCP tools on stdio
//	domatlas -config domatlas.yaml -serve        # full configuration
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domatlas/dbopen"
	"github.com/hazyhaar/domatlas/history"
	"github.com/hazyhaar/domatlas/htmlscan"
	"github.com/hazyhaar/domatlas/rodscan"
	"github.com/hazyhaar/domatlas/scan"
	"github.com/hazyhaar/domatlas/session"
)

func main() {
	configPath := flag.String("config", "", "path to domatlas.yaml config file")
	url := flag.String("url", "", "page URL to scan")
	serve := flag.Bool("serve", false, "serve the HTTP API instead of printing once")
	mcpStdio := flag.Bool("mcp", false, "with -serve, also expose the tools as an MCP server on stdio")
	scanner := flag.String("scanner", "", "scanner backend: rod or html (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *url, *scanner, *serve, *mcpStdio); err != nil {
		logger.Error("domatlas: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, url, scannerFlag string, serve, mcpStdio bool) error {
	var cfg *session.Config
	if configPath != "" {
		loaded, err := session.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = session.DefaultConfig()
	}
	if scannerFlag != "" {
		cfg.Scanner = scannerFlag
	}
	if url == "" {
		fmt.Fprintln(os.Stderr, "usage: domatlas -url <url> [-serve] [-config <file>]")
		os.Exit(1)
	}

	var (
		scn    scan.Scanner
		frames session.FrameLister
	)
	switch cfg.Scanner {
	case session.ScannerHTML:
		scn = htmlscan.New(cfg.HTML, logger)
		frames = session.StaticFrames{URL: url}
	default:
		browser := rodscan.NewBrowser(cfg.Browser, logger)
		if err := browser.Start(ctx); err != nil {
			return err
		}
		defer browser.Close()

		rs := rodscan.NewScanner(cfg.Rod, browser, logger)
		if err := rs.Open(ctx, url); err != nil {
			return err
		}
		defer rs.Close()
		scn = rs
		frames = rs
	}

	sess := session.New(*cfg, scn, frames, nil, logger)

	if !serve {
		text, err := sess.Render(ctx)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	if cfg.DBPath != "" {
		db, err := dbopen.Open(cfg.DBPath,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(history.Schema))
		if err != nil {
			return err
		}
		defer db.Close()

		store := &history.Store{DB: db}
		defer func() {
			data, err := sess.History().Export()
			if err != nil {
				logger.Warn("domatlas: export on shutdown failed", "error", err)
				return
			}
			if err := store.Save(context.Background(), url, data); err != nil {
				logger.Warn("domatlas: persist history failed", "error", err)
			}
		}()

		if data, err := store.Latest(ctx, url); err == nil {
			if err := sess.History().Import(data); err != nil {
				logger.Warn("domatlas: restore history failed", "error", err)
			} else {
				logger.Info("domatlas: history restored", "url", url)
			}
		}
	}

	// Optional MCP on stdio, for agents that launch domatlas themselves.
	if mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "domatlas",
			Version: "1.0.0",
		}, nil)
		sess.RegisterMCP(mcpSrv)
		transport := &mcp.IOTransport{Reader: os.Stdin, Writer: os.Stdout}
		go func() {
			logger.Info("domatlas: MCP serving on stdio")
			if err := mcpSrv.Run(ctx, transport); err != nil && ctx.Err() == nil {
				logger.Error("domatlas: mcp server", "error", err)
			}
		}()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: sess.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("domatlas: serving", "addr", cfg.Addr, "url", url, "scanner", cfg.Scanner)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("domatlas: shutting down")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
