// Command replay records web pages as session-replay segments.
//
// Usage:
//
//	replay -url https://example.com              # record a live page in Chrome until interrupted
//	replay -url https://example.com -http :8090  # same, with the control API and MCP on :8090
//	replay -fetch https://example.com            # fetch over HTTP and emit one snapshot segment
//	replay -file page.html -base https://x.org/  # snapshot a local HTML file
//	replay -url https://example.com -retention 168h  # also prune stored rows older than a week
//
// Segments go to the sinks of -config (stdout by default).
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/horosreplay/dbopen"
	"github.com/hazyhaar/horosreplay/observability"
	"github.com/hazyhaar/horosreplay/replay"
)

func main() {
	configPath := flag.String("config", "", "path to replay.yaml config file")
	liveURL := flag.String("url", "", "record a live URL in Chrome")
	fetchURL := flag.String("fetch", "", "snapshot a URL fetched over HTTP, without a browser")
	file := flag.String("file", "", "snapshot a local HTML file")
	base := flag.String("base", "about:blank", "document URL of -file, used to resolve relative URLs")
	httpAddr := flag.String("http", "", "serve the control API and MCP on this address while recording")
	metricsDB := flag.String("metrics-db", "", "SQLite file for metrics and session events")
	retention := flag.Duration("retention", 0, "delete stored segments, metrics and events older than this (0 keeps everything)")
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
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{logger: logger, httpAddr: *httpAddr, retention: *retention}
	if err := a.run(ctx, *configPath, *metricsDB, *liveURL, *fetchURL, *file, *base); err != nil {
		logger.Error("replay: fatal", "error", err)
		os.Exit(1)
	}
}

type app struct {
	logger    *slog.Logger
	httpAddr  string
	retention time.Duration
	cfg       *replay.Config
	store     *replay.Store
	opts      []replay.Option
	closers   []func()
	cleaners  map[string]func(context.Context, time.Time) (int64, error)
}

func (a *app) run(ctx context.Context, configPath, metricsDB, liveURL, fetchURL, file, base string) error {
	if liveURL == "" && fetchURL == "" && file == "" {
		fmt.Fprintln(os.Stderr, "usage: replay [-config file] -url <url> | -fetch <url> | -file <path>")
		os.Exit(2)
	}
	if err := a.setup(configPath, metricsDB); err != nil {
		return err
	}
	defer a.close()
	if a.retention > 0 {
		go a.prune(ctx)
	}

	switch {
	case file != "":
		return a.snapshotFile(ctx, file, base)
	case fetchURL != "":
		st, err := replay.SnapshotURL(ctx, fetchURL, a.cfg, replay.FetchOptions{StyleSheets: true, Logger: a.logger}, a.opts...)
		if err != nil {
			return err
		}
		a.logger.Info("replay: snapshot done", "url", st.URL, "records", st.Counters.Records)
		return nil
	default:
		return a.record(ctx, liveURL)
	}
}

func (a *app) setup(configPath, metricsDB string) error {
	cfg := replay.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = replay.LoadConfigFile(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	a.cfg = cfg

	sinks, store, err := replay.SinksFromConfig(cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.opts = append(a.opts, replay.WithLogger(a.logger), replay.WithSinks(sinks...))
	a.cleaners = make(map[string]func(context.Context, time.Time) (int64, error))
	if store != nil {
		a.cleaners["segments"] = store.Prune
	}

	if metricsDB != "" {
		db, err := openMetrics(metricsDB)
		if err != nil {
			return err
		}
		mm := observability.NewMetricsManager(db, 100, 5*time.Second, a.logger)
		events := observability.NewEventLog(db, observability.WithEventLogger(a.logger))
		a.opts = append(a.opts, replay.WithMetrics(mm), replay.WithEventLog(events))
		a.cleaners["metrics"] = mm.Cleanup
		a.cleaners["events"] = events.Cleanup
		a.closers = append(a.closers, func() {
			mm.Close()
			db.Close()
		})
	}
	return nil
}

func openMetrics(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("metrics db: %w", err)
	}
	if err := observability.Init(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// prune deletes rows older than the retention window, once at start and
// then hourly.
func (a *app) prune(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		cutoff := time.Now().Add(-a.retention)
		for name, clean := range a.cleaners {
			n, err := clean(ctx, cutoff)
			if err != nil {
				a.logger.Warn("replay: retention cleanup failed", "table", name, "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("replay: retention cleanup", "table", name, "deleted", n)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (a *app) snapshotFile(ctx context.Context, path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := replay.SnapshotHTML(ctx, f, base, a.cfg, a.opts...)
	if err != nil {
		return err
	}
	a.logger.Info("replay: snapshot done", "file", path, "records", st.Counters.Records)
	return nil
}

func (a *app) record(ctx context.Context, url string) error {
	b, err := replay.NewBrowser(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	defer b.Close()

	rec, err := b.Record(ctx, url, a.opts...)
	if err != nil {
		return fmt.Errorf("record %s: %w", url, err)
	}
	a.logger.Info("replay: recording", "url", url, "session", rec.SessionID())

	var srv *http.Server
	if a.httpAddr != "" {
		srv = a.serve(rec)
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		srv.Shutdown(stopCtx)
	}
	return rec.Stop(stopCtx)
}

func (a *app) serve(rec *replay.Recorder) *http.Server {
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "replay", Version: "1.0.0"}, nil)
	rec.RegisterMCP(mcpSrv, a.store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	rec.RegisterHTTP(r, a.store)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))

	srv := &http.Server{Addr: a.httpAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		a.logger.Info("replay: http listening", "addr", a.httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("replay: http", "error", err)
		}
	}()
	return srv
}
