// Command pdf-fusion merges supplier catalogues into one bookmarked PDF.
//
// It runs as an HTTP service (POST /fusion-pdf) or, with --request, merges
// the requests of a JSON/JSONL file once and exits.
//
// Usage:
//
//	pdf-fusion [--config config.yaml] [--port 8080]
//	pdf-fusion --request catalogues.json --out merged.pdf
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"

	"example.com/pdf-fusion/internal/cache"
	"example.com/pdf-fusion/internal/events"
	"example.com/pdf-fusion/internal/fetch"
	"example.com/pdf-fusion/internal/fusion"
	"example.com/pdf-fusion/internal/journal"
	"example.com/pdf-fusion/internal/merge"
	"example.com/pdf-fusion/internal/outline"
	"example.com/pdf-fusion/pkg/config"
	"example.com/pdf-fusion/pkg/health"
	"example.com/pdf-fusion/pkg/kafka"
	"example.com/pdf-fusion/pkg/logger"
	"example.com/pdf-fusion/pkg/metrics"
	"example.com/pdf-fusion/pkg/postgres"
	"example.com/pdf-fusion/pkg/redis"
)

type options struct {
	Config  string `short:"c" long:"config" description:"path to YAML config file"`
	Port    int    `short:"p" long:"port" description:"listen port (overrides config)"`
	Request string `short:"r" long:"request" description:"merge the request(s) in this JSON/JSONL file and exit"`
	Out     string `short:"o" long:"out" description:"output file for --request (default: derived from the title)"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()
	svc, closeDeps, err := build(ctx, cfg, m, checker)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer closeDeps()

	if opts.Request != "" {
		if err := runBatch(ctx, svc, opts.Request, opts.Out); err != nil {
			slog.Error("merge failed", "error", err)
			closeDeps()
			os.Exit(1)
		}
		return
	}

	s := &server{svc: svc, health: checker, metrics: m, maxBody: cfg.Server.MaxBodyBytes}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("pdf-fusion listening",
		"addr", httpServer.Addr,
		"prefetch", cfg.Merge.Prefetch,
		"staging_dir", cfg.Staging.Dir,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		closeDeps()
		os.Exit(1)
	}
	slog.Info("pdf-fusion stopped")
}

// build assembles the merge pipeline and whichever optional stores are
// enabled. The returned func closes them.
func build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, checker *health.Checker) (*fusion.Service, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		closers = nil
	}

	retriever := fetch.New(fetch.ConfigFrom(cfg.Fetch), m)
	engine := merge.NewEngine(retriever, merge.Options{
		Prefetch:      cfg.Merge.Prefetch,
		Optimize:      cfg.Merge.Optimize,
		DefaultTitle:  cfg.Merge.DefaultTitle,
		Filename:      cfg.Merge.Filename,
		Categories:    cfg.Outline.Categories,
		OtherCategory: cfg.Outline.OtherCategory,
		Labels: outline.Labels{
			SupplierPrefix: cfg.Outline.SupplierPrefix,
			ChapterPrefix:  cfg.Outline.ChapterPrefix,
			Navigation:     cfg.Outline.NavigationName,
		},
	}, m)

	var svcOpts []fusion.Option

	// Redis: merged-document cache.
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, rc)
		checker.Register("redis", health.PingCheck(rc.Ping))
		svcOpts = append(svcOpts, fusion.WithCache(cache.New(rc, cfg.Redis.CacheTTL, cfg.Redis.MaxBytes, m)))
		slog.Info("merge cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	// PostgreSQL: merge journal.
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, db)
		checker.Register("postgres", health.PingCheck(db.Ping))
		j, err := journal.NewPostgres(ctx, db)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("journal: %w", err)
		}
		svcOpts = append(svcOpts, fusion.WithJournal(j))
		slog.Info("merge journal enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	// Kafka: merge events.
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka)
		closers = append(closers, p)
		svcOpts = append(svcOpts, fusion.WithEvents(events.NewEmitter(p)))
		slog.Info("merge events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	return fusion.New(engine, cfg.Staging.Dir, svcOpts...), closeAll, nil
}

// runBatch merges every request in path and writes each result to disk.
func runBatch(ctx context.Context, svc *fusion.Service, path, out string) error {
	reqs, err := loadRequests(path)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("%s: no request", path)
	}
	for i, req := range reqs {
		res, err := svc.Merge(ctx, req)
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		dst := res.Filename
		if out != "" {
			dst = outPath(out, i, len(reqs))
		}
		if err := writeOutput(res, dst); err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		slog.Info("[done]", "out", dst, "pages", res.Pages, "bytes", res.Size, "cached", res.Cached)
	}
	return nil
}

func writeOutput(res *fusion.Output, dst string) error {
	defer res.Body.Close()
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}
