// Package fetch downloads remote source documents into request staging with
// a per-source timeout, retry with backoff, and memory-then-disk spooling.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/pdf-fusion/internal/staging"
	"example.com/pdf-fusion/pkg/config"
	"example.com/pdf-fusion/pkg/logger"
	"example.com/pdf-fusion/pkg/metrics"
	"example.com/pdf-fusion/pkg/resilience"
)

// Config controls one Retriever.
type Config struct {
	Timeout        time.Duration
	ChunkSize      int
	SpoolThreshold int64
	MaxBytes       int64 // 0 = unlimited
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	UserAgent      string
	HeadCheck      bool
	ProgressEvery  int64
	FollowHTML     bool
}

// ConfigFrom maps the file configuration onto a retriever Config.
func ConfigFrom(c config.FetchConfig) Config {
	return Config{
		Timeout:        c.Timeout,
		ChunkSize:      c.ChunkSize,
		SpoolThreshold: c.SpoolThreshold,
		MaxBytes:       c.MaxBytes,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		UserAgent:      c.UserAgent,
		HeadCheck:      c.HeadCheck,
		ProgressEvery:  c.ProgressEvery,
		FollowHTML:     c.FollowHTML,
	}
}

// Retriever fetches remote documents.
type Retriever struct {
	client  *http.Client
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Retriever. The HTTP client carries no global timeout: the
// per-source deadline lives in the request context.
func New(cfg Config, m *metrics.Metrics) *Retriever {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	r := &Retriever{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          100,
				MaxConnsPerHost:       10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "retriever"),
	}
	return r
}

// Fetch downloads rawURL into a Spool inside ws. The returned spool is fully
// written and positioned at its first byte; the caller owns it and must Close
// it. On failure no storage is left behind and the error is a *FetchError.
func (r *Retriever) Fetch(ctx context.Context, rawURL string, ws *staging.Workspace) (*Spool, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, newFetchError(rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newFetchError(rawURL, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	log := logger.FromContext(ctx).With("component", "retriever", "url", u.Redacted())
	start := time.Now()

	if r.cfg.HeadCheck {
		r.head(ctx, u, log)
	}

	depth := 0
	if r.cfg.FollowHTML {
		depth = 1
	}
	var spool *Spool
	attempts := 0
	err = resilience.Retry(ctx, "fetch "+u.Host, resilience.RetryConfig{
		MaxAttempts:  r.cfg.MaxAttempts,
		InitialDelay: r.cfg.InitialBackoff,
		MaxDelay:     r.cfg.MaxBackoff,
	}, func() error {
		attempts++
		if attempts > 1 {
			r.metrics.IncRetry()
		}
		s, err := r.download(ctx, u, ws, depth, log)
		if err != nil {
			log.Debug("download attempt failed", "attempt", attempts, "final", resilience.IsPermanent(err), "error", err)
			return err
		}
		spool = s
		return nil
	})
	if err != nil {
		r.metrics.ObserveFetch("error", time.Since(start))
		log.Warn("fetch failed", "attempts", attempts, "error", err)
		return nil, newFetchError(rawURL, err)
	}

	r.metrics.ObserveFetch("ok", time.Since(start))
	log.Info("source fetched",
		"bytes", spool.Size(),
		"spilled", spool.Spilled(),
		"attempts", attempts,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return spool, nil
}

// head issues a HEAD request for the expected size. Failures are ignored.
func (r *Retriever) head(ctx context.Context, u *url.URL, log *slog.Logger) {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return
	}
	r.setHeaders(req, u)
	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug("head request failed", "error", err)
		return
	}
	resp.Body.Close()
	log.Debug("head response", "status", resp.StatusCode, "expected_bytes", resp.ContentLength, "content_type", resp.Header.Get("Content-Type"))
}

func (r *Retriever) setHeaders(req *http.Request, u *url.URL) {
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf,application/octet-stream;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
}

// download runs one attempt. Errors wrapped with resilience.Permanent stop
// the retry loop.
func (r *Retriever) download(ctx context.Context, u *url.URL, ws *staging.Workspace, depth int, log *slog.Logger) (*Spool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	r.setHeaders(req, u)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if retryableStatus(resp.StatusCode) {
			return nil, serr
		}
		return nil, resilience.Permanent(serr)
	}
	if r.cfg.MaxBytes > 0 && resp.ContentLength > r.cfg.MaxBytes {
		return nil, resilience.Permanent(fmt.Errorf("%w: %d bytes announced", ErrTooLarge, resp.ContentLength))
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if depth > 0 && strings.Contains(ct, "text/html") {
		link, err := findPDFLink(resp.Body, resp.Request.URL)
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("landing page %s: %w", u.Redacted(), err))
		}
		log.Info("following pdf link from landing page", "link", link.Redacted())
		return r.download(ctx, link, ws, depth-1, log)
	}

	spool := NewSpool(ws, r.cfg.SpoolThreshold)
	spool.onResize = r.metrics.AddStaged
	if err := r.stream(resp.Body, spool, resp.ContentLength, log); err != nil {
		spool.Close()
		return nil, err
	}
	if err := spool.Rewind(); err != nil {
		spool.Close()
		return nil, resilience.Permanent(err)
	}
	return spool, nil
}

// stream copies body into spool in ChunkSize pieces.
func (r *Retriever) stream(body io.Reader, spool *Spool, expected int64, log *slog.Logger) error {
	buf := make([]byte, r.cfg.ChunkSize)
	var total int64
	next := r.cfg.ProgressEvery
	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := spool.Write(buf[:n]); err != nil {
				return resilience.Permanent(fmt.Errorf("staging write: %w", err))
			}
			total += int64(n)
			r.metrics.AddFetchedBytes(n)
			if r.cfg.MaxBytes > 0 && total > r.cfg.MaxBytes {
				return resilience.Permanent(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, r.cfg.MaxBytes))
			}
			if next > 0 && total >= next {
				log.Debug("download progress", "bytes", total, "expected_bytes", expected)
				next += r.cfg.ProgressEvery
			}
		}
		switch rerr {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			if expected > 0 && total < expected {
				return fmt.Errorf("reading body: %w (%d of %d bytes)", io.ErrUnexpectedEOF, total, expected)
			}
			return nil
		default:
			return fmt.Errorf("reading body: %w", rerr)
		}
	}
}
