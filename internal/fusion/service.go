// Package fusion serves merge requests: one staging workspace per request,
// the optional result cache, the merge engine, and the optional journal and
// event stream.
package fusion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"example.com/pdf-fusion/internal/cache"
	"example.com/pdf-fusion/internal/events"
	"example.com/pdf-fusion/internal/journal"
	"example.com/pdf-fusion/internal/merge"
	"example.com/pdf-fusion/internal/staging"
	apperrors "example.com/pdf-fusion/pkg/errors"
	"example.com/pdf-fusion/pkg/logger"
)

// Output is a merged document ready to stream. Closing Body removes every
// staged artifact of the request.
type Output struct {
	Body      io.ReadCloser
	Filename  string
	Pages     int
	Size      int64
	Cached    bool
	RequestID string
	Result    *merge.Result // nil when served from cache
}

// Service runs merges for callers. It is safe for concurrent use; each call
// owns its own workspace.
type Service struct {
	engine     *merge.Engine
	stagingDir string
	cache      *cache.Cache
	journal    journal.Recorder
	events     *events.Emitter
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the result cache.
func WithCache(c *cache.Cache) Option { return func(s *Service) { s.cache = c } }

// WithJournal records every request.
func WithJournal(r journal.Recorder) Option { return func(s *Service) { s.journal = r } }

// WithEvents publishes merge outcomes.
func WithEvents(e *events.Emitter) Option { return func(s *Service) { s.events = e } }

// New creates a Service staging under stagingDir ("" means the system temp
// directory).
func New(engine *merge.Engine, stagingDir string, opts ...Option) *Service {
	s := &Service{
		engine:     engine,
		stagingDir: stagingDir,
		logger:     slog.Default().With("component", "fusion"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Merge runs req and returns the merged document. On error nothing is left
// staged.
func (s *Service) Merge(ctx context.Context, req *merge.Request) (*Output, error) {
	start := time.Now()
	reqID := logger.RequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
		ctx = logger.WithRequestID(ctx, reqID)
	}
	log := logger.FromContext(ctx).With("component", "fusion")

	if err := s.engine.Prepare(req); err != nil {
		s.finish(ctx, reqID, req, start, nil, err)
		return nil, err
	}

	ws, err := staging.New(s.stagingDir, "fusion-")
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInternal, 500, "staging unavailable: %v", err)
	}

	key := cache.Key(req)
	if entry, ok := s.cache.Get(ctx, key); ok {
		out, err := s.fromCache(ws, entry)
		if err == nil {
			out.RequestID = reqID
			log.Info("merge served from cache", "pages", out.Pages, "bytes", out.Size)
			s.finish(ctx, reqID, req, start, out, nil)
			return out, nil
		}
		log.Warn("cached merge unusable, merging again", "error", err)
	}

	res, err := s.engine.Merge(ctx, req, ws)
	if err != nil {
		ws.Cleanup()
		s.finish(ctx, reqID, req, start, nil, err)
		return nil, err
	}

	out, err := s.open(ws, res)
	if err != nil {
		ws.Cleanup()
		s.finish(ctx, reqID, req, start, nil, err)
		return nil, err
	}
	out.RequestID = reqID

	if s.cache.Fits(out.Size) {
		if b, err := os.ReadFile(res.Path); err == nil {
			s.cache.Put(ctx, key, cache.Entry{Filename: res.Filename, Pages: res.Pages, PDF: b})
		}
	}
	s.finish(ctx, reqID, req, start, out, nil)
	return out, nil
}

func (s *Service) open(ws *staging.Workspace, res *merge.Result) (*Output, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Output{
		Body:     staging.NewReadCloser(f, ws),
		Filename: res.Filename,
		Pages:    res.Pages,
		Size:     st.Size(),
		Result:   res,
	}, nil
}

func (s *Service) fromCache(ws *staging.Workspace, e *cache.Entry) (*Output, error) {
	p, err := ws.Path("cached.pdf")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(p, e.PDF, 0o600); err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return &Output{
		Body:     staging.NewReadCloser(f, ws),
		Filename: e.Filename,
		Pages:    e.Pages,
		Size:     int64(len(e.PDF)),
		Cached:   true,
	}, nil
}

// finish logs the outcome and feeds the journal and event stream. Neither
// can fail the request.
func (s *Service) finish(ctx context.Context, reqID string, req *merge.Request, start time.Time, out *Output, err error) {
	elapsed := time.Since(start)
	kind := apperrors.Kind(err)

	job := journal.Job{
		ID:        uuid.NewString(),
		RequestID: reqID,
		Title:     req.Title,
		Outcome:   kind,
		Started:   start,
		Duration:  elapsed,
	}
	ev := events.MergeEvent{
		Type:       events.TypeMergeCompleted,
		RequestID:  reqID,
		Title:      req.Title,
		Sources:    len(req.Sources),
		Kind:       kind,
		DurationMS: elapsed.Milliseconds(),
	}
	var offsets []int
	if out != nil {
		job.Pages, job.Bytes, job.Cached = out.Pages, out.Size, out.Cached
		ev.Pages, ev.Bytes, ev.Filename, ev.Cached = out.Pages, out.Size, out.Filename, out.Cached
		if out.Result != nil {
			offsets = out.Result.Offsets
			ev.Dropped = len(out.Result.Dropped())
		}
	}
	if err != nil {
		job.Error = err.Error()
		ev.Type = events.TypeMergeFailed
		ev.Error = err.Error()
		var se *merge.SourceError
		if errors.As(err, &se) {
			ev.Source = &events.SourceRef{Index: se.Index, Supplier: se.Supplier, URL: se.URL}
		}
		logger.FromContext(ctx).Warn("merge failed", "kind", kind, "error", err, "duration", elapsed.Round(time.Millisecond))
	}
	for i, src := range req.Sources {
		offset := -1
		if i < len(offsets) {
			offset = offsets[i]
		}
		job.Sources = append(job.Sources, journal.Source{Index: i, Supplier: src.Supplier, URL: src.URL, Offset: offset})
	}

	if s.journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if jerr := s.journal.Record(jctx, job); jerr != nil {
			s.logger.Warn("journal write failed", "request_id", reqID, "error", jerr)
		}
		cancel()
	}
	s.events.Emit(ctx, ev)
}
