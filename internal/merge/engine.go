package merge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"example.com/pdf-fusion/internal/document"
	"example.com/pdf-fusion/internal/fetch"
	"example.com/pdf-fusion/internal/outline"
	"example.com/pdf-fusion/internal/staging"
	apperrors "example.com/pdf-fusion/pkg/errors"
	"example.com/pdf-fusion/pkg/logger"
	"example.com/pdf-fusion/pkg/metrics"
)

// Fetcher retrieves one source into ws.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, ws *staging.Workspace) (*fetch.Spool, error)
}

// Options tune an Engine.
type Options struct {
	Prefetch      int // sources fetched ahead of the one being merged, >= 1
	Optimize      bool
	DefaultTitle  string
	Filename      string // fallback download name
	Categories    []string
	OtherCategory string
	Labels        outline.Labels
}

// DefaultOptions mirror the built-in configuration.
func DefaultOptions() Options {
	return Options{
		Prefetch:      1,
		Optimize:      true,
		DefaultTitle:  DefaultTitle,
		Filename:      "catalogues_fusionnes.pdf",
		Categories:    outline.DefaultCategoryNames,
		OtherCategory: "autre",
		Labels:        outline.DefaultLabels(),
	}
}

// SourceError identifies the source that aborted a merge.
type SourceError struct {
	Index    int
	Supplier string
	URL      string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %d (%s): %v", e.Index+1, e.Supplier, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Result is a finished merge. Path lives in the request workspace.
type Result struct {
	Path     string
	Filename string
	Title    string
	Pages    int
	Offsets  []int // first output page of each source, 0-based
	Outline  *outline.Node
	Chapters []ChapterResult
}

// Dropped returns the chapters that were skipped.
func (r *Result) Dropped() []ChapterResult {
	var out []ChapterResult
	for _, c := range r.Chapters {
		if c.Dropped {
			out = append(out, c)
		}
	}
	return out
}

// Engine runs merges. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	fetcher Fetcher
	opts    Options
	metrics *metrics.Metrics
}

// NewEngine creates an Engine.
func NewEngine(f Fetcher, opts Options, m *metrics.Metrics) *Engine {
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	if opts.OtherCategory == "" {
		opts.OtherCategory = "autre"
	}
	if opts.Filename == "" {
		opts.Filename = "catalogues_fusionnes.pdf"
	}
	return &Engine{fetcher: f, opts: opts, metrics: m}
}

// Prepare applies the configured default title and validates req. Merge
// calls it too; it is idempotent.
func (e *Engine) Prepare(req *Request) error {
	if strings.TrimSpace(req.Title) == "" {
		req.Title = e.opts.DefaultTitle
	}
	return req.Validate()
}

// Options returns the options the engine runs with.
func (e *Engine) Options() Options { return e.opts }

// state is everything one merge accumulates, threaded through the fold over
// sources.
type state struct {
	conf       *model.Configuration
	out        *document.Output
	offsets    []int
	suppliers  []outline.SupplierMark
	categories *outline.Categories
	chapters   []ChapterResult
}

// Merge fetches every source in request order and concatenates them into one
// document inside ws. Any fetch or parse failure aborts the merge with a
// *SourceError; nothing partial is returned. Staged sources are released as
// soon as their pages are copied; the caller cleans ws.
func (e *Engine) Merge(ctx context.Context, req *Request, ws *staging.Workspace) (res *Result, err error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("component", "merge")
	defer func() {
		pages := 0
		if res != nil {
			pages = res.Pages
		}
		e.metrics.ObserveMerge(apperrors.Kind(err), time.Since(start), pages)
	}()

	if err := e.Prepare(req); err != nil {
		return nil, err
	}

	conf := document.NewConfiguration()
	st := &state{
		conf:       conf,
		out:        document.NewOutput(conf),
		categories: outline.NewCategories(e.opts.Categories, e.opts.OtherCategory),
	}

	pf := e.startFetches(ctx, req.Sources, ws)
	defer pf.stop()

	for i, src := range req.Sources {
		f := pf.next(i)
		if f.err != nil {
			return nil, &SourceError{Index: i, Supplier: src.Supplier, URL: src.URL, Err: f.err}
		}
		err := e.mergeSource(ctx, st, i, src, f.spool, log)
		pf.release()
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := outline.Builder{Labels: e.opts.Labels}.Build(req.Title, st.suppliers, st.categories.Buckets())
	dst, err := ws.Path("merged.pdf")
	if err != nil {
		return nil, err
	}
	if err := st.out.Finalize(root, dst, e.opts.Optimize); err != nil {
		return nil, err
	}
	if err := document.Verify(dst, st.out.PageCount(), conf); err != nil {
		return nil, err
	}

	res = &Result{
		Path:     dst,
		Filename: Filename(req.Title, e.opts.Filename),
		Title:    req.Title,
		Pages:    st.out.PageCount(),
		Offsets:  st.offsets,
		Outline:  root,
		Chapters: st.chapters,
	}
	if n := len(res.Dropped()); n > 0 {
		e.metrics.AddDroppedChapters(n)
	}
	log.Info("merge complete",
		"title", req.Title,
		"sources", len(req.Sources),
		"pages", res.Pages,
		"bookmarks", root.Count()+1,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// mergeSource opens one fetched source, appends its pages and places its
// chapters. The staged source is released before returning on every path.
func (e *Engine) mergeSource(ctx context.Context, st *state, i int, src Source, spool *fetch.Spool, log *slog.Logger) error {
	srcErr := func(err error) error {
		return &SourceError{Index: i, Supplier: src.Supplier, URL: src.URL, Err: err}
	}
	if err := ctx.Err(); err != nil {
		spool.Close()
		return srcErr(err)
	}
	doc, err := document.Open(spool, st.conf)
	if err != nil {
		return srcErr(err)
	}
	defer doc.Close()

	// Chapters are placed before the append, which consumes doc's pages.
	offset := st.out.PageCount()
	mark := outline.SupplierMark{Supplier: src.Supplier, Page: offset}
	var results []ChapterResult
	for _, ch := range src.Chapters {
		r := ResolveChapter(ch, src.Supplier, offset, doc.PageCount())
		r.Source = i
		if !r.Dropped {
			if _, err := doc.Page(r.Page - offset); err != nil {
				r = dropped(r, "target page unreadable")
			}
		}
		if r.Dropped {
			log.Warn("chapter dropped",
				"supplier", src.Supplier,
				"chapter", ch.Title,
				"start_page", ch.StartPage.Raw,
				"reason", r.Reason,
			)
			results = append(results, r)
			continue
		}
		m := outline.Mark{Supplier: src.Supplier, Title: r.Title, Page: r.Page}
		mark.Chapters = append(mark.Chapters, m)
		r.Category = st.categories.Add(ch.Category, m)
		results = append(results, r)
	}

	if err := st.out.Append(doc); err != nil {
		return fmt.Errorf("append %s: %w", src.Supplier, err)
	}
	st.offsets = append(st.offsets, offset)
	st.chapters = append(st.chapters, results...)
	st.suppliers = append(st.suppliers, mark)

	log.Info("source merged",
		"index", i,
		"supplier", src.Supplier,
		"pages", doc.PageCount(),
		"offset", offset,
		"chapters", len(mark.Chapters),
	)
	return nil
}
