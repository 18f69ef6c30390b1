package merge

import (
	"context"

	"golang.org/x/sync/errgroup"

	"example.com/pdf-fusion/internal/fetch"
	"example.com/pdf-fusion/internal/staging"
)

type fetched struct {
	spool *fetch.Spool
	err   error
}

// prefetcher downloads sources ahead of the merge loop. At most window
// sources are fetched but not yet merged; results are handed out strictly
// by source index.
type prefetcher struct {
	results []chan fetched
	slots   chan struct{}
	cancel  context.CancelFunc
	g       *errgroup.Group
}

func (e *Engine) startFetches(ctx context.Context, sources []Source, ws *staging.Workspace) *prefetcher {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &prefetcher{
		results: make([]chan fetched, len(sources)),
		slots:   make(chan struct{}, e.opts.Prefetch),
		cancel:  cancel,
		g:       g,
	}
	for i := range p.results {
		p.results[i] = make(chan fetched, 1)
	}

	g.Go(func() error {
		for i, src := range sources {
			select {
			case p.slots <- struct{}{}:
			case <-gctx.Done():
				for _, ch := range p.results[i:] {
					ch <- fetched{err: gctx.Err()}
				}
				return nil
			}
			g.Go(func() error {
				s, err := e.fetcher.Fetch(gctx, src.URL, ws)
				p.results[i] <- fetched{spool: s, err: err}
				return nil
			})
		}
		return nil
	})
	return p
}

// next blocks until source i has been fetched.
func (p *prefetcher) next(i int) fetched {
	return <-p.results[i]
}

// release frees the window slot of a merged source.
func (p *prefetcher) release() {
	<-p.slots
}

// stop cancels outstanding fetches, waits for them and discards whatever
// they staged.
func (p *prefetcher) stop() {
	p.cancel()
	p.g.Wait()
	for _, ch := range p.results {
		select {
		case f := <-ch:
			if f.spool != nil {
				f.spool.Close()
			}
		default:
		}
	}
}
