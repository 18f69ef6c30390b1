package document

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"example.com/pdf-fusion/internal/outline"
)

// Output is the growing merged document, held as one in-memory pdfcpu
// context and written to disk once by Finalize. Pages are only ever
// appended, in call order. It is owned by a single merge and is not safe for
// concurrent use.
type Output struct {
	conf  *model.Configuration
	acc   *model.Context
	pages int
	parts int
}

// NewOutput creates an empty accumulator.
func NewOutput(conf *model.Configuration) *Output {
	return &Output{conf: conf}
}

// PageCount returns the number of pages appended so far.
func (o *Output) PageCount() int { return o.pages }

// Append moves every page of doc, in order. doc's parsed pages are consumed:
// afterwards only PageCount and Close remain usable.
func (o *Output) Append(doc *Document) error {
	return o.AppendRange(doc, 0, doc.PageCount()-1)
}

// AppendRange moves pages first..last (0-based, inclusive) of doc. Like
// Append it consumes doc.
func (o *Output) AppendRange(doc *Document, first, last int) error {
	if doc.ctx == nil {
		return errClosed
	}
	if first < 0 || last >= doc.PageCount() || first > last {
		return fmt.Errorf("page range %d-%d outside [0,%d)", first, last, doc.PageCount())
	}
	src := doc.ctx
	if first > 0 || last < doc.PageCount()-1 {
		nrs := make([]int, 0, last-first+1)
		for p := first + 1; p <= last+1; p++ {
			nrs = append(nrs, p)
		}
		part, err := pdfcpu.ExtractPages(src, nrs, false)
		if err != nil {
			return fmt.Errorf("select pages %d-%d: %w", first+1, last+1, err)
		}
		part.PageCount = 0
		if err := part.EnsurePageCount(); err != nil {
			return fmt.Errorf("select pages %d-%d: %w", first+1, last+1, err)
		}
		src = part
	}
	// The source context is rewired into the accumulator either way.
	doc.ctx = nil

	if err := o.merge(src); err != nil {
		return err
	}
	o.pages += last - first + 1
	return nil
}

func (o *Output) merge(src *model.Context) error {
	if o.acc == nil {
		src.EnsureVersionForWriting()
		o.acc = src
		return nil
	}
	if o.acc.XRefTable.Version() < model.V20 && src.XRefTable.Version() == model.V20 {
		return pdfcpu.ErrUnsupportedVersion
	}
	o.parts++
	if err := pdfcpu.MergeXRefTables(strconv.Itoa(o.parts), src, o.acc, false, false); err != nil {
		return fmt.Errorf("append pages: %w", err)
	}
	return nil
}

// Finalize writes the accumulated pages with root as the document outline
// to dst. The accumulator is dropped afterwards.
func (o *Output) Finalize(root *outline.Node, dst string, optimize bool) error {
	if o.pages == 0 || o.acc == nil {
		return &IntegrityError{Want: 0, Err: errNoPages}
	}
	ctx := o.acc
	o.acc = nil
	if ctx.PageCount != o.pages {
		return &IntegrityError{Want: o.pages, Got: ctx.PageCount}
	}

	if root != nil {
		if err := writeOutline(ctx, root); err != nil {
			return fmt.Errorf("write outline: %w", err)
		}
	}
	if optimize {
		if err := api.OptimizeContext(ctx); err != nil {
			return fmt.Errorf("optimize: %w", err)
		}
	}

	w, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := api.WriteContext(ctx, w); err != nil {
		w.Close()
		os.Remove(dst)
		return fmt.Errorf("write output: %w", err)
	}
	return w.Close()
}
