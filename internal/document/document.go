// Package document adapts pdfcpu to the merge engine: opening staged sources,
// copying page ranges into a growing output, writing the final outline and
// checking the result.
package document

import (
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	apperrors "example.com/pdf-fusion/pkg/errors"
)

func init() {
	api.DisableConfigDir()
}

// NewConfiguration returns a pdfcpu configuration for one merge. pdfcpu
// records the running command in the configuration, so it must not be
// shared between concurrent merges. Source outlines are not carried over;
// Finalize writes the only outline.
func NewConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.Cmd = model.MERGECREATE
	conf.ValidationMode = model.ValidationRelaxed
	conf.CreateBookmarks = false
	return conf
}

// Staged is a locally staged source document.
type Staged interface {
	io.ReadSeeker
	Close() error
}

// ParseError reports source bytes that are not a usable PDF.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse document: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == apperrors.ErrDocumentParse }

var (
	errEncrypted = errors.New("encrypted documents are not supported")
	errNoPages   = errors.New("document has no pages")
	errClosed    = errors.New("document closed")
)

// Page identifies one page of an open document.
type Page struct {
	Index        int // 0-based
	ObjectNumber int
}

// Document is an opened source. pdfcpu loads every object while parsing, so
// the staged bytes are only needed until Open returns; they are still owned
// by the document and released on Close.
type Document struct {
	ctx    *model.Context
	staged Staged
	pages  int
}

// Open parses staged. On failure staged is closed and the error is a
// *ParseError.
func Open(staged Staged, conf *model.Configuration) (*Document, error) {
	doc, err := open(staged, conf)
	if err != nil {
		staged.Close()
		return nil, &ParseError{Err: err}
	}
	return doc, nil
}

func open(staged Staged, conf *model.Configuration) (*Document, error) {
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ctx, err := api.ReadContext(staged, conf)
	if err != nil {
		return nil, err
	}
	if ctx.Encrypt != nil {
		return nil, errEncrypted
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, err
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, err
	}
	if ctx.PageCount < 1 {
		return nil, errNoPages
	}
	return &Document{ctx: ctx, staged: staged, pages: ctx.PageCount}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return d.pages }

// Page returns page i, 0-based.
func (d *Document) Page(i int) (Page, error) {
	if d.ctx == nil {
		return Page{}, errClosed
	}
	if i < 0 || i >= d.pages {
		return Page{}, fmt.Errorf("page %d out of range [0,%d)", i, d.pages)
	}
	ir, err := d.ctx.PageDictIndRef(i + 1)
	if err != nil {
		return Page{}, err
	}
	if ir == nil {
		return Page{}, fmt.Errorf("page %d not found", i)
	}
	return Page{Index: i, ObjectNumber: ir.ObjectNumber.Value()}, nil
}

// Close drops the parsed context and releases the staged storage. Safe to
// call more than once.
func (d *Document) Close() error {
	d.ctx = nil
	if d.staged == nil {
		return nil
	}
	err := d.staged.Close()
	d.staged = nil
	return err
}
