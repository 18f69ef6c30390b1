package document

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/unicode"

	"example.com/pdf-fusion/internal/fetch"
	"example.com/pdf-fusion/internal/outline"
	"example.com/pdf-fusion/internal/pdftest"
	"example.com/pdf-fusion/internal/staging"
	apperrors "example.com/pdf-fusion/pkg/errors"
)

func newWorkspace(t *testing.T) *staging.Workspace {
	t.Helper()
	ws, err := staging.New(t.TempDir(), "doc-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Cleanup() })
	return ws
}

func stage(t *testing.T, ws *staging.Workspace, b []byte) *fetch.Spool {
	t.Helper()
	return stageWith(t, ws, b, 1<<20)
}

func stageWith(t *testing.T, ws *staging.Workspace, b []byte, threshold int64) *fetch.Spool {
	t.Helper()
	s := fetch.NewSpool(ws, threshold)
	if _, err := s.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := s.Rewind(); err != nil {
		t.Fatal(err)
	}
	return s
}

func openPDF(t *testing.T, ws *staging.Workspace, conf *model.Configuration, pages int) *Document {
	t.Helper()
	doc, err := Open(stage(t, ws, pdftest.Build(pages)), conf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc
}

func TestOpenCountsPages(t *testing.T) {
	ws := newWorkspace(t)
	doc := openPDF(t, ws, NewConfiguration(), 3)
	if doc.PageCount() != 3 {
		t.Fatalf("PageCount = %d", doc.PageCount())
	}
	p, err := doc.Page(2)
	if err != nil {
		t.Fatal(err)
	}
	if p.Index != 2 || p.ObjectNumber == 0 {
		t.Errorf("Page(2) = %+v", p)
	}
	if _, err := doc.Page(3); err == nil {
		t.Error("Page(3) should be out of range")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	ws := newWorkspace(t)
	s := stage(t, ws, []byte("<html>not a pdf</html>"))
	_, err := Open(s, NewConfiguration())
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if !errors.Is(err, apperrors.ErrDocumentParse) {
		t.Error("ParseError should match ErrDocumentParse")
	}
	if len(ws.Remaining()) != 0 {
		t.Errorf("staged source not released: %v", ws.Remaining())
	}
}

func TestCloseReleasesStagedFile(t *testing.T) {
	ws := newWorkspace(t)
	doc, err := Open(stageWith(t, ws, pdftest.Build(1), 0), NewConfiguration())
	if err != nil {
		t.Fatal(err)
	}
	if len(ws.Remaining()) != 1 {
		t.Fatalf("Remaining = %v", ws.Remaining())
	}
	doc.Close()
	doc.Close()
	if len(ws.Remaining()) != 0 {
		t.Errorf("Remaining after Close = %v", ws.Remaining())
	}
}

func TestOutputAppendAndFinalize(t *testing.T) {
	ws := newWorkspace(t)
	conf := NewConfiguration()
	out := NewOutput(conf)
	if err := out.Append(openPDF(t, ws, conf, 3)); err != nil {
		t.Fatalf("Append A: %v", err)
	}
	if err := out.Append(openPDF(t, ws, conf, 2)); err != nil {
		t.Fatalf("Append B: %v", err)
	}
	if out.PageCount() != 5 {
		t.Fatalf("PageCount = %d", out.PageCount())
	}

	root := &outline.Node{Title: "Catalogue fusionné", Children: []*outline.Node{
		{Title: "📁 A", Page: 0},
		{Title: "📁 B", Page: 3, Children: []*outline.Node{{Title: "• Intro", Page: 3}}},
	}}
	dst, _ := ws.Path("merged.pdf")
	if err := out.Finalize(root, dst, true); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := Verify(dst, 5, conf); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	got := readOutline(t, dst)
	want := []string{"Catalogue fusionné@0", "📁 A@0", "📁 B@3", "• Intro@3"}
	if len(got) != len(want) {
		t.Fatalf("outline = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("outline[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOutputAppendRange(t *testing.T) {
	ws := newWorkspace(t)
	conf := NewConfiguration()
	out := NewOutput(conf)
	if err := out.Append(openPDF(t, ws, conf, 2)); err != nil {
		t.Fatal(err)
	}
	if err := out.AppendRange(openPDF(t, ws, conf, 6), 1, 3); err != nil {
		t.Fatalf("AppendRange: %v", err)
	}
	if out.PageCount() != 5 {
		t.Fatalf("PageCount = %d", out.PageCount())
	}
	if err := out.AppendRange(openPDF(t, ws, conf, 2), 1, 4); err == nil {
		t.Error("range past the end should fail")
	}
	dst, _ := ws.Path("merged.pdf")
	if err := out.Finalize(nil, dst, false); err != nil {
		t.Fatal(err)
	}
	if err := Verify(dst, 5, conf); err != nil {
		t.Fatal(err)
	}
}

func TestOutputKeepsSourcesInMemory(t *testing.T) {
	ws := newWorkspace(t)
	conf := NewConfiguration()
	out := NewOutput(conf)

	var docs []*Document
	for _, n := range []int{2, 3, 1} {
		doc := openPDF(t, ws, conf, n)
		if err := out.Append(doc); err != nil {
			t.Fatalf("Append: %v", err)
		}
		docs = append(docs, doc)
	}
	if left := ws.Remaining(); len(left) != 0 {
		t.Fatalf("appending staged files on disk: %v", left)
	}
	if _, err := docs[0].Page(0); !errors.Is(err, errClosed) {
		t.Errorf("Page after Append: %v, want errClosed", err)
	}
	if err := out.Append(docs[1]); err == nil {
		t.Error("appending a consumed document should fail")
	}
	if out.PageCount() != 6 {
		t.Fatalf("PageCount = %d", out.PageCount())
	}

	dst, _ := ws.Path("merged.pdf")
	if err := out.Finalize(nil, dst, false); err != nil {
		t.Fatal(err)
	}
	if left := ws.Remaining(); len(left) != 1 || left[0] != dst {
		t.Errorf("Remaining = %v, want only the result", left)
	}
	if err := Verify(dst, 6, conf); err != nil {
		t.Fatal(err)
	}
	if err := out.Finalize(nil, dst, false); err == nil {
		t.Error("second Finalize should fail")
	}
}

func TestVerifyMismatch(t *testing.T) {
	p := pdftest.WriteFile(t, t.TempDir(), "x.pdf", 2)
	err := Verify(p, 3, NewConfiguration())
	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.Got != 2 || ie.Want != 3 {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, apperrors.ErrOutputIntegrity) {
		t.Error("IntegrityError should match ErrOutputIntegrity")
	}
}

func TestEncodeTitle(t *testing.T) {
	h, err := encodeTitle("é")
	if err != nil {
		t.Fatal(err)
	}
	if string(h) != "feff00e9" {
		t.Errorf("encodeTitle = %s", h)
	}
}

// readOutline lists "title@page" for every outline item, depth-first.
func readOutline(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := api.ReadContext(bytes.NewReader(b), NewConfiguration())
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		t.Fatal(err)
	}
	pageOf := map[int]int{}
	for i := 1; i <= ctx.PageCount; i++ {
		ir, err := ctx.PageDictIndRef(i)
		if err != nil {
			t.Fatal(err)
		}
		pageOf[ir.ObjectNumber.Value()] = i - 1
	}
	catalog, err := ctx.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	if mode := catalog.NameEntry("PageMode"); mode == nil || *mode != "UseOutlines" {
		t.Errorf("PageMode = %v", mode)
	}
	root, err := ctx.DereferenceDict(catalog["Outlines"])
	if err != nil {
		t.Fatal(err)
	}

	var out []string
	var walk func(obj types.Object)
	walk = func(obj types.Object) {
		for obj != nil {
			d, err := ctx.DereferenceDict(obj)
			if err != nil || d == nil {
				t.Fatalf("outline item: %v", err)
			}
			dest := d.ArrayEntry("Dest")
			ir, _ := dest[0].(types.IndirectRef)
			out = append(out, decodeTitle(t, d["Title"])+"@"+strconv.Itoa(pageOf[ir.ObjectNumber.Value()]))
			if first, ok := d["First"]; ok {
				walk(first)
			}
			obj = d["Next"]
		}
	}
	walk(root["First"])
	return out
}

func decodeTitle(t *testing.T, o types.Object) string {
	t.Helper()
	var raw []byte
	switch v := o.(type) {
	case types.HexLiteral:
		b, err := hex.DecodeString(string(v))
		if err != nil {
			t.Fatal(err)
		}
		raw = b
	case types.StringLiteral:
		raw = []byte(v)
	default:
		t.Fatalf("title type %T", o)
	}
	if bytes.HasPrefix(raw, []byte{0xfe, 0xff}) {
		s, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes(raw)
		if err != nil {
			t.Fatal(err)
		}
		return string(s)
	}
	return string(raw)
}
