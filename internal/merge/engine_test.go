package merge

import (
	"context"
	"errors"
	"net/http"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"example.com/pdf-fusion/internal/document"
	"example.com/pdf-fusion/internal/fetch"
	"example.com/pdf-fusion/internal/outline"
	"example.com/pdf-fusion/internal/pdftest"
	"example.com/pdf-fusion/internal/staging"
	apperrors "example.com/pdf-fusion/pkg/errors"
)

func newEngine(prefetch int) *Engine {
	opts := DefaultOptions()
	opts.Prefetch = prefetch
	r := fetch.New(fetch.Config{
		Timeout:        5 * time.Second,
		ChunkSize:      256,
		SpoolThreshold: 1 << 20,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		UserAgent:      "pdf-fusion-test",
	}, nil)
	return NewEngine(r, opts, nil)
}

func newWorkspace(t *testing.T) *staging.Workspace {
	t.Helper()
	ws, err := staging.New(t.TempDir(), "merge-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Cleanup() })
	return ws
}

type entry struct {
	Title string
	Page  int
	Depth int
}

func flatten(n *outline.Node) []entry {
	var out []entry
	n.Walk(func(n *outline.Node, depth int) {
		out = append(out, entry{n.Title, n.Page, depth})
	})
	return out
}

func TestMergeTwoSuppliers(t *testing.T) {
	srv := pdftest.Server(t, map[string][]byte{
		"/a.pdf": pdftest.Build(3),
		"/b.pdf": pdftest.Build(2),
	})
	ws := newWorkspace(t)

	req := &Request{
		Title: "Catalogues 2025",
		Sources: []Source{
			{Supplier: "A", URL: srv.URL + "/a.pdf"},
			{Supplier: "B", URL: srv.URL + "/b.pdf", Chapters: []Chapter{
				{Title: "Intro", Category: "sanitaire", StartPage: Page(1)},
			}},
		},
	}
	res, err := newEngine(1).Merge(context.Background(), req, ws)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Pages != 5 {
		t.Errorf("Pages = %d, want 5", res.Pages)
	}
	if !reflect.DeepEqual(res.Offsets, []int{0, 3}) {
		t.Errorf("Offsets = %v", res.Offsets)
	}
	if err := document.Verify(res.Path, 5, document.NewConfiguration()); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if res.Filename != "Catalogues_2025.pdf" {
		t.Errorf("Filename = %q", res.Filename)
	}

	want := []entry{
		{"Catalogues 2025", 0, 0},
		{"📁 A", 0, 1},
		{"📁 B", 3, 1},
		{"• Intro", 3, 2},
		{"🗂️ Navigation par catégorie", 0, 1},
		{"Sanitaire", 3, 2},
		{"• B - Intro", 3, 3},
	}
	if got := flatten(res.Outline); !reflect.DeepEqual(got, want) {
		t.Errorf("outline =\n%v\nwant\n%v", got, want)
	}
}

func TestMergeOffsetsArePrefixSums(t *testing.T) {
	sizes := []int{2, 4, 1, 3}
	docs := map[string][]byte{}
	names := []string{"a", "b", "c", "d"}
	for i, n := range sizes {
		docs["/"+names[i]+".pdf"] = pdftest.Build(n)
	}
	srv := pdftest.Server(t, docs)
	var sources []Source
	for _, name := range names {
		sources = append(sources, Source{Supplier: strings.ToUpper(name), URL: srv.URL + "/" + name + ".pdf"})
	}

	for _, prefetch := range []int{1, 3} {
		ws := newWorkspace(t)
		res, err := newEngine(prefetch).Merge(context.Background(), &Request{Sources: sources}, ws)
		if err != nil {
			t.Fatalf("prefetch %d: %v", prefetch, err)
		}
		sum := 0
		for i, n := range sizes {
			if res.Offsets[i] != sum {
				t.Errorf("prefetch %d: offset[%d] = %d, want %d", prefetch, i, res.Offsets[i], sum)
			}
			sum += n
		}
		if res.Pages != sum {
			t.Errorf("prefetch %d: Pages = %d, want %d", prefetch, res.Pages, sum)
		}
		for i, s := range res.Outline.Children[:len(sizes)] {
			if s.Page != res.Offsets[i] {
				t.Errorf("supplier %s -> %d, want %d", s.Title, s.Page, res.Offsets[i])
			}
		}
		if res.Title != DefaultTitle {
			t.Errorf("Title = %q", res.Title)
		}
	}
}

func TestMergeChapterEdgeCases(t *testing.T) {
	srv := pdftest.Server(t, map[string][]byte{
		"/a.pdf": pdftest.Build(2),
		"/b.pdf": pdftest.Build(4),
	})
	ws := newWorkspace(t)
	req := &Request{Sources: []Source{
		{Supplier: "A", URL: srv.URL + "/a.pdf"},
		{Supplier: "B", URL: srv.URL + "/b.pdf", Chapters: []Chapter{
			{Title: "Zero", Category: "carrelage", StartPage: Page(0)},
			{Title: "Broken", Category: "carrelage", StartPage: PageNumber{Raw: "deux", Set: true}},
			{Title: "Lamps", Category: "luminaire", StartPage: Page(3)},
			{Title: "Far", Category: "Meuble", StartPage: Page(40)},
		}},
	}}
	res, err := newEngine(2).Merge(context.Background(), req, ws)
	if err != nil {
		t.Fatal(err)
	}

	dropped := res.Dropped()
	if len(dropped) != 1 || dropped[0].Title != "Broken" {
		t.Fatalf("dropped = %+v", dropped)
	}
	supplierB := res.Outline.Children[1]
	want := []entry{{"• Zero", 2, 0}, {"• Lamps", 4, 0}, {"• Far", 5, 0}}
	var got []entry
	for _, c := range supplierB.Children {
		got = append(got, entry{c.Title, c.Page, 0})
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("chapters = %v, want %v", got, want)
	}

	nav := res.Outline.Children[2]
	var cats []string
	for _, c := range nav.Children {
		cats = append(cats, c.Title)
	}
	if !reflect.DeepEqual(cats, []string{"Carrelage", "Meuble", "Autre"}) {
		t.Errorf("categories = %v", cats)
	}
	if other := nav.Children[2]; len(other.Children) != 1 || other.Children[0].Title != "• B - Lamps" {
		t.Errorf("other bucket = %+v", other.Children)
	}
}

func TestMergeFetchFailureAborts(t *testing.T) {
	srv := pdftest.Server(t, map[string][]byte{
		"/a.pdf": pdftest.Build(3),
		"/c.pdf": pdftest.Build(1),
	})
	ws := newWorkspace(t)
	req := &Request{Sources: []Source{
		{Supplier: "A", URL: srv.URL + "/a.pdf"},
		{Supplier: "B", URL: srv.URL + "/missing.pdf"},
		{Supplier: "C", URL: srv.URL + "/c.pdf"},
	}}

	res, err := newEngine(3).Merge(context.Background(), req, ws)
	if res != nil {
		t.Fatal("partial result returned")
	}
	var se *SourceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SourceError", err)
	}
	if se.Index != 1 || se.Supplier != "B" || !strings.HasSuffix(se.URL, "/missing.pdf") {
		t.Errorf("SourceError = %+v", se)
	}
	var fe *fetch.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Errorf("cause = %v", err)
	}
	if apperrors.HTTPStatusCode(err) != http.StatusBadGateway {
		t.Errorf("status = %d", apperrors.HTTPStatusCode(err))
	}
	for _, p := range ws.Remaining() {
		if strings.Contains(p, "spool-") {
			t.Errorf("staged source left behind: %s", p)
		}
	}
	dir := ws.Dir()
	if err := ws.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("workspace survives cleanup: %v", err)
	}
}

func TestMergeParseFailure(t *testing.T) {
	srv := pdftest.Server(t, map[string][]byte{
		"/a.pdf": []byte("%PDF-1.4 truncated garbage"),
	})
	ws := newWorkspace(t)
	_, err := newEngine(1).Merge(context.Background(), &Request{Sources: []Source{
		{Supplier: "A", URL: srv.URL + "/a.pdf"},
	}}, ws)
	if !errors.Is(err, apperrors.ErrDocumentParse) {
		t.Fatalf("err = %v", err)
	}
	if apperrors.HTTPStatusCode(err) != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", apperrors.HTTPStatusCode(err))
	}
	if rem := ws.Remaining(); len(rem) > 1 {
		t.Errorf("Remaining = %v", rem)
	}
}

func TestMergeIsRepeatable(t *testing.T) {
	srv := pdftest.Server(t, map[string][]byte{
		"/a.pdf": pdftest.Build(2),
		"/b.pdf": pdftest.Build(3),
	})
	req := func() *Request {
		return &Request{Title: "T", Sources: []Source{
			{Supplier: "A", URL: srv.URL + "/a.pdf", Chapters: []Chapter{{Title: "x", Category: "meuble", StartPage: Page(2)}}},
			{Supplier: "B", URL: srv.URL + "/b.pdf"},
		}}
	}
	e := newEngine(1)
	first, err := e.Merge(context.Background(), req(), newWorkspace(t))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Merge(context.Background(), req(), newWorkspace(t))
	if err != nil {
		t.Fatal(err)
	}
	if first.Pages != second.Pages {
		t.Errorf("pages %d vs %d", first.Pages, second.Pages)
	}
	if !reflect.DeepEqual(flatten(first.Outline), flatten(second.Outline)) {
		t.Error("outline differs between runs")
	}
}

func TestMergeCanceled(t *testing.T) {
	srv := pdftest.Server(t, map[string][]byte{"/a.pdf": pdftest.Build(1)})
	ws := newWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newEngine(1).Merge(ctx, &Request{Sources: []Source{{Supplier: "A", URL: srv.URL + "/a.pdf"}}}, ws)
	if res != nil || err == nil {
		t.Fatalf("res = %v, err = %v", res, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	for _, p := range ws.Remaining() {
		if strings.Contains(p, "spool-") {
			t.Errorf("staged source left behind: %s", p)
		}
	}
}

func TestMergeValidation(t *testing.T) {
	_, err := newEngine(1).Merge(context.Background(), &Request{}, newWorkspace(t))
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}
