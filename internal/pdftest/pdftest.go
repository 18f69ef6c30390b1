// Package pdftest assembles small, structurally valid PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// Build returns a PDF with the given number of A4 pages. Each page draws a
// line whose length encodes the page number, so pages are distinguishable.
func Build(pages int) []byte {
	if pages < 1 {
		pages = 1
	}
	var buf bytes.Buffer
	offsets := []int{0}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	// page i uses objects 3+2i (page) and 4+2i (content)
	kids := new(bytes.Buffer)
	for i := 0; i < pages; i++ {
		fmt.Fprintf(kids, "%d 0 R ", 3+2*i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 595 842] >>", bytes.TrimSpace(kids.Bytes()), pages))

	for i := 0; i < pages; i++ {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << >> /Contents %d 0 R >>", 4+2*i))
		content := fmt.Sprintf("%d w 50 50 m %d 50 l S", 1, 60+10*i)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)
	return buf.Bytes()
}

// WriteFile writes a PDF with the given page count into dir.
func WriteFile(t testing.TB, dir, name string, pages int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, Build(pages), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// Server serves fixed documents by path. Paths missing from docs answer 404.
func Server(t testing.TB, docs map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", fmt.Sprint(len(b)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}
