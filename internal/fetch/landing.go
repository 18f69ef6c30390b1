package fetch

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoPDFLink is returned when an HTML landing page has no usable link.
var ErrNoPDFLink = errors.New("no PDF link found in HTML page")

// maxLandingBytes bounds how much of an HTML page is parsed.
const maxLandingBytes = 2 << 20

// findPDFLink looks for <a href="...pdf"> first, then for anchors whose text
// mentions "download"/"télécharger"/"pdf". Links resolve against base.
func findPDFLink(r io.Reader, base *url.URL) (*url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(r, maxLandingBytes))
	if err != nil {
		return nil, err
	}
	var direct, labelled []*url.URL

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		txt := strings.ToLower(strings.TrimSpace(a.Text()))
		switch {
		case strings.HasSuffix(strings.ToLower(abs.Path), ".pdf"):
			direct = append(direct, abs)
		case strings.Contains(txt, "download"), strings.Contains(txt, "télécharger"), strings.Contains(txt, "pdf"):
			labelled = append(labelled, abs)
		}
	})

	if len(direct) > 0 {
		return direct[0], nil
	}
	if len(labelled) > 0 {
		return labelled[0], nil
	}
	return nil, ErrNoPDFLink
}
