// Package merge concatenates remote supplier catalogues into one document
// and records where every supplier and chapter landed.
package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	apperrors "example.com/pdf-fusion/pkg/errors"
)

// DefaultTitle is used when a request carries no title.
const DefaultTitle = "Catalogue fusionné"

// Request is one merge: sources in output order and the root bookmark title.
type Request struct {
	Title   string   `json:"title"`
	Sources []Source `json:"sources"`
}

// Source is one supplier document.
type Source struct {
	Supplier string    `json:"supplierLabel"`
	URL      string    `json:"url"`
	Chapters []Chapter `json:"chapters"`
}

// Chapter is a bookmark inside a source. StartPage is 1-based and relative
// to the source's own pages.
type Chapter struct {
	Title     string     `json:"title"`
	Category  string     `json:"category"`
	StartPage PageNumber `json:"startPage"`
}

// PageNumber is a leniently decoded page number. Numbers and numeric strings
// are accepted; anything else is kept in Raw and marked invalid instead of
// failing the whole request.
type PageNumber struct {
	Value int
	Raw   string
	Set   bool
	Valid bool
}

// Page returns a valid PageNumber.
func Page(n int) PageNumber {
	return PageNumber{Value: n, Raw: strconv.Itoa(n), Set: true, Valid: true}
}

func (p *PageNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = PageNumber{}
		return nil
	}
	p.Set = true
	p.Raw = string(b)
	if len(b) > 0 && b[0] == '"' {
		// Strings must hold a whole number: "2.7" is not a page.
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		p.Raw = s
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		var numErr *strconv.NumError
		if err != nil && !(errors.As(err, &numErr) && numErr.Err == strconv.ErrRange) {
			p.Valid = false
			return nil
		}
		p.Value = clampPage(float64(n))
		p.Valid = true
		return nil
	}
	// JSON numbers truncate toward zero.
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.Valid = false
		return nil
	}
	p.Value = clampPage(f)
	p.Valid = true
	return nil
}

func clampPage(f float64) int {
	return int(math.Max(math.Min(f, math.MaxInt32), math.MinInt32))
}

func (p PageNumber) MarshalJSON() ([]byte, error) {
	switch {
	case !p.Set:
		return []byte("null"), nil
	case p.Valid:
		return []byte(strconv.Itoa(p.Value)), nil
	default:
		return json.Marshal(p.Raw)
	}
}

// ValidationError lists what is wrong with a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == apperrors.ErrValidation }

// Validate checks the request shape and fills in the default title.
func (r *Request) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		r.Title = DefaultTitle
	}
	var problems []string
	if len(r.Sources) == 0 {
		problems = append(problems, "no sources given")
	}
	for i := range r.Sources {
		s := &r.Sources[i]
		s.Supplier = strings.TrimSpace(s.Supplier)
		s.URL = strings.TrimSpace(s.URL)
		if s.Supplier == "" {
			problems = append(problems, fmt.Sprintf("source %d: missing supplier label", i+1))
		}
		if s.URL == "" {
			problems = append(problems, fmt.Sprintf("source %d: missing url", i+1))
			continue
		}
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("source %d: url %q is not http(s)", i+1, s.URL))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
