package main

import (
	"example.com/pdf-fusion/internal/merge"
)

// ---- wire types ----

// fusionPayload is the POST /fusion-pdf body. The French keys of the first
// catalogue clients (catalogues, fournisseur, chapitres, ...) are still
// accepted next to the English ones.
type fusionPayload struct {
	Title       string          `json:"title"`
	TitreGlobal string          `json:"titre_global"`
	Sources     []sourcePayload `json:"sources"`
	Catalogues  []sourcePayload `json:"catalogues"`
}

type sourcePayload struct {
	SupplierLabel string           `json:"supplierLabel"`
	Fournisseur   string           `json:"fournisseur"`
	URL           string           `json:"url"`
	Chapters      []chapterPayload `json:"chapters"`
	Chapitres     []chapterPayload `json:"chapitres"`
}

type chapterPayload struct {
	Title     string           `json:"title"`
	Titre     string           `json:"titre"`
	Category  string           `json:"category"`
	Categorie string           `json:"categorie"`
	StartPage merge.PageNumber `json:"startPage"`
	PageDebut merge.PageNumber `json:"page_debut"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// request converts the payload into an engine request.
func (p fusionPayload) request() *merge.Request {
	sources := p.Sources
	if len(sources) == 0 {
		sources = p.Catalogues
	}
	req := &merge.Request{
		Title:   firstNonEmpty(p.Title, p.TitreGlobal),
		Sources: make([]merge.Source, 0, len(sources)),
	}
	for _, s := range sources {
		chapters := s.Chapters
		if len(chapters) == 0 {
			chapters = s.Chapitres
		}
		src := merge.Source{
			Supplier: firstNonEmpty(s.SupplierLabel, s.Fournisseur),
			URL:      s.URL,
		}
		for _, c := range chapters {
			start := c.StartPage
			if !start.Set {
				start = c.PageDebut
			}
			src.Chapters = append(src.Chapters, merge.Chapter{
				Title:     firstNonEmpty(c.Title, c.Titre),
				Category:  firstNonEmpty(c.Category, c.Categorie),
				StartPage: start,
			})
		}
		req.Sources = append(req.Sources, src)
	}
	return req
}

// sourceRef identifies the source an error came from. Index is 0-based.
type sourceRef struct {
	Index    int    `json:"index"`
	Supplier string `json:"supplier"`
	URL      string `json:"url"`
}

type errorBody struct {
	Error     string     `json:"error"`
	Kind      string     `json:"kind"`
	RequestID string     `json:"requestId,omitempty"`
	Source    *sourceRef `json:"source,omitempty"`
}
