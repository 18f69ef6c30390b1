package merge

import (
	"fmt"
	"strings"
)

// ChapterResult is the outcome of placing one chapter bookmark. A dropped
// chapter never fails the merge; Reason says why it was skipped.
type ChapterResult struct {
	Source   int    `json:"source"`
	Supplier string `json:"supplier"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Page     int    `json:"page"`
	Clamped  bool   `json:"clamped,omitempty"`
	Dropped  bool   `json:"dropped,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ResolveChapter places ch on an absolute 0-based page. offset is where the
// source's first page landed and pageCount its number of pages. Start pages
// below 1 clamp to the first page and pages past the end clamp to the last.
func ResolveChapter(ch Chapter, supplier string, offset, pageCount int) ChapterResult {
	res := ChapterResult{
		Supplier: supplier,
		Title:    strings.TrimSpace(ch.Title),
		Category: ch.Category,
	}
	switch {
	case res.Title == "":
		return dropped(res, "missing title")
	case !ch.StartPage.Set:
		return dropped(res, "missing start page")
	case !ch.StartPage.Valid:
		return dropped(res, fmt.Sprintf("start page %q is not a number", ch.StartPage.Raw))
	case pageCount < 1:
		return dropped(res, "source has no pages")
	}

	rel := ch.StartPage.Value - 1
	if rel < 0 {
		rel = 0
		res.Clamped = true
	}
	if rel > pageCount-1 {
		rel = pageCount - 1
		res.Clamped = true
	}
	res.Page = offset + rel
	return res
}

func dropped(res ChapterResult, reason string) ChapterResult {
	res.Dropped = true
	res.Reason = reason
	return res
}
