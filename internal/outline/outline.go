// Package outline builds the bookmark tree of a merged document: one node per
// supplier with its chapters, plus a navigation subtree grouping the same
// chapters by category.
package outline

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Node is one bookmark. Page is 0-based and absolute in the output document.
type Node struct {
	Title    string
	Page     int
	Children []*Node
}

// Walk visits n and its descendants depth-first, parents before children.
func (n *Node) Walk(fn func(n *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// Count returns the number of descendants of n.
func (n *Node) Count() int {
	total := 0
	for _, c := range n.Children {
		total += 1 + c.Count()
	}
	return total
}

// Mark is a resolved chapter bookmark.
type Mark struct {
	Supplier string
	Title    string
	Page     int
}

// SupplierMark is one source's position in the output and its chapters in
// request order.
type SupplierMark struct {
	Supplier string
	Page     int
	Chapters []Mark
}

// Labels controls how bookmark titles are rendered.
type Labels struct {
	SupplierPrefix string
	ChapterPrefix  string
	Navigation     string
}

// DefaultLabels returns the French catalogue labels.
func DefaultLabels() Labels {
	return Labels{
		SupplierPrefix: "📁 ",
		ChapterPrefix:  "• ",
		Navigation:     "🗂️ Navigation par catégorie",
	}
}

// Builder assembles the outline tree from already-absolute page targets.
type Builder struct {
	Labels Labels
}

// Build returns the root node titled title. Suppliers come first in request
// order, followed by the navigation node, which is always present and
// targets page 0. Category buckets must already exclude empty ones.
func (b Builder) Build(title string, suppliers []SupplierMark, buckets []Bucket) *Node {
	root := &Node{Title: title, Page: 0}
	root.Children = append(root.Children, b.supplierTree(suppliers)...)
	root.Children = append(root.Children, b.categoryTree(buckets))
	return root
}

func (b Builder) supplierTree(suppliers []SupplierMark) []*Node {
	nodes := make([]*Node, 0, len(suppliers))
	for _, s := range suppliers {
		n := &Node{Title: b.Labels.SupplierPrefix + s.Supplier, Page: s.Page}
		for _, ch := range s.Chapters {
			n.Children = append(n.Children, &Node{
				Title: b.Labels.ChapterPrefix + ch.Title,
				Page:  ch.Page,
			})
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// capitalize upper-cases the first rune and lower-cases the rest:
// "salle de bain" becomes "Salle de bain".
func capitalize(s string) string {
	_, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return cases.Upper(language.French).String(s[:n]) + cases.Lower(language.French).String(s[n:])
}

func (b Builder) categoryTree(buckets []Bucket) *Node {
	nav := &Node{Title: b.Labels.Navigation, Page: 0}
	for _, bk := range buckets {
		if len(bk.Marks) == 0 {
			continue
		}
		cat := &Node{Title: capitalize(bk.Name), Page: bk.Marks[0].Page}
		for _, m := range bk.Marks {
			cat.Children = append(cat.Children, &Node{
				Title: b.Labels.ChapterPrefix + m.Supplier + " - " + m.Title,
				Page:  m.Page,
			})
		}
		nav.Children = append(nav.Children, cat)
	}
	return nav
}

// Bucket is the chapters assigned to one category, in encounter order.
type Bucket struct {
	Name  string
	Marks []Mark
}

// Categories is the fixed category enumeration of one request plus the
// reserved bucket that receives unknown categories.
type Categories struct {
	order   []string
	other   string
	buckets map[string][]Mark
}

// DefaultCategoryNames is the built-in enumeration; the last entry is the
// other bucket.
var DefaultCategoryNames = []string{"carrelage", "robinetterie", "meuble", "sanitaire", "autre"}

// NewCategories creates empty buckets for names. other is appended to the
// enumeration if it is not already part of it.
func NewCategories(names []string, other string) *Categories {
	c := &Categories{
		other:   normalize(other),
		buckets: make(map[string][]Mark),
	}
	seen := make(map[string]bool)
	for _, n := range names {
		n = normalize(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		c.order = append(c.order, n)
	}
	if !seen[c.other] {
		c.order = append(c.order, c.other)
	}
	return c
}

// DefaultCategories returns the built-in enumeration with "autre" as other.
func DefaultCategories() *Categories {
	return NewCategories(DefaultCategoryNames, "autre")
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Other returns the name of the reserved bucket.
func (c *Categories) Other() string { return c.other }

// Resolve maps a free-form category to a bucket name. Unknown or empty
// categories resolve to the other bucket.
func (c *Categories) Resolve(raw string) string {
	n := normalize(raw)
	for _, name := range c.order {
		if name == n {
			return n
		}
	}
	return c.other
}

// Add appends m to the bucket category resolves to and returns that bucket.
func (c *Categories) Add(category string, m Mark) string {
	name := c.Resolve(category)
	c.buckets[name] = append(c.buckets[name], m)
	return name
}

// Buckets returns the non-empty buckets in enumeration order.
func (c *Categories) Buckets() []Bucket {
	var out []Bucket
	for _, name := range c.order {
		if marks := c.buckets[name]; len(marks) > 0 {
			out = append(out, Bucket{Name: name, Marks: append([]Mark(nil), marks...)})
		}
	}
	return out
}
