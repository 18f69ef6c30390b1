package document

import (
	"encoding/hex"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/unicode"

	"example.com/pdf-fusion/internal/outline"
)

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// encodeTitle renders s as a UTF-16BE text string with byte order mark, so
// accents and emoji survive in every viewer.
func encodeTitle(s string) (types.HexLiteral, error) {
	b, err := utf16be.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return "", err
	}
	return types.HexLiteral(hex.EncodeToString(b)), nil
}

// writeOutline replaces the catalog outline of ctx with root. root itself
// becomes the single top-level item. Page targets are 0-based.
func writeOutline(ctx *model.Context, root *outline.Node) error {
	catalog, err := ctx.Catalog()
	if err != nil {
		return err
	}
	outlines := types.Dict{"Type": types.Name("Outlines")}
	outlinesRef, err := ctx.IndRefForNewObject(outlines)
	if err != nil {
		return err
	}
	first, last, err := writeItems(ctx, []*outline.Node{root}, *outlinesRef)
	if err != nil {
		return err
	}
	outlines["First"] = first
	outlines["Last"] = last
	outlines["Count"] = types.Integer(1 + root.Count())

	catalog["Outlines"] = *outlinesRef
	catalog["PageMode"] = types.Name("UseOutlines")
	return nil
}

// writeItems creates the sibling items nodes under parent and returns the
// first and last of them. Every item is written open.
func writeItems(ctx *model.Context, nodes []*outline.Node, parent types.IndirectRef) (types.IndirectRef, types.IndirectRef, error) {
	dicts := make([]types.Dict, len(nodes))
	refs := make([]types.IndirectRef, len(nodes))
	for i, n := range nodes {
		title, err := encodeTitle(n.Title)
		if err != nil {
			return types.IndirectRef{}, types.IndirectRef{}, fmt.Errorf("title %q: %w", n.Title, err)
		}
		page, err := ctx.PageDictIndRef(n.Page + 1)
		if err != nil || page == nil {
			return types.IndirectRef{}, types.IndirectRef{}, fmt.Errorf("bookmark %q: no page %d", n.Title, n.Page)
		}
		d := types.Dict{
			"Title":  title,
			"Parent": parent,
			"Dest":   types.Array{*page, types.Name("Fit")},
		}
		ir, err := ctx.IndRefForNewObject(d)
		if err != nil {
			return types.IndirectRef{}, types.IndirectRef{}, err
		}
		dicts[i], refs[i] = d, *ir
	}

	for i, n := range nodes {
		if i > 0 {
			dicts[i]["Prev"] = refs[i-1]
		}
		if i < len(nodes)-1 {
			dicts[i]["Next"] = refs[i+1]
		}
		if len(n.Children) == 0 {
			continue
		}
		first, last, err := writeItems(ctx, n.Children, refs[i])
		if err != nil {
			return types.IndirectRef{}, types.IndirectRef{}, err
		}
		dicts[i]["First"] = first
		dicts[i]["Last"] = last
		dicts[i]["Count"] = types.Integer(n.Count())
	}
	return refs[0], refs[len(refs)-1], nil
}
