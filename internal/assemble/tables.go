package assemble

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Table is a pipe table found in a document.
type Table struct {
	Index int
	// Heading is the text of the closest document-level heading above the
	// table, empty when there is none.
	Heading string
	// Source is the table's Markdown, header and delimiter rows included.
	Source string

	start, end int
}

// Tables returns the document-level pipe tables of markdown in order. Tables
// inside block quotes or lists are not returned.
func Tables(markdown string) []Table {
	src := []byte(markdown)
	doc := parser.Parse(text.NewReader(src))
	hs := headingsOf(src, doc)

	var out []Table
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if n.Kind() != east.KindTable {
			continue
		}
		start, ok := tableStart(src, n)
		if !ok {
			continue
		}
		// one line per row plus the delimiter row
		end := start
		for i := 0; i < n.ChildCount()+1 && end < len(src); i++ {
			if i > 0 {
				end++
			}
			end = lineEnd(src, end)
		}

		t := Table{Index: len(out), start: start, end: end, Source: markdown[start:end]}
		for _, h := range hs {
			if h.start >= start {
				break
			}
			if !h.nested {
				t.Heading = h.text
			}
		}
		out = append(out, t)
	}
	return out
}

// tableStart finds the offset of the header row from the first row that has
// a non-empty cell. Row k sits k lines below the header, plus one for the
// delimiter row once past the header.
func tableStart(src []byte, table ast.Node) (int, bool) {
	k := 0
	for row := table.FirstChild(); row != nil; row, k = row.NextSibling(), k+1 {
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			if cell.Lines().Len() == 0 {
				continue
			}
			pos := lineStart(src, cell.Lines().At(0).Start)
			up := k
			if k > 0 {
				up++
			}
			for ; up > 0 && pos > 0; up-- {
				pos = lineStart(src, pos-1)
			}
			return pos, true
		}
	}
	return 0, false
}

// ReplaceTables substitutes texts[i] for tables[i], which must come from
// Tables(markdown). An empty text keeps its table.
func ReplaceTables(markdown string, tables []Table, texts []string) string {
	var b strings.Builder
	prev := 0
	for i, t := range tables {
		if i >= len(texts) || strings.TrimSpace(texts[i]) == "" {
			continue
		}
		b.WriteString(markdown[prev:t.start])
		b.WriteString(strings.TrimSpace(texts[i]))
		prev = t.end
	}
	b.WriteString(markdown[prev:])
	return b.String()
}
