package assemble

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var parser = goldmark.New(goldmark.WithExtensions(extension.Table)).Parser()

// heading is a Markdown heading located in its source.
type heading struct {
	level int
	text  string
	// nested is set for headings inside block quotes or list items.
	nested bool

	// [start, end) covers the heading's lines, without the final newline.
	start, end int
	// [start, start+prefixLen) is whatever precedes the heading on its first
	// line: indentation, '>' markers, a list marker.
	prefixLen int

	// For ATX headings, [hashStart, hashEnd) is the run of '#'.
	atx       bool
	hashStart int
	hashEnd   int
}

// emptyATX matches a line holding only an ATX heading with no text, such as
// "##" or "> - ## ##".
var emptyATX = regexp.MustCompile(`^[ \t>]*(?:(?:[-*+]|\d{1,9}[.)])[ \t]+[ \t>]*)?(#{1,6})(?:[ \t]+#*)?[ \t]*$`)

// scanHeadings returns every heading of src in source order, including those
// nested in block quotes and lists. '#' lines in code and HTML blocks are not
// headings.
func scanHeadings(src []byte) []heading {
	return headingsOf(src, parser.Parse(text.NewReader(src)))
}

func headingsOf(src []byte, doc ast.Node) []heading {
	var (
		out   []heading
		empty []int // indices into out of headings with no text
		code  = make(map[int]bool)
	)
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				code[lineStart(src, lines.At(i).Start)] = true
			}
			return ast.WalkSkipChildren, nil
		case ast.KindHeading:
			h := n.(*ast.Heading)
			nested := h.Parent() != doc
			if h.Lines().Len() == 0 {
				empty = append(empty, len(out))
				out = append(out, heading{level: h.Level, nested: nested, atx: true, start: -1})
			} else {
				out = append(out, locate(src, h, nested))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	if len(empty) > 0 {
		out = placeEmpty(src, out, empty, code)
	}
	return out
}

// locate finds a heading with text in src.
func locate(src []byte, h *ast.Heading, nested bool) heading {
	lines := h.Lines()
	first, last := lines.At(0), lines.At(lines.Len()-1)
	ls := lineStart(src, first.Start)
	hd := heading{level: h.Level, nested: nested, start: ls}

	i := first.Start
	for i > ls && (src[i-1] == ' ' || src[i-1] == '\t') {
		i--
	}
	hashEnd := i
	for i > ls && src[i-1] == '#' {
		i--
	}
	if hashEnd-i == h.Level {
		hd.atx = true
		hd.hashStart, hd.hashEnd = i, hashEnd
		hd.prefixLen = i - ls
		hd.end = lineEnd(src, first.Start)
		hd.text = stripClosingHashes(string(bytes.TrimSpace(first.Value(src))))
		return hd
	}

	// setext: text lines followed by an underline of '=' or '-'
	hd.prefixLen = first.Start - ls
	underline := lineEnd(src, last.Start) + 1
	if underline > len(src) {
		underline = len(src)
	}
	hd.end = lineEnd(src, underline)
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, string(bytes.TrimSpace(seg.Value(src))))
	}
	hd.text = strings.Join(parts, " ")
	return hd
}

// placeEmpty gives text-less headings, which the parser records without
// positions, the source lines that hold them. The candidate lines are matched
// to the headings in order. When the two disagree the text-less headings are
// dropped and left untouched.
func placeEmpty(src []byte, hs []heading, empty []int, code map[int]bool) []heading {
	type hit struct{ start, end, hashStart, hashEnd int }
	var hits []hit
	for pos := 0; pos < len(src); {
		end := lineEnd(src, pos)
		if !code[pos] {
			if m := emptyATX.FindSubmatchIndex(src[pos:end]); m != nil {
				hits = append(hits, hit{pos, end, pos + m[2], pos + m[3]})
			}
		}
		pos = end + 1
	}

	ok := len(hits) == len(empty)
	for i := 0; ok && i < len(empty); i++ {
		ok = hits[i].hashEnd-hits[i].hashStart == hs[empty[i]].level
	}
	if !ok {
		kept := hs[:0]
		for _, h := range hs {
			if h.start >= 0 {
				kept = append(kept, h)
			}
		}
		return kept
	}

	for i, idx := range empty {
		h, m := &hs[idx], hits[i]
		h.start, h.end = m.start, m.end
		h.hashStart, h.hashEnd = m.hashStart, m.hashEnd
		h.prefixLen = m.hashStart - m.start
	}
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].start < hs[j].start })
	return hs
}

func lineStart(src []byte, pos int) int {
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

// lineEnd returns the index of the newline ending the line that holds pos, or
// len(src).
func lineEnd(src []byte, pos int) int {
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i
	}
	return len(src)
}

func stripClosingHashes(s string) string {
	t := strings.TrimRight(s, "#")
	if t == s {
		return s
	}
	if t == "" || strings.HasSuffix(t, " ") || strings.HasSuffix(t, "\t") {
		return strings.TrimSpace(t)
	}
	return s
}

// atxLine renders a heading in ATX form.
func atxLine(level int, text string) string {
	if text == "" {
		return strings.Repeat("#", level)
	}
	return strings.Repeat("#", level) + " " + text
}

// relevel rewrites every heading in src with level mapped through f. Setext
// headings always come out in ATX form, keeping the prefix of their first
// line.
func relevel(src string, hs []heading, f func(int) int) string {
	if len(hs) == 0 {
		return src
	}
	var b strings.Builder
	prev := 0
	for _, h := range hs {
		b.WriteString(src[prev:h.start])
		lvl := f(h.level)
		b.WriteString(src[h.start : h.start+h.prefixLen])
		if h.atx {
			b.WriteString(strings.Repeat("#", lvl))
			b.WriteString(src[h.hashEnd:h.end])
		} else {
			b.WriteString(atxLine(lvl, h.text))
		}
		prev = h.end
	}
	b.WriteString(src[prev:])
	return b.String()
}
