// Package assemble joins page Markdown into a document and normalises its
// heading levels.
package assemble

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultHeadingCutoff is the level the shallowest heading is moved to.
	DefaultHeadingCutoff = 1

	maxHeadingLevel = 6
)

// Page is one page's Markdown, or the reason it has none.
type Page struct {
	Index    int
	Markdown string
	Failed   bool
	Reason   string
}

// Options controls assembly.
type Options struct {
	// HeadingCutoff is the target level, 1..6, for the shallowest heading.
	HeadingCutoff int
}

// Result is the assembled document.
type Result struct {
	Markdown string

	// MinLevel is the shallowest heading level found before normalisation,
	// zero when the document has no headings.
	MinLevel int
	// Offset is the constant added to every heading level.
	Offset   int
	Headings int
}

// JoinRegions concatenates a page's region fragments in the order given,
// separated by blank lines. Empty fragments are dropped.
func JoinRegions(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Placeholder is the block emitted in place of a failed page. page is 0-based.
func Placeholder(page int, reason string) string {
	reason = strings.Join(strings.Fields(reason), " ")
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("> [page %d could not be converted: %s]", page+1, reason)
}

// Assemble orders pages by index and shifts all heading levels by one
// constant so the shallowest becomes opts.HeadingCutoff. Headings inside
// block quotes and lists, and empty ones such as "##", count and move like
// any other. Relative nesting is kept except where a level would exceed 6.
// Headings are never merged.
func Assemble(pages []Page, opts Options) Result {
	cutoff := opts.HeadingCutoff
	if cutoff < 1 || cutoff > maxHeadingLevel {
		cutoff = DefaultHeadingCutoff
	}

	sorted := make([]Page, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	type parsed struct {
		src string
		hs  []heading
	}
	parts := make([]parsed, len(sorted))
	var res Result
	for i, p := range sorted {
		if p.Failed {
			parts[i] = parsed{src: Placeholder(p.Index, p.Reason)}
			continue
		}
		src := strings.TrimSpace(p.Markdown)
		hs := scanHeadings([]byte(src))
		for _, h := range hs {
			if res.MinLevel == 0 || h.level < res.MinLevel {
				res.MinLevel = h.level
			}
		}
		res.Headings += len(hs)
		parts[i] = parsed{src: src, hs: hs}
	}

	if res.MinLevel > 0 {
		res.Offset = cutoff - res.MinLevel
	}
	shift := func(level int) int {
		return clamp(level + res.Offset)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.src == "" {
			continue
		}
		out = append(out, relevel(p.src, p.hs, shift))
	}
	res.Markdown = strings.Join(out, "\n\n")
	return res
}

func clamp(level int) int {
	if level < 1 {
		return 1
	}
	if level > maxHeadingLevel {
		return maxHeadingLevel
	}
	return level
}
