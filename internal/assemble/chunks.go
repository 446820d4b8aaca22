package assemble

import "strings"

// DefaultChunkLevel is the deepest heading level that starts a new chunk.
const DefaultChunkLevel = 3

// Chunk is a heading-scoped slice of a document for retrieval indexing.
type Chunk struct {
	Index    int      `json:"index"`
	Filename string   `json:"filename"`
	Headings []string `json:"headings"` // enclosing headings, outermost first, in ATX form
	Content  string   `json:"content"`
}

// Chunks splits markdown at headings of level <= level. Each chunk carries the
// breadcrumb of headings above it; deeper headings, and headings inside block
// quotes or lists, stay in the content. Chunks with no content of their own
// are skipped.
func Chunks(filename, markdown string, level int) []Chunk {
	if level < 1 {
		level = DefaultChunkLevel
	}

	type crumb struct {
		level int
		line  string
	}
	var (
		stack  []crumb
		chunks []Chunk
		pos    int
	)
	emit := func(body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		hs := make([]string, len(stack))
		for i, c := range stack {
			hs[i] = c.line
		}
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Filename: filename,
			Headings: hs,
			Content:  body,
		})
	}

	for _, h := range scanHeadings([]byte(markdown)) {
		if h.nested || h.level > level {
			continue
		}
		emit(markdown[pos:h.start])
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, crumb{h.level, atxLine(h.level, h.text)})
		pos = h.end
	}
	emit(markdown[pos:])
	return chunks
}
