package reconcile

import (
	"fmt"
	"strings"
)

const systemPrompt = `# Role
You transcribe one region of a scanned document page into Markdown.

# Input
1. An image of the region. This is the source of truth.
2. Optionally, OCR text extracted from the same region. Use it to confirm characters, not structure. Where it disagrees with the image (mis-segmented tables, merged columns, dropped symbols) follow the image.

# Text
- Transcribe every character verbatim: punctuation, numbers, symbols, diacritics, apparent typos.
- Do not summarise, paraphrase, translate, correct or add anything.
- Write [illegible] for text that cannot be read. Do not guess.

# Structure
- Headings: use # levels that reflect the visual hierarchy within this region. Heading text is verbatim.
- Paragraphs are separated by a blank line.
- Lists: use - for bulleted items and keep the original numbering or lettering for ordered items. Keep nesting.
- Tables: use Markdown table syntax with verbatim cell content.
- Emphasis only where visible: **bold**, _italic_, ~~strikethrough~~.

# Output
Output only the Markdown for this region, starting with its first visible element. No code fences, introductions, explanations or apologies.`

// userMessage builds the per-region prompt: document context, then the OCR
// hint when there is one.
func userMessage(req Request) string {
	var b strings.Builder
	if req.Filename != "" {
		fmt.Fprintf(&b, "The filename is: %s\n\n", req.Filename)
	}
	fmt.Fprintf(&b, "This is page %d", req.PageIndex+1)
	if req.RegionCount > 1 {
		fmt.Fprintf(&b, ", column %d of %d in reading order", req.RegionIndex+1, req.RegionCount)
	}
	b.WriteString(".")

	if hint := strings.TrimSpace(req.OCRText); hint != "" {
		fmt.Fprintf(&b, "\n\nThe extracted OCR text of THIS region is:\n%s", hint)
	} else {
		b.WriteString("\n\nNo OCR text is available; transcribe from the image alone.")
	}
	return b.String()
}

const tablePrompt = `# Role
You rewrite a Markdown table as plain sentences for a search index.

# Task
- Find the data cells: cells holding values, not row or column headers.
- Write exactly one sentence per data cell. The sentence names the cell's row header, its column header and its value. Mention the section context when one is given.
- Keep the language of the table.
- Use only what the table states. Do not interpret, infer, add or round anything.

# Example
Table:
| Tariff | ET10 | ET15 |
|---|---|---|
| Reimbursement rate in % | 90 | 85 |

Output:
- For the tariff ET10, the reimbursement rate is 90%.
- For the tariff ET15, the reimbursement rate is 85%.

# Output
Output only the sentences as a Markdown bullet list. No code fences, introductions or explanations.`

func tableMessage(req TableRequest) string {
	var b strings.Builder
	if req.Filename != "" {
		fmt.Fprintf(&b, "The filename is: %s\n\n", req.Filename)
	}
	if h := strings.TrimSpace(req.Heading); h != "" {
		fmt.Fprintf(&b, "Context:\n%s\n\n", h)
	}
	fmt.Fprintf(&b, "Table:\n%s", strings.TrimSpace(req.Table))
	return b.String()
}
