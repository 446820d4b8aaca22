package preprocess

import "image"

type span struct{ start, end int }

func (s span) width() int { return s.end - s.start }

// findGutters returns the x positions at which bin should be split: the
// centres of whitespace runs that are clear over the central band of the page,
// wide enough, and strictly between the outermost inked columns.
func findGutters(bin *image.Gray, cfg Config) []int {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	margin := int(float64(h) * (1 - cfg.GutterCoverage) / 2)
	y0, y1 := margin, h-margin
	if y1 <= y0 {
		return nil
	}
	band := float64(y1 - y0)

	clear := make([]bool, w)
	for x := 0; x < w; x++ {
		var n int
		for y := y0; y < y1; y++ {
			if bin.Pix[y*bin.Stride+x] == ink {
				n++
			}
		}
		clear[x] = float64(n)/band <= cfg.GutterInkRatio
	}

	left, right := -1, -1
	for x := 0; x < w; x++ {
		if !clear[x] {
			if left < 0 {
				left = x
			}
			right = x
		}
	}
	if left < 0 {
		return nil
	}

	minWidth := int(cfg.MinGutterWidth * float64(w))
	if minWidth < 1 {
		minWidth = 1
	}

	var cuts []int
	for x := left; x <= right; {
		if !clear[x] {
			x++
			continue
		}
		start := x
		for x <= right && clear[x] {
			x++
		}
		if x-start >= minWidth {
			cuts = append(cuts, (start+x-1)/2)
		}
	}
	return cuts
}

// splitAt turns cut positions into consecutive spans covering [0, width).
func splitAt(width int, cuts []int) []span {
	spans := make([]span, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		spans = append(spans, span{prev, c})
		prev = c
	}
	return append(spans, span{prev, width})
}

// mergeNarrow folds spans narrower than minWidth into their left neighbour, or
// the right one for the first span, until none remain or one span is left.
func mergeNarrow(spans []span, minWidth int) []span {
	for len(spans) > 1 {
		i := -1
		for j, s := range spans {
			if s.width() < minWidth {
				i = j
				break
			}
		}
		if i < 0 {
			break
		}
		if i == 0 {
			spans[1].start = spans[0].start
			spans = spans[1:]
			continue
		}
		spans[i-1].end = spans[i].end
		spans = append(spans[:i], spans[i+1:]...)
	}
	return spans
}
