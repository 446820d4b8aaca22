package preprocess

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	ink   = 0
	paper = 0xff

	// deskew scoring samples the page on a grid of at most this many columns
	skewSampleWidth = 600
)

// toGray converts img to an 8-bit grayscale copy with its origin at (0,0).
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

// otsuThreshold returns the level that best separates ink from paper. Pixels at
// or below the threshold are ink. A uniform image yields 0.
func otsuThreshold(g *image.Gray) uint8 {
	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}
	total := len(g.Pix)

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, best float64
		wB         int
		threshold  uint8
	)
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// binarize maps every pixel to ink or paper.
func binarize(g *image.Gray, threshold uint8) *image.Gray {
	out := image.NewGray(g.Rect)
	for i, v := range g.Pix {
		if v <= threshold {
			out.Pix[i] = ink
		} else {
			out.Pix[i] = paper
		}
	}
	return out
}

// estimateSkew finds the rotation, in degrees, that makes text lines
// horizontal: the angle whose row projection of ink has the highest energy.
// Angles are tried from zero outwards so ties favour the smaller correction.
func estimateSkew(bin *image.Gray, maxDeg, stepDeg float64) float64 {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	stride := (w + skewSampleWidth - 1) / skewSampleWidth
	if stride < 1 {
		stride = 1
	}

	type point struct{ x, y float64 }
	var pts []point
	for y := 0; y < h; y += stride {
		row := bin.Pix[y*bin.Stride:]
		for x := 0; x < w; x += stride {
			if row[x] == ink {
				pts = append(pts, point{float64(x), float64(y)})
			}
		}
	}
	if len(pts) < 2 {
		return 0
	}

	cx, cy := float64(w)/2, float64(h)/2
	diag := math.Hypot(float64(w), float64(h))
	bins := int(diag/float64(stride)) + 2
	counts := make([]int, bins)

	score := func(deg float64) float64 {
		for i := range counts {
			counts[i] = 0
		}
		sin, cos := math.Sincos(deg * math.Pi / 180)
		for _, p := range pts {
			dx, dy := p.x-cx, p.y-cy
			ry := dx*sin + dy*cos
			idx := int(math.Floor(ry/float64(stride))) + bins/2
			if idx >= 0 && idx < bins {
				counts[idx]++
			}
		}
		var energy float64
		for _, c := range counts {
			energy += float64(c * c)
		}
		return energy
	}

	steps := int(math.Round(maxDeg / stepDeg))
	bestAngle, bestScore := 0.0, score(0)
	for i := 1; i <= steps; i++ {
		for _, deg := range []float64{float64(i) * stepDeg, -float64(i) * stepDeg} {
			if s := score(deg); s > bestScore {
				bestAngle, bestScore = deg, s
			}
		}
	}
	return bestAngle
}

// rotate turns g by deg about its centre, keeping its size. Uncovered corners
// are filled with paper.
func rotate(g *image.Gray, deg float64) *image.Gray {
	out := image.NewGray(g.Rect)
	for i := range out.Pix {
		out.Pix[i] = paper
	}
	sin, cos := math.Sincos(deg * math.Pi / 180)
	cx, cy := float64(g.Rect.Dx())/2, float64(g.Rect.Dy())/2
	m := f64.Aff3{
		cos, -sin, cx - (cos*cx - sin*cy),
		sin, cos, cy - (sin*cx + cos*cy),
	}
	draw.BiLinear.Transform(out, m, g, g.Rect, draw.Src, nil)
	return out
}

// crop copies r out of g into an image whose origin is (0,0).
func crop(g *image.Gray, r image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := g.Pix[(r.Min.Y+y)*g.Stride+r.Min.X : (r.Min.Y+y)*g.Stride+r.Max.X]
		copy(out.Pix[y*out.Stride:], src)
	}
	return out
}
