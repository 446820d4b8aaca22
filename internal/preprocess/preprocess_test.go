package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

// page returns a white w x h page.
func page(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = paper
	}
	return g
}

// textBlock paints horizontal 8px bars every 16px inside [x0,x1) x [y0,y1),
// which is what lines of text look like once binarized.
func textBlock(g *image.Gray, x0, x1, y0, y1 int) {
	for y := y0; y < y1; y++ {
		if (y-y0)%16 >= 8 {
			continue
		}
		for x := x0; x < x1; x++ {
			g.SetGray(x, y, color.Gray{Y: ink})
		}
	}
}

func TestProcess(t *testing.T) {
	p := New(Config{})

	t.Run("single column is one full-page region", func(t *testing.T) {
		img := page(1000, 800)
		textBlock(img, 100, 900, 100, 700)

		regions, err := p.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 1 {
			t.Fatalf("got %d regions, want 1", len(regions))
		}
		if regions[0].Bounds != img.Rect {
			t.Errorf("Bounds = %v, want %v", regions[0].Bounds, img.Rect)
		}
	})

	t.Run("blank page is one region", func(t *testing.T) {
		regions, err := p.Process(page(400, 300))
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 1 {
			t.Fatalf("got %d regions, want 1", len(regions))
		}
	})

	t.Run("two columns split at gutter", func(t *testing.T) {
		img := page(1000, 800)
		textBlock(img, 100, 450, 100, 700)
		textBlock(img, 550, 900, 100, 700)

		regions, err := p.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 2 {
			t.Fatalf("got %d regions, want 2", len(regions))
		}
		cut := regions[0].Bounds.Max.X
		if cut < 450 || cut > 550 {
			t.Errorf("cut at x=%d, want inside gutter 450..550", cut)
		}
		if regions[1].Bounds.Min.X != cut || regions[1].Bounds.Max.X != 1000 {
			t.Errorf("second region = %v", regions[1].Bounds)
		}
		for i, r := range regions {
			if r.Index != i {
				t.Errorf("region %d has Index %d", i, r.Index)
			}
			if r.Bounds.Min.Y != 0 || r.Bounds.Max.Y != 800 {
				t.Errorf("region %d does not span full height: %v", i, r.Bounds)
			}
			if r.Image.Rect.Dx() != r.Bounds.Dx() || r.Image.Rect.Dy() != r.Bounds.Dy() {
				t.Errorf("region %d image %v does not match bounds %v", i, r.Image.Rect, r.Bounds)
			}
		}
	})

	t.Run("accepts colour images", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 1000, 800))
		for i := range img.Pix {
			img.Pix[i] = 0xff
		}
		gray := page(1000, 800)
		textBlock(gray, 100, 450, 100, 700)
		textBlock(gray, 550, 900, 100, 700)
		for y := 0; y < 800; y++ {
			for x := 0; x < 1000; x++ {
				if gray.GrayAt(x, y).Y == ink {
					img.Set(x, y, color.RGBA{A: 0xff})
				}
			}
		}

		regions, err := p.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 2 {
			t.Fatalf("got %d regions, want 2", len(regions))
		}
	})

	t.Run("narrow gutter is ignored", func(t *testing.T) {
		img := page(1000, 800)
		textBlock(img, 100, 495, 100, 700)
		textBlock(img, 505, 900, 100, 700)

		regions, err := p.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 1 {
			t.Fatalf("got %d regions, want 1", len(regions))
		}
	})

	t.Run("gutter broken inside coverage band is ignored", func(t *testing.T) {
		img := page(1000, 800)
		textBlock(img, 100, 450, 100, 700)
		textBlock(img, 550, 900, 100, 700)
		// a figure spanning both columns halfway down
		textBlock(img, 100, 900, 380, 420)

		regions, err := p.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 1 {
			t.Fatalf("got %d regions, want 1", len(regions))
		}
	})

	t.Run("spanning header outside band still splits", func(t *testing.T) {
		img := page(1000, 800)
		textBlock(img, 100, 900, 20, 60)
		textBlock(img, 100, 450, 100, 700)
		textBlock(img, 550, 900, 100, 700)

		regions, err := p.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 2 {
			t.Fatalf("got %d regions, want 2", len(regions))
		}
	})

	t.Run("sliver merges into neighbour", func(t *testing.T) {
		img := page(1000, 800)
		textBlock(img, 50, 450, 100, 700)
		textBlock(img, 500, 520, 100, 700)
		textBlock(img, 560, 950, 100, 700)

		regions, err := p.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 2 {
			t.Fatalf("got %d regions, want 2: %v", len(regions), boundsOf(regions))
		}
		if regions[0].Bounds.Max.X < 520 {
			t.Errorf("sliver not merged left: %v", boundsOf(regions))
		}
	})

	t.Run("right to left order", func(t *testing.T) {
		rtl := New(Config{ReadingOrder: OrderRTL})
		img := page(1000, 800)
		textBlock(img, 100, 450, 100, 700)
		textBlock(img, 550, 900, 100, 700)

		regions, err := rtl.Process(img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if len(regions) != 2 {
			t.Fatalf("got %d regions, want 2", len(regions))
		}
		if regions[0].Index != 0 || regions[0].Bounds.Max.X != 1000 {
			t.Errorf("first region should be rightmost, got %v", boundsOf(regions))
		}
	})
}

func TestProcess_Empty(t *testing.T) {
	p := New(Config{})
	for name, img := range map[string]image.Image{
		"nil":       nil,
		"zero area": image.NewGray(image.Rect(0, 0, 0, 0)),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Process(img)
			if !errors.Is(err, ErrEmptyImage) {
				t.Fatalf("err = %v, want ErrEmptyImage", err)
			}
			var pe *Error
			if !errors.As(err, &pe) {
				t.Errorf("err = %T, want *Error", err)
			}
		})
	}
}

func TestProcess_Idempotent(t *testing.T) {
	p := New(Config{})
	img := page(1000, 800)
	textBlock(img, 100, 450, 100, 700)
	textBlock(img, 550, 900, 100, 700)
	skewed := rotate(img, 2)

	first, err := p.Process(skewed)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Process(skewed)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("region count changed: %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Bounds != second[i].Bounds {
			t.Errorf("region %d bounds changed: %v then %v", i, first[i].Bounds, second[i].Bounds)
		}
		if !bytes.Equal(first[i].Image.Pix, second[i].Image.Pix) {
			t.Errorf("region %d pixels changed", i)
		}
	}
}

func TestEstimateSkew(t *testing.T) {
	img := page(1000, 800)
	textBlock(img, 150, 850, 150, 650)

	for _, angle := range []float64{0, 3, -2} {
		src := img
		if angle != 0 {
			src = rotate(img, angle)
		}
		bin := binarize(src, otsuThreshold(src))
		got := estimateSkew(bin, 5, 0.5)
		if math.Abs(got+angle) > 0.5 {
			t.Errorf("rotated by %v: estimateSkew() = %v, want about %v", angle, got, -angle)
		}
	}
}

func TestOtsuThreshold(t *testing.T) {
	blank := page(10, 10)
	if got := binarize(blank, otsuThreshold(blank)); bytes.IndexByte(got.Pix, ink) >= 0 {
		t.Error("blank page produced ink")
	}

	g := image.NewGray(image.Rect(0, 0, 4, 1))
	g.Pix = []byte{10, 20, 200, 240}
	th := otsuThreshold(g)
	if th < 20 || th >= 200 {
		t.Errorf("threshold = %d, want between the two clusters", th)
	}
	bin := binarize(g, th)
	if !bytes.Equal(bin.Pix, []byte{ink, ink, paper, paper}) {
		t.Errorf("binarize = %v", bin.Pix)
	}
}

func TestMergeNarrow(t *testing.T) {
	tests := []struct {
		name  string
		spans []span
		min   int
		want  []span
	}{
		{"nothing narrow", []span{{0, 50}, {50, 100}}, 20, []span{{0, 50}, {50, 100}}},
		{"first merges right", []span{{0, 10}, {10, 100}}, 20, []span{{0, 100}}},
		{"middle merges left", []span{{0, 40}, {40, 50}, {50, 100}}, 20, []span{{0, 50}, {50, 100}}},
		{"last merges left", []span{{0, 90}, {90, 100}}, 20, []span{{0, 100}}},
		{"all narrow collapse", []span{{0, 5}, {5, 10}, {10, 15}}, 20, []span{{0, 15}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeNarrow(tt.spans, tt.min)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := New(Config{MaxSkewDegrees: -1, ReadingOrder: "sideways"}).Config()
	if cfg.MaxSkewDegrees != 0 {
		t.Errorf("negative MaxSkewDegrees should disable deskew, got %v", cfg.MaxSkewDegrees)
	}
	if cfg.ReadingOrder != OrderLTR {
		t.Errorf("ReadingOrder = %q, want ltr", cfg.ReadingOrder)
	}
	if cfg.MinRegionWidth != DefaultConfig().MinRegionWidth {
		t.Errorf("MinRegionWidth = %v", cfg.MinRegionWidth)
	}
}

func boundsOf(regions []Region) []image.Rectangle {
	out := make([]image.Rectangle, len(regions))
	for i, r := range regions {
		out[i] = r.Bounds
	}
	return out
}
