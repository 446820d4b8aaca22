package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// PdftoppmRenderer shells out to poppler's pdftoppm. It needs no cgo and is
// the fallback for hosts without MuPDF.
type PdftoppmRenderer struct {
	DPI    int
	Binary string // defaults to "pdftoppm" on PATH
}

func (r *PdftoppmRenderer) PageCount(pdf []byte) (int, error) {
	return PageCount(pdf)
}

// Render rasterises the 0-based page into a PNG via a temp directory.
func (r *PdftoppmRenderer) Render(ctx context.Context, pdf []byte, page int) (image.Image, error) {
	if err := checkPage(pdf, page); err != nil {
		return nil, err
	}

	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	bin := r.Binary
	if bin == "" {
		bin = "pdftoppm"
	}

	tmpDir, err := os.MkdirTemp("", "pdfmark-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	srcPath := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(srcPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write source pdf: %w", err)
	}

	// -singlefile writes <prefix>.png without a page number suffix
	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(page + 1)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		srcPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Page: page, Err: fmt.Errorf("pdftoppm failed: %w (output: %s)", err, bytes.TrimSpace(output))}
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, &Error{Page: page, Err: fmt.Errorf("pdftoppm did not create expected output: %w", err)}
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Page: page, Err: fmt.Errorf("decode rendered page: %w", err)}
	}
	return img, nil
}
