package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/pdfmark/internal/artifacts"
	"github.com/jackzampolin/pdfmark/internal/assemble"
	"github.com/jackzampolin/pdfmark/internal/ocr"
	"github.com/jackzampolin/pdfmark/internal/preprocess"
	"github.com/jackzampolin/pdfmark/internal/reconcile"
	"github.com/jackzampolin/pdfmark/internal/render"
	"github.com/jackzampolin/pdfmark/internal/store"
)

// execute drives one document from its current snapshot to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, r *run, pdf []byte, renderer render.Renderer) {
	r.mu.Lock()
	snap := r.snap
	err := o.syncDocument(ctx, r)
	r.mu.Unlock()
	if err != nil {
		o.abort(ctx, r, err)
		return
	}

	if snap.Document.PageCount == 0 {
		o.settleDocument(ctx, r, store.DocFailed, "document has no pages")
		return
	}

	splitter := o.cfg.NewSplitter(r.options.ReadingOrder)

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxConcurrentPages)
	for _, p := range snap.Pages {
		if p.Status.Terminal() {
			continue
		}
		index := p.Index
		g.Go(func() error {
			return o.processPage(ctx, r, pdf, renderer, splitter, index)
		})
	}
	if err := g.Wait(); err != nil {
		o.abort(ctx, r, err)
		return
	}
	if ctx.Err() != nil {
		r.logger.Info("conversion interrupted")
		return
	}
	o.finish(ctx, r)
}

// abort records an infrastructure failure, such as a store write error, that
// stops the whole document.
func (o *Orchestrator) abort(ctx context.Context, r *run, err error) {
	if ctx.Err() != nil || errors.Is(err, errDiscarded) {
		return
	}
	r.logger.Error("conversion aborted", "error", err)
	o.settleDocument(ctx, r, store.DocFailed, err.Error())
}

// finish assembles the converted pages once every page is terminal.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	r.mu.Lock()
	snap := r.snap
	r.mu.Unlock()

	final := finalStatus(snap.Pages)
	if final == store.DocFailed {
		o.settleDocument(ctx, r, store.DocFailed, fmt.Sprintf("all %d pages failed", len(snap.Pages)))
		return
	}

	if err := o.setDocument(ctx, r, store.DocAssembling, ""); err != nil {
		o.abort(ctx, r, err)
		return
	}

	pages := make([]assemble.Page, 0, len(snap.Pages))
	failed := 0
	for _, p := range snap.Pages {
		if p.Status == store.PageFailed {
			failed++
			pages = append(pages, assemble.Page{Index: p.Index, Failed: true, Reason: p.Error})
			continue
		}
		md, err := o.pageMarkdown(ctx, r.id, p)
		if err != nil {
			o.abort(ctx, r, err)
			return
		}
		pages = append(pages, assemble.Page{Index: p.Index, Markdown: md})
	}

	res := assemble.Assemble(pages, assemble.Options{HeadingCutoff: snap.Document.HeadingCutoff})
	if r.options.TableText && o.cfg.Tables != nil {
		md, err := o.describeTables(ctx, r, res.Markdown)
		if err != nil {
			o.abort(ctx, r, err)
			return
		}
		res.Markdown = md
	}
	if err := o.artifacts.Put(ctx, artifacts.ResultKey(r.id), []byte(res.Markdown)); err != nil {
		o.abort(ctx, r, fmt.Errorf("store result: %w", err))
		return
	}

	reason := ""
	if failed > 0 {
		reason = fmt.Sprintf("%d of %d pages failed", failed, len(snap.Pages))
	}
	o.settleDocument(ctx, r, final, reason)
	r.logger.Info("conversion finished", "status", final, "headings", res.Headings, "heading_offset", res.Offset)
}

// describeTables replaces every top-level table in md with the model's
// sentences. A table the model cannot describe stays as Markdown.
func (o *Orchestrator) describeTables(ctx context.Context, r *run, md string) (string, error) {
	tables := assemble.Tables(md)
	if len(tables) == 0 {
		return md, nil
	}
	texts := make([]string, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentPages)
	for i, t := range tables {
		g.Go(func() error {
			req := reconcile.TableRequest{Table: t.Source, Heading: t.Heading, Filename: r.filename, Index: t.Index}
			var text string
			retries, err := o.withRetry(gctx, func(ctx context.Context) error {
				var err error
				text, err = o.cfg.Tables.DescribeTable(ctx, req)
				return err
			}, reconcile.IsTransient)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("table kept as markdown", "table", t.Index, "retries", retries, "error", err)
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return assemble.ReplaceTables(md, tables, texts), nil
}

// pageMarkdown joins a page's region fragments in region order.
func (o *Orchestrator) pageMarkdown(ctx context.Context, docID string, p store.Page) (string, error) {
	regions, err := o.store.ListRegions(ctx, docID, p.Index)
	if err != nil {
		return "", fmt.Errorf("list regions of page %d: %w", p.Index, err)
	}
	fragments := make([]string, 0, p.RegionCount)
	for _, reg := range regions {
		if reg.Index >= p.RegionCount {
			continue
		}
		if reg.Markdown == nil {
			return "", fmt.Errorf("page %d region %d has no markdown", p.Index, reg.Index)
		}
		fragments = append(fragments, *reg.Markdown)
	}
	return assemble.JoinRegions(fragments), nil
}

func (o *Orchestrator) settleDocument(ctx context.Context, r *run, status store.DocumentStatus, reason string) {
	if err := o.setDocument(ctx, r, status, reason); err != nil && !errors.Is(err, errDiscarded) {
		r.logger.Error("failed to record document status", "status", status, "error", err)
	}
}

// setDocument writes an explicit document status.
func (o *Orchestrator) setDocument(ctx context.Context, r *run, status store.DocumentStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return errDiscarded
	}
	cur := r.snap.Document
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: document %s -> %s", ErrInvalidTransition, cur.Status, status)
	}
	next := cur
	next.Status = status
	next.Error = reason
	next.UpdatedAt = o.cfg.Now()
	if err := o.store.UpdateDocument(ctx, next); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	r.snap = r.snap.withDocument(next)
	return nil
}

// syncDocument writes the status implied by the pages, if it changed.
// Callers hold r.mu.
func (o *Orchestrator) syncDocument(ctx context.Context, r *run) error {
	cur := r.snap.Document
	status, pending := runningStatus(cur.Status, r.snap.Pages)
	if !pending || status == cur.Status {
		return nil
	}
	next := cur
	next.Status = status
	next.UpdatedAt = o.cfg.Now()
	if err := o.store.UpdateDocument(ctx, next); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	r.logger.Debug("document status", "status", status)
	r.snap = r.snap.withDocument(next)
	return nil
}

// setPage moves a page to a new status, then lets the document follow.
func (o *Orchestrator) setPage(ctx context.Context, r *run, index int, to store.PageStatus, edit func(*store.Page)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return errDiscarded
	}
	next, err := transitionPage(r.snap.Pages[index], to, o.cfg.Now())
	if err != nil {
		return err
	}
	if edit != nil {
		edit(&next)
	}
	if err := o.store.UpsertPage(ctx, next); err != nil {
		return fmt.Errorf("persist page %d: %w", index, err)
	}
	r.snap = r.snap.withPage(next)
	return o.syncDocument(ctx, r)
}

func (o *Orchestrator) saveRegion(ctx context.Context, r *run, reg *store.Region) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return errDiscarded
	}
	reg.UpdatedAt = o.cfg.Now()
	if err := o.store.UpsertRegion(ctx, *reg); err != nil {
		return fmt.Errorf("persist region %d/%d: %w", reg.PageIndex, reg.Index, err)
	}
	return nil
}

// settle drops errors caused by cancellation or shutdown.
func settle(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil || errors.Is(err, errDiscarded) {
		return nil
	}
	return err
}

// processPage converts one page. Conversion failures mark the page failed and
// return nil; only infrastructure errors are returned.
func (o *Orchestrator) processPage(ctx context.Context, r *run, pdf []byte, renderer render.Renderer, splitter Splitter, index int) error {
	log := r.logger.With("page", index)

	if err := o.setPage(ctx, r, index, store.PageRendering, nil); err != nil {
		return settle(ctx, err)
	}

	var img image.Image
	retries, err := o.withRetry(ctx, func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.RenderTimeout)
		defer cancel()
		var err error
		img, err = renderer.Render(rctx, pdf, index)
		return err
	}, renderRetryable)
	if err != nil {
		return o.failPage(ctx, r, index, retries, err, log)
	}

	if err := o.setPage(ctx, r, index, store.PagePreprocessing, nil); err != nil {
		return settle(ctx, err)
	}
	regions, err := splitter.Process(img)
	if err != nil {
		return o.failPage(ctx, r, index, retries, err, log)
	}

	prior, err := o.store.ListRegions(ctx, r.id, index)
	if err != nil {
		return settle(ctx, fmt.Errorf("list regions: %w", err))
	}
	byIndex := make(map[int]store.Region, len(prior))
	for _, p := range prior {
		byIndex[p.Index] = p
	}

	if err := o.setPage(ctx, r, index, store.PageExtracting, func(p *store.Page) {
		p.RegionCount = len(regions)
		p.Retries = retries
		p.Error = ""
	}); err != nil {
		return settle(ctx, err)
	}
	log.Debug("page split", "regions", len(regions))

	var (
		extracted    atomic.Int32
		regionTotals atomic.Int64
		results      = make([]store.Region, len(regions))
	)
	onExtracted := func() error {
		if int(extracted.Add(1)) == len(regions) {
			return o.setPage(ctx, r, index, store.PageReconciling, nil)
		}
		return nil
	}

	rg := new(errgroup.Group)
	for i, reg := range regions {
		var p *store.Region
		if rec, ok := byIndex[reg.Index]; ok {
			p = &rec
		}
		rg.Go(func() error {
			rec, err := o.processRegion(ctx, r, index, len(regions), reg, p, r.options.SkipOCR, onExtracted, log)
			results[i] = rec
			regionTotals.Add(int64(rec.Retries))
			return err
		})
	}
	if err := rg.Wait(); err != nil {
		return settle(ctx, err)
	}
	if ctx.Err() != nil {
		return nil
	}

	total := retries + int(regionTotals.Load())
	for _, rec := range results {
		if rec.Status == store.RegionFailed {
			return o.failPage(ctx, r, index, total, fmt.Errorf("region %d: %s", rec.Index, rec.Error), log)
		}
	}

	err = o.setPage(ctx, r, index, store.PageAssembled, func(p *store.Page) { p.Retries = total })
	if err == nil {
		log.Info("page converted", "regions", len(regions), "retries", total)
	}
	return settle(ctx, err)
}

func (o *Orchestrator) failPage(ctx context.Context, r *run, index, retries int, cause error, log *slog.Logger) error {
	if ctx.Err() != nil {
		return nil
	}
	log.Warn("page failed", "error", cause, "retries", retries)
	return settle(ctx, o.setPage(ctx, r, index, store.PageFailed, func(p *store.Page) {
		p.Error = cause.Error()
		p.Retries = retries
	}))
}

// processRegion reads and transcribes one region. A region that already
// reached a step in an earlier run, with the same bounds, resumes after it.
// Transcription failure is recorded on the returned region, not returned.
func (o *Orchestrator) processRegion(ctx context.Context, r *run, pageIndex, count int, reg preprocess.Region, prior *store.Region, skipOCR bool, onExtracted func() error, log *slog.Logger) (store.Region, error) {
	rec := store.Region{
		DocumentID: r.id,
		PageIndex:  pageIndex,
		Index:      reg.Index,
		Bounds:     rect(reg.Bounds),
		Status:     store.RegionPending,
	}
	if prior != nil && prior.Bounds == rec.Bounds {
		switch prior.Status {
		case store.RegionReconciled:
			return *prior, onExtracted()
		case store.RegionExtracted:
			rec = *prior
		}
	}
	log = log.With("region", reg.Index)

	if rec.Status == store.RegionPending {
		if err := o.saveRegion(ctx, r, &rec); err != nil {
			return rec, err
		}
		if err := o.extract(ctx, &rec, reg, skipOCR, log); err != nil {
			return rec, err
		}
		rec.Status = store.RegionExtracted
		if err := o.saveRegion(ctx, r, &rec); err != nil {
			return rec, err
		}
	}
	if err := onExtracted(); err != nil {
		return rec, err
	}

	hint := ""
	if rec.OCRText != nil {
		hint = *rec.OCRText
	}
	var md string
	retries, err := o.withRetry(ctx, func(ctx context.Context) error {
		var err error
		md, err = o.cfg.LLM.Reconcile(ctx, reconcile.Request{
			Image:       reg.Image,
			OCRText:     hint,
			Filename:    r.filename,
			PageIndex:   pageIndex,
			RegionIndex: reg.Index,
			RegionCount: count,
		})
		return err
	}, reconcile.IsTransient)
	rec.Retries += retries
	if err != nil {
		if ctx.Err() != nil {
			return rec, ctx.Err()
		}
		log.Warn("transcription failed", "error", err, "retries", retries)
		rec.Status = store.RegionFailed
		rec.Error = err.Error()
		return rec, o.saveRegion(ctx, r, &rec)
	}

	rec.Markdown = store.Str(md)
	rec.Status = store.RegionReconciled
	rec.Error = ""
	return rec, o.saveRegion(ctx, r, &rec)
}

// extract fills in the OCR outcome. OCR failure is not an error: the region
// is transcribed from the image alone and the reason kept as a warning.
func (o *Orchestrator) extract(ctx context.Context, rec *store.Region, reg preprocess.Region, skipOCR bool, log *slog.Logger) error {
	if skipOCR || o.cfg.OCR == nil {
		rec.OCRText = store.Str("")
		return nil
	}

	var res ocr.Result
	retries, err := o.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = o.cfg.OCR.Extract(ctx, ocr.Request{Image: reg.Image, PageIndex: rec.PageIndex, RegionIndex: rec.Index})
		return err
	}, ocr.IsTransient)
	rec.Retries += retries
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("ocr failed, continuing from image", "error", err, "retries", retries)
		rec.OCRText = store.Str("")
		rec.OCRError = err.Error()
		return nil
	}
	rec.OCRText = store.Str(res.Text)
	rec.OCRConfidence = res.Confidence
	rec.OCRError = ""
	return nil
}

// withRetry runs op until it succeeds, fails permanently, or runs out of
// attempts, backing off exponentially between attempts. It returns the
// number of retries spent.
func (o *Orchestrator) withRetry(ctx context.Context, op func(context.Context) error, retryable func(error) bool) (int, error) {
	attempts := 0
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(o.cfg.Retry.MaxAttempts)),
		retry.Delay(o.cfg.Retry.BaseDelay),
		retry.MaxDelay(o.cfg.Retry.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && retryable(err)
		}),
	}
	if o.cfg.Retry.Timer != nil {
		opts = append(opts, retry.WithTimer(o.cfg.Retry.Timer))
	}
	err := retry.Do(func() error {
		attempts++
		return op(ctx)
	}, opts...)
	if attempts > 0 {
		attempts--
	}
	return attempts, err
}

// renderRetryable treats render errors as permanent and anything else, such
// as a render timeout, as worth another attempt.
func renderRetryable(err error) bool {
	var re *render.Error
	return !errors.As(err, &re)
}

func rect(b image.Rectangle) store.Rect {
	return store.Rect{X0: b.Min.X, Y0: b.Min.Y, X1: b.Max.X, Y1: b.Max.Y}
}
