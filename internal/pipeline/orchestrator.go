// Package pipeline runs document conversions: it renders each page, splits
// it into regions, reads and transcribes every region, and assembles the
// final Markdown, persisting progress so interrupted runs can resume.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/pdfmark/internal/artifacts"
	"github.com/jackzampolin/pdfmark/internal/assemble"
	"github.com/jackzampolin/pdfmark/internal/metrics"
	"github.com/jackzampolin/pdfmark/internal/render"
	"github.com/jackzampolin/pdfmark/internal/store"
)

const defaultFilename = "document.pdf"

// Orchestrator owns the lifecycle of every conversion in the process.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	artifacts artifacts.Store
	logger    *slog.Logger

	// ctx is the parent of every run; Shutdown cancels it without marking
	// documents cancelled, so they resume on the next start.
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*run
}

// run is the in-process state of one active document. mu serialises every
// write for the document.
type run struct {
	id       string
	filename string
	options  store.Options
	logger   *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	snap      Snapshot
	cancelled bool
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("pipeline: artifact store is required")
	}
	if cfg.LLM == nil {
		return nil, errors.New("pipeline: transcriber is required")
	}
	cfg = cfg.withDefaults()

	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		store:     cfg.Store,
		artifacts: cfg.Artifacts,
		logger:    cfg.Logger.With("component", "pipeline"),
		ctx:       ctx,
		stop:      stop,
		runs:      make(map[string]*run),
	}, nil
}

// StartConversion records a new document and starts converting it in the
// background. It returns once the document is persisted.
func (o *Orchestrator) StartConversion(ctx context.Context, pdf []byte, sc StartConfig) (string, error) {
	cutoff := sc.HeadingCutoff
	if cutoff == 0 {
		cutoff = o.cfg.HeadingCutoff
	}
	if cutoff < 1 || cutoff > 6 {
		return "", fmt.Errorf("%w: %d", ErrInvalidCutoff, cutoff)
	}
	opts := o.cfg.resolveOptions(sc.Options)

	renderer, err := o.cfg.NewRenderer(opts.Renderer, opts.DPI)
	if err != nil {
		return "", err
	}
	count, err := renderer.PageCount(pdf)
	if err != nil {
		return "", err
	}

	filename := sc.Filename
	if filename == "" {
		filename = defaultFilename
	}
	now := o.cfg.Now()
	doc := store.Document{
		ID:            uuid.NewString(),
		Filename:      filename,
		PageCount:     count,
		Status:        store.DocCreated,
		HeadingCutoff: cutoff,
		Options:       opts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.artifacts.Put(ctx, artifacts.SourceKey(doc.ID), pdf); err != nil {
		return "", fmt.Errorf("store source pdf: %w", err)
	}
	if err := o.store.CreateDocument(ctx, doc); err != nil {
		_ = o.artifacts.Delete(ctx, artifacts.SourceKey(doc.ID))
		return "", fmt.Errorf("create document: %w", err)
	}

	o.logger.Info("conversion started", "document_id", doc.ID, "filename", filename, "pages", count)
	o.launch(doc, nil, pdf, renderer)
	return doc.ID, nil
}

// Resume restarts every document left non-terminal by a previous process.
// Completed regions are reused. It returns the number of documents resumed.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	docs, err := o.store.ListDocuments(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}

	resumed := 0
	for _, doc := range docs {
		if o.active(doc.ID) {
			continue
		}
		log := o.logger.With("document_id", doc.ID)

		pages, err := o.store.ListPages(ctx, doc.ID)
		if err != nil {
			return resumed, fmt.Errorf("list pages of %s: %w", doc.ID, err)
		}
		pdf, err := o.artifacts.Get(ctx, artifacts.SourceKey(doc.ID))
		if err != nil {
			log.Warn("cannot resume, source missing", "error", err)
			o.failStored(ctx, doc, fmt.Sprintf("source pdf unavailable: %v", err))
			continue
		}
		renderer, err := o.cfg.NewRenderer(doc.Options.Renderer, doc.Options.DPI)
		if err != nil {
			o.failStored(ctx, doc, err.Error())
			continue
		}

		log.Info("resuming conversion", "status", doc.Status, "pages_recorded", len(pages))
		o.launch(doc, pages, pdf, renderer)
		resumed++
	}
	return resumed, nil
}

func (o *Orchestrator) failStored(ctx context.Context, doc store.Document, reason string) {
	doc.Status = store.DocFailed
	doc.Error = reason
	doc.UpdatedAt = o.cfg.Now()
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		o.logger.Error("failed to mark document failed", "document_id", doc.ID, "error", err)
	}
}

func (o *Orchestrator) launch(doc store.Document, pages []store.Page, pdf []byte, renderer render.Renderer) {
	ctx, cancel := context.WithCancel(metrics.WithDocument(o.ctx, doc.ID))
	r := &run{
		id:       doc.ID,
		filename: doc.Filename,
		options:  doc.Options,
		logger:   o.logger.With("document_id", doc.ID),
		cancel:   cancel,
		done:     make(chan struct{}),
		snap:     newSnapshot(doc, pages),
	}

	o.mu.Lock()
	o.runs[doc.ID] = r
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)
		defer o.forget(r)
		defer cancel()
		o.execute(ctx, r, pdf, renderer)
	}()
}

func (o *Orchestrator) forget(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs[r.id] == r {
		delete(o.runs, r.id)
	}
}

func (o *Orchestrator) active(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[id]
	return ok
}

func (o *Orchestrator) lookup(id string) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[id]
}

// Cancel stops a running document. Cancelling an already cancelled document
// is a no-op; cancelling any other finished document returns ErrTerminal.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	doc, err := o.document(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status == store.DocCancelled {
		return nil
	}
	if doc.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, doc.Status)
	}

	r := o.lookup(id)
	if r == nil {
		// interrupted by a restart and not resumed
		doc.Status = store.DocCancelled
		doc.UpdatedAt = o.cfg.Now()
		if err := o.store.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("cancel %s: %w", id, err)
		}
		return o.cancelPages(ctx, id, nil)
	}

	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return nil
	}
	if r.snap.Document.Status.Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, r.snap.Document.Status)
	}
	next := r.snap.Document
	next.Status = store.DocCancelled
	next.UpdatedAt = o.cfg.Now()
	if err := o.store.UpdateDocument(ctx, next); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	r.snap = r.snap.withDocument(next)
	r.cancelled = true
	pages := r.snap.Pages
	r.mu.Unlock()

	r.cancel()
	r.logger.Info("conversion cancelled")

	// the result may have been written just before the cancel landed
	_ = o.artifacts.Delete(ctx, artifacts.ResultKey(id))
	return o.cancelPages(ctx, id, pages)
}

// cancelPages marks unfinished pages cancelled. pages is nil when the
// document has no active run and must be read from the store.
func (o *Orchestrator) cancelPages(ctx context.Context, id string, pages []store.Page) error {
	if pages == nil {
		var err error
		if pages, err = o.store.ListNonTerminalPages(ctx, id); err != nil {
			return fmt.Errorf("list pages: %w", err)
		}
	}
	now := o.cfg.Now()
	for _, p := range pages {
		next, err := transitionPage(p, store.PageCancelled, now)
		if err != nil {
			continue
		}
		if err := o.store.UpsertPage(ctx, next); err != nil {
			return fmt.Errorf("cancel page %d: %w", p.Index, err)
		}
	}
	return nil
}

// Wait blocks until the document is terminal, its run is interrupted by
// Shutdown, or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Status, error) {
	if r := o.lookup(id); r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
	return o.GetStatus(ctx, id)
}

// Delete cancels the document if it is running and removes it with all its
// pages, regions and artifacts.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if _, err := o.document(ctx, id); err != nil {
		return err
	}

	if r := o.lookup(id); r != nil {
		r.mu.Lock()
		r.cancelled = true
		r.mu.Unlock()
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := o.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if err := o.artifacts.DeletePrefix(ctx, artifacts.DocumentPrefix(id)); err != nil {
		return fmt.Errorf("delete artifacts of %s: %w", id, err)
	}
	o.logger.Info("document deleted", "document_id", id)
	return nil
}

// Shutdown interrupts every run and waits for the workers to exit. Documents
// keep their persisted state and are picked up by the next Resume.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) document(ctx context.Context, id string) (store.Document, error) {
	doc, err := o.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

// Status is the externally visible state of a document.
type Status struct {
	ID            string               `json:"id"`
	Filename      string               `json:"filename"`
	State         store.DocumentStatus `json:"state"`
	PageCount     int                  `json:"page_count"`
	HeadingCutoff int                  `json:"heading_cutoff"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Pages         []PageStatus         `json:"pages"`
}

// PageStatus reports one page. Warnings list regions transcribed without OCR
// text because OCR failed.
type PageStatus struct {
	Index    int              `json:"index"`
	State    store.PageStatus `json:"state"`
	Regions  int              `json:"regions"`
	Retries  int              `json:"retries"`
	Error    string           `json:"error,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// GetStatus reads the persisted state of a document and its pages. Pages not
// started yet are reported as created.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (Status, error) {
	doc, err := o.document(ctx, id)
	if err != nil {
		return Status{}, err
	}
	recorded, err := o.store.ListPages(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("list pages: %w", err)
	}
	snap := newSnapshot(doc, recorded)

	st := Status{
		ID:            doc.ID,
		Filename:      doc.Filename,
		State:         doc.Status,
		PageCount:     doc.PageCount,
		HeadingCutoff: doc.HeadingCutoff,
		Error:         doc.Error,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		Pages:         make([]PageStatus, 0, len(snap.Pages)),
	}
	for _, p := range snap.Pages {
		ps := PageStatus{Index: p.Index, State: p.Status, Regions: p.RegionCount, Retries: p.Retries, Error: p.Error}
		if p.RegionCount > 0 {
			regions, err := o.store.ListRegions(ctx, id, p.Index)
			if err != nil {
				return Status{}, fmt.Errorf("list regions: %w", err)
			}
			for _, r := range regions {
				if r.Index < p.RegionCount && r.OCRError != "" {
					ps.Warnings = append(ps.Warnings, fmt.Sprintf("region %d: %s", r.Index, r.OCRError))
				}
			}
		}
		st.Pages = append(st.Pages, ps)
	}
	return st, nil
}

// List returns the status of every document, oldest first, without pages.
func (o *Orchestrator) List(ctx context.Context) ([]Status, error) {
	docs, err := o.store.ListDocuments(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(docs))
	for _, d := range docs {
		out = append(out, Status{
			ID:            d.ID,
			Filename:      d.Filename,
			State:         d.Status,
			PageCount:     d.PageCount,
			HeadingCutoff: d.HeadingCutoff,
			Error:         d.Error,
			CreatedAt:     d.CreatedAt,
			UpdatedAt:     d.UpdatedAt,
		})
	}
	return out, nil
}

// GetResult returns the final Markdown of a complete or partially failed
// document.
func (o *Orchestrator) GetResult(ctx context.Context, id string) (string, error) {
	doc, err := o.document(ctx, id)
	if err != nil {
		return "", err
	}
	switch doc.Status {
	case store.DocComplete, store.DocPartiallyFailed:
	case store.DocFailed, store.DocCancelled:
		return "", fmt.Errorf("%w: %s is %s", ErrNoResult, id, doc.Status)
	default:
		return "", fmt.Errorf("%w: %s is %s", ErrNotReady, id, doc.Status)
	}
	data, err := o.artifacts.Get(ctx, artifacts.ResultKey(id))
	if err != nil {
		return "", fmt.Errorf("read result: %w", err)
	}
	return string(data), nil
}

// GetChunks splits the result at headings of level <= level. Zero uses the
// document's chunk level.
func (o *Orchestrator) GetChunks(ctx context.Context, id string, level int) ([]assemble.Chunk, error) {
	md, err := o.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := o.document(ctx, id)
	if err != nil {
		return nil, err
	}
	if level <= 0 {
		level = doc.Options.ChunkLevel
	}
	return assemble.Chunks(doc.Filename, md, level), nil
}
