// Package store persists conversion state: documents, their pages, and page
// regions. Implementations must make DeleteDocument atomic.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// DocumentStatus is the lifecycle state of a conversion.
type DocumentStatus string

const (
	DocCreated         DocumentStatus = "created"
	DocRendering       DocumentStatus = "rendering"
	DocPreprocessing   DocumentStatus = "preprocessing"
	DocExtracting      DocumentStatus = "extracting"
	DocReconciling     DocumentStatus = "reconciling"
	DocAssembling      DocumentStatus = "assembling"
	DocComplete        DocumentStatus = "complete"
	DocPartiallyFailed DocumentStatus = "partially_failed"
	DocFailed          DocumentStatus = "failed"
	DocCancelled       DocumentStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocComplete, DocPartiallyFailed, DocFailed, DocCancelled:
		return true
	}
	return false
}

// PageStatus is the lifecycle state of one page.
type PageStatus string

const (
	PageCreated       PageStatus = "created"
	PageRendering     PageStatus = "rendering"
	PagePreprocessing PageStatus = "preprocessing"
	PageExtracting    PageStatus = "extracting"
	PageReconciling   PageStatus = "reconciling"
	PageAssembled     PageStatus = "assembled"
	PageFailed        PageStatus = "failed"
	PageCancelled     PageStatus = "cancelled"
)

// Terminal reports whether the page has finished, successfully or not.
func (s PageStatus) Terminal() bool {
	return s == PageAssembled || s == PageFailed || s == PageCancelled
}

// RegionStatus is the lifecycle state of one region.
type RegionStatus string

const (
	RegionPending    RegionStatus = "pending"
	RegionExtracted  RegionStatus = "extracted" // OCR outcome known; text may be empty
	RegionReconciled RegionStatus = "reconciled"
	RegionFailed     RegionStatus = "failed"
)

// Options are the per-document settings a resumed run must reuse.
type Options struct {
	DPI          int    `json:"dpi,omitempty"`
	Renderer     string `json:"renderer,omitempty"`
	ReadingOrder string `json:"reading_order,omitempty"`
	SkipOCR      bool   `json:"skip_ocr,omitempty"`
	ChunkLevel   int    `json:"chunk_level,omitempty"`
	TableText    bool   `json:"table_text,omitempty"`
}

// Document is one conversion request.
type Document struct {
	ID            string         `json:"id"`
	Filename      string         `json:"filename"`
	PageCount     int            `json:"page_count"`
	Status        DocumentStatus `json:"status"`
	HeadingCutoff int            `json:"heading_cutoff"`
	Error         string         `json:"error,omitempty"`
	Options       Options        `json:"options"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Page is one page of a document. Index is 0-based.
type Page struct {
	DocumentID  string     `json:"document_id"`
	Index       int        `json:"index"`
	Status      PageStatus `json:"status"`
	RegionCount int        `json:"region_count"`
	Retries     int        `json:"retries"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Rect is a region's box in page-image pixels.
type Rect struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Region is one column of a page. Index is its position in reading order.
// OCRText and Markdown are nil until the corresponding step has produced a
// value.
type Region struct {
	DocumentID    string       `json:"document_id"`
	PageIndex     int          `json:"page_index"`
	Index         int          `json:"index"`
	Bounds        Rect         `json:"bounds"`
	OCRText       *string      `json:"ocr_text,omitempty"`
	OCRConfidence float64      `json:"ocr_confidence"`
	OCRError      string       `json:"ocr_error,omitempty"`
	Markdown      *string      `json:"markdown,omitempty"`
	Status        RegionStatus `json:"status"`
	Retries       int          `json:"retries"`
	Error         string       `json:"error,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Store is the persistence boundary of the pipeline. Lists are ordered:
// documents by creation time, pages and regions by index.
type Store interface {
	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	UpdateDocument(ctx context.Context, doc Document) error
	ListDocuments(ctx context.Context, nonTerminalOnly bool) ([]Document, error)

	UpsertPage(ctx context.Context, page Page) error
	GetPage(ctx context.Context, docID string, index int) (Page, error)
	ListPages(ctx context.Context, docID string) ([]Page, error)
	ListNonTerminalPages(ctx context.Context, docID string) ([]Page, error)

	UpsertRegion(ctx context.Context, region Region) error
	ListRegions(ctx context.Context, docID string, pageIndex int) ([]Region, error)

	// DeleteDocument removes the document with all its pages and regions.
	DeleteDocument(ctx context.Context, id string) error

	Close() error
}

// Str returns a pointer to s, for the nullable region fields.
func Str(s string) *string { return &s }
