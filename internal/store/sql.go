package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		heading_cutoff INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		options TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
	`CREATE TABLE IF NOT EXISTS pages (
		document_id TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		region_count INTEGER NOT NULL DEFAULT 0,
		retries INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (document_id, page_index)
	)`,
	`CREATE TABLE IF NOT EXISTS regions (
		document_id TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		region_index INTEGER NOT NULL,
		x0 INTEGER NOT NULL,
		y0 INTEGER NOT NULL,
		x1 INTEGER NOT NULL,
		y1 INTEGER NOT NULL,
		ocr_text TEXT,
		ocr_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		ocr_error TEXT NOT NULL DEFAULT '',
		markdown TEXT,
		status TEXT NOT NULL,
		retries INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (document_id, page_index, region_index)
	)`,
}

// SQLStore persists state in SQLite or PostgreSQL. Queries use $N
// placeholders, which both drivers accept.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var driverName string
	switch driver {
	case DriverSQLite, "sqlite3":
		driver, driverName = DriverSQLite, "sqlite3"
	case DriverPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY under concurrent page workers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Driver returns the normalized driver name.
func (s *SQLStore) Driver() string { return s.driver }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) CreateDocument(ctx context.Context, doc Document) error {
	opts, err := json.Marshal(doc.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if _, err := s.GetDocument(ctx, doc.ID); err == nil {
		return fmt.Errorf("document %s: %w", doc.ID, ErrExists)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, page_count, status, heading_cutoff, error, options, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.Filename, doc.PageCount, string(doc.Status), doc.HeadingCutoff,
		doc.Error, string(opts), toMicros(doc.CreatedAt), toMicros(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, page_count, status, heading_cutoff, error, options, created_at, updated_at`

func (s *SQLStore) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

func (s *SQLStore) UpdateDocument(ctx context.Context, doc Document) error {
	opts, err := json.Marshal(doc.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET filename = $1, page_count = $2, status = $3, heading_cutoff = $4, error = $5, options = $6, updated_at = $7
		WHERE id = $8`,
		doc.Filename, doc.PageCount, string(doc.Status), doc.HeadingCutoff, doc.Error,
		string(opts), toMicros(doc.UpdatedAt), doc.ID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireRow(res, "document "+doc.ID)
}

func (s *SQLStore) ListDocuments(ctx context.Context, nonTerminalOnly bool) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if nonTerminalOnly {
		query += ` WHERE status NOT IN ($1, $2, $3, $4)`
		args = append(args, string(DocComplete), string(DocPartiallyFailed), string(DocFailed), string(DocCancelled))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertPage(ctx context.Context, p Page) error {
	if err := s.requireDocument(ctx, p.DocumentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (document_id, page_index, status, region_count, retries, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id, page_index) DO UPDATE SET
			status = excluded.status,
			region_count = excluded.region_count,
			retries = excluded.retries,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		p.DocumentID, p.Index, string(p.Status), p.RegionCount, p.Retries, p.Error, toMicros(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

const pageColumns = `document_id, page_index, status, region_count, retries, error, updated_at`

func (s *SQLStore) GetPage(ctx context.Context, docID string, index int) (Page, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE document_id = $1 AND page_index = $2`, docID, index)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, fmt.Errorf("page %s/%d: %w", docID, index, ErrNotFound)
	}
	return p, err
}

func (s *SQLStore) ListPages(ctx context.Context, docID string) ([]Page, error) {
	return s.listPages(ctx, `SELECT `+pageColumns+` FROM pages WHERE document_id = $1 ORDER BY page_index`, docID)
}

func (s *SQLStore) ListNonTerminalPages(ctx context.Context, docID string) ([]Page, error) {
	return s.listPages(ctx, `SELECT `+pageColumns+` FROM pages
		WHERE document_id = $1 AND status NOT IN ($2, $3, $4)
		ORDER BY page_index`,
		docID, string(PageAssembled), string(PageFailed), string(PageCancelled))
}

func (s *SQLStore) listPages(ctx context.Context, query string, args ...any) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertRegion(ctx context.Context, r Region) error {
	if err := s.requireDocument(ctx, r.DocumentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regions (document_id, page_index, region_index, x0, y0, x1, y1,
			ocr_text, ocr_confidence, ocr_error, markdown, status, retries, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (document_id, page_index, region_index) DO UPDATE SET
			x0 = excluded.x0, y0 = excluded.y0, x1 = excluded.x1, y1 = excluded.y1,
			ocr_text = excluded.ocr_text,
			ocr_confidence = excluded.ocr_confidence,
			ocr_error = excluded.ocr_error,
			markdown = excluded.markdown,
			status = excluded.status,
			retries = excluded.retries,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		r.DocumentID, r.PageIndex, r.Index, r.Bounds.X0, r.Bounds.Y0, r.Bounds.X1, r.Bounds.Y1,
		nullString(r.OCRText), r.OCRConfidence, r.OCRError, nullString(r.Markdown),
		string(r.Status), r.Retries, r.Error, toMicros(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert region: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRegions(ctx context.Context, docID string, pageIndex int) ([]Region, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, page_index, region_index, x0, y0, x1, y1,
			ocr_text, ocr_confidence, ocr_error, markdown, status, retries, error, updated_at
		FROM regions WHERE document_id = $1 AND page_index = $2
		ORDER BY region_index`, docID, pageIndex)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var out []Region
	for rows.Next() {
		var (
			r           Region
			status      string
			ocrText, md sql.NullString
			updated     int64
		)
		if err := rows.Scan(&r.DocumentID, &r.PageIndex, &r.Index,
			&r.Bounds.X0, &r.Bounds.Y0, &r.Bounds.X1, &r.Bounds.Y1,
			&ocrText, &r.OCRConfidence, &r.OCRError, &md,
			&status, &r.Retries, &r.Error, &updated); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		r.Status = RegionStatus(status)
		r.UpdatedAt = fromMicros(updated)
		if ocrText.Valid {
			r.OCRText = Str(ocrText.String)
		}
		if md.Valid {
			r.Markdown = Str(md.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteDocument removes the document and its rows in one transaction.
func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM regions WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("delete regions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := requireRow(res, "document "+id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) requireDocument(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (Document, error) {
	var (
		doc              Document
		status, opts     string
		created, updated int64
	)
	if err := sc.Scan(&doc.ID, &doc.Filename, &doc.PageCount, &status, &doc.HeadingCutoff,
		&doc.Error, &opts, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal([]byte(opts), &doc.Options); err != nil {
		return Document{}, fmt.Errorf("document %s options: %w", doc.ID, err)
	}
	doc.Status = DocumentStatus(status)
	doc.CreatedAt = fromMicros(created)
	doc.UpdatedAt = fromMicros(updated)
	return doc, nil
}

func scanPage(sc scanner) (Page, error) {
	var (
		p       Page
		status  string
		updated int64
	)
	if err := sc.Scan(&p.DocumentID, &p.Index, &status, &p.RegionCount, &p.Retries, &p.Error, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Page{}, err
		}
		return Page{}, fmt.Errorf("scan page: %w", err)
	}
	p.Status = PageStatus(status)
	p.UpdatedAt = fromMicros(updated)
	return p, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

var _ Store = (*SQLStore)(nil)
