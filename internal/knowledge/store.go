// Package knowledge maintains the catalog of internal financial documents
// that can be offered to the agent as context. The catalog stores metadata
// only: classification and required certification travel with each entry so
// the knowledge perimeter can check access before any content is fetched.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/advice"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
)

var tracer = cordonotel.Tracer("github.com/cordon-io/cordon/internal/knowledge")

// ErrDocumentNotFound is returned when a catalog entry does not exist.
var ErrDocumentNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    classification TEXT NOT NULL,
    required_certification TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_topic ON documents(topic);
CREATE INDEX IF NOT EXISTS idx_documents_classification ON documents(classification);
`

// Store is the SQLite-backed document catalog.
type Store struct {
	db *sql.DB
}

// NewStore opens the catalog, initializing the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening knowledge database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating knowledge schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a document into the catalog.
func (s *Store) Add(ctx context.Context, doc advice.DocumentRef) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, topic, classification, required_certification, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Topic, string(doc.Classification),
		string(doc.RequiredCertification), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns one catalog entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*advice.DocumentRef, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, topic, classification, required_certification
		 FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	return doc, nil
}

// ListCandidates returns documents to offer for a query, in stable insertion
// order. Advice-seeking queries pull from the whole catalog; informational
// queries only see public material, so the access perimeter has less to
// check and nothing restricted is surfaced for a lookup question.
func (s *Store) ListCandidates(ctx context.Context, class advice.Classification, limit int) ([]advice.DocumentRef, error) {
	ctx, span := tracer.Start(ctx, "knowledge.list_candidates", trace.WithAttributes(
		attribute.String("query.classification", string(class)),
	))
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, title, topic, classification, required_certification
	          FROM documents ORDER BY rowid LIMIT ?`
	args := []any{limit}
	if class == advice.ClassInformational {
		query = `SELECT id, title, topic, classification, required_certification
		         FROM documents WHERE classification = ? ORDER BY rowid LIMIT ?`
		args = []any{string(advice.DocPublic), limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []advice.DocumentRef
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	span.SetAttributes(attribute.Int("knowledge.candidates", len(docs)))
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*advice.DocumentRef, error) {
	var doc advice.DocumentRef
	var class, cert string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Topic, &class, &cert); err != nil {
		return nil, err
	}
	doc.Classification = advice.DocClass(class)
	doc.RequiredCertification = advice.Certification(cert)
	return &doc, nil
}
