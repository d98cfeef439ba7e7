package store

import (
	"context"
	"fmt"

	"github.com/gatekeep-io/gatekeep/internal/retrieval"
)

// KBDoc is the stored metadata for one ingested knowledge-base document.
type KBDoc struct {
	DocID      string `json:"doc_id"`
	ProjectID  int64  `json:"project_id"`
	Title      string `json:"title"`
	Tags       string `json:"tags"`
	TrustLevel string `json:"trust_level"`
	Source     string `json:"source"`
	Owner      string `json:"owner"`
}

// UpsertKBDoc stores the document metadata and replaces its chunks
// wholesale, so re-ingesting a document never leaves stale chunks behind.
func (s *Store) UpsertKBDoc(ctx context.Context, doc KBDoc, chunks []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting kb transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kb_docs(doc_id, project_id, title, tags, trust_level, source, owner, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET project_id = excluded.project_id,
		   title = excluded.title, tags = excluded.tags,
		   trust_level = excluded.trust_level, source = excluded.source,
		   owner = excluded.owner`,
		doc.DocID, doc.ProjectID, doc.Title, doc.Tags, doc.TrustLevel, doc.Source, doc.Owner, now())
	if err != nil {
		return fmt.Errorf("upserting kb doc %s: %w", doc.DocID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_chunks WHERE doc_id = ?`, doc.DocID); err != nil {
		return fmt.Errorf("clearing chunks for %s: %w", doc.DocID, err)
	}
	for i, text := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kb_chunks(doc_id, chunk_index, text) VALUES(?, ?, ?)`,
			doc.DocID, i, text)
		if err != nil {
			return fmt.Errorf("inserting chunk %d for %s: %w", i, doc.DocID, err)
		}
	}

	return tx.Commit()
}

// ListKBDocs returns the document metadata for a project, oldest first.
func (s *Store) ListKBDocs(ctx context.Context, projectID int64) ([]KBDoc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, project_id, title, tags, trust_level, source, owner
		 FROM kb_docs WHERE project_id = ? ORDER BY created_at, doc_id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("listing kb docs: %w", err)
	}
	defer rows.Close()

	var out []KBDoc
	for rows.Next() {
		var d KBDoc
		if err := rows.Scan(&d.DocID, &d.ProjectID, &d.Title, &d.Tags, &d.TrustLevel, &d.Source, &d.Owner); err != nil {
			return nil, fmt.Errorf("scanning kb doc: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ChunksForProject loads every chunk in the project joined with its
// document metadata, in stable (doc creation, chunk index) order so the
// ranker's tie-breaking is deterministic across calls.
func (s *Store) ChunksForProject(ctx context.Context, projectID int64) ([]retrieval.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.doc_id, d.title, d.tags, d.trust_level, c.chunk_index, c.text
		 FROM kb_chunks c
		 JOIN kb_docs d ON d.doc_id = c.doc_id
		 WHERE d.project_id = ?
		 ORDER BY d.created_at, c.doc_id, c.chunk_index`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("loading kb chunks: %w", err)
	}
	defer rows.Close()

	var out []retrieval.Chunk
	for rows.Next() {
		var c retrieval.Chunk
		if err := rows.Scan(&c.DocID, &c.Title, &c.Tags, &c.TrustLevel, &c.ChunkIndex, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning kb chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
