// Package ingestion defines the document and submission types shared by the
// source, the search client and the drivers, plus the Indexer abstraction and
// the middleware that decorates it.
package ingestion

import "time"

// Document is one parsed line of the source file. Its schema is opaque to
// the pipeline.
type Document map[string]any

// Submission is a single write to the search service: the body is stored
// under ID in Index/Category, replacing any previous body with the same ID.
type Submission struct {
	Index    string
	Category string
	ID       string
	Body     []byte
	Line     int
}

// IndexedEvent is published after the search service acknowledged a write.
type IndexedEvent struct {
	DocumentID string    `json:"document_id"`
	Index      string    `json:"index"`
	Category   string    `json:"category"`
	Size       int       `json:"size"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Target names where submissions are written.
type Target struct {
	Index    string
	Category string
}
