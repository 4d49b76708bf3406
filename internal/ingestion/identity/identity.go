// Package identity derives content-addressed document identifiers.
//
// A document is serialized to canonical JSON (compact, object keys sorted at
// every level, no HTML escaping, numbers in their literal form) and the
// identifier is the lowercase hex MD5 of those bytes. Key insertion order in
// the source line therefore does not affect the identifier.
package identity

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
)

// Canonical returns the canonical serialization of doc.
func Canonical(doc ingestion.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("serializing document: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sum returns the identifier of already-canonical bytes.
func Sum(canonical []byte) string {
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])
}

// Of returns the identifier of doc.
func Of(doc ingestion.Document) (string, error) {
	b, err := Canonical(doc)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// Submission builds the write for doc: the canonical bytes become the body
// and their digest the identifier.
func Submission(target ingestion.Target, line int, doc ingestion.Document) (ingestion.Submission, error) {
	body, err := Canonical(doc)
	if err != nil {
		return ingestion.Submission{}, err
	}
	return ingestion.Submission{
		Index:    target.Index,
		Category: target.Category,
		ID:       Sum(body),
		Body:     body,
		Line:     line,
	}, nil
}
