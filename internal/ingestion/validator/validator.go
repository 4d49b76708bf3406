// Package validator checks parsed documents and outgoing submissions. It
// enforces the object shape of documents and the naming rules the search
// service applies to indices, categories and identifiers, returning per-field
// error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
)

const (
	maxNameLength = 255
	maxIDLength   = 512
	invalidChars  = `\/*?"<>| ,#:`
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidDocument
}

// ValidateDocument checks that a decoded JSON value is an object and returns
// it as a Document.
func ValidateDocument(v any) (ingestion.Document, error) {
	switch doc := v.(type) {
	case map[string]any:
		return ingestion.Document(doc), nil
	case nil:
		return nil, &ValidationError{Fields: map[string]string{"document": "must be a JSON object, got null"}}
	case []any:
		return nil, &ValidationError{Fields: map[string]string{"document": "must be a JSON object, got array"}}
	default:
		return nil, &ValidationError{Fields: map[string]string{"document": fmt.Sprintf("must be a JSON object, got %T", v)}}
	}
}

// ValidateTarget checks the index and category names once, before a run.
func ValidateTarget(t ingestion.Target) error {
	errs := make(map[string]string)
	if msg := checkName(t.Index, true); msg != "" {
		errs["index"] = msg
	}
	if msg := checkName(t.Category, false); msg != "" {
		errs["category"] = msg
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateSubmission checks a single submission before it is sent.
func ValidateSubmission(sub ingestion.Submission) error {
	errs := make(map[string]string)
	if msg := checkName(sub.Index, true); msg != "" {
		errs["index"] = msg
	}
	if msg := checkName(sub.Category, false); msg != "" {
		errs["category"] = msg
	}
	if sub.ID == "" {
		errs["id"] = "id is required"
	} else if len(sub.ID) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d bytes", maxIDLength)
	}
	if len(sub.Body) == 0 {
		errs["body"] = "body is required"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkName(name string, lowercase bool) string {
	switch {
	case name == "":
		return "name is required"
	case name == "." || name == "..":
		return "name must not be . or .."
	case len(name) > maxNameLength:
		return fmt.Sprintf("name must be at most %d bytes", maxNameLength)
	case strings.ContainsAny(name, invalidChars):
		return fmt.Sprintf("name must not contain any of %q", invalidChars)
	case strings.HasPrefix(name, "_"), strings.HasPrefix(name, "-"), strings.HasPrefix(name, "+"):
		return "name must not start with _, - or +"
	case lowercase && strings.ToLower(name) != name:
		return "name must be lowercase"
	}
	return ""
}
