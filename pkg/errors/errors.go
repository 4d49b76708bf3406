package errors

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotFound  = errors.New("document source not found")
	ErrSourceParse     = errors.New("invalid document in source")
	ErrSourceExhausted = errors.New("document source exhausted")
	ErrInvalidDocument = errors.New("invalid document")
	ErrSubmission      = errors.New("document submission failed")
	ErrAlreadyIndexed  = errors.New("document already indexed")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// ParseError reports a source line that could not be turned into a document.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s line %d: %v", ErrSourceParse.Error(), e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrSourceParse, e.Err}
}

// SubmissionError reports a write the search service did not acknowledge.
// StatusCode is zero when the request never got a response.
type SubmissionError struct {
	DocumentID string
	StatusCode int
	Reason     string
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("%s: document %s", ErrSubmission.Error(), e.DocumentID)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmission}
	}
	return []error{ErrSubmission, e.Err}
}

// Retryable reports whether resubmitting the same document could succeed:
// transport failures, throttling and server-side errors.
func (e *SubmissionError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

func NewSubmissionError(docID string, statusCode int, reason string) *SubmissionError {
	return &SubmissionError{
		DocumentID: docID,
		StatusCode: statusCode,
		Reason:     reason,
	}
}

func WrapSubmission(docID string, err error) *SubmissionError {
	return &SubmissionError{
		DocumentID: docID,
		Err:        err,
	}
}

// IsRetryable reports whether err describes a failure worth retrying.
func IsRetryable(err error) bool {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Retryable()
	}
	return false
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrSourceNotFound):
		return 2
	case errors.Is(err, ErrSourceParse):
		return 3
	case errors.Is(err, ErrSubmission):
		return 4
	case errors.Is(err, ErrInvalidConfig):
		return 5
	default:
		return 1
	}
}
