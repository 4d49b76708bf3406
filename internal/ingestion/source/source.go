// Package source reads newline-delimited JSON documents from a local file.
// A Source can be opened any number of times; each Iterator walks the file
// from the start and yields one document per non-empty line, in file order.
// Files ending in .gz or .zst are decompressed on the fly.
package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Record is a document together with the 1-based line it was read from.
type Record struct {
	Line int
	Doc  ingestion.Document
}

// Source is a restartable handle on an NDJSON file.
type Source struct {
	path string
}

// New returns a Source for path. The file is not touched until Open.
func New(path string) *Source {
	return &Source{path: path}
}

// Path returns the file the source reads.
func (s *Source) Path() string {
	return s.path
}

// Open starts a new pass over the file.
func (s *Source) Open() (*Iterator, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrSourceNotFound, s.path, err)
		}
		return nil, fmt.Errorf("opening source %s: %w", s.path, err)
	}
	rc, err := decompress(s.path, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening source %s: %w", s.path, err)
	}
	return &Iterator{
		path:   s.path,
		file:   f,
		stream: rc,
		reader: bufio.NewReaderSize(rc, 64*1024),
	}, nil
}

// ReadAll loads every document of the file into memory.
func (s *Source) ReadAll() ([]Record, error) {
	it, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var records []Record
	for {
		rec, err := it.Next()
		if errors.Is(err, apperrors.ErrSourceExhausted) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// Iterator yields the documents of one pass over the file. It is not safe
// for concurrent use.
type Iterator struct {
	path   string
	file   *os.File
	stream io.ReadCloser
	reader *bufio.Reader
	line   int
	done   bool
}

// Next returns the next document. It returns ErrSourceExhausted at end of
// input and a *ParseError when the current line is not a JSON object; the
// iterator stays usable after a parse error.
func (it *Iterator) Next() (Record, error) {
	for !it.done {
		raw, err := it.reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Record{}, fmt.Errorf("reading source %s: %w", it.path, err)
			}
			it.done = true
			if len(raw) == 0 {
				break
			}
		}
		it.line++
		if it.line == 1 {
			raw = bytes.TrimPrefix(raw, utf8BOM)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		doc, err := parseLine(raw)
		if err != nil {
			return Record{}, &apperrors.ParseError{Path: it.path, Line: it.line, Err: err}
		}
		return Record{Line: it.line, Doc: doc}, nil
	}
	return Record{}, apperrors.ErrSourceExhausted
}

// Close releases the underlying file.
func (it *Iterator) Close() error {
	streamErr := it.stream.Close()
	fileErr := it.file.Close()
	if streamErr != nil {
		return streamErr
	}
	return fileErr
}

func parseLine(raw []byte) (ingestion.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return validator.ValidateDocument(v)
}

func decompress(path string, f *os.File) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return gzip.NewReader(f)
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(f), nil
	}
}
