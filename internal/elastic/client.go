// Package elastic submits documents to Elasticsearch through the official
// go-elasticsearch client. Each write is an index operation keyed by the
// document identifier, so resubmitting the same identifier overwrites the
// stored document. The client never retries on its own.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/resilience"
)

var _ ingestion.Indexer = (*Client)(nil)

// Client wraps an Elasticsearch client bound to one cluster address.
type Client struct {
	es             *elasticsearch.Client
	addr           string
	requestTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Client. ConnectTimeout bounds dialing and the TLS handshake;
// RequestTimeout bounds each write from send to acknowledgement.
func New(cfg config.SearchConfig) (*Client, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.Address()},
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{
		es:             es,
		addr:           cfg.Address(),
		requestTimeout: cfg.RequestTimeout,
		logger:         slog.Default().With("component", "elastic", "addr", cfg.Address()),
	}, nil
}

// Index writes sub and blocks until Elasticsearch acknowledges it. Failures
// are returned as *errors.SubmissionError.
func (c *Client) Index(ctx context.Context, sub ingestion.Submission) error {
	err := resilience.WithTimeout(ctx, c.requestTimeout, "index "+sub.ID, func(ctx context.Context) error {
		return c.index(ctx, sub)
	})
	if err == nil {
		return nil
	}
	var subErr *apperrors.SubmissionError
	if errors.As(err, &subErr) {
		return err
	}
	return apperrors.WrapSubmission(sub.ID, err)
}

func (c *Client) index(ctx context.Context, sub ingestion.Submission) error {
	req := esapi.IndexRequest{
		Index:        sub.Index,
		DocumentType: sub.Category,
		DocumentID:   sub.ID,
		Body:         bytes.NewReader(sub.Body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return apperrors.WrapSubmission(sub.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		reason := errorReason(res.Body)
		c.logger.Debug("index request rejected",
			"doc_id", sub.ID,
			"status", res.StatusCode,
			"reason", reason,
		)
		return apperrors.NewSubmissionError(sub.ID, res.StatusCode, reason)
	}
	// Drain so the connection goes back to the pool.
	io.Copy(io.Discard, res.Body)
	return nil
}

// Ping asks the cluster for its info document.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("pinging elasticsearch at %s: %w", c.addr, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("pinging elasticsearch at %s: %s", c.addr, res.Status())
	}
	return nil
}

type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

type errorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// errorReason extracts "type: reason" from an Elasticsearch error body.
func errorReason(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil || len(data) == 0 {
		return ""
	}
	var resp errorResponse
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Error) == 0 {
		return string(bytes.TrimSpace(data))
	}
	var cause errorCause
	if err := json.Unmarshal(resp.Error, &cause); err == nil && cause.Type != "" {
		return cause.Type + ": " + cause.Reason
	}
	var msg string
	if err := json.Unmarshal(resp.Error, &msg); err == nil {
		return msg
	}
	return string(resp.Error)
}
