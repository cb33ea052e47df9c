package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"parcelscope/internal/model"
)

// WebhookError is a non-success response from the streaming sink.
// The sink is unusable once it rejects a batch, so this is fatal to the
// whole export job, not just the page that hit it.
type WebhookError struct {
	StatusCode int
	URL        string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s returned status %d", e.URL, e.StatusCode)
}

// WebhookSink streams enriched rows to an HTTP endpoint as
// newline-delimited JSON, one object per line, in fixed-size batches
type WebhookSink struct {
	httpClient *http.Client
	url        string
	batchSize  int
}

// NewWebhookSink creates a sink for the given endpoint
func NewWebhookSink(url string, batchSize int, timeout time.Duration) *WebhookSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &WebhookSink{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		batchSize:  batchSize,
	}
}

// Send chunks rows into batches and POSTs each as NDJSON
func (s *WebhookSink) Send(ctx context.Context, rows []model.ParcelRow) error {
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.sendBatch(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *WebhookSink) sendBatch(ctx context.Context, batch []model.ParcelRow) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body) // Encode terminates each object with a newline
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return fmt.Errorf("encode webhook batch: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("post webhook batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &WebhookError{StatusCode: resp.StatusCode, URL: s.url}
	}
	return nil
}
