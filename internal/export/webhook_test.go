package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parcelscope/internal/model"
)

func TestWebhookSink_NDJSON(t *testing.T) {
	var bodies []string
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, 2, 5*time.Second)
	rows := []model.ParcelRow{
		mkRow(1, "SMITH, JOHN", "78756", 100000),
		mkRow(2, "DOE, JANE", "78756", 200000),
		mkRow(3, "GARCIA, MARIA", "78757", 150000),
	}

	if err := sink.Send(context.Background(), rows); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("Expected 2 batches for 3 rows with batch size 2, got %d", len(bodies))
	}
	if !strings.HasPrefix(contentType, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", contentType)
	}

	// Every line of every batch is one standalone JSON object
	totalLines := 0
	for _, body := range bodies {
		scanner := bufio.NewScanner(strings.NewReader(body))
		for scanner.Scan() {
			var row model.ParcelRow
			if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
				t.Errorf("Line is not valid JSON: %v", err)
			}
			totalLines++
		}
	}
	if totalLines != 3 {
		t.Errorf("Expected 3 NDJSON lines, got %d", totalLines)
	}
}

func TestWebhookSink_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, 10, 5*time.Second)
	err := sink.Send(context.Background(), []model.ParcelRow{mkRow(1, "SMITH, JOHN", "78756", 1)})

	var whErr *WebhookError
	if !errors.As(err, &whErr) {
		t.Fatalf("Expected WebhookError, got %v", err)
	}
	if whErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", whErr.StatusCode)
	}
}

func TestWebhookSink_EmptyRows(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, 10, 5*time.Second)
	if err := sink.Send(context.Background(), nil); err != nil {
		t.Fatalf("Send of empty rows failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no POST for empty rows, got %d", calls)
	}
}
