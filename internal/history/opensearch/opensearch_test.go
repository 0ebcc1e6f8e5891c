package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridkit/grid/internal/history"
)

func TestSinkSend(t *testing.T) {
	var receivedBody []byte
	var receivedPath string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"x","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "grid-events")
	event := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Service:    "broker",
		PID:        12345,
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", receivedMethod)
	}
	if receivedPath != "/grid-events/_doc" {
		t.Errorf("expected /grid-events/_doc, got %s", receivedPath)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if doc["type"] != string(history.EventStart) {
		t.Errorf("expected type %s, got %v", history.EventStart, doc["type"])
	}
	if doc["service"] != "broker" {
		t.Errorf("expected service broker, got %v", doc["service"])
	}
	if doc["pid"] != float64(12345) {
		t.Errorf("expected pid 12345, got %v", doc["pid"])
	}
}

func TestSinkSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "grid-events")
	err := sink.Send(context.Background(), history.Event{Type: history.EventStop, Service: "broker"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Errorf("expected status error message, got: %v", err)
	}
}
