package factory

import (
	"testing"
)

func TestNewSinkFromDSNRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
	}{
		{"Empty DSN", ""},
		{"Unknown scheme", "invalid://test"},
		{"Bare path", "/tmp/test.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSinkFromDSN(tt.dsn); err == nil {
				t.Errorf("expected error for DSN %q, got nil", tt.dsn)
			}
		})
	}
}

func TestParseOpenSearchDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
	}{
		{"With index", "opensearch://localhost:9200/service-logs"},
		{"Default index", "opensearch://localhost:9200"},
		{"Secure", "opensearch://search.example.com:9200/logs?secure=true"},
		{"Elasticsearch alias", "elasticsearch://localhost:9200/events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := parseOpenSearchDSN(tt.dsn)
			if err != nil {
				t.Fatalf("unexpected error for DSN %q: %v", tt.dsn, err)
			}
			if sink == nil {
				t.Fatalf("expected non-nil sink for DSN %q", tt.dsn)
			}
		})
	}
}

func TestParseClickHouseDSNRequiresConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("connection attempt skipped in short mode")
	}
	// No server listens here; New must fail at ping rather than panic.
	if _, err := NewSinkFromDSN("clickhouse://127.0.0.1:1?table=grid_events"); err == nil {
		t.Error("expected connection error, got nil")
	}
}
