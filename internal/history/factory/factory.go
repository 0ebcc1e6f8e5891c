package factory

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gridkit/grid/internal/history"
	"github.com/gridkit/grid/internal/history/clickhouse"
	"github.com/gridkit/grid/internal/history/opensearch"
)

// NewSinkFromDSN creates a history sink based on DSN format.
// Supported formats:
//   - "clickhouse://host:port?table=grid_events"
//   - "opensearch://host:port/index" (add secure=true for https)
//   - "elasticsearch://host:port/index"
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "clickhouse://"):
		return parseClickHouseDSN(dsn)
	case strings.HasPrefix(lower, "opensearch://"), strings.HasPrefix(lower, "elasticsearch://"):
		return parseOpenSearchDSN(dsn)
	}
	return nil, errors.New("unsupported history DSN: " + dsn)
}

func parseClickHouseDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	host := u.Host
	if host == "" {
		host = "localhost:9000" // default ClickHouse native port
	}

	table := u.Query().Get("table")
	if table == "" {
		table = "grid_events"
	}

	return clickhouse.New(host, table)
}

func parseOpenSearchDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	scheme := "http"
	if u.Query().Get("secure") == "true" {
		scheme = "https"
	}
	baseURL := scheme + "://" + u.Host

	index := strings.Trim(u.Path, "/")
	if index == "" {
		index = "grid-events"
	}

	return opensearch.New(baseURL, index), nil
}
