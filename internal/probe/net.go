package probe

import (
	"net"
	"net/http"
	"time"
)

// TCPProbe reports ready once a TCP connection to Addr succeeds.
type TCPProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p TCPProbe) Ready() (bool, error) {
	conn, err := net.DialTimeout("tcp", p.Addr, p.Timeout)
	if err != nil {
		// Connection refused or timeout just means not ready yet.
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (p TCPProbe) Describe() string { return "tcp:" + p.Addr }

// HTTPProbe reports ready once a GET to URL returns a non-5xx status.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
}

func (p HTTPProbe) Ready() (bool, error) {
	client := &http.Client{Timeout: p.Timeout}
	resp, err := client.Get(p.URL)
	if err != nil {
		return false, nil
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500, nil
}

func (p HTTPProbe) Describe() string { return "http:" + p.URL }
