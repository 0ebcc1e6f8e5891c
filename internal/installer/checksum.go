package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// expectedChecksum resolves the digest an archive must match: the inline
// value wins, then the sidecar URL, else "" (no verification).
func (a *Archive) expectedChecksum(ctx context.Context, spec Spec) (string, error) {
	if spec.SHA256 != "" {
		return strings.ToLower(strings.TrimSpace(spec.SHA256)), nil
	}
	if spec.SHA256URL == "" {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.SHA256URL, nil)
	if err != nil {
		return "", err
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: HTTP %d", spec.SHA256URL, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return parseChecksumFile(string(b))
}

// parseChecksumFile accepts sha256sum output ("HEX  name") or a bare hex
// digest, taking the first token of the first non-empty line.
func parseChecksumFile(body string) (string, error) {
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		digest := strings.ToLower(fields[0])
		if len(digest) != 64 {
			return "", fmt.Errorf("checksum file: want 64 hex chars, got %q", fields[0])
		}
		return digest, nil
	}
	return "", fmt.Errorf("checksum file: empty")
}

// fileSHA256 returns the hex SHA-256 digest of the file at path.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
