package installer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// fetch returns a local path to the archive named by spec.URL. Remote
// archives land in the download cache; a cached copy whose checksum
// still matches is reused without touching the network.
func (a *Archive) fetch(ctx context.Context, spec Spec) (string, error) {
	u, err := url.Parse(strings.TrimSpace(spec.URL))
	if err != nil {
		return "", err
	}
	if u.Scheme == "file" {
		p := u.Path
		if p == "" {
			p = strings.TrimPrefix(spec.URL, "file://")
		}
		if _, err := os.Stat(p); err != nil {
			return "", err
		}
		return p, nil
	}

	if err := os.MkdirAll(a.downloadDir(), 0o750); err != nil {
		return "", err
	}
	dest := filepath.Join(a.downloadDir(), path.Base(u.Path))
	if a.cachedCopyValid(ctx, dest, spec) {
		return dest, nil
	}
	if err := a.download(ctx, spec.URL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// cachedCopyValid reports whether dest exists and, when a checksum is
// known, still matches it.
func (a *Archive) cachedCopyValid(ctx context.Context, dest string, spec Spec) bool {
	if _, err := os.Stat(dest); err != nil {
		return false
	}
	want, err := a.expectedChecksum(ctx, spec)
	if err != nil || want == "" {
		// No checksum to judge by; trust the cached file.
		return err == nil
	}
	got, err := fileSHA256(dest)
	return err == nil && strings.EqualFold(got, want)
}

// download streams url into dest via a .part file renamed on success, so
// an interrupted transfer never masquerades as a complete archive.
func (a *Archive) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", rawURL, resp.StatusCode)
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		_ = f.Close()
		if !ok {
			_ = os.Remove(part)
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(part, dest); err != nil {
		return err
	}
	ok = true
	return nil
}
