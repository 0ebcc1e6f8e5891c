package installer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractTarGz unpacks archivePath into destDir, dropping strip leading
// path components from every entry. Entries that would escape destDir
// are rejected.
func extractTarGz(ctx context.Context, archivePath, destDir string, strip int) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return err
	}
	cleanDest := filepath.Clean(destDir)

	tr := tar.NewReader(gz)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		name, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		target := filepath.Join(cleanDest, name)
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("tar: entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fileMode(hdr.Mode, 0o750)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			if err := writeFile(target, tr, fileMode(hdr.Mode, 0o640)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// Reject links that point outside the install dir.
			linkTarget := hdr.Linkname
			if !filepath.IsAbs(linkTarget) {
				linkTarget = filepath.Join(filepath.Dir(target), hdr.Linkname)
			}
			if !strings.HasPrefix(filepath.Clean(linkTarget), cleanDest) {
				return fmt.Errorf("tar: symlink escapes destination: %s -> %s", hdr.Name, hdr.Linkname)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			// Hard links, devices and the like have no business in a
			// service tarball; skip them.
		}
	}
}

// stripComponents drops n leading elements from a slash path. The second
// return is false when the entry has nothing left (e.g. the top dir
// itself).
func stripComponents(name string, n int) (string, bool) {
	name = filepath.ToSlash(name)
	for i := 0; i < n; i++ {
		idx := strings.Index(name, "/")
		if idx < 0 {
			return "", false
		}
		name = name[idx+1:]
	}
	name = strings.Trim(name, "/")
	if name == "" || name == "." {
		return "", false
	}
	return name, true
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// fileMode keeps the archive's permission bits, falling back when the
// header carried none.
func fileMode(m int64, fallback os.FileMode) os.FileMode {
	mode := os.FileMode(m) & os.ModePerm
	if mode == 0 {
		return fallback
	}
	return mode
}
