package installer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
)

type tarEntry struct {
	name string
	typ  byte
	mode int64
	body string
	link string
}

func writeTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.typ, Mode: e.mode, Linkname: e.link}
		if e.typ == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", e.name, err)
		}
		if e.typ == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("tar body %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
}

// fixtureArchive builds a small service tarball with a version top dir,
// the shape strip_components=1 is meant for.
func fixtureArchive(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "svc-1.0.tar.gz")
	writeTarGz(t, p, []tarEntry{
		{name: "svc-1.0/", typ: tar.TypeDir, mode: 0o755},
		{name: "svc-1.0/bin/", typ: tar.TypeDir, mode: 0o755},
		{name: "svc-1.0/bin/run.sh", typ: tar.TypeReg, mode: 0o755, body: "#!/bin/sh\necho run\n"},
		{name: "svc-1.0/conf/app.conf", typ: tar.TypeReg, mode: 0o644, body: "port=9000\n"},
	})
	return p
}

func digestOf(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func stepOf(t *testing.T, err error) string {
	t.Helper()
	var ierr *Error
	if !errors.As(err, &ierr) {
		t.Fatalf("error %v does not carry an install step", err)
	}
	return ierr.Step
}

func TestInstallFromFileURL(t *testing.T) {
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	a := NewArchive(filepath.Join(work, "deploy"))

	spec := Spec{URL: "file://" + archive, StripComponents: 1}
	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("install: %v", err)
	}
	if !a.Installed("svc") {
		t.Fatal("Installed() = false after install")
	}
	b, err := os.ReadFile(filepath.Join(a.ServiceDir("svc"), "conf", "app.conf"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(b) != "port=9000\n" {
		t.Fatalf("extracted content = %q", b)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(a.ServiceDir("svc"), "bin", "run.sh"))
		if err != nil {
			t.Fatalf("stat run.sh: %v", err)
		}
		if info.Mode().Perm()&0o100 == 0 {
			t.Fatalf("run.sh lost its execute bit: %v", info.Mode())
		}
	}
}

func TestInstallKeepsTopDirWithoutStrip(t *testing.T) {
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	a := NewArchive(filepath.Join(work, "deploy"))

	if err := a.Install(context.Background(), "svc", Spec{URL: "file://" + archive}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.ServiceDir("svc"), "svc-1.0", "conf", "app.conf")); err != nil {
		t.Fatalf("archive top dir should survive without strip_components: %v", err)
	}
}

func TestInstallVerifiesInlineChecksum(t *testing.T) {
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	a := NewArchive(filepath.Join(work, "deploy"))

	good := Spec{URL: "file://" + archive, SHA256: digestOf(t, archive), StripComponents: 1}
	if err := a.Install(context.Background(), "svc", good); err != nil {
		t.Fatalf("install with matching checksum: %v", err)
	}

	upper := good
	upper.SHA256 = strings.ToUpper(upper.SHA256)
	if err := a.Install(context.Background(), "svc", upper); err != nil {
		t.Fatalf("digest comparison should ignore case: %v", err)
	}

	bad := good
	bad.SHA256 = strings.Repeat("0", 64)
	err := a.Install(context.Background(), "svc2", bad)
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if got := stepOf(t, err); got != StepVerify {
		t.Fatalf("step = %q, want %q (%v)", got, StepVerify, err)
	}
	if a.Installed("svc2") {
		t.Fatal("failed verification still populated the service dir")
	}
}

func TestInstallFromHTTPWithSidecarChecksum(t *testing.T) {
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	sum := digestOf(t, archive)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/svc-1.0.tar.gz":
			hits.Add(1)
			_, _ = w.Write(data)
		case "/svc-1.0.tar.gz.sha256":
			_, _ = fmt.Fprintf(w, "%s  svc-1.0.tar.gz\n", sum)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewArchive(filepath.Join(work, "deploy"))
	spec := Spec{
		URL:             srv.URL + "/svc-1.0.tar.gz",
		SHA256URL:       srv.URL + "/svc-1.0.tar.gz.sha256",
		StripComponents: 1,
	}
	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("install over http: %v", err)
	}
	if !a.Installed("svc") {
		t.Fatal("Installed() = false after http install")
	}
	if _, err := os.Stat(filepath.Join(a.DeployDir, "downloads", "svc-1.0.tar.gz")); err != nil {
		t.Fatalf("download cache entry missing: %v", err)
	}

	// Re-running must reuse the cached archive instead of the network.
	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("archive fetched %d times, want 1", got)
	}
}

func TestInstallRedownloadsCorruptedCache(t *testing.T) {
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	sum := digestOf(t, archive)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	a := NewArchive(filepath.Join(work, "deploy"))
	spec := Spec{URL: srv.URL + "/svc-1.0.tar.gz", SHA256: sum, StripComponents: 1}
	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("install: %v", err)
	}

	cached := filepath.Join(a.DeployDir, "downloads", "svc-1.0.tar.gz")
	if err := os.WriteFile(cached, []byte("truncated download"), 0o640); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}
	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("reinstall after cache corruption: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("archive fetched %d times, want 2", got)
	}
}

func TestInstallReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	a := NewArchive(t.TempDir())
	err := a.Install(context.Background(), "svc", Spec{URL: srv.URL + "/missing.tar.gz"})
	if err == nil {
		t.Fatal("expected download error")
	}
	if got := stepOf(t, err); got != StepDownload {
		t.Fatalf("step = %q, want %q (%v)", got, StepDownload, err)
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("error should name the status: %v", err)
	}
}

func TestInstallMissingLocalArchive(t *testing.T) {
	a := NewArchive(t.TempDir())
	err := a.Install(context.Background(), "svc", Spec{URL: "file:///nonexistent/grid-archive.tar.gz"})
	if err == nil {
		t.Fatal("expected error for missing local archive")
	}
	if got := stepOf(t, err); got != StepDownload {
		t.Fatalf("step = %q, want %q (%v)", got, StepDownload, err)
	}
}

func TestInstallRejectsCorruptArchive(t *testing.T) {
	work := t.TempDir()
	junk := filepath.Join(work, "junk.tar.gz")
	if err := os.WriteFile(junk, []byte("this is not gzip"), 0o640); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	a := NewArchive(filepath.Join(work, "deploy"))
	err := a.Install(context.Background(), "svc", Spec{URL: "file://" + junk})
	if err == nil {
		t.Fatal("expected extract error")
	}
	if got := stepOf(t, err); got != StepExtract {
		t.Fatalf("step = %q, want %q (%v)", got, StepExtract, err)
	}
}

func TestInstallRejectsEscapingEntry(t *testing.T) {
	work := t.TempDir()
	evil := filepath.Join(work, "evil.tar.gz")
	writeTarGz(t, evil, []tarEntry{
		{name: "../evil.txt", typ: tar.TypeReg, mode: 0o644, body: "boom"},
	})

	a := NewArchive(filepath.Join(work, "deploy"))
	err := a.Install(context.Background(), "svc", Spec{URL: "file://" + evil})
	if err == nil {
		t.Fatal("expected traversal rejection")
	}
	if got := stepOf(t, err); got != StepExtract {
		t.Fatalf("step = %q, want %q (%v)", got, StepExtract, err)
	}
	if _, err := os.Stat(filepath.Join(a.DeployDir, "evil.txt")); !os.IsNotExist(err) {
		t.Fatal("traversal entry escaped the service dir")
	}
	if a.Installed("svc") {
		t.Fatal("failed extract left a populated service dir")
	}
}

func TestInstallRejectsEscapingSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink extraction needs unix")
	}
	work := t.TempDir()
	evil := filepath.Join(work, "evil.tar.gz")
	writeTarGz(t, evil, []tarEntry{
		{name: "svc/", typ: tar.TypeDir, mode: 0o755},
		{name: "svc/passwd", typ: tar.TypeSymlink, mode: 0o777, link: "../../../../etc/passwd"},
	})

	a := NewArchive(filepath.Join(work, "deploy"))
	err := a.Install(context.Background(), "svc", Spec{URL: "file://" + evil})
	if err == nil {
		t.Fatal("expected symlink rejection")
	}
	if got := stepOf(t, err); got != StepExtract {
		t.Fatalf("step = %q, want %q (%v)", got, StepExtract, err)
	}
	if !strings.Contains(err.Error(), "symlink escapes") {
		t.Fatalf("error should name the symlink: %v", err)
	}
}

func TestInstallAllowsInternalSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink extraction needs unix")
	}
	work := t.TempDir()
	archive := filepath.Join(work, "svc-1.0.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "svc-1.0/", typ: tar.TypeDir, mode: 0o755},
		{name: "svc-1.0/bin/", typ: tar.TypeDir, mode: 0o755},
		{name: "svc-1.0/bin/run", typ: tar.TypeReg, mode: 0o755, body: "#!/bin/sh\n"},
		{name: "svc-1.0/current", typ: tar.TypeSymlink, mode: 0o777, link: "bin/run"},
	})

	a := NewArchive(filepath.Join(work, "deploy"))
	if err := a.Install(context.Background(), "svc", Spec{URL: "file://" + archive, StripComponents: 1}); err != nil {
		t.Fatalf("install: %v", err)
	}
	got, err := os.Readlink(filepath.Join(a.ServiceDir("svc"), "current"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if got != "bin/run" {
		t.Fatalf("symlink target = %q, want %q", got, "bin/run")
	}
}

func TestInstallRunsConfigure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("configure lines need /bin/sh")
	}
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	a := NewArchive(filepath.Join(work, "deploy"))

	spec := Spec{
		URL:             "file://" + archive,
		StripComponents: 1,
		Configure: []string{
			"",
			"printf '%s' \"$GRID_PORT\" > conf/port",
		},
		Env: []string{"GRID_PORT=9000"},
	}
	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("install: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(a.ServiceDir("svc"), "conf", "port"))
	if err != nil {
		t.Fatalf("configure output missing: %v", err)
	}
	if string(b) != "9000" {
		t.Fatalf("configure wrote %q, want %q", b, "9000")
	}
}

func TestInstallConfigureFailureTagged(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("configure lines need /bin/sh")
	}
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	a := NewArchive(filepath.Join(work, "deploy"))

	spec := Spec{
		URL:             "file://" + archive,
		StripComponents: 1,
		Configure:       []string{"echo doomed >&2; exit 3"},
	}
	err := a.Install(context.Background(), "svc", spec)
	if err == nil {
		t.Fatal("expected configure failure")
	}
	if got := stepOf(t, err); got != StepConfigure {
		t.Fatalf("step = %q, want %q (%v)", got, StepConfigure, err)
	}
	if !strings.Contains(err.Error(), "doomed") {
		t.Fatalf("error should carry command output: %v", err)
	}
}

func TestInstallReplacesPreviousInstall(t *testing.T) {
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	a := NewArchive(filepath.Join(work, "deploy"))
	spec := Spec{URL: "file://" + archive, StripComponents: 1}

	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("first install: %v", err)
	}
	stray := filepath.Join(a.ServiceDir("svc"), "stray.tmp")
	if err := os.WriteFile(stray, []byte("leftover"), 0o640); err != nil {
		t.Fatalf("write stray: %v", err)
	}
	if err := a.Install(context.Background(), "svc", spec); err != nil {
		t.Fatalf("second install: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Fatal("reinstall kept a file from the previous install")
	}
	if _, err := os.Stat(filepath.Join(a.ServiceDir("svc"), "conf", "app.conf")); err != nil {
		t.Fatalf("reinstall lost archive content: %v", err)
	}
}

func TestUninstallIdempotent(t *testing.T) {
	work := t.TempDir()
	archive := fixtureArchive(t, work)
	a := NewArchive(filepath.Join(work, "deploy"))

	if a.Installed("ghost") {
		t.Fatal("Installed() = true for a service never installed")
	}
	if err := a.Uninstall("ghost"); err != nil {
		t.Fatalf("uninstall of missing service: %v", err)
	}

	if err := a.Install(context.Background(), "svc", Spec{URL: "file://" + archive, StripComponents: 1}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := a.Uninstall("svc"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if a.Installed("svc") {
		t.Fatal("Installed() = true after uninstall")
	}
	if err := a.Uninstall("svc"); err != nil {
		t.Fatalf("second uninstall: %v", err)
	}
}

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"https", Spec{URL: "https://example.com/a.tar.gz"}, false},
		{"file", Spec{URL: "file:///tmp/a.tar.gz"}, false},
		{"ftp", Spec{URL: "ftp://example.com/a.tar.gz"}, true},
		{"empty url", Spec{}, true},
		{"short digest", Spec{URL: "https://example.com/a.tar.gz", SHA256: "abc123"}, true},
		{"negative strip", Spec{URL: "https://example.com/a.tar.gz", StripComponents: -1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseChecksumFile(t *testing.T) {
	sum := strings.Repeat("ab", 32)
	cases := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"sha256sum output", sum + "  svc-1.0.tar.gz\n", sum, false},
		{"bare digest", sum + "\n", sum, false},
		{"uppercase", strings.ToUpper(sum), sum, false},
		{"leading blank line", "\n" + sum + "  a.tar.gz\n", sum, false},
		{"garbage", "not a digest\n", "", true},
		{"empty", "\n\n", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseChecksumFile(tc.body)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("digest = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStripComponents(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
		ok   bool
	}{
		{"svc-1.0/bin/run", 1, "bin/run", true},
		{"svc-1.0/", 1, "", false},
		{"svc-1.0", 1, "", false},
		{"a/b/c", 2, "c", true},
		{"a/b", 3, "", false},
		{"plain.txt", 0, "plain.txt", true},
	}
	for _, tc := range cases {
		got, ok := stripComponents(tc.in, tc.n)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("stripComponents(%q, %d) = %q, %v; want %q, %v", tc.in, tc.n, got, ok, tc.want, tc.ok)
		}
	}
}
