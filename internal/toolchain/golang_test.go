package toolchain

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/gzip"

	"townboot/internal/fetch"
)

func TestPickSelectsFirstStableMatchingArch(t *testing.T) {
	releases := []Release{
		{Version: "go1.26rc1", Stable: false},
		{Version: "go1.25.5", Stable: true, Files: []File{
			{Filename: "go1.25.5.linux-arm64.tar.gz", OS: "linux", Arch: "arm64", Kind: "archive", SHA256: "aa"},
			{Filename: "go1.25.5.linux-amd64.tar.gz", OS: "linux", Arch: "amd64", Kind: "archive", SHA256: "bb"},
			{Filename: "go1.25.5.linux-amd64.msi", OS: "linux", Arch: "amd64", Kind: "installer"},
		}},
		{Version: "go1.24.9", Stable: true},
	}

	rel, file, err := Pick(releases, "linux", "amd64")
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if rel.Version != "go1.25.5" || file.SHA256 != "bb" {
		t.Errorf("picked %s %+v", rel.Version, file)
	}
}

func TestPickErrors(t *testing.T) {
	if _, _, err := Pick(nil, "linux", "amd64"); err == nil {
		t.Error("empty index must error")
	}
	releases := []Release{{Version: "go1.25.5", Stable: true}}
	if _, _, err := Pick(releases, "linux", "s390x"); err == nil {
		t.Error("missing arch must error")
	}
}

func goArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	write := func(name, body string, mode int64) {
		t.Helper()
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: mode, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.WriteHeader(&tar.Header{Name: "go/", Mode: 0o755, Typeflag: tar.TypeDir}); err != nil {
		t.Fatal(err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: "go/bin/", Mode: 0o755, Typeflag: tar.TypeDir}); err != nil {
		t.Fatal(err)
	}
	write("go/bin/go", "#!/bin/sh\necho go version\n", 0o755)
	write("go/VERSION", "go1.25.5", 0o644)

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestInstallDownloadsVerifiesAndSwaps(t *testing.T) {
	archive := goArchive(t)
	sum := sha256.Sum256(archive)

	filename := fmt.Sprintf("go1.25.5.%s-%s.tar.gz", runtime.GOOS, runtime.GOARCH)
	index := []Release{{
		Version: "go1.25.5",
		Stable:  true,
		Files: []File{{
			Filename: filename,
			OS:       runtime.GOOS,
			Arch:     runtime.GOARCH,
			Kind:     "archive",
			SHA256:   hex.EncodeToString(sum[:]),
		}},
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("/dl/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "mode=json" {
			_ = json.NewEncoder(w).Encode(index)
			return
		}
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	root := t.TempDir()
	installDir := filepath.Join(root, "go")
	// Simulate a previous installation that must be replaced whole.
	if err := os.MkdirAll(filepath.Join(installDir, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(installDir, "VERSION"), []byte("go1.20"), 0o644); err != nil {
		t.Fatal(err)
	}

	in := &Installer{
		Client:     &fetch.Client{HTTP: srv.Client()},
		IndexURL:   srv.URL + "/dl/?mode=json",
		InstallDir: installDir,
	}
	version, err := in.Install(context.Background())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if version != "go1.25.5" {
		t.Errorf("version = %q", version)
	}

	raw, err := os.ReadFile(filepath.Join(installDir, "VERSION"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "go1.25.5" {
		t.Errorf("VERSION = %q", raw)
	}
	if _, err := os.Stat(installDir + ".old"); !os.IsNotExist(err) {
		t.Error("stale .old directory left behind")
	}
}

func TestInstallRejectsTamperedArchive(t *testing.T) {
	archive := goArchive(t)
	filename := fmt.Sprintf("go1.25.5.%s-%s.tar.gz", runtime.GOOS, runtime.GOARCH)
	index := []Release{{
		Version: "go1.25.5",
		Stable:  true,
		Files: []File{{
			Filename: filename,
			OS:       runtime.GOOS,
			Arch:     runtime.GOARCH,
			Kind:     "archive",
			SHA256:   "deadbeef",
		}},
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("/dl/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "mode=json" {
			_ = json.NewEncoder(w).Encode(index)
			return
		}
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	installDir := filepath.Join(t.TempDir(), "go")
	in := &Installer{
		Client:     &fetch.Client{HTTP: srv.Client()},
		IndexURL:   srv.URL + "/dl/?mode=json",
		InstallDir: installDir,
	}
	if _, err := in.Install(context.Background()); err == nil {
		t.Fatal("tampered archive accepted")
	}
	if _, err := os.Stat(installDir); !os.IsNotExist(err) {
		t.Error("failed install must not create the install dir")
	}
}

func TestSecurePathRejectsEscape(t *testing.T) {
	if _, err := securePath("/opt/stage", "../../etc/passwd"); err == nil {
		t.Error("path escape accepted")
	}
	if _, err := securePath("/opt/stage", "go/bin/go"); err != nil {
		t.Errorf("legit path rejected: %v", err)
	}
}
