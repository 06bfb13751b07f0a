// Package toolchain installs the Go toolchain from the official
// distribution index. The archive's SHA-256 from the index is enforced,
// and extraction is staged next to the install path so a failure
// mid-extract can never leave /usr/local/go empty.
package toolchain

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"

	"townboot/internal/fetch"
	"townboot/internal/system"
)

// Release is one entry of the go.dev download index.
type Release struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
	Files   []File `json:"files"`
}

// File is one downloadable archive of a release.
type File struct {
	Filename string `json:"filename"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	SHA256   string `json:"sha256"`
	Kind     string `json:"kind"`
}

// Pick selects the newest stable release's archive for goos/goarch.
func Pick(releases []Release, goos, goarch string) (Release, File, error) {
	for _, rel := range releases {
		if !rel.Stable {
			continue
		}
		for _, f := range rel.Files {
			if f.Kind == "archive" && f.OS == goos && f.Arch == goarch {
				return rel, f, nil
			}
		}
		return Release{}, File{}, fmt.Errorf("release %s has no %s/%s archive", rel.Version, goos, goarch)
	}
	return Release{}, File{}, fmt.Errorf("no stable release in index")
}

// Installer fetches and installs Go.
type Installer struct {
	Client     *fetch.Client
	IndexURL   string
	InstallDir string // e.g. /usr/local/go

	// Sudo routes the final directory swap through `sudo mv`, for
	// user-mode runs where InstallDir is root-owned. The download and
	// extraction always happen unprivileged.
	Sudo   bool
	Runner system.Runner
}

// Install resolves the latest stable release for the running host,
// downloads it with digest verification, and swaps it into InstallDir.
func (in *Installer) Install(ctx context.Context) (version string, err error) {
	var releases []Release
	if err := in.Client.JSON(ctx, in.IndexURL, &releases); err != nil {
		return "", fmt.Errorf("query toolchain index: %w", err)
	}
	rel, file, err := Pick(releases, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(in.IndexURL, "/?mode=json")
	base = strings.TrimSuffix(base, "?mode=json")
	archiveURL := base + "/" + file.Filename

	stagingRoot := filepath.Dir(in.InstallDir)
	if in.Sudo {
		stagingRoot = os.TempDir()
	}
	tmpDir, err := os.MkdirTemp(stagingRoot, "go-download-*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archive := filepath.Join(tmpDir, file.Filename)
	if err := in.Client.File(ctx, archiveURL, archive, file.SHA256); err != nil {
		return "", err
	}

	staged := filepath.Join(tmpDir, "extracted")
	if err := extractTarGz(archive, staged); err != nil {
		return "", err
	}
	// The archive unpacks to a single "go" directory.
	stagedGo := filepath.Join(staged, "go")
	if _, err := os.Stat(stagedGo); err != nil {
		return "", fmt.Errorf("archive layout unexpected: %w", err)
	}

	if in.Sudo {
		if err := in.sudoSwap(ctx, stagedGo); err != nil {
			return "", err
		}
	} else if err := swapDir(stagedGo, in.InstallDir); err != nil {
		return "", err
	}
	return rel.Version, nil
}

// sudoSwap performs the same aside-then-replace dance as swapDir but
// through sudo, since /usr/local is root-owned in user mode. mv also
// covers the cross-filesystem case the staging tempdir introduces.
func (in *Installer) sudoSwap(ctx context.Context, staged string) error {
	dest := in.InstallDir
	old := dest + ".old"
	hadPrevious := false
	if _, err := os.Stat(dest); err == nil {
		hadPrevious = true
		_ = in.Runner.Run(ctx, "sudo", "rm", "-rf", old)
		if err := in.Runner.Run(ctx, "sudo", "mv", dest, old); err != nil {
			return fmt.Errorf("move previous installation aside: %w", err)
		}
	}
	if err := in.Runner.Run(ctx, "sudo", "mv", staged, dest); err != nil {
		if hadPrevious {
			_ = in.Runner.Run(ctx, "sudo", "mv", old, dest)
		}
		return fmt.Errorf("install toolchain: %w", err)
	}
	if hadPrevious {
		_ = in.Runner.Run(ctx, "sudo", "rm", "-rf", old)
	}
	return nil
}

// swapDir moves staged into place at dest. Any previous installation is
// renamed aside first and removed only after the new one landed.
func swapDir(staged, dest string) error {
	old := dest + ".old"
	hadPrevious := false
	if _, err := os.Stat(dest); err == nil {
		hadPrevious = true
		_ = os.RemoveAll(old)
		if err := os.Rename(dest, old); err != nil {
			return fmt.Errorf("move previous installation aside: %w", err)
		}
	}

	if err := os.Rename(staged, dest); err != nil {
		if hadPrevious {
			// Best effort restore so the host is not left without a toolchain.
			_ = os.Rename(old, dest)
		}
		return fmt.Errorf("install toolchain: %w", err)
	}
	if hadPrevious {
		_ = os.RemoveAll(old)
	}
	return nil
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode).Perm())
			if err != nil {
				return fmt.Errorf("create file: %w", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("close %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return fmt.Errorf("create symlink %s: %w", hdr.Name, err)
			}
		}
	}
}

// securePath rejects entries escaping the destination directory.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}
