// Package sandbox stages untrusted agent code and hosts it in an
// embedded Lua runtime with per-call timeouts.
package sandbox

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/rs/zerolog/log"
)

// Kind classifies a code location.
type Kind string

const (
	// KindArchive is a zip file staged by extraction.
	KindArchive Kind = "archive"
	// KindDirectory is a code tree staged by copying.
	KindDirectory Kind = "directory"
	// KindURL is a network location; the archive behind it is fetched
	// and then staged by extraction.
	KindURL Kind = "url"
	// KindImage is a container image reference; it cannot be staged
	// locally and is executed by the kubernetes backend.
	KindImage Kind = "image"
)

// ErrUnsafeArchivePath indicates an archive entry that would escape
// the extraction root. The whole archive is rejected.
var ErrUnsafeArchivePath = errors.New("archive entry path escapes extraction root")

// DetectKind classifies location syntactically. URLs are checked
// first so a hosted .zip is not mistaken for a local archive. Anything
// path-shaped (absolute, explicitly relative, a zip, or present on
// disk) is a path; otherwise a parseable image reference is an image.
// Unparseable leftovers fall back to directory so staging reports the
// real error.
func DetectKind(location string) Kind {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return KindURL
	}
	if strings.HasSuffix(location, ".zip") {
		return KindArchive
	}
	if strings.HasPrefix(location, "/") || strings.HasPrefix(location, "./") {
		return KindDirectory
	}
	if _, err := os.Stat(location); err == nil {
		return KindDirectory
	}
	if _, err := name.ParseReference(location); err == nil {
		return KindImage
	}
	return KindDirectory
}

// Stage materializes the code at location into dst and returns the
// staged root.
func Stage(ctx context.Context, location string, dst string, maxBytes int64) (string, error) {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	switch DetectKind(location) {
	case KindArchive:
		if err := extractZip(location, dst, maxBytes); err != nil {
			return "", err
		}
	case KindURL:
		archive, err := fetchArchive(ctx, location, maxBytes)
		if err != nil {
			return "", err
		}
		defer os.Remove(archive)
		if err := extractZip(archive, dst, maxBytes); err != nil {
			return "", err
		}
	case KindDirectory:
		if err := copyTree(location, dst, maxBytes); err != nil {
			return "", err
		}
	case KindImage:
		return "", fmt.Errorf("image reference %q cannot be staged locally", location)
	}
	log.Debug().Str("location", location).Str("staged", dst).Msg("sandbox: code staged")
	return dst, nil
}

// fetchArchive downloads the archive at url into a temp file and
// returns its path. The caller removes it.
func fetchArchive(ctx context.Context, url string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "agent-*.zip")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if n > maxBytes {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("fetch %s: code size limit exceeded", url)
	}
	log.Debug().Str("url", url).Int64("bytes", n).Msg("sandbox: archive fetched")
	return tmp.Name(), nil
}

func safeEntryName(entry string) bool {
	if strings.HasPrefix(entry, "/") {
		return false
	}
	for _, seg := range strings.Split(entry, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// extractZip unpacks src into dst. Every entry name is vetted before
// anything is written; one bad entry rejects the whole archive.
func extractZip(src, dst string, maxBytes int64) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !safeEntryName(f.Name) {
			return fmt.Errorf("%w: %s", ErrUnsafeArchivePath, f.Name)
		}
	}

	var total int64
	for _, f := range r.File {
		target := filepath.Join(dst, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create directory %s: %w", f.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent of %s: %w", f.Name, err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		n, err := writeCapped(target, rc, maxBytes-total)
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
		total += n
	}
	return nil
}

// copyTree copies the tree rooted at src into dst.
func copyTree(src, dst string, maxBytes int64) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}

	var total int64
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			// Symlinks and devices are dropped, not followed
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		defer f.Close()
		n, err := writeCapped(target, f, maxBytes-total)
		if err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		total += n
		return nil
	})
}

// writeCapped writes r to path, failing once more than remaining bytes
// arrive.
func writeCapped(path string, r io.Reader, remaining int64) (int64, error) {
	if remaining <= 0 {
		return 0, errors.New("code size limit exceeded")
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(r, remaining+1))
	if err != nil {
		return n, err
	}
	if n > remaining {
		return n, errors.New("code size limit exceeded")
	}
	return n, nil
}
