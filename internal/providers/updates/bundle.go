package updates

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrUnsupportedBundle = errors.New("unsupported bundle format")
	ErrUnsafePath        = errors.New("bundle entry escapes bundle dir")
	ErrEmptyBundle       = errors.New("bundle contains no files")
	ErrMissingEntry      = errors.New("bundle entry file missing")
)

// Bundle compression formats.
const (
	FormatGzip = "gzip"
	FormatZstd = "zstd"
	FormatTar  = "tar"
)

// Suffixes of leftovers from interrupted downloads and extractions.
const (
	downloadSuffix = ".download"
	partialSuffix  = ".partial"
)

// maxBundleBytes caps the extracted size of a single bundle.
const maxBundleBytes = 512 << 20

// detectFormat sniffs the downloaded archive.
func detectFormat(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect bundle type: %w", err)
	}
	switch {
	case mtype.Is("application/gzip"):
		return FormatGzip, nil
	case mtype.Is("application/zstd"):
		return FormatZstd, nil
	case mtype.Is("application/x-tar"):
		return FormatTar, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedBundle, mtype.String())
	}
}

// extract unpacks archive into dest, which must not exist yet.
func extract(ctx context.Context, archive, dest string) error {
	format, err := detectFormat(archive)
	if err != nil {
		return err
	}

	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer file.Close()

	var src io.Reader = file
	switch format {
	case FormatGzip:
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("gzip failed: %w", err)
		}
		defer gzReader.Close()
		src = gzReader
	case FormatZstd:
		zstdReader, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("zstd failed: %w", err)
		}
		defer zstdReader.Close()
		src = zstdReader
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle dir: %w", err)
	}

	root := filepath.Clean(dest) + string(os.PathSeparator)
	tarReader := tar.NewReader(src)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction cancelled: %w", err)
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt bundle: %w", err)
		}

		destPath := filepath.Join(dest, header.Name)
		if !strings.HasPrefix(destPath, root) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if written+header.Size > maxBundleBytes {
				return fmt.Errorf("bundle exceeds %d bytes", maxBundleBytes)
			}
			n, err := writeFile(destPath, tarReader, header.Size)
			written += n
			if err != nil {
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
		default:
			// Links and devices have no place in an app bundle
		}
	}
}

func writeFile(path string, r io.Reader, size int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(r, size))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// verify walks an extracted bundle and checks it is usable.
func verify(dir, entry string) (files int, size int64, err error) {
	var count, total atomic.Int64
	var mu sync.Mutex
	foundEntry := entry == ""
	entry = filepath.Clean(entry)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		count.Add(1)
		total.Add(info.Size())

		if rel, rerr := filepath.Rel(dir, path); rerr == nil && rel == entry {
			mu.Lock()
			foundEntry = true
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to verify bundle: %w", err)
	}
	if count.Load() == 0 {
		return 0, 0, ErrEmptyBundle
	}
	if !foundEntry {
		return 0, 0, fmt.Errorf("%w: %s", ErrMissingEntry, entry)
	}
	return int(count.Load()), total.Load(), nil
}

// prune deletes interrupted leftovers and all but the newest keep bundle
// directories other than those in protect. It returns what was removed.
func prune(root string, keep int, protect ...string) ([]string, error) {
	var removed []string

	leftovers, err := doublestar.FilepathGlob(filepath.Join(root, "*{"+downloadSuffix+","+partialSuffix+"}"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob leftovers: %w", err)
	}
	for _, path := range leftovers {
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = append(removed, filepath.Base(path))
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(root, "*"))
	if err != nil {
		return removed, fmt.Errorf("failed to glob bundles: %w", err)
	}

	protected := make(map[string]bool, len(protect))
	for _, id := range protect {
		if id != "" {
			protected[id] = true
		}
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var candidates []candidate
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() || protected[filepath.Base(path)] {
			continue
		}
		candidates = append(candidates, candidate{path: path, modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime > candidates[j].modTime
	})
	if keep < 0 {
		keep = 0
	}
	if len(candidates) <= keep {
		return removed, nil
	}
	for _, c := range candidates[keep:] {
		if err := os.RemoveAll(c.path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", c.path, err)
		}
		removed = append(removed, filepath.Base(c.path))
	}
	return removed, nil
}
