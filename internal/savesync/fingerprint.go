package savesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DirFingerprinter digests a save folder: every regular file's relative path,
// size and content hash, in path order. Two folders with identical file
// trees produce identical fingerprints regardless of modification times.
type DirFingerprinter struct {
	// Workers bounds concurrent file hashing. Zero means GOMAXPROCS.
	Workers int
}

type fileDigest struct {
	rel  string
	size int64
	sum  string
}

// Fingerprint walks root and returns its hex digest.
func (f DirFingerprinter) Fingerprint(ctx context.Context, root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("savesync: stat %s: %w", root, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("savesync: %s is not a directory", root)
	}

	files, err := listFiles(root)
	if err != nil {
		return "", err
	}

	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range files {
		d := &files[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			sum, err := hashFile(filepath.Join(root, filepath.FromSlash(d.rel)))
			if err != nil {
				return err
			}

			d.sum = sum

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	h := sha256.New()
	for _, d := range files {
		fmt.Fprintf(h, "%s\x00%d\x00%s\n", d.rel, d.size, d.sum)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// listFiles returns the regular files under root, sorted by slash path.
func listFiles(root string) ([]fileDigest, error) {
	var files []fileDigest

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files = append(files, fileDigest{rel: filepath.ToSlash(rel), size: info.Size()})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("savesync: walking %s: %w", root, err)
	}

	slices.SortFunc(files, func(a, b fileDigest) int {
		return strings.Compare(a.rel, b.rel)
	})

	return files, nil
}

// hashFile streams a file through SHA-256.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("savesync: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("savesync: hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
