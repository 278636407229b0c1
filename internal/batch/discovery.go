package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/MeKo-Tech/leafcheck/internal/decoder"
)

// fileFilter selects photos by base name. Exclusions win over inclusions.
type fileFilter struct {
	include []string
	exclude []string
}

func (f fileFilter) keep(path string) bool {
	base := filepath.Base(path)
	if matchesAny(base, f.exclude) {
		return false
	}
	return len(f.include) == 0 || matchesAny(base, f.include)
}

// matchesAny reports whether name matches one of the shell patterns.
// Malformed patterns never match.
func matchesAny(name string, patterns []string) bool {
	return slices.ContainsFunc(patterns, func(p string) bool {
		ok, _ := filepath.Match(p, name)
		return ok
	})
}

// collectPhotos expands the batch arguments into photo paths. Directories
// contribute JPEG/PNG files in lexical order; files named explicitly are
// kept whatever their extension so the decoder can reject them per image.
// A path reached twice is listed once.
func collectPhotos(args []string, recursive bool, filter fileFilter) ([]string, error) {
	seen := make(map[string]bool)
	var photos []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			photos = append(photos, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if filter.keep(arg) {
				add(filepath.Clean(arg))
			}
			continue
		}
		found, err := walkPhotos(arg, recursive, filter)
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			add(p)
		}
	}
	return photos, nil
}

func walkPhotos(root string, recursive bool, filter fileFilter) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != root && !recursive:
			return filepath.SkipDir
		case d.IsDir():
			return nil
		}
		if decoder.IsSupportedImage(path) && filter.keep(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.Sort(found)
	return found, nil
}
