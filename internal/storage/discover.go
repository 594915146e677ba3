package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DiscoverWAV walks root and returns every .wav or .wave file, sorted by
// path. Entries whose name starts with a dot are skipped, directories
// included.
func DiscoverWAV(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsWAV(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// IsWAV reports whether name has a .wav or .wave extension.
func IsWAV(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return true
	}
	return false
}

// OutputPath mirrors input's position under inputRoot into outputRoot.
// A .wave extension becomes .wav.
func OutputPath(inputRoot, outputRoot, input string) (string, error) {
	rel, err := filepath.Rel(inputRoot, input)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", input, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", input, inputRoot)
	}
	if strings.EqualFold(filepath.Ext(rel), ".wave") {
		rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".wav"
	}
	return filepath.Join(outputRoot, rel), nil
}
