package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"packmule/internal/pipeline"
)

// BuildItems turns the command line source paths into work items. Every path
// must exist; names come from the directory base name and ids are stable
// slugs suitable for checkpoint keys.
func BuildItems(paths []string) ([]*pipeline.WorkItem, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no source paths given")
	}

	items := make([]*pipeline.WorkItem, 0, len(paths))
	seen := make(map[string]int)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("source path %q: %w", path, err)
		}

		name := filepath.Base(abs)
		id := slug(name)
		if n := seen[id]; n > 0 {
			id = fmt.Sprintf("%s-%d", id, n+1)
		}
		seen[slug(name)]++

		items = append(items, pipeline.NewWorkItem(id, name, abs))
	}
	return items, nil
}

// slug lowercases a name and collapses anything outside [a-z0-9] into single
// dashes.
func slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
