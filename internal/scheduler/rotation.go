package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dbrgn/iboardbot-web/internal/state"
)

// Rotation walks the unattended source directory in stable
// lexicographic order, wrapping after the last file. The cursor (the
// filename served last) is persisted so a restart resumes the cycle
// instead of starting over.
type Rotation struct {
	dir   string
	store *state.Store
}

func NewRotation(dir string, store *state.Store) *Rotation {
	return &Rotation{dir: dir, store: store}
}

// Files lists the SVG filenames currently in the directory, sorted.
func (r *Rotation) Files() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read svg directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".svg") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Next advances the cursor and returns the path of the next file in
// the cycle. ok is false when the directory holds no SVG files.
func (r *Rotation) Next() (path string, ok bool, err error) {
	files, err := r.Files()
	if err != nil {
		return "", false, err
	}
	if len(files) == 0 {
		return "", false, nil
	}

	cursor, err := r.store.RotationCursor()
	if err != nil {
		return "", false, err
	}

	// First filename strictly after the cursor; wrap to the start of
	// the cycle when the cursor was the last file (or its file is
	// gone).
	next := files[0]
	for _, f := range files {
		if f > cursor {
			next = f
			break
		}
	}

	if err := r.store.SetRotationCursor(next); err != nil {
		return "", false, err
	}
	return filepath.Join(r.dir, next), true, nil
}
