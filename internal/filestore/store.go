// Package filestore implements the rooted binary artifact store (spec.md
// §4.3): task input/output blobs and generated launcher scripts live as
// opaque files directly under a single root directory, named by the
// random filenames minted in model.NewTaskState.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MikkoArtik/gstream/internal/apperrors"
)

// Storage is a thin wrapper around a validated root directory. All
// filenames are direct children of root — no nested directories are ever
// created or traversed, matching the original's flat layout.
type Storage struct {
	root string
}

// New validates that root exists and is a directory, then returns a
// Storage rooted there.
func New(root string) (*Storage, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperrors.New(apperrors.KindPrecondition, "storage root not found")
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.KindPrecondition, "storage root is not a directory")
	}
	return &Storage{root: root}, nil
}

// Root returns the underlying directory path.
func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) path(filename string) string {
	return filepath.Join(s.root, filename)
}

// IsFileExist reports whether filename exists directly under root.
func (s *Storage) IsFileExist(filename string) bool {
	_, err := os.Stat(s.path(filename))
	return err == nil
}

// ModTime returns filename's last-modified time, for the reconciliation
// loop's grace-period check (spec.md §9: a file younger than the grace
// window is never pruned even if no task state references it yet).
func (s *Storage) ModTime(filename string) (time.Time, error) {
	info, err := os.Stat(s.path(filename))
	if err != nil {
		return time.Time{}, apperrors.NotFound(fmt.Sprintf("binary file %q not found", filename))
	}
	return info.ModTime(), nil
}

// AllFilenames lists the basenames of every regular file directly under
// root; subdirectories are skipped, not descended into.
func (s *Storage) AllFilenames() (map[string]struct{}, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperrors.Internal("listing storage root", err)
	}
	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names[entry.Name()] = struct{}{}
	}
	return names, nil
}

// SaveBinaryData writes data to filename, failing if the file already
// exists — artifact filenames are single-write-then-read-many, never
// overwritten in place.
func (s *Storage) SaveBinaryData(filename string, data []byte) error {
	path := s.path(filename)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return apperrors.Conflict(fmt.Sprintf("binary file %q already exists", filename))
		}
		return apperrors.Internal("creating binary file", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return apperrors.Internal("writing binary file", err)
	}
	return nil
}

// GetBinaryDataFromFile reads the full contents of filename.
func (s *Storage) GetBinaryDataFromFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(s.path(filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound(fmt.Sprintf("binary file %q not found", filename))
		}
		return nil, apperrors.Internal("reading binary file", err)
	}
	return data, nil
}

// MakeExecutable sets the executable bit on filename — used once, right
// after a launcher script is materialized at /load-args time, since the
// pull execs script_filename directly as a subprocess (spec.md §6).
func (s *Storage) MakeExecutable(filename string) error {
	if err := os.Chmod(s.path(filename), 0o755); err != nil {
		return apperrors.Internal("making script file executable", err)
	}
	return nil
}

// RemoveFile deletes filename if present; removing a file that is already
// gone is not an error, matching the original's idempotent remove.
func (s *Storage) RemoveFile(filename string) error {
	err := os.Remove(s.path(filename))
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Internal("removing binary file", err)
	}
	return nil
}

// RemoveFiles removes every filename given, stopping at the first
// unexpected (non-not-found) error.
func (s *Storage) RemoveFiles(filenames ...string) error {
	for _, filename := range filenames {
		if err := s.RemoveFile(filename); err != nil {
			return err
		}
	}
	return nil
}
