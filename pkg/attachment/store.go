// Package attachment stores uploaded referral and consultation files on the
// local filesystem, namespaced by owner and group: <root>/<owner>/<group>/<file>.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound        = errors.New("attachment not found")
	ErrInvalidFileName = errors.New("invalid attachment file name")
	ErrInvalidPath     = errors.New("attachment path is outside the store")
	ErrTooLarge        = errors.New("attachment exceeds maximum allowed size")
)

// delimiter must never appear in a stored path.
const delimiter = ","

type LocalStore struct {
	root     string
	maxBytes int64
}

// NewLocalStore returns a store rooted at root. maxBytes <= 0 disables the
// size check.
func NewLocalStore(root string, maxBytes int64) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving attachment root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating attachment root: %w", err)
	}
	return &LocalStore{root: abs, maxBytes: maxBytes}, nil
}

// CleanFileName reduces name to its base and rejects names that cannot be
// stored.
func CleanFileName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch {
	case base == "", base == ".", base == "..", base == "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	case strings.Contains(base, delimiter):
		return "", fmt.Errorf("%w: %q contains %q", ErrInvalidFileName, name, delimiter)
	}
	return base, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, `/\`+delimiter)
}

// Save writes data and returns the stored path, relative to the root and
// slash-separated. Creating the directory is idempotent, so concurrent saves
// into the same group do not race.
func (s *LocalStore) Save(ctx context.Context, ownerID, groupKey, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validSegment(ownerID) || !validSegment(groupKey) {
		return "", fmt.Errorf("%w: owner %q group %q", ErrInvalidPath, ownerID, groupKey)
	}

	name, err := CleanFileName(fileName)
	if err != nil {
		return "", err
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, len(data))
	}

	dir := filepath.Join(s.root, ownerID, groupKey)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating attachment directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
		return "", fmt.Errorf("writing attachment %s: %w", name, err)
	}

	return path.Join(ownerID, groupKey, name), nil
}

// Read returns the contents of a path previously returned by Save.
func (s *LocalStore) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	return data, nil
}

func (s *LocalStore) resolve(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}

	full := filepath.Join(s.root, filepath.FromSlash(p))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}
