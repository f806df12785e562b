package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideStore is returned for local references that resolve outside the
// upload directory
var ErrOutsideStore = errors.New("reference is outside the document directory")

// LocalStore keeps uploads in a directory on the shared filesystem.
// References are plain file paths.
type LocalStore struct {
	dir    string
	logger *slog.Logger
}

// NewLocalStore creates the upload directory if needed
func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

// Dir returns the upload directory
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Save(ctx context.Context, filename string, r io.Reader, _ int64) (string, error) {
	path := filepath.Join(s.dir, UploadName(filename))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Debug("Document stored",
		slog.String("path", path),
		slog.String("filename", filename),
		slog.Int64("size", written),
	)

	return path, nil
}

func (s *LocalStore) Exists(_ context.Context, ref string) (bool, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	return info.Mode().IsRegular(), nil
}

// Fetch returns the reference itself; local files need no staging
func (s *LocalStore) Fetch(ctx context.Context, ref string) (string, func(), error) {
	ok, err := s.Exists(ctx, ref)
	if err != nil {
		return "", func() {}, err
	}
	if !ok {
		return "", func() {}, fmt.Errorf("file not found: %s", ref)
	}
	return ref, func() {}, nil
}

// resolve returns the absolute path of ref after checking that it stays
// inside the upload directory, following symlinks when the file exists
func (s *LocalStore) resolve(ref string) (string, error) {
	root, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	path, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	if !within(root, path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, ref)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	if !within(realRoot, realPath) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, ref)
	}

	return path, nil
}

// within reports whether path lies strictly below root
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
