package attach

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"chatroom/pkg/chaterr"
)

var (
	ErrEmptyPath   = errors.New("path must not be empty")
	ErrOutsideRoot = errors.New("path escapes upload directory")
	ErrNotRegular  = errors.New("not a regular file")
	ErrTooLarge    = errors.New("file too large")
)

// Guard resolves local files picked for upload. A guard built with a
// directory only opens files inside it; a nil guard resolves against the
// working directory without containment.
type Guard struct {
	root     string
	restrict bool
	maxBytes int64
}

// NewGuard builds a guard rooted at dir. An empty dir disables containment.
// maxBytes <= 0 means no size limit.
func NewGuard(dir string, maxBytes int64) (*Guard, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get current working directory: %w", err)
		}
		return &Guard{root: cwd, maxBytes: maxBytes}, nil
	}

	root, err := resolveRoot(trimmed)
	if err != nil {
		return nil, err
	}

	return &Guard{root: root, restrict: true, maxBytes: maxBytes}, nil
}

func resolveRoot(dir string) (string, error) {
	expanded, err := expandHome(dir)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve upload directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(absPath))
	if err != nil {
		return "", normalize(err, "resolve upload directory")
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", normalize(err, "resolve upload directory")
	}
	if !info.IsDir() {
		return "", chaterr.NewError(chaterr.UploadFailure, "upload directory is not a directory")
	}

	return filepath.Clean(resolved), nil
}

func (g *Guard) Root() string {
	if g == nil {
		return ""
	}

	return g.root
}

// Resolve returns the canonical absolute path for input. Relative paths are
// taken from the guard root.
func (g *Guard) Resolve(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", chaterr.Wrap(chaterr.UploadFailure, "resolve upload", ErrEmptyPath)
	}

	candidate, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(candidate) && g != nil {
		candidate = filepath.Join(g.root, candidate)
	}

	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return "", chaterr.Wrap(chaterr.UploadFailure, "resolve upload", err)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(absPath))
	if err != nil {
		return "", normalize(err, "resolve upload")
	}

	if g != nil && g.restrict && !isWithin(g.root, resolved) {
		return "", chaterr.Wrap(chaterr.UploadFailure, "resolve upload", ErrOutsideRoot)
	}

	return resolved, nil
}

// Open resolves input and opens it for reading. The caller closes the file.
func (g *Guard) Open(input string) (*os.File, error) {
	path, err := g.Resolve(input)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, normalize(err, "open upload")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, normalize(err, "open upload")
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, chaterr.Wrap(chaterr.UploadFailure, "open upload", ErrNotRegular)
	}
	if g != nil && g.maxBytes > 0 && info.Size() > g.maxBytes {
		file.Close()
		return nil, chaterr.Wrap(chaterr.UploadFailure, fmt.Sprintf("open upload (%d bytes, limit %d)", info.Size(), g.maxBytes), ErrTooLarge)
	}

	return file, nil
}

// normalize keeps os.PathError noise out of user-visible text.
func normalize(err error, detail string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return chaterr.NewError(chaterr.UploadFailure, detail+": path does not exist")
	case errors.Is(err, fs.ErrPermission):
		return chaterr.NewError(chaterr.UploadFailure, detail+": operation not permitted")
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return chaterr.Wrap(chaterr.UploadFailure, detail, pathErr.Err)
	}

	return chaterr.Wrap(chaterr.UploadFailure, detail, err)
}

func expandHome(path string) (string, error) {
	prefix := "~" + string(filepath.Separator)
	if path != "~" && !strings.HasPrefix(path, prefix) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
