package attach

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatroom/pkg/chaterr"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func mustGuard(t *testing.T, maxBytes int64) (*Guard, string) {
	t.Helper()

	root := t.TempDir()
	guard, err := NewGuard(root, maxBytes)
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}

	return guard, root
}

func TestNewGuardExpandsHome(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)
	if err := os.Mkdir(filepath.Join(homeDir, "pictures"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	guard, err := NewGuard("~/pictures", 0)
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}

	want, err := filepath.EvalSymlinks(filepath.Join(homeDir, "pictures"))
	if err != nil {
		t.Fatalf("EvalSymlinks error: %v", err)
	}
	if guard.Root() != want {
		t.Fatalf("Root = %q, want %q", guard.Root(), want)
	}
}

func TestNewGuardRejectsMissingDirectory(t *testing.T) {
	_, err := NewGuard(filepath.Join(t.TempDir(), "missing"), 0)
	if !chaterr.Is(err, chaterr.UploadFailure) {
		t.Fatalf("NewGuard error = %v, want upload failure", err)
	}
}

func TestResolveRejectsEmpty(t *testing.T) {
	guard, _ := mustGuard(t, 0)

	_, err := guard.Resolve("  ")
	if !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("Resolve error = %v, want ErrEmptyPath", err)
	}
}

func TestResolveRelativeInsideRoot(t *testing.T) {
	guard, root := mustGuard(t, 0)
	writeFile(t, filepath.Join(root, "pics", "cat.png"), "png")

	resolved, err := guard.Resolve("pics/cat.png")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !strings.HasPrefix(resolved, guard.Root()+string(filepath.Separator)) {
		t.Fatalf("resolved path = %q is not inside root %q", resolved, guard.Root())
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	guard, root := mustGuard(t, 0)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.txt"), "x")
	if err := os.Symlink(outside, filepath.Join(root, "out-link")); err != nil {
		t.Fatalf("create symlink: %v", err)
	}

	for _, input := range []string{
		filepath.Join(outside, "secret.txt"),
		filepath.Join("..", filepath.Base(outside), "secret.txt"),
		"out-link/secret.txt",
	} {
		if _, err := guard.Resolve(input); !errors.Is(err, ErrOutsideRoot) {
			t.Fatalf("Resolve(%q) error = %v, want ErrOutsideRoot", input, err)
		}
	}
}

func TestUnrestrictedGuardAllowsAnyPath(t *testing.T) {
	guard, err := NewGuard("", 0)
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "cat.png")
	writeFile(t, path, "png")

	file, err := guard.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	file.Close()
}

func TestNilGuardOpensAbsolutePath(t *testing.T) {
	var guard *Guard
	path := filepath.Join(t.TempDir(), "cat.png")
	writeFile(t, path, "png")

	file, err := guard.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	file.Close()
}

func TestOpenRejectsMissingDirectoryAndLargeFiles(t *testing.T) {
	guard, root := mustGuard(t, 4)
	writeFile(t, filepath.Join(root, "small.txt"), "abc")
	writeFile(t, filepath.Join(root, "big.txt"), "abcdefgh")
	if err := os.Mkdir(filepath.Join(root, "folder"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	file, err := guard.Open("small.txt")
	if err != nil {
		t.Fatalf("Open(small) error: %v", err)
	}
	file.Close()

	if _, err := guard.Open("big.txt"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Open(big) error = %v, want ErrTooLarge", err)
	}
	if _, err := guard.Open("folder"); !errors.Is(err, ErrNotRegular) {
		t.Fatalf("Open(folder) error = %v, want ErrNotRegular", err)
	}

	_, err = guard.Open("nope.txt")
	if !chaterr.Is(err, chaterr.UploadFailure) || !strings.Contains(err.Error(), "path does not exist") {
		t.Fatalf("Open(missing) error = %v", err)
	}
}
