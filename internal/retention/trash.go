package retention

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Trash is a reversible destination for removed logs.
type Trash interface {
	// Move puts path into the trash and returns where it ended up.
	Move(path string) (string, error)
	// Dir is the trash root, skipped when scanning for old logs.
	Dir() string
}

// DirTrash is a freedesktop.org style trash directory: files/ holds the moved
// files and info/ holds a .trashinfo file naming the original path.
type DirTrash struct {
	root string
	now  func() time.Time
}

// NewDirTrash creates the trash layout under root if needed.
func NewDirTrash(root string) (*DirTrash, error) {
	if root == "" {
		return nil, fmt.Errorf("trash directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve trash directory: %w", err)
	}
	for _, sub := range []string{"files", "info"} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create trash directory: %w", err)
		}
	}
	return &DirTrash{root: abs, now: time.Now}, nil
}

// DefaultTrashDir returns $XDG_DATA_HOME/Trash, falling back to ~/.local/share/Trash.
func DefaultTrashDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "Trash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// Dir returns the trash root.
func (t *DirTrash) Dir() string {
	return t.root
}

// Move moves path into the trash. Name collisions get a _N suffix.
func (t *DirTrash) Move(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	dest, info, err := t.reserve(filepath.Base(abs))
	if err != nil {
		return "", err
	}

	content := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		escapeTrashPath(abs), t.now().Format("2006-01-02T15:04:05"))
	if err := os.WriteFile(info, []byte(content), 0o600); err != nil {
		os.Remove(info)
		return "", fmt.Errorf("failed to write trash info: %w", err)
	}

	if err := moveFile(abs, dest); err != nil {
		os.Remove(info)
		return "", err
	}
	return dest, nil
}

// reserve claims a free name by creating its .trashinfo file exclusively.
func (t *DirTrash) reserve(name string) (string, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 10000; i++ {
		candidate := name
		if i > 0 {
			candidate = stem + "_" + strconv.Itoa(i) + ext
		}
		dest := filepath.Join(t.root, "files", candidate)
		info := filepath.Join(t.root, "info", candidate+".trashinfo")

		if _, err := os.Lstat(dest); err == nil {
			continue
		}
		f, err := os.OpenFile(info, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", "", fmt.Errorf("failed to reserve trash entry: %w", err)
		}
		f.Close()
		return dest, info, nil
	}
	return "", "", fmt.Errorf("no free trash name for %s", name)
}

// Swapped out in tests to exercise the copy path.
var (
	rename  = os.Rename
	chtimes = os.Chtimes
)

// moveFile renames src to dst, copying across filesystems when rename fails.
// A copied file keeps its modification time or the move is undone.
func moveFile(src, dst string) error {
	if err := rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	stat, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, stat.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := chtimes(dst, stat.ModTime(), stat.ModTime()); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to keep modification time: %w", err)
	}

	in.Close()
	if err := os.Remove(src); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return nil
}

func escapeTrashPath(p string) string {
	parts := strings.Split(filepath.ToSlash(p), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
