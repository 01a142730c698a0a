package retention

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvw-insights/cbtup/internal/catalog"
)

func writeAged(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("EVTC-data"), 0o644))
	mod := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func newTestManager(t *testing.T, trashDir string, now time.Time) *Manager {
	t.Helper()
	c, err := catalog.New(catalog.Options{Now: func() time.Time { return now }, StartedAt: now})
	require.NoError(t, err)
	trash, err := NewDirTrash(trashDir)
	require.NoError(t, err)
	return NewManager(c, trash, &Flag{}, nil)
}

const day = 24 * time.Hour

func TestCleanupMovesOnlyOldLogs(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeAged(t, filepath.Join(root, "fresh.zevtc"), 10*day, now)
	writeAged(t, filepath.Join(root, "old.zevtc"), 40*day, now)
	writeAged(t, filepath.Join(root, "WvW", "ancient.zevtc"), 100*day, now)
	writeAged(t, filepath.Join(root, "notes.txt"), 100*day, now)

	m := newTestManager(t, filepath.Join(t.TempDir(), "Trash"), now)

	run, err := m.Cleanup(root, 30, true)
	require.NoError(t, err)
	assert.Equal(t, 30, run.ThresholdDays)
	assert.Equal(t, 2, run.FilesMoved)
	assert.Equal(t, int64(18), run.BytesFreed)
	assert.Empty(t, run.Errors)

	assert.FileExists(t, filepath.Join(root, "fresh.zevtc"))
	assert.FileExists(t, filepath.Join(root, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(root, "old.zevtc"))
	assert.NoFileExists(t, filepath.Join(root, "WvW", "ancient.zevtc"))

	for _, mv := range run.Moved {
		assert.FileExists(t, mv.To)
	}
}

func TestAutoCleanupRunsOnce(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeAged(t, filepath.Join(root, "a.zevtc"), 40*day, now)

	m := newTestManager(t, filepath.Join(t.TempDir(), "Trash"), now)

	first, err := m.AutoCleanupIfDue(root, 30, true)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesMoved)
	assert.True(t, m.Flag().Ran())

	writeAged(t, filepath.Join(root, "b.zevtc"), 40*day, now)

	second, err := m.AutoCleanupIfDue(root, 30, true)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.FilesMoved)
	assert.FileExists(t, filepath.Join(root, "b.zevtc"))

	manual, err := m.Cleanup(root, 30, true)
	require.NoError(t, err)
	assert.Equal(t, 1, manual.FilesMoved)
}

func TestAutoCleanupFlagIsSharedAndSetOnFailure(t *testing.T) {
	now := time.Now()
	flag := &Flag{}
	c, err := catalog.New(catalog.Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	trash, err := NewDirTrash(filepath.Join(t.TempDir(), "Trash"))
	require.NoError(t, err)

	a := NewManager(c, trash, flag, nil)
	b := NewManager(c, trash, flag, nil)

	_, err = a.AutoCleanupIfDue(filepath.Join(t.TempDir(), "missing"), 30, true)
	require.Error(t, err)
	assert.True(t, flag.Ran())

	run, err := b.AutoCleanupIfDue(t.TempDir(), 30, true)
	require.NoError(t, err)
	assert.True(t, run.Skipped)
}

func TestTrashCollisionsGetSuffix(t *testing.T) {
	now := time.Now()
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeAged(t, filepath.Join(rootA, "20251010-222255.zevtc"), 40*day, now)
	writeAged(t, filepath.Join(rootB, "20251010-222255.zevtc"), 40*day, now)
	writeAged(t, filepath.Join(rootB, "sub", "20251010-222255.zevtc"), 40*day, now)

	trashDir := filepath.Join(t.TempDir(), "Trash")
	m := newTestManager(t, trashDir, now)

	_, err := m.Cleanup(rootA, 30, true)
	require.NoError(t, err)
	run, err := m.Cleanup(rootB, 30, true)
	require.NoError(t, err)
	assert.Equal(t, 2, run.FilesMoved)

	files, err := os.ReadDir(filepath.Join(trashDir, "files"))
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{"20251010-222255.zevtc", "20251010-222255_1.zevtc", "20251010-222255_2.zevtc"}, names)

	info, err := os.ReadFile(filepath.Join(trashDir, "info", "20251010-222255_1.zevtc.trashinfo"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(info), "[Trash Info]\nPath="))
}

func TestCleanupSkipsTrashUnderRoot(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeAged(t, filepath.Join(root, "old.zevtc"), 40*day, now)

	trashDir := filepath.Join(root, ".trash")
	m := newTestManager(t, trashDir, now)

	run, err := m.Cleanup(root, 30, true)
	require.NoError(t, err)
	assert.Equal(t, 1, run.FilesMoved)

	// the moved log keeps its old mtime but must not be picked up again
	run, err = m.Cleanup(root, 30, true)
	require.NoError(t, err)
	assert.Zero(t, run.FilesMoved)
	assert.Empty(t, run.Errors)
}

func TestCleanupCollectsPerFileErrors(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeAged(t, filepath.Join(root, "a.zevtc"), 40*day, now)
	writeAged(t, filepath.Join(root, "b.zevtc"), 40*day, now)

	c, err := catalog.New(catalog.Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	trash := &flakyTrash{fail: filepath.Join(root, "a.zevtc"), dir: t.TempDir()}
	m := NewManager(c, trash, nil, nil)

	run, err := m.Cleanup(root, 30, false)
	require.NoError(t, err)
	assert.Equal(t, 1, run.FilesMoved)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, filepath.Join(root, "a.zevtc"), run.Errors[0].Path)
}

func TestCleanupRefusesUnsafeRoots(t *testing.T) {
	m := newTestManager(t, filepath.Join(t.TempDir(), "Trash"), time.Now())

	_, err := m.Cleanup(string(filepath.Separator), 30, true)
	assert.True(t, errors.Is(err, ErrUnsafeRoot))

	for _, p := range []string{"C:/", "/usr", "C:/Program Files/GW2", "C:/Windows/Temp"} {
		assert.True(t, isUnsafeRoot(p), p)
	}
	assert.False(t, isUnsafeRoot("/home/me/Documents/Guild Wars 2/addons/arcdps/arcdps.cbtlogs"))
}

type flakyTrash struct {
	fail string
	dir  string
}

func (f *flakyTrash) Move(path string) (string, error) {
	if path == f.fail {
		return "", errors.New("permission denied")
	}
	dest := filepath.Join(f.dir, filepath.Base(path))
	return dest, os.Rename(path, dest)
}

func (f *flakyTrash) Dir() string { return f.dir }
