package retention

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forceCopy(t *testing.T, chtimesErr error) {
	t.Helper()
	origRename, origChtimes := rename, chtimes
	t.Cleanup(func() { rename, chtimes = origRename, origChtimes })

	rename = func(string, string) error { return errors.New("cross-device link") }
	if chtimesErr != nil {
		chtimes = func(string, time.Time, time.Time) error { return chtimesErr }
	}
}

func oldFile(t *testing.T) (string, time.Time) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "a.zevtc")
	require.NoError(t, os.WriteFile(src, []byte("EVTC"), 0o644))
	mod := time.Now().Add(-40 * 24 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(src, mod, mod))
	return src, mod
}

func TestMoveFileCopyKeepsModTime(t *testing.T) {
	forceCopy(t, nil)
	src, mod := oldFile(t)
	dst := filepath.Join(t.TempDir(), "a.zevtc")

	require.NoError(t, moveFile(src, dst))
	assert.NoFileExists(t, src)
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mod))
}

func TestMoveFileUndoesCopyWhenModTimeIsLost(t *testing.T) {
	forceCopy(t, errors.New("read-only file system"))
	src, _ := oldFile(t)
	dst := filepath.Join(t.TempDir(), "a.zevtc")

	err := moveFile(src, dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modification time")
	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)
}
