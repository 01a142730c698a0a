package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAppendListsNewestFirst(t *testing.T) {
	s, _ := openTemp(t)
	base := time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(Record{TaskID: "t1", Path: "/logs/a.zevtc", UploadedAt: base, Link: "https://r/1"}))
	require.NoError(t, s.Append(Record{TaskID: "t2", Path: "/logs/b.zevtc", UploadedAt: base.Add(time.Hour), Link: "https://r/2"}))
	require.NoError(t, s.Append(Record{TaskID: "t3", Path: "/logs/c.zevtc", UploadedAt: base.Add(30 * time.Minute), Link: "https://r/3"}))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"t2", "t3", "t1"}, []string{list[0].TaskID, list[1].TaskID, list[2].TaskID})
	assert.Equal(t, "a.zevtc", list[2].Name)
}

func TestAppendRequiresLink(t *testing.T) {
	s, _ := openTemp(t)
	assert.Error(t, s.Append(Record{TaskID: "t1"}))
	assert.Error(t, s.Append(Record{Link: "https://r/1"}))
	assert.Empty(t, s.List())
}

func TestAppendBatchUploadsAndReports(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Append(Record{TaskID: "t1", Path: "/logs/a.zevtc"}))
	require.NoError(t, s.Append(Record{TaskID: "r1", Name: "Report.html", Link: "https://r/remote/Report.html", ReportID: "remote"}))

	assert.True(t, s.Uploaded("a.zevtc"))
	assert.False(t, s.Uploaded("Report.html"))

	r, err := s.Get("t1")
	require.NoError(t, err)
	assert.Empty(t, r.Link)
	assert.Equal(t, "a.zevtc", r.Name)
}

func TestAppendRejectsDuplicateTask(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Append(Record{TaskID: "t1", Link: "https://r/1"}))
	assert.Error(t, s.Append(Record{TaskID: "t1", Link: "https://r/2"}))
	assert.Len(t, s.List(), 1)
}

func TestHistorySurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	at := time.Date(2025, 10, 10, 22, 22, 55, 0, time.UTC)
	require.NoError(t, s.Append(Record{TaskID: "t1", SessionID: "s1", Path: "/logs/a.zevtc", UploadedAt: at, Link: "https://r/1", ReportID: "42"}))
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	list := reopened.List()
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].SessionID)
	assert.Equal(t, "42", list[0].ReportID)
	assert.True(t, at.Equal(list[0].UploadedAt))
	assert.True(t, reopened.Uploaded("a.zevtc"))
}

func TestRemoveAndClear(t *testing.T) {
	s, _ := openTemp(t)
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.Append(Record{TaskID: id, Path: id + ".zevtc", Link: "https://r/" + id}))
	}

	require.NoError(t, s.Remove("t2"))
	assert.True(t, errors.Is(s.Remove("t2"), ErrNotFound))
	_, err := s.Get("t2")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Len(t, s.List(), 2)

	require.NoError(t, s.Append(Record{TaskID: "t4", Link: "https://r/t4"}))

	n, err := s.Clear()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, s.List())

	// tracker outlives the report list
	assert.True(t, s.Uploaded("t1.zevtc"))
}

func TestPruneUploaded(t *testing.T) {
	s, _ := openTemp(t)
	now := time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Append(Record{TaskID: "old", Path: "old.zevtc", UploadedAt: now.Add(-100 * time.Hour), Link: "https://r/old"}))
	require.NoError(t, s.Append(Record{TaskID: "new", Path: "new.zevtc", UploadedAt: now.Add(-time.Hour), Link: "https://r/new"}))

	n, err := s.PruneUploaded(UploadedRetention)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, s.Uploaded("old.zevtc"))
	assert.True(t, s.Uploaded("new.zevtc"))

	names, err := s.UploadedNames()
	require.NoError(t, err)
	assert.Len(t, names, 1)
	assert.Len(t, s.List(), 2)
}
