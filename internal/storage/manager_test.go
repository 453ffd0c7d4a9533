// manager_test.go - Tests for storage layer
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates downloads directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data", "downloads")

		store, err := NewLocalStore(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, store.Dir())

		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Error("Expected downloads directory to be created")
		}
	})
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("saves file from reader", func(t *testing.T) {
		store := createTestStore(t)
		content := "%PDF-1.4 report"

		info, err := store.Save("report_1.pdf", strings.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, "report_1.pdf", info.Name)
		assert.Equal(t, int64(len(content)), info.Size)
		assert.True(t, filepath.IsAbs(info.Path))
		assert.WithinDuration(t, time.Now(), info.SavedAt, time.Minute)

		data, err := os.ReadFile(info.Path)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("replaces file with the same name", func(t *testing.T) {
		store := createTestStore(t)
		_, err := store.SaveBytes("report_1.pdf", []byte("first"))
		require.NoError(t, err)
		info, err := store.SaveBytes("report_1.pdf", []byte("second!"))
		require.NoError(t, err)
		assert.Equal(t, int64(7), info.Size)

		list, err := store.List(0)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("strips directories from names", func(t *testing.T) {
		store := createTestStore(t)
		info, err := store.SaveBytes("../../etc/report.pdf", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", info.Name)
		assert.Equal(t, store.Dir(), filepath.Dir(info.Path))

		info, err = store.SaveBytes(`C:\Users\me\export.xlsx`, []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "export.xlsx", info.Name)
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		store := createTestStore(t)
		for _, name := range []string{"", "  ", ".", "..", ".hidden", "../.env"} {
			_, err := store.SaveBytes(name, []byte("x"))
			assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		store := createTestStore(t)
		_, err := store.Save("a.pdf", errReader{})
		require.Error(t, err)

		entries, err := os.ReadDir(store.Dir())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestLocalStore_GetAndDelete(t *testing.T) {
	store := createTestStore(t)
	_, err := store.SaveBytes("report_2.pdf", []byte("abc"))
	require.NoError(t, err)

	info, err := store.Get("report_2.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)

	path, err := store.GetFilePath("report_2.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "report_2.pdf"), path)

	require.NoError(t, store.Delete("report_2.pdf"))
	_, err = store.Get("report_2.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete("report_2.pdf"), ErrNotFound)
}

func TestLocalStore_List(t *testing.T) {
	store := createTestStore(t)
	names := []string{"report_1.pdf", "report_2.pdf", "dataset_2.xlsx"}
	base := time.Now().Add(-time.Hour)
	for i, name := range names {
		info, err := store.SaveBytes(name, []byte(name))
		require.NoError(t, err)
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(info.Path, ts, ts))
	}
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir(), "subdir"), 0755))

	list, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "dataset_2.xlsx", list[0].Name)
	assert.Equal(t, "report_1.pdf", list[2].Name)

	list, err = store.List(2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
