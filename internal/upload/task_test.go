package upload

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemdata-visualizer/client/internal/models"
)

func TestTaskLifecycle(t *testing.T) {
	task := NewTask()
	assert.Equal(t, StatusIdle, task.Snapshot().Status)

	_, err := task.Begin()
	assert.ErrorIs(t, err, ErrNoFile)
	assert.Equal(t, StatusIdle, task.Snapshot().Status)

	require.NoError(t, task.Select(File{Name: "plant.csv", Data: []byte("abc")}))
	snap := task.Snapshot()
	assert.True(t, snap.HasFile())
	assert.Equal(t, int64(3), snap.FileSize)

	f, err := task.Begin()
	require.NoError(t, err)
	body, _ := io.ReadAll(f.Reader())
	assert.Equal(t, "abc", string(body))
	assert.Equal(t, StatusUploading, task.Snapshot().Status)
	assert.NotNil(t, task.Snapshot().StartedAt)

	_, err = task.Begin()
	assert.ErrorIs(t, err, ErrInFlight)
	assert.ErrorIs(t, task.Select(File{Name: "other.csv"}), ErrInFlight)
	assert.False(t, task.Reset())

	assert.True(t, task.Fail("bad header"))
	snap = task.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "bad header", snap.Reason)
	assert.Equal(t, "plant.csv", snap.FileName, "file kept for retry")
	assert.NotNil(t, snap.CompletedAt)

	// Retry
	_, err = task.Begin()
	require.NoError(t, err)
	assert.Empty(t, task.Snapshot().Reason)
	ds := &models.Dataset{ID: 4}
	assert.True(t, task.Succeed(ds))

	snap = task.Snapshot()
	assert.Equal(t, StatusSucceeded, snap.Status)
	assert.False(t, snap.HasFile(), "file cleared after success")
	assert.Equal(t, 2, snap.Attempts)
	assert.Equal(t, ds, snap.Dataset)

	assert.False(t, task.Succeed(ds), "nothing running")
	assert.False(t, task.Fail("late"))

	_, err = task.Begin()
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestTaskReset(t *testing.T) {
	task := NewTask()
	require.NoError(t, task.Select(File{Name: "a.csv", Data: []byte("x")}))
	assert.True(t, task.Reset())
	snap := task.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.False(t, snap.HasFile())
	assert.Nil(t, snap.StartedAt)
}

func TestTaskSingleInFlight(t *testing.T) {
	task := NewTask()
	require.NoError(t, task.Select(File{Name: "a.csv", Data: []byte("x")}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := task.Begin(); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}

func TestTaskDiscardWhileUploading(t *testing.T) {
	task := NewTask()
	require.NoError(t, task.Select(File{Name: "a.csv", Data: []byte("x")}))
	_, err := task.Begin()
	require.NoError(t, err)

	assert.False(t, task.Discard(), "running upload is not interrupted")
	assert.Equal(t, StatusUploading, task.Snapshot().Status)

	assert.True(t, task.Fail("boom"))
	snap := task.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.False(t, snap.HasFile(), "a failed upload is not kept for retry")
	assert.Empty(t, snap.Reason)

	_, err = task.Begin()
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestTaskDiscardIdle(t *testing.T) {
	task := NewTask()
	require.NoError(t, task.Select(File{Name: "a.csv", Data: []byte("x")}))
	assert.True(t, task.Discard())
	assert.False(t, task.Snapshot().HasFile())
}
