// task.go - Upload task status machine
package upload

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/chemdata-visualizer/client/internal/models"
)

// Status represents the upload task status.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusUploading Status = "uploading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	// ErrNoFile is returned by Begin when no file is selected.
	ErrNoFile = errors.New("upload: no file selected")
	// ErrInFlight is returned while an upload is running.
	ErrInFlight = errors.New("upload: an upload is already in progress")
)

// File is a selected CSV held in memory until it is sent.
type File struct {
	Name string
	Data []byte
}

// Size returns the file length in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

// Reader returns a fresh reader over the file contents.
func (f File) Reader() io.Reader { return bytes.NewReader(f.Data) }

// Snapshot is a copy of the task state.
type Snapshot struct {
	Status      Status          `json:"status"`
	FileName    string          `json:"fileName,omitempty"`
	FileSize    int64           `json:"fileSize,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Dataset     *models.Dataset `json:"dataset,omitempty"`
	Attempts    int             `json:"attempts"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// HasFile reports whether a file is selected.
func (s Snapshot) HasFile() bool { return s.FileName != "" }

// Task tracks one selected file through Idle, Uploading, Succeeded and
// Failed. At most one upload runs at a time.
type Task struct {
	mu          sync.Mutex
	file        *File
	status      Status
	reason      string
	dataset     *models.Dataset
	attempts    int
	startedAt   time.Time
	completedAt time.Time
	discard     bool
}

func NewTask() *Task {
	return &Task{status: StatusIdle}
}

// Select replaces the selected file and resets the task to Idle.
func (t *Task) Select(f File) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusUploading {
		return ErrInFlight
	}
	t.file = &f
	t.status = StatusIdle
	t.reason = ""
	t.dataset = nil
	t.attempts = 0
	return nil
}

// Begin moves the task to Uploading and returns the file to send.
func (t *Task) Begin() (File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusUploading {
		return File{}, ErrInFlight
	}
	if t.file == nil {
		return File{}, ErrNoFile
	}
	t.status = StatusUploading
	t.reason = ""
	t.attempts++
	t.startedAt = time.Now()
	t.completedAt = time.Time{}
	return *t.file, nil
}

// Succeed completes the running upload and clears the selected file.
// It reports false when no upload was running.
func (t *Task) Succeed(ds *models.Dataset) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusUploading {
		return false
	}
	t.status = StatusSucceeded
	t.file = nil
	t.dataset = ds
	t.completedAt = time.Now()
	if t.discard {
		t.clear()
	}
	return true
}

// Fail records reason for the running upload. The file stays selected so
// the upload can be retried.
func (t *Task) Fail(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusUploading {
		return false
	}
	t.status = StatusFailed
	t.reason = reason
	t.completedAt = time.Now()
	if t.discard {
		t.clear()
	}
	return true
}

// Reset clears the file and returns to Idle unless an upload is running.
func (t *Task) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusUploading {
		return false
	}
	t.clear()
	return true
}

// Discard resets the task like Reset. A running upload is left to finish,
// after which the task drops its file and returns to Idle. It reports
// whether the task was reset immediately.
func (t *Task) Discard() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusUploading {
		t.discard = true
		return false
	}
	t.clear()
	return true
}

func (t *Task) clear() {
	t.file = nil
	t.status = StatusIdle
	t.reason = ""
	t.dataset = nil
	t.attempts = 0
	t.startedAt = time.Time{}
	t.completedAt = time.Time{}
	t.discard = false
}

// Snapshot returns the current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Status:   t.status,
		Reason:   t.reason,
		Dataset:  t.dataset,
		Attempts: t.attempts,
	}
	if t.file != nil {
		s.FileName = t.file.Name
		s.FileSize = t.file.Size()
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		s.StartedAt = &started
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		s.CompletedAt = &completed
	}
	return s
}
