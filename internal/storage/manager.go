// manager.go - Downloads directory where reports and exports are presented
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chemdata-visualizer/client/internal/models"
)

var (
	// ErrInvalidName is returned for names that are empty or hidden.
	ErrInvalidName = errors.New("storage: invalid file name")
	// ErrNotFound is returned when a file does not exist.
	ErrNotFound = errors.New("storage: file not found")
)

// Store defines the interface for presenting files to the user.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(name string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(name string) error
	GetFilePath(name string) (string, error)
}

// LocalStore implements Store on a local directory. A file saved under an
// existing name replaces it.
type LocalStore struct {
	mu  sync.Mutex
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating downloads directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *LocalStore) Dir() string { return s.dir }

// cleanName keeps only the last path element of name.
func cleanName(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return name, nil
}

// Save writes r to a temporary file and renames it into place.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	final := filepath.Join(s.dir, clean)
	tmp := filepath.Join(s.dir, ".tmp-"+uuid.New().String())

	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("closing file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("moving file into place: %w", err)
	}
	return statInfo(final)
}

// SaveBytes is Save for an in-memory body.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, bytes.NewReader(data))
}

// Get returns metadata of a saved file.
func (s *LocalStore) Get(name string) (*models.FileInfo, error) {
	path, err := s.GetFilePath(name)
	if err != nil {
		return nil, err
	}
	return statInfo(path)
}

// List returns the most recently saved files, newest first. A limit of
// zero or less returns all of them.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading downloads directory: %w", err)
	}

	var list []*models.FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := statInfo(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		list = append(list, info)
	}

	// Sort by SavedAt desc, then name
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SavedAt.Equal(list[j].SavedAt) {
			return list[i].SavedAt.After(list[j].SavedAt)
		}
		return list[i].Name < list[j].Name
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a saved file.
func (s *LocalStore) Delete(name string) error {
	path, err := s.GetFilePath(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// GetFilePath returns the path of an existing file.
func (s *LocalStore) GetFilePath(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, name)
	}
	path := filepath.Join(s.dir, clean)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return "", err
	}
	return path, nil
}

func statInfo(path string) (*models.FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &models.FileInfo{
		Name:    st.Name(),
		Path:    abs,
		Size:    st.Size(),
		SavedAt: st.ModTime(),
	}, nil
}
