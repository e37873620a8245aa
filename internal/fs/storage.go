package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pavel-fokin/photo-drop/internal/uploads"
)

// Storage implements uploads.ImageStorage using the filesystem
type Storage struct {
	dataDir string
}

// NewStorage creates a new filesystem storage rooted at dataDir
func NewStorage(dataDir string) *Storage {
	return &Storage{
		dataDir: dataDir,
	}
}

// dir maps a location to its directory, uploads/<folder>[/<bucket>]
func (s *Storage) dir(loc uploads.Location) string {
	return filepath.Join(s.dataDir, loc.Folder, loc.Bucket)
}

// EnsureDir creates the location directory tree if it doesn't exist
func (s *Storage) EnsureDir(loc uploads.Location) (string, error) {
	dir, err := filepath.Abs(s.dir(loc))
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	return dir, nil
}

// SaveImage writes content to a new file. It never overwrites an existing one.
func (s *Storage) SaveImage(loc uploads.Location, name string, content io.Reader) (int64, error) {
	filePath := filepath.Join(s.dir(loc), name)

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, content)
	if err != nil {
		// Clean up file if copy fails
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file content: %w", err)
	}

	return size, nil
}

// WriteViewer replaces index.html of the location. The document is written
// to a temporary file and renamed, so readers never see a partial document;
// with concurrent writers the last rename wins.
func (s *Storage) WriteViewer(loc uploads.Location, doc []byte) error {
	dir := s.dir(loc)

	tmp, err := os.CreateTemp(dir, ".index-*.html")
	if err != nil {
		return fmt.Errorf("failed to create viewer file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write viewer file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close viewer file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod viewer file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, uploads.ViewerName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace viewer file: %w", err)
	}

	return nil
}

// Open returns a reader for a stored file
func (s *Storage) Open(loc uploads.Location, name string) (uploads.Blob, error) {
	filePath := filepath.Join(s.dir(loc), name)

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", filepath.Join(loc.Folder, loc.Bucket, name), uploads.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filepath.Join(loc.Folder, loc.Bucket, name), uploads.ErrNotFound)
	}

	return file, nil
}
