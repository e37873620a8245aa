package uploads

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"time"
)

var (
	ErrMissingFolder = errors.New("folder name is required")
	ErrInvalidFolder = errors.New("invalid folder name")
	ErrInvalidName   = errors.New("invalid path segment")
	ErrNotFound      = errors.New("not found")
)

// Layout selects how uploads are partitioned on disk.
type Layout string

const (
	// LayoutFlat stores uploads directly under the folder directory.
	LayoutFlat Layout = "flat"
	// LayoutBucketed nests uploads under a "<Month>-<HH>" directory.
	LayoutBucketed Layout = "bucketed"
)

// Location identifies an upload directory: a folder and, in the bucketed
// layout, a time bucket.
type Location struct {
	Folder string
	Bucket string
}

// URLPath returns the viewer path for the location. It always ends with a
// slash so relative image references resolve inside the directory.
func (l Location) URLPath() string {
	return path.Join("/uploads", l.Folder, l.Bucket) + "/"
}

// ImagePath returns the raw file path for an image stored at the location.
func (l Location) ImagePath(name string) string {
	return path.Join(l.URLPath(), name)
}

// Upload is the metadata recorded for every stored image
type Upload struct {
	ID           int64     `json:"id"`
	Folder       string    `json:"folder"`
	Bucket       string    `json:"bucket,omitempty"`
	FileName     string    `json:"file_name"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Location returns the directory the upload was stored in.
func (u *Upload) Location() Location {
	return Location{Folder: u.Folder, Bucket: u.Bucket}
}

// Blob is readable stored content, satisfied by *os.File.
type Blob interface {
	io.ReadSeekCloser
	Stat() (fs.FileInfo, error)
}

// UploadRepository persists upload metadata
type UploadRepository interface {
	// Create stores upload metadata and sets its ID
	Create(ctx context.Context, upload *Upload) error

	// Latest returns the most recent upload of a folder
	Latest(ctx context.Context, folder string) (*Upload, error)
}

// ImageStorage is the physical storage of images and viewer documents
type ImageStorage interface {
	// EnsureDir creates the location directory if needed and returns its
	// absolute path
	EnsureDir(loc Location) (string, error)

	// SaveImage writes a new image file and returns the number of bytes written
	SaveImage(loc Location, name string, content io.Reader) (int64, error)

	// WriteViewer replaces the viewer document of the location
	WriteViewer(loc Location, doc []byte) error

	// Open returns a stored file, ErrNotFound if it is missing
	Open(loc Location, name string) (Blob, error)
}
