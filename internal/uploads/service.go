package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pavel-fokin/photo-drop/internal/viewer"
)

const maxRandomSuffix = 1_000_000_000

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// Service provides application-level upload operations
type Service struct {
	storage  ImageStorage
	repo     UploadRepository
	resolver *Resolver
	baseURL  string
	siteName string
	now      func() time.Time
	random   func() int64
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source used for buckets and file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom overrides the random suffix source of generated file names.
func WithRandom(random func() int64) Option {
	return func(s *Service) { s.random = random }
}

// WithSiteName sets the site name shown in viewer metadata.
func WithSiteName(name string) Option {
	return func(s *Service) { s.siteName = name }
}

// NewService creates a new upload service. baseURL is the public origin used
// for absolute links in viewer documents.
func NewService(storage ImageStorage, repo UploadRepository, resolver *Resolver, baseURL string, opts ...Option) *Service {
	s := &Service{
		storage:  storage,
		repo:     repo,
		resolver: resolver,
		baseURL:  strings.TrimRight(baseURL, "/"),
		siteName: "Photo Drop",
		now:      time.Now,
		random:   func() int64 { return rand.Int64N(maxRandomSuffix + 1) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadRequest represents an image upload request
type UploadRequest struct {
	Folder   string
	Name     string
	MimeType string
	Content  io.Reader
}

// UploadResult represents the result of an image upload
type UploadResult struct {
	ID        int64     `json:"id"`
	Folder    string    `json:"folder"`
	Bucket    string    `json:"bucket,omitempty"`
	ImageName string    `json:"image_name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ViewerURL string    `json:"viewer_url"`
	ImageURL  string    `json:"image_url"`
}

// Upload stores an image, rewrites the viewer document of its folder (and
// bucket) to show it and records it.
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	now := s.now()

	loc, err := s.resolver.Resolve(req.Folder, now)
	if err != nil {
		return nil, err
	}

	dir, err := s.storage.EnsureDir(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	name := s.ImageName(now, req.Name)
	size, err := s.storage.SaveImage(loc, name, req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	doc, err := viewer.Render(s.page(loc, name))
	if err != nil {
		return nil, fmt.Errorf("failed to render viewer: %w", err)
	}
	// The image stays on disk when the viewer cannot be written.
	if err := s.storage.WriteViewer(loc, doc); err != nil {
		return nil, fmt.Errorf("failed to write viewer: %w", err)
	}

	// Recorded last, so the upload log only points at locations whose viewer
	// shows the image. The image is kept on failure: the viewer references it.
	upload := &Upload{
		Folder:       loc.Folder,
		Bucket:       loc.Bucket,
		FileName:     name,
		OriginalName: req.Name,
		Size:         size,
		MimeType:     req.MimeType,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	slog.Info("Image uploaded", "dir", dir, "file", name, "size", size)

	return &UploadResult{
		ID:        upload.ID,
		Folder:    loc.Folder,
		Bucket:    loc.Bucket,
		ImageName: name,
		Size:      size,
		CreatedAt: now,
		ViewerURL: loc.URLPath(),
		ImageURL:  loc.ImagePath(name),
	}, nil
}

// OpenImage returns a stored image.
func (s *Service) OpenImage(folder, bucket, name string) (Blob, error) {
	loc, err := s.resolver.Parse(folder, bucket)
	if err != nil {
		return nil, err
	}
	if err := ValidateImageName(name); err != nil {
		return nil, err
	}
	return s.storage.Open(loc, name)
}

// OpenViewer returns the viewer document of a folder (and bucket).
func (s *Service) OpenViewer(folder, bucket string) (Blob, error) {
	loc, err := s.resolver.Parse(folder, bucket)
	if err != nil {
		return nil, err
	}
	return s.storage.Open(loc, ViewerName)
}

// LatestViewer returns the viewer path of the most recent upload of a folder.
func (s *Service) LatestViewer(ctx context.Context, folder string) (string, error) {
	if err := ValidateFolder(folder); err != nil {
		return "", err
	}
	upload, err := s.repo.Latest(ctx, folder)
	if err != nil {
		return "", err
	}
	// Uploads recorded under another layout are not reachable.
	if _, err := s.resolver.Parse(upload.Folder, upload.Bucket); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return upload.Location().URLPath(), nil
}

// ImageName generates the stored file name for an upload made at t:
// "image-<unix ms>-<random>" plus the original extension when it is safe.
func (s *Service) ImageName(t time.Time, original string) string {
	ext := filepath.Ext(original)
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("image-%d-%d%s", t.UnixMilli(), s.random(), ext)
}

func (s *Service) page(loc Location, name string) viewer.Page {
	p := viewer.Page{
		SiteName:  s.siteName,
		Title:     loc.Folder,
		ImageName: name,
		ImageURL:  s.baseURL + loc.ImagePath(name),
		PageURL:   s.baseURL + loc.URLPath(),
	}
	if s.resolver.Layout() == LayoutBucketed {
		p.CopyURL = p.ImageURL
	}
	return p
}

// IsClientError reports whether err was caused by invalid request data.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingFolder) ||
		errors.Is(err, ErrInvalidFolder) ||
		errors.Is(err, ErrInvalidName)
}
