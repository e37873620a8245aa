package uploads_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/photo-drop/internal/fs"
	"github.com/pavel-fokin/photo-drop/internal/uploads"
)

var jpeg = []byte{0xFF, 0xD8, 0xD9}

type memoryRepo struct {
	mu      sync.Mutex
	uploads []*uploads.Upload
	err     error
}

func (r *memoryRepo) Create(ctx context.Context, upload *uploads.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	upload.ID = int64(len(r.uploads) + 1)
	r.uploads = append(r.uploads, upload)
	return nil
}

func (r *memoryRepo) Latest(ctx context.Context, folder string) (*uploads.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.uploads) - 1; i >= 0; i-- {
		if r.uploads[i].Folder == folder {
			return r.uploads[i], nil
		}
	}
	return nil, uploads.ErrNotFound
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func sequence(values ...int64) func() int64 {
	i := 0
	return func() int64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func newService(t *testing.T, layout uploads.Layout, repo uploads.UploadRepository, opts ...uploads.Option) (*uploads.Service, string) {
	t.Helper()

	dataDir := t.TempDir()
	resolver, err := uploads.NewResolver(layout, time.UTC)
	require.NoError(t, err)

	return uploads.NewService(fs.NewStorage(dataDir), repo, resolver, "https://photos.example.com/", opts...), dataDir
}

func readBlob(t *testing.T, blob uploads.Blob) []byte {
	t.Helper()
	defer blob.Close()
	data, err := io.ReadAll(blob)
	require.NoError(t, err)
	return data
}

func TestUploadFlat(t *testing.T) {
	c := &clock{now: time.Date(2024, time.March, 3, 14, 5, 0, 0, time.UTC)}
	service, dataDir := newService(t, uploads.LayoutFlat, &memoryRepo{},
		uploads.WithClock(c.Now), uploads.WithRandom(sequence(42)))

	result, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder:   "trip",
		Name:     "photo.jpg",
		MimeType: "image/jpeg",
		Content:  bytes.NewReader(jpeg),
	})
	require.NoError(t, err)

	expectedName := "image-1709474700000-42.jpg"
	assert.Equal(t, expectedName, result.ImageName)
	assert.Equal(t, "/uploads/trip/", result.ViewerURL)
	assert.Equal(t, "/uploads/trip/"+expectedName, result.ImageURL)
	assert.Equal(t, int64(3), result.Size)
	assert.Empty(t, result.Bucket)

	stored, err := os.ReadFile(filepath.Join(dataDir, "trip", expectedName))
	require.NoError(t, err)
	assert.Equal(t, jpeg, stored)

	doc := readBlob(t, must(service.OpenViewer("trip", "")))
	assert.Contains(t, string(doc), "<h1>trip</h1>")
	assert.Contains(t, string(doc), `src="./`+expectedName+`"`)
	assert.Contains(t, string(doc), "https://photos.example.com/uploads/trip/"+expectedName)
	assert.NotContains(t, string(doc), "Copy URL")

	assert.Equal(t, jpeg, readBlob(t, must(service.OpenImage("trip", "", expectedName))))
}

func TestUploadBucketed(t *testing.T) {
	c := &clock{now: time.Date(2024, time.March, 3, 14, 5, 0, 0, time.UTC)}
	service, dataDir := newService(t, uploads.LayoutBucketed, &memoryRepo{},
		uploads.WithClock(c.Now), uploads.WithRandom(sequence(1, 2)))

	first, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "a.png", Content: bytes.NewReader([]byte("first")),
	})
	require.NoError(t, err)
	assert.Equal(t, "March-14", first.Bucket)
	assert.Equal(t, "/uploads/trip/March-14/", first.ViewerURL)

	c.now = c.now.Add(time.Hour)
	second, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "b.png", Content: bytes.NewReader([]byte("second")),
	})
	require.NoError(t, err)
	assert.Equal(t, "March-15", second.Bucket)

	// Each bucket keeps its own viewer document
	for _, r := range []*uploads.UploadResult{first, second} {
		assert.FileExists(t, filepath.Join(dataDir, "trip", r.Bucket, uploads.ViewerName))
		doc := readBlob(t, must(service.OpenViewer("trip", r.Bucket)))
		assert.Contains(t, string(doc), `src="./`+r.ImageName+`"`)
		assert.Contains(t, string(doc), "Copy URL")
	}
}

func TestUploadTwiceKeepsLatestInViewer(t *testing.T) {
	c := &clock{now: time.Date(2024, time.March, 3, 14, 5, 0, 0, time.UTC)}
	service, dataDir := newService(t, uploads.LayoutBucketed, &memoryRepo{},
		uploads.WithClock(c.Now), uploads.WithRandom(sequence(7, 8)))

	first, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "a.jpg", Content: bytes.NewReader([]byte("first")),
	})
	require.NoError(t, err)

	c.now = c.now.Add(time.Minute)
	second, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "b.jpg", Content: bytes.NewReader([]byte("second")),
	})
	require.NoError(t, err)
	require.Equal(t, first.Bucket, second.Bucket)

	doc := string(readBlob(t, must(service.OpenViewer("trip", first.Bucket))))
	assert.Contains(t, doc, second.ImageName)
	assert.NotContains(t, doc, first.ImageName)

	// The first image stays on disk, unreferenced
	assert.FileExists(t, filepath.Join(dataDir, "trip", first.Bucket, first.ImageName))
	assert.FileExists(t, filepath.Join(dataDir, "trip", second.Bucket, second.ImageName))
}

func TestUploadSameMillisecondGetsDistinctNames(t *testing.T) {
	c := &clock{now: time.Date(2024, time.March, 3, 14, 5, 0, 0, time.UTC)}
	service, _ := newService(t, uploads.LayoutFlat, &memoryRepo{},
		uploads.WithClock(c.Now), uploads.WithRandom(sequence(100, 200)))

	first, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "a.jpg", Content: bytes.NewReader(jpeg),
	})
	require.NoError(t, err)
	second, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "a.jpg", Content: bytes.NewReader(jpeg),
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.ImageName, second.ImageName)
}

func TestImageName(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	service, _ := newService(t, uploads.LayoutFlat, &memoryRepo{}, uploads.WithRandom(sequence(5)))

	tests := []struct {
		original string
		expected string
	}{
		{"photo.jpg", "image-1700000000123-5.jpg"},
		{"archive.tar.gz", "image-1700000000123-5.gz"},
		{"noext", "image-1700000000123-5"},
		{"weird.j<p>g", "image-1700000000123-5"},
		{"long.abcdefghijk", "image-1700000000123-5"},
	}

	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			assert.Equal(t, tt.expected, service.ImageName(at, tt.original))
		})
	}

	t.Run("random suffix", func(t *testing.T) {
		service, _ := newService(t, uploads.LayoutFlat, &memoryRepo{})
		name := service.ImageName(at, "photo.jpg")
		assert.True(t, strings.HasPrefix(name, "image-1700000000123-"), name)
		assert.True(t, strings.HasSuffix(name, ".jpg"), name)
	})
}

func TestUploadMissingFolder(t *testing.T) {
	service, dataDir := newService(t, uploads.LayoutBucketed, &memoryRepo{})

	_, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Name: "photo.jpg", Content: bytes.NewReader(jpeg),
	})
	assert.ErrorIs(t, err, uploads.ErrMissingFolder)
	assert.True(t, uploads.IsClientError(err))

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadRecordFailureKeepsViewer(t *testing.T) {
	c := &clock{now: time.Date(2024, time.March, 3, 14, 5, 0, 0, time.UTC)}
	service, dataDir := newService(t, uploads.LayoutFlat, &memoryRepo{err: errors.New("disk I/O error")},
		uploads.WithClock(c.Now), uploads.WithRandom(sequence(7)))
	name := fmt.Sprintf("image-%d-7.jpg", c.now.UnixMilli())

	_, err := service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "photo.jpg", Content: bytes.NewReader(jpeg),
	})
	require.Error(t, err)
	assert.False(t, uploads.IsClientError(err))

	// The viewer already shows the image, so neither is removed
	doc := readBlob(t, must(service.OpenViewer("trip", "")))
	assert.Contains(t, string(doc), `src="./`+name+`"`)
	assert.FileExists(t, filepath.Join(dataDir, "trip", name))

	_, err = service.LatestViewer(context.Background(), "trip")
	assert.ErrorIs(t, err, uploads.ErrNotFound)
}

type failingViewerStorage struct {
	*fs.Storage
}

func (failingViewerStorage) WriteViewer(loc uploads.Location, doc []byte) error {
	return errors.New("no space left on device")
}

func TestUploadViewerFailureKeepsImage(t *testing.T) {
	dataDir := t.TempDir()
	resolver, err := uploads.NewResolver(uploads.LayoutFlat, time.UTC)
	require.NoError(t, err)
	repo := &memoryRepo{}
	service := uploads.NewService(failingViewerStorage{fs.NewStorage(dataDir)}, repo, resolver, "https://photos.example.com")

	_, err = service.Upload(context.Background(), &uploads.UploadRequest{
		Folder: "trip", Name: "photo.jpg", Content: bytes.NewReader(jpeg),
	})
	require.Error(t, err)
	assert.False(t, uploads.IsClientError(err))

	entries, err := os.ReadDir(filepath.Join(dataDir, "trip"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^image-\d+-\d+\.jpg$`, entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dataDir, "trip", entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)

	// Not recorded, so the folder has no latest viewer
	assert.Empty(t, repo.uploads)
	_, err = service.LatestViewer(context.Background(), "trip")
	assert.ErrorIs(t, err, uploads.ErrNotFound)
}

func TestOpenMissing(t *testing.T) {
	service, _ := newService(t, uploads.LayoutFlat, &memoryRepo{})

	_, err := service.OpenViewer("nowhere", "")
	assert.ErrorIs(t, err, uploads.ErrNotFound)

	_, err = service.OpenImage("nowhere", "", "image-1-1.jpg")
	assert.ErrorIs(t, err, uploads.ErrNotFound)

	_, err = service.OpenImage("trip", "", "..")
	assert.ErrorIs(t, err, uploads.ErrInvalidName)
}

func TestLatestViewer(t *testing.T) {
	c := &clock{now: time.Date(2024, time.March, 3, 14, 5, 0, 0, time.UTC)}
	service, _ := newService(t, uploads.LayoutBucketed, &memoryRepo{}, uploads.WithClock(c.Now))

	_, err := service.LatestViewer(context.Background(), "trip")
	assert.ErrorIs(t, err, uploads.ErrNotFound)

	for range 2 {
		_, err := service.Upload(context.Background(), &uploads.UploadRequest{
			Folder: "trip", Name: "a.jpg", Content: bytes.NewReader(jpeg),
		})
		require.NoError(t, err)
		c.now = c.now.Add(time.Hour)
	}

	target, err := service.LatestViewer(context.Background(), "trip")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/trip/March-15/", target)
}

func must(blob uploads.Blob, err error) uploads.Blob {
	if err != nil {
		panic(err)
	}
	return blob
}
