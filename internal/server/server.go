package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavel-fokin/photo-drop/internal/fs"
	"github.com/pavel-fokin/photo-drop/internal/sqlite"
	"github.com/pavel-fokin/photo-drop/internal/uploads"
)

type Config struct {
	Addr      string         `env:"PHOTO_DROP_ADDR" envDefault:":3000"`
	DataDir   string         `env:"PHOTO_DROP_DATA_DIR" envDefault:"uploads"`
	PublicDir string         `env:"PHOTO_DROP_PUBLIC_DIR" envDefault:"public"`
	Layout    uploads.Layout `env:"PHOTO_DROP_LAYOUT" envDefault:"bucketed"`
	BaseURL   string         `env:"PHOTO_DROP_BASE_URL" envDefault:"http://localhost:3000"`
	SiteName  string         `env:"PHOTO_DROP_SITE_NAME" envDefault:"Photo Drop"`
	MaxSize   int64          `env:"PHOTO_DROP_MAX_SIZE" envDefault:"10485760"`
	DBPath    string         `env:"PHOTO_DROP_DB_PATH" envDefault:"photo-drop.db"`
	Timezone  string         `env:"PHOTO_DROP_TIMEZONE"`
	LogFile   string         `env:"PHOTO_DROP_LOG_FILE"`
	LogLevel  slog.Level     `env:"PHOTO_DROP_LOG_LEVEL" envDefault:"info"`
}

// New wires storage, repository and upload service into an HTTP server.
// The returned closer releases the repository; close it only after
// Shutdown has returned so in-flight uploads can still be recorded.
func New(cfg *Config) (*http.Server, io.Closer, error) {
	slog.SetDefault(newLogger(cfg))

	tz := time.Local
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load timezone: %w", err)
		}
		tz = loc
	}

	resolver, err := uploads.NewResolver(cfg.Layout, tz)
	if err != nil {
		return nil, nil, err
	}

	storage := fs.NewStorage(cfg.DataDir)
	repo, err := sqlite.NewRepository(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	service := uploads.NewService(storage, repo, resolver, cfg.BaseURL, uploads.WithSiteName(cfg.SiteName))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("POST /uploads", uploadImage(service))
	mux.HandleFunc("GET /user/{folder}", latestViewer(service))

	switch cfg.Layout {
	case uploads.LayoutFlat:
		mux.HandleFunc("GET /uploads/{folder}", addTrailingSlash)
		mux.HandleFunc("GET /uploads/{folder}/{$}", serveViewer(service))
		mux.HandleFunc("GET /uploads/{folder}/{image}", serveImage(service))
	case uploads.LayoutBucketed:
		mux.HandleFunc("GET /uploads/{folder}/{bucket}", addTrailingSlash)
		mux.HandleFunc("GET /uploads/{folder}/{bucket}/{$}", serveViewer(service))
		mux.HandleFunc("GET /uploads/{folder}/{bucket}/{image}", serveImage(service))
	}

	mux.Handle("GET /", http.FileServer(http.Dir(cfg.PublicDir)))

	handler := loggingMiddleware(limitBody(mux, cfg.MaxSize))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return srv, repo, nil
}

// newLogger builds a JSON logger writing to stdout and, when configured, to
// a rotating log file.
func newLogger(cfg *Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		})
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// addTrailingSlash redirects a viewer path to its canonical form ending in
// a slash, which relative image references need.
func addTrailingSlash(w http.ResponseWriter, r *http.Request) {
	target := r.URL.EscapedPath() + "/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func limitBody(next http.Handler, maxSize int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		next.ServeHTTP(w, r)
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
