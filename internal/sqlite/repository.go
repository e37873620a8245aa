package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavel-fokin/photo-drop/internal/uploads"
	_ "modernc.org/sqlite"
)

// Repository implements uploads.UploadRepository using SQLite
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite repository
func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db}

	// Initialize database schema
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder TEXT NOT NULL,
		bucket TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL,
		original_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`
	if _, err := r.db.Exec(createTableQuery); err != nil {
		return fmt.Errorf("failed to create uploads table: %w", err)
	}

	createIndexesQuery := `
	CREATE INDEX IF NOT EXISTS idx_uploads_folder ON uploads(folder);
	`
	if _, err := r.db.Exec(createIndexesQuery); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// Create stores upload metadata
func (r *Repository) Create(ctx context.Context, upload *uploads.Upload) error {
	query := `
	INSERT INTO uploads (folder, bucket, file_name, original_name, size, mime_type, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		upload.Folder,
		upload.Bucket,
		upload.FileName,
		upload.OriginalName,
		upload.Size,
		upload.MimeType,
		upload.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create upload record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get upload id: %w", err)
	}
	upload.ID = id

	return nil
}

// Latest retrieves the most recent upload of a folder
func (r *Repository) Latest(ctx context.Context, folder string) (*uploads.Upload, error) {
	query := `
	SELECT id, folder, bucket, file_name, original_name, size, mime_type, created_at
	FROM uploads
	WHERE folder = ?
	ORDER BY id DESC
	LIMIT 1
	`

	var upload uploads.Upload
	err := r.db.QueryRowContext(ctx, query, folder).Scan(
		&upload.ID,
		&upload.Folder,
		&upload.Bucket,
		&upload.FileName,
		&upload.OriginalName,
		&upload.Size,
		&upload.MimeType,
		&upload.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder %q: %w", folder, uploads.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find latest upload: %w", err)
	}

	return &upload, nil
}
