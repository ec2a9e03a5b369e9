package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cloudautopkg/runner/pkg/metadata"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements CacheStore on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use, or use OpenSQLiteStore.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// OpenSQLiteStore creates, initializes and migrates a store.
func OpenSQLiteStore(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if !strings.Contains(s.path, ":memory:") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	dsn := s.path + "?" + strings.Join(pragmas, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection serializes saves and keeps
	// in-memory databases shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.HealthCheck(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the connection is usable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Save implements CacheStore. The recipe row and its metadata rows are
// replaced in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, recipeName string, rc metadata.RecipeCache) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipe_cache (recipe_name, timestamp, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(recipe_name) DO UPDATE SET
			timestamp = excluded.timestamp,
			updated_at = CURRENT_TIMESTAMP
	`, recipeName, rc.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save recipe cache: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM download_metadata WHERE recipe_name = ?`, recipeName); err != nil {
		return fmt.Errorf("failed to clear download metadata: %w", err)
	}

	for i, m := range rc.Metadata {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO download_metadata (recipe_name, position, file_path, etag, file_size, last_modified)
			VALUES (?, ?, ?, ?, ?, ?)
		`, recipeName, i, m.FilePath, nullString(m.ETag), nullInt64(m.FileSize), nullString(m.LastModified))
		if err != nil {
			return fmt.Errorf("failed to save download metadata: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recipe cache: %w", err)
	}
	return nil
}

// Get implements CacheStore.
func (s *SQLiteStore) Get(ctx context.Context, recipeName string) (metadata.RecipeCache, bool, error) {
	var rc metadata.RecipeCache
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM recipe_cache WHERE recipe_name = ?`, recipeName,
	).Scan(&rc.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.RecipeCache{}, false, nil
	}
	if err != nil {
		return metadata.RecipeCache{}, false, fmt.Errorf("failed to get recipe cache: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT recipe_name, file_path, etag, file_size, last_modified
		FROM download_metadata
		WHERE recipe_name = ?
		ORDER BY position
	`, recipeName)
	if err != nil {
		return metadata.RecipeCache{}, false, fmt.Errorf("failed to get download metadata: %w", err)
	}
	defer rows.Close()

	byRecipe, err := scanMetadata(rows)
	if err != nil {
		return metadata.RecipeCache{}, false, err
	}
	rc.Metadata = nonNil(byRecipe[recipeName])
	return rc, true, nil
}

// Load implements CacheStore.
func (s *SQLiteStore) Load(ctx context.Context) (metadata.MetadataCache, error) {
	cache := metadata.MetadataCache{}

	rows, err := s.db.QueryContext(ctx, `SELECT recipe_name, timestamp FROM recipe_cache`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipe cache: %w", err)
	}
	for rows.Next() {
		var name, ts string
		if err := rows.Scan(&name, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan recipe cache: %w", err)
		}
		cache[name] = metadata.RecipeCache{Timestamp: ts, Metadata: []metadata.DownloadMetadata{}}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list recipe cache: %w", err)
	}
	rows.Close()

	mrows, err := s.db.QueryContext(ctx, `
		SELECT recipe_name, file_path, etag, file_size, last_modified
		FROM download_metadata
		ORDER BY recipe_name, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list download metadata: %w", err)
	}
	defer mrows.Close()

	byRecipe, err := scanMetadata(mrows)
	if err != nil {
		return nil, err
	}
	for name, items := range byRecipe {
		rc := cache[name]
		rc.Metadata = items
		cache[name] = rc
	}
	return cache, nil
}

func scanMetadata(rows *sql.Rows) (map[string][]metadata.DownloadMetadata, error) {
	out := make(map[string][]metadata.DownloadMetadata)
	for rows.Next() {
		var (
			name, path string
			etag, lm   sql.NullString
			size       sql.NullInt64
		)
		if err := rows.Scan(&name, &path, &etag, &size, &lm); err != nil {
			return nil, fmt.Errorf("failed to scan download metadata: %w", err)
		}
		m := metadata.DownloadMetadata{FilePath: path}
		if etag.Valid {
			m.ETag = metadata.StringPtr(etag.String)
		}
		if size.Valid {
			m.FileSize = metadata.Int64Ptr(size.Int64)
		}
		if lm.Valid {
			m.LastModified = metadata.StringPtr(lm.String)
		}
		out[name] = append(out[name], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read download metadata: %w", err)
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func nonNil(items []metadata.DownloadMetadata) []metadata.DownloadMetadata {
	if items == nil {
		return []metadata.DownloadMetadata{}
	}
	return items
}
