package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLiteStore(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "metadata_cache.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	store := setupTestStore(t)
	exerciseStore(t, store)
}

func TestSQLiteStoreHealthCheck(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate() error: %v", err)
	}
}

func TestSQLiteStoreUninitialized(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: "unused.db"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("expected HealthCheck error before Init")
	}
	if err := store.Migrate(context.Background()); err == nil {
		t.Error("expected Migrate error before Init")
	}
}

func TestSQLiteStoreSaveRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := &SQLiteStore{db: db, path: "mock"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO recipe_cache").
		WithArgs("Foo.recipe", "t1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM download_metadata").
		WithArgs("Foo.recipe").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if err := store.Save(context.Background(), "Foo.recipe", sampleCache("t1")); err == nil {
		t.Fatal("expected Save() error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLiteStoreSaveCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := &SQLiteStore{db: db, path: "mock"}
	rc := sampleCache("t1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO recipe_cache").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM download_metadata").WillReturnResult(sqlmock.NewResult(0, 0))
	for range rc.Metadata {
		mock.ExpectExec("INSERT INTO download_metadata").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	if err := store.Save(context.Background(), "Foo.recipe", rc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
