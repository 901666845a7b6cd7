package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	database, err := New(path, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return database
}

func TestNew_CreatesDatabase(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "nested", "test.db"))
	defer database.Close()

	for _, table := range []string{"batches", "batch_files", "config", "_migrations"} {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	defer database.Close()

	var journalMode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1 := openTestDB(t, dbPath)
	db1.Close()

	db2 := openTestDB(t, dbPath)
	defer db2.Close()

	var count int
	if err := db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if count != 3 {
		t.Errorf("migration count = %d, want 3", count)
	}
}

func TestMarkInterruptedBatches(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1 := openTestDB(t, dbPath)
	_, err := db1.Conn().Exec(`
		INSERT INTO batches (id, state, params, output_dir, total, created_at, updated_at)
		VALUES ('running-batch', 'running', '{}', '/out', 2, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z'),
		       ('queued-batch', 'pending', '{}', '/out', 1, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z');
		INSERT INTO batch_files (batch_id, idx, name, path, status)
		VALUES ('running-batch', 0, 'a.mp4', '/v/a.mp4', 'running'),
		       ('running-batch', 1, 'b.mp4', '/v/b.mp4', 'pending'),
		       ('queued-batch', 0, 'c.mp4', '/v/c.mp4', 'pending');
	`)
	if err != nil {
		t.Fatalf("insert fixtures error = %v", err)
	}
	db1.Close()

	db2 := openTestDB(t, dbPath)
	defer db2.Close()

	var state, msg string
	err = db2.Conn().QueryRow("SELECT state, message FROM batches WHERE id = 'running-batch'").Scan(&state, &msg)
	if err != nil {
		t.Fatalf("query batch error = %v", err)
	}
	if state != "failed" {
		t.Errorf("batch state = %s, want failed", state)
	}
	if msg != InterruptedMessage {
		t.Errorf("batch message = %q, want %q", msg, InterruptedMessage)
	}

	var queued string
	db2.Conn().QueryRow("SELECT state FROM batches WHERE id = 'queued-batch'").Scan(&queued)
	if queued != "pending" {
		t.Errorf("queued batch state = %s, want pending", queued)
	}

	var fileStatus string
	db2.Conn().QueryRow("SELECT status FROM batch_files WHERE batch_id = 'running-batch' AND idx = 0").Scan(&fileStatus)
	if fileStatus != "failed" {
		t.Errorf("in-flight file status = %s, want failed", fileStatus)
	}
}
