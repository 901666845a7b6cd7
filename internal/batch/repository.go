package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autoedit/autoedit-agent/internal/stats"
)

type Repository interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*Batch, error)
	ListPendingBatches(ctx context.Context) ([]*Batch, error)
	UpdateBatchState(ctx context.Context, id string, state State, message string) error
	UpdateBatchProgress(ctx context.Context, id string, current int, message string) error
	FinishBatch(ctx context.Context, result Result) error
	UpdateFile(ctx context.Context, batchID string, f FileOutcome) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const batchColumns = `id, state, source, params, output_dir, total, current, success_count, failure_count,
	message, created_at, updated_at, started_at, finished_at`

func (r *SQLiteRepository) CreateBatch(ctx context.Context, b *Batch) error {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, string(b.State), b.Source, string(params), b.OutputDir, b.Total, b.Current,
		b.SuccessCount, b.FailureCount, nullString(b.Message),
		b.CreatedAt.Format(time.RFC3339), b.UpdatedAt.Format(time.RFC3339),
		nullTime(b.StartedAt), nullTime(b.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, f := range b.Files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_files (batch_id, idx, name, path, status)
			VALUES (?, ?, ?, ?, ?)
		`, b.ID, f.Index, f.Name, f.Path, string(f.Status))
		if err != nil {
			return fmt.Errorf("insert batch file %d: %w", f.Index, err)
		}
	}

	return tx.Commit()
}

// GetBatch returns nil, nil when no batch has the id.
func (r *SQLiteRepository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	files, err := r.listFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Files = files
	return b, nil
}

// ListBatches returns the most recent batches without their files.
func (r *SQLiteRepository) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// ListPendingBatches returns queued batches oldest first, with files.
func (r *SQLiteRepository) ListPendingBatches(ctx context.Context) ([]*Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM batches WHERE state = 'pending' ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	batches, err := scanBatches(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, b := range batches {
		if b.Files, err = r.listFiles(ctx, b.ID); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func (r *SQLiteRepository) UpdateBatchState(ctx context.Context, id string, state State, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `UPDATE batches SET state = ?, message = ?, updated_at = ? WHERE id = ?`
	args := []any{string(state), nullString(message), now, id}

	switch {
	case state == StateRunning:
		query = `UPDATE batches SET state = ?, message = ?, updated_at = ?, started_at = ? WHERE id = ?`
		args = []any{string(state), nullString(message), now, now, id}
	case state == StatePending:
		query = `UPDATE batches SET state = ?, message = ?, updated_at = ?, started_at = NULL WHERE id = ?`
	case state.Terminal():
		query = `UPDATE batches SET state = ?, message = ?, updated_at = ?, finished_at = ? WHERE id = ?`
		args = []any{string(state), nullString(message), now, now, id}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBatchNotFound
	}

	if state == StateCancelled {
		_, err = r.db.ExecContext(ctx, `
			UPDATE batch_files SET status = 'cancelled' WHERE batch_id = ? AND status IN ('pending', 'running')
		`, id)
	}
	return err
}

func (r *SQLiteRepository) UpdateBatchProgress(ctx context.Context, id string, current int, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches SET current = ?, message = ?, updated_at = ? WHERE id = ?
	`, current, nullString(message), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// FinishBatch records the terminal counts and state of a run.
func (r *SQLiteRepository) FinishBatch(ctx context.Context, result Result) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches
		SET state = ?, success_count = ?, failure_count = ?, message = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, string(result.State), result.SuccessCount, result.FailureCount, nullString(result.Message), now, now, result.BatchID)
	if err != nil {
		return err
	}

	for _, f := range result.Files {
		if f.Status != FileStatusCancelled {
			continue
		}
		if err := r.UpdateFile(ctx, result.BatchID, f); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) UpdateFile(ctx context.Context, batchID string, f FileOutcome) error {
	var statsJSON sql.NullString
	if f.Stats != nil {
		b, err := json.Marshal(f.Stats)
		if err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		statsJSON = sql.NullString{String: string(b), Valid: true}
	}

	var exitCode sql.NullInt64
	if f.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*f.ExitCode), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE batch_files
		SET status = ?, output_path = ?, exit_code = ?, error = ?, output_tail = ?, stats = ?, duration_ms = ?
		WHERE batch_id = ? AND idx = ?
	`, string(f.Status), nullString(f.OutputPath), exitCode, nullString(f.Error), nullString(f.OutputTail),
		statsJSON, f.DurationMs, batchID, f.Index)
	return err
}

func (r *SQLiteRepository) listFiles(ctx context.Context, batchID string) ([]FileOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, name, path, status, output_path, exit_code, error, output_tail, stats, duration_ms
		FROM batch_files WHERE batch_id = ? ORDER BY idx
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileOutcome
	for rows.Next() {
		var f FileOutcome
		var status string
		var outputPath, errMsg, tail, statsJSON sql.NullString
		var exitCode sql.NullInt64

		if err := rows.Scan(&f.Index, &f.Name, &f.Path, &status, &outputPath, &exitCode,
			&errMsg, &tail, &statsJSON, &f.DurationMs); err != nil {
			return nil, err
		}
		f.Status = FileStatus(status)
		f.OutputPath = outputPath.String
		f.Error = errMsg.String
		f.OutputTail = tail.String
		if exitCode.Valid {
			code := int(exitCode.Int64)
			f.ExitCode = &code
		}
		if statsJSON.Valid {
			var st stats.FileStats
			if err := json.Unmarshal([]byte(statsJSON.String), &st); err == nil {
				f.Stats = &st
			}
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	var state, params string
	var message, startedAt, finishedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&b.ID, &state, &b.Source, &params, &b.OutputDir, &b.Total, &b.Current,
		&b.SuccessCount, &b.FailureCount, &message, &createdAt, &updatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	b.State = State(state)
	b.Message = message.String
	if err := json.Unmarshal([]byte(params), &b.Params); err != nil {
		return nil, fmt.Errorf("decode params for batch %s: %w", b.ID, err)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	b.StartedAt = parseNullTime(startedAt)
	b.FinishedAt = parseNullTime(finishedAt)
	return &b, nil
}

func scanBatches(rows *sql.Rows) ([]*Batch, error) {
	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
