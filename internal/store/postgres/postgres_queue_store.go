package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"fieldsync/internal/models"
	"fieldsync/internal/state"
	"fieldsync/internal/syncerrors"
)

// QueueStore keeps the outbox in a shared Postgres instance. Used by depot
// and kiosk deployments where several workstation clients share one queue;
// row-level claims in MarkInFlight make the claim race safe across processes.
type QueueStore struct {
	db    *sql.DB
	quota int
}

func NewQueueStore(db *sql.DB, quota int) *QueueStore {
	return &QueueStore{
		db:    db,
		quota: quota,
	}
}

func (s *QueueStore) Enqueue(ctx context.Context, record *models.MutationRecord) error {
	if s.quota > 0 {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM fieldsync_schema.mutation_records`).Scan(&count)
		if err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		if count >= s.quota {
			return fmt.Errorf("enqueue %s: %w", record.ID, syncerrors.ErrStorageFull)
		}
	}

	if record.Status == "" {
		record.Status = state.StatusPending
	}

	query := `
        INSERT INTO fieldsync_schema.mutation_records (
            id,
            operation,
            method,
            path,
            payload,
            status,
            max_attempts,
            created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        returning seq
    `

	err := s.db.QueryRowContext(ctx, query,
		record.ID,
		record.Operation,
		record.Target.Method,
		record.Target.Path,
		[]byte(record.Payload),
		record.Status,
		record.MaxAttempts,
		record.CreatedAt,
	).Scan(&record.Seq)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", record.ID, err)
	}
	return nil
}

func (s *QueueStore) ListPending(ctx context.Context) ([]models.MutationRecord, error) {
	query := selectColumns + `
		WHERE status = $1 OR status = $2
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, state.StatusPending, state.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.MutationRecord
	for rows.Next() {
		rec, err := s.mapSqlRowsToRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *QueueStore) Get(ctx context.Context, id string) (*models.MutationRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("record %s: %w", id, syncerrors.ErrRecordMissing)
	}
	return s.mapSqlRowsToRecord(rows)
}

func (s *QueueStore) Update(ctx context.Context, id string, patch models.RecordPatch) error {
	sets := []string{}
	args := []interface{}{}
	argIndex := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Attempts != nil {
		add("attempts", *patch.Attempts)
	}
	if patch.LastError != nil {
		add("last_error", *patch.LastError)
	}
	if patch.NextAttemptAt != nil {
		add("next_attempt_at", *patch.NextAttemptAt)
	}
	if patch.LockedBy != nil {
		add("locked_by", *patch.LockedBy)
	}
	if patch.LockedAt != nil {
		add("locked_at", *patch.LockedAt)
	}
	if patch.ClearLock {
		sets = append(sets, "locked_by = NULL", "locked_at = NULL")
	}
	if patch.ClearError {
		sets = append(sets, "last_error = NULL")
	}
	if patch.ClearBackoff {
		sets = append(sets, "next_attempt_at = NULL")
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE fieldsync_schema.mutation_records
		SET %s
		WHERE id = $%d
	`, strings.Join(sets, ", "), argIndex)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update %s: %w", id, syncerrors.ErrRecordMissing)
	}
	return nil
}

func (s *QueueStore) MarkInFlight(ctx context.Context, id string, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fieldsync_schema.mutation_records
		SET status = $1,
		    locked_by = $2,
		    locked_at = NOW()
		WHERE id = $3 AND status = $4
	`, state.StatusInFlight, owner, id, state.StatusPending)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *QueueStore) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM fieldsync_schema.mutation_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("remove %s: %w", id, syncerrors.ErrRecordMissing)
	}
	return nil
}

func (s *QueueStore) ReleaseStaleInFlight(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE fieldsync_schema.mutation_records
        SET status = $1,
            locked_by = NULL,
            locked_at = NULL
        WHERE status = $2 AND locked_at <= NOW() - $3::interval
    `,
		state.StatusPending,
		state.StatusInFlight,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *QueueStore) CountByStatus(ctx context.Context) (map[state.RecordStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM fieldsync_schema.mutation_records
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.RecordStatus]int)
	for rows.Next() {
		var status state.RecordStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}
	return result, nil
}

func (s *QueueStore) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id,
	       seq,
	       operation,
	       method,
	       path,
	       payload,
	       status,
	       attempts,
	       max_attempts,
	       last_error,
	       next_attempt_at,
	       locked_by,
	       locked_at,
	       created_at
	FROM fieldsync_schema.mutation_records
`

func (s *QueueStore) mapSqlRowsToRecord(rows *sql.Rows) (*models.MutationRecord, error) {
	var rec models.MutationRecord
	var payload []byte
	if err := rows.Scan(
		&rec.ID,
		&rec.Seq,
		&rec.Operation,
		&rec.Target.Method,
		&rec.Target.Path,
		&payload,
		&rec.Status,
		&rec.Attempts,
		&rec.MaxAttempts,
		&rec.LastError,
		&rec.NextAttemptAt,
		&rec.LockedBy,
		&rec.LockedAt,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.Payload = payload
	return &rec, nil
}
