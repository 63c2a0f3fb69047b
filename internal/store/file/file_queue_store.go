package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fieldsync/internal/models"
	"fieldsync/internal/state"
	"fieldsync/internal/syncerrors"
)

// QueueStore persists one JSON document per record under a queue directory.
// Writes go through a temp file and rename, so a crash never leaves a
// half-written record behind. Enumeration is a directory scan; queue sizes
// are bounded by user activity, not throughput.
type QueueStore struct {
	mu    sync.Mutex
	dir   string
	quota int
	seq   uint64
}

const recordExt = ".json"

func Open(dir string, quota int) (*QueueStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open queue dir: %w", err)
	}

	s := &QueueStore{dir: dir, quota: quota}

	// Resume the insertion sequence past anything already on disk.
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Seq > s.seq {
			s.seq = rec.Seq
		}
	}
	return s, nil
}

func (s *QueueStore) Enqueue(ctx context.Context, record *models.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.countRecords()
	if err != nil {
		return err
	}
	if s.quota > 0 && count >= s.quota {
		return fmt.Errorf("enqueue %s: %w", record.ID, syncerrors.ErrStorageFull)
	}

	s.seq++
	record.Seq = s.seq
	if record.Status == "" {
		record.Status = state.StatusPending
	}
	return s.writeRecord(record)
}

func (s *QueueStore) ListPending(ctx context.Context) ([]models.MutationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return nil, err
	}

	pending := records[:0]
	for _, rec := range records {
		if rec.Status == state.StatusPending || rec.Status == state.StatusFailed {
			pending = append(pending, rec)
		}
	}
	sortRecords(pending)
	return pending, nil
}

func (s *QueueStore) Get(ctx context.Context, id string) (*models.MutationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRecord(id)
}

func (s *QueueStore) Update(ctx context.Context, id string, patch models.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(id)
	if err != nil {
		return err
	}
	applyPatch(rec, patch)
	return s.writeRecord(rec)
}

func (s *QueueStore) MarkInFlight(ctx context.Context, id string, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(id)
	if err != nil {
		return false, err
	}
	if rec.Status != state.StatusPending {
		return false, nil
	}

	now := time.Now().UTC()
	rec.Status = state.StatusInFlight
	rec.LockedBy = &owner
	rec.LockedAt = &now
	if err := s.writeRecord(rec); err != nil {
		return false, err
	}
	return true, nil
}

func (s *QueueStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.recordPath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", id, syncerrors.ErrRecordMissing)
		}
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

func (s *QueueStore) ReleaseStaleInFlight(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return 0, err
	}

	released := 0
	cutoff := time.Now().Add(-olderThan)
	for i := range records {
		rec := &records[i]
		if rec.Status != state.StatusInFlight {
			continue
		}
		if rec.LockedAt != nil && rec.LockedAt.After(cutoff) {
			continue
		}
		rec.Status = state.StatusPending
		rec.LockedBy = nil
		rec.LockedAt = nil
		if err := s.writeRecord(rec); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (s *QueueStore) CountByStatus(ctx context.Context) (map[state.RecordStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return nil, err
	}

	counts := make(map[state.RecordStatus]int)
	for _, st := range state.AllStatuses {
		counts[st] = 0
	}
	for _, rec := range records {
		counts[rec.Status]++
	}
	return counts, nil
}

func (s *QueueStore) Close() error {
	return nil
}

func (s *QueueStore) recordPath(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *QueueStore) readRecord(id string) (*models.MutationRecord, error) {
	raw, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record %s: %w", id, syncerrors.ErrRecordMissing)
		}
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}

	var rec models.MutationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *QueueStore) writeRecord(rec *models.MutationRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	tmp := filepath.Join(s.dir, ".tmp-"+rec.ID)
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, s.recordPath(rec.ID)); err != nil {
		return fmt.Errorf("commit record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *QueueStore) readAll() ([]models.MutationRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan queue dir: %w", err)
	}

	records := make([]models.MutationRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		rec, err := s.readRecord(id)
		if err != nil {
			// A corrupt record must not take the whole queue down with it.
			logrus.WithField("record_id", id).WithError(err).Warn("skipping unreadable queue record")
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *QueueStore) countRecords() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("scan queue dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), recordExt) {
			count++
		}
	}
	return count, nil
}

func sortRecords(records []models.MutationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Before(&records[j])
	})
}

func applyPatch(rec *models.MutationRecord, patch models.RecordPatch) {
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Attempts != nil {
		rec.Attempts = *patch.Attempts
	}
	if patch.LastError != nil {
		rec.LastError = patch.LastError
	}
	if patch.NextAttemptAt != nil {
		rec.NextAttemptAt = patch.NextAttemptAt
	}
	if patch.LockedBy != nil {
		rec.LockedBy = patch.LockedBy
	}
	if patch.LockedAt != nil {
		rec.LockedAt = patch.LockedAt
	}
	if patch.ClearLock {
		rec.LockedBy = nil
		rec.LockedAt = nil
	}
	if patch.ClearError {
		rec.LastError = nil
	}
	if patch.ClearBackoff {
		rec.NextAttemptAt = nil
	}
}
