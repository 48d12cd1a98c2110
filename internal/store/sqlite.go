// Package store implements the durable local cache for the agent.
// This file contains the primary backend: GORM over the pure-Go SQLite
// driver, with WAL and a busy timeout so the single-process agent's
// concurrent tasks (sync timers, router handlers, print queue) can share
// one database file.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/griffd12/cloud-pos-sub004/internal/domain"
)

// SQLiteStore is the structured-database implementation of Store.
type SQLiteStore struct {
	db *gorm.DB

	// counterMu serializes check-number allocation. The allocation runs in
	// a transaction for atomicity with the check insert, but SQLite write
	// transactions that start as reads can still collide under WAL; the
	// mutex removes that failure mode inside this process.
	counterMu sync.Mutex
}

// OpenSQLite opens (or creates) the agent database, applies PRAGMAs, and
// migrates the schema. When traced is true the GORM OpenTelemetry plugin
// is installed so store calls appear in traces.
func OpenSQLite(path string, traced bool) (*SQLiteStore, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if traced {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// AutoMigrate applies the agent schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.CachedEntity{},
		&domain.QueuedOperation{},
		&domain.OfflineCheck{},
		&domain.RvcCounter{},
		&domain.IdempotencyRecord{},
		&domain.PrintJob{},
	)
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CacheEntityList replaces all cached rows for (table, scopeID) in one
// transaction: delete the table/scope slice, then insert the new rows.
func (s *SQLiteStore) CacheEntityList(ctx context.Context, table, scopeID string, items []domain.CachedEntity) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("tbl = ?", table)
		if scopeID != "" {
			del = del.Where("enterprise_id = ?", scopeID)
		}
		if err := del.Delete(&domain.CachedEntity{}).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].Table = table
			items[i].UpdatedAt = now
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

// GetEntity fetches one cached record or ErrNotFound.
func (s *SQLiteStore) GetEntity(ctx context.Context, table, id string) (*domain.CachedEntity, error) {
	var e domain.CachedEntity
	err := s.db.WithContext(ctx).
		Where("tbl = ? AND record_id = ?", table, id).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntityList returns cached rows for a table, optionally scoped.
func (s *SQLiteStore) GetEntityList(ctx context.Context, table, scopeID string) ([]domain.CachedEntity, error) {
	q := s.db.WithContext(ctx).Where("tbl = ?", table)
	if scopeID != "" {
		q = q.Where("enterprise_id = ?", scopeID)
	}
	var out []domain.CachedEntity
	err := q.Order("record_id asc").Find(&out).Error
	return out, err
}

// SaveOfflineCheck inserts or fully replaces a check by primary key.
func (s *SQLiteStore) SaveOfflineCheck(ctx context.Context, chk *domain.OfflineCheck) error {
	chk.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Save(chk).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetOfflineCheck fetches a check by local ID or ErrNotFound.
func (s *SQLiteStore) GetOfflineCheck(ctx context.Context, id string) (*domain.OfflineCheck, error) {
	var c domain.OfflineCheck
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOfflineCheckByCloudID fetches a check by cloud ID or ErrNotFound.
func (s *SQLiteStore) GetOfflineCheckByCloudID(ctx context.Context, cloudID string) (*domain.OfflineCheck, error) {
	var c domain.OfflineCheck
	if err := s.db.WithContext(ctx).Where("cloud_id = ?", cloudID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListUnsyncedChecks returns checks not yet accepted by the cloud,
// oldest first.
func (s *SQLiteStore) ListUnsyncedChecks(ctx context.Context) ([]domain.OfflineCheck, error) {
	var out []domain.OfflineCheck
	err := s.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListOfflineChecks returns all checks, optionally filtered by RVC,
// oldest first.
func (s *SQLiteStore) ListOfflineChecks(ctx context.Context, rvcID string) ([]domain.OfflineCheck, error) {
	q := s.db.WithContext(ctx)
	if rvcID != "" {
		q = q.Where("rvc_id = ?", rvcID)
	}
	var out []domain.OfflineCheck
	err := q.Order("created_at asc").Find(&out).Error
	return out, err
}

// allocateCheckNumber reads, seeds if necessary, increments, and writes
// the RVC counter within tx, returning the allocated number.
func allocateCheckNumber(tx *gorm.DB, rvcID string) (int, error) {
	var ctr domain.RvcCounter
	err := tx.Where("rvc_id = ?", rvcID).First(&ctr).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ctr = domain.RvcCounter{RvcID: rvcID}
	}
	if ctr.NextCheckNumber == 0 {
		// First use: seed from max(local max, last known cloud max)+1.
		var localMax int
		if err := tx.Model(&domain.OfflineCheck{}).
			Where("rvc_id = ?", rvcID).
			Select("COALESCE(MAX(check_number), 0)").
			Scan(&localMax).Error; err != nil {
			return 0, err
		}
		seed := localMax
		if ctr.CloudCheckNumber > seed {
			seed = ctr.CloudCheckNumber
		}
		ctr.NextCheckNumber = seed + 1
	}
	n := ctr.NextCheckNumber
	ctr.NextCheckNumber = n + 1
	if err := tx.Save(&ctr).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// NextCheckNumber allocates and returns the next check number for rvcID.
func (s *SQLiteStore) NextCheckNumber(ctx context.Context, rvcID string) (int, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = allocateCheckNumber(tx, rvcID)
		return err
	})
	return n, err
}

// CreateCheckAtomic allocates chk.CheckNumber and inserts the check in the
// same transaction.
func (s *SQLiteStore) CreateCheckAtomic(ctx context.Context, chk *domain.OfflineCheck) error {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	now := time.Now().UTC()
	if chk.ID == "" {
		chk.ID = uuid.NewString()
	}
	chk.CreatedAt = now
	chk.UpdatedAt = now
	if chk.Status == "" {
		chk.Status = domain.CheckStatusOpen
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := allocateCheckNumber(tx, chk.RvcID)
		if err != nil {
			return err
		}
		chk.CheckNumber = n
		return tx.Create(chk).Error
	})
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// SetCloudCheckMax records the last known cloud-side max check number.
// It never advances a seeded counter; seeding happens only on first use.
func (s *SQLiteStore) SetCloudCheckMax(ctx context.Context, rvcID string, n int) error {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ctr domain.RvcCounter
		err := tx.Where("rvc_id = ?", rvcID).First(&ctr).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctr = domain.RvcCounter{RvcID: rvcID}
		}
		if n > ctr.CloudCheckNumber {
			ctr.CloudCheckNumber = n
		}
		return tx.Save(&ctr).Error
	})
}

// QueueOperation appends a mutation to the write-ahead queue.
func (s *SQLiteStore) QueueOperation(ctx context.Context, opType, endpoint, method, body string, priority int) (*domain.QueuedOperation, error) {
	op := &domain.QueuedOperation{
		ID:        uuid.NewString(),
		Type:      opType,
		Endpoint:  endpoint,
		Method:    method,
		Body:      body,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return nil, err
	}
	return op, nil
}

// PendingOperations returns up to limit unsynced operations in drain order.
func (s *SQLiteStore) PendingOperations(ctx context.Context, limit int) ([]domain.QueuedOperation, error) {
	q := s.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("priority asc, created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.QueuedOperation
	err := q.Find(&out).Error
	return out, err
}

// MarkOperationSynced flags an operation as accepted by the cloud.
func (s *SQLiteStore) MarkOperationSynced(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&domain.QueuedOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{"synced": true, "synced_at": &now, "error": ""})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkOperationFailed records a replay failure and bumps the retry count.
func (s *SQLiteStore) MarkOperationFailed(ctx context.Context, id, msg string) error {
	res := s.db.WithContext(ctx).
		Model(&domain.QueuedOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"error":       msg,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CheckIdempotencyKey returns a non-expired record or ErrNotFound.
func (s *SQLiteStore) CheckIdempotencyKey(ctx context.Context, enterpriseID, workstationID, operation, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where("enterprise_id = ? AND workstation_id = ? AND operation = ? AND idempotency_key = ? AND expires_at > ?",
			enterpriseID, workstationID, operation, key, now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// StoreIdempotencyKey inserts a record and returns ErrDuplicate on unique
// violation.
func (s *SQLiteStore) StoreIdempotencyKey(ctx context.Context, rec *domain.IdempotencyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// PurgeExpiredIdempotencyKeys deletes records past expiry.
func (s *SQLiteStore) PurgeExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}

// SavePrintJob inserts or replaces a local print job.
func (s *SQLiteStore) SavePrintJob(ctx context.Context, job *domain.PrintJob) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = domain.PrintStatusPending
	}
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPrintJob fetches a job by ID or ErrNotFound.
func (s *SQLiteStore) GetPrintJob(ctx context.Context, id string) (*domain.PrintJob, error) {
	var j domain.PrintJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ListPendingPrintJobs returns jobs awaiting delivery, oldest first.
func (s *SQLiteStore) ListPendingPrintJobs(ctx context.Context, limit int) ([]domain.PrintJob, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", domain.PrintStatusPending).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.PrintJob
	err := q.Find(&out).Error
	return out, err
}

// MarkPrintJobStatus transitions a job's status. A non-empty errMsg marks
// a failed delivery attempt: the message is recorded and the retry count
// bumped, regardless of whether the job goes back to pending or terminal
// failed.
func (s *SQLiteStore) MarkPrintJobStatus(ctx context.Context, id, status, errMsg string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if errMsg != "" {
		updates["error"] = errMsg
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	res := s.db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Close releases the SQLite connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
