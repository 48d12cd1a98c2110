// Package store implements the durable local cache for the agent: cloud
// configuration entities, the write-ahead operation queue, offline checks
// with atomic check-number allocation, idempotency records, and the print
// agent's local job queue.
//
// Two backends satisfy the same Store contract so callers stay
// backend-agnostic:
//
//   - SQLiteStore (primary): GORM over the pure-Go SQLite driver.
//   - FileStore (fallback): a single JSON document guarded by a mutex,
//     used when the structured database cannot be opened.
//
// Error semantics:
//   - ErrNotFound when a requested record does not exist (aliases
//     gorm.ErrRecordNotFound so gorm errors flow through unchanged).
//   - ErrDuplicate on unique violations (idempotency tuple, print job
//     dedupe key, (rvc_id, check_number)).
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/griffd12/cloud-pos-sub004/internal/config"
	"github.com/griffd12/cloud-pos-sub004/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across both backends.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation: an idempotency
// record for the same 4-tuple, a print job with a taken dedupe key, or a
// check number already used within the RVC.
var ErrDuplicate = errors.New("duplicate")

// Store is the durable local cache contract shared by both backends.
// All higher-level components (sync engine, offline router, print agent)
// depend only on this interface.
type Store interface {
	// CacheEntityList replaces all cached rows for (table, scopeID) with
	// items in one transaction. Cloud configuration is cloud-authoritative:
	// rows are overwritten wholesale, never patched.
	CacheEntityList(ctx context.Context, table, scopeID string, items []domain.CachedEntity) error
	// GetEntity fetches one cached record or ErrNotFound.
	GetEntity(ctx context.Context, table, id string) (*domain.CachedEntity, error)
	// GetEntityList returns cached rows for a table, optionally filtered
	// by enterprise scope (empty scopeID returns all rows for the table).
	GetEntityList(ctx context.Context, table, scopeID string) ([]domain.CachedEntity, error)

	// SaveOfflineCheck inserts or fully replaces a check by ID.
	SaveOfflineCheck(ctx context.Context, chk *domain.OfflineCheck) error
	// GetOfflineCheck fetches a check by local ID or ErrNotFound.
	GetOfflineCheck(ctx context.Context, id string) (*domain.OfflineCheck, error)
	// GetOfflineCheckByCloudID fetches a check by its cloud ID or ErrNotFound.
	GetOfflineCheckByCloudID(ctx context.Context, cloudID string) (*domain.OfflineCheck, error)
	// ListUnsyncedChecks returns checks not yet accepted by the cloud.
	ListUnsyncedChecks(ctx context.Context) ([]domain.OfflineCheck, error)
	// ListOfflineChecks returns all checks, optionally filtered by RVC.
	ListOfflineChecks(ctx context.Context, rvcID string) ([]domain.OfflineCheck, error)

	// NextCheckNumber allocates and returns the next check number for the
	// RVC inside a single transaction (read, increment, write). Repeated
	// calls return a strictly increasing sequence, including under
	// concurrent invocation.
	NextCheckNumber(ctx context.Context, rvcID string) (int, error)
	// CreateCheckAtomic allocates chk.CheckNumber from the RVC counter and
	// inserts the check in the same transaction, so concurrent creations
	// on one revenue center never share a number.
	CreateCheckAtomic(ctx context.Context, chk *domain.OfflineCheck) error
	// SetCloudCheckMax records the last known cloud-side max check number
	// for an RVC; counters seed from max(local, cloud)+1 on first use.
	SetCloudCheckMax(ctx context.Context, rvcID string, n int) error

	// QueueOperation appends a mutation to the write-ahead queue.
	QueueOperation(ctx context.Context, opType, endpoint, method, body string, priority int) (*domain.QueuedOperation, error)
	// PendingOperations returns up to limit unsynced operations ordered by
	// (priority ASC, created_at ASC). limit <= 0 means no limit.
	PendingOperations(ctx context.Context, limit int) ([]domain.QueuedOperation, error)
	// MarkOperationSynced flags an operation as accepted by the cloud.
	MarkOperationSynced(ctx context.Context, id string) error
	// MarkOperationFailed records a replay failure and bumps the retry
	// count. The operation stays queued; queue rows are never deleted.
	MarkOperationFailed(ctx context.Context, id, msg string) error

	// CheckIdempotencyKey returns the stored response for the 4-tuple, or
	// ErrNotFound when the operation has not executed (or has expired).
	CheckIdempotencyKey(ctx context.Context, enterpriseID, workstationID, operation, key string, now time.Time) (*domain.IdempotencyRecord, error)
	// StoreIdempotencyKey records a response snapshot; ErrDuplicate when
	// the tuple already exists.
	StoreIdempotencyKey(ctx context.Context, rec *domain.IdempotencyRecord) error
	// PurgeExpiredIdempotencyKeys deletes records past their expiry and
	// returns the number removed.
	PurgeExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error)

	// SavePrintJob inserts or replaces a local print job. ErrDuplicate when
	// its dedupe key is already taken by another job.
	SavePrintJob(ctx context.Context, job *domain.PrintJob) error
	// GetPrintJob fetches a job by ID or ErrNotFound.
	GetPrintJob(ctx context.Context, id string) (*domain.PrintJob, error)
	// ListPendingPrintJobs returns jobs awaiting delivery, oldest first.
	ListPendingPrintJobs(ctx context.Context, limit int) ([]domain.PrintJob, error)
	// MarkPrintJobStatus transitions a job and records the failure message
	// when status is failed. Retry count increments on failed/pending flips.
	MarkPrintJobStatus(ctx context.Context, id, status, errMsg string) error

	// Close releases the underlying resources.
	Close() error
}

// Open returns the SQLite store when it can be opened and migrated.
// When it cannot, the file-backed fallback is used if
// cfg.AllowPlaintextFallback permits; otherwise the storage error is
// returned and the agent refuses to start.
func Open(cfg config.StoreConfig, traced bool) (Store, error) {
	s, err := OpenSQLite(cfg.DBPath, traced)
	if err == nil {
		return s, nil
	}
	if !cfg.AllowPlaintextFallback {
		return nil, err
	}
	return OpenFile(cfg.FilePath)
}
