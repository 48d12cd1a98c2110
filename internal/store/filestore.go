// Package store implements the durable local cache for the agent.
// This file contains the fallback backend: a single JSON document guarded
// by a mutex, used when the structured SQLite database cannot be opened.
// It trades query speed for having no moving parts; a terminal that lost
// its database still keeps serving.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/griffd12/cloud-pos-sub004/internal/domain"
)

// fileDocument is the on-disk shape of the fallback store.
type fileDocument struct {
	Entities    []domain.CachedEntity      `json:"entities"`
	Queue       []domain.QueuedOperation   `json:"queue"`
	Checks      []domain.OfflineCheck      `json:"checks"`
	Counters    []domain.RvcCounter        `json:"counters"`
	Idempotency []domain.IdempotencyRecord `json:"idempotency"`
	PrintJobs   []domain.PrintJob          `json:"print_jobs"`
}

// FileStore is the file-backed implementation of Store. Every mutation
// rewrites the whole document via a temp file and rename, so a crash mid
// write never leaves a torn file behind.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc fileDocument
}

// OpenFile loads (or creates) the JSON fallback store at path.
func OpenFile(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh store.
	case err != nil:
		return nil, err
	default:
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &fs.doc); err != nil {
				return nil, err
			}
		}
	}
	return fs, nil
}

// persist writes the document atomically. Callers must hold mu.
func (f *FileStore) persist() error {
	raw, err := json.Marshal(&f.doc)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// CacheEntityList replaces all cached rows for (table, scopeID).
func (f *FileStore) CacheEntityList(_ context.Context, table, scopeID string, items []domain.CachedEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	kept := f.doc.Entities[:0]
	for _, e := range f.doc.Entities {
		if e.Table == table && (scopeID == "" || e.EnterpriseID == scopeID) {
			continue
		}
		kept = append(kept, e)
	}
	for i := range items {
		items[i].Table = table
		items[i].UpdatedAt = now
	}
	f.doc.Entities = append(kept, items...)
	return f.persist()
}

// GetEntity fetches one cached record or ErrNotFound.
func (f *FileStore) GetEntity(_ context.Context, table, id string) (*domain.CachedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.Entities {
		if f.doc.Entities[i].Table == table && f.doc.Entities[i].RecordID == id {
			e := f.doc.Entities[i]
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

// GetEntityList returns cached rows for a table, optionally scoped.
func (f *FileStore) GetEntityList(_ context.Context, table, scopeID string) ([]domain.CachedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.CachedEntity, 0)
	for _, e := range f.doc.Entities {
		if e.Table == table && (scopeID == "" || e.EnterpriseID == scopeID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

// SaveOfflineCheck inserts or fully replaces a check by ID, enforcing the
// (rvc_id, check_number) uniqueness the SQLite schema guarantees.
func (f *FileStore) SaveOfflineCheck(_ context.Context, chk *domain.OfflineCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCheckLocked(chk)
}

func (f *FileStore) saveCheckLocked(chk *domain.OfflineCheck) error {
	chk.UpdatedAt = time.Now().UTC()
	for i := range f.doc.Checks {
		c := &f.doc.Checks[i]
		if c.ID == chk.ID {
			f.doc.Checks[i] = *chk
			return f.persist()
		}
		if c.RvcID == chk.RvcID && c.CheckNumber == chk.CheckNumber {
			return ErrDuplicate
		}
	}
	f.doc.Checks = append(f.doc.Checks, *chk)
	return f.persist()
}

// GetOfflineCheck fetches a check by local ID or ErrNotFound.
func (f *FileStore) GetOfflineCheck(_ context.Context, id string) (*domain.OfflineCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.Checks {
		if f.doc.Checks[i].ID == id {
			c := f.doc.Checks[i]
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// GetOfflineCheckByCloudID fetches a check by cloud ID or ErrNotFound.
func (f *FileStore) GetOfflineCheckByCloudID(_ context.Context, cloudID string) (*domain.OfflineCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.Checks {
		if f.doc.Checks[i].CloudID == cloudID && cloudID != "" {
			c := f.doc.Checks[i]
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListUnsyncedChecks returns checks not yet accepted by the cloud.
func (f *FileStore) ListUnsyncedChecks(_ context.Context) ([]domain.OfflineCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.OfflineCheck, 0)
	for _, c := range f.doc.Checks {
		if !c.Synced {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListOfflineChecks returns all checks, optionally filtered by RVC.
func (f *FileStore) ListOfflineChecks(_ context.Context, rvcID string) ([]domain.OfflineCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.OfflineCheck, 0)
	for _, c := range f.doc.Checks {
		if rvcID == "" || c.RvcID == rvcID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// counterLocked returns a pointer to the RVC counter, creating it when
// missing. Callers must hold mu.
func (f *FileStore) counterLocked(rvcID string) *domain.RvcCounter {
	for i := range f.doc.Counters {
		if f.doc.Counters[i].RvcID == rvcID {
			return &f.doc.Counters[i]
		}
	}
	f.doc.Counters = append(f.doc.Counters, domain.RvcCounter{RvcID: rvcID})
	return &f.doc.Counters[len(f.doc.Counters)-1]
}

// allocateLocked performs the seed/read/increment cycle under mu.
func (f *FileStore) allocateLocked(rvcID string) int {
	ctr := f.counterLocked(rvcID)
	if ctr.NextCheckNumber == 0 {
		localMax := 0
		for _, c := range f.doc.Checks {
			if c.RvcID == rvcID && c.CheckNumber > localMax {
				localMax = c.CheckNumber
			}
		}
		seed := localMax
		if ctr.CloudCheckNumber > seed {
			seed = ctr.CloudCheckNumber
		}
		ctr.NextCheckNumber = seed + 1
	}
	n := ctr.NextCheckNumber
	ctr.NextCheckNumber = n + 1
	return n
}

// NextCheckNumber allocates and returns the next check number for rvcID.
func (f *FileStore) NextCheckNumber(_ context.Context, rvcID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.allocateLocked(rvcID)
	if err := f.persist(); err != nil {
		return 0, err
	}
	return n, nil
}

// CreateCheckAtomic allocates chk.CheckNumber and stores the check under
// the same lock, mirroring the SQLite transaction.
func (f *FileStore) CreateCheckAtomic(_ context.Context, chk *domain.OfflineCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	if chk.ID == "" {
		chk.ID = uuid.NewString()
	}
	chk.CreatedAt = now
	if chk.Status == "" {
		chk.Status = domain.CheckStatusOpen
	}
	chk.CheckNumber = f.allocateLocked(chk.RvcID)
	return f.saveCheckLocked(chk)
}

// SetCloudCheckMax records the last known cloud-side max check number.
func (f *FileStore) SetCloudCheckMax(_ context.Context, rvcID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctr := f.counterLocked(rvcID)
	if n > ctr.CloudCheckNumber {
		ctr.CloudCheckNumber = n
	}
	return f.persist()
}

// QueueOperation appends a mutation to the write-ahead queue.
func (f *FileStore) QueueOperation(_ context.Context, opType, endpoint, method, body string, priority int) (*domain.QueuedOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op := domain.QueuedOperation{
		ID:        uuid.NewString(),
		Type:      opType,
		Endpoint:  endpoint,
		Method:    method,
		Body:      body,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	f.doc.Queue = append(f.doc.Queue, op)
	if err := f.persist(); err != nil {
		return nil, err
	}
	return &op, nil
}

// PendingOperations returns unsynced operations in drain order.
func (f *FileStore) PendingOperations(_ context.Context, limit int) ([]domain.QueuedOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.QueuedOperation, 0)
	for _, op := range f.doc.Queue {
		if !op.Synced {
			out = append(out, op)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FileStore) findOpLocked(id string) *domain.QueuedOperation {
	for i := range f.doc.Queue {
		if f.doc.Queue[i].ID == id {
			return &f.doc.Queue[i]
		}
	}
	return nil
}

// MarkOperationSynced flags an operation as accepted by the cloud.
func (f *FileStore) MarkOperationSynced(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	op := f.findOpLocked(id)
	if op == nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	op.Synced = true
	op.SyncedAt = &now
	op.Error = ""
	return f.persist()
}

// MarkOperationFailed records a replay failure and bumps the retry count.
func (f *FileStore) MarkOperationFailed(_ context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	op := f.findOpLocked(id)
	if op == nil {
		return ErrNotFound
	}
	op.Error = msg
	op.RetryCount++
	return f.persist()
}

// CheckIdempotencyKey returns a non-expired record or ErrNotFound.
func (f *FileStore) CheckIdempotencyKey(_ context.Context, enterpriseID, workstationID, operation, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.Idempotency {
		r := &f.doc.Idempotency[i]
		if r.EnterpriseID == enterpriseID && r.WorkstationID == workstationID &&
			r.Operation == operation && r.IdempotencyKey == key && r.ExpiresAt.After(now) {
			rec := *r
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

// StoreIdempotencyKey records a response snapshot; ErrDuplicate when the
// tuple already exists.
func (f *FileStore) StoreIdempotencyKey(_ context.Context, rec *domain.IdempotencyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.doc.Idempotency {
		if r.EnterpriseID == rec.EnterpriseID && r.WorkstationID == rec.WorkstationID &&
			r.Operation == rec.Operation && r.IdempotencyKey == rec.IdempotencyKey {
			return ErrDuplicate
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	f.doc.Idempotency = append(f.doc.Idempotency, *rec)
	return f.persist()
}

// PurgeExpiredIdempotencyKeys deletes records past expiry.
func (f *FileStore) PurgeExpiredIdempotencyKeys(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.doc.Idempotency[:0]
	var purged int64
	for _, r := range f.doc.Idempotency {
		if r.ExpiresAt.After(now) {
			kept = append(kept, r)
		} else {
			purged++
		}
	}
	f.doc.Idempotency = kept
	if purged == 0 {
		return 0, nil
	}
	return purged, f.persist()
}

// SavePrintJob inserts or replaces a local print job.
func (f *FileStore) SavePrintJob(_ context.Context, job *domain.PrintJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

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
	for i := range f.doc.PrintJobs {
		j := &f.doc.PrintJobs[i]
		if j.ID == job.ID {
			f.doc.PrintJobs[i] = *job
			return f.persist()
		}
		if job.DedupeKey != nil && j.DedupeKey != nil && *j.DedupeKey == *job.DedupeKey {
			return ErrDuplicate
		}
	}
	f.doc.PrintJobs = append(f.doc.PrintJobs, *job)
	return f.persist()
}

// GetPrintJob fetches a job by ID or ErrNotFound.
func (f *FileStore) GetPrintJob(_ context.Context, id string) (*domain.PrintJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.PrintJobs {
		if f.doc.PrintJobs[i].ID == id {
			j := f.doc.PrintJobs[i]
			return &j, nil
		}
	}
	return nil, ErrNotFound
}

// ListPendingPrintJobs returns jobs awaiting delivery, oldest first.
func (f *FileStore) ListPendingPrintJobs(_ context.Context, limit int) ([]domain.PrintJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.PrintJob, 0)
	for _, j := range f.doc.PrintJobs {
		if j.Status == domain.PrintStatusPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkPrintJobStatus transitions a job's status; a non-empty errMsg counts
// as a failed delivery attempt.
func (f *FileStore) MarkPrintJobStatus(_ context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.PrintJobs {
		j := &f.doc.PrintJobs[i]
		if j.ID != id {
			continue
		}
		j.Status = status
		j.UpdatedAt = time.Now().UTC()
		if errMsg != "" {
			j.Error = errMsg
			j.RetryCount++
		}
		return f.persist()
	}
	return ErrNotFound
}

// Close flushes the document one last time.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persist()
}
