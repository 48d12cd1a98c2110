// Package domain defines the persistence models for the offline-resilience
// agent: cached cloud configuration, the write-ahead operation queue,
// offline checks, per-RVC check-number counters, and local print jobs.
// These types are mapped with GORM by the SQLite store and serialized
// verbatim by the file-backed fallback store.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Check statuses. Void is a status transition, never a row delete.
const (
	CheckStatusOpen   = "open"
	CheckStatusClosed = "closed"
	CheckStatusVoided = "voided"
)

// Print job statuses.
const (
	PrintStatusPending   = "pending"
	PrintStatusPrinting  = "printing"
	PrintStatusCompleted = "completed"
	PrintStatusFailed    = "failed"
)

// CachedEntity is one cloud-owned configuration record (menu item,
// employee, tax rate, ...) mirrored locally. Rows are replaced wholesale
// on each sync pull and never partially patched.
//
// Fields:
//   - Table: logical cloud collection name ("menu-items", "employees", ...).
//   - RecordID: the cloud record id within that collection.
//   - EnterpriseID / PropertyID: ownership scope; PropertyID may be empty
//     for enterprise-level records.
//   - Payload: the full record as JSON, stored opaque.
//   - UpdatedAt: local time of the last overwrite.
type CachedEntity struct {
	Table        string    `json:"table"         gorm:"column:tbl;type:varchar(64);not null;primaryKey"`
	RecordID     string    `json:"id"            gorm:"type:varchar(64);not null;primaryKey"`
	EnterpriseID string    `json:"enterprise_id" gorm:"type:varchar(64);not null;index:idx_entity_scope,priority:1"`
	PropertyID   string    `json:"property_id"   gorm:"type:varchar(64);index:idx_entity_scope,priority:2"`
	Payload      string    `json:"payload"       gorm:"type:text;not null"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for CachedEntity.
func (CachedEntity) TableName() string { return "cached_entities" }

// QueuedOperation is a local mutation awaiting cloud replay. Operations
// drain in (priority ASC, created_at ASC) order and are only flagged as
// synced or failed, never deleted, to preserve audit history.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Type: business operation name ("create_check", "add_payment", ...).
//   - Endpoint / Method / Body: the HTTP replay recipe.
//   - Priority: 1 is most critical; drained ascending.
//   - Synced / SyncedAt: set only after the cloud accepts the replay.
//   - Error / RetryCount: last failure message and attempt count. Failed
//     operations stay queued indefinitely; eviction would lose money.
type QueuedOperation struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	Type       string     `json:"type"        gorm:"type:varchar(64);not null"`
	Endpoint   string     `json:"endpoint"    gorm:"type:varchar(255);not null"`
	Method     string     `json:"method"      gorm:"type:varchar(8);not null"`
	Body       string     `json:"body"        gorm:"type:text"`
	Priority   int        `json:"priority"    gorm:"not null;default:5;index:idx_queue_drain,priority:1"`
	CreatedAt  time.Time  `json:"created_at"  gorm:"index:idx_queue_drain,priority:2"`
	Synced     bool       `json:"synced"      gorm:"not null;default:false;index"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`
	RetryCount int        `json:"retry_count" gorm:"not null;default:0"`
}

// TableName returns the database table name for QueuedOperation.
func (QueuedOperation) TableName() string { return "offline_queue" }

// CheckItem is a line on a check. Items live inside OfflineCheck.Items
// (JSON column), not in their own table: the check payload round-trips
// to the cloud as one document.
type CheckItem struct {
	ID         string          `json:"id"`
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	Voided     bool            `json:"voided"`
}

// CheckPayment is a tender applied to a check.
type CheckPayment struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"` // cash, card, ...
	Amount   decimal.Decimal `json:"amount"`
	Approved bool            `json:"approved"`
}

// OfflineCheck is the core transactional unit: an order/bill created or
// continued while disconnected. (RvcID, CheckNumber) is unique; numbers
// are allocated by RvcCounter inside the check-creation transaction.
//
// Conflict policy: local-authoritative until Synced; the sync pull never
// overwrites a check with Synced=false.
type OfflineCheck struct {
	ID          string          `json:"id"           gorm:"type:char(36);primaryKey"`
	CheckNumber int             `json:"check_number" gorm:"not null;uniqueIndex:ux_rvc_check,priority:2"`
	RvcID       string          `json:"rvc_id"       gorm:"type:varchar(64);not null;uniqueIndex:ux_rvc_check,priority:1"`
	EmployeeID  string          `json:"employee_id"  gorm:"type:varchar(64);not null;index"`
	Status      string          `json:"status"       gorm:"type:varchar(16);not null;default:'open';check:status IN ('open','closed','voided')"`
	Items       []CheckItem     `json:"items"        gorm:"serializer:json"`
	Payments    []CheckPayment  `json:"payments"     gorm:"serializer:json"`
	Subtotal    decimal.Decimal `json:"subtotal"     gorm:"type:decimal(20,4);default:0"`
	Tax         decimal.Decimal `json:"tax"          gorm:"type:decimal(20,4);default:0"`
	Total       decimal.Decimal `json:"total"        gorm:"type:decimal(20,4);default:0"`
	Synced      bool            `json:"synced"       gorm:"not null;default:false;index"`
	CloudID     string          `json:"cloud_id"     gorm:"type:varchar(64);index"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName returns the database table name for OfflineCheck.
func (OfflineCheck) TableName() string { return "offline_checks" }

// PaidTotal sums approved payments on the check.
func (c *OfflineCheck) PaidTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.Payments {
		if p.Approved {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// RecalcTotals recomputes Subtotal from the full item list (unit price ×
// quantity, voided items excluded) and Total as Subtotal + Tax. Totals are
// always recomputed from scratch rather than adjusted incrementally, so a
// dropped or replayed item mutation cannot make them drift.
func (c *OfflineCheck) RecalcTotals() {
	sub := decimal.Zero
	for _, it := range c.Items {
		if it.Voided {
			continue
		}
		sub = sub.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	c.Subtotal = sub
	c.Total = sub.Add(c.Tax)
}

// RvcCounter is the single source of truth for check-number allocation in
// one revenue center. NextCheckNumber is advanced inside the same
// transaction that inserts the check. A zero NextCheckNumber means the
// counter is unseeded; the first allocation seeds it from
// max(local max check number, CloudCheckNumber)+1.
type RvcCounter struct {
	RvcID            string `json:"rvc_id"             gorm:"type:varchar(64);primaryKey"`
	NextCheckNumber  int    `json:"next_check_number"  gorm:"not null;default:0"`
	CloudCheckNumber int    `json:"cloud_check_number" gorm:"not null;default:0"`
}

// TableName returns the database table name for RvcCounter.
func (RvcCounter) TableName() string { return "rvc_counters" }

// PrintJob is a locally originated print job persisted by the agent's own
// queue. DedupeKey, when present, is unique and suppresses duplicate
// submissions of the same receipt.
type PrintJob struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	PrinterTarget string     `json:"printer_target" gorm:"type:varchar(128);not null"`
	Payload       []byte     `json:"payload"        gorm:"type:blob;not null"`
	Status        string     `json:"status"         gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','printing','completed','failed');index"`
	DedupeKey     *string    `json:"dedupe_key,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	Error         string     `json:"error,omitempty"      gorm:"type:text"`
	RetryCount    int        `json:"retry_count"    gorm:"not null;default:0"`
	LeasedBy      string     `json:"leased_by,omitempty"  gorm:"type:varchar(64)"`
	LeasedUntil   *time.Time `json:"leased_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PrintJob.
func (PrintJob) TableName() string { return "print_jobs" }
