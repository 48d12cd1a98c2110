// Package domain defines the core persistence models for the agent.
// These types are used by GORM for database schema mapping and are shared
// across the store and service layers.
package domain

import "time"

// IdempotencyRecord is the recorded result of a previously executed
// sensitive operation (payment capture, check creation), keyed by
// (enterprise_id, workstation_id, operation, idempotency_key). A retried
// request with the same key returns the stored response without
// re-executing the side effect. Expired records are purged periodically.
type IdempotencyRecord struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	EnterpriseID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_tuple,priority:1"`
	WorkstationID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_tuple,priority:2"`
	Operation      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_tuple,priority:3"`
	IdempotencyKey string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_tuple,priority:4"`
	ResponseStatus int       `gorm:"type:INTEGER NOT NULL"`
	ResponseBody   string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_keys" }
