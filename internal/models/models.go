package models

import (
	"time"

	"gorm.io/gorm"
)

// Event represents a domain event in the database. The composite unique
// index on (aggregate_id, version) is what enforces optimistic concurrency;
// a stale writer hits the constraint instead of overwriting.
type Event struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventID       string    `gorm:"uniqueIndex" json:"event_id"`
	AggregateID   string    `gorm:"uniqueIndex:ux_aggregate_version,priority:1;index" json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	EventType     string    `gorm:"index" json:"event_type"`
	Data          []byte    `json:"data"`
	Metadata      []byte    `json:"metadata"`
	Version       int       `gorm:"uniqueIndex:ux_aggregate_version,priority:2" json:"version"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IdempotencyKey records a previously seen request, keyed by a deterministic
// digest of (device, operation, payload, actor). The unique index on Key makes
// check-then-create safe under concurrent submissions.
type IdempotencyKey struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Key         string    `gorm:"uniqueIndex" json:"key"`
	RequestHash string    `json:"request_hash"`
	Status      string    `json:"status"`
	Response    []byte    `json:"response"`
	LastError   *string   `json:"last_error"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
}

// Idempotency key statuses
const (
	IdempotencyStatusProcessing = "processing"
	IdempotencyStatusCompleted  = "completed"
	IdempotencyStatusFailed     = "failed"
)

// AttendanceScan is the device-level dedup guard: one row per accepted scan,
// looked up by (device, employee, payload hash) within the dedup window.
type AttendanceScan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DeviceID    string    `gorm:"index:ix_scan_dedup,priority:1" json:"device_id"`
	EmployeeID  string    `gorm:"index:ix_scan_dedup,priority:2" json:"employee_id"`
	PayloadHash string    `gorm:"index:ix_scan_dedup,priority:3" json:"payload_hash"`
	ScannedAt   time.Time `gorm:"index" json:"scanned_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Rule is a versioned, time-bounded business policy. Conditions and Actions
// are JSON blobs decoded by the rules engine.
type Rule struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	RuleID     string         `gorm:"uniqueIndex" json:"rule_id"`
	Name       string         `json:"name"`
	Category   string         `gorm:"index" json:"category"`
	Priority   int            `json:"priority"`
	IsActive   bool           `gorm:"index" json:"is_active"`
	ValidFrom  *time.Time     `json:"valid_from"`
	ValidTo    *time.Time     `json:"valid_to"`
	Conditions []byte         `json:"conditions"`
	Actions    []byte         `json:"actions"`
	Version    int            `json:"version"`
	CreatedBy  string         `json:"created_by"`
	UpdatedBy  string         `json:"updated_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// RuleExecutionLog records one rule evaluation, successful or not
type RuleExecutionLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RuleID     string    `gorm:"index" json:"rule_id"`
	Category   string    `json:"category"`
	Context    []byte    `json:"context"`
	Results    []byte    `json:"results"`
	Executed   bool      `json:"executed"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReadModel is a denormalized projection row, rebuildable from the event log
type ReadModel struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ModelType   string    `gorm:"uniqueIndex:ux_readmodel,priority:1;index" json:"model_type"`
	ModelID     string    `gorm:"uniqueIndex:ux_readmodel,priority:2" json:"model_id"`
	Data        []byte    `json:"data"`
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
}

// SetupModels runs database migrations for all models
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&IdempotencyKey{},
		&AttendanceScan{},
		&Rule{},
		&RuleExecutionLog{},
		&ReadModel{},
	)
}
