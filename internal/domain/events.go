package domain

import (
	"time"
)

// Aggregate types
const (
	AggregateEmployee   = "employee"
	AggregateDevice     = "device"
	AggregatePayrollRun = "payroll_run"
)

// EventType constants
const (
	AttendanceRecorded    = "V1_ATTENDANCE_RECORDED"
	NotificationTriggered = "V1_NOTIFICATION_TRIGGERED"
	RuleActionRequired    = "V1_RULE_ACTION_REQUIRED"
	PayrollAdjustment     = "V1_PAYROLL_ADJUSTMENT"
)

// Metadata carries contextual information about an event
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Type          string    `json:"type"`
	Version       int       `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	Data          []byte    `json:"data"`
	Metadata      Metadata  `json:"metadata"`
}

// AttendanceRecordedEvent is emitted when a fingerprint scan is accepted
type AttendanceRecordedEvent struct {
	EmployeeID  string    `json:"employee_id"`
	DeviceID    string    `json:"device_id"`
	BranchID    string    `json:"branch_id,omitempty"`
	ScannedAt   time.Time `json:"scanned_at"`
	VerifyType  int       `json:"verify_type"`
	InOutMode   int       `json:"in_out_mode"`
	LateMinutes int       `json:"late_minutes"`
	PayloadHash string    `json:"payload_hash"`
}

// NotificationTriggeredEvent is emitted by the rules engine notification action
type NotificationTriggeredEvent struct {
	RuleID      string    `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	Recipient   string    `json:"recipient"`
	Channel     string    `json:"channel"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// RuleActionRequiredEvent is emitted by the approval_required action
type RuleActionRequiredEvent struct {
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	ApproverRole string    `json:"approver_role"`
	Reason       string    `json:"reason"`
	RequestedAt  time.Time `json:"requested_at"`
}

// PayrollAdjustmentEvent is emitted by the deduction and bonus actions
type PayrollAdjustmentEvent struct {
	RuleID     string  `json:"rule_id"`
	RuleName   string  `json:"rule_name"`
	EmployeeID string  `json:"employee_id"`
	Kind       string  `json:"kind"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
}
