package rules

import (
	"time"
)

// Operator is a condition comparison operator
type Operator string

// Condition operators
const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpContains           Operator = "contains"
	OpBetween            Operator = "between"
)

// LogicalOperator chains a condition's result to the next condition
type LogicalOperator string

// Logical operators
const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition compares a dot-addressable context field against a value.
// LogicalOperator belongs to this condition and decides how the NEXT
// condition's result folds into the running aggregate (pairwise chaining,
// preserved from the source system's stored rules).
type Condition struct {
	Field           string          `json:"field"`
	Operator        Operator        `json:"operator"`
	Value           interface{}     `json:"value"`
	LogicalOperator LogicalOperator `json:"logical_operator,omitempty"`
}

// ActionType tags an action from the closed set
type ActionType string

// Action types
const (
	ActionDeduction        ActionType = "deduction"
	ActionBonus            ActionType = "bonus"
	ActionNotification     ActionType = "notification"
	ActionApprovalRequired ActionType = "approval_required"
	ActionBlock            ActionType = "block"
	ActionCustom           ActionType = "custom"
)

// Action is an action type plus a free-form parameter bag
type Action struct {
	Type       ActionType             `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Rule is a decoded, evaluation-ready business rule
type Rule struct {
	ID         string
	Name       string
	Category   string
	Priority   int
	Conditions []Condition
	Actions    []Action
	Version    int
}

// Context is the runtime evaluation context, addressed by dot paths
type Context map[string]interface{}

// ActionStatus is the per-action outcome variant
type ActionStatus string

// Action outcomes. Blocked is the only deliberate halt: it stops the
// remaining actions of its rule.
const (
	ActionStatusExecuted ActionStatus = "executed"
	ActionStatusBlocked  ActionStatus = "blocked"
	ActionStatusFailed   ActionStatus = "failed"
)

// ActionResult is the outcome of one action execution
type ActionResult struct {
	Type   ActionType             `json:"type"`
	Status ActionStatus           `json:"status"`
	Reason string                 `json:"reason,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Output map[string]interface{} `json:"output,omitempty"`
}

// ExecutionResult is the outcome of one rule within a batch
type ExecutionResult struct {
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Executed bool           `json:"executed"`
	Reason   string         `json:"reason,omitempty"`
	Actions  []ActionResult `json:"actions,omitempty"`
	Duration time.Duration  `json:"duration"`
}
