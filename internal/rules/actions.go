package rules

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/afms/internal/domain"
	"example.com/afms/internal/eventbus"
)

// ActionExecutor runs one action type against the evaluation context
type ActionExecutor interface {
	Execute(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult
}

type executorFunc func(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult

func (f executorFunc) Execute(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
	return f(ctx, rule, action, rctx)
}

// defaultExecutors builds the fixed dispatch table. The bus may be nil in
// tests; event-emitting actions then only log.
func defaultExecutors(bus *eventbus.Bus) map[ActionType]ActionExecutor {
	return map[ActionType]ActionExecutor{
		ActionDeduction:        executorFunc(makeAdjustmentExecutor("deduction")),
		ActionBonus:            executorFunc(makeAdjustmentExecutor("bonus")),
		ActionNotification:     executorFunc(makeNotificationExecutor(bus)),
		ActionApprovalRequired: executorFunc(makeApprovalExecutor(bus)),
		ActionBlock:            executorFunc(executeBlock),
		ActionCustom:           executorFunc(executeCustom),
	}
}

func makeAdjustmentExecutor(kind string) func(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
	return func(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
		amount, ok := toFloat(action.Parameters["amount"])
		if !ok {
			return ActionResult{
				Type:   action.Type,
				Status: ActionStatusFailed,
				Error:  "missing or invalid amount parameter",
			}
		}

		employeeID := asString(ResolvePath(rctx, "attendanceData.employee_id"))
		reason := asString(action.Parameters["reason"])

		log.Info().
			Str("event_category", "business").
			Str("rule_id", rule.ID).
			Str("employee_id", employeeID).
			Str("kind", kind).
			Float64("amount", amount).
			Msg("Payroll adjustment applied")

		return ActionResult{
			Type:   action.Type,
			Status: ActionStatusExecuted,
			Output: map[string]interface{}{
				"kind":        kind,
				"amount":      amount,
				"employee_id": employeeID,
				"reason":      reason,
			},
		}
	}
}

func makeNotificationExecutor(bus *eventbus.Bus) func(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
	return func(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
		recipient := asString(action.Parameters["recipient"])
		if recipient == "" {
			recipient = asString(ResolvePath(rctx, "attendanceData.employee_id"))
		}
		channel := asString(action.Parameters["channel"])
		if channel == "" {
			channel = "websocket"
		}
		message := asString(action.Parameters["message"])

		if bus != nil {
			payload := domain.NotificationTriggeredEvent{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Recipient:   recipient,
				Channel:     channel,
				Message:     message,
				TriggeredAt: time.Now().UTC(),
			}
			bus.Publish(ctx, notificationEvent(rule, payload))
		}

		return ActionResult{
			Type:   action.Type,
			Status: ActionStatusExecuted,
			Output: map[string]interface{}{
				"recipient": recipient,
				"channel":   channel,
			},
		}
	}
}

func makeApprovalExecutor(bus *eventbus.Bus) func(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
	return func(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
		approverRole := asString(action.Parameters["approver_role"])
		if approverRole == "" {
			approverRole = "supervisor"
		}
		reason := asString(action.Parameters["reason"])

		if bus != nil {
			payload := domain.RuleActionRequiredEvent{
				RuleID:       rule.ID,
				RuleName:     rule.Name,
				ApproverRole: approverRole,
				Reason:       reason,
				RequestedAt:  time.Now().UTC(),
			}
			bus.Publish(ctx, approvalEvent(rule, payload))
		}

		return ActionResult{
			Type:   action.Type,
			Status: ActionStatusExecuted,
			Output: map[string]interface{}{
				"approver_role": approverRole,
				"reason":        reason,
			},
		}
	}
}

// executeBlock is the one deliberate halt: it stops the remaining actions of
// its rule via the Blocked variant instead of an error.
func executeBlock(_ context.Context, rule Rule, action Action, _ Context) ActionResult {
	reason := asString(action.Parameters["reason"])
	if reason == "" {
		reason = "blocked by rule " + rule.Name
	}
	return ActionResult{
		Type:   action.Type,
		Status: ActionStatusBlocked,
		Reason: reason,
	}
}

func executeCustom(_ context.Context, rule Rule, action Action, _ Context) ActionResult {
	log.Info().
		Str("rule_id", rule.ID).
		Interface("parameters", action.Parameters).
		Msg("Custom rule action executed")
	return ActionResult{
		Type:   action.Type,
		Status: ActionStatusExecuted,
		Output: action.Parameters,
	}
}
