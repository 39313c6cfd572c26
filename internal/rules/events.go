package rules

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"example.com/afms/internal/domain"
)

// Bus-only events emitted by rule actions. They are not appended to the
// event store; the rules engine never writes to the event log.

func notificationEvent(rule Rule, payload domain.NotificationTriggeredEvent) domain.Event {
	data, _ := json.Marshal(payload)
	return domain.Event{
		ID:            uuid.New().String(),
		AggregateID:   payload.Recipient,
		AggregateType: domain.AggregateEmployee,
		Type:          domain.NotificationTriggered,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		Metadata:      domain.Metadata{CausationID: rule.ID},
	}
}

func approvalEvent(rule Rule, payload domain.RuleActionRequiredEvent) domain.Event {
	data, _ := json.Marshal(payload)
	return domain.Event{
		ID:            uuid.New().String(),
		AggregateID:   rule.ID,
		AggregateType: domain.AggregateEmployee,
		Type:          domain.RuleActionRequired,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		Metadata:      domain.Metadata{CausationID: rule.ID},
	}
}
