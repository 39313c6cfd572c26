package messaging

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/config"
)

// MessageHandler processes one message body. A returned error abandons the
// message for redelivery.
type MessageHandler func(ctx context.Context, body []byte) error

// ServiceBus consumes device scan payloads from an Azure Service Bus queue
type ServiceBus struct {
	client    *azservicebus.Client
	queueName string
}

// NewServiceBus creates a new Azure Service Bus consumer
func NewServiceBus(cfg config.AzureConfig) (*ServiceBus, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &ServiceBus{client: client, queueName: cfg.QueueName}, nil
}

// ProcessMessages receives messages in a loop until the context is cancelled
func (s *ServiceBus) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	receiver, err := s.client.NewReceiverForQueue(s.queueName, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create receiver for queue %s", s.queueName)
	}
	defer receiver.Close(context.Background())

	log.Info().Str("queue", s.queueName).Msg("Service Bus consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Failed to receive messages, backing off")
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range messages {
			if err := handler(ctx, msg.Body); err != nil {
				log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Message processing failed, abandoning")
				if abandonErr := receiver.AbandonMessage(ctx, msg, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Str("message_id", msg.MessageID).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, msg, nil); err != nil {
				log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to complete message")
			}
		}
	}
}

// Close closes the Service Bus client
func (s *ServiceBus) Close() error {
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}
