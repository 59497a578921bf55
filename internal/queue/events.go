// Package queue provides the SQS producer for reminder lifecycle events.
// Downstream consumers (analytics, the care-team notification service) react
// to disables and purges without coupling to the maintenance workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"medremind/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventPublisher serializes ReminderEvents and sends them to the lifecycle
// queue. It implements the scheduler.EventPublisher interface.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEventPublisher creates an EventPublisher for the given queue URL.
// A nil logger uses slog.Default().
func NewEventPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishReminderEvent sends one lifecycle event. The event type rides along
// as a message attribute so consumers can filter without parsing the body,
// and a dedupe ID attribute lets at-least-once consumers drop replays.
func (p *EventPublisher) PublishReminderEvent(ctx context.Context, ev types.ReminderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal reminder event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Type),
			},
			"dedupe_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(uuid.New().String()),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send reminder event: %w", err)
	}

	p.logger.Debug("published reminder event",
		"event_type", ev.Type,
		"reminder_id", ev.ReminderID,
	)
	return nil
}
