package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types carried by schedule notifications.
const (
	JobScheduleChanged = "schedule_changed"
	JobHealthCheck     = "health_check"
)

var (
	// ErrUnknownJob is returned for messages with an unrecognized job type.
	ErrUnknownJob = errors.New("unknown job type")

	// ErrMalformedMessage is returned for messages that are not valid JSON.
	ErrMalformedMessage = errors.New("malformed message")
)

// JobMessage is a schedule notification published by the backend.
type JobMessage struct {
	JobType    string `json:"job_type"`
	ScheduleID string `json:"schedule_id,omitempty"`
}

// Dispatcher routes job messages to the poller.
type Dispatcher struct {
	poller *Poller
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher for the given poller.
func NewDispatcher(poller *Poller, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{poller: poller, logger: logger}
}

// Dispatch handles one message payload. A schedule_changed message asks
// the poller for a refresh; scheduled polls still skip while one is in
// flight. A health_check message runs a poll and fails if it fails.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobScheduleChanged:
		d.logger.Debug().
			Str("schedule_id", msg.ScheduleID).
			Msg("schedule changed, triggering poll")
		d.poller.Trigger()
		return nil
	case JobHealthCheck:
		result := d.poller.Poll(ctx)
		if result.Err != nil {
			return fmt.Errorf("health check poll: %w", result.Err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

// PubSubHandler receives schedule notifications from Pub/Sub.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Poller           *Poller
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Notifications only trigger polls; a small window is enough.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.Poller, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	err := h.dispatcher.Dispatch(ctx, msg.Data)
	switch {
	case errors.Is(err, ErrUnknownJob):
		logger.Warn().Err(err).Msg("ignoring message")
		msg.Ack() // Ack unknown messages to prevent redelivery
		return
	case err != nil:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
		return
	}

	logger.Debug().
		Dur("duration", time.Since(startTime)).
		Msg("job completed")

	msg.Ack()
}
