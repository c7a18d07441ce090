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

// Job types accepted on the refresh subscription.
const (
	JobForecastRefresh = "forecast_refresh"
	JobHealthCheck     = "health_check"
)

// Message errors. Messages failing with these are acknowledged since
// redelivery cannot succeed.
var (
	ErrInvalidMessage = errors.New("invalid job message")
	ErrUnknownJobType = errors.New("unknown job type")
)

// ErrStale is returned by the health check job when no refresh succeeded
// within the configured StaleAfter.
var ErrStale = errors.New("no recent successful refresh")

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	refreshJob       *RefreshJob
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	RefreshJob       *RefreshJob
	Logger           zerolog.Logger
}

// RefreshMessage is the payload of a worker job message.
type RefreshMessage struct {
	JobType string `json:"job_type"`
	// Horizon overrides the configured refresh horizon, e.g. "72h".
	Horizon string `json:"horizon,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// One refresh at a time; the job rejects overlap anyway.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		refreshJob:       cfg.RefreshJob,
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

	err := h.refreshJob.HandleMessage(ctx, msg.Data)
	switch {
	case err == nil:
		logger.Info().
			Dur("duration", time.Since(startTime)).
			Msg("job completed successfully")
		msg.Ack()
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownJobType), errors.Is(err, ErrRefreshRunning):
		logger.Warn().Err(err).Msg("job dropped")
		msg.Ack()
	default:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
	}
}

// HandleMessage runs the job described by a RefreshMessage payload.
func (j *RefreshJob) HandleMessage(ctx context.Context, data []byte) error {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	switch msg.JobType {
	case JobForecastRefresh:
		horizon := j.config.Horizon
		if msg.Horizon != "" {
			d, err := time.ParseDuration(msg.Horizon)
			if err != nil || d <= 0 {
				return fmt.Errorf("%w: horizon %q", ErrInvalidMessage, msg.Horizon)
			}
			horizon = d
		}
		return j.RunHorizon(ctx, horizon).Err
	case JobHealthCheck:
		if !j.Healthy() {
			return ErrStale
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobType, msg.JobType)
	}
}
