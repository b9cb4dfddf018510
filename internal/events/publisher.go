package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// EventType names a booking lifecycle event; it doubles as the topic name
type EventType string

const (
	BookingHeld      EventType = "booking.held"
	BookingConfirmed EventType = "booking.confirmed"
	BookingExpired   EventType = "booking.expired"
	BookingCancelled EventType = "booking.cancelled"
	BookingCompleted EventType = "booking.completed"
)

// AllTopics lists every topic the service publishes to
var AllTopics = []EventType{BookingHeld, BookingConfirmed, BookingExpired, BookingCancelled, BookingCompleted}

// BookingEvent is the payload published after a booking transition commits
type BookingEvent struct {
	Type          EventType            `json:"type"`
	BookingID     uuid.UUID            `json:"booking_id"`
	TripID        uuid.UUID            `json:"trip_id"`
	Status        models.BookingStatus `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	ContactPhone  string               `json:"contact_phone"`
	ContactEmail  *string              `json:"contact_email,omitempty"`
	TicketCode    *string              `json:"ticket_code,omitempty"`
	TotalAmount   int64                `json:"total_amount"`
	Seats         []string             `json:"seats"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// Publisher announces committed booking transitions. Publishing is best
// effort: a failure is logged and never undoes the transition.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, booking *models.Booking)
}

// WatermillPublisher publishes BookingEvents on a watermill publisher
type WatermillPublisher struct {
	publisher message.Publisher
	logger    *logrus.Logger
}

// NewWatermillPublisher creates a new WatermillPublisher
func NewWatermillPublisher(publisher message.Publisher, logger *logrus.Logger) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher, logger: logger}
}

// Publish implements Publisher
func (p *WatermillPublisher) Publish(ctx context.Context, eventType EventType, b *models.Booking) {
	event := BookingEvent{
		Type:          eventType,
		BookingID:     b.ID,
		TripID:        b.TripID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		ContactPhone:  b.ContactPhone,
		ContactEmail:  b.ContactEmail,
		TicketCode:    b.TicketCode,
		TotalAmount:   b.TotalAmount,
		Seats:         b.SeatNumbers(),
		OccurredAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("event_type", eventType).Error("Failed to marshal booking event")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(eventType))
	msg.Metadata.Set("booking_id", b.ID.String())
	msg.SetContext(ctx)

	if err := p.publisher.Publish(string(eventType), msg); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"booking_id": b.ID,
		}).Warn("Failed to publish booking event")
	}
}

// Close closes the underlying publisher
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// NewGoChannelPubSub creates an in-process pub/sub
func NewGoChannelPubSub(logger *logrus.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewLoggerAdapter(logger))
}

// NewRedisStreamPubSub creates a Redis Streams publisher and a consumer-group
// subscriber sharing one client
func NewRedisStreamPubSub(client redis.UniversalClient, consumerGroup string, logger *logrus.Logger) (*redisstream.Publisher, *redisstream.Subscriber, error) {
	wmLogger := NewLoggerAdapter(logger)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, wmLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: consumerGroup,
	}, wmLogger)
	if err != nil {
		publisher.Close()
		return nil, nil, fmt.Errorf("failed to create redis stream subscriber: %w", err)
	}

	return publisher, subscriber, nil
}

// RunLogSink subscribes to every booking topic and logs each event until ctx
// is cancelled. Downstream notification services consume the same topics.
func RunLogSink(ctx context.Context, subscriber message.Subscriber, logger *logrus.Logger) error {
	for _, topic := range AllTopics {
		messages, err := subscriber.Subscribe(ctx, string(topic))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		go func(topic EventType, messages <-chan *message.Message) {
			for msg := range messages {
				var event BookingEvent
				if err := json.Unmarshal(msg.Payload, &event); err != nil {
					logger.WithError(err).WithField("topic", topic).Warn("Dropping malformed booking event")
					msg.Ack()
					continue
				}
				logger.WithFields(logrus.Fields{
					"topic":       topic,
					"booking_id":  event.BookingID,
					"status":      event.Status,
					"ticket_code": event.TicketCode,
				}).Info("Booking event")
				msg.Ack()
			}
		}(topic, messages)
	}
	return nil
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, EventType, *models.Booking) {}
