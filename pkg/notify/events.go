package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/config"
	"github.com/segmentio/kafka-go"
)

const (
	EventReferralCreated       = "referral.created"
	EventConsultationSubmitted = "referral.consultation_submitted"
)

// Event is the JSON payload published for each lifecycle notification.
type Event struct {
	Type           string    `json:"type"`
	ReferralID     string    `json:"referral_id"`
	RecipientEmail string    `json:"recipient_email"`
	Urgency        string    `json:"urgency,omitempty"`
	Status         string    `json:"status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventNotifier publishes lifecycle events to Kafka, keyed by referral id so
// every event of one referral lands on the same partition.
type EventNotifier struct {
	writer messageWriter
	now    func() time.Time
}

func NewEventNotifier(cfg config.KafkaConfig) *EventNotifier {
	return &EventNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

func (n *EventNotifier) NotifyReferralCreated(ctx context.Context, rn ReferralNotice) error {
	return n.publish(ctx, Event{
		Type:           EventReferralCreated,
		ReferralID:     rn.ReferralID,
		RecipientEmail: rn.RecipientEmail,
		Urgency:        rn.Urgency,
		Status:         "Pending",
	})
}

func (n *EventNotifier) NotifyConsultationSubmitted(ctx context.Context, cn ConsultationNotice) error {
	return n.publish(ctx, Event{
		Type:           EventConsultationSubmitted,
		ReferralID:     cn.ReferralID,
		RecipientEmail: cn.RecipientEmail,
		Status:         cn.Status,
	})
}

func (n *EventNotifier) publish(ctx context.Context, e Event) error {
	e.OccurredAt = n.now().UTC()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ReferralID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing %s event: %w", e.Type, err)
	}
	return nil
}

func (n *EventNotifier) Close() error {
	return n.writer.Close()
}
