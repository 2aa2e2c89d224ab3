package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const NotificationTypePayment = "PAYMENT"

const notificationQueue = "escrow:notifications"

// Notification is the request handed to the notification subsystem.
type Notification struct {
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	TaskID    string         `json:"task_id,omitempty"`
	PaymentID string         `json:"payment_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// PaymentEventPayload is the payload shape of payment.* outbox events.
type PaymentEventPayload struct {
	PaymentID string `json:"payment_id"`
	TaskID    string `json:"task_id"`
	ClientID  string `json:"client_id"`
	WorkerID  string `json:"worker_id,omitempty"`
	Amount    string `json:"amount"`
	FeeAmount string `json:"platform_fee_amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// NotificationSink turns payment events into user notifications. Delivery is
// fire-and-forget: failures are logged and never reported to the relay.
type NotificationSink struct {
	notifier Notifier
	log      *zap.Logger
}

func NewNotificationSink(notifier Notifier, log *zap.Logger) *NotificationSink {
	return &NotificationSink{notifier: notifier, log: log.Named("events.notifications")}
}

func (s *NotificationSink) Publish(ctx context.Context, msg Message) error {
	notes, err := notificationsFor(msg)
	if err != nil {
		s.log.Warn("undecodable payment event", zap.String("event_id", msg.ID), zap.Error(err))
		return nil
	}
	for _, n := range notes {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn("notification dropped",
				zap.String("event_id", msg.ID),
				zap.String("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func notificationsFor(msg Message) ([]Notification, error) {
	switch msg.Topic {
	case EventPaymentHeld, EventPaymentReleased, EventPaymentRefunded:
	default:
		return nil, nil
	}

	var p PaymentEventPayload
	if err := msg.Decode(&p); err != nil {
		return nil, err
	}
	meta := map[string]any{
		"amount":   p.Amount,
		"currency": p.Currency,
		"event_id": msg.ID,
	}
	note := func(userID, title, body string) Notification {
		return Notification{
			UserID:    userID,
			Type:      NotificationTypePayment,
			Title:     title,
			Message:   body,
			TaskID:    p.TaskID,
			PaymentID: p.PaymentID,
			Metadata:  meta,
		}
	}

	var out []Notification
	switch msg.Topic {
	case EventPaymentHeld:
		out = append(out, note(p.ClientID, "Payment held",
			fmt.Sprintf("Your payment of %s %s for task #%s is held in escrow.", p.Amount, p.Currency, p.TaskID)))
		if p.WorkerID != "" {
			out = append(out, note(p.WorkerID, "Task funded",
				fmt.Sprintf("Task #%s is funded. You will be paid on completion.", p.TaskID)))
		}
	case EventPaymentReleased:
		out = append(out, note(p.ClientID, "Payment released",
			fmt.Sprintf("Payment for task #%s was released to the worker.", p.TaskID)))
		if p.WorkerID != "" {
			out = append(out, note(p.WorkerID, "You got paid",
				fmt.Sprintf("Funds for task #%s were added to your wallet.", p.TaskID)))
		}
	case EventPaymentRefunded:
		out = append(out, note(p.ClientID, "Payment refunded",
			fmt.Sprintf("Your payment for task #%s was refunded.", p.TaskID)))
		if p.WorkerID != "" {
			out = append(out, note(p.WorkerID, "Payment refunded",
				fmt.Sprintf("The payment for task #%s was refunded to the client.", p.TaskID)))
		}
	}
	return out, nil
}

// RedisNotifier enqueues notifications for the notification worker.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return n.client.RPush(ctx, notificationQueue, body).Err()
}

// LogNotifier writes notifications to the log when no queue is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("events.notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.log.Info("notification",
		zap.String("user_id", strings.TrimSpace(note.UserID)),
		zap.String("type", note.Type),
		zap.String("title", note.Title),
		zap.String("task_id", note.TaskID),
		zap.String("payment_id", note.PaymentID),
	)
	return nil
}
