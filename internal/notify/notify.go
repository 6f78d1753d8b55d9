// Package notify доставляет уведомления клиентам и повторяет неудачные отправки.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/warranty-desk/internal/metrics"
	"github.com/mmeshcher/warranty-desk/internal/model"
)

// Kind: вид уведомления.
type Kind string

const (
	KindClaimFiled             Kind = "claim_filed"
	KindClaimStatusChanged     Kind = "claim_status_changed"
	KindAppointmentBooked      Kind = "appointment_booked"
	KindAppointmentCancelled   Kind = "appointment_cancelled"
	KindAppointmentRescheduled Kind = "appointment_rescheduled"
	KindPurchaseConfirmation   Kind = "purchase_confirmation"
	KindWarrantyCancelled      Kind = "warranty_cancelled"
)

// DefaultMaxAttempts: число попыток доставки, после которого уведомление отбрасывается.
const DefaultMaxAttempts = 5

// ErrNoRecipient возвращается для события без адреса получателя.
var ErrNoRecipient = errors.New("notification has no recipient")

// Event: уведомление к отправке.
type Event struct {
	ID        string
	Kind      Kind
	Recipient string
	Subject   string
	Payload   map[string]string
	CreatedAt time.Time
}

// NewEvent создаёт событие с новым идентификатором.
func NewEvent(kind Kind, recipient, subject string, payload map[string]string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Recipient: recipient,
		Subject:   subject,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func eventFromNotification(n model.Notification) Event {
	return Event{
		ID:        n.ID,
		Kind:      Kind(n.Kind),
		Recipient: n.Recipient,
		Subject:   n.Subject,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt,
	}
}

// Sender отправляет одно уведомление.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// Outbox хранит неотправленные уведомления до повторной попытки.
type Outbox interface {
	EnqueueNotification(ctx context.Context, n model.Notification) error
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
}

// Dispatcher отправляет уведомления. Ошибка доставки не прерывает бизнес-операцию:
// событие кладётся в outbox и повторяется в фоне.
type Dispatcher struct {
	sender      Sender
	outbox      Outbox
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
	interval    time.Duration
	now         func() time.Time
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(sender Sender, outbox Outbox, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:      sender,
		outbox:      outbox,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		backoff:     30 * time.Second,
		interval:    5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Notify отправляет событие. При неудаче событие сохраняется для повтора, а
// возвращаемая ошибка оборачивает model.KindDeliveryFailed.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) error {
	if ev.Recipient == "" {
		return fmt.Errorf("%w: %w", model.KindDeliveryFailed, ErrNoRecipient)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	err := d.sender.Send(ctx, ev)
	if err == nil {
		metrics.Notifications.WithLabelValues(string(ev.Kind), "sent").Inc()
		return nil
	}

	metrics.Notifications.WithLabelValues(string(ev.Kind), "failed").Inc()
	d.logger.Warn("notification delivery failed",
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("recipient", ev.Recipient),
		zap.Error(err),
	)

	if d.outbox != nil {
		now := d.now()
		n := model.Notification{
			ID:            ev.ID,
			Kind:          string(ev.Kind),
			Recipient:     ev.Recipient,
			Subject:       ev.Subject,
			Payload:       ev.Payload,
			Attempts:      1,
			LastError:     err.Error(),
			NextAttemptAt: now.Add(d.backoff),
			CreatedAt:     now,
		}
		if qErr := d.outbox.EnqueueNotification(ctx, n); qErr != nil {
			d.logger.Error("enqueue notification for retry", zap.String("event_id", ev.ID), zap.Error(qErr))
		}
	}
	return fmt.Errorf("%w: %w", model.KindDeliveryFailed, err)
}

// StartRetries запускает фоновый повтор неотправленных уведомлений.
func (d *Dispatcher) StartRetries(ctx context.Context) {
	if d.outbox == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.processRetryBatch(ctx)
			}
		}
	}()
}

func (d *Dispatcher) processRetryBatch(ctx context.Context) {
	due, err := d.outbox.DueNotifications(ctx, d.now(), 50)
	if err != nil {
		d.logger.Error("load due notifications", zap.Error(err))
		return
	}

	for _, n := range due {
		if ctx.Err() != nil {
			return
		}
		ev := eventFromNotification(n)
		sendErr := d.sender.Send(ctx, ev)
		now := d.now()
		if sendErr == nil {
			metrics.Notifications.WithLabelValues(n.Kind, "retried").Inc()
			if err := d.outbox.MarkNotificationSent(ctx, n.ID, now); err != nil {
				d.logger.Error("mark notification sent", zap.String("event_id", n.ID), zap.Error(err))
			}
			continue
		}

		attempts := n.Attempts + 1
		next := now.Add(d.backoff * time.Duration(1<<min(attempts-1, 6)))
		if attempts >= d.maxAttempts {
			metrics.Notifications.WithLabelValues(n.Kind, "dropped").Inc()
			d.logger.Error("notification dropped after max attempts",
				zap.String("event_id", n.ID),
				zap.String("kind", n.Kind),
				zap.Int("attempts", attempts),
				zap.Error(sendErr),
			)
			next = time.Time{}
		}
		if err := d.outbox.MarkNotificationFailed(ctx, n.ID, attempts, next, sendErr.Error()); err != nil {
			d.logger.Error("mark notification failed", zap.String("event_id", n.ID), zap.Error(err))
		}
	}
}
