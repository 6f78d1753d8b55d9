package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/warranty-desk/internal/model"
)

type stubSender struct {
	mu    sync.Mutex
	errs  []error
	sent  []Event
	calls int
}

func (s *stubSender) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.sent = append(s.sent, ev)
	return nil
}

type memOutbox struct {
	mu    sync.Mutex
	items map[string]model.Notification
}

func newMemOutbox() *memOutbox {
	return &memOutbox{items: make(map[string]model.Notification)}
}

func (o *memOutbox) EnqueueNotification(_ context.Context, n model.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[n.ID] = n
	return nil
}

func (o *memOutbox) DueNotifications(_ context.Context, now time.Time, limit int) ([]model.Notification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.Notification
	for _, n := range o.items {
		if n.SentAt == nil && !n.NextAttemptAt.IsZero() && !n.NextAttemptAt.After(now) && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (o *memOutbox) MarkNotificationSent(_ context.Context, id string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.items[id]
	n.SentAt = &at
	o.items[id] = n
	return nil
}

func (o *memOutbox) MarkNotificationFailed(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.items[id]
	n.Attempts = attempts
	n.NextAttemptAt = next
	n.LastError = lastErr
	o.items[id] = n
	return nil
}

func (o *memOutbox) get(id string) model.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items[id]
}

func TestNotifyDelivers(t *testing.T) {
	sender := &stubSender{}
	outbox := newMemOutbox()
	d := NewDispatcher(sender, outbox, zap.NewNop())

	ev := NewEvent(KindClaimFiled, "a@example.com", "Claim CCP000001", map[string]string{"claim_id": "CCP000001"})
	require.NoError(t, d.Notify(context.Background(), ev))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, ev.ID, sender.sent[0].ID)
	assert.Empty(t, outbox.items)
}

func TestNotifyFailureIsQueued(t *testing.T) {
	sender := &stubSender{errs: []error{errors.New("smtp down")}}
	outbox := newMemOutbox()
	d := NewDispatcher(sender, outbox, zap.NewNop())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	ev := NewEvent(KindAppointmentBooked, "b@example.com", "Booked", nil)
	err := d.Notify(context.Background(), ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.KindDeliveryFailed)

	queued := outbox.get(ev.ID)
	assert.Equal(t, 1, queued.Attempts)
	assert.Equal(t, "smtp down", queued.LastError)
	assert.Equal(t, now.Add(30*time.Second), queued.NextAttemptAt)
}

func TestNotifyWithoutRecipient(t *testing.T) {
	d := NewDispatcher(&stubSender{}, nil, nil)
	err := d.Notify(context.Background(), NewEvent(KindClaimFiled, "", "x", nil))
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.ErrorIs(t, err, model.KindDeliveryFailed)
}

func TestProcessRetryBatch(t *testing.T) {
	sender := &stubSender{errs: []error{errors.New("first"), errors.New("second"), nil}}
	outbox := newMemOutbox()
	d := NewDispatcher(sender, outbox, zap.NewNop())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	ev := NewEvent(KindClaimStatusChanged, "c@example.com", "Status", nil)
	require.Error(t, d.Notify(ctx, ev))

	now = now.Add(time.Minute)
	d.processRetryBatch(ctx)
	failed := outbox.get(ev.ID)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, "second", failed.LastError)
	assert.Nil(t, failed.SentAt)

	now = failed.NextAttemptAt
	d.processRetryBatch(ctx)
	sent := outbox.get(ev.ID)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, 3, sender.calls)
}

func TestProcessRetryBatchDropsAfterMaxAttempts(t *testing.T) {
	sender := &stubSender{}
	outbox := newMemOutbox()
	d := NewDispatcher(sender, outbox, zap.NewNop())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	require.NoError(t, outbox.EnqueueNotification(context.Background(), model.Notification{
		ID: "n1", Kind: string(KindClaimFiled), Recipient: "d@example.com",
		Attempts: DefaultMaxAttempts - 1, NextAttemptAt: now,
	}))
	sender.errs = []error{errors.New("still down")}

	d.processRetryBatch(context.Background())
	dropped := outbox.get("n1")
	assert.Equal(t, DefaultMaxAttempts, dropped.Attempts)
	assert.True(t, dropped.NextAttemptAt.IsZero())

	d.processRetryBatch(context.Background())
	assert.Equal(t, 1, sender.calls)
}

func TestBuildMessage(t *testing.T) {
	ev := Event{
		ID:        "0b6f3c1e-1",
		Kind:      KindClaimFiled,
		Recipient: "e@example.com",
		Subject:   "Claim CCP000003 filed",
		Payload:   map[string]string{"claim_id": "CCP000003", "damage_type": "<water>"},
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	msg, err := BuildMessage("desk@example.com", ev)
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "To: e@example.com\r\n")
	assert.Contains(t, s, "Content-Type: text/html")
	assert.Contains(t, s, "Claim Id")
	assert.Contains(t, s, "&lt;water&gt;")
	assert.Less(t, strings.Index(s, "Claim Id"), strings.Index(s, "Damage Type"))
}

func TestSMTPSender(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:587", Username: "u", Password: "p", From: "desk@example.com"})
	var gotAddr string
	var gotTo []string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo = addr, to
		if a == nil {
			t.Fatal("expected auth")
		}
		return nil
	}

	require.NoError(t, s.Send(context.Background(), NewEvent(KindWarrantyCancelled, "f@example.com", "Cancelled", nil)))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"f@example.com"}, gotTo)

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.Error(t, s.Send(context.Background(), NewEvent(KindWarrantyCancelled, "f@example.com", "Cancelled", nil)))
}
