package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/config"
	"github.com/stackin/escrow/internal/events"
	"github.com/stackin/escrow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg events.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n events.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestOutboxRowsAreInvisibleWhenTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: clock.SystemClock{}})

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.PublishTx(ctx, tx, events.Event{
			Type:          events.EventPaymentReleased,
			AggregateType: events.AggregatePayment,
			AggregateID:   node.Generate(),
			Payload:       map[string]any{"payment_id": "1"},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), testutil.Count(t, db, "outbox_events", ""))
}

func TestOutboxDedupeKeyCollapsesRepeats(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: clock.SystemClock{}})

	paymentID := node.Generate()
	for i := 0; i < 2; i++ {
		require.NoError(t, outbox.PublishTx(ctx, db, events.Event{
			Type:          events.EventPaymentHeld,
			AggregateType: events.AggregatePayment,
			AggregateID:   paymentID,
			Payload:       map[string]any{"payment_id": paymentID.String()},
			DedupeKey:     "payment.held:" + paymentID.String(),
		}))
	}
	assert.Equal(t, int64(1), testutil.Count(t, db, "outbox_events", ""))

	err := outbox.PublishTx(ctx, db, events.Event{Type: "", AggregateID: paymentID})
	assert.ErrorIs(t, err, events.ErrInvalidEvent)
}

func TestRelayPublishesAndMarksRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: clk})

	paymentID := node.Generate()
	require.NoError(t, outbox.PublishTx(ctx, db, events.Event{
		Type:          events.EventPaymentReleased,
		AggregateType: events.AggregatePayment,
		AggregateID:   paymentID,
		Payload:       map[string]any{"payment_id": paymentID.String(), "task_id": "42"},
	}))

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(msg events.Message) bool {
		var p events.PaymentEventPayload
		return msg.Topic == events.EventPaymentReleased && msg.Decode(&p) == nil && p.TaskID == "42"
	})).Return(nil).Once()

	relay := events.NewRelay(events.RelayParams{DB: db, Log: zap.NewNop(), Clock: clk, Publisher: pub})
	delivered, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	pub.AssertExpectations(t)

	assert.Equal(t, int64(0), testutil.Count(t, db, "outbox_events", "published_at IS NULL"))

	delivered, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestRelayKeepsRowPendingWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: clock.SystemClock{}})

	require.NoError(t, outbox.PublishTx(ctx, db, events.Event{
		Type:          events.EventPaymentRefunded,
		AggregateType: events.AggregatePayment,
		AggregateID:   node.Generate(),
		Payload:       map[string]any{},
	}))

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	relay := events.NewRelay(events.RelayParams{DB: db, Log: zap.NewNop(), Clock: clock.SystemClock{}, Publisher: pub})
	delivered, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	var row events.OutboxRecord
	require.NoError(t, db.First(&row).Error)
	assert.Nil(t, row.PublishedAt)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "redis down", *row.LastError)
}

func TestNotificationSinkNotifiesClientAndWorker(t *testing.T) {
	ctx := context.Background()
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n events.Notification) bool {
		return n.UserID == "7" && n.Title == "Payment released"
	})).Return(nil).Once()
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n events.Notification) bool {
		return n.UserID == "9" && n.Type == events.NotificationTypePayment
	})).Return(errors.New("queue full")).Once()

	sink := events.NewNotificationSink(notifier, zap.NewNop())
	err := sink.Publish(ctx, events.Message{
		ID:      "evt_1",
		Topic:   events.EventPaymentReleased,
		Payload: []byte(`{"payment_id":"1","task_id":"42","client_id":"7","worker_id":"9","amount":"100.00","currency":"VND"}`),
	})

	assert.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestNotificationSinkIgnoresOtherTopics(t *testing.T) {
	notifier := &mockNotifier{}
	sink := events.NewNotificationSink(notifier, zap.NewNop())

	err := sink.Publish(context.Background(), events.Message{Topic: events.EventIntentStatusChanged, Payload: []byte(`{}`)})
	assert.NoError(t, err)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestFanoutSkipsFollowersWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := &mockPublisher{}
	primary.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()
	primary.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	follower := &mockPublisher{}
	follower.On("Publish", mock.Anything, mock.Anything).Return(nil)

	fanout := events.NewFanout(zap.NewNop(), primary, nil, follower)

	err := fanout.Publish(ctx, events.Message{ID: "evt_1", Topic: events.EventPaymentReleased})
	assert.EqualError(t, err, "redis down")
	follower.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)

	require.NoError(t, fanout.Publish(ctx, events.Message{ID: "evt_1", Topic: events.EventPaymentReleased}))
	follower.AssertNumberOfCalls(t, "Publish", 1)
	primary.AssertExpectations(t)
}

func TestFanoutIgnoresFollowerFailures(t *testing.T) {
	primary := &mockPublisher{}
	primary.On("Publish", mock.Anything, mock.Anything).Return(nil)
	bad := &mockPublisher{}
	bad.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nope"))
	good := &mockPublisher{}
	good.On("Publish", mock.Anything, mock.Anything).Return(nil)

	err := events.NewFanout(zap.NewNop(), primary, bad, good).Publish(context.Background(), events.Message{Topic: "x"})
	assert.NoError(t, err)
	good.AssertNumberOfCalls(t, "Publish", 1)
}

func TestFanoutWithoutPrimaryRunsFollowers(t *testing.T) {
	follower := &mockPublisher{}
	follower.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	err := events.NewFanout(zap.NewNop(), events.NewRedisPublisher(nil), follower).Publish(context.Background(), events.Message{Topic: "x"})
	assert.NoError(t, err)
	follower.AssertExpectations(t)
}

func TestRelayRetriedRowNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: clock.SystemClock{}})

	require.NoError(t, outbox.PublishTx(ctx, db, events.Event{
		Type:          events.EventPaymentReleased,
		AggregateType: events.AggregatePayment,
		AggregateID:   node.Generate(),
		Payload: map[string]any{
			"payment_id": "1",
			"task_id":    "42",
			"client_id":  "7",
			"worker_id":  "9",
			"amount":     "100.00",
			"currency":   "VND",
		},
	}))

	primary := &mockPublisher{}
	primary.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()
	primary.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	relay := events.NewRelay(events.RelayParams{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clock.SystemClock{},
		Publisher: events.NewFanout(zap.NewNop(), primary, events.NewNotificationSink(notifier, zap.NewNop())),
	})

	delivered, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)

	delivered, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	notifier.AssertNumberOfCalls(t, "Notify", 2)

	delivered, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestRelayStopsClaimingRowAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: clock.SystemClock{}})

	require.NoError(t, outbox.PublishTx(ctx, db, events.Event{
		Type:          events.EventPaymentHeld,
		AggregateType: events.AggregatePayment,
		AggregateID:   node.Generate(),
		Payload:       map[string]any{},
	}))

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("poison"))

	relay := events.NewRelay(events.RelayParams{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clock.SystemClock{},
		Publisher: pub,
		Cfg:       config.Config{OutboxMaxAttempts: 2},
	})
	for i := 0; i < 4; i++ {
		_, err := relay.RunOnce(ctx)
		require.NoError(t, err)
	}

	pub.AssertNumberOfCalls(t, "Publish", 2)
	var row events.OutboxRecord
	require.NoError(t, db.First(&row).Error)
	assert.Nil(t, row.PublishedAt)
	assert.Equal(t, 2, row.Attempts)
}
