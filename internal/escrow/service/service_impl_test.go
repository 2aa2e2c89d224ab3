package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditrepo "github.com/stackin/escrow/internal/audit/repository"
	auditservice "github.com/stackin/escrow/internal/audit/service"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/config"
	"github.com/stackin/escrow/internal/escrow/domain"
	"github.com/stackin/escrow/internal/escrow/repository"
	"github.com/stackin/escrow/internal/escrow/service"
	"github.com/stackin/escrow/internal/events"
	intentdomain "github.com/stackin/escrow/internal/intent/domain"
	taskrepo "github.com/stackin/escrow/internal/task/repository"
	"github.com/stackin/escrow/internal/testutil"
	walletdomain "github.com/stackin/escrow/internal/wallet/domain"
	walletrepo "github.com/stackin/escrow/internal/wallet/repository"
	walletservice "github.com/stackin/escrow/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	adminID    = snowflake.ID(1)
	clientID   = snowflake.ID(7)
	workerID   = snowflake.ID(9)
	strangerID = snowflake.ID(55)
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	wallet walletdomain.Service
	svc    domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := fixture{
		db:    db,
		node:  testutil.NewNode(t),
		clock: clock.NewFakeClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)),
	}
	f.svc = f.service(t, "10")
	return f
}

// service builds an escrow service over the fixture's database with the given
// default fee percent.
func (f *fixture) service(t *testing.T, feePercent string) domain.Service {
	t.Helper()
	enforcer, err := authorization.NewMemoryEnforcer(adminID.String())
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	f.wallet = walletservice.NewService(walletservice.Params{
		DB:    f.db,
		Log:   zap.NewNop(),
		GenID: f.node,
		Clock: f.clock,
		Repo:  walletrepo.Provide(),
		Authz: authz,
	})

	return service.NewService(service.Params{
		DB:     f.db,
		Log:    zap.NewNop(),
		GenID:  f.node,
		Clock:  f.clock,
		Repo:   repository.Provide(),
		Wallet: f.wallet,
		Tasks:  taskrepo.Provide(),
		Authz:  authz,
		Outbox: events.NewOutbox(events.OutboxParams{GenID: f.node, Clock: f.clock}),
		Fees:   config.NewStaticFeeConfigHolder(config.FeeConfig{DefaultPercent: feePercent}),
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB:    f.db,
			Log:   zap.NewNop(),
			GenID: f.node,
			Clock: f.clock,
			Repo:  auditrepo.Provide(),
		}),
	})
}

// seedIntent stores a task and its authorized intent.
func (f fixture) seedIntent(t *testing.T, taskID snowflake.ID) *intentdomain.Intent {
	t.Helper()
	testutil.SeedTask(t, f.db, testutil.TaskRow{ID: taskID, ClientID: clientID, Title: "Assemble wardrobe"})

	now := f.clock.Now()
	intent := &intentdomain.Intent{
		ID:           f.node.Generate(),
		TaskID:       taskID,
		ClientID:     clientID,
		Amount:       decimal.RequireFromString("100.00"),
		Currency:     "VND",
		Status:       intentdomain.StatusAuthorized,
		Provider:     intentdomain.ProviderMock,
		ClientSecret: "pi_secret",
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.db.Create(intent).Error)
	return intent
}

func (f fixture) hold(t *testing.T, svc domain.Service, intent *intentdomain.Intent, worker *snowflake.ID) *domain.Payment {
	t.Helper()
	var payment *domain.Payment
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = svc.HoldForIntent(context.Background(), tx, intent, worker)
		return err
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return payment
}

func actor(id snowflake.ID) authorization.Actor {
	return authorization.Actor{UserID: id, Role: authorization.RoleUser}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func workerRef() *snowflake.ID {
	id := workerID
	return &id
}

func TestHoldThenReleaseSplitsFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.seedIntent(t, 42)

	held := f.hold(t, f.svc, intent, workerRef())
	assert.Equal(t, domain.StatusHeld, held.Status)
	assert.True(t, dec("10").Equal(held.PlatformFeePercent))
	assert.True(t, dec("10.00").Equal(held.PlatformFeeAmount))

	released, err := f.svc.Release(ctx, held.ID.String(), actor(clientID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, released.Status)

	worker, err := f.wallet.GetWallet(ctx, workerID)
	require.NoError(t, err)
	assert.True(t, dec("90.00").Equal(worker.AvailableBalance))

	var platform walletdomain.Wallet
	require.NoError(t, f.db.Where("is_platform = ?", true).Take(&platform).Error)
	assert.True(t, dec("10.00").Equal(platform.AvailableBalance))

	assert.Equal(t, int64(2), testutil.Count(t, f.db, "wallet_transactions", "payment_id = ?", held.ID))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "outbox_events", "topic = ?", events.EventPaymentHeld))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "outbox_events", "topic = ?", events.EventPaymentReleased))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "audit_logs", "action = ? AND target_id = ?", "payment.release", held.ID.String()))

	stored, err := repository.Provide().FindByID(ctx, f.db, held.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, stored.Status)
	assert.Equal(t, clientID.String(), stored.Metadata["released_by"])
}

func TestHoldForIntentKeepsFeeSnapshot(t *testing.T) {
	f := newFixture(t)
	intent := f.seedIntent(t, 42)

	first := f.hold(t, f.svc, intent, workerRef())
	again := f.hold(t, f.service(t, "25"), intent, workerRef())

	assert.Equal(t, first.ID, again.ID)
	assert.True(t, dec("10.00").Equal(again.PlatformFeeAmount))
	assert.True(t, dec("10").Equal(again.PlatformFeePercent))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "payments", "task_id = ?", 42))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "outbox_events", "topic = ?", events.EventPaymentHeld))
}

func TestReleaseWithoutWorkerLeavesPaymentHeld(t *testing.T) {
	f := newFixture(t)
	held := f.hold(t, f.svc, f.seedIntent(t, 42), nil)

	_, err := f.svc.Release(context.Background(), held.ID.String(), actor(clientID))
	require.ErrorIs(t, err, domain.ErrMissingWorker)

	stored, err := repository.Provide().FindByID(context.Background(), f.db, held.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHeld, stored.Status)
	assert.Zero(t, testutil.Count(t, f.db, "wallet_transactions", ""))
	assert.Zero(t, testutil.Count(t, f.db, "wallets", ""))
}

func TestReleaseAfterRefundIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.hold(t, f.svc, f.seedIntent(t, 42), workerRef())

	refunded, err := f.svc.Refund(ctx, held.ID.String(), actor(clientID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)

	_, err = f.svc.Release(ctx, held.ID.String(), actor(clientID))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.EqualError(t, err, "invalid transition to RELEASED (must be HELD, is REFUNDED)")

	_, err = f.svc.Refund(ctx, held.ID.String(), actor(clientID))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Zero(t, testutil.Count(t, f.db, "wallet_transactions", ""))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "outbox_events", "topic = ?", events.EventPaymentRefunded))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "audit_logs", "action = ?", "payment.refund"))
}

func TestReleaseTwiceCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.hold(t, f.svc, f.seedIntent(t, 42), workerRef())

	_, err := f.svc.Release(ctx, held.ID.String(), actor(clientID))
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, held.ID.String(), actor(clientID))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	worker, err := f.wallet.GetWallet(ctx, workerID)
	require.NoError(t, err)
	assert.True(t, dec("90.00").Equal(worker.AvailableBalance))
	assert.Equal(t, int64(2), testutil.Count(t, f.db, "wallet_transactions", ""))
}

func TestReleaseAndRefundPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.hold(t, f.svc, f.seedIntent(t, 42), workerRef())
	admin := authorization.Actor{UserID: adminID, Role: authorization.RoleAdmin}

	_, err := f.svc.Release(ctx, held.ID.String(), actor(workerID))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Release(ctx, held.ID.String(), admin)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Refund(ctx, held.ID.String(), actor(strangerID))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	refunded, err := f.svc.Refund(ctx, held.ID.String(), admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)
	assert.Equal(t, adminID.String(), refunded.Metadata["refunded_by"])
}

func TestReleaseLookupErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Release(ctx, "not-a-number", actor(clientID))
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = f.svc.Release(ctx, "123456", actor(clientID))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Refund(ctx, "0", actor(clientID))
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestGetShowsFeeBreakdownToParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.hold(t, f.svc, f.seedIntent(t, 42), workerRef())

	for _, id := range []snowflake.ID{clientID, workerID} {
		view, err := f.svc.Get(ctx, held.ID.String(), actor(id))
		require.NoError(t, err)
		assert.True(t, dec("90.00").Equal(view.NetToWorker))
		assert.Equal(t, "Assemble wardrobe", view.TaskTitle)
	}

	_, err := f.svc.Get(ctx, held.ID.String(), actor(strangerID))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	view, err := f.svc.Get(ctx, held.ID.String(), authorization.Actor{UserID: adminID, Role: authorization.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, held.ID, view.ID)
}

func TestListPagesForAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := authorization.Actor{UserID: adminID, Role: authorization.RoleAdmin}

	var ids []snowflake.ID
	for _, taskID := range []snowflake.ID{41, 42, 43} {
		ids = append(ids, f.hold(t, f.svc, f.seedIntent(t, taskID), workerRef()).ID)
	}

	_, err := f.svc.List(ctx, domain.ListRequest{Actor: actor(clientID)})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	first, err := f.svc.List(ctx, domain.ListRequest{Actor: admin, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Payments, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, ids[2], first.Payments[0].ID)
	assert.Equal(t, ids[1], first.Payments[1].ID)

	second, err := f.svc.List(ctx, domain.ListRequest{Actor: admin, PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Payments, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, ids[0], second.Payments[0].ID)

	_, err = f.svc.Refund(ctx, ids[0].String(), admin)
	require.NoError(t, err)
	refunded, err := f.svc.List(ctx, domain.ListRequest{Actor: admin, Status: "refunded"})
	require.NoError(t, err)
	require.Len(t, refunded.Payments, 1)
	assert.Equal(t, ids[0], refunded.Payments[0].ID)

	_, err = f.svc.List(ctx, domain.ListRequest{Actor: admin, Status: "NONE"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestAssignWorkerEnablesRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.hold(t, f.svc, f.seedIntent(t, 42), nil)
	admin := authorization.Actor{UserID: adminID, Role: authorization.RoleAdmin}
	assign := func(taskID, worker string, by authorization.Actor) (*domain.Payment, error) {
		return f.svc.AssignWorker(ctx, domain.AssignWorkerRequest{TaskID: taskID, WorkerID: worker, Actor: by})
	}

	_, err := assign("42", workerID.String(), actor(clientID))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = assign("42", clientID.String(), admin)
	assert.ErrorIs(t, err, domain.ErrInvalidWorker)
	_, err = assign("42", "nope", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidWorker)

	assigned, err := assign("42", workerID.String(), admin)
	require.NoError(t, err)
	require.NotNil(t, assigned.WorkerID)
	assert.Equal(t, workerID, *assigned.WorkerID)
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "audit_logs", "action = ? AND target_id = ?", "payment.assign_worker", held.ID.String()))

	released, err := f.svc.Release(ctx, held.ID.String(), actor(clientID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, released.Status)

	_, err = assign("42", strangerID.String(), admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = assign("99", workerID.String(), admin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReleaseTakesWorkerAssignedOnTaskAfterHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.hold(t, f.svc, f.seedIntent(t, 42), nil)
	require.Nil(t, held.WorkerID)

	require.NoError(t, f.db.Exec("UPDATE tasks SET worker_id = ?, status = ? WHERE id = ?", workerID, "assigned", 42).Error)

	released, err := f.svc.Release(ctx, held.ID.String(), actor(clientID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, released.Status)
	require.NotNil(t, released.WorkerID)
	assert.Equal(t, workerID, *released.WorkerID)

	worker, err := f.wallet.GetWallet(ctx, workerID)
	require.NoError(t, err)
	assert.True(t, dec("90.00").Equal(worker.AvailableBalance))

	stored, err := repository.Provide().FindByID(ctx, f.db, held.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.WorkerID)
	assert.Equal(t, workerID, *stored.WorkerID)
}

func TestReleaseRollsBackToHeldWhenLedgerWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.hold(t, f.svc, f.seedIntent(t, 42), workerRef())

	require.NoError(t, f.db.Exec("DROP TABLE wallet_transactions").Error)

	_, err := f.svc.Release(ctx, held.ID.String(), actor(clientID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet_transactions")

	stored, err := repository.Provide().FindByID(ctx, f.db, held.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHeld, stored.Status)
	_, releasedBy := stored.Metadata["released_by"]
	assert.False(t, releasedBy)
	assert.Zero(t, testutil.Count(t, f.db, "wallets", ""))
	assert.Zero(t, testutil.Count(t, f.db, "outbox_events", "topic = ?", events.EventPaymentReleased))
	assert.Zero(t, testutil.Count(t, f.db, "audit_logs", "action = ?", "payment.release"))
}
