package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/testutil"
	"github.com/stackin/escrow/internal/wallet/domain"
	"github.com/stackin/escrow/internal/wallet/repository"
	"github.com/stackin/escrow/internal/wallet/service"
	"github.com/stackin/escrow/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	workerID = snowflake.ID(9)
	adminID  = snowflake.ID(1)
)

// lockRecorder wraps the real repository and records the order wallets are locked.
type lockRecorder struct {
	domain.Repository
	mu    sync.Mutex
	order []string
}

func (r *lockRecorder) LockOwnerWallet(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (*domain.Wallet, error) {
	r.mu.Lock()
	r.order = append(r.order, "owner:"+ownerID.String())
	r.mu.Unlock()
	return r.Repository.LockOwnerWallet(ctx, db, ownerID)
}

func (r *lockRecorder) LockPlatformWallet(ctx context.Context, db *gorm.DB) (*domain.Wallet, error) {
	r.mu.Lock()
	r.order = append(r.order, "platform")
	r.mu.Unlock()
	return r.Repository.LockPlatformWallet(ctx, db)
}

type fixture struct {
	db   *gorm.DB
	repo *lockRecorder
	svc  domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	enforcer, err := authorization.NewMemoryEnforcer(adminID.String())
	require.NoError(t, err)

	for _, id := range []snowflake.ID{1, 2, 3, 4, 5, 6, 7, 8, 42} {
		testutil.SeedTask(t, db, testutil.TaskRow{ID: id, ClientID: 7})
	}

	repo := &lockRecorder{Repository: repository.Provide()}
	svc := service.NewService(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clock.SystemClock{},
		Repo:  repo,
		Authz: authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
	})
	return fixture{db: db, repo: repo, svc: svc}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f fixture) release(t *testing.T, in domain.ReleaseInput) (domain.ReleaseResult, error) {
	t.Helper()
	var result domain.ReleaseResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.svc.ApplyEscrowRelease(context.Background(), tx, in)
		return err
	})
	return result, err
}

func TestApplyEscrowReleaseCreditsWorkerThenPlatform(t *testing.T) {
	f := newFixture(t)

	result, err := f.release(t, domain.ReleaseInput{
		TaskID:    42,
		WorkerID:  workerID,
		Amount:    dec("100.00"),
		FeeAmount: dec("10.00"),
		Currency:  "VND",
	})
	require.NoError(t, err)

	assert.True(t, dec("90.00").Equal(result.NetToWorker))
	assert.True(t, result.NetToWorker.Add(result.FeeAmount).Equal(dec("100.00")))
	assert.Equal(t, []string{"owner:9", "platform"}, f.repo.order)

	worker, err := f.svc.GetWallet(context.Background(), workerID)
	require.NoError(t, err)
	assert.True(t, dec("90.00").Equal(worker.AvailableBalance))

	var platform domain.Wallet
	require.NoError(t, f.db.Where("is_platform = ?", true).Take(&platform).Error)
	assert.True(t, dec("10.00").Equal(platform.AvailableBalance))
	assert.Equal(t, result.PlatformWalletID, platform.ID)

	var entries []domain.Transaction
	require.NoError(t, f.db.Order("created_at asc, id asc").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryEscrowRelease, entries[0].Type)
	assert.Equal(t, "Release from task #42", entries[0].Memo)
	assert.Equal(t, domain.EntryPlatformFee, entries[1].Type)
	assert.Equal(t, "Platform fee for task #42", entries[1].Memo)
}

func TestApplyEscrowReleaseWithoutFeeSkipsPlatform(t *testing.T) {
	f := newFixture(t)

	result, err := f.release(t, domain.ReleaseInput{TaskID: 1, WorkerID: workerID, Amount: dec("50.55"), FeeAmount: decimal.Zero})
	require.NoError(t, err)
	assert.True(t, dec("50.55").Equal(result.NetToWorker))
	assert.Zero(t, result.PlatformWalletID)
	assert.Equal(t, []string{"owner:9"}, f.repo.order)
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "wallets", "is_platform = ?", true))
}

func TestApplyEscrowReleaseRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.release(t, domain.ReleaseInput{TaskID: 1, WorkerID: workerID, Amount: dec("5"), FeeAmount: dec("5.01")})
	assert.ErrorIs(t, err, domain.ErrNegativeNet)

	_, err = f.release(t, domain.ReleaseInput{TaskID: 1, Amount: dec("5")})
	assert.ErrorIs(t, err, domain.ErrMissingWorker)

	assert.Equal(t, int64(0), testutil.Count(t, f.db, "wallets", ""))
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "wallet_transactions", ""))
}

func TestApplyEscrowReleaseRollsBackWithCaller(t *testing.T) {
	f := newFixture(t)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.svc.ApplyEscrowRelease(context.Background(), tx, domain.ReleaseInput{
			TaskID: 1, WorkerID: workerID, Amount: dec("10"), FeeAmount: dec("1"),
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "wallet_transactions", ""))
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "wallets", ""))
}

func TestConcurrentReleasesKeepBalanceEqualToJournal(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(task int64) {
			defer wg.Done()
			_, err := f.release(t, domain.ReleaseInput{
				TaskID:    snowflake.ID(task),
				WorkerID:  workerID,
				Amount:    dec("33.33"),
				FeeAmount: dec("3.33"),
			})
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	worker, err := f.svc.GetWallet(context.Background(), workerID)
	require.NoError(t, err)
	assert.True(t, dec("240.00").Equal(worker.AvailableBalance), worker.AvailableBalance.String())

	admin := authorization.Actor{UserID: adminID}
	rec, err := f.svc.Reconcile(context.Background(), worker.ID.String(), admin)
	require.NoError(t, err)
	assert.True(t, rec.Balanced)
	assert.Equal(t, 8, rec.Entries)
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "wallets", "is_platform = ?", true))
}

func TestReconcileDetectsDrift(t *testing.T) {
	f := newFixture(t)
	_, err := f.release(t, domain.ReleaseInput{TaskID: 1, WorkerID: workerID, Amount: dec("10"), FeeAmount: decimal.Zero})
	require.NoError(t, err)

	worker, err := f.svc.GetWallet(context.Background(), workerID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&domain.Wallet{}).Where("id = ?", worker.ID).Update("available_balance", "11.00").Error)

	rec, err := f.svc.Reconcile(context.Background(), worker.ID.String(), authorization.Actor{UserID: adminID})
	require.NoError(t, err)
	assert.False(t, rec.Balanced)
	assert.True(t, dec("10").Equal(rec.JournalSum))

	_, err = f.svc.Reconcile(context.Background(), worker.ID.String(), authorization.Actor{UserID: workerID})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Reconcile(context.Background(), "999", authorization.Actor{UserID: adminID})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListTransactionsPages(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		_, err := f.release(t, domain.ReleaseInput{TaskID: snowflake.ID(i), WorkerID: workerID, Amount: dec("1"), FeeAmount: decimal.Zero})
		require.NoError(t, err)
	}
	worker, err := f.svc.GetWallet(context.Background(), workerID)
	require.NoError(t, err)

	first, err := f.svc.ListTransactions(context.Background(), worker.ID, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, first.Transactions, 2)
	assert.True(t, first.HasMore)

	second, err := f.svc.ListTransactions(context.Background(), worker.ID, pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, second.Transactions, 1)
	assert.False(t, second.HasMore)
	assert.NotEqual(t, first.Transactions[0].ID, second.Transactions[0].ID)

	_, err = f.svc.GetWallet(context.Background(), snowflake.ID(12345))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
