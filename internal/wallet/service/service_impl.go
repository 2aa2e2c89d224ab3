package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/money"
	"github.com/stackin/escrow/internal/observability/metrics"
	"github.com/stackin/escrow/internal/wallet/domain"
	"github.com/stackin/escrow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Authz   authorization.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	authz   authorization.Service
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("wallet.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		authz:   p.Authz,
		metrics: p.Metrics,
	}
}

func (s *Service) ApplyEscrowRelease(ctx context.Context, tx *gorm.DB, in domain.ReleaseInput) (domain.ReleaseResult, error) {
	if in.WorkerID == 0 {
		return domain.ReleaseResult{}, domain.ErrMissingWorker
	}
	if in.Amount.IsNegative() || in.FeeAmount.IsNegative() {
		return domain.ReleaseResult{}, domain.ErrInvalidAmount
	}

	fee := money.Round2(in.FeeAmount)
	net := money.Round2(in.Amount.Sub(fee))
	if net.IsNegative() {
		return domain.ReleaseResult{}, domain.ErrNegativeNet
	}

	now := s.clock.Now()
	result := domain.ReleaseResult{NetToWorker: net, FeeAmount: fee}

	if err := s.repo.EnsureOwnerWallet(ctx, tx, s.genID.Generate(), in.WorkerID, now); err != nil {
		return domain.ReleaseResult{}, err
	}
	worker, err := s.repo.LockOwnerWallet(ctx, tx, in.WorkerID)
	if err != nil {
		return domain.ReleaseResult{}, err
	}
	if worker == nil {
		return domain.ReleaseResult{}, domain.ErrWalletMissing
	}
	if err := s.credit(ctx, tx, worker, domain.EntryEscrowRelease, net, in, now,
		fmt.Sprintf("Release from task #%s", in.TaskID.String())); err != nil {
		return domain.ReleaseResult{}, err
	}
	result.WorkerWalletID = worker.ID

	if fee.IsPositive() {
		if err := s.repo.EnsurePlatformWallet(ctx, tx, s.genID.Generate(), now); err != nil {
			return domain.ReleaseResult{}, err
		}
		platform, err := s.repo.LockPlatformWallet(ctx, tx)
		if err != nil {
			return domain.ReleaseResult{}, err
		}
		if platform == nil {
			return domain.ReleaseResult{}, domain.ErrWalletMissing
		}
		if err := s.credit(ctx, tx, platform, domain.EntryPlatformFee, fee, in, now,
			fmt.Sprintf("Platform fee for task #%s", in.TaskID.String())); err != nil {
			return domain.ReleaseResult{}, err
		}
		result.PlatformWalletID = platform.ID
	}

	s.log.Info("escrow release credited",
		zap.String("payment_id", in.PaymentID.String()),
		zap.String("worker_wallet_id", result.WorkerWalletID.String()),
		zap.String("net_to_worker", money.String(net)),
		zap.String("platform_fee", money.String(fee)),
	)
	return result, nil
}

func (s *Service) credit(ctx context.Context, tx *gorm.DB, wallet *domain.Wallet, entry domain.EntryType, amount decimal.Decimal, in domain.ReleaseInput, now time.Time, memo string) error {
	balance := money.Round2(wallet.AvailableBalance.Add(amount))
	if err := s.repo.SetAvailableBalance(ctx, tx, wallet.ID, balance, now); err != nil {
		return err
	}

	txn := domain.Transaction{
		ID:        s.genID.Generate(),
		WalletID:  wallet.ID,
		Type:      entry,
		Amount:    amount,
		TaskID:    optionalID(in.TaskID),
		PaymentID: optionalID(in.PaymentID),
		IntentID:  optionalID(in.IntentID),
		Memo:      memo,
		CreatedAt: now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
		return err
	}

	wallet.AvailableBalance = balance
	wallet.UpdatedAt = now
	s.metrics.RecordWalletCredit(ctx, string(entry), in.Currency)
	return nil
}

func (s *Service) GetWallet(ctx context.Context, ownerID snowflake.ID) (*domain.Wallet, error) {
	if ownerID == 0 {
		return nil, domain.ErrInvalidID
	}
	wallet, err := s.repo.FindByOwner(ctx, s.db, ownerID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrNotFound
	}
	return wallet, nil
}

func (s *Service) ListTransactions(ctx context.Context, walletID snowflake.ID, page pagination.Pagination) (domain.ListTransactionsResponse, error) {
	var cursor *domain.TransactionCursor
	if strings.TrimSpace(page.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return domain.ListTransactionsResponse{}, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil || id == 0 {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		cursor = &domain.TransactionCursor{ID: id, CreatedAt: createdAt}
	}

	limit := page.Limit()
	items, err := s.repo.ListTransactions(ctx, s.db, walletID, cursor, limit)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	items, pageInfo, err := pagination.Trim(items, limit, func(item *domain.Transaction) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	out := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListTransactionsResponse{PageInfo: pageInfo, Transactions: out}, nil
}

// Reconcile compares the stored balance with the journal. Journal amounts are
// summed in Go so the check does not depend on the store's numeric type.
func (s *Service) Reconcile(ctx context.Context, walletID string, actor authorization.Actor) (domain.ReconcileResult, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectWallet, authorization.ActionWalletReconcile); err != nil {
		return domain.ReconcileResult{}, domain.ErrForbidden
	}
	id, err := snowflake.ParseString(strings.TrimSpace(walletID))
	if err != nil || id == 0 {
		return domain.ReconcileResult{}, domain.ErrInvalidID
	}

	wallet, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if wallet == nil {
		return domain.ReconcileResult{}, domain.ErrNotFound
	}

	amounts, err := s.repo.JournalAmounts(ctx, s.db, id)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	sum := decimal.Zero
	for _, amount := range amounts {
		sum = sum.Add(amount)
	}
	sum = money.Round2(sum)

	result := domain.ReconcileResult{
		WalletID:   id,
		Balance:    money.Round2(wallet.AvailableBalance),
		JournalSum: sum,
		Entries:    len(amounts),
		Balanced:   sum.Equal(wallet.AvailableBalance),
	}
	if !result.Balanced {
		s.log.Error("wallet out of balance",
			zap.String("wallet_id", id.String()),
			zap.String("available_balance", money.String(wallet.AvailableBalance)),
			zap.String("journal_sum", money.String(sum)),
		)
	}
	return result, nil
}

func optionalID(id snowflake.ID) *snowflake.ID {
	if id == 0 {
		return nil
	}
	return &id
}
