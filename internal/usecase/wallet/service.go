package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escrow-service/internal/domain"
	"escrow-service/internal/rails"
	"escrow-service/internal/repository"
	"escrow-service/internal/usecase/transaction"
	"escrow-service/pkg/id"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const balanceCacheTTL = 30 * time.Second

// Service is the wallet ledger. Balance mutation happens only through the
// repository's atomic operations; every mutation that external callers can
// reach leaves a journal row behind.
type Service struct {
	repo     repository.WalletRepository
	journal  *transaction.Service
	rail     rails.Provider
	Notifier *Notifier
	cache    *redis.Client
	log      *zap.SugaredLogger

	mu        sync.Mutex
	railLocks map[string]*sync.Mutex
}

func New(
	repo repository.WalletRepository,
	journal *transaction.Service,
	rail rails.Provider,
	notifier *Notifier,
	cache *redis.Client,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		repo:      repo,
		journal:   journal,
		rail:      rail,
		Notifier:  notifier,
		cache:     cache,
		log:       log,
		railLocks: make(map[string]*sync.Mutex),
	}
}

// lockRef serializes settlement callbacks for one provider ref. A duplicate
// delivery waits here and then observes the terminal row instead of racing the
// balance mutation.
func (s *Service) lockRef(providerRef string) func() {
	s.mu.Lock()
	l, ok := s.railLocks[providerRef]
	if !ok {
		l = &sync.Mutex{}
		s.railLocks[providerRef] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Open creates a wallet. Escrow wallets need a contract id and are unique per
// contract; the repository enforces the uniqueness.
func (s *Service) Open(ctx context.Context, ownerID string, kind domain.WalletKind, contractID *string) (*domain.Wallet, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", xerrors.ErrInvalidRequest)
	}
	if kind != domain.WalletKindMain && kind != domain.WalletKindEscrow {
		return nil, fmt.Errorf("%w: unknown wallet kind %q", xerrors.ErrInvalidRequest, kind)
	}
	if kind == domain.WalletKindEscrow && contractID == nil {
		return nil, fmt.Errorf("%w: escrow wallet needs a contract", xerrors.ErrInvalidRequest)
	}
	if kind == domain.WalletKindMain {
		contractID = nil
	}

	now := time.Now()
	w := &domain.Wallet{
		ID:         id.New("wlt"),
		OwnerID:    ownerID,
		Kind:       kind,
		ContractID: contractID,
		Balances:   map[string]decimal.Decimal{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// GetOrCreateMain returns the owner's MAIN wallet, opening one on first use.
func (s *Service) GetOrCreateMain(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	w, err := s.repo.GetMainByOwner(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	return s.Open(ctx, ownerID, domain.WalletKindMain, nil)
}

func (s *Service) Get(ctx context.Context, walletID string) (*domain.Wallet, error) {
	return s.repo.GetByID(ctx, walletID)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Balance reads one balance, via the cache when one is wired.
func (s *Service) Balance(ctx context.Context, walletID, currency string) (decimal.Decimal, error) {
	cacheKey := fmt.Sprintf("balance:wallet:%s:%s", walletID, currency)
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			if d, err := decimal.NewFromString(val); err == nil {
				return d, nil
			}
		}
	}

	w, err := s.repo.GetByID(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := w.Balance(currency)

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, balance.String(), balanceCacheTTL).Err()
	}
	return balance, nil
}

// Credit increases one balance. Ledger primitive: no journal row here; callers
// that represent a business event record one themselves.
func (s *Service) Credit(ctx context.Context, walletID, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkAmount(amount, currency); err != nil {
		return decimal.Zero, err
	}
	after, err := s.repo.ApplyDelta(ctx, walletID, currency, amount, nil)
	if err != nil {
		return decimal.Zero, err
	}
	s.afterMutation(ctx, walletID, currency)
	return after, nil
}

// Debit decreases one balance, failing with ErrInsufficientFunds before any
// mutation when the balance is short.
func (s *Service) Debit(ctx context.Context, walletID, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkAmount(amount, currency); err != nil {
		return decimal.Zero, err
	}
	after, err := s.repo.ApplyDelta(ctx, walletID, currency, amount.Neg(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	s.afterMutation(ctx, walletID, currency)
	return after, nil
}

// Transfer moves funds between two real wallets as one atomic unit and records
// a COMPLETED journal row.
func (s *Service) Transfer(ctx context.Context, fromID, toID, currency string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	if err := checkAmount(amount, currency); err != nil {
		return nil, err
	}
	if fromID == toID {
		return nil, fmt.Errorf("%w: cannot transfer a wallet to itself", xerrors.ErrInvalidRequest)
	}

	from, err := s.repo.GetByID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.repo.GetByID(ctx, toID)
	if err != nil {
		return nil, err
	}

	t, err := s.journal.Prepare(&domain.Transaction{
		FromWalletID: &fromID,
		ToWalletID:   &toID,
		FromOwnerID:  &from.OwnerID,
		ToOwnerID:    &to.OwnerID,
		Amount:       amount,
		Currency:     currency,
		Kind:         domain.TxKindTransfer,
		Status:       domain.TxStatusCompleted,
		Description:  description,
	})
	if err != nil {
		return nil, err
	}

	// Deltas and journal row commit as one unit; a losing concurrent transfer
	// leaves no row behind.
	if err := s.repo.ApplyTransfer(ctx, fromID, toID, currency, amount, t); err != nil {
		return nil, err
	}
	s.journal.Announce(ctx, t)

	s.afterMutation(ctx, fromID, currency)
	s.afterMutation(ctx, toID, currency)
	s.notifyOwner(ctx, from.OwnerID, fromID)
	s.notifyOwner(ctx, to.OwnerID, toID)
	return t, nil
}

// Deposit starts an external-rail top-up. The journal row stays PENDING until
// the rail calls back; only then is the wallet credited.
func (s *Service) Deposit(ctx context.Context, ownerID, currency string, amount decimal.Decimal, accountRef string) (*domain.Transaction, error) {
	if err := checkAmount(amount, currency); err != nil {
		return nil, err
	}
	w, err := s.GetOrCreateMain(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	res, err := s.rail.Deposit(ctx, rails.DepositRequest{
		OwnerID:    ownerID,
		Amount:     amount.String(),
		Currency:   currency,
		AccountRef: accountRef,
	})
	if err != nil {
		return nil, fmt.Errorf("rail deposit initiation failed: %w", err)
	}

	return s.journal.Record(ctx, &domain.Transaction{
		ToWalletID:  &w.ID,
		ToOwnerID:   &ownerID,
		Amount:      amount,
		Currency:    currency,
		Kind:        domain.TxKindDeposit,
		Status:      domain.TxStatusPending,
		ProviderRef: &res.ProviderRef,
		Description: fmt.Sprintf("deposit via %s", s.rail.Name()),
	})
}

// Withdraw reserves the funds and appends the PENDING row as one unit, so an
// overdraw fails with the balance untouched and nothing journaled. The row
// stays PENDING until the rail settles.
func (s *Service) Withdraw(ctx context.Context, walletID, currency string, amount decimal.Decimal, destination string) (*domain.Transaction, error) {
	if err := checkAmount(amount, currency); err != nil {
		return nil, err
	}
	w, err := s.repo.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.Balance(currency).LessThan(amount) {
		return nil, xerrors.ErrInsufficientFunds
	}

	res, err := s.rail.Withdraw(ctx, rails.WithdrawRequest{
		OwnerID:     w.OwnerID,
		Amount:      amount.String(),
		Currency:    currency,
		Destination: destination,
	})
	if err != nil {
		return nil, fmt.Errorf("rail withdrawal initiation failed: %w", err)
	}

	t, err := s.journal.Prepare(&domain.Transaction{
		FromWalletID: &walletID,
		FromOwnerID:  &w.OwnerID,
		Amount:       amount,
		Currency:     currency,
		Kind:         domain.TxKindWithdrawal,
		Status:       domain.TxStatusPending,
		ProviderRef:  &res.ProviderRef,
		Description:  fmt.Sprintf("withdrawal via %s", s.rail.Name()),
	})
	if err != nil {
		return nil, err
	}

	// Reservation and PENDING row commit together. If a concurrent spender
	// drained the wallet after the read above, nothing moves and the rail ref
	// simply never settles.
	if _, err := s.repo.ApplyDelta(ctx, walletID, currency, amount.Neg(), t); err != nil {
		return nil, err
	}
	s.journal.Announce(ctx, t)
	s.afterMutation(ctx, walletID, currency)
	s.notifyOwner(ctx, w.OwnerID, walletID)
	return t, nil
}

// ResolveRail applies an out-of-band settlement callback. Repeating a callback
// for an already-settled transaction with the same outcome is a no-op.
func (s *Service) ResolveRail(ctx context.Context, providerRef string, success bool, reason string) (*domain.Transaction, error) {
	unlock := s.lockRef(providerRef)
	defer unlock()

	t, err := s.journal.GetByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}

	if t.Status.Terminal() {
		completed := t.Status == domain.TxStatusCompleted
		if completed == success {
			return t, nil // idempotent repeat
		}
		return nil, xerrors.ErrTransactionFinal
	}

	switch t.Kind {
	case domain.TxKindDeposit:
		if success {
			if _, err := s.repo.ApplyDelta(ctx, *t.ToWalletID, t.Currency, t.Amount, nil); err != nil {
				return nil, err
			}
			s.afterMutation(ctx, *t.ToWalletID, t.Currency)
			if err := s.journal.Complete(ctx, t.ID); err != nil {
				return nil, err
			}
			s.notifyOwner(ctx, *t.ToOwnerID, *t.ToWalletID)
		} else {
			if err := s.journal.Fail(ctx, t.ID, reason); err != nil {
				return nil, err
			}
		}
	case domain.TxKindWithdrawal:
		if success {
			if err := s.journal.Complete(ctx, t.ID); err != nil {
				return nil, err
			}
		} else {
			// Rail bounced: un-reserve the funds, then mark the row failed.
			if _, err := s.repo.ApplyDelta(ctx, *t.FromWalletID, t.Currency, t.Amount, nil); err != nil {
				return nil, err
			}
			s.afterMutation(ctx, *t.FromWalletID, t.Currency)
			if err := s.journal.Fail(ctx, t.ID, reason); err != nil {
				return nil, err
			}
			s.notifyOwner(ctx, *t.FromOwnerID, *t.FromWalletID)
		}
	default:
		return nil, fmt.Errorf("%w: %s is not a rail transaction", xerrors.ErrInvalidRequest, t.Kind)
	}

	return s.journal.Get(ctx, t.ID)
}

func (s *Service) afterMutation(ctx context.Context, walletID, currency string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, fmt.Sprintf("balance:wallet:%s:%s", walletID, currency)).Err()
	_ = s.cache.Del(ctx, fmt.Sprintf("wallets:id:%s", walletID)).Err()
}

func (s *Service) notifyOwner(ctx context.Context, ownerID, walletID string) {
	if s.Notifier == nil {
		return
	}
	w, err := s.repo.GetByID(ctx, walletID)
	if err != nil {
		return
	}
	s.Notifier.NotifyBalance(ownerID, w)
}

func checkAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidRequest)
	}
	if currency == "" {
		return fmt.Errorf("%w: currency is required", xerrors.ErrInvalidRequest)
	}
	return nil
}
