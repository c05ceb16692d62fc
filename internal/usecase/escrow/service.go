package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-service/internal/domain"
	"escrow-service/internal/repository"
	"escrow-service/internal/usecase/transaction"
	"escrow-service/pkg/id"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service moves funds between party wallets and a contract's escrow wallet.
// It owns no state of its own: the wallet repository holds the balances and
// the journal records every movement.
type Service struct {
	wallets repository.WalletRepository
	journal *transaction.Service
	log     *zap.SugaredLogger
}

func New(wallets repository.WalletRepository, journal *transaction.Service, log *zap.SugaredLogger) *Service {
	return &Service{wallets: wallets, journal: journal, log: log}
}

// EscrowWallet returns the contract's escrow wallet, opening it on first use.
// The wallet is owned by the buyer but only this service moves money out of it.
func (s *Service) EscrowWallet(ctx context.Context, c *domain.Contract) (*domain.Wallet, error) {
	w, err := s.wallets.GetEscrowByContract(ctx, c.ID)
	if err == nil {
		return w, nil
	}

	buyer := c.PartyByRole(domain.RoleBuyer)
	if buyer == nil {
		return nil, fmt.Errorf("%w: contract has no buyer", xerrors.ErrInvalidRequest)
	}

	now := time.Now()
	contractID := c.ID
	w = &domain.Wallet{
		ID:         id.New("wlt"),
		OwnerID:    buyer.OwnerID,
		Kind:       domain.WalletKindEscrow,
		ContractID: &contractID,
		Balances:   map[string]decimal.Decimal{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEscrowWallet) {
			return s.wallets.GetEscrowByContract(ctx, c.ID)
		}
		return nil, err
	}
	return w, nil
}

// Lock moves amount from the buyer's main wallet into the contract's escrow
// wallet and returns the escrow wallet with its balance after the move.
func (s *Service) Lock(ctx context.Context, c *domain.Contract, amount decimal.Decimal) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidRequest)
	}

	buyer := c.PartyByRole(domain.RoleBuyer)
	if buyer == nil {
		return nil, fmt.Errorf("%w: contract has no buyer", xerrors.ErrInvalidRequest)
	}
	main, err := s.wallets.GetMainByOwner(ctx, buyer.OwnerID)
	if err != nil {
		return nil, err
	}

	esc, err := s.EscrowWallet(ctx, c)
	if err != nil {
		return nil, err
	}

	currency := c.Terms.Currency
	contractID := c.ID
	entry, err := s.journal.Prepare(&domain.Transaction{
		FromWalletID: &main.ID,
		ToWalletID:   &esc.ID,
		FromOwnerID:  &buyer.OwnerID,
		ToOwnerID:    &buyer.OwnerID,
		ContractID:   &contractID,
		Amount:       amount,
		Currency:     currency,
		Kind:         domain.TxKindEscrowLock,
		Status:       domain.TxStatusCompleted,
		Description:  fmt.Sprintf("escrow lock for contract %s", c.ID),
	})
	if err != nil {
		return nil, err
	}
	// Transfer and journal row commit as one unit.
	if err := s.wallets.ApplyTransfer(ctx, main.ID, esc.ID, currency, amount, entry); err != nil {
		return nil, err
	}
	s.journal.Announce(ctx, entry)

	return s.wallets.GetByID(ctx, esc.ID)
}

// Release pays the full escrow balance to the seller's main wallet, opening
// one if the seller has never transacted.
func (s *Service) Release(ctx context.Context, c *domain.Contract) (decimal.Decimal, error) {
	seller := c.PartyByRole(domain.RoleSeller)
	if seller == nil {
		return decimal.Zero, fmt.Errorf("%w: contract has no seller", xerrors.ErrInvalidRequest)
	}
	dest, err := s.mainWallet(ctx, seller.OwnerID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.drain(ctx, c, dest, seller.OwnerID, domain.TxKindEscrowRelease, "escrow release")
}

// Refund returns the full escrow balance to the buyer's main wallet. A zero
// balance is a no-op: nothing moves and nothing is journaled.
func (s *Service) Refund(ctx context.Context, c *domain.Contract) (decimal.Decimal, error) {
	buyer := c.PartyByRole(domain.RoleBuyer)
	if buyer == nil {
		return decimal.Zero, fmt.Errorf("%w: contract has no buyer", xerrors.ErrInvalidRequest)
	}
	dest, err := s.mainWallet(ctx, buyer.OwnerID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.drain(ctx, c, dest, buyer.OwnerID, domain.TxKindEscrowRefund, "escrow refund")
}

func (s *Service) drain(ctx context.Context, c *domain.Contract, dest *domain.Wallet, destOwner string, kind domain.TransactionKind, desc string) (decimal.Decimal, error) {
	esc, err := s.wallets.GetEscrowByContract(ctx, c.ID)
	if err != nil {
		if errors.Is(err, xerrors.ErrWalletNotFound) {
			return decimal.Zero, nil // never funded
		}
		return decimal.Zero, err
	}

	currency := c.Terms.Currency
	amount := esc.Balance(currency)
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	contractID := c.ID
	entry, err := s.journal.Prepare(&domain.Transaction{
		FromWalletID: &esc.ID,
		ToWalletID:   &dest.ID,
		FromOwnerID:  &esc.OwnerID,
		ToOwnerID:    &destOwner,
		ContractID:   &contractID,
		Amount:       amount,
		Currency:     currency,
		Kind:         kind,
		Status:       domain.TxStatusCompleted,
		Description:  fmt.Sprintf("%s for contract %s", desc, c.ID),
	})
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.wallets.ApplyTransfer(ctx, esc.ID, dest.ID, currency, amount, entry); err != nil {
		return decimal.Zero, err
	}
	s.journal.Announce(ctx, entry)

	if s.log != nil {
		s.log.Infow("escrow drained",
			"contract_id", c.ID, "kind", kind, "amount", amount.String(), "currency", currency)
	}
	return amount, nil
}

// Balance reports what the contract's escrow wallet currently holds.
func (s *Service) Balance(ctx context.Context, c *domain.Contract) (decimal.Decimal, error) {
	esc, err := s.wallets.GetEscrowByContract(ctx, c.ID)
	if err != nil {
		if errors.Is(err, xerrors.ErrWalletNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return esc.Balance(c.Terms.Currency), nil
}

func (s *Service) mainWallet(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	w, err := s.wallets.GetMainByOwner(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	now := time.Now()
	w = &domain.Wallet{
		ID:        id.New("wlt"),
		OwnerID:   ownerID,
		Kind:      domain.WalletKindMain,
		Balances:  map[string]decimal.Decimal{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}
