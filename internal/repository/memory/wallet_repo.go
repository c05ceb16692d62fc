package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"escrow-service/internal/domain"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// JournalAppender is the slice of the journal store a wallet mutation needs:
// appending the row that caused it, inside the same critical section.
type JournalAppender interface {
	Create(ctx context.Context, t *domain.Transaction) error
}

// WalletRepository is the in-memory wallet store. One mutex guards the whole
// map, so ApplyDelta and ApplyTransfer are trivially atomic; concurrent debits
// that would jointly overdraw serialize here and all but one fail.
type WalletRepository struct {
	mu      sync.RWMutex
	wallets map[string]*domain.Wallet
	journal JournalAppender
}

func NewWalletRepository() *WalletRepository {
	return &WalletRepository{wallets: make(map[string]*domain.Wallet)}
}

// AttachJournal wires the journal store so mutations carrying an entry can
// persist balance and row as one unit, mirroring the postgres backend.
func (r *WalletRepository) AttachJournal(j JournalAppender) {
	r.journal = j
}

func (r *WalletRepository) Create(ctx context.Context, w *domain.Wallet) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.Kind == domain.WalletKindEscrow && w.ContractID != nil {
		for _, existing := range r.wallets {
			if existing.Kind == domain.WalletKindEscrow &&
				existing.ContractID != nil && *existing.ContractID == *w.ContractID {
				return xerrors.ErrDuplicateEscrowWallet
			}
		}
	}

	cp := w.Clone()
	if cp.Balances == nil {
		cp.Balances = make(map[string]decimal.Decimal)
	}
	r.wallets[cp.ID] = cp
	return nil
}

func (r *WalletRepository) GetByID(ctx context.Context, id string) (*domain.Wallet, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	return w.Clone(), nil
}

func (r *WalletRepository) GetMainByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.OwnerID == ownerID && w.Kind == domain.WalletKindMain {
			return w.Clone(), nil
		}
	}
	return nil, xerrors.ErrWalletNotFound
}

func (r *WalletRepository) GetEscrowByContract(ctx context.Context, contractID string) (*domain.Wallet, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.Kind == domain.WalletKindEscrow && w.ContractID != nil && *w.ContractID == contractID {
			return w.Clone(), nil
		}
	}
	return nil, xerrors.ErrWalletNotFound
}

func (r *WalletRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Wallet
	for _, w := range r.wallets {
		if w.OwnerID == ownerID {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *WalletRepository) ApplyDelta(ctx context.Context, walletID, currency string, delta decimal.Decimal, entry *domain.Transaction) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	after, err := r.applyDeltaLocked(walletID, currency, delta)
	if err != nil {
		return decimal.Zero, err
	}
	if entry != nil {
		if err := r.appendLocked(ctx, entry); err != nil {
			_, _ = r.applyDeltaLocked(walletID, currency, delta.Neg())
			return decimal.Zero, err
		}
	}
	return after, nil
}

func (r *WalletRepository) ApplyTransfer(ctx context.Context, fromID, toID, currency string, amount decimal.Decimal, entry *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.wallets[fromID]; !ok {
		return xerrors.ErrWalletNotFound
	}
	if _, ok := r.wallets[toID]; !ok {
		return xerrors.ErrWalletNotFound
	}

	// Debit first; a failure here leaves both sides untouched.
	if _, err := r.applyDeltaLocked(fromID, currency, amount.Neg()); err != nil {
		return err
	}
	if _, err := r.applyDeltaLocked(toID, currency, amount); err != nil {
		// Roll the debit back; credit on an existing wallet cannot fail, so
		// this path only covers future invariants.
		_, _ = r.applyDeltaLocked(fromID, currency, amount)
		return err
	}
	if entry != nil {
		if err := r.appendLocked(ctx, entry); err != nil {
			_, _ = r.applyDeltaLocked(toID, currency, amount.Neg())
			_, _ = r.applyDeltaLocked(fromID, currency, amount)
			return err
		}
	}
	return nil
}

// appendLocked persists the journal entry while the wallet mutex is held. The
// journal store takes its own lock; it never calls back into this repository,
// so the ordering is acyclic.
func (r *WalletRepository) appendLocked(ctx context.Context, entry *domain.Transaction) error {
	if r.journal == nil {
		return xerrors.ErrInternalServer
	}
	return r.journal.Create(ctx, entry)
}

func (r *WalletRepository) applyDeltaLocked(walletID, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	w, ok := r.wallets[walletID]
	if !ok {
		return decimal.Zero, xerrors.ErrWalletNotFound
	}
	after := w.Balance(currency).Add(delta)
	if after.IsNegative() {
		return decimal.Zero, xerrors.ErrInsufficientFunds
	}
	w.Balances[currency] = after
	w.UpdatedAt = time.Now()
	return after, nil
}
