package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-service/internal/domain"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// WalletRepository owns wallet rows and is the only place balances mutate.
// ApplyDelta and ApplyTransfer are atomic: they either fully happen or leave
// every balance untouched.
type WalletRepository interface {
	Create(ctx context.Context, w *domain.Wallet) error
	GetByID(ctx context.Context, id string) (*domain.Wallet, error)
	GetMainByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error)
	GetEscrowByContract(ctx context.Context, contractID string) (*domain.Wallet, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error)

	// ApplyDelta adds delta (negative for debit) to one balance and returns the
	// new balance. Fails with ErrInsufficientFunds when the result would be
	// negative, without mutating anything. A non-nil entry is persisted in the
	// same atomic unit as the balance change.
	ApplyDelta(ctx context.Context, walletID, currency string, delta decimal.Decimal, entry *domain.Transaction) (decimal.Decimal, error)

	// ApplyTransfer debits from and credits to in one atomic unit, locking both
	// wallets in ascending id order. A non-nil entry commits with the deltas or
	// not at all.
	ApplyTransfer(ctx context.Context, fromID, toID, currency string, amount decimal.Decimal, entry *domain.Transaction) error
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

func (r *walletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (id, owner_id, kind, contract_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, query,
		w.ID, w.OwnerID, string(w.Kind), w.ContractID, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrDuplicateEscrowWallet
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (r *walletRepo) GetByID(ctx context.Context, id string) (*domain.Wallet, error) {
	return r.getOne(ctx, `SELECT id, owner_id, kind, contract_id, created_at, updated_at
		FROM wallets WHERE id = $1`, id)
}

func (r *walletRepo) GetMainByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	return r.getOne(ctx, `SELECT id, owner_id, kind, contract_id, created_at, updated_at
		FROM wallets WHERE owner_id = $1 AND kind = 'MAIN'`, ownerID)
}

func (r *walletRepo) GetEscrowByContract(ctx context.Context, contractID string) (*domain.Wallet, error) {
	return r.getOne(ctx, `SELECT id, owner_id, kind, contract_id, created_at, updated_at
		FROM wallets WHERE contract_id = $1 AND kind = 'ESCROW'`, contractID)
}

func (r *walletRepo) getOne(ctx context.Context, query string, arg any) (*domain.Wallet, error) {
	var w domain.Wallet
	var kind string
	err := r.db.QueryRow(ctx, query, arg).
		Scan(&w.ID, &w.OwnerID, &kind, &w.ContractID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrWalletNotFound
		}
		return nil, err
	}
	w.Kind = domain.WalletKind(kind)
	if err := r.loadBalances(ctx, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *walletRepo) loadBalances(ctx context.Context, w *domain.Wallet) error {
	rows, err := r.db.Query(ctx,
		`SELECT currency, balance::text FROM wallet_balances WHERE wallet_id = $1`, w.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	w.Balances = make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency, balance string
		if err := rows.Scan(&currency, &balance); err != nil {
			return err
		}
		d, err := decimal.NewFromString(balance)
		if err != nil {
			return fmt.Errorf("corrupt balance for wallet %s: %w", w.ID, err)
		}
		w.Balances[currency] = d
	}
	return rows.Err()
}

func (r *walletRepo) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT id, owner_id, kind, contract_id, created_at, updated_at
		FROM wallets WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		var kind string
		if err := rows.Scan(&w.ID, &w.OwnerID, &kind, &w.ContractID, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Kind = domain.WalletKind(kind)
		wallets = append(wallets, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, w := range wallets {
		if err := r.loadBalances(ctx, w); err != nil {
			return nil, err
		}
	}
	return wallets, nil
}

func (r *walletRepo) ApplyDelta(ctx context.Context, walletID, currency string, delta decimal.Decimal, entry *domain.Transaction) (decimal.Decimal, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	after, err := applyDeltaTx(ctx, tx, walletID, currency, delta)
	if err != nil {
		return decimal.Zero, err
	}
	if entry != nil {
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return decimal.Zero, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit balance change: %w", err)
	}
	return after, nil
}

func (r *walletRepo) ApplyTransfer(ctx context.Context, fromID, toID, currency string, amount decimal.Decimal, entry *domain.Transaction) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock both wallet rows in ascending id order so two opposite transfers
	// on the same pair cannot deadlock.
	rows, err := tx.Query(ctx,
		`SELECT id FROM wallets WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]string{fromID, toID})
	if err != nil {
		return err
	}
	locked := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		locked++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if locked != 2 {
		return xerrors.ErrWalletNotFound
	}

	if _, err := applyDeltaTx(ctx, tx, fromID, currency, amount.Neg()); err != nil {
		return err
	}
	if _, err := applyDeltaTx(ctx, tx, toID, currency, amount); err != nil {
		return err
	}
	if entry != nil {
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

func applyDeltaTx(ctx context.Context, tx pgx.Tx, walletID, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	var current string
	err := tx.QueryRow(ctx,
		`SELECT balance::text FROM wallet_balances WHERE wallet_id = $1 AND currency = $2 FOR UPDATE`,
		walletID, currency).Scan(&current)

	balance := decimal.Zero
	exists := true
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, err
		}
		exists = false
		var n int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM wallets WHERE id = $1`, walletID).Scan(&n); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return decimal.Zero, xerrors.ErrWalletNotFound
			}
			return decimal.Zero, err
		}
	} else {
		balance, err = decimal.NewFromString(current)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt balance for wallet %s: %w", walletID, err)
		}
	}

	after := balance.Add(delta)
	if after.IsNegative() {
		return decimal.Zero, xerrors.ErrInsufficientFunds
	}

	if exists {
		_, err = tx.Exec(ctx,
			`UPDATE wallet_balances SET balance = $3 WHERE wallet_id = $1 AND currency = $2`,
			walletID, currency, after.String())
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO wallet_balances (wallet_id, currency, balance) VALUES ($1, $2, $3)`,
			walletID, currency, after.String())
	}
	if err != nil {
		return decimal.Zero, err
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET updated_at = $2 WHERE id = $1`, walletID, time.Now())
	if err != nil {
		return decimal.Zero, err
	}
	return after, nil
}
