package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"escrow-service/internal/domain"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TransactionRepository owns the append-only journal. Rows are never rewritten
// except for status/error_message/completed_at on PENDING rows.
type TransactionRepository interface {
	Create(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByProviderRef(ctx context.Context, ref string) (*domain.Transaction, error)

	// ResolvePending moves a PENDING row to COMPLETED or FAILED. Returns
	// ErrTransactionFinal when the row is already terminal.
	ResolvePending(ctx context.Context, id string, status domain.TransactionStatus, errMsg *string, completedAt time.Time) error

	// List returns matching rows most-recent-first.
	List(ctx context.Context, f *domain.TransactionFilter) ([]*domain.Transaction, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const txColumns = `id, from_wallet_id, to_wallet_id, from_owner_id, to_owner_id,
	amount::text, currency, kind, status, contract_id, provider_ref, description,
	error_message, created_at, completed_at`

func (r *transactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	return insertTransaction(ctx, r.db, t)
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertTransaction appends one journal row through db, which is either the
// pool or an open transaction. The wallet repo passes its own transaction here
// so a balance mutation and its journal row commit together.
func insertTransaction(ctx context.Context, db pgExecer, t *domain.Transaction) error {
	query := `INSERT INTO transactions
		(id, from_wallet_id, to_wallet_id, from_owner_id, to_owner_id, amount, currency,
		 kind, status, contract_id, provider_ref, description, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := db.Exec(ctx, query,
		t.ID, t.FromWalletID, t.ToWalletID, t.FromOwnerID, t.ToOwnerID,
		t.Amount.String(), t.Currency, string(t.Kind), string(t.Status),
		t.ContractID, t.ProviderRef, t.Description, t.CreatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to append journal row: %w", err)
	}
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) GetByProviderRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE provider_ref = $1`, ref)
	return scanTransaction(row)
}

func (r *transactionRepo) ResolvePending(ctx context.Context, id string, status domain.TransactionStatus, errMsg *string, completedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET status = $2, error_message = $3, completed_at = $4
		 WHERE id = $1 AND status = 'PENDING'`,
		id, string(status), errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("failed to resolve journal row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing.Status.Terminal() {
			return xerrors.ErrTransactionFinal
		}
		return xerrors.ErrConcurrentModification
	}
	return nil
}

func (r *transactionRepo) List(ctx context.Context, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE 1=1`
	args := []any{}

	if f != nil {
		if f.WalletID != nil {
			args = append(args, *f.WalletID)
			n := strconv.Itoa(len(args))
			query += ` AND (from_wallet_id = $` + n + ` OR to_wallet_id = $` + n + `)`
		}
		if f.ContractID != nil {
			args = append(args, *f.ContractID)
			query += ` AND contract_id = $` + strconv.Itoa(len(args))
		}
		if f.OwnerID != nil {
			args = append(args, *f.OwnerID)
			n := strconv.Itoa(len(args))
			query += ` AND (from_owner_id = $` + n + ` OR to_owner_id = $` + n + `)`
		}
		if f.Kind != nil {
			args = append(args, string(*f.Kind))
			query += ` AND kind = $` + strconv.Itoa(len(args))
		}
		if f.Status != nil {
			args = append(args, string(*f.Status))
			query += ` AND status = $` + strconv.Itoa(len(args))
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f != nil && f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount, kind, status string
	err := row.Scan(&t.ID, &t.FromWalletID, &t.ToWalletID, &t.FromOwnerID, &t.ToOwnerID,
		&amount, &t.Currency, &kind, &status, &t.ContractID, &t.ProviderRef,
		&t.Description, &t.ErrorMessage, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount on journal row %s: %w", t.ID, err)
	}
	t.Kind = domain.TransactionKind(kind)
	t.Status = domain.TransactionStatus(status)
	return &t, nil
}
