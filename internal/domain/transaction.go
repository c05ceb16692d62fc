package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TxKindDeposit            TransactionKind = "DEPOSIT"
	TxKindWithdrawal         TransactionKind = "WITHDRAWAL"
	TxKindTransfer           TransactionKind = "TRANSFER"
	TxKindEscrowLock         TransactionKind = "ESCROW_LOCK"
	TxKindEscrowRelease      TransactionKind = "ESCROW_RELEASE"
	TxKindEscrowRefund       TransactionKind = "ESCROW_REFUND"
	TxKindCrossBorderPayment TransactionKind = "CROSS_BORDER_PAYMENT"
)

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "PENDING"
	TxStatusCompleted TransactionStatus = "COMPLETED"
	TxStatusFailed    TransactionStatus = "FAILED"
)

// Terminal reports whether the status can never change again.
func (s TransactionStatus) Terminal() bool {
	return s == TxStatusCompleted || s == TxStatusFailed
}

// Transaction is one append-only journal row. FromWalletID is nil only for an
// external DEPOSIT, ToWalletID nil only for an external WITHDRAWAL. Rows are
// immutable except for status/error/completed_at on PENDING rows.
type Transaction struct {
	ID           string            `json:"id"`
	FromWalletID *string           `json:"from_wallet_id,omitempty"`
	ToWalletID   *string           `json:"to_wallet_id,omitempty"`
	FromOwnerID  *string           `json:"from_owner_id,omitempty"`
	ToOwnerID    *string           `json:"to_owner_id,omitempty"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency"`
	Kind         TransactionKind   `json:"kind"`
	Status       TransactionStatus `json:"status"`
	ContractID   *string           `json:"contract_id,omitempty"`
	ProviderRef  *string           `json:"provider_ref,omitempty"`
	Description  string            `json:"description,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.FromWalletID = cloneStrPtr(t.FromWalletID)
	cp.ToWalletID = cloneStrPtr(t.ToWalletID)
	cp.FromOwnerID = cloneStrPtr(t.FromOwnerID)
	cp.ToOwnerID = cloneStrPtr(t.ToOwnerID)
	cp.ContractID = cloneStrPtr(t.ContractID)
	cp.ProviderRef = cloneStrPtr(t.ProviderRef)
	cp.ErrorMessage = cloneStrPtr(t.ErrorMessage)
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

type TransactionFilter struct {
	WalletID   *string
	ContractID *string
	OwnerID    *string
	Kind       *TransactionKind
	Status     *TransactionStatus
	Limit      int
}

// Matches applies the filter to a single row.
func (f *TransactionFilter) Matches(t *Transaction) bool {
	if f.WalletID != nil {
		if !strPtrEq(t.FromWalletID, *f.WalletID) && !strPtrEq(t.ToWalletID, *f.WalletID) {
			return false
		}
	}
	if f.ContractID != nil && !strPtrEq(t.ContractID, *f.ContractID) {
		return false
	}
	if f.OwnerID != nil {
		if !strPtrEq(t.FromOwnerID, *f.OwnerID) && !strPtrEq(t.ToOwnerID, *f.OwnerID) {
			return false
		}
	}
	if f.Kind != nil && t.Kind != *f.Kind {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	return true
}

func cloneStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func strPtrEq(p *string, s string) bool {
	return p != nil && *p == s
}
