package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WalletKind string

const (
	WalletKindMain   WalletKind = "MAIN"
	WalletKindEscrow WalletKind = "ESCROW"
)

// Wallet holds a multi-currency balance vector for one owner. ESCROW wallets
// are 1:1 with a contract and exist only between first funding and settlement.
type Wallet struct {
	ID         string                     `json:"id"`
	OwnerID    string                     `json:"owner_id"`
	Kind       WalletKind                 `json:"kind"`
	ContractID *string                    `json:"contract_id,omitempty"`
	Balances   map[string]decimal.Decimal `json:"balances"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// Balance returns the balance for a currency, zero for one never credited.
func (w *Wallet) Balance(currency string) decimal.Decimal {
	if w.Balances == nil {
		return decimal.Zero
	}
	if b, ok := w.Balances[currency]; ok {
		return b
	}
	return decimal.Zero
}

func (w *Wallet) Clone() *Wallet {
	cp := *w
	if w.ContractID != nil {
		v := *w.ContractID
		cp.ContractID = &v
	}
	cp.Balances = make(map[string]decimal.Decimal, len(w.Balances))
	for c, b := range w.Balances {
		cp.Balances[c] = b
	}
	return &cp
}
