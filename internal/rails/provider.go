package rails

import "context"

// Provider is an external payment rail (bank transfer, mobile money). Both
// operations return immediately with a provider reference; the definitive
// outcome arrives later on the callback endpoint and resolves the PENDING
// journal row.
type Provider interface {
	Name() string
	Deposit(ctx context.Context, req DepositRequest) (RailResponse, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (RailResponse, error)
}

type DepositRequest struct {
	OwnerID    string
	Amount     string // decimal as string, provider-facing
	Currency   string
	AccountRef string
}

type WithdrawRequest struct {
	OwnerID     string
	Amount      string
	Currency    string
	Destination string
}

type RailResponse struct {
	ProviderRef string
	Status      string // always "pending" at initiation
}
