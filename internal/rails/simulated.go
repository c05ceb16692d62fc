package rails

import (
	"context"

	"escrow-service/pkg/id"
)

// SimulatedProvider accepts every request and never settles on its own.
// Settlement is driven by posting to the callback endpoint, which mirrors how
// a sandboxed bank or mobile-money integration behaves.
type SimulatedProvider struct{}

func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{}
}

func (s *SimulatedProvider) Name() string {
	return "simulated"
}

func (s *SimulatedProvider) Deposit(ctx context.Context, req DepositRequest) (RailResponse, error) {
	_ = ctx
	return RailResponse{ProviderRef: id.New("sim"), Status: "pending"}, nil
}

func (s *SimulatedProvider) Withdraw(ctx context.Context, req WithdrawRequest) (RailResponse, error) {
	_ = ctx
	return RailResponse{ProviderRef: id.New("sim"), Status: "pending"}, nil
}
