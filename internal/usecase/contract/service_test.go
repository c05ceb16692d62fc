package contract

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-service/internal/docs"
	"escrow-service/internal/domain"
	"escrow-service/internal/repository/memory"
	"escrow-service/internal/usecase/escrow"
	"escrow-service/internal/usecase/transaction"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

type fixture struct {
	contracts *Service
	escrow    *escrow.Service
	wallets   *memory.WalletRepository
	journal   *transaction.Service
	gate      *docs.MemoryGate
}

func newFixture(t *testing.T, requireDocs bool) *fixture {
	t.Helper()
	wallets := memory.NewWalletRepository()
	txRepo := memory.NewTransactionRepository()
	wallets.AttachJournal(txRepo)
	journal := transaction.New(txRepo, nil, nil)
	esc := escrow.New(wallets, journal, nil)
	gate := docs.NewMemoryGate()
	return &fixture{
		contracts: New(memory.NewContractRepository(), esc, gate, requireDocs, nil, nil),
		escrow:    esc,
		wallets:   wallets,
		journal:   journal,
		gate:      gate,
	}
}

func (f *fixture) fundWallet(t *testing.T, ownerID, currency string, amount int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	w := &domain.Wallet{
		ID:        "wlt_" + ownerID,
		OwnerID:   ownerID,
		Kind:      domain.WalletKindMain,
		Balances:  map[string]decimal.Decimal{currency: decimal.NewFromInt(amount)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.wallets.Create(ctx, w); err != nil {
		t.Fatalf("create wallet for %s: %v", ownerID, err)
	}
	return w
}

func (f *fixture) mainBalance(t *testing.T, ownerID, currency string) decimal.Decimal {
	t.Helper()
	w, err := f.wallets.GetMainByOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("main wallet of %s: %v", ownerID, err)
	}
	return w.Balance(currency)
}

func (f *fixture) escrowBalance(t *testing.T, c *domain.Contract) decimal.Decimal {
	t.Helper()
	b, err := f.escrow.Balance(context.Background(), c)
	if err != nil {
		t.Fatalf("escrow balance: %v", err)
	}
	return b
}

func twoParties() []domain.Party {
	return []domain.Party{
		{Role: domain.RoleBuyer, OwnerID: "usr_buyer"},
		{Role: domain.RoleSeller, OwnerID: "usr_seller"},
	}
}

func usdcTerms(value int64) domain.TradeTerms {
	return domain.TradeTerms{
		Currency:         "USDC",
		Value:            decimal.NewFromInt(value),
		DeliveryDeadline: time.Now().Add(30 * 24 * time.Hour),
		InspectionDays:   7,
	}
}

// approveAll walks a DRAFT contract to AWAITING_FUNDS.
func (f *fixture) approveAll(t *testing.T, c *domain.Contract) *domain.Contract {
	t.Helper()
	ctx := context.Background()
	var err error
	for _, p := range c.Parties {
		c, err = f.contracts.Approve(ctx, c.ID, p.OwnerID)
		if err != nil {
			t.Fatalf("approve by %s: %v", p.OwnerID, err)
		}
	}
	return c
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.contracts.Create(ctx, []domain.Party{
		{Role: domain.RoleBuyer, OwnerID: "usr_a"},
	}, usdcTerms(100)); !errors.Is(err, xerrors.ErrInvalidRequest) {
		t.Fatalf("single party: err = %v, want ErrInvalidRequest", err)
	}

	if _, err := f.contracts.Create(ctx, []domain.Party{
		{Role: domain.RoleBuyer, OwnerID: "usr_a"},
		{Role: domain.RoleBuyer, OwnerID: "usr_b"},
	}, usdcTerms(100)); !errors.Is(err, xerrors.ErrInvalidRequest) {
		t.Fatalf("two buyers: err = %v, want ErrInvalidRequest", err)
	}

	terms := usdcTerms(100)
	terms.Value = decimal.Zero
	if _, err := f.contracts.Create(ctx, twoParties(), terms); !errors.Is(err, xerrors.ErrInvalidRequest) {
		t.Fatalf("zero value: err = %v, want ErrInvalidRequest", err)
	}

	c, err := f.contracts.Create(ctx, twoParties(), usdcTerms(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.StatusDraft {
		t.Fatalf("status = %s, want DRAFT", c.Status)
	}
	if c.Milestones.Created == nil {
		t.Fatal("created milestone should be stamped")
	}
}

func TestApprovalFlow(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	c, err := f.contracts.Create(ctx, twoParties(), usdcTerms(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.contracts.Approve(ctx, c.ID, "usr_stranger"); !errors.Is(err, xerrors.ErrInvalidRequest) {
		t.Fatalf("stranger approval: err = %v, want ErrInvalidRequest", err)
	}

	c, err = f.contracts.Approve(ctx, c.ID, "usr_buyer")
	if err != nil {
		t.Fatalf("buyer approval: %v", err)
	}
	if c.Status != domain.StatusPendingApproval {
		t.Fatalf("status = %s, want PENDING_APPROVAL", c.Status)
	}

	// Re-approval by the same party is a no-op.
	again, err := f.contracts.Approve(ctx, c.ID, "usr_buyer")
	if err != nil {
		t.Fatalf("re-approval: %v", err)
	}
	if again.Status != domain.StatusPendingApproval {
		t.Fatalf("re-approval moved status to %s", again.Status)
	}

	c, err = f.contracts.Approve(ctx, c.ID, "usr_seller")
	if err != nil {
		t.Fatalf("seller approval: %v", err)
	}
	if c.Status != domain.StatusAwaitingFunds {
		t.Fatalf("status = %s, want AWAITING_FUNDS", c.Status)
	}
	if c.Milestones.Approved == nil {
		t.Fatal("approved milestone should be stamped")
	}
}

func TestFundBeforeApprovalIsGuarded(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 60000)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(50000))
	c, _ = f.contracts.Approve(ctx, c.ID, "usr_buyer") // still PENDING_APPROVAL

	if _, err := f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(50000), "USDC"); !errors.Is(err, xerrors.ErrInvalidStateTransition) {
		t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
	}

	got, _ := f.contracts.Get(ctx, c.ID)
	if got.Status != domain.StatusPendingApproval {
		t.Fatalf("status changed to %s", got.Status)
	}
	if !f.escrowBalance(t, got).IsZero() {
		t.Fatal("guarded transition must not move money")
	}
	if !f.mainBalance(t, "usr_buyer", "USDC").Equal(decimal.NewFromInt(60000)) {
		t.Fatal("buyer balance must be untouched")
	}
}

func TestFullFundingScenario(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 60000)

	c, err := f.contracts.Create(ctx, twoParties(), usdcTerms(50000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c = f.approveAll(t, c)

	if _, err := f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(50000), "EUR"); !errors.Is(err, xerrors.ErrCurrencyMismatch) {
		t.Fatalf("wrong currency: err = %v, want ErrCurrencyMismatch", err)
	}

	c, err = f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(50000), "USDC")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if c.Status != domain.StatusFunded {
		t.Fatalf("status = %s, want FUNDED", c.Status)
	}
	if c.EscrowWalletID == nil {
		t.Fatal("escrow wallet id should be set once funded")
	}
	if c.Milestones.Funded == nil {
		t.Fatal("funded milestone should be stamped")
	}
	if got := f.mainBalance(t, "usr_buyer", "USDC"); !got.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("buyer balance = %s, want 10000", got)
	}
	if got := f.escrowBalance(t, c); !got.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("escrow balance = %s, want 50000", got)
	}
}

func TestPartialFunding(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 60000)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(50000))
	c = f.approveAll(t, c)

	c, err := f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(20000), "USDC")
	if err != nil {
		t.Fatalf("partial fund: %v", err)
	}
	if c.Status != domain.StatusAwaitingFunds {
		t.Fatalf("partial funding moved status to %s", c.Status)
	}
	// The escrow wallet id is bound to the contract on the first lock, not
	// only once fully funded.
	if c.EscrowWalletID == nil {
		t.Fatal("escrow wallet id should be set after the first partial funding")
	}
	if got := f.escrowBalance(t, c); !got.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("escrow balance = %s, want 20000", got)
	}

	// Overfunding past the contract value is rejected before any movement.
	if _, err := f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(40000), "USDC"); !errors.Is(err, xerrors.ErrInvalidRequest) {
		t.Fatalf("overfund: err = %v, want ErrInvalidRequest", err)
	}
	if got := f.escrowBalance(t, c); !got.Equal(decimal.NewFromInt(20000)) {
		t.Fatal("rejected overfund moved money")
	}

	c, err = f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(30000), "USDC")
	if err != nil {
		t.Fatalf("topping up: %v", err)
	}
	if c.Status != domain.StatusFunded {
		t.Fatalf("status = %s, want FUNDED after reaching full value", c.Status)
	}
}

func TestShipReceiveReleaseScenario(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 60000)
	f.fundWallet(t, "usr_seller", "USDC", 0)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(50000))
	c = f.approveAll(t, c)
	c, err := f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(50000), "USDC")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}

	// Receipt before shipment is illegal.
	if _, err := f.contracts.ConfirmReceipt(ctx, c.ID); !errors.Is(err, xerrors.ErrInvalidStateTransition) {
		t.Fatalf("receipt from FUNDED: err = %v, want ErrInvalidStateTransition", err)
	}

	c, err = f.contracts.MarkShipped(ctx, c.ID)
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if c.Status != domain.StatusGoodsShipped || c.Milestones.Shipped == nil {
		t.Fatalf("status = %s, shipped milestone %v", c.Status, c.Milestones.Shipped)
	}

	c, err = f.contracts.ConfirmReceipt(ctx, c.ID)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if c.Status != domain.StatusGoodsReceived {
		t.Fatalf("status = %s, want GOODS_RECEIVED", c.Status)
	}

	c, err = f.contracts.Release(ctx, c.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if c.Status != domain.StatusCompleted || c.Milestones.Completed == nil {
		t.Fatalf("status = %s, want COMPLETED", c.Status)
	}
	if got := f.escrowBalance(t, c); !got.IsZero() {
		t.Fatalf("escrow balance = %s, want 0", got)
	}
	if got := f.mainBalance(t, "usr_seller", "USDC"); !got.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("seller balance = %s, want 50000", got)
	}

	// Terminal: nothing moves a COMPLETED contract.
	if _, err := f.contracts.Dispute(ctx, c.ID, "usr_buyer"); !errors.Is(err, xerrors.ErrInvalidStateTransition) {
		t.Fatalf("dispute after completion: err = %v", err)
	}
}

func TestActivateIsOptional(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 1000)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(1000))
	c = f.approveAll(t, c)
	c, _ = f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(1000), "USDC")

	c, err := f.contracts.Activate(ctx, c.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if c.Status != domain.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", c.Status)
	}
	if _, err := f.contracts.MarkShipped(ctx, c.ID); err != nil {
		t.Fatalf("ship from ACTIVE: %v", err)
	}
}

func TestDisputeFreezesAndRefundResolves(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 60000)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(50000))
	c = f.approveAll(t, c)
	c, _ = f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(50000), "USDC")

	c, err := f.contracts.Dispute(ctx, c.ID, "usr_buyer")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if c.Status != domain.StatusDisputed || c.DisputedBy == nil || *c.DisputedBy != "usr_buyer" {
		t.Fatalf("status = %s, disputed by %v", c.Status, c.DisputedBy)
	}

	// Frozen while disputed.
	if _, err := f.contracts.MarkShipped(ctx, c.ID); !errors.Is(err, xerrors.ErrInvalidStateTransition) {
		t.Fatalf("ship while disputed: err = %v", err)
	}
	if _, err := f.contracts.Release(ctx, c.ID); !errors.Is(err, xerrors.ErrInvalidStateTransition) {
		t.Fatalf("release while disputed: err = %v", err)
	}

	c, err = f.contracts.ResolveDispute(ctx, c.ID, domain.DisputeOutcomeRefund)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", c.Status)
	}
	if got := f.mainBalance(t, "usr_buyer", "USDC"); !got.Equal(decimal.NewFromInt(60000)) {
		t.Fatalf("refund should restore the buyer exactly, got %s", got)
	}
	if !f.escrowBalance(t, c).IsZero() {
		t.Fatal("escrow should be empty after refund")
	}
}

func TestDisputeResolvedInSellersFavor(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 5000)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(5000))
	c = f.approveAll(t, c)
	c, _ = f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(5000), "USDC")
	c, _ = f.contracts.Dispute(ctx, c.ID, "usr_seller")

	c, err := f.contracts.ResolveDispute(ctx, c.ID, domain.DisputeOutcomeRelease)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", c.Status)
	}
	if got := f.mainBalance(t, "usr_seller", "USDC"); !got.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("seller balance = %s, want 5000", got)
	}
}

func TestCancelRefundsPartialEscrow(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 10000)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(8000))
	c = f.approveAll(t, c)
	c, _ = f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(3000), "USDC")
	if c.Status != domain.StatusAwaitingFunds {
		t.Fatalf("status = %s, want AWAITING_FUNDS", c.Status)
	}

	c, err := f.contracts.Cancel(ctx, c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", c.Status)
	}
	if got := f.mainBalance(t, "usr_buyer", "USDC"); !got.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("lock then cancel should round-trip the buyer, got %s", got)
	}

	// Cancel is not legal once funded.
	f2 := newFixture(t, false)
	f2.fundWallet(t, "usr_buyer", "USDC", 8000)
	c2, _ := f2.contracts.Create(ctx, twoParties(), usdcTerms(8000))
	c2 = f2.approveAll(t, c2)
	c2, _ = f2.contracts.Fund(ctx, c2.ID, decimal.NewFromInt(8000), "USDC")
	if _, err := f2.contracts.Cancel(ctx, c2.ID); !errors.Is(err, xerrors.ErrInvalidStateTransition) {
		t.Fatalf("cancel after FUNDED: err = %v, want ErrInvalidStateTransition", err)
	}
}

func TestDocumentGateBlocksShipping(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.fundWallet(t, "usr_buyer", "USDC", 1000)

	c, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(1000))
	c = f.approveAll(t, c)
	c, _ = f.contracts.Fund(ctx, c.ID, decimal.NewFromInt(1000), "USDC")

	f.gate.Require(c.ID, "doc_invoice", "doc_bill_of_lading")

	if _, err := f.contracts.MarkShipped(ctx, c.ID); !errors.Is(err, xerrors.ErrDocumentsNotVerified) {
		t.Fatalf("err = %v, want ErrDocumentsNotVerified", err)
	}
	got, _ := f.contracts.Get(ctx, c.ID)
	if got.Status != domain.StatusFunded {
		t.Fatalf("blocked transition changed status to %s", got.Status)
	}

	f.gate.SetVerified("doc_invoice", true)
	f.gate.SetVerified("doc_bill_of_lading", true)
	if _, err := f.contracts.MarkShipped(ctx, c.ID); err != nil {
		t.Fatalf("ship with verified docs: %v", err)
	}
}

func TestListByOwnerAndStatus(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	c1, _ := f.contracts.Create(ctx, twoParties(), usdcTerms(100))
	_, _ = f.contracts.Create(ctx, []domain.Party{
		{Role: domain.RoleBuyer, OwnerID: "usr_other"},
		{Role: domain.RoleSeller, OwnerID: "usr_seller"},
	}, usdcTerms(200))

	owner := "usr_buyer"
	byOwner, err := f.contracts.List(ctx, &domain.ContractFilter{OwnerID: &owner})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byOwner) != 1 || byOwner[0].ID != c1.ID {
		t.Fatalf("owner filter returned %d contracts", len(byOwner))
	}

	draft := domain.StatusDraft
	byStatus, err := f.contracts.List(ctx, &domain.ContractFilter{Status: &draft})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 2 {
		t.Fatalf("status filter returned %d contracts, want 2", len(byStatus))
	}
}
