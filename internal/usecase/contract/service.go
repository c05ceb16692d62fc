package contract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escrow-service/internal/docs"
	"escrow-service/internal/domain"
	"escrow-service/internal/pub"
	"escrow-service/internal/repository"
	"escrow-service/internal/usecase/escrow"
	"escrow-service/pkg/id"
	xerrors "escrow-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service owns contract records and their lifecycle. Transitions for a given
// contract are serialized: a transition and the escrow movement it triggers
// form one logical unit, and the new status is committed only after the money
// has actually moved.
type Service struct {
	repo        repository.ContractRepository
	escrow      *escrow.Service
	gate        docs.DocumentGate
	requireDocs bool
	pub         *pub.EventPublisher
	log         *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // contract id -> transition lock
}

func New(
	repo repository.ContractRepository,
	esc *escrow.Service,
	gate docs.DocumentGate,
	requireDocs bool,
	publisher *pub.EventPublisher,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		repo:        repo,
		escrow:      esc,
		gate:        gate,
		requireDocs: requireDocs,
		pub:         publisher,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockContract(contractID string) func() {
	s.mu.Lock()
	l, ok := s.locks[contractID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[contractID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create registers a new contract in DRAFT. At least a buyer and a seller with
// distinct owners, a positive value and a currency are required.
func (s *Service) Create(ctx context.Context, parties []domain.Party, terms domain.TradeTerms) (*domain.Contract, error) {
	if err := validateParties(parties); err != nil {
		return nil, err
	}
	if !terms.Value.IsPositive() {
		return nil, fmt.Errorf("%w: contract value must be positive", xerrors.ErrInvalidRequest)
	}
	if terms.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", xerrors.ErrInvalidRequest)
	}
	if terms.InspectionDays < 0 {
		return nil, fmt.Errorf("%w: inspection period cannot be negative", xerrors.ErrInvalidRequest)
	}

	now := time.Now()
	c := &domain.Contract{
		ID:        id.New("ctr"),
		Status:    domain.StatusDraft,
		Parties:   append([]domain.Party(nil), parties...),
		Terms:     terms,
		Approvals: make(map[string]bool, len(parties)),
		Milestones: domain.Milestones{
			Created: &now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, "contract.created")
	return c, nil
}

// Approve records a party's approval. Re-approval is a no-op. Once every party
// has approved, the contract advances through PENDING_APPROVAL to
// AWAITING_FUNDS in one step.
func (s *Service) Approve(ctx context.Context, contractID, partyOwner string) (*domain.Contract, error) {
	unlock := s.lockContract(contractID)
	defer unlock()

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(partyOwner) {
		return nil, fmt.Errorf("%w: %s is not a party to this contract", xerrors.ErrInvalidRequest, partyOwner)
	}
	if c.Status != domain.StatusDraft && c.Status != domain.StatusPendingApproval {
		return nil, transitionErr(c.Status, "approve")
	}
	if c.Approvals[partyOwner] {
		return c, nil // idempotent
	}

	c.Approvals[partyOwner] = true
	if c.Status == domain.StatusDraft {
		c.Status = domain.StatusPendingApproval
	}
	event := "contract.approval_recorded"
	if c.AllApproved() {
		c.Status = domain.StatusAwaitingFunds
		setOnce(&c.Milestones.Approved)
		event = "contract.approved"
	}

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, event)
	return c, nil
}

// Fund locks amount into the contract's escrow wallet. Partial funding is
// legal and leaves the contract in AWAITING_FUNDS; the transition to FUNDED
// happens exactly when the escrow balance reaches the contract value.
func (s *Service) Fund(ctx context.Context, contractID string, amount decimal.Decimal, currency string) (*domain.Contract, error) {
	unlock := s.lockContract(contractID)
	defer unlock()

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusAwaitingFunds {
		return nil, transitionErr(c.Status, "fund")
	}
	if currency != c.Terms.Currency {
		return nil, fmt.Errorf("%w: contract is denominated in %s, got %s",
			xerrors.ErrCurrencyMismatch, c.Terms.Currency, currency)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidRequest)
	}

	held, err := s.escrow.Balance(ctx, c)
	if err != nil {
		return nil, err
	}
	if held.Add(amount).GreaterThan(c.Terms.Value) {
		return nil, fmt.Errorf("%w: funding %s would exceed the contract value %s (already held %s)",
			xerrors.ErrInvalidRequest, amount.String(), c.Terms.Value.String(), held.String())
	}

	esc, err := s.escrow.Lock(ctx, c, amount)
	if err != nil {
		return nil, err
	}
	c.EscrowWalletID = &esc.ID

	event := "contract.partially_funded"
	if esc.Balance(c.Terms.Currency).Equal(c.Terms.Value) {
		c.Status = domain.StatusFunded
		setOnce(&c.Milestones.Funded)
		event = "contract.funded"
	}

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, event)
	return c, nil
}

// Activate moves a fully funded contract into ACTIVE. Optional: shipping may
// be marked straight from FUNDED.
func (s *Service) Activate(ctx context.Context, contractID string) (*domain.Contract, error) {
	return s.simpleTransition(ctx, contractID, "activate", "contract.activated",
		[]domain.ContractStatus{domain.StatusFunded},
		domain.StatusActive, nil)
}

// MarkShipped records shipment. Legal from FUNDED or ACTIVE. When document
// gating is on, every required document must already be verified.
func (s *Service) MarkShipped(ctx context.Context, contractID string) (*domain.Contract, error) {
	return s.simpleTransition(ctx, contractID, "markShipped", "contract.goods_shipped",
		[]domain.ContractStatus{domain.StatusFunded, domain.StatusActive},
		domain.StatusGoodsShipped,
		func(c *domain.Contract) error {
			if err := s.checkDocuments(ctx, c); err != nil {
				return err
			}
			setOnce(&c.Milestones.Shipped)
			return nil
		})
}

// ConfirmReceipt records the buyer's receipt of the goods.
func (s *Service) ConfirmReceipt(ctx context.Context, contractID string) (*domain.Contract, error) {
	return s.simpleTransition(ctx, contractID, "confirmReceipt", "contract.goods_received",
		[]domain.ContractStatus{domain.StatusGoodsShipped},
		domain.StatusGoodsReceived,
		func(c *domain.Contract) error {
			if err := s.checkDocuments(ctx, c); err != nil {
				return err
			}
			setOnce(&c.Milestones.Received)
			return nil
		})
}

// Release pays the escrow out to the seller and completes the contract. The
// payout happens before the status commit: a failed transfer leaves the
// contract in GOODS_RECEIVED.
func (s *Service) Release(ctx context.Context, contractID string) (*domain.Contract, error) {
	unlock := s.lockContract(contractID)
	defer unlock()

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusGoodsReceived {
		return nil, transitionErr(c.Status, "release")
	}

	if _, err := s.escrow.Release(ctx, c); err != nil {
		return nil, err
	}

	c.Status = domain.StatusCompleted
	setOnce(&c.Milestones.Completed)
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, "escrow.released")
	return c, nil
}

// Dispute freezes the lifecycle. Only a party may raise one, and only while
// funds are at stake.
func (s *Service) Dispute(ctx context.Context, contractID, raisedBy string) (*domain.Contract, error) {
	unlock := s.lockContract(contractID)
	defer unlock()

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(raisedBy) {
		return nil, fmt.Errorf("%w: %s is not a party to this contract", xerrors.ErrInvalidRequest, raisedBy)
	}
	if !c.Status.Disputable() {
		return nil, transitionErr(c.Status, "dispute")
	}

	c.Status = domain.StatusDisputed
	c.DisputedBy = &raisedBy
	setOnce(&c.Milestones.Disputed)
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, "contract.disputed")
	return c, nil
}

// ResolveDispute settles a DISPUTED contract: RELEASE pays the seller and
// completes, REFUND returns the funds to the buyer and cancels.
func (s *Service) ResolveDispute(ctx context.Context, contractID string, outcome domain.DisputeOutcome) (*domain.Contract, error) {
	unlock := s.lockContract(contractID)
	defer unlock()

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusDisputed {
		return nil, transitionErr(c.Status, "resolveDispute")
	}

	var event string
	switch outcome {
	case domain.DisputeOutcomeRelease:
		if _, err := s.escrow.Release(ctx, c); err != nil {
			return nil, err
		}
		c.Status = domain.StatusCompleted
		setOnce(&c.Milestones.Completed)
		event = "dispute.resolved_release"
	case domain.DisputeOutcomeRefund:
		if _, err := s.escrow.Refund(ctx, c); err != nil {
			return nil, err
		}
		c.Status = domain.StatusCancelled
		event = "dispute.resolved_refund"
	default:
		return nil, fmt.Errorf("%w: unknown dispute outcome %q", xerrors.ErrInvalidRequest, outcome)
	}

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, event)
	return c, nil
}

// Cancel aborts a contract that has not started executing. Any escrow balance
// already locked goes back to the buyer first.
func (s *Service) Cancel(ctx context.Context, contractID string) (*domain.Contract, error) {
	unlock := s.lockContract(contractID)
	defer unlock()

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Cancellable() {
		return nil, transitionErr(c.Status, "cancel")
	}

	if _, err := s.escrow.Refund(ctx, c); err != nil {
		return nil, err
	}

	c.Status = domain.StatusCancelled
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, "contract.cancelled")
	return c, nil
}

func (s *Service) Get(ctx context.Context, contractID string) (*domain.Contract, error) {
	return s.repo.GetByID(ctx, contractID)
}

func (s *Service) List(ctx context.Context, f *domain.ContractFilter) ([]*domain.Contract, error) {
	return s.repo.List(ctx, f)
}

// simpleTransition is the shared shape of money-free guarded transitions.
func (s *Service) simpleTransition(
	ctx context.Context,
	contractID, op, event string,
	from []domain.ContractStatus,
	to domain.ContractStatus,
	mutate func(*domain.Contract) error,
) (*domain.Contract, error) {
	unlock := s.lockContract(contractID)
	defer unlock()

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	legal := false
	for _, st := range from {
		if c.Status == st {
			legal = true
			break
		}
	}
	if !legal {
		return nil, transitionErr(c.Status, op)
	}

	if mutate != nil {
		if err := mutate(c); err != nil {
			return nil, err
		}
	}
	c.Status = to
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.pub.PublishContract(ctx, c, event)
	return c, nil
}

func (s *Service) checkDocuments(ctx context.Context, c *domain.Contract) error {
	if !s.requireDocs || s.gate == nil {
		return nil
	}
	ok, err := docs.AllVerified(ctx, s.gate, c.ID)
	if err != nil {
		return fmt.Errorf("document gate check failed: %w", err)
	}
	if !ok {
		return xerrors.ErrDocumentsNotVerified
	}
	return nil
}

func validateParties(parties []domain.Party) error {
	roles := make(map[domain.PartyRole]bool, len(parties))
	owners := make(map[string]bool, len(parties))
	for _, p := range parties {
		if p.OwnerID == "" {
			return fmt.Errorf("%w: every party needs an owner", xerrors.ErrInvalidRequest)
		}
		switch p.Role {
		case domain.RoleBuyer, domain.RoleSeller, domain.RoleMediator:
		default:
			return fmt.Errorf("%w: unknown party role %q", xerrors.ErrInvalidRequest, p.Role)
		}
		if roles[p.Role] {
			return fmt.Errorf("%w: duplicate %s party", xerrors.ErrInvalidRequest, p.Role)
		}
		if owners[p.OwnerID] {
			return fmt.Errorf("%w: %s is listed twice", xerrors.ErrInvalidRequest, p.OwnerID)
		}
		roles[p.Role] = true
		owners[p.OwnerID] = true
	}
	if !roles[domain.RoleBuyer] || !roles[domain.RoleSeller] {
		return fmt.Errorf("%w: a buyer and a seller are required", xerrors.ErrInvalidRequest)
	}
	return nil
}

func transitionErr(from domain.ContractStatus, op string) error {
	return fmt.Errorf("%w: %s is not legal from %s", xerrors.ErrInvalidStateTransition, op, from)
}

// setOnce stamps a milestone the first time only.
func setOnce(p **time.Time) {
	if *p == nil {
		now := time.Now()
		*p = &now
	}
}
