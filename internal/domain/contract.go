package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractStatus is the single canonical, upper-case status enumeration.
// Comparisons go through the ordering table below, never through string casing.
type ContractStatus string

const (
	StatusDraft           ContractStatus = "DRAFT"
	StatusPendingApproval ContractStatus = "PENDING_APPROVAL"
	StatusAwaitingFunds   ContractStatus = "AWAITING_FUNDS"
	StatusFunded          ContractStatus = "FUNDED"
	StatusActive          ContractStatus = "ACTIVE"
	StatusGoodsShipped    ContractStatus = "GOODS_SHIPPED"
	StatusGoodsReceived   ContractStatus = "GOODS_RECEIVED"
	StatusCompleted       ContractStatus = "COMPLETED"
	StatusDisputed        ContractStatus = "DISPUTED"
	StatusCancelled       ContractStatus = "CANCELLED"
)

// statusRank totally orders the main lifecycle. DISPUTED and CANCELLED sit
// outside the order and rank as -1.
var statusRank = map[ContractStatus]int{
	StatusDraft:           0,
	StatusPendingApproval: 1,
	StatusAwaitingFunds:   2,
	StatusFunded:          3,
	StatusActive:          4,
	StatusGoodsShipped:    5,
	StatusGoodsReceived:   6,
	StatusCompleted:       7,
}

// Rank returns the position in the lifecycle order, or -1 for DISPUTED/CANCELLED.
func (s ContractStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or after other in the lifecycle order.
// Always false when either side is outside the order.
func (s ContractStatus) AtLeast(other ContractStatus) bool {
	sr, or := s.Rank(), other.Rank()
	return sr >= 0 && or >= 0 && sr >= or
}

// Terminal statuses admit no further transitions.
func (s ContractStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var disputableFrom = map[ContractStatus]bool{
	StatusFunded:        true,
	StatusActive:        true,
	StatusGoodsShipped:  true,
	StatusGoodsReceived: true,
}

var cancellableFrom = map[ContractStatus]bool{
	StatusDraft:           true,
	StatusPendingApproval: true,
	StatusAwaitingFunds:   true,
}

// Disputable reports whether a dispute may be raised from s.
func (s ContractStatus) Disputable() bool { return disputableFrom[s] }

// Cancellable reports whether a direct cancel may happen from s. A DISPUTED
// contract reaches CANCELLED only through dispute resolution in the buyer's
// favor, which is not a direct cancel.
func (s ContractStatus) Cancellable() bool { return cancellableFrom[s] }

type PartyRole string

const (
	RoleBuyer    PartyRole = "BUYER"  // importer
	RoleSeller   PartyRole = "SELLER" // exporter
	RoleMediator PartyRole = "MEDIATOR"
)

type Party struct {
	Role    PartyRole `json:"role"`
	OwnerID string    `json:"owner_id"`
}

// TradeTerms parameterize the escrow requirement of a contract.
type TradeTerms struct {
	Currency         string          `json:"currency"`
	Value            decimal.Decimal `json:"value"`
	DeliveryDeadline time.Time       `json:"delivery_deadline"`
	InspectionDays   int             `json:"inspection_days"`
}

// Milestones are lifecycle timestamps, each set at most once and monotonically.
type Milestones struct {
	Created   *time.Time `json:"created,omitempty"`
	Approved  *time.Time `json:"approved,omitempty"`
	Funded    *time.Time `json:"funded,omitempty"`
	Shipped   *time.Time `json:"shipped,omitempty"`
	Received  *time.Time `json:"received,omitempty"`
	Completed *time.Time `json:"completed,omitempty"`
	Disputed  *time.Time `json:"disputed,omitempty"`
}

type Contract struct {
	ID             string          `json:"id"`
	Status         ContractStatus  `json:"status"`
	Parties        []Party         `json:"parties"`
	Terms          TradeTerms      `json:"terms"`
	Approvals      map[string]bool `json:"approvals"` // owner id -> approved
	EscrowWalletID *string         `json:"escrow_wallet_id,omitempty"`
	Milestones     Milestones      `json:"milestones"`
	DisputedBy     *string         `json:"disputed_by,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PartyByRole returns the first party with the role, or nil.
func (c *Contract) PartyByRole(role PartyRole) *Party {
	for i := range c.Parties {
		if c.Parties[i].Role == role {
			return &c.Parties[i]
		}
	}
	return nil
}

// IsParty reports whether the owner is listed on the contract.
func (c *Contract) IsParty(ownerID string) bool {
	for i := range c.Parties {
		if c.Parties[i].OwnerID == ownerID {
			return true
		}
	}
	return false
}

// AllApproved reports whether every listed party has approved.
func (c *Contract) AllApproved() bool {
	for i := range c.Parties {
		if !c.Approvals[c.Parties[i].OwnerID] {
			return false
		}
	}
	return len(c.Parties) > 0
}

func (c *Contract) Clone() *Contract {
	cp := *c
	cp.Parties = append([]Party(nil), c.Parties...)
	cp.Approvals = make(map[string]bool, len(c.Approvals))
	for k, v := range c.Approvals {
		cp.Approvals[k] = v
	}
	cp.EscrowWalletID = cloneStrPtr(c.EscrowWalletID)
	cp.DisputedBy = cloneStrPtr(c.DisputedBy)
	cp.Milestones = Milestones{
		Created:   cloneTimePtr(c.Milestones.Created),
		Approved:  cloneTimePtr(c.Milestones.Approved),
		Funded:    cloneTimePtr(c.Milestones.Funded),
		Shipped:   cloneTimePtr(c.Milestones.Shipped),
		Received:  cloneTimePtr(c.Milestones.Received),
		Completed: cloneTimePtr(c.Milestones.Completed),
		Disputed:  cloneTimePtr(c.Milestones.Disputed),
	}
	return &cp
}

type ContractFilter struct {
	Status  *ContractStatus
	OwnerID *string
	Limit   int
}

func (f *ContractFilter) Matches(c *Contract) bool {
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.OwnerID != nil && !c.IsParty(*f.OwnerID) {
		return false
	}
	return true
}

type DisputeOutcome string

const (
	DisputeOutcomeRelease DisputeOutcome = "RELEASE"
	DisputeOutcomeRefund  DisputeOutcome = "REFUND"
)

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
