package transaction

import (
	"context"
	"fmt"
	"time"

	"escrow-service/internal/domain"
	"escrow-service/internal/pub"
	"escrow-service/internal/repository"
	xerrors "escrow-service/pkg/xerrors"

	"escrow-service/pkg/id"

	"go.uber.org/zap"
)

// Service is the transaction journal: the single writer of journal rows and
// the single place a PENDING row turns terminal.
type Service struct {
	repo repository.TransactionRepository
	pub  *pub.EventPublisher
	log  *zap.SugaredLogger
}

func New(repo repository.TransactionRepository, publisher *pub.EventPublisher, log *zap.SugaredLogger) *Service {
	return &Service{repo: repo, pub: publisher, log: log}
}

// Record appends a journal row. Status must be PENDING (external rail still
// settling) or COMPLETED (synchronous internal mutation already applied).
func (s *Service) Record(ctx context.Context, t *domain.Transaction) (*domain.Transaction, error) {
	t, err := s.Prepare(t)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.Announce(ctx, t)
	return t, nil
}

// Prepare validates and stamps a row without persisting it. Callers that move
// money hand the prepared row to the wallet repository, which commits the
// balance change and the row as one unit, then call Announce. Everything else
// goes through Record.
func (s *Service) Prepare(t *domain.Transaction) (*domain.Transaction, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	t = t.Clone()
	t.ID = id.New("txn")
	t.CreatedAt = time.Now()
	if t.Status == "" {
		t.Status = domain.TxStatusCompleted
	}
	if t.Status == domain.TxStatusCompleted && t.CompletedAt == nil {
		now := t.CreatedAt
		t.CompletedAt = &now
	}
	return t, nil
}

// Announce logs and publishes a row already persisted by the ledger.
func (s *Service) Announce(ctx context.Context, t *domain.Transaction) {
	if s.log != nil {
		s.log.Infow("journal row appended",
			"tx_id", t.ID, "kind", t.Kind, "status", t.Status,
			"amount", t.Amount.String(), "currency", t.Currency)
	}
	s.pub.PublishTransaction(ctx, t)
}

// Complete resolves a PENDING row. Completing an already-COMPLETED row is a
// no-op; completing a FAILED row is an error.
func (s *Service) Complete(ctx context.Context, txID string) error {
	existing, err := s.repo.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	switch existing.Status {
	case domain.TxStatusCompleted:
		return nil // idempotent
	case domain.TxStatusFailed:
		return xerrors.ErrTransactionFinal
	}

	if err := s.repo.ResolvePending(ctx, txID, domain.TxStatusCompleted, nil, time.Now()); err != nil {
		return err
	}
	existing.Status = domain.TxStatusCompleted
	s.pub.PublishTransaction(ctx, existing)
	return nil
}

// Fail resolves a PENDING row as failed, mirroring Complete's idempotency.
func (s *Service) Fail(ctx context.Context, txID, reason string) error {
	existing, err := s.repo.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	switch existing.Status {
	case domain.TxStatusFailed:
		return nil // idempotent
	case domain.TxStatusCompleted:
		return xerrors.ErrTransactionFinal
	}

	if err := s.repo.ResolvePending(ctx, txID, domain.TxStatusFailed, &reason, time.Now()); err != nil {
		return err
	}
	existing.Status = domain.TxStatusFailed
	existing.ErrorMessage = &reason
	s.pub.PublishTransaction(ctx, existing)
	return nil
}

func (s *Service) Get(ctx context.Context, txID string) (*domain.Transaction, error) {
	return s.repo.GetByID(ctx, txID)
}

func (s *Service) GetByProviderRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	return s.repo.GetByProviderRef(ctx, ref)
}

// List returns journal rows most-recent-first.
func (s *Service) List(ctx context.Context, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return s.repo.List(ctx, f)
}

func validate(t *domain.Transaction) error {
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidRequest)
	}
	if t.Currency == "" {
		return fmt.Errorf("%w: currency is required", xerrors.ErrInvalidRequest)
	}
	switch t.Kind {
	case domain.TxKindDeposit:
		if t.FromWalletID != nil || t.ToWalletID == nil {
			return fmt.Errorf("%w: deposit needs a destination wallet only", xerrors.ErrInvalidRequest)
		}
	case domain.TxKindWithdrawal:
		if t.ToWalletID != nil || t.FromWalletID == nil {
			return fmt.Errorf("%w: withdrawal needs a source wallet only", xerrors.ErrInvalidRequest)
		}
	case domain.TxKindTransfer, domain.TxKindEscrowLock, domain.TxKindEscrowRelease,
		domain.TxKindEscrowRefund, domain.TxKindCrossBorderPayment:
		if t.FromWalletID == nil || t.ToWalletID == nil {
			return fmt.Errorf("%w: %s needs both wallets", xerrors.ErrInvalidRequest, t.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown transaction kind %q", xerrors.ErrInvalidRequest, t.Kind)
	}
	if t.Status != "" && t.Status != domain.TxStatusPending && t.Status != domain.TxStatusCompleted {
		return fmt.Errorf("%w: rows are recorded as PENDING or COMPLETED", xerrors.ErrInvalidRequest)
	}
	return nil
}
