package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"escrow-service/internal/domain"
	xerrors "escrow-service/pkg/xerrors"
)

// TransactionRepository is the in-memory journal. Append-mostly: rows mutate
// only on the PENDING -> terminal edge. Reads copy under RLock and never block
// writers beyond the map access itself.
type TransactionRepository struct {
	mu      sync.RWMutex
	rows    map[string]*domain.Transaction
	ordered []string // insertion order, oldest first
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{rows: make(map[string]*domain.Transaction)}
}

func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[t.ID] = t.Clone()
	r.ordered = append(r.ordered, t.ID)
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.rows[id]
	if !ok {
		return nil, xerrors.ErrTransactionNotFound
	}
	return t.Clone(), nil
}

func (r *TransactionRepository) GetByProviderRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.rows {
		if t.ProviderRef != nil && *t.ProviderRef == ref {
			return t.Clone(), nil
		}
	}
	return nil, xerrors.ErrTransactionNotFound
}

func (r *TransactionRepository) ResolvePending(ctx context.Context, id string, status domain.TransactionStatus, errMsg *string, completedAt time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return xerrors.ErrTransactionNotFound
	}
	if t.Status.Terminal() {
		return xerrors.ErrTransactionFinal
	}
	t.Status = status
	if errMsg != nil {
		v := *errMsg
		t.ErrorMessage = &v
	}
	ts := completedAt
	t.CompletedAt = &ts
	return nil
}

func (r *TransactionRepository) List(ctx context.Context, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Transaction
	// Walk newest first.
	for i := len(r.ordered) - 1; i >= 0; i-- {
		t := r.rows[r.ordered[i]]
		if f != nil && !f.Matches(t) {
			continue
		}
		out = append(out, t.Clone())
		if f != nil && f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	// Stable most-recent-first even when CreatedAt ties within one millisecond.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
