package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"escrow-service/internal/domain"
	xerrors "escrow-service/pkg/xerrors"
)

// ContractRepository is the in-memory contract store with the same optimistic
// versioning contract as the postgres implementation.
type ContractRepository struct {
	mu        sync.RWMutex
	contracts map[string]*domain.Contract
}

func NewContractRepository() *ContractRepository {
	return &ContractRepository{contracts: make(map[string]*domain.Contract)}
}

func (r *ContractRepository) Create(ctx context.Context, c *domain.Contract) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[c.ID] = c.Clone()
	return nil
}

func (r *ContractRepository) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[id]
	if !ok {
		return nil, xerrors.ErrContractNotFound
	}
	return c.Clone(), nil
}

func (r *ContractRepository) Update(ctx context.Context, c *domain.Contract) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.contracts[c.ID]
	if !ok {
		return xerrors.ErrContractNotFound
	}
	if existing.Version != c.Version {
		return xerrors.ErrConcurrentModification
	}
	cp := c.Clone()
	cp.Version++
	cp.UpdatedAt = time.Now()
	r.contracts[cp.ID] = cp
	c.Version = cp.Version
	return nil
}

func (r *ContractRepository) List(ctx context.Context, f *domain.ContractFilter) ([]*domain.Contract, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Contract
	for _, c := range r.contracts {
		if f != nil && !f.Matches(c) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f != nil && f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
