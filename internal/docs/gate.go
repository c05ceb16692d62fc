package docs

import (
	"context"
	"sync"
)

// DocumentGate is the read-only view of an external document service. The core
// never stores documents; it only asks whether the ones a contract requires
// have been verified.
type DocumentGate interface {
	IsDocumentVerified(ctx context.Context, documentID string) (bool, error)
	RequiredDocuments(ctx context.Context, contractID string) ([]string, error)
}

// AllVerified checks every required document of a contract against the gate.
func AllVerified(ctx context.Context, gate DocumentGate, contractID string) (bool, error) {
	required, err := gate.RequiredDocuments(ctx, contractID)
	if err != nil {
		return false, err
	}
	for _, docID := range required {
		ok, err := gate.IsDocumentVerified(ctx, docID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// MemoryGate is an in-process registry standing in for the document service.
type MemoryGate struct {
	mu       sync.RWMutex
	verified map[string]bool
	required map[string][]string // contract id -> document ids
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		verified: make(map[string]bool),
		required: make(map[string][]string),
	}
}

func (g *MemoryGate) Require(contractID string, documentIDs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.required[contractID] = append(g.required[contractID], documentIDs...)
}

func (g *MemoryGate) SetVerified(documentID string, verified bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified[documentID] = verified
}

func (g *MemoryGate) IsDocumentVerified(ctx context.Context, documentID string) (bool, error) {
	_ = ctx
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.verified[documentID], nil
}

func (g *MemoryGate) RequiredDocuments(ctx context.Context, contractID string) ([]string, error) {
	_ = ctx
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.required[contractID]...), nil
}
