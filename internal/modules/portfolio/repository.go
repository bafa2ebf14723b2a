package portfolio

import (
	"context"
	"sort"
	"sync"
)

// UpdateFunc mutates a portfolio copy and returns the transactions to append.
// Returning an error discards the mutation.
type UpdateFunc func(p *Portfolio) ([]Transaction, error)

// Repository persists portfolios and the transaction trail.
// Update must apply the portfolio change and its transactions atomically.
type Repository interface {
	// Get returns the stored portfolio, or nil when the user has none
	Get(ctx context.Context, userID string) (*Portfolio, error)
	// Save stores the portfolio as-is
	Save(ctx context.Context, p *Portfolio) error
	// Update runs fn against the current portfolio (a fresh one when absent)
	// and persists the result together with the returned transactions
	Update(ctx context.Context, userID string, fresh func() *Portfolio, fn UpdateFunc) (*Portfolio, error)
	// AppendTransaction records a transaction outside a portfolio update
	AppendTransaction(ctx context.Context, t Transaction) error
	// ListTransactions returns the most recent transactions first
	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

// MemoryRepository is a Repository held in process memory
type MemoryRepository struct {
	portfolios   map[string]*Portfolio
	transactions map[string][]Transaction
	mu           sync.RWMutex
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		portfolios:   make(map[string]*Portfolio),
		transactions: make(map[string][]Transaction),
	}
}

// Get returns a copy of the stored portfolio
func (r *MemoryRepository) Get(ctx context.Context, userID string) (*Portfolio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.portfolios[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

// Save stores a copy of p
func (r *MemoryRepository) Save(ctx context.Context, p *Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.portfolios[p.UserID] = p.Clone()
	return nil
}

// Update applies fn under the repository lock
func (r *MemoryRepository) Update(ctx context.Context, userID string, fresh func() *Portfolio, fn UpdateFunc) (*Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var working *Portfolio
	if existing, ok := r.portfolios[userID]; ok {
		working = existing.Clone()
	} else {
		working = fresh()
	}

	txs, err := fn(working)
	if err != nil {
		return nil, err
	}

	r.portfolios[userID] = working.Clone()
	r.transactions[userID] = append(r.transactions[userID], txs...)
	return working, nil
}

// AppendTransaction appends to the user's trail
func (r *MemoryRepository) AppendTransaction(ctx context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transactions[t.UserID] = append(r.transactions[t.UserID], t)
	return nil
}

// ListTransactions returns up to limit transactions, newest first
func (r *MemoryRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.transactions[userID]
	result := make([]Transaction, len(all))
	copy(result, all)

	// Stable keeps insertion order for equal timestamps before reversing
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
