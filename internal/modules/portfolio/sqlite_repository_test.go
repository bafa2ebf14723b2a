package portfolio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/database"
	"github.com/aristath/nexus/internal/domain"
)

func newSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    database.NameLedger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	return NewSQLiteRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestSQLiteRepository_GetMissingReturnsNil(t *testing.T) {
	repo := newSQLiteRepo(t)

	p, err := repo.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	p := NewPortfolio("u1", now)
	p.Cash = 500
	p.RiskProfile = domain.RiskProfile{RiskLevel: domain.Aggressive, RiskScore: 75}
	p.Assets = []Position{
		{Symbol: "SPY", Name: "S&P 500", Category: domain.Equity, Subcategory: domain.LargeCap, Quantity: 2, Price: 100},
		{Symbol: "BTC", Name: "Bitcoin", Category: domain.Crypto, Subcategory: domain.Bitcoin, Quantity: 0.5, Price: 1000},
	}
	p.Goals = []Goal{{ID: "g1", Name: "House", TargetAmount: 1000, TargetDate: now.AddDate(1, 0, 0), Priority: PriorityHigh, CreatedAt: now}}
	p.Recalculate()
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, 500.0, got.Cash)
	assert.Equal(t, 1200.0, got.TotalValue)
	assert.Equal(t, domain.Aggressive, got.RiskProfile.RiskLevel)
	assert.True(t, got.Settings.TradingEnabled)
	require.Len(t, got.Assets, 2)
	assert.Equal(t, "SPY", got.Assets[0].Symbol)
	assert.Equal(t, "BTC", got.Assets[1].Symbol)
	require.Len(t, got.Goals, 1)
	assert.Equal(t, PriorityHigh, got.Goals[0].Priority)
	assert.True(t, got.Goals[0].TargetDate.Equal(now.AddDate(1, 0, 0)))
}

func TestSQLiteRepository_GoalIDsAreScopedPerUser(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	alice := NewPortfolio("alice", now)
	alice.Goals = []Goal{{ID: "g1", Name: "House", TargetAmount: 50000, TargetDate: now.AddDate(5, 0, 0), Priority: PriorityHigh, CreatedAt: now}}
	require.NoError(t, repo.Save(ctx, alice))

	bob := NewPortfolio("bob", now)
	bob.Goals = []Goal{{ID: "g1", Name: "Boat", TargetAmount: 1000, TargetDate: now.AddDate(1, 0, 0), Priority: PriorityLow, CreatedAt: now}}
	require.NoError(t, repo.Save(ctx, bob))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got.Goals, 1)
	assert.Equal(t, "House", got.Goals[0].Name)
	assert.Equal(t, 50000.0, got.Goals[0].TargetAmount)

	got, err = repo.Get(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, got.Goals, 1)
	assert.Equal(t, "Boat", got.Goals[0].Name)
}

func TestSQLiteRepository_UpdateRollsBackOnError(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	fresh := func() *Portfolio { return NewPortfolio("u1", time.Now()) }

	_, err := repo.Update(ctx, "u1", fresh, func(p *Portfolio) ([]Transaction, error) {
		p.Cash = 100
		p.Recalculate()
		return []Transaction{{ID: "t1", UserID: "u1", Type: Deposit, Amount: 100, Date: time.Now()}}, nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = repo.Update(ctx, "u1", fresh, func(p *Portfolio) ([]Transaction, error) {
		p.Cash = 0
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Cash)

	txs, err := repo.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, Deposit, txs[0].Type)
}

func TestSQLiteRepository_WithLedger(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	l := NewLedger(newSQLiteRepo(t), nil, nil, log)
	ctx := context.Background()

	_, err := l.UpdateCash(ctx, "u1", 1000, Deposit)
	require.NoError(t, err)
	_, err = l.ApplyTrades(ctx, "u1", []domain.Trade{{Symbol: "SPY", Quantity: 3, Price: 100}})
	require.NoError(t, err)
	_, err = l.ApplyTrades(ctx, "u1", []domain.Trade{{Symbol: "SPY", Quantity: 3, Price: 120, Action: domain.Sell}})
	require.NoError(t, err)

	p, err := l.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.Assets)
	assert.InDelta(t, 1060.0, p.Cash, 1e-9)
	assert.InDelta(t, 1060.0, p.TotalValue, 1e-9)

	txs, err := l.ListTransactions(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}
