package portfolio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/model"
	portfoliomodel "github.com/polymesh-project/prism/model/portfolio"
	"github.com/polymesh-project/prism/storage"
	portfoliotask "github.com/polymesh-project/prism/tasks/portfolio"
)

func testEvent(event string, idx int, args ...interface{}) *chain.NormalizedEvent {
	return &chain.NormalizedEvent{
		Module:   "portfolio",
		Event:    event,
		BlockID:  "100",
		EventIdx: idx,
		Datetime: time.Unix(1700000000, 0).UTC(),
		Args:     chain.ValueArgs(args...),
	}
}

func TestPortfolioCreated(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := portfoliotask.NewProjector()

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnPortfolioCreated(ctx, testEvent("PortfolioCreated", 0, "0xd1", uint64(2), "Savings"), tx)
	}))

	port := &portfoliomodel.Portfolio{ID: "0xd1/2"}
	require.NoError(t, s.GetModel(ctx, port))
	assert.Equal(t, portfoliomodel.KindUser, port.Kind)
	assert.Equal(t, "Savings", port.Name)
	assert.Equal(t, uint64(2), port.Number)
}

func TestPortfolioRenamed(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := portfoliotask.NewProjector()

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnPortfolioCreated(ctx, testEvent("PortfolioCreated", 0, "0xd1", uint64(2), "Savings"), tx)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnPortfolioRenamed(ctx, testEvent("PortfolioRenamed", 1, "0xd1", uint64(2), "Cold"), tx)
	}))

	port := &portfoliomodel.Portfolio{ID: "0xd1/2"}
	require.NoError(t, s.GetModel(ctx, port))
	assert.Equal(t, "Cold", port.Name)

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnPortfolioRenamed(ctx, testEvent("PortfolioRenamed", 2, "0xd1", uint64(9), "Ghost"), tx)
	})
	assert.True(t, model.IsNotFound(err))
}

func TestPortfolioDeleted(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := portfoliotask.NewProjector()

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnPortfolioCreated(ctx, testEvent("PortfolioCreated", 0, "0xd1", uint64(2), "Savings"), tx)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnPortfolioDeleted(ctx, testEvent("PortfolioDeleted", 1, "0xd1", uint64(2)), tx)
	}))
	assert.Equal(t, 0, s.Len("portfolios"))

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnPortfolioDeleted(ctx, testEvent("PortfolioDeleted", 2, "0xd1", uint64(2)), tx)
	})
	assert.True(t, model.IsNotFound(err))
}

func TestFindOrCreate(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := portfoliotask.NewProjector()

	ev := testEvent("PortfolioCreated", 0)
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		first, err := p.FindOrCreate(ctx, ev, tx, "0xd1", 0)
		if err != nil {
			return err
		}
		assert.Equal(t, portfoliomodel.KindDefault, first.Kind)

		// Same portfolio again inside the same transaction resolves to the
		// staged row rather than creating a duplicate.
		again, err := p.FindOrCreate(ctx, ev, tx, "0xd1", 0)
		if err != nil {
			return err
		}
		assert.Equal(t, first.ID, again.ID)

		user, err := p.FindOrCreate(ctx, ev, tx, "0xd1", 4)
		if err != nil {
			return err
		}
		assert.Equal(t, portfoliomodel.KindUser, user.Kind)
		return nil
	}))

	assert.Equal(t, 2, s.Len("portfolios"))
}
