// Package portfolio projects portfolio lifecycle events.
package portfolio

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/model"
	portfoliomodel "github.com/polymesh-project/prism/model/portfolio"
)

type Projector struct{}

func NewProjector() *Projector {
	return &Projector{}
}

func (p *Projector) Register(d *indexer.Dispatcher) {
	d.Register(indexer.PortfolioModule, indexer.PortfolioCreated, p.OnPortfolioCreated)
	d.Register(indexer.PortfolioModule, indexer.PortfolioRenamed, p.OnPortfolioRenamed)
	d.Register(indexer.PortfolioModule, indexer.PortfolioDeleted, p.OnPortfolioDeleted)
}

// OnPortfolioCreated handles [did, number, name].
func (p *Projector) OnPortfolioCreated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	number, err := ev.Args.U64(1)
	if err != nil {
		return err
	}
	name, err := chain.DecodeTextOpt(ev.Args, 2)
	if err != nil {
		return err
	}
	port, err := p.FindOrCreate(ctx, ev, tx, did, number)
	if err != nil {
		return err
	}
	port.Name = name
	port.UpdatedBlockID = ev.BlockID
	port.Datetime = ev.Datetime
	return port.Persist(ctx, tx)
}

// OnPortfolioRenamed handles [did, number, name]. The portfolio must exist.
func (p *Projector) OnPortfolioRenamed(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	number, err := ev.Args.U64(1)
	if err != nil {
		return err
	}
	name, err := ev.Args.Text(2)
	if err != nil {
		return err
	}
	port := &portfoliomodel.Portfolio{ID: portfoliomodel.ID(did, number)}
	if err := tx.GetModel(ctx, port); err != nil {
		return xerrors.Errorf("renaming portfolio %s/%d: %w", did, number, err)
	}
	port.Name = name
	port.UpdatedBlockID = ev.BlockID
	port.Datetime = ev.Datetime
	return port.Persist(ctx, tx)
}

// OnPortfolioDeleted handles [did, number]. Deleting an unknown portfolio is
// fatal.
func (p *Projector) OnPortfolioDeleted(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	number, err := ev.Args.U64(1)
	if err != nil {
		return err
	}
	port := &portfoliomodel.Portfolio{ID: portfoliomodel.ID(did, number)}
	if err := tx.GetModel(ctx, port); err != nil {
		return xerrors.Errorf("deleting portfolio %s/%d: %w", did, number, err)
	}
	return tx.DeleteModel(ctx, port)
}

// FindOrCreate returns the portfolio row for (did, number), creating it when
// it is referenced before its creation event has been processed. Leg parties
// are not required to pre-exist on chain before an instruction names them.
func (p *Projector) FindOrCreate(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore, did string, number uint64) (*portfoliomodel.Portfolio, error) {
	port := &portfoliomodel.Portfolio{ID: portfoliomodel.ID(did, number)}
	err := tx.GetModel(ctx, port)
	switch {
	case err == nil:
		return port, nil
	case !model.IsNotFound(err):
		return nil, err
	}

	kind := portfoliomodel.KindUser
	if number == portfoliomodel.DefaultNumber {
		kind = portfoliomodel.KindDefault
	}
	port = &portfoliomodel.Portfolio{
		ID:             portfoliomodel.ID(did, number),
		IdentityID:     did,
		Number:         number,
		Kind:           kind,
		EventID:        ev.EventID(),
		CreatedBlockID: ev.BlockID,
		UpdatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	if err := port.Persist(ctx, tx); err != nil {
		return nil, err
	}
	return port, nil
}
