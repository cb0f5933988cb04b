// Package settlement projects venue and instruction lifecycle events: leg
// bookkeeping, finalization records and mediator affirmations.
package settlement

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/model"
	portfoliomodel "github.com/polymesh-project/prism/model/portfolio"
	settlementmodel "github.com/polymesh-project/prism/model/settlement"
	identitytask "github.com/polymesh-project/prism/tasks/identity"
	portfoliotask "github.com/polymesh-project/prism/tasks/portfolio"
)

var log = logging.Logger("prism/tasks/settlement")

type Projector struct {
	identities *identitytask.Projector
	portfolios *portfoliotask.Projector
}

func NewProjector(identities *identitytask.Projector, portfolios *portfoliotask.Projector) *Projector {
	return &Projector{
		identities: identities,
		portfolios: portfolios,
	}
}

func (p *Projector) Register(d *indexer.Dispatcher) {
	d.Register(indexer.SettlementModule, indexer.VenueCreated, p.OnVenueCreated)
	d.Register(indexer.SettlementModule, indexer.VenueDetailsUpdated, p.OnVenueDetailsUpdated)
	d.Register(indexer.SettlementModule, indexer.VenueTypeUpdated, p.OnVenueTypeUpdated)
	d.Register(indexer.SettlementModule, indexer.InstructionCreated, p.OnInstructionCreated)
	d.Register(indexer.SettlementModule, indexer.InstructionAffirmed, p.OnInstructionUpdate)
	d.Register(indexer.SettlementModule, indexer.AffirmationWithdrawn, p.OnInstructionUpdate)
	d.Register(indexer.SettlementModule, indexer.InstructionExecuted, p.onFinalized(settlementmodel.StatusExecuted, settlementmodel.ResultExecuted))
	d.Register(indexer.SettlementModule, indexer.InstructionRejected, p.onFinalized(settlementmodel.StatusRejected, settlementmodel.ResultRejected))
	d.Register(indexer.SettlementModule, indexer.InstructionFailed, p.onFinalized(settlementmodel.StatusFailed, settlementmodel.ResultFailed))
	d.Register(indexer.SettlementModule, indexer.FailedToExecuteInstruction, p.OnFailedToExecuteInstruction)
	d.Register(indexer.SettlementModule, indexer.InstructionMediators, p.OnInstructionMediators)
	d.Register(indexer.SettlementModule, indexer.MediatorAffirmationReceived, p.OnMediatorAffirmation)
	d.Register(indexer.SettlementModule, indexer.MediatorAffirmationWithdrawn, p.OnMediatorWithdrawn)
}

// OnVenueCreated handles [did, venueId, details, type].
func (p *Projector) OnVenueCreated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	venueID, err := ev.Args.Text(1)
	if err != nil {
		return err
	}
	details, err := chain.DecodeTextOpt(ev.Args, 2)
	if err != nil {
		return err
	}
	venueType, err := chain.DecodeTextOpt(ev.Args, 3)
	if err != nil {
		return err
	}
	venue := &settlementmodel.Venue{
		ID:             venueID,
		IdentityID:     did,
		Details:        details,
		Type:           venueType,
		CreatedBlockID: ev.BlockID,
		UpdatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	return venue.Persist(ctx, tx)
}

// OnVenueDetailsUpdated handles [did, venueId, details]. The venue must exist.
func (p *Projector) OnVenueDetailsUpdated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	venueID, err := ev.Args.Text(1)
	if err != nil {
		return err
	}
	details, err := ev.Args.Text(2)
	if err != nil {
		return err
	}
	venue := &settlementmodel.Venue{ID: venueID}
	if err := tx.GetModel(ctx, venue); err != nil {
		return xerrors.Errorf("updating venue %s: %w", venueID, err)
	}
	venue.Details = details
	venue.UpdatedBlockID = ev.BlockID
	venue.Datetime = ev.Datetime
	return venue.Persist(ctx, tx)
}

// OnVenueTypeUpdated handles [did, venueId, type]. The venue must exist.
func (p *Projector) OnVenueTypeUpdated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	venueID, err := ev.Args.Text(1)
	if err != nil {
		return err
	}
	venueType, err := ev.Args.Text(2)
	if err != nil {
		return err
	}
	venue := &settlementmodel.Venue{ID: venueID}
	if err := tx.GetModel(ctx, venue); err != nil {
		return xerrors.Errorf("updating venue %s: %w", venueID, err)
	}
	venue.Type = venueType
	venue.UpdatedBlockID = ev.BlockID
	venue.Datetime = ev.Datetime
	return venue.Persist(ctx, tx)
}

// OnInstructionCreated handles [did, venueId, instructionId, settlementType,
// tradeDate, valueDate, legs, memo]. Leg party portfolios are created on
// demand before the leg rows so no leg ever references a missing portfolio.
func (p *Projector) OnInstructionCreated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	venueID, err := ev.Args.Text(1)
	if err != nil {
		return err
	}
	instructionID, err := ev.Args.Text(2)
	if err != nil {
		return err
	}
	settlementType, endBlock, err := chain.DecodeSettlementType(ev.Args, 3)
	if err != nil {
		return err
	}
	tradeDate, err := chain.DecodeTimeOpt(ev.Args, 4)
	if err != nil {
		return err
	}
	valueDate, err := chain.DecodeTimeOpt(ev.Args, 5)
	if err != nil {
		return err
	}
	legs, err := chain.DecodeLegs(ev.Args, 6, ev.SpecVersion)
	if err != nil {
		return err
	}
	var memo string
	if ev.Args.Len() > 7 {
		memo, err = chain.DecodeTextOpt(ev.Args, 7)
		if err != nil {
			return err
		}
	}

	instruction := &settlementmodel.Instruction{
		ID:             instructionID,
		Status:         settlementmodel.StatusCreated,
		VenueID:        venueID,
		SettlementType: settlementType,
		EndBlock:       endBlock,
		TradeDate:      tradeDate,
		ValueDate:      valueDate,
		Memo:           memo,
		EventID:        ev.EventID(),
		EventIdx:       ev.EventIdx,
		CreatedBlockID: ev.BlockID,
		UpdatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	if err := instruction.Persist(ctx, tx); err != nil {
		return err
	}

	dids := map[string]struct{}{}
	for idx, leg := range legs {
		for _, party := range []chain.PortfolioInput{leg.From, leg.To} {
			if err := p.identities.CreateIdentityIfNotExists(ctx, ev, tx, party.DID); err != nil {
				return err
			}
			if _, err := p.portfolios.FindOrCreate(ctx, ev, tx, party.DID, party.Number); err != nil {
				return err
			}
			dids[party.DID] = struct{}{}
		}

		row := &settlementmodel.Leg{
			ID:             settlementmodel.LegID(instructionID, idx),
			InstructionID:  instructionID,
			LegIndex:       idx,
			LegType:        leg.Kind,
			FromID:         legPartyID(leg.From),
			ToID:           legPartyID(leg.To),
			AssetID:        leg.Asset,
			Amount:         leg.Amount,
			NftIDs:         leg.NftIDs,
			CreatedBlockID: ev.BlockID,
			UpdatedBlockID: ev.BlockID,
			Datetime:       ev.Datetime,
		}
		row.AddAddress(ev.Signer)
		if err := row.Persist(ctx, tx); err != nil {
			return err
		}
	}

	for did := range dids {
		join := &settlementmodel.IdentityInstruction{
			ID:             settlementmodel.IdentityInstructionID(did, instructionID, ev.BlockID),
			IdentityID:     did,
			InstructionID:  instructionID,
			CreatedBlockID: ev.BlockID,
			Datetime:       ev.Datetime,
		}
		if err := join.Persist(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func legPartyID(p chain.PortfolioInput) string {
	return portfoliomodel.ID(p.DID, p.Number)
}

// OnInstructionUpdate handles affirmation-type events [did, portfolio,
// instructionId]: touches the instruction and accumulates the signer on
// every leg.
func (p *Projector) OnInstructionUpdate(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	instructionID, err := ev.Args.Text(2)
	if err != nil {
		return err
	}
	instruction := &settlementmodel.Instruction{ID: instructionID}
	if err := tx.GetModel(ctx, instruction); err != nil {
		return xerrors.Errorf("updating instruction %s: %w", instructionID, err)
	}
	if instruction.Terminal() {
		log.Warnw("update for terminal instruction ignored", "instruction", instructionID, "status", instruction.Status, "event", ev.Key())
		return nil
	}
	instruction.EventID = ev.EventID()
	instruction.EventIdx = ev.EventIdx
	instruction.UpdatedBlockID = ev.BlockID
	instruction.Datetime = ev.Datetime
	if err := instruction.Persist(ctx, tx); err != nil {
		return err
	}
	return p.touchLegs(ctx, ev, tx, instructionID, "")
}

// onFinalized builds the handler for one terminal lifecycle event
// [did, instructionId]: sets the terminal status, creates the settlement
// record, back-links the legs and cascades mediator rejection.
func (p *Projector) onFinalized(status, result string) indexer.HandlerFunc {
	return func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		did, err := ev.Args.Address(0)
		if err != nil {
			return err
		}
		instructionID, err := ev.Args.Text(1)
		if err != nil {
			return err
		}
		instruction := &settlementmodel.Instruction{ID: instructionID}
		if err := tx.GetModel(ctx, instruction); err != nil {
			return xerrors.Errorf("finalizing instruction %s: %w", instructionID, err)
		}
		if instruction.Terminal() {
			// Benign when reconciliation or a replay already closed it out.
			log.Warnw("finalization for terminal instruction ignored", "instruction", instructionID, "status", instruction.Status, "event", ev.Key())
			return nil
		}

		instruction.Status = status
		instruction.EventID = ev.EventID()
		instruction.EventIdx = ev.EventIdx
		instruction.UpdatedBlockID = ev.BlockID
		instruction.Datetime = ev.Datetime
		if err := instruction.Persist(ctx, tx); err != nil {
			return err
		}

		settlement := &settlementmodel.Settlement{
			ID:             ev.EventID(),
			Result:         result,
			CreatedBlockID: ev.BlockID,
			Datetime:       ev.Datetime,
		}
		if err := settlement.Persist(ctx, tx); err != nil {
			return err
		}
		if err := p.touchLegs(ctx, ev, tx, instructionID, settlement.ID); err != nil {
			return err
		}

		if status != settlementmodel.StatusRejected {
			return nil
		}
		// A mediator who had affirmed has that affirmation invalidated when
		// the instruction as a whole is rejected.
		affirmation := &settlementmodel.MediatorAffirmation{ID: settlementmodel.MediatorAffirmationID(did, instructionID)}
		switch err := tx.GetModel(ctx, affirmation); {
		case model.IsNotFound(err):
			return nil
		case err != nil:
			return err
		}
		affirmation.Status = settlementmodel.AffirmationRejected
		affirmation.UpdatedBlockID = ev.BlockID
		affirmation.Datetime = ev.Datetime
		return affirmation.Persist(ctx, tx)
	}
}

// OnFailedToExecuteInstruction handles [instructionId]: a failure without a
// finalization event, so no settlement record is created.
func (p *Projector) OnFailedToExecuteInstruction(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	instructionID, err := ev.Args.Text(0)
	if err != nil {
		return err
	}
	instruction := &settlementmodel.Instruction{ID: instructionID}
	if err := tx.GetModel(ctx, instruction); err != nil {
		return xerrors.Errorf("failing instruction %s: %w", instructionID, err)
	}
	if instruction.Terminal() {
		log.Warnw("failure for terminal instruction ignored", "instruction", instructionID, "status", instruction.Status)
		return nil
	}
	instruction.Status = settlementmodel.StatusFailed
	instruction.EventID = ev.EventID()
	instruction.EventIdx = ev.EventIdx
	instruction.UpdatedBlockID = ev.BlockID
	instruction.Datetime = ev.Datetime
	return instruction.Persist(ctx, tx)
}

// OnInstructionMediators handles [instructionId, dids]: one pending
// affirmation per named mediator identity.
func (p *Projector) OnInstructionMediators(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	instructionID, err := ev.Args.Text(0)
	if err != nil {
		return err
	}
	dids, err := chain.DecodeTextList(ev.Args, 1)
	if err != nil {
		return err
	}
	for _, did := range dids {
		if err := p.identities.CreateIdentityIfNotExists(ctx, ev, tx, did); err != nil {
			return err
		}
		affirmation := &settlementmodel.MediatorAffirmation{
			ID:             settlementmodel.MediatorAffirmationID(did, instructionID),
			IdentityID:     did,
			InstructionID:  instructionID,
			Status:         settlementmodel.AffirmationPending,
			CreatedBlockID: ev.BlockID,
			UpdatedBlockID: ev.BlockID,
			Datetime:       ev.Datetime,
		}
		if err := affirmation.Persist(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

// OnMediatorAffirmation handles [did, instructionId, expiry]: Pending to
// Affirmed. The affirmation must exist.
func (p *Projector) OnMediatorAffirmation(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	instructionID, err := ev.Args.Text(1)
	if err != nil {
		return err
	}
	var expiry *time.Time
	if ev.Args.Len() > 2 {
		expiry, err = chain.DecodeTimeOpt(ev.Args, 2)
		if err != nil {
			return err
		}
	}
	affirmation := &settlementmodel.MediatorAffirmation{ID: settlementmodel.MediatorAffirmationID(did, instructionID)}
	if err := tx.GetModel(ctx, affirmation); err != nil {
		return xerrors.Errorf("affirming instruction %s for mediator %s: %w", instructionID, did, err)
	}
	affirmation.Status = settlementmodel.AffirmationAffirmed
	affirmation.Expiry = expiry
	affirmation.UpdatedBlockID = ev.BlockID
	affirmation.Datetime = ev.Datetime
	return affirmation.Persist(ctx, tx)
}

// OnMediatorWithdrawn handles [did, instructionId]: back to Pending with the
// expiry cleared. The affirmation must exist.
func (p *Projector) OnMediatorWithdrawn(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	instructionID, err := ev.Args.Text(1)
	if err != nil {
		return err
	}
	affirmation := &settlementmodel.MediatorAffirmation{ID: settlementmodel.MediatorAffirmationID(did, instructionID)}
	if err := tx.GetModel(ctx, affirmation); err != nil {
		return xerrors.Errorf("withdrawing affirmation of %s for mediator %s: %w", instructionID, did, err)
	}
	affirmation.Status = settlementmodel.AffirmationPending
	affirmation.Expiry = nil
	affirmation.UpdatedBlockID = ev.BlockID
	affirmation.Datetime = ev.Datetime
	return affirmation.Persist(ctx, tx)
}

// touchLegs accumulates the event signer on every leg of the instruction
// and back-links them to settlementID when it is not empty.
func (p *Projector) touchLegs(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore, instructionID, settlementID string) error {
	var legs []*settlementmodel.Leg
	if err := tx.SelectModels(ctx, &legs, "instruction_id", instructionID); err != nil {
		return err
	}
	for _, leg := range legs {
		leg.AddAddress(ev.Signer)
		if settlementID != "" {
			leg.SettlementID = settlementID
		}
		leg.UpdatedBlockID = ev.BlockID
		leg.Datetime = ev.Datetime
		if err := leg.Persist(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}
