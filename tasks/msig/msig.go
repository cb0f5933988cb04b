// Package msig projects multisig governance events: multisig accounts,
// signer membership, proposals and votes. It also owns the deletion
// reconciler, the only writer that is not fed by the ordered event stream.
package msig

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/model"
	multisigmodel "github.com/polymesh-project/prism/model/multisig"
	identitytask "github.com/polymesh-project/prism/tasks/identity"
)

var log = logging.Logger("prism/tasks/msig")

type Projector struct {
	identities *identitytask.Projector
}

func NewProjector(identities *identitytask.Projector) *Projector {
	return &Projector{identities: identities}
}

func (p *Projector) Register(d *indexer.Dispatcher) {
	d.Register(indexer.MultiSigModule, indexer.MultiSigCreated, p.OnMultiSigCreated)
	d.Register(indexer.MultiSigModule, indexer.MultiSigSignerAuthorized, p.onSignerTransition(multisigmodel.SignerAuthorized))
	d.Register(indexer.MultiSigModule, indexer.MultiSigSignerAdded, p.onSignerTransition(multisigmodel.SignerApproved))
	d.Register(indexer.MultiSigModule, indexer.MultiSigSignerRemoved, p.onSignerTransition(multisigmodel.SignerRemoved))
	d.Register(indexer.MultiSigModule, indexer.MultiSigSignaturesRequiredChanged, p.OnSignaturesRequiredChanged)
	d.Register(indexer.MultiSigModule, indexer.ProposalAdded, p.OnProposalAdded)
	d.Register(indexer.MultiSigModule, indexer.ProposalApproved, p.onVote(multisigmodel.VoteApproved))
	d.Register(indexer.MultiSigModule, indexer.ProposalRejectionVote, p.onVote(multisigmodel.VoteRejected))
	d.Register(indexer.MultiSigModule, indexer.ProposalRejected, p.OnProposalRejected)
	d.Register(indexer.MultiSigModule, indexer.ProposalExecuted, p.OnProposalExecuted)
}

// OnMultiSigCreated handles [did, multisigAddr, caller, signers,
// signaturesRequired]: the multisig plus one Authorized signer row per
// initial signatory.
func (p *Projector) OnMultiSigCreated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}
	caller, err := ev.Args.Address(2)
	if err != nil {
		return err
	}
	signers, err := chain.DecodeSignerList(ev.Args, 3, ev.SpecVersion)
	if err != nil {
		return err
	}
	required, err := ev.Args.U64(4)
	if err != nil {
		return err
	}

	if err := p.identities.CreateIdentityIfNotExists(ctx, ev, tx, did); err != nil {
		return err
	}

	ms := &multisigmodel.MultiSig{
		ID:                 addr,
		CreatorID:          did,
		CreatorAccountID:   caller,
		SignaturesRequired: required,
		EventID:            ev.EventID(),
		CreatedBlockID:     ev.BlockID,
		UpdatedBlockID:     ev.BlockID,
		Datetime:           ev.Datetime,
	}
	if err := ms.Persist(ctx, tx); err != nil {
		return err
	}

	rows := make(multisigmodel.MultiSigSignerList, 0, len(signers))
	for _, s := range signers {
		rows = append(rows, &multisigmodel.MultiSigSigner{
			ID:             multisigmodel.SignerID(addr, s.Type, s.Value),
			MultisigID:     addr,
			SignerType:     s.Type,
			SignerValue:    s.Value,
			Status:         multisigmodel.SignerAuthorized,
			CreatedBlockID: ev.BlockID,
			UpdatedBlockID: ev.BlockID,
			Datetime:       ev.Datetime,
		})
	}
	return rows.Persist(ctx, tx)
}

// onSignerTransition builds the handler for one signer lifecycle event
// [did, multisigAddr, signer]: the row is created on first sight and its
// status transitioned afterwards.
func (p *Projector) onSignerTransition(status string) indexer.HandlerFunc {
	return func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		addr, err := ev.Args.Address(1)
		if err != nil {
			return err
		}
		signer, err := chain.DecodeSigner(ev.Args, 2, ev.SpecVersion)
		if err != nil {
			return err
		}
		row := &multisigmodel.MultiSigSigner{ID: multisigmodel.SignerID(addr, signer.Type, signer.Value)}
		switch err := tx.GetModel(ctx, row); {
		case model.IsNotFound(err):
			row.MultisigID = addr
			row.SignerType = signer.Type
			row.SignerValue = signer.Value
			row.CreatedBlockID = ev.BlockID
		case err != nil:
			return err
		}
		row.Status = status
		row.UpdatedBlockID = ev.BlockID
		row.Datetime = ev.Datetime
		return row.Persist(ctx, tx)
	}
}

// OnSignaturesRequiredChanged handles [did, multisigAddr, sigsRequired]. The
// multisig must exist.
func (p *Projector) OnSignaturesRequiredChanged(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}
	required, err := ev.Args.U64(2)
	if err != nil {
		return err
	}
	ms := &multisigmodel.MultiSig{ID: addr}
	if err := tx.GetModel(ctx, ms); err != nil {
		return xerrors.Errorf("updating multisig %s: %w", addr, err)
	}
	ms.SignaturesRequired = required
	ms.EventID = ev.EventID()
	ms.UpdatedBlockID = ev.BlockID
	ms.Datetime = ev.Datetime
	return ms.Persist(ctx, tx)
}

// OnProposalAdded handles [did, multisigAddr, proposalId]: a fresh Active
// proposal with zeroed tallies. The extrinsic signer is recorded as the
// creating account.
func (p *Projector) OnProposalAdded(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}
	ordinal, err := ev.Args.U64(2)
	if err != nil {
		return err
	}
	proposal := &multisigmodel.MultiSigProposal{
		ID:               multisigmodel.ProposalID(addr, ordinal),
		MultisigID:       addr,
		ProposalID:       ordinal,
		Status:           multisigmodel.ProposalActive,
		CreatorID:        did,
		CreatorAccountID: ev.Signer,
		EventIdx:         ev.EventIdx,
		CreatedBlockID:   ev.BlockID,
		UpdatedBlockID:   ev.BlockID,
		Datetime:         ev.Datetime,
	}
	return proposal.Persist(ctx, tx)
}

// onVote builds the handler for one vote event [did, multisigAddr, signer,
// proposalId]: the matching tally is incremented and a vote row appended.
// Tallies only ever grow.
func (p *Projector) onVote(action string) indexer.HandlerFunc {
	return func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		addr, err := ev.Args.Address(1)
		if err != nil {
			return err
		}
		signer, err := chain.DecodeSigner(ev.Args, 2, ev.SpecVersion)
		if err != nil {
			return err
		}
		ordinal, err := ev.Args.U64(3)
		if err != nil {
			return err
		}
		proposal := &multisigmodel.MultiSigProposal{ID: multisigmodel.ProposalID(addr, ordinal)}
		if err := tx.GetModel(ctx, proposal); err != nil {
			return xerrors.Errorf("voting on proposal %s/%d: %w", addr, ordinal, err)
		}
		if proposal.Terminal() {
			log.Warnw("vote for terminal proposal ignored", "proposal", proposal.ID, "status", proposal.Status)
			return nil
		}

		switch action {
		case multisigmodel.VoteApproved:
			proposal.ApprovalCount++
		case multisigmodel.VoteRejected:
			proposal.RejectionCount++
		}
		proposal.EventIdx = ev.EventIdx
		proposal.UpdatedBlockID = ev.BlockID
		proposal.Datetime = ev.Datetime
		if err := proposal.Persist(ctx, tx); err != nil {
			return err
		}

		vote := &multisigmodel.MultiSigProposalVote{
			ID:             ev.EventID(),
			ProposalID:     proposal.ID,
			SignerID:       multisigmodel.SignerID(addr, signer.Type, signer.Value),
			Action:         action,
			CreatedBlockID: ev.BlockID,
			Datetime:       ev.Datetime,
		}
		return vote.Persist(ctx, tx)
	}
}

// OnProposalRejected handles [did, multisigAddr, proposalId].
func (p *Projector) OnProposalRejected(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}
	ordinal, err := ev.Args.U64(2)
	if err != nil {
		return err
	}
	return p.finalizeProposal(ctx, ev, tx, addr, ordinal, multisigmodel.ProposalRejected)
}

// OnProposalExecuted handles [did, multisigAddr, proposalId, success]: the
// carried flag decides between Success and Failed.
func (p *Projector) OnProposalExecuted(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}
	ordinal, err := ev.Args.U64(2)
	if err != nil {
		return err
	}
	success, err := ev.Args.Bool(3)
	if err != nil {
		return err
	}
	status := multisigmodel.ProposalFailed
	if success {
		status = multisigmodel.ProposalSuccess
	}
	return p.finalizeProposal(ctx, ev, tx, addr, ordinal, status)
}

func (p *Projector) finalizeProposal(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore, addr string, ordinal uint64, status string) error {
	proposal := &multisigmodel.MultiSigProposal{ID: multisigmodel.ProposalID(addr, ordinal)}
	if err := tx.GetModel(ctx, proposal); err != nil {
		return xerrors.Errorf("finalizing proposal %s/%d: %w", addr, ordinal, err)
	}
	if proposal.Terminal() {
		// Benign when the reconciler already marked the proposal Deleted.
		log.Warnw("finalization for terminal proposal ignored", "proposal", proposal.ID, "status", proposal.Status, "wanted", status)
		return nil
	}
	proposal.Status = status
	proposal.EventIdx = ev.EventIdx
	proposal.UpdatedBlockID = ev.BlockID
	proposal.Datetime = ev.Datetime
	return proposal.Persist(ctx, tx)
}
