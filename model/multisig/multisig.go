// Package multisig holds the models maintained by the multisig governance
// projector: multisig accounts, their signers, proposals and votes.
package multisig

import (
	"context"
	"fmt"
	"time"

	"go.opencensus.io/tag"

	"github.com/polymesh-project/prism/metrics"
	"github.com/polymesh-project/prism/model"
)

// Signer lifecycle states.
const (
	SignerAuthorized = "Authorized"
	SignerApproved   = "Approved"
	SignerRemoved    = "Removed"
)

// Signer key types.
const (
	SignerTypeAccount  = "Account"
	SignerTypeIdentity = "Identity"
)

// Proposal lifecycle states. Active is the only non-terminal state.
const (
	ProposalActive   = "Active"
	ProposalRejected = "Rejected"
	ProposalSuccess  = "Success"
	ProposalFailed   = "Failed"
	ProposalDeleted  = "Deleted"
)

// Vote actions.
const (
	VoteApproved = "Approved"
	VoteRejected = "Rejected"
)

type MultiSig struct {
	tableName struct{} `pg:"multi_sigs"` // nolint: structcheck,unused

	// ID is the on-chain multisig address.
	ID                 string `pg:",pk,notnull"`
	CreatorID          string `pg:",notnull"`
	CreatorAccountID   string
	SignaturesRequired uint64 `pg:",notnull,use_zero"`
	EventID            string

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (ms *MultiSig) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multi_sigs"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, ms)
}

// SignerID builds the signer key from its multisig address, type and value.
func SignerID(multisigID, signerType, signerValue string) string {
	return fmt.Sprintf("%s/%s/%s", multisigID, signerType, signerValue)
}

type MultiSigSigner struct {
	tableName struct{} `pg:"multi_sig_signers"` // nolint: structcheck,unused

	// ID is multisigID/signerType/signerValue.
	ID          string `pg:",pk,notnull"`
	MultisigID  string `pg:",notnull"`
	SignerType  string `pg:",notnull"`
	SignerValue string `pg:",notnull"`
	Status      string `pg:",notnull"`

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (s2 *MultiSigSigner) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multi_sig_signers"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, s2)
}

type MultiSigSignerList []*MultiSigSigner

func (sl MultiSigSignerList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(sl) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multi_sig_signers"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	for _, sg := range sl {
		if err := s.PersistModel(ctx, sg); err != nil {
			return err
		}
	}
	return nil
}

// ProposalID builds the proposal key from its multisig address and ordinal.
func ProposalID(multisigID string, proposalID uint64) string {
	return fmt.Sprintf("%s/%d", multisigID, proposalID)
}

type MultiSigProposal struct {
	tableName struct{} `pg:"multi_sig_proposals"` // nolint: structcheck,unused

	// ID is multisigID/proposalID.
	ID               string `pg:",pk,notnull"`
	MultisigID       string `pg:",notnull"`
	ProposalID       uint64 `pg:",notnull,use_zero"`
	Status           string `pg:",notnull"`
	ApprovalCount    uint64 `pg:",notnull,use_zero"`
	RejectionCount   uint64 `pg:",notnull,use_zero"`
	CreatorID        string
	CreatorAccountID string
	EventIdx         int `pg:",notnull,use_zero"`

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

// Terminal reports whether the proposal has reached a final state.
func (p *MultiSigProposal) Terminal() bool {
	return p.Status != ProposalActive
}

func (p *MultiSigProposal) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multi_sig_proposals"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, p)
}

type MultiSigProposalList []*MultiSigProposal

func (pl MultiSigProposalList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(pl) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multi_sig_proposals"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	for _, p := range pl {
		if err := s.PersistModel(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

type MultiSigProposalVote struct {
	tableName struct{} `pg:"multi_sig_proposal_votes"` // nolint: structcheck,unused

	// ID is blockID/eventIdx.
	ID         string `pg:",pk,notnull"`
	ProposalID string `pg:",notnull"`
	SignerID   string `pg:",notnull"`
	Action     string `pg:",notnull"`

	CreatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (v *MultiSigProposalVote) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multi_sig_proposal_votes"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, v)
}
