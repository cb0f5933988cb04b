// Package lens abstracts the chain connection the projection engine reads
// from: the per-block event stream, the point queries used by deletion
// reconciliation and the enumeration queries used by genesis seeding.
package lens

import (
	"context"

	"github.com/polymesh-project/prism/chain"
)

// BlockEvents is one block's worth of ordered raw events.
type BlockEvents struct {
	BlockID string
	Events  []*chain.RawEvent
}

// ProposalDetail is the live state of a multisig proposal. Reconciliation
// only tests for its presence.
type ProposalDetail struct {
	Approvals  uint64
	Rejections uint64
	Status     string
}

// DidRecord is one entry of the chain's identity registry.
type DidRecord struct {
	DID        string
	PrimaryKey string
}

// MultiSigAdmin links a multisig address to its administering identity.
type MultiSigAdmin struct {
	MultisigID string
	AdminDID   string
}

// MultiSigSignerEntry is one (multisig, signer) pair from the chain's
// signer registry.
type MultiSigSignerEntry struct {
	MultisigID string
	Signer     chain.SignerInput
}

// API is the read surface of the chain connection. Implementations are
// expected to bound each call with their own timeout; the projection core
// never blocks indefinitely on them.
type API interface {
	// SubscribeBlocks delivers ordered per-block event batches until ctx is
	// done.
	SubscribeBlocks(ctx context.Context) (<-chan *BlockEvents, error)

	// ProposalDetail returns the live state of a proposal, or nil when the
	// chain no longer stores it.
	ProposalDetail(ctx context.Context, multisigID string, proposalID uint64) (*ProposalDetail, error)

	// DidRecords resolves the primary keys of the given DIDs.
	DidRecords(ctx context.Context, dids []string) ([]DidRecord, error)

	// DidKeys lists the secondary key addresses of a DID.
	DidKeys(ctx context.Context, did string) ([]string, error)

	// MultiSigAdmins enumerates every multisig address with its admin DID.
	MultiSigAdmins(ctx context.Context) ([]MultiSigAdmin, error)

	// MultiSigSigners enumerates every (multisig, signer) pair.
	MultiSigSigners(ctx context.Context) ([]MultiSigSignerEntry, error)

	// MultiSigSignsRequired returns a multisig's signature threshold.
	MultiSigSignsRequired(ctx context.Context, multisigID string) (uint64, error)
}
