package lens

import (
	"context"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("prism/lens")

// RPCClient talks to the chain gateway over JSON-RPC. The gateway owns
// wire-protocol decoding; this client only carries the already-shaped
// query results.
type RPCClient struct {
	Internal struct {
		SubscribeBlocks       func(ctx context.Context) (<-chan *BlockEvents, error)
		ProposalDetail        func(ctx context.Context, multisigID string, proposalID uint64) (*ProposalDetail, error)
		DidRecords            func(ctx context.Context, dids []string) ([]DidRecord, error)
		DidKeys               func(ctx context.Context, did string) ([]string, error)
		MultiSigAdmins        func(ctx context.Context) ([]MultiSigAdmin, error)
		MultiSigSigners       func(ctx context.Context) ([]MultiSigSignerEntry, error)
		MultiSigSignsRequired func(ctx context.Context, multisigID string) (uint64, error)
	}
}

var _ API = (*RPCClient)(nil)

// NewRPCClient dials the chain gateway at addr. A zero timeout keeps the
// client default.
func NewRPCClient(ctx context.Context, addr string, timeout time.Duration) (*RPCClient, jsonrpc.ClientCloser, error) {
	var opts []jsonrpc.Option
	if timeout > 0 {
		opts = append(opts, jsonrpc.WithTimeout(timeout))
	}
	var client RPCClient
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Prism", []interface{}{&client.Internal}, nil, opts...)
	if err != nil {
		return nil, nil, xerrors.Errorf("dialing chain gateway %s: %w", addr, err)
	}
	log.Infow("connected to chain gateway", "addr", addr)
	return &client, closer, nil
}

func (c *RPCClient) SubscribeBlocks(ctx context.Context) (<-chan *BlockEvents, error) {
	return c.Internal.SubscribeBlocks(ctx)
}

func (c *RPCClient) ProposalDetail(ctx context.Context, multisigID string, proposalID uint64) (*ProposalDetail, error) {
	return c.Internal.ProposalDetail(ctx, multisigID, proposalID)
}

func (c *RPCClient) DidRecords(ctx context.Context, dids []string) ([]DidRecord, error) {
	return c.Internal.DidRecords(ctx, dids)
}

func (c *RPCClient) DidKeys(ctx context.Context, did string) ([]string, error) {
	return c.Internal.DidKeys(ctx, did)
}

func (c *RPCClient) MultiSigAdmins(ctx context.Context) ([]MultiSigAdmin, error) {
	return c.Internal.MultiSigAdmins(ctx)
}

func (c *RPCClient) MultiSigSigners(ctx context.Context) ([]MultiSigSignerEntry, error) {
	return c.Internal.MultiSigSigners(ctx)
}

func (c *RPCClient) MultiSigSignsRequired(ctx context.Context, multisigID string) (uint64, error) {
	return c.Internal.MultiSigSignsRequired(ctx, multisigID)
}
