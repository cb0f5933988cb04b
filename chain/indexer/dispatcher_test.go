package indexer_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/model"
	"github.com/polymesh-project/prism/model/identity"
	"github.com/polymesh-project/prism/storage"
)

func testEvent(module, event string) *chain.NormalizedEvent {
	return &chain.NormalizedEvent{
		Module:   module,
		Event:    event,
		BlockID:  "10",
		EventIdx: 0,
		Args:     chain.ValueArgs(),
	}
}

func TestDispatcherRouting(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	d := indexer.NewDispatcher()

	var calls []string
	d.Register("identity", "DidCreated", func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		calls = append(calls, "first")
		return nil
	})
	d.Register("identity", "DidCreated", func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		calls = append(calls, "second")
		return nil
	})

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, testEvent("identity", "DidCreated"), tx)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatcherSkipsUnhandled(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	d := indexer.NewDispatcher()

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, testEvent("staking", "Rewarded"), tx)
	})
	assert.NoError(t, err)
}

func TestDispatcherWrapsHandlerError(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	d := indexer.NewDispatcher()

	boom := xerrors.New("boom")
	d.Register("identity", "DidCreated", func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		return boom
	})

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, testEvent("identity", "DidCreated"), tx)
	})
	assert.ErrorIs(t, err, boom)
}

func TestProcessBlockPerEventTransactions(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	d := indexer.NewDispatcher()

	d.Register("identity", "DidCreated", func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		did, err := ev.Args.Address(0)
		if err != nil {
			return err
		}
		if did == "0xbad" {
			return xerrors.New("poisoned")
		}
		return tx.PersistModel(ctx, &identity.Identity{ID: did})
	})

	p := indexer.NewBlockProcessor(d, s, 2)
	defer p.Close()

	raws := []*chain.RawEvent{
		{Format: chain.FormatLive, Module: "identity", Event: "DidCreated", BlockID: "10", EventIdx: 0,
			Params: []json.RawMessage{json.RawMessage(`{"type":"IdentityId","value":"0xd1"}`)}},
		{Format: chain.FormatLive, Module: "identity", Event: "DidCreated", BlockID: "10", EventIdx: 1,
			Params: []json.RawMessage{json.RawMessage(`{"type":"IdentityId","value":"0xbad"}`)}},
		{Format: chain.FormatLive, Module: "identity", Event: "DidCreated", BlockID: "10", EventIdx: 2,
			Params: []json.RawMessage{json.RawMessage(`{"type":"IdentityId","value":"0xd2"}`)}},
	}

	report, err := p.ProcessBlock(ctx, "10", raws)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Events)
	assert.Equal(t, 2, report.Handled)
	assert.Contains(t, report.EventErrors, "10/1")

	// The failed event's transaction rolled back alone; the others committed.
	assert.Equal(t, 2, s.Len("identities"))
}

func TestProcessBlockAbortsOnDecodeFailure(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	d := indexer.NewDispatcher()

	handled := 0
	d.Register("identity", "DidCreated", func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		handled++
		return nil
	})

	p := indexer.NewBlockProcessor(d, s, 2)
	defer p.Close()

	raws := []*chain.RawEvent{
		{Format: chain.FormatLive, Module: "identity", Event: "DidCreated", BlockID: "10", EventIdx: 0,
			Params: []json.RawMessage{json.RawMessage(`{"type":"IdentityId","value":"0xd1"}`)}},
		{Format: chain.FormatReplay, Module: "identity", Event: "DidCreated", BlockID: "10", EventIdx: 1,
			Attributes: `not json`},
	}

	_, err := p.ProcessBlock(ctx, "10", raws)
	assert.ErrorIs(t, err, chain.ErrDecode)
	assert.Zero(t, handled)
}
