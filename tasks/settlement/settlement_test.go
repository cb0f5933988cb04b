package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/model"
	portfoliomodel "github.com/polymesh-project/prism/model/portfolio"
	settlementmodel "github.com/polymesh-project/prism/model/settlement"
	"github.com/polymesh-project/prism/storage"
	identitytask "github.com/polymesh-project/prism/tasks/identity"
	portfoliotask "github.com/polymesh-project/prism/tasks/portfolio"
	settlementtask "github.com/polymesh-project/prism/tasks/settlement"
)

func newProjector() *settlementtask.Projector {
	return settlementtask.NewProjector(identitytask.NewProjector(), portfoliotask.NewProjector())
}

func newDispatcher(p *settlementtask.Projector) *indexer.Dispatcher {
	d := indexer.NewDispatcher()
	p.Register(d)
	return d
}

func testEvent(event, signer string, idx int, args ...interface{}) *chain.NormalizedEvent {
	return &chain.NormalizedEvent{
		Module:      "settlement",
		Event:       event,
		BlockID:     "100",
		EventIdx:    idx,
		SpecVersion: chain.LegSchemaCutoff,
		Datetime:    time.Unix(1700000000, 0).UTC(),
		Signer:      signer,
		Args:        chain.ValueArgs(args...),
	}
}

func createInstruction(t *testing.T, s *storage.MemStorage, p *settlementtask.Projector) {
	t.Helper()
	legs := []map[string]interface{}{
		{
			"Fungible": map[string]interface{}{
				"sender":   map[string]interface{}{"did": "0xa1", "kind": map[string]interface{}{"User": 2}},
				"receiver": map[string]interface{}{"did": "0xb2", "kind": "Default"},
				"ticker":   "ACME",
				"amount":   "1000",
			},
		},
	}
	ev := testEvent("InstructionCreated", "0xsigner", 0,
		"0xa1", "7", "I1", "SettleOnAffirmation", nil, nil, legs, "note")
	require.NoError(t, s.WithTx(context.Background(), func(tx model.TxStore) error {
		return p.OnInstructionCreated(context.Background(), ev, tx)
	}))
}

func TestInstructionCreated(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()
	createInstruction(t, s, p)

	instruction := &settlementmodel.Instruction{ID: "I1"}
	require.NoError(t, s.GetModel(ctx, instruction))
	assert.Equal(t, settlementmodel.StatusCreated, instruction.Status)
	assert.Equal(t, "7", instruction.VenueID)
	assert.Equal(t, "SettleOnAffirmation", instruction.SettlementType)
	assert.Nil(t, instruction.EndBlock)
	assert.Equal(t, "note", instruction.Memo)

	leg := &settlementmodel.Leg{ID: settlementmodel.LegID("I1", 0)}
	require.NoError(t, s.GetModel(ctx, leg))
	assert.Equal(t, settlementmodel.LegFungible, leg.LegType)
	assert.Equal(t, "0xa1/2", leg.FromID)
	assert.Equal(t, "0xb2/0", leg.ToID)
	assert.Equal(t, "ACME", leg.AssetID)
	assert.Equal(t, "1000", leg.Amount)
	assert.Equal(t, []string{"0xsigner"}, leg.Addresses)

	// Parties referenced before any creation event get identity and
	// portfolio rows on demand.
	assert.Equal(t, 2, s.Len("identities"))
	sender := &portfoliomodel.Portfolio{ID: "0xa1/2"}
	require.NoError(t, s.GetModel(ctx, sender))
	assert.Equal(t, portfoliomodel.KindUser, sender.Kind)

	// 0xa1/0 implicit default, 0xa1/2 and 0xb2/0 from the legs.
	assert.Equal(t, 3, s.Len("portfolios"))
	assert.Equal(t, 2, s.Len("identity_instructions"))
}

func TestLegAddressSetSemantics(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()
	createInstruction(t, s, p)

	for i, signer := range []string{"0xsigner", "0xother", "0xother"} {
		ev := testEvent("InstructionAffirmed", signer, i+1, "0xa1", map[string]interface{}{"did": "0xa1", "kind": "Default"}, "I1")
		require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
			return p.OnInstructionUpdate(ctx, ev, tx)
		}))
	}

	leg := &settlementmodel.Leg{ID: settlementmodel.LegID("I1", 0)}
	require.NoError(t, s.GetModel(ctx, leg))
	assert.Equal(t, []string{"0xsigner", "0xother"}, leg.Addresses)
}

func TestInstructionExecuted(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()
	d := newDispatcher(p)
	createInstruction(t, s, p)

	ev := testEvent("InstructionExecuted", "0xexec", 5, "0xa1", "I1")
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, ev, tx)
	}))

	instruction := &settlementmodel.Instruction{ID: "I1"}
	require.NoError(t, s.GetModel(ctx, instruction))
	assert.Equal(t, settlementmodel.StatusExecuted, instruction.Status)

	settlement := &settlementmodel.Settlement{ID: "100/5"}
	require.NoError(t, s.GetModel(ctx, settlement))
	assert.Equal(t, settlementmodel.ResultExecuted, settlement.Result)

	leg := &settlementmodel.Leg{ID: settlementmodel.LegID("I1", 0)}
	require.NoError(t, s.GetModel(ctx, leg))
	assert.Equal(t, "100/5", leg.SettlementID)
	assert.Contains(t, leg.Addresses, "0xexec")
}

func TestTerminalInstructionStable(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()
	d := newDispatcher(p)
	createInstruction(t, s, p)

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, testEvent("InstructionExecuted", "0xexec", 5, "0xa1", "I1"), tx)
	}))
	// A second finalization after the instruction is terminal is a benign
	// no-op: status unchanged and no second settlement record.
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, testEvent("InstructionRejected", "0xlate", 9, "0xa1", "I1"), tx)
	}))

	instruction := &settlementmodel.Instruction{ID: "I1"}
	require.NoError(t, s.GetModel(ctx, instruction))
	assert.Equal(t, settlementmodel.StatusExecuted, instruction.Status)
	assert.Equal(t, 1, s.Len("settlements"))

	// Affirmation updates for a terminal instruction are ignored too.
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnInstructionUpdate(ctx, testEvent("InstructionAffirmed", "0xlate", 10, "0xa1", map[string]interface{}{"did": "0xa1", "kind": "Default"}, "I1"), tx)
	}))
	leg := &settlementmodel.Leg{ID: settlementmodel.LegID("I1", 0)}
	require.NoError(t, s.GetModel(ctx, leg))
	assert.NotContains(t, leg.Addresses, "0xlate")
}

func TestFinalizeUnknownInstructionFatal(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	d := newDispatcher(newProjector())

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, testEvent("InstructionExecuted", "0xexec", 5, "0xa1", "I404"), tx)
	})
	assert.True(t, model.IsNotFound(err))
}

func TestFailedToExecuteInstruction(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()
	createInstruction(t, s, p)

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnFailedToExecuteInstruction(ctx, testEvent("FailedToExecuteInstruction", "", 5, "I1"), tx)
	}))

	instruction := &settlementmodel.Instruction{ID: "I1"}
	require.NoError(t, s.GetModel(ctx, instruction))
	assert.Equal(t, settlementmodel.StatusFailed, instruction.Status)
	// Execution failure is not a finalization event.
	assert.Equal(t, 0, s.Len("settlements"))
}

func TestMediatorLifecycle(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()
	createInstruction(t, s, p)

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnInstructionMediators(ctx, testEvent("InstructionMediators", "", 1, "I1", []string{"0xm1", "0xm2"}), tx)
	}))
	assert.Equal(t, 2, s.Len("mediator_affirmations"))

	expiry := time.Unix(1800000000, 0).UTC()
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnMediatorAffirmation(ctx, testEvent("MediatorAffirmationReceived", "", 2, "0xm1", "I1", expiry.UnixMilli()), tx)
	}))

	affirmation := &settlementmodel.MediatorAffirmation{ID: settlementmodel.MediatorAffirmationID("0xm1", "I1")}
	require.NoError(t, s.GetModel(ctx, affirmation))
	assert.Equal(t, settlementmodel.AffirmationAffirmed, affirmation.Status)
	require.NotNil(t, affirmation.Expiry)
	assert.True(t, affirmation.Expiry.Equal(expiry))

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnMediatorWithdrawn(ctx, testEvent("MediatorAffirmationWithdrawn", "", 3, "0xm1", "I1"), tx)
	}))
	require.NoError(t, s.GetModel(ctx, affirmation))
	assert.Equal(t, settlementmodel.AffirmationPending, affirmation.Status)
	assert.Nil(t, affirmation.Expiry)

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnMediatorAffirmation(ctx, testEvent("MediatorAffirmationReceived", "", 4, "0xnobody", "I1"), tx)
	})
	assert.True(t, model.IsNotFound(err))
}

func TestRejectionCascadesMediatorAffirmation(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()
	d := newDispatcher(p)
	createInstruction(t, s, p)

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnInstructionMediators(ctx, testEvent("InstructionMediators", "", 1, "I1", []string{"0xm1", "0xm2"}), tx)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnMediatorAffirmation(ctx, testEvent("MediatorAffirmationReceived", "", 2, "0xm1", "I1"), tx)
	}))

	// The rejecting identity's own affirmation flips to Rejected; the other
	// mediator is untouched.
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return d.Dispatch(ctx, testEvent("InstructionRejected", "0xm1", 3, "0xm1", "I1"), tx)
	}))

	rejected := &settlementmodel.MediatorAffirmation{ID: settlementmodel.MediatorAffirmationID("0xm1", "I1")}
	require.NoError(t, s.GetModel(ctx, rejected))
	assert.Equal(t, settlementmodel.AffirmationRejected, rejected.Status)

	other := &settlementmodel.MediatorAffirmation{ID: settlementmodel.MediatorAffirmationID("0xm2", "I1")}
	require.NoError(t, s.GetModel(ctx, other))
	assert.Equal(t, settlementmodel.AffirmationPending, other.Status)
}

func TestVenueLifecycle(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	p := newProjector()

	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnVenueCreated(ctx, testEvent("VenueCreated", "", 0, "0xa1", "7", "OTC desk", "Exchange"), tx)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnVenueDetailsUpdated(ctx, testEvent("VenueDetailsUpdated", "", 1, "0xa1", "7", "Primary desk"), tx)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnVenueTypeUpdated(ctx, testEvent("VenueTypeUpdated", "", 2, "0xa1", "7", "Sto"), tx)
	}))

	venue := &settlementmodel.Venue{ID: "7"}
	require.NoError(t, s.GetModel(ctx, venue))
	assert.Equal(t, "0xa1", venue.IdentityID)
	assert.Equal(t, "Primary desk", venue.Details)
	assert.Equal(t, "Sto", venue.Type)

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		return p.OnVenueDetailsUpdated(ctx, testEvent("VenueDetailsUpdated", "", 3, "0xa1", "404", "Ghost"), tx)
	})
	assert.True(t, model.IsNotFound(err))
}
