// Package settlement holds the models maintained by the settlement
// projector: venues, instructions and their legs, finalization records,
// per-identity instruction join rows and mediator affirmations.
package settlement

import (
	"context"
	"fmt"
	"time"

	"go.opencensus.io/tag"

	"github.com/polymesh-project/prism/metrics"
	"github.com/polymesh-project/prism/model"
)

// Instruction lifecycle states. Created is the only non-terminal state.
const (
	StatusCreated  = "Created"
	StatusExecuted = "Executed"
	StatusRejected = "Rejected"
	StatusFailed   = "Failed"
)

// Settlement results.
const (
	ResultExecuted = "Executed"
	ResultRejected = "Rejected"
	ResultFailed   = "Failed"
	ResultNone     = "None"
)

// Mediator affirmation states.
const (
	AffirmationPending  = "Pending"
	AffirmationAffirmed = "Affirmed"
	AffirmationRejected = "Rejected"
)

// Leg types.
const (
	LegFungible    = "Fungible"
	LegNonFungible = "NonFungible"
	LegOffChain    = "OffChain"
)

type Venue struct {
	tableName struct{} `pg:"venues"` // nolint: structcheck,unused

	ID         string `pg:",pk,notnull"`
	IdentityID string `pg:",notnull"`
	Details    string
	Type       string

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (v *Venue) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "venues"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, v)
}

type Instruction struct {
	tableName struct{} `pg:"instructions"` // nolint: structcheck,unused

	ID             string `pg:",pk,notnull"`
	Status         string `pg:",notnull"`
	VenueID        string
	SettlementType string
	EndBlock       *uint64
	TradeDate      *time.Time
	ValueDate      *time.Time
	Memo           string
	EventID        string
	EventIdx       int `pg:",notnull,use_zero"`

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

// Terminal reports whether the instruction has reached a final state.
func (i *Instruction) Terminal() bool {
	return i.Status != StatusCreated
}

func (i *Instruction) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "instructions"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, i)
}

// LegID builds the leg key from its instruction and index.
func LegID(instructionID string, legIndex int) string {
	return fmt.Sprintf("%s/%d", instructionID, legIndex)
}

type Leg struct {
	tableName struct{} `pg:"legs"` // nolint: structcheck,unused

	// ID is instructionID/legIndex.
	ID            string `pg:",pk,notnull"`
	InstructionID string `pg:",notnull"`
	LegIndex      int    `pg:",notnull,use_zero"`
	LegType       string `pg:",notnull"`
	FromID        string `pg:",notnull"`
	ToID          string `pg:",notnull"`
	AssetID       string `pg:",notnull"`
	Amount        string
	NftIDs        []uint64 `pg:",array"`
	// Addresses accumulates every signer address observed across events
	// touching the enclosing instruction. Set semantics.
	Addresses    []string `pg:",array"`
	SettlementID string

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

// AddAddress appends addr to the leg's address set if not already present.
func (l *Leg) AddAddress(addr string) {
	if addr == "" {
		return
	}
	for _, a := range l.Addresses {
		if a == addr {
			return
		}
	}
	l.Addresses = append(l.Addresses, addr)
}

func (l *Leg) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "legs"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, l)
}

type LegList []*Leg

func (ll LegList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(ll) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "legs"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	for _, l := range ll {
		if err := s.PersistModel(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// A Settlement records one instruction-finalization event.
type Settlement struct {
	tableName struct{} `pg:"settlements"` // nolint: structcheck,unused

	// ID is blockID/eventIdx.
	ID     string `pg:",pk,notnull"`
	Result string `pg:",notnull"`

	CreatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (st *Settlement) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "settlements"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, st)
}

// IdentityInstructionID builds the join-row key.
func IdentityInstructionID(did, instructionID, blockID string) string {
	return fmt.Sprintf("%s/%s/%s", did, instructionID, blockID)
}

// An IdentityInstruction joins an identity to an instruction one of its
// portfolios participates in.
type IdentityInstruction struct {
	tableName struct{} `pg:"identity_instructions"` // nolint: structcheck,unused

	// ID is did/instructionID/blockID.
	ID            string `pg:",pk,notnull"`
	IdentityID    string `pg:",notnull"`
	InstructionID string `pg:",notnull"`

	CreatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (ii *IdentityInstruction) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "identity_instructions"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, ii)
}

// MediatorAffirmationID builds the affirmation key.
func MediatorAffirmationID(did, instructionID string) string {
	return fmt.Sprintf("%s/%s", did, instructionID)
}

type MediatorAffirmation struct {
	tableName struct{} `pg:"mediator_affirmations"` // nolint: structcheck,unused

	// ID is did/instructionID.
	ID            string `pg:",pk,notnull"`
	IdentityID    string `pg:",notnull"`
	InstructionID string `pg:",notnull"`
	Status        string `pg:",notnull"`
	Expiry        *time.Time

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (ma *MediatorAffirmation) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "mediator_affirmations"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, ma)
}
