package model

import (
	"context"
	"errors"
)

// ErrNotFound is returned by TxStore.GetModel when no row exists for the
// primary key set on the model. A missing referent means the event stream
// was processed out of order or a prior event was dropped, so handlers treat
// it as fatal for the current event.
var ErrNotFound = errors.New("model not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// A Storage can persist models as atomically-visible batches.
type Storage interface {
	PersistBatch(ctx context.Context, ps ...Persistable) error
}

// A StorageBatch persists or removes models as part of a batch such as a transaction.
type StorageBatch interface {
	// PersistModel upserts m by primary key.
	PersistModel(ctx context.Context, m interface{}) error
	// DeleteModel removes the row matching m's primary key.
	// Returns ErrNotFound when no such row exists.
	DeleteModel(ctx context.Context, m interface{}) error
}

// TxStore is the view of storage an event handler operates on. Reads observe
// writes issued earlier in the same transaction; all writes become visible
// together when the enclosing per-event transaction commits.
type TxStore interface {
	StorageBatch

	// GetModel loads the row matching m's primary key into m.
	// Returns ErrNotFound when no such row exists.
	GetModel(ctx context.Context, m interface{}) error

	// SelectModels loads into ms (a pointer to a slice of models) every row
	// whose column equals value.
	SelectModels(ctx context.Context, ms interface{}, column string, value interface{}) error
}

// A Persistable can persist a full copy of itself or its components as part of a storage batch.
type Persistable interface {
	Persist(ctx context.Context, s StorageBatch) error
}

// A PersistableList is a list of Persistables that should be persisted together.
type PersistableList []Persistable

// Ensure that a PersistableList can be used as a Persistable
var _ Persistable = (PersistableList)(nil)

func (pl PersistableList) Persist(ctx context.Context, s StorageBatch) error {
	if len(pl) == 0 {
		return nil
	}
	for _, p := range pl {
		if p == nil {
			continue
		}
		if err := p.Persist(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
