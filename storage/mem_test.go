package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/model"
	"github.com/polymesh-project/prism/model/identity"
	"github.com/polymesh-project/prism/model/multisig"
	"github.com/polymesh-project/prism/storage"
)

func TestMemStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	require.NoError(t, s.PersistModel(ctx, &identity.Identity{ID: "0xd1", PrimaryAccount: "0xa1"}))

	got := &identity.Identity{ID: "0xd1"}
	require.NoError(t, s.GetModel(ctx, got))
	assert.Equal(t, "0xa1", got.PrimaryAccount)

	err := s.GetModel(ctx, &identity.Identity{ID: "0xmissing"})
	assert.True(t, model.IsNotFound(err))

	require.NoError(t, s.DeleteModel(ctx, &identity.Identity{ID: "0xd1"}))
	err = s.GetModel(ctx, &identity.Identity{ID: "0xd1"})
	assert.True(t, model.IsNotFound(err))
}

func TestMemStorageTxCommit(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		if err := tx.PersistModel(ctx, &identity.Identity{ID: "0xd1"}); err != nil {
			return err
		}
		// Writes are visible inside the transaction before commit.
		got := &identity.Identity{ID: "0xd1"}
		return tx.GetModel(ctx, got)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len("identities"))
}

func TestMemStorageTxRollback(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	boom := xerrors.New("boom")
	err := s.WithTx(ctx, func(tx model.TxStore) error {
		if err := tx.PersistModel(ctx, &identity.Identity{ID: "0xd1"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Len("identities"))
}

func TestMemStorageTxStagedDelete(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	require.NoError(t, s.PersistModel(ctx, &identity.Permissions{ID: "0xa1"}))

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		if err := tx.DeleteModel(ctx, &identity.Permissions{ID: "0xa1"}); err != nil {
			return err
		}
		// The staged delete hides the base row inside the transaction.
		err := tx.GetModel(ctx, &identity.Permissions{ID: "0xa1"})
		assert.True(t, model.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len("permissions"))
}

// Deletes share the database path's not-found mapping so handlers observe the
// same errors under both stores.
func TestMemStorageDeleteAbsentRow(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	err := s.DeleteModel(ctx, &identity.Permissions{ID: "0xmissing"})
	assert.True(t, model.IsNotFound(err))

	require.NoError(t, s.PersistModel(ctx, &identity.Permissions{ID: "0xa1"}))
	err = s.WithTx(ctx, func(tx model.TxStore) error {
		if err := tx.DeleteModel(ctx, &identity.Permissions{ID: "0xmissing"}); !model.IsNotFound(err) {
			return xerrors.Errorf("absent delete: %v", err)
		}
		if err := tx.DeleteModel(ctx, &identity.Permissions{ID: "0xa1"}); err != nil {
			return err
		}
		// The row is already staged deleted in this transaction.
		if err := tx.DeleteModel(ctx, &identity.Permissions{ID: "0xa1"}); !model.IsNotFound(err) {
			return xerrors.Errorf("repeated delete: %v", err)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len("permissions"))
}

func TestMemStorageSelectModelsOverlay(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	require.NoError(t, s.PersistModel(ctx, &multisig.MultiSigProposal{ID: "0xm/1", MultisigID: "0xm", ProposalID: 1, Status: multisig.ProposalActive}))
	require.NoError(t, s.PersistModel(ctx, &multisig.MultiSigProposal{ID: "0xm/2", MultisigID: "0xm", ProposalID: 2, Status: multisig.ProposalSuccess}))

	err := s.WithTx(ctx, func(tx model.TxStore) error {
		// Stage a third Active proposal and flip the first one terminal.
		if err := tx.PersistModel(ctx, &multisig.MultiSigProposal{ID: "0xm/3", MultisigID: "0xm", ProposalID: 3, Status: multisig.ProposalActive}); err != nil {
			return err
		}
		if err := tx.PersistModel(ctx, &multisig.MultiSigProposal{ID: "0xm/1", MultisigID: "0xm", ProposalID: 1, Status: multisig.ProposalRejected}); err != nil {
			return err
		}

		var active []*multisig.MultiSigProposal
		if err := tx.SelectModels(ctx, &active, "status", multisig.ProposalActive); err != nil {
			return err
		}
		require.Len(t, active, 1)
		assert.Equal(t, "0xm/3", active[0].ID)
		return nil
	})
	require.NoError(t, err)

	var active []*multisig.MultiSigProposal
	require.NoError(t, s.SelectModels(ctx, &active, "status", multisig.ProposalActive))
	require.Len(t, active, 1)
	assert.Equal(t, "0xm/3", active[0].ID)
}

func TestMemStorageUpdateModels(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()
	require.NoError(t, s.PersistModel(ctx, &multisig.MultiSigProposal{ID: "0xm/1", MultisigID: "0xm", ProposalID: 1, Status: multisig.ProposalActive}))

	rows := []*multisig.MultiSigProposal{{ID: "0xm/1", MultisigID: "0xm", ProposalID: 1, Status: multisig.ProposalDeleted}}
	require.NoError(t, s.UpdateModels(ctx, &rows, "status"))

	got := &multisig.MultiSigProposal{ID: "0xm/1"}
	require.NoError(t, s.GetModel(ctx, got))
	assert.Equal(t, multisig.ProposalDeleted, got.Status)
}

func TestMemStorageClonesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	row := &identity.Identity{ID: "0xd1", PrimaryAccount: "0xa1"}
	require.NoError(t, s.PersistModel(ctx, row))
	row.PrimaryAccount = "0xmutated"

	got := &identity.Identity{ID: "0xd1"}
	require.NoError(t, s.GetModel(ctx, got))
	assert.Equal(t, "0xa1", got.PrimaryAccount)
}
