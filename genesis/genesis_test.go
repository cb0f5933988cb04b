package genesis_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/genesis"
	"github.com/polymesh-project/prism/lens"
	identitymodel "github.com/polymesh-project/prism/model/identity"
	multisigmodel "github.com/polymesh-project/prism/model/multisig"
	"github.com/polymesh-project/prism/storage"
	identitytask "github.com/polymesh-project/prism/tasks/identity"
	"github.com/polymesh-project/prism/tasks/msig"
	portfoliotask "github.com/polymesh-project/prism/tasks/portfolio"
)

// fakeAPI answers the enumeration queries the seeder issues from fixed
// fixtures.
type fakeAPI struct {
	lens.API

	primaryKeys   map[string]string
	secondaryKeys map[string][]string
	admins        []lens.MultiSigAdmin
	signers       []lens.MultiSigSignerEntry
	required      map[string]uint64
}

func (f *fakeAPI) DidRecords(ctx context.Context, dids []string) ([]lens.DidRecord, error) {
	records := make([]lens.DidRecord, 0, len(dids))
	for _, did := range dids {
		records = append(records, lens.DidRecord{DID: did, PrimaryKey: f.primaryKeys[did]})
	}
	return records, nil
}

func (f *fakeAPI) DidKeys(ctx context.Context, did string) ([]string, error) {
	return f.secondaryKeys[did], nil
}

func (f *fakeAPI) MultiSigAdmins(ctx context.Context) ([]lens.MultiSigAdmin, error) {
	return f.admins, nil
}

func (f *fakeAPI) MultiSigSigners(ctx context.Context) ([]lens.MultiSigSignerEntry, error) {
	return f.signers, nil
}

func (f *fakeAPI) MultiSigSignsRequired(ctx context.Context, multisigID string) (uint64, error) {
	return f.required[multisigID], nil
}

func newDispatcher() *indexer.Dispatcher {
	d := indexer.NewDispatcher()
	identities := identitytask.NewProjector()
	identities.Register(d)
	portfoliotask.NewProjector().Register(d)
	msig.NewProjector(identities).Register(d)
	return d
}

func ordinalDid(i int) string {
	return fmt.Sprintf("0x%064x", i)
}

func TestDidsCoversReservedAndSystematic(t *testing.T) {
	dids := genesis.Dids()
	require.Len(t, dids, 41)
	assert.Equal(t, ordinalDid(1), dids[0])
	assert.Equal(t, ordinalDid(33), dids[32])
	// The systematic issuers follow the reserved ordinals.
	for _, did := range dids[33:] {
		assert.Len(t, did, 66)
	}
}

func TestSeedIdentities(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	// Only three of the candidate DIDs were ever populated on chain; the
	// rest have empty records and must produce no rows.
	api := &fakeAPI{
		primaryKeys: map[string]string{
			ordinalDid(1): "0xkey1",
			ordinalDid(2): "0xkey2",
			ordinalDid(5): "0xkey5",
		},
		secondaryKeys: map[string][]string{
			ordinalDid(1): {"0xsec1"},
			ordinalDid(2): {"0xsec2"},
			ordinalDid(5): {"0xsec5"},
		},
	}
	require.NoError(t, genesis.NewSeeder(api, s, newDispatcher()).Seed(ctx))

	assert.Equal(t, 3, s.Len("identities"))
	assert.Equal(t, 3, s.Len("portfolios"))
	assert.Equal(t, 6, s.Len("accounts"))
	assert.Equal(t, 6, s.Len("permissions"))

	ident := &identitymodel.Identity{ID: ordinalDid(1)}
	require.NoError(t, s.GetModel(ctx, ident))
	assert.Equal(t, "0xkey1", ident.PrimaryAccount)
	assert.Equal(t, genesis.BlockID, ident.CreatedBlockID)

	secondary := &identitymodel.Account{ID: "0xsec1"}
	require.NoError(t, s.GetModel(ctx, secondary))
	assert.Equal(t, ordinalDid(1), secondary.IdentityID)
}

func TestSeedMultiSigs(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemStorage()

	api := &fakeAPI{
		primaryKeys: map[string]string{},
		admins: []lens.MultiSigAdmin{
			{MultisigID: "0xms1", AdminDID: "0xadmin"},
		},
		signers: []lens.MultiSigSignerEntry{
			{MultisigID: "0xms1", Signer: chain.SignerInput{Type: "Account", Value: "0xs1"}},
			{MultisigID: "0xms1", Signer: chain.SignerInput{Type: "Account", Value: "0xs2"}},
		},
		required: map[string]uint64{"0xms1": 2},
	}
	require.NoError(t, genesis.NewSeeder(api, s, newDispatcher()).Seed(ctx))

	ms := &multisigmodel.MultiSig{ID: "0xms1"}
	require.NoError(t, s.GetModel(ctx, ms))
	assert.Equal(t, "0xadmin", ms.CreatorID)
	assert.Equal(t, uint64(2), ms.SignaturesRequired)
	assert.Equal(t, genesis.BlockID, ms.CreatedBlockID)
	assert.Equal(t, 2, s.Len("multi_sig_signers"))

	// The admin identity is materialized implicitly.
	admin := &identitymodel.Identity{ID: "0xadmin"}
	require.NoError(t, s.GetModel(ctx, admin))
	assert.Empty(t, admin.PrimaryAccount)
}
