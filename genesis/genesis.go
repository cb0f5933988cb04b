// Package genesis seeds the store with the identities that exist from block
// zero: the reserved governance committee ordinals, the systematic issuer
// identities and every multisig already registered on chain. Each seeded
// entity is synthesized as an event and routed through the same projector
// handlers that serve live ingestion.
package genesis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/lens"
	"github.com/polymesh-project/prism/model"
	"github.com/polymesh-project/prism/storage"
)

var log = logging.Logger("prism/genesis")

// BlockID is the synthetic block every seeded row is attributed to.
const BlockID = "0"

// reservedDidCount is the number of ordinal identities set aside for the
// governance committee at chain launch.
const reservedDidCount = 33

// enumerationConcurrency bounds the parallel lens queries issued while
// resolving seeded identities.
const enumerationConcurrency = 8

// systematicDids are the well-known identities the chain derives from module
// names rather than the reserved ordinal range.
var systematicDids = []string{
	"0x73797374656d3a676f7665726e616e63655f636f6d6d69747465650000000000", // system:governance_committee
	"0x73797374656d3a637573746f6d65725f6475655f64696c6967656e6365000000", // system:customer_due_diligence
	"0x73797374656d3a74726561737572795f6d6f64756c655f646964000000000000", // system:treasury_module_did
	"0x73797374656d3a626c6f636b5f7265776172645f726573657276650000000000", // system:block_reward_reserve
	"0x73797374656d3a736574746c656d656e745f6d6f64756c655f64696400000000", // system:settlement_module_did
	"0x73797374656d3a706f6c796d6174685f636c61737369635f6d69670000000000", // system:polymath_classic_mig
	"0x73797374656d3a666961745f7469636b6572735f7265736572766174696f6e00", // system:fiat_tickers_reservation
	"0x73797374656d3a726577617264735f6d6f64756c655f64696400000000000000", // system:rewards_module_did
}

// Dids lists every identity the seeder considers: the reserved ordinals
// followed by the systematic issuers.
func Dids() []string {
	dids := make([]string, 0, reservedDidCount+len(systematicDids))
	for i := 1; i <= reservedDidCount; i++ {
		dids = append(dids, fmt.Sprintf("0x%064x", i))
	}
	return append(dids, systematicDids...)
}

type Seeder struct {
	api        lens.API
	store      storage.TxRunner
	dispatcher *indexer.Dispatcher
}

func NewSeeder(api lens.API, store storage.TxRunner, dispatcher *indexer.Dispatcher) *Seeder {
	return &Seeder{api: api, store: store, dispatcher: dispatcher}
}

// Seed runs the one-time pass: identities with their keys first, then the
// multisig registry. Seeding is idempotent because every handler it routes
// through upserts.
func (s *Seeder) Seed(ctx context.Context) error {
	ctx, span := otel.Tracer("").Start(ctx, "Seeder.Seed")
	defer span.End()

	seeded, err := s.seedIdentities(ctx)
	if err != nil {
		return err
	}
	multisigs, err := s.seedMultiSigs(ctx)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int("identities", seeded),
		attribute.Int("multisigs", multisigs),
	)
	log.Infow("genesis seeding complete", "identities", seeded, "multisigs", multisigs)
	return nil
}

// seedIdentities resolves the primary key of every candidate DID and routes
// a synthetic creation event for each one the chain actually knows. DIDs
// whose record has no primary key were never populated and produce no rows.
func (s *Seeder) seedIdentities(ctx context.Context) (int, error) {
	var records []lens.DidRecord
	err := s.retry(ctx, func() error {
		var err error
		records, err = s.api.DidRecords(ctx, Dids())
		return err
	})
	if err != nil {
		return 0, err
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(enumerationConcurrency)

	seeded := 0
	for i, record := range records {
		if record.PrimaryKey == "" {
			continue
		}
		seeded++
		i, record := i, record
		grp.Go(func() error {
			ev := s.event(indexer.IdentityModule, indexer.DidCreated, i*2, chain.ValueArgs(record.DID, record.PrimaryKey))
			if err := s.dispatch(gctx, ev); err != nil {
				return err
			}

			var keys []string
			err := s.retry(gctx, func() error {
				var err error
				keys, err = s.api.DidKeys(gctx, record.DID)
				return err
			})
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return nil
			}
			secondary := make([]map[string]interface{}, 0, len(keys))
			for _, key := range keys {
				secondary = append(secondary, map[string]interface{}{"key": key})
			}
			ev = s.event(indexer.IdentityModule, indexer.SecondaryKeysAdded, i*2+1, chain.ValueArgs(record.DID, secondary))
			return s.dispatch(gctx, ev)
		})
	}
	if err := grp.Wait(); err != nil {
		return 0, err
	}
	return seeded, nil
}

// seedMultiSigs enumerates the chain's multisig registry and routes one
// synthetic creation event per multisig, carrying its admin identity,
// current signer set and signature threshold.
func (s *Seeder) seedMultiSigs(ctx context.Context) (int, error) {
	var admins []lens.MultiSigAdmin
	err := s.retry(ctx, func() error {
		var err error
		admins, err = s.api.MultiSigAdmins(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	var entries []lens.MultiSigSignerEntry
	err = s.retry(ctx, func() error {
		var err error
		entries, err = s.api.MultiSigSigners(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	signersByMultisig := map[string][]map[string]string{}
	for _, e := range entries {
		signersByMultisig[e.MultisigID] = append(signersByMultisig[e.MultisigID], map[string]string{
			e.Signer.Type: e.Signer.Value,
		})
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(enumerationConcurrency)

	for i, admin := range admins {
		i, admin := i, admin
		grp.Go(func() error {
			var required uint64
			err := s.retry(gctx, func() error {
				var err error
				required, err = s.api.MultiSigSignsRequired(gctx, admin.MultisigID)
				return err
			})
			if err != nil {
				return err
			}
			ev := s.event(indexer.MultiSigModule, indexer.MultiSigCreated, i,
				chain.ValueArgs(admin.AdminDID, admin.MultisigID, "", signersByMultisig[admin.MultisigID], required))
			return s.dispatch(gctx, ev)
		})
	}
	if err := grp.Wait(); err != nil {
		return 0, err
	}
	return len(admins), nil
}

func (s *Seeder) event(module, name string, idx int, args chain.Args) *chain.NormalizedEvent {
	return &chain.NormalizedEvent{
		Module:   module,
		Event:    name,
		BlockID:  BlockID,
		EventIdx: idx,
		Datetime: time.Unix(0, 0).UTC(),
		Args:     args,
	}
}

func (s *Seeder) dispatch(ctx context.Context, ev *chain.NormalizedEvent) error {
	return s.store.WithTx(ctx, func(tx model.TxStore) error {
		return s.dispatcher.Dispatch(ctx, ev, tx)
	})
}

func (s *Seeder) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(op, bo)
}
