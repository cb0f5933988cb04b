// Package identity projects identity, account and permission events into
// the relational model: DID creation, secondary key lifecycle and primary
// key rotation.
package identity

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/model"
	identitymodel "github.com/polymesh-project/prism/model/identity"
	portfoliomodel "github.com/polymesh-project/prism/model/portfolio"
)

var log = logging.Logger("prism/tasks/identity")

// knownDidCacheSize bounds the cache of DIDs already observed to exist,
// used to skip store reads on the implicit-creation path.
const knownDidCacheSize = 16384

type Projector struct {
	knownDids *lru.Cache
}

func NewProjector() *Projector {
	cache, _ := lru.New(knownDidCacheSize)
	return &Projector{knownDids: cache}
}

// Register wires the projector's handlers into the dispatcher.
func (p *Projector) Register(d *indexer.Dispatcher) {
	d.Register(indexer.IdentityModule, indexer.DidCreated, p.OnDidCreated)
	d.Register(indexer.IdentityModule, indexer.SecondaryKeysAdded, p.OnSecondaryKeysAdded)
	d.Register(indexer.IdentityModule, indexer.SecondaryKeysFrozen, p.onFrozen(true))
	d.Register(indexer.IdentityModule, indexer.SecondaryKeysUnfrozen, p.onFrozen(false))
	d.Register(indexer.IdentityModule, indexer.SecondaryKeysRemoved, p.OnSecondaryKeysRemoved)
	d.Register(indexer.IdentityModule, indexer.SecondaryKeyPermissionsUpdated, p.OnSecondaryKeyPermissionsUpdated)
	d.Register(indexer.IdentityModule, indexer.PrimaryKeyUpdated, p.OnPrimaryKeyUpdated)
	d.Register(indexer.IdentityModule, indexer.SecondaryKeyLeftIdentity, p.OnSecondaryKeyLeftIdentity)
}

// OnDidCreated handles [did, address]. For a fresh DID it creates the
// identity, its default portfolio and the primary key's permissions and
// account rows as one unit; for a DID that already exists (implicit creation
// or a key change) it rotates the primary account.
func (p *Projector) OnDidCreated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}

	ident := &identitymodel.Identity{ID: did}
	err = tx.GetModel(ctx, ident)
	switch {
	case err == nil:
		ident.PrimaryAccount = addr
		ident.EventID = ev.EventID()
		ident.UpdatedBlockID = ev.BlockID
		ident.Datetime = ev.Datetime
		if err := ident.Persist(ctx, tx); err != nil {
			return err
		}
		if err := p.createLinkedAccount(ctx, ev, tx, did, addr, &identitymodel.PermissionGrant{}); err != nil {
			return err
		}
		return p.touchDefaultPortfolio(ctx, ev, tx, did)

	case model.IsNotFound(err):
		ident.PrimaryAccount = addr
		ident.EventID = ev.EventID()
		ident.CreatedBlockID = ev.BlockID
		ident.UpdatedBlockID = ev.BlockID
		ident.Datetime = ev.Datetime
		if err := ident.Persist(ctx, tx); err != nil {
			return err
		}
		if err := p.createDefaultPortfolio(ctx, ev, tx, did); err != nil {
			return err
		}
		return p.createLinkedAccount(ctx, ev, tx, did, addr, &identitymodel.PermissionGrant{})

	default:
		return err
	}
}

// OnSecondaryKeysAdded handles [did, secondaryKeys]: one permissions and
// account row per authorized key.
func (p *Projector) OnSecondaryKeysAdded(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	keys, err := chain.DecodeSecondaryKeys(ev.Args, 1)
	if err != nil {
		return err
	}
	if err := p.CreateIdentityIfNotExists(ctx, ev, tx, did); err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.createLinkedAccount(ctx, ev, tx, did, key.Address, key.Grant); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) onFrozen(frozen bool) indexer.HandlerFunc {
	return func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
		did, err := ev.Args.Address(0)
		if err != nil {
			return err
		}
		ident := &identitymodel.Identity{ID: did}
		if err := tx.GetModel(ctx, ident); err != nil {
			return xerrors.Errorf("freezing keys of identity %s: %w", did, err)
		}
		ident.SecondaryKeysFrozen = frozen
		ident.UpdatedBlockID = ev.BlockID
		ident.Datetime = ev.Datetime
		return ident.Persist(ctx, tx)
	}
}

// OnSecondaryKeysRemoved handles [did, addresses]: drops the account and
// permissions rows of each removed key.
func (p *Projector) OnSecondaryKeysRemoved(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	addrs, err := chain.DecodeAddressList(ev.Args, 1)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := tx.DeleteModel(ctx, &identitymodel.Account{ID: addr}); err != nil {
			return err
		}
		if err := tx.DeleteModel(ctx, &identitymodel.Permissions{ID: addr}); err != nil {
			return err
		}
	}
	return nil
}

// OnSecondaryKeyPermissionsUpdated handles [did, address, permissions],
// overwriting the key's grant. The permissions row must already exist.
func (p *Projector) OnSecondaryKeyPermissionsUpdated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}
	grant, err := chain.DecodePermissions(ev.Args, 2)
	if err != nil {
		return err
	}
	perms := &identitymodel.Permissions{ID: addr}
	if err := tx.GetModel(ctx, perms); err != nil {
		return xerrors.Errorf("updating permissions of %s: %w", addr, err)
	}
	perms.SetGrant(grant)
	perms.UpdatedBlockID = ev.BlockID
	perms.Datetime = ev.Datetime
	return perms.Persist(ctx, tx)
}

// OnPrimaryKeyUpdated handles [did, newAddress]: detaches the old primary
// account, moves its permission content to the new address, links a fresh
// account and appends an account history entry. One unit.
func (p *Projector) OnPrimaryKeyUpdated(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	did, err := ev.Args.Address(0)
	if err != nil {
		return err
	}
	newAddr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}

	ident := &identitymodel.Identity{ID: did}
	if err := tx.GetModel(ctx, ident); err != nil {
		return xerrors.Errorf("rotating primary key of %s: %w", did, err)
	}
	oldAddr := ident.PrimaryAccount

	grant := &identitymodel.PermissionGrant{}
	if oldAddr != "" {
		oldAcct := &identitymodel.Account{ID: oldAddr}
		switch err := tx.GetModel(ctx, oldAcct); {
		case err == nil:
			oldAcct.IdentityID = ""
			oldAcct.UpdatedBlockID = ev.BlockID
			oldAcct.Datetime = ev.Datetime
			if err := oldAcct.Persist(ctx, tx); err != nil {
				return err
			}
		case !model.IsNotFound(err):
			return err
		}

		oldPerms := &identitymodel.Permissions{ID: oldAddr}
		switch err := tx.GetModel(ctx, oldPerms); {
		case err == nil:
			grant = oldPerms.Grant()
			if err := tx.DeleteModel(ctx, oldPerms); err != nil {
				return err
			}
		case !model.IsNotFound(err):
			return err
		}
	}

	if err := p.createLinkedAccount(ctx, ev, tx, did, newAddr, grant); err != nil {
		return err
	}

	ident.PrimaryAccount = newAddr
	ident.EventID = ev.EventID()
	ident.UpdatedBlockID = ev.BlockID
	ident.Datetime = ev.Datetime
	if err := ident.Persist(ctx, tx); err != nil {
		return err
	}

	history := &identitymodel.AccountHistory{
		ID:             ev.EventID(),
		Account:        newAddr,
		IdentityID:     did,
		EventID:        ev.EventID(),
		CreatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	return history.Persist(ctx, tx)
}

// OnSecondaryKeyLeftIdentity handles [did, address]: unlinks the account,
// drops its permissions and appends an account history entry.
func (p *Projector) OnSecondaryKeyLeftIdentity(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	addr, err := ev.Args.Address(1)
	if err != nil {
		return err
	}
	acct := &identitymodel.Account{ID: addr}
	if err := tx.GetModel(ctx, acct); err != nil {
		return xerrors.Errorf("detaching account %s: %w", addr, err)
	}
	acct.IdentityID = ""
	acct.UpdatedBlockID = ev.BlockID
	acct.Datetime = ev.Datetime
	if err := acct.Persist(ctx, tx); err != nil {
		return err
	}
	if err := tx.DeleteModel(ctx, &identitymodel.Permissions{ID: addr}); err != nil {
		return err
	}
	history := &identitymodel.AccountHistory{
		ID:             ev.EventID(),
		Account:        addr,
		EventID:        ev.EventID(),
		CreatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	return history.Persist(ctx, tx)
}

// CreateIdentityIfNotExists creates an identity and its default portfolio
// when did has not been seen yet. Used by other projectors when an event
// references a DID before its explicit creation event. Identities created
// this way carry an empty primary account until a DidCreated arrives.
func (p *Projector) CreateIdentityIfNotExists(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore, did string) error {
	if p.knownDids.Contains(did) {
		return nil
	}
	ident := &identitymodel.Identity{ID: did}
	err := tx.GetModel(ctx, ident)
	switch {
	case err == nil:
		// A row this transaction staged itself reads back here too and would
		// vanish on rollback. Only rows created under another block are known
		// to be committed.
		if ident.CreatedBlockID != ev.BlockID {
			p.knownDids.Add(did, struct{}{})
		}
		return nil
	case model.IsNotFound(err):
	default:
		return err
	}

	log.Debugw("implicit identity creation", "did", did, "block", ev.BlockID)
	ident.EventID = ev.EventID()
	ident.CreatedBlockID = ev.BlockID
	ident.UpdatedBlockID = ev.BlockID
	ident.Datetime = ev.Datetime
	if err := ident.Persist(ctx, tx); err != nil {
		return err
	}
	return p.createDefaultPortfolio(ctx, ev, tx, did)
}

func (p *Projector) createDefaultPortfolio(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore, did string) error {
	port := &portfoliomodel.Portfolio{
		ID:             portfoliomodel.ID(did, portfoliomodel.DefaultNumber),
		IdentityID:     did,
		Number:         portfoliomodel.DefaultNumber,
		Kind:           portfoliomodel.KindDefault,
		EventID:        ev.EventID(),
		CreatedBlockID: ev.BlockID,
		UpdatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	return port.Persist(ctx, tx)
}

func (p *Projector) touchDefaultPortfolio(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore, did string) error {
	port := &portfoliomodel.Portfolio{ID: portfoliomodel.ID(did, portfoliomodel.DefaultNumber)}
	err := tx.GetModel(ctx, port)
	switch {
	case model.IsNotFound(err):
		return p.createDefaultPortfolio(ctx, ev, tx, did)
	case err != nil:
		return err
	}
	port.UpdatedBlockID = ev.BlockID
	port.Datetime = ev.Datetime
	return port.Persist(ctx, tx)
}

// createLinkedAccount writes the permissions row and the account row for an
// address belonging to did. Both rows share the address as key.
func (p *Projector) createLinkedAccount(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore, did, addr string, grant *identitymodel.PermissionGrant) error {
	perms := &identitymodel.Permissions{
		ID:             addr,
		CreatedBlockID: ev.BlockID,
		UpdatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	perms.SetGrant(grant)
	if err := perms.Persist(ctx, tx); err != nil {
		return err
	}

	acct := &identitymodel.Account{
		ID:             addr,
		IdentityID:     did,
		PermissionsID:  addr,
		EventID:        ev.EventID(),
		CreatedBlockID: ev.BlockID,
		UpdatedBlockID: ev.BlockID,
		Datetime:       ev.Datetime,
	}
	return acct.Persist(ctx, tx)
}
