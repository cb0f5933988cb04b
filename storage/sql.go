package storage

import (
	"context"
	"errors"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/model"
	"github.com/polymesh-project/prism/model/identity"
	"github.com/polymesh-project/prism/model/multisig"
	"github.com/polymesh-project/prism/model/portfolio"
	"github.com/polymesh-project/prism/model/settlement"
)

var log = logging.Logger("prism/storage")

var ErrMarshalUnsupportedType = errors.New("cannot marshal unsupported type")

var models = []interface{}{
	(*identity.Identity)(nil),
	(*identity.Account)(nil),
	(*identity.Permissions)(nil),
	(*identity.AccountHistory)(nil),
	(*portfolio.Portfolio)(nil),
	(*settlement.Venue)(nil),
	(*settlement.Instruction)(nil),
	(*settlement.Leg)(nil),
	(*settlement.Settlement)(nil),
	(*settlement.IdentityInstruction)(nil),
	(*settlement.MediatorAffirmation)(nil),
	(*multisig.MultiSig)(nil),
	(*multisig.MultiSigSigner)(nil),
	(*multisig.MultiSigProposal)(nil),
	(*multisig.MultiSigProposalVote)(nil),
}

// A TxRunner runs a function against a transactional store view. All writes
// issued by fn commit together when fn returns nil and are rolled back when
// it returns an error.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx model.TxStore) error) error
}

func NewDatabase(ctx context.Context, url string, poolSize int, name string) (*Database, error) {
	opt, err := pg.ParseURL(url)
	if err != nil {
		return nil, xerrors.Errorf("parse database URL: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	if name != "" {
		opt.ApplicationName = name
	}

	db := pg.Connect(opt)
	if err := db.Ping(ctx); err != nil {
		return nil, xerrors.Errorf("ping database: %w", err)
	}

	return &Database{DB: db, ops: ops{db: db}}, nil
}

type Database struct {
	DB *pg.DB
	ops
}

var _ TxRunner = (*Database)(nil)
var _ model.Storage = (*Database)(nil)

// CreateSchema creates any missing tables.
func (d *Database) CreateSchema(ctx context.Context) error {
	for _, m := range models {
		if err := d.DB.ModelContext(ctx, m).CreateTable(&orm.CreateTableOptions{
			IfNotExists: true,
		}); err != nil {
			return xerrors.Errorf("creating table: %w", err)
		}
	}
	log.Infow("schema created", "tables", len(models))
	return nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// WithTx runs fn inside a database transaction. The per-event write unit of
// the projection engine maps onto one WithTx call.
func (d *Database) WithTx(ctx context.Context, fn func(tx model.TxStore) error) error {
	return d.DB.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(&txStore{ops: ops{db: tx}})
	})
}

func (d *Database) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	return d.WithTx(ctx, func(tx model.TxStore) error {
		return model.PersistableList(ps).Persist(ctx, tx)
	})
}

type txStore struct {
	ops
}

var _ model.TxStore = (*txStore)(nil)

// ops implements the model storage operations against anything that behaves
// like a go-pg connection: a *pg.DB or a *pg.Tx.
type ops struct {
	db orm.DB
}

func (o ops) PersistModel(ctx context.Context, m interface{}) error {
	// All models carry a single string primary key column named id.
	if _, err := o.db.ModelContext(ctx, m).
		OnConflict("(id) DO UPDATE").
		Insert(); err != nil {
		return xerrors.Errorf("persisting model: %w", err)
	}
	return nil
}

func (o ops) DeleteModel(ctx context.Context, m interface{}) error {
	if _, err := o.db.ModelContext(ctx, m).WherePK().Delete(); err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return model.ErrNotFound
		}
		return xerrors.Errorf("deleting model: %w", err)
	}
	return nil
}

func (o ops) GetModel(ctx context.Context, m interface{}) error {
	if err := o.db.ModelContext(ctx, m).WherePK().Select(); err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return model.ErrNotFound
		}
		return xerrors.Errorf("selecting model: %w", err)
	}
	return nil
}

func (o ops) SelectModels(ctx context.Context, ms interface{}, column string, value interface{}) error {
	if err := o.db.ModelContext(ctx, ms).
		Where("? = ?", pg.Ident(column), value).
		Select(); err != nil {
		return xerrors.Errorf("selecting models by %s: %w", column, err)
	}
	return nil
}

// UpdateModels bulk-updates the named columns of every model in ms, matching
// rows by primary key.
func (o ops) UpdateModels(ctx context.Context, ms interface{}, columns ...string) error {
	q := o.db.ModelContext(ctx, ms)
	for _, c := range columns {
		q = q.Column(c)
	}
	if _, err := q.Update(); err != nil {
		return xerrors.Errorf("bulk updating models: %w", err)
	}
	return nil
}
