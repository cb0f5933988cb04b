// Package identity holds the models maintained by the identity and access
// projector: identities, their linked accounts, per-account permission grants
// and the append-only account linkage history.
package identity

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/polymesh-project/prism/metrics"
	"github.com/polymesh-project/prism/model"
)

// A PermissionSet is one capability grant variant: a type tag ("These",
// "Except", "Whole") and the values it applies to.
type PermissionSet struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// A PortfolioRef names a portfolio by its owning DID and number.
type PortfolioRef struct {
	DID    string `json:"did"`
	Number uint64 `json:"number"`
}

// A PermissionGrant is the decoded permission payload carried by secondary
// key events. Absent categories are nil, meaning unrestricted.
type PermissionGrant struct {
	Assets            *PermissionSet `json:"assets,omitempty"`
	Portfolios        []PortfolioRef `json:"portfolios,omitempty"`
	Transactions      *PermissionSet `json:"transactions,omitempty"`
	TransactionGroups []string       `json:"transactionGroups,omitempty"`
}

type Identity struct {
	tableName struct{} `pg:"identities"` // nolint: structcheck,unused

	// ID is the DID.
	ID                  string `pg:",pk,notnull"`
	PrimaryAccount      string
	SecondaryKeysFrozen bool `pg:",notnull,use_zero"`
	EventID             string

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (i *Identity) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "identities"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, i)
}

type Account struct {
	tableName struct{} `pg:"accounts"` // nolint: structcheck,unused

	// ID is the account address.
	ID string `pg:",pk,notnull"`
	// IdentityID is empty while the address is not linked to any identity,
	// e.g. after a primary key rotation.
	IdentityID    string
	PermissionsID string
	EventID       string

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (a *Account) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "accounts"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, a)
}

type Permissions struct {
	tableName struct{} `pg:"permissions"` // nolint: structcheck,unused

	// ID is the account address the grant applies to.
	ID                string         `pg:",pk,notnull"`
	Assets            *PermissionSet `pg:"type:jsonb"`
	Portfolios        []PortfolioRef `pg:"type:jsonb"`
	Transactions      *PermissionSet `pg:"type:jsonb"`
	TransactionGroups []string       `pg:",array"`

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

// SetGrant overwrites the capability columns from a decoded grant.
func (p *Permissions) SetGrant(g *PermissionGrant) {
	p.Assets = g.Assets
	p.Portfolios = g.Portfolios
	p.Transactions = g.Transactions
	p.TransactionGroups = g.TransactionGroups
}

// Grant returns the capability columns as a decoded grant.
func (p *Permissions) Grant() *PermissionGrant {
	return &PermissionGrant{
		Assets:            p.Assets,
		Portfolios:        p.Portfolios,
		Transactions:      p.Transactions,
		TransactionGroups: p.TransactionGroups,
	}
}

func (p *Permissions) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "permissions"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, p)
}

// AccountHistory is an append-only log of identity-account linkage changes,
// used for audit rather than current-state queries.
type AccountHistory struct {
	tableName struct{} `pg:"account_histories"` // nolint: structcheck,unused

	// ID is blockID/eventIdx.
	ID         string `pg:",pk,notnull"`
	Account    string `pg:",notnull"`
	IdentityID string
	EventID    string

	CreatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (h *AccountHistory) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "account_histories"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, h)
}
