package portfolio

import (
	"context"
	"fmt"
	"time"

	"go.opencensus.io/tag"

	"github.com/polymesh-project/prism/metrics"
	"github.com/polymesh-project/prism/model"
)

const (
	KindDefault = "Default"
	KindUser    = "User"
)

// DefaultNumber is the reserved portfolio number of the implicit default
// portfolio created alongside every identity.
const DefaultNumber = 0

// ID builds the portfolio key from its owning DID and number.
func ID(did string, number uint64) string {
	return fmt.Sprintf("%s/%d", did, number)
}

type Portfolio struct {
	tableName struct{} `pg:"portfolios"` // nolint: structcheck,unused

	// ID is did/number.
	ID         string `pg:",pk,notnull"`
	IdentityID string `pg:",notnull"`
	Number     uint64 `pg:",notnull,use_zero"`
	Kind       string `pg:",notnull"`
	Name       string
	EventID    string

	CreatedBlockID string `pg:",notnull"`
	UpdatedBlockID string `pg:",notnull"`
	Datetime       time.Time
}

func (p *Portfolio) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "portfolios"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return s.PersistModel(ctx, p)
}
