package msig

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/polymesh-project/prism/lens"
	"github.com/polymesh-project/prism/metrics"
	multisigmodel "github.com/polymesh-project/prism/model/multisig"
	"github.com/polymesh-project/prism/wait"
)

// proposalQueryAttempts bounds the retries of one liveness point query.
const proposalQueryAttempts = 3

// A ReconcileStore is the off-transaction read and bulk-write surface the
// reconciler needs.
type ReconcileStore interface {
	SelectModels(ctx context.Context, ms interface{}, column string, value interface{}) error
	UpdateModels(ctx context.Context, ms interface{}, columns ...string) error
}

// A Reconciler closes out proposals the chain has pruned without emitting a
// terminal event. It only ever moves Active proposals to Deleted, so a
// concurrently ingested terminal event wins whenever it commits first.
type Reconciler struct {
	store ReconcileStore
	api   lens.API

	mu sync.Mutex
}

func NewReconciler(store ReconcileStore, api lens.API) *Reconciler {
	return &Reconciler{store: store, api: api}
}

// Reconcile runs one pass. Passes are single-flight: a call that overlaps a
// running pass returns immediately without doing work.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if !r.mu.TryLock() {
		log.Debugw("reconcile pass already running, skipping")
		return nil
	}
	defer r.mu.Unlock()

	ctx, span := otel.Tracer("").Start(ctx, "Reconciler.Reconcile")
	defer span.End()

	var active []*multisigmodel.MultiSigProposal
	if err := r.store.SelectModels(ctx, &active, "status", multisigmodel.ProposalActive); err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	var deleted multisigmodel.MultiSigProposalList
	for _, proposal := range active {
		detail, err := r.proposalDetail(ctx, proposal.MultisigID, proposal.ProposalID)
		if err != nil {
			return err
		}
		if detail != nil {
			continue
		}
		proposal.Status = multisigmodel.ProposalDeleted
		deleted = append(deleted, proposal)
	}
	span.SetAttributes(
		attribute.Int("active", len(active)),
		attribute.Int("deleted", len(deleted)),
	)
	if len(deleted) == 0 {
		return nil
	}

	if err := r.store.UpdateModels(ctx, &deleted, "status"); err != nil {
		return err
	}
	log.Infow("reconciled pruned proposals", "deleted", len(deleted), "active", len(active))
	metrics.RecordCount(ctx, metrics.ReconcileDeleted, len(deleted))
	return nil
}

// A ReconcileJob runs reconciliation passes on a fixed cadence. It
// implements schedule.Job so the scheduler owns its restart policy.
type ReconcileJob struct {
	reconciler *Reconciler
	interval   time.Duration
}

func NewReconcileJob(reconciler *Reconciler, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{reconciler: reconciler, interval: interval}
}

func (j *ReconcileJob) Run(ctx context.Context) error {
	return wait.RepeatUntil(ctx, j.interval, func(ctx context.Context) (bool, error) {
		return false, j.reconciler.Reconcile(ctx)
	})
}

func (r *Reconciler) proposalDetail(ctx context.Context, multisigID string, proposalID uint64) (*lens.ProposalDetail, error) {
	var detail *lens.ProposalDetail
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), proposalQueryAttempts), ctx)
	err := backoff.Retry(func() error {
		var err error
		detail, err = r.api.ProposalDetail(ctx, multisigID, proposalID)
		return err
	}, bo)
	if err != nil {
		return nil, err
	}
	return detail, nil
}
