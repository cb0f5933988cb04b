package indexer

import (
	"context"
	"strconv"
	"sync"

	"github.com/gammazero/workerpool"
	"go.opencensus.io/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/metrics"
	"github.com/polymesh-project/prism/model"
	"github.com/polymesh-project/prism/storage"
)

// A Report summarizes the projection of one block.
type Report struct {
	BlockID string
	Events  int
	Handled int
	// EventErrors maps blockID/eventIdx to the fatal error that aborted the
	// event's transaction. Whether to continue past a failed event is the
	// host's policy; the processor reports and moves on.
	EventErrors map[string]error
}

// BlockProcessor normalizes and dispatches a block's events. Normalization
// is CPU-bound and runs on a worker pool; dispatch applies events strictly
// in (blockID, eventIdx) order, one transaction per event.
type BlockProcessor struct {
	dispatcher *Dispatcher
	store      storage.TxRunner
	pool       *workerpool.WorkerPool
}

func NewBlockProcessor(d *Dispatcher, store storage.TxRunner, workers int) *BlockProcessor {
	if workers < 1 {
		workers = 1
	}
	return &BlockProcessor{
		dispatcher: d,
		store:      store,
		pool:       workerpool.New(workers),
	}
}

// Close stops the worker pool, waiting for queued work.
func (p *BlockProcessor) Close() {
	p.pool.StopWait()
}

// ProcessBlock projects one block's events. raws must be ordered by event
// index. A decode failure aborts the whole block, since projecting a prefix
// of a block would leave derived state inconsistent; handler failures abort
// only the failing event's transaction and are reported per event.
func (p *BlockProcessor) ProcessBlock(ctx context.Context, blockID string, raws []*chain.RawEvent) (*Report, error) {
	ctx, span := otel.Tracer("").Start(ctx, "BlockProcessor.ProcessBlock")
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("block", blockID),
			attribute.Int("events", len(raws)),
		)
	}
	defer span.End()

	if height, err := strconv.ParseInt(blockID, 10, 64); err == nil {
		stats.Record(ctx, metrics.BlockHeight.M(height))
	}

	normalized := make([]*chain.NormalizedEvent, len(raws))
	errs := make([]error, len(raws))

	var wg sync.WaitGroup
	for i, raw := range raws {
		i, raw := i, raw
		wg.Add(1)
		p.pool.Submit(func() {
			defer wg.Done()
			normalized[i], errs[i] = chain.Normalize(raw)
		})
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			metrics.RecordInc(ctx, metrics.DecodeFailure)
			return nil, xerrors.Errorf("normalizing event %d of block %s: %w", raws[i].EventIdx, blockID, err)
		}
	}

	report := &Report{
		BlockID:     blockID,
		Events:      len(normalized),
		EventErrors: map[string]error{},
	}

	for _, ev := range normalized {
		ev := ev
		err := p.store.WithTx(ctx, func(tx model.TxStore) error {
			return p.dispatcher.Dispatch(ctx, ev, tx)
		})
		if err != nil {
			log.Errorw("event projection failed", "block", blockID, "event", ev.Key(), "event_idx", ev.EventIdx, "error", err)
			report.EventErrors[ev.EventID()] = err
			continue
		}
		report.Handled++
	}

	return report, nil
}
