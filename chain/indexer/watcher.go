package indexer

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/lens"
)

// A Watcher consumes the lens block subscription and feeds each block to the
// processor. It implements schedule.Job so the scheduler owns its restart
// policy.
type Watcher struct {
	api       lens.API
	processor *BlockProcessor
	format    chain.Format
}

func NewWatcher(api lens.API, processor *BlockProcessor, format chain.Format) *Watcher {
	return &Watcher{api: api, processor: processor, format: format}
}

// Run blocks until the context is done or the subscription fails. Event
// failures inside a block do not stop the watch; they are logged by the
// processor and reported per event.
func (w *Watcher) Run(ctx context.Context) error {
	blocks, err := w.api.SubscribeBlocks(ctx)
	if err != nil {
		return xerrors.Errorf("subscribing to blocks: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case be, ok := <-blocks:
			if !ok {
				return xerrors.Errorf("block subscription closed")
			}
			for _, raw := range be.Events {
				raw.Format = w.format
			}
			report, err := w.processor.ProcessBlock(ctx, be.BlockID, be.Events)
			if err != nil {
				return err
			}
			if len(report.EventErrors) > 0 {
				log.Warnw("block projected with event failures", "block", report.BlockID, "events", report.Events, "handled", report.Handled, "failed", len(report.EventErrors))
			} else {
				log.Debugw("block projected", "block", report.BlockID, "events", report.Events, "handled", report.Handled)
			}
		}
	}
}
