// Package indexer routes normalized chain events to the projectors
// registered for them and drives per-block processing.
package indexer

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/metrics"
	"github.com/polymesh-project/prism/model"
)

var log = logging.Logger("prism/indexer")

// A HandlerFunc projects one normalized event inside the event's
// transaction scope.
type HandlerFunc func(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error

// Dispatcher routes each event to the handlers registered for its
// (module, event) pair, in registration order.
type Dispatcher struct {
	handlers map[string][]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: map[string][]HandlerFunc{},
	}
}

// Register adds a handler for the (module, event) pair. Registration is not
// safe for concurrent use; wire all projectors before dispatching.
func (d *Dispatcher) Register(module, event string, h HandlerFunc) {
	key := module + "." + event
	d.handlers[key] = append(d.handlers[key], h)
}

// Dispatch invokes the handlers registered for ev, in order. Events with no
// registered handler are skipped silently; the stream carries many modules
// the projection does not cover.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *chain.NormalizedEvent, tx model.TxStore) error {
	hs, ok := d.handlers[ev.Key()]
	if !ok {
		return nil
	}

	ctx = metrics.WithTagValue(ctx, metrics.Module, ev.Module)
	ctx = metrics.WithTagValue(ctx, metrics.Event, ev.Event)
	stop := metrics.Timer(ctx, metrics.ProcessingDuration)
	defer stop()

	ctx, span := otel.Tracer("").Start(ctx, "Dispatcher.Dispatch")
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("module", ev.Module),
			attribute.String("event", ev.Event),
			attribute.String("block", ev.BlockID),
			attribute.Int("event_idx", ev.EventIdx),
		)
	}
	defer span.End()

	for _, h := range hs {
		if err := h(ctx, ev, tx); err != nil {
			metrics.RecordInc(ctx, metrics.ProcessingFailure)
			return xerrors.Errorf("handling %s at %s: %w", ev.Key(), ev.EventID(), err)
		}
	}
	return nil
}
