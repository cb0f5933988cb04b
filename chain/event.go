// Package chain normalizes raw chain events into the canonical form consumed
// by the projection engine. Events arrive in one of two encodings: live
// per-block notifications with typed parameter values, and replayed
// historical records whose parameters are a JSON attribute list. Both decode
// to the same NormalizedEvent shape.
package chain

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

// Format tags the source encoding of a raw event.
type Format int

const (
	FormatLive Format = iota
	FormatReplay
)

func (f Format) String() string {
	switch f {
	case FormatLive:
		return "live"
	case FormatReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// ParseFormat resolves a format name from configuration.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "live", "":
		return FormatLive, nil
	case "replay":
		return FormatReplay, nil
	default:
		return FormatLive, xerrors.Errorf("unknown source format %q", s)
	}
}

// ErrDecode indicates a parameter shape that does not match the expected
// format for the detected chain version or source format. Decode failures
// are fatal for the enclosing event; there is no partial-decode fallback.
var ErrDecode = errors.New("malformed event parameters")

func decodeErrf(format string, a ...interface{}) error {
	return xerrors.Errorf(format+": %w", append(a, ErrDecode)...)
}

// A RawEvent is one chain event as delivered by the chain client or the
// historical replay source, before normalization.
type RawEvent struct {
	Format      Format
	Module      string
	Event       string
	BlockID     string
	EventIdx    int
	SpecVersion uint32
	Datetime    time.Time
	// Signer is the address of the originating extrinsic signer, when the
	// extrinsic was signed.
	Signer string

	// Params carries the live-format typed parameter values.
	Params []json.RawMessage
	// Attributes carries the replay-format JSON-encoded attribute list.
	Attributes string
}

// A NormalizedEvent is the canonical event shape routed to projectors,
// identical regardless of source format.
type NormalizedEvent struct {
	Module      string
	Event       string
	BlockID     string
	EventIdx    int
	SpecVersion uint32
	Datetime    time.Time
	Signer      string
	Args        Args
}

// Key returns the dispatch key for the event.
func (e *NormalizedEvent) Key() string {
	return e.Module + "." + e.Event
}

// EventID returns the event's provenance id, blockID/eventIdx.
func (e *NormalizedEvent) EventID() string {
	return formatEventID(e.BlockID, e.EventIdx)
}

// Normalize converts a raw event into canonical form. The parameter list is
// validated lazily by the typed Args accessors; Normalize itself only
// absorbs the source-format difference.
func Normalize(raw *RawEvent) (*NormalizedEvent, error) {
	if raw.Module == "" || raw.Event == "" {
		return nil, decodeErrf("event missing module or event id")
	}

	var args Args
	switch raw.Format {
	case FormatLive:
		a, err := newLiveArgs(raw.Params)
		if err != nil {
			return nil, xerrors.Errorf("decoding live params for %s.%s: %w", raw.Module, raw.Event, err)
		}
		args = a
	case FormatReplay:
		a, err := newReplayArgs(raw.Attributes)
		if err != nil {
			return nil, xerrors.Errorf("decoding replay attributes for %s.%s: %w", raw.Module, raw.Event, err)
		}
		args = a
	default:
		return nil, decodeErrf("unknown source format %d", int(raw.Format))
	}

	return &NormalizedEvent{
		Module:      raw.Module,
		Event:       raw.Event,
		BlockID:     raw.BlockID,
		EventIdx:    raw.EventIdx,
		SpecVersion: raw.SpecVersion,
		Datetime:    raw.Datetime,
		Signer:      raw.Signer,
		Args:        args,
	}, nil
}

func formatEventID(blockID string, eventIdx int) string {
	return blockID + "/" + strconv.Itoa(eventIdx)
}
