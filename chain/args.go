package chain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Args is positional, typed access to an event's decoded parameter list.
// Accessors return an error wrapping ErrDecode when the parameter at the
// index does not have the requested shape.
type Args interface {
	Len() int
	// Raw returns the undecoded JSON value at index i.
	Raw(i int) (json.RawMessage, error)
	Text(i int) (string, error)
	U64(i int) (uint64, error)
	Bool(i int) (bool, error)
	// Address returns the parameter as a flat account address, re-encoding
	// the legacy nested signatory form used by historical records.
	Address(i int) (string, error)
}

// jsonArgs is the shared accessor implementation once both source formats
// have been reduced to a list of plain JSON values.
type jsonArgs []json.RawMessage

var _ Args = (jsonArgs)(nil)

func (a jsonArgs) Len() int { return len(a) }

func (a jsonArgs) Raw(i int) (json.RawMessage, error) {
	if i < 0 || i >= len(a) {
		return nil, decodeErrf("parameter index %d out of range (%d params)", i, len(a))
	}
	return a[i], nil
}

func (a jsonArgs) Text(i int) (string, error) {
	raw, err := a.Raw(i)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	// Numeric ids are carried as JSON numbers in some chain versions.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", decodeErrf("parameter %d is not text", i)
}

func (a jsonArgs) U64(i int) (uint64, error) {
	raw, err := a.Raw(i)
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	// Large numerics are carried as decimal strings.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			return v, nil
		}
	}
	return 0, decodeErrf("parameter %d is not an unsigned integer", i)
}

func (a jsonArgs) Bool(i int) (bool, error) {
	raw, err := a.Raw(i)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, decodeErrf("parameter %d is not a boolean", i)
	}
	return b, nil
}

func (a jsonArgs) Address(i int) (string, error) {
	raw, err := a.Raw(i)
	if err != nil {
		return "", err
	}
	return decodeAddress(raw, i)
}

// decodeAddress accepts a flat address string or the legacy nested form
// ({"Account": "0x…"} and similar single-key wrappers) and returns the flat
// address.
func decodeAddress(raw json.RawMessage, i int) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return normalizeAddress(s), nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped) == 1 {
		for _, inner := range wrapped {
			if err := json.Unmarshal(inner, &s); err == nil {
				return normalizeAddress(s), nil
			}
		}
	}
	return "", decodeErrf("parameter %d is not an address", i)
}

func normalizeAddress(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + strings.ToLower(s[2:])
	}
	return s
}

// liveParam is the wrapper the chain client places around every live-format
// parameter value.
type liveParam struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func newLiveArgs(params []json.RawMessage) (Args, error) {
	vals := make(jsonArgs, len(params))
	for i, p := range params {
		var lp liveParam
		if err := json.Unmarshal(p, &lp); err != nil {
			return nil, decodeErrf("live parameter %d is not a typed value", i)
		}
		if lp.Value == nil {
			return nil, decodeErrf("live parameter %d has no value", i)
		}
		vals[i] = lp.Value
	}
	return vals, nil
}

// newReplayArgs parses the JSON attribute list carried by replayed
// historical records. Each attribute is either a plain value or a
// {"value": …} wrapper; decoding is a direct index into the parsed array.
func newReplayArgs(attributes string) (Args, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(attributes), &items); err != nil {
		return nil, decodeErrf("attributes are not a JSON list")
	}
	vals := make(jsonArgs, len(items))
	for i, item := range items {
		var wrapped struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(item, &wrapped); err == nil && wrapped.Value != nil {
			vals[i] = wrapped.Value
			continue
		}
		vals[i] = item
	}
	return vals, nil
}

// ValueArgs builds an Args from in-memory values. Used by the genesis seeder
// to synthesize events and by tests.
func ValueArgs(vals ...interface{}) Args {
	raws := make(jsonArgs, len(vals))
	for i, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			// Marshal of plain values cannot fail; keep the slot decodable
			// as null rather than panic.
			b = []byte("null")
		}
		raws[i] = b
	}
	return raws
}
