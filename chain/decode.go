package chain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/polymesh-project/prism/model/identity"
)

// Chain version thresholds. The spec version is carried in every event's
// context and selects the decoder variant once per event.
const (
	// LegSchemaCutoff is the first spec version using the tagged leg
	// encoding with non-fungible and off-chain support. Versions below it
	// use the flat fungible-only encoding.
	LegSchemaCutoff uint32 = 6_000_000

	// SignerSchemaCutoff is the first spec version using the flat signatory
	// encoding. Versions below it nest the signer one level deeper.
	SignerSchemaCutoff uint32 = 5_000_000
)

// Leg kinds, one per tagged variant of the modern leg encoding.
const (
	LegFungible    = "Fungible"
	LegNonFungible = "NonFungible"
	LegOffChain    = "OffChain"
)

// A PortfolioInput names a portfolio party of a leg.
type PortfolioInput struct {
	DID    string
	Number uint64
}

// A LegInput is one decoded asset movement, identical regardless of the
// source chain version.
type LegInput struct {
	Kind   string
	From   PortfolioInput
	To     PortfolioInput
	Asset  string
	Amount string
	NftIDs []uint64
}

// A SignerInput is one decoded multisig signatory, identical regardless of
// the source chain version.
type SignerInput struct {
	Type  string // Account or Identity
	Value string
}

type rawPortfolio struct {
	DID  string          `json:"did"`
	Kind json.RawMessage `json:"kind"`
}

func (p *rawPortfolio) input() (PortfolioInput, error) {
	out := PortfolioInput{DID: normalizeAddress(p.DID)}
	if len(p.Kind) == 0 {
		return out, nil
	}
	var s string
	if err := json.Unmarshal(p.Kind, &s); err == nil {
		// "Default"
		return out, nil
	}
	var tagged struct {
		User *uint64 `json:"User"`
	}
	if err := json.Unmarshal(p.Kind, &tagged); err != nil || tagged.User == nil {
		var def struct {
			Default *json.RawMessage `json:"Default"`
		}
		if err := json.Unmarshal(p.Kind, &def); err == nil && def.Default != nil {
			return out, nil
		}
		return out, decodeErrf("portfolio kind has unknown shape")
	}
	out.Number = *tagged.User
	return out, nil
}

// DecodeLegs decodes the leg list parameter at index i. The encoding is
// selected by the event's spec version: flat fungible-only legs below
// LegSchemaCutoff, tagged variants at or above it.
func DecodeLegs(args Args, i int, specVersion uint32) ([]LegInput, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	if specVersion < LegSchemaCutoff {
		return decodeLegacyLegs(raw)
	}
	return decodeTaggedLegs(raw)
}

func decodeLegacyLegs(raw json.RawMessage) ([]LegInput, error) {
	var items []struct {
		From   rawPortfolio `json:"from"`
		To     rawPortfolio `json:"to"`
		Asset  string       `json:"asset"`
		Amount string       `json:"amount"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrf("legacy leg list has unknown shape")
	}
	legs := make([]LegInput, 0, len(items))
	for idx, item := range items {
		from, err := item.From.input()
		if err != nil {
			return nil, decodeErrf("legacy leg %d sender: %v", idx, err)
		}
		to, err := item.To.input()
		if err != nil {
			return nil, decodeErrf("legacy leg %d receiver: %v", idx, err)
		}
		legs = append(legs, LegInput{
			Kind:   LegFungible,
			From:   from,
			To:     to,
			Asset:  item.Asset,
			Amount: item.Amount,
		})
	}
	return legs, nil
}

func decodeTaggedLegs(raw json.RawMessage) ([]LegInput, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrf("leg list has unknown shape")
	}
	legs := make([]LegInput, 0, len(items))
	for idx, item := range items {
		if len(item) != 1 {
			return nil, decodeErrf("leg %d is not a tagged variant", idx)
		}
		for tag, body := range item {
			leg, err := decodeTaggedLeg(tag, body)
			if err != nil {
				return nil, decodeErrf("leg %d: %v", idx, err)
			}
			legs = append(legs, leg)
		}
	}
	return legs, nil
}

func decodeTaggedLeg(tag string, body json.RawMessage) (LegInput, error) {
	switch tag {
	case LegFungible:
		var v struct {
			Sender   rawPortfolio `json:"sender"`
			Receiver rawPortfolio `json:"receiver"`
			Ticker   string       `json:"ticker"`
			Amount   string       `json:"amount"`
		}
		if err := json.Unmarshal(body, &v); err != nil {
			return LegInput{}, decodeErrf("fungible leg has unknown shape")
		}
		from, err := v.Sender.input()
		if err != nil {
			return LegInput{}, err
		}
		to, err := v.Receiver.input()
		if err != nil {
			return LegInput{}, err
		}
		return LegInput{Kind: LegFungible, From: from, To: to, Asset: v.Ticker, Amount: v.Amount}, nil

	case LegNonFungible:
		var v struct {
			Sender   rawPortfolio `json:"sender"`
			Receiver rawPortfolio `json:"receiver"`
			Nfts     struct {
				Ticker string   `json:"ticker"`
				IDs    []uint64 `json:"ids"`
			} `json:"nfts"`
		}
		if err := json.Unmarshal(body, &v); err != nil {
			return LegInput{}, decodeErrf("non-fungible leg has unknown shape")
		}
		from, err := v.Sender.input()
		if err != nil {
			return LegInput{}, err
		}
		to, err := v.Receiver.input()
		if err != nil {
			return LegInput{}, err
		}
		return LegInput{Kind: LegNonFungible, From: from, To: to, Asset: v.Nfts.Ticker, NftIDs: v.Nfts.IDs}, nil

	case LegOffChain:
		// Off-chain legs name identities rather than portfolios; they map
		// onto the parties' default portfolios.
		var v struct {
			SenderIdentity   string `json:"senderIdentity"`
			ReceiverIdentity string `json:"receiverIdentity"`
			Ticker           string `json:"ticker"`
			Amount           string `json:"amount"`
		}
		if err := json.Unmarshal(body, &v); err != nil {
			return LegInput{}, decodeErrf("off-chain leg has unknown shape")
		}
		return LegInput{
			Kind:   LegOffChain,
			From:   PortfolioInput{DID: normalizeAddress(v.SenderIdentity)},
			To:     PortfolioInput{DID: normalizeAddress(v.ReceiverIdentity)},
			Asset:  v.Ticker,
			Amount: v.Amount,
		}, nil

	default:
		return LegInput{}, decodeErrf("unknown leg variant %q", tag)
	}
}

// DecodeSigner decodes the multisig signatory parameter at index i,
// normalizing the legacy nested encoding used below SignerSchemaCutoff.
func DecodeSigner(args Args, i int, specVersion uint32) (SignerInput, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return SignerInput{}, err
	}
	if specVersion < SignerSchemaCutoff {
		// Legacy records nest the signatory under a "signer" key.
		var wrapped struct {
			Signer json.RawMessage `json:"signer"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Signer == nil {
			return SignerInput{}, decodeErrf("legacy signer %d has unknown shape", i)
		}
		raw = wrapped.Signer
	}
	return decodeSignerBody(raw, i)
}

// DecodeSignerList decodes the list of multisig signatories at index i. List
// elements below SignerSchemaCutoff may carry the same legacy nesting as the
// scalar form.
func DecodeSignerList(args Args, i int, specVersion uint32) ([]SignerInput, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrf("signer list %d is not an array", i)
	}
	out := make([]SignerInput, 0, len(items))
	for _, item := range items {
		if specVersion < SignerSchemaCutoff {
			var wrapped struct {
				Signer json.RawMessage `json:"signer"`
			}
			if err := json.Unmarshal(item, &wrapped); err == nil && wrapped.Signer != nil {
				item = wrapped.Signer
			}
		}
		s, err := decodeSignerBody(item, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeSignerBody(raw json.RawMessage, i int) (SignerInput, error) {
	var tagged map[string]string
	if err := json.Unmarshal(raw, &tagged); err != nil || len(tagged) != 1 {
		return SignerInput{}, decodeErrf("signer %d is not a tagged variant", i)
	}
	for tag, value := range tagged {
		switch tag {
		case "Account", "AccountKey":
			return SignerInput{Type: "Account", Value: normalizeAddress(value)}, nil
		case "Identity":
			return SignerInput{Type: "Identity", Value: normalizeAddress(value)}, nil
		default:
			return SignerInput{}, decodeErrf("unknown signer variant %q", tag)
		}
	}
	return SignerInput{}, decodeErrf("signer %d is empty", i)
}

// DecodePermissions decodes the permission grant parameter at index i into
// the closed capability union: asset, portfolio and extrinsic grants plus
// the transaction-group list.
func DecodePermissions(args Args, i int) (*identity.PermissionGrant, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	return decodeGrant(raw, i)
}

func decodeGrant(raw json.RawMessage, i int) (*identity.PermissionGrant, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, decodeErrf("permissions %d are not an object", i)
	}

	grant := &identity.PermissionGrant{}
	for key, body := range fields {
		switch key {
		case "asset":
			set, err := decodePermissionSet(body)
			if err != nil {
				return nil, decodeErrf("asset permissions: %v", err)
			}
			grant.Assets = set
		case "portfolio":
			refs, err := decodePortfolioPermissions(body)
			if err != nil {
				return nil, decodeErrf("portfolio permissions: %v", err)
			}
			grant.Portfolios = refs
		case "extrinsic":
			set, err := decodePermissionSet(body)
			if err != nil {
				return nil, decodeErrf("extrinsic permissions: %v", err)
			}
			grant.Transactions = set
		default:
			// Any remaining key carries the transaction-group list.
			var groups []string
			if err := json.Unmarshal(body, &groups); err != nil {
				return nil, decodeErrf("transaction groups under %q have unknown shape", key)
			}
			grant.TransactionGroups = groups
		}
	}
	return grant, nil
}

// decodePermissionSet decodes a capability variant: either the string
// "Whole" or a single-key object mapping the variant tag to its values.
func decodePermissionSet(raw json.RawMessage) (*identity.PermissionSet, error) {
	var whole string
	if err := json.Unmarshal(raw, &whole); err == nil {
		return &identity.PermissionSet{Type: whole}, nil
	}
	var tagged map[string][]string
	if err := json.Unmarshal(raw, &tagged); err != nil || len(tagged) != 1 {
		return nil, decodeErrf("capability variant has unknown shape")
	}
	for tag, values := range tagged {
		return &identity.PermissionSet{Type: tag, Values: values}, nil
	}
	return nil, decodeErrf("capability variant is empty")
}

func decodePortfolioPermissions(raw json.RawMessage) ([]identity.PortfolioRef, error) {
	var whole string
	if err := json.Unmarshal(raw, &whole); err == nil {
		return nil, nil
	}
	var tagged map[string][]rawPortfolio
	if err := json.Unmarshal(raw, &tagged); err != nil || len(tagged) != 1 {
		return nil, decodeErrf("portfolio variant has unknown shape")
	}
	var refs []identity.PortfolioRef
	for _, items := range tagged {
		for _, item := range items {
			in, err := item.input()
			if err != nil {
				return nil, err
			}
			refs = append(refs, identity.PortfolioRef{DID: in.DID, Number: in.Number})
		}
	}
	return refs, nil
}

// A SecondaryKeyInput is one decoded secondary key authorization: the key's
// address and its permission grant.
type SecondaryKeyInput struct {
	Address string
	Grant   *identity.PermissionGrant
}

// DecodeSecondaryKeys decodes the secondary key list parameter at index i.
func DecodeSecondaryKeys(args Args, i int) ([]SecondaryKeyInput, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	var items []struct {
		Key         json.RawMessage `json:"key"`
		Permissions json.RawMessage `json:"permissions"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrf("secondary key list %d has unknown shape", i)
	}
	keys := make([]SecondaryKeyInput, 0, len(items))
	for idx, item := range items {
		addr, err := decodeAddress(item.Key, idx)
		if err != nil {
			return nil, decodeErrf("secondary key %d: %v", idx, err)
		}
		grant := &identity.PermissionGrant{}
		if len(item.Permissions) > 0 {
			grant, err = decodeGrant(item.Permissions, idx)
			if err != nil {
				return nil, decodeErrf("secondary key %d: %v", idx, err)
			}
		}
		keys = append(keys, SecondaryKeyInput{Address: addr, Grant: grant})
	}
	return keys, nil
}

// DecodeAddressList decodes the address list parameter at index i,
// re-encoding legacy nested signatory forms to flat addresses.
func DecodeAddressList(args Args, i int) ([]string, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrf("address list %d has unknown shape", i)
	}
	addrs := make([]string, 0, len(items))
	for idx, item := range items {
		addr, err := decodeAddress(item, idx)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// DecodeTextList decodes the parameter at index i as a list of strings.
func DecodeTextList(args Args, i int) ([]string, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrf("parameter %d is not a text list", i)
	}
	for idx, s := range items {
		items[idx] = normalizeAddress(s)
	}
	return items, nil
}

// DecodeTextOpt returns the text parameter at index i, or "" when it is null.
func DecodeTextOpt(args Args, i int) (string, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return "", err
	}
	if isNull(raw) {
		return "", nil
	}
	return args.Text(i)
}

// DecodeTimeOpt returns the timestamp parameter at index i, or nil when it
// is null. Timestamps are carried as millisecond epochs or RFC 3339 text.
func DecodeTimeOpt(args Args, i int) (*time.Time, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			return &t, nil
		}
	}
	return nil, decodeErrf("parameter %d is not a timestamp", i)
}

// DecodeU64Opt returns the unsigned parameter at index i, or nil when it is null.
func DecodeU64Opt(args Args, i int) (*uint64, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	v, err := args.U64(i)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// DecodeSettlementType decodes the settlement type parameter at index i:
// either a bare tag ("SettleOnAffirmation", "SettleManual") or a tagged
// variant carrying the scheduled block ({"SettleOnBlock": n}).
func DecodeSettlementType(args Args, i int) (string, *uint64, error) {
	raw, err := args.Raw(i)
	if err != nil {
		return "", nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil, nil
	}
	var tagged map[string]uint64
	if err := json.Unmarshal(raw, &tagged); err != nil || len(tagged) != 1 {
		return "", nil, decodeErrf("settlement type %d has unknown shape", i)
	}
	for tag, block := range tagged {
		block := block
		return tag, &block, nil
	}
	return "", nil, decodeErrf("settlement type %d is empty", i)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
