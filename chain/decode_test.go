package chain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymesh-project/prism/chain"
)

func rawArgs(vals ...string) chain.Args {
	raws := make([]interface{}, len(vals))
	for i, v := range vals {
		raws[i] = json.RawMessage(v)
	}
	return chain.ValueArgs(raws...)
}

func TestDecodeLegsLegacy(t *testing.T) {
	args := rawArgs(`[
		{"from":{"did":"0xA1","kind":"Default"},"to":{"did":"0xB2","kind":{"User":3}},"asset":"TICK","amount":"1000"}
	]`)

	legs, err := chain.DecodeLegs(args, 0, chain.LegSchemaCutoff-1)
	require.NoError(t, err)
	require.Len(t, legs, 1)

	assert.Equal(t, chain.LegFungible, legs[0].Kind)
	assert.Equal(t, chain.PortfolioInput{DID: "0xa1", Number: 0}, legs[0].From)
	assert.Equal(t, chain.PortfolioInput{DID: "0xb2", Number: 3}, legs[0].To)
	assert.Equal(t, "TICK", legs[0].Asset)
	assert.Equal(t, "1000", legs[0].Amount)
}

func TestDecodeLegsTagged(t *testing.T) {
	args := rawArgs(`[
		{"Fungible":{"sender":{"did":"0xA1","kind":"Default"},"receiver":{"did":"0xB2","kind":{"User":1}},"ticker":"TICK","amount":"500"}},
		{"NonFungible":{"sender":{"did":"0xA1"},"receiver":{"did":"0xB2"},"nfts":{"ticker":"ART","ids":[7,9]}}},
		{"OffChain":{"senderIdentity":"0xA1","receiverIdentity":"0xB2","ticker":"USD","amount":"99"}}
	]`)

	legs, err := chain.DecodeLegs(args, 0, chain.LegSchemaCutoff)
	require.NoError(t, err)
	require.Len(t, legs, 3)

	assert.Equal(t, chain.LegFungible, legs[0].Kind)
	assert.Equal(t, uint64(1), legs[0].To.Number)

	assert.Equal(t, chain.LegNonFungible, legs[1].Kind)
	assert.Equal(t, "ART", legs[1].Asset)
	assert.Equal(t, []uint64{7, 9}, legs[1].NftIDs)

	assert.Equal(t, chain.LegOffChain, legs[2].Kind)
	assert.Equal(t, "0xa1", legs[2].From.DID)
	assert.Equal(t, "USD", legs[2].Asset)
}

func TestDecodeLegsUnknownVariant(t *testing.T) {
	args := rawArgs(`[{"Teleport":{}}]`)
	_, err := chain.DecodeLegs(args, 0, chain.LegSchemaCutoff)
	assert.ErrorIs(t, err, chain.ErrDecode)
}

func TestDecodeSigner(t *testing.T) {
	flat := rawArgs(`{"Account":"0xAA11"}`)
	s, err := chain.DecodeSigner(flat, 0, chain.SignerSchemaCutoff)
	require.NoError(t, err)
	assert.Equal(t, chain.SignerInput{Type: "Account", Value: "0xaa11"}, s)

	legacy := rawArgs(`{"signer":{"AccountKey":"0xAA11"}}`)
	s, err = chain.DecodeSigner(legacy, 0, chain.SignerSchemaCutoff-1)
	require.NoError(t, err)
	assert.Equal(t, chain.SignerInput{Type: "Account", Value: "0xaa11"}, s)

	ident := rawArgs(`{"Identity":"0xD1"}`)
	s, err = chain.DecodeSigner(ident, 0, chain.SignerSchemaCutoff)
	require.NoError(t, err)
	assert.Equal(t, chain.SignerInput{Type: "Identity", Value: "0xd1"}, s)

	_, err = chain.DecodeSigner(rawArgs(`{"Robot":"0x00"}`), 0, chain.SignerSchemaCutoff)
	assert.ErrorIs(t, err, chain.ErrDecode)
}

func TestDecodeSignerList(t *testing.T) {
	args := rawArgs(`[{"Account":"0xAA"},{"Identity":"0xD1"}]`)
	signers, err := chain.DecodeSignerList(args, 0, chain.SignerSchemaCutoff)
	require.NoError(t, err)
	require.Len(t, signers, 2)
	assert.Equal(t, "Account", signers[0].Type)
	assert.Equal(t, "Identity", signers[1].Type)

	legacy := rawArgs(`[{"signer":{"AccountKey":"0xAA"}}]`)
	signers, err = chain.DecodeSignerList(legacy, 0, chain.SignerSchemaCutoff-1)
	require.NoError(t, err)
	require.Len(t, signers, 1)
	assert.Equal(t, chain.SignerInput{Type: "Account", Value: "0xaa"}, signers[0])
}

func TestDecodePermissions(t *testing.T) {
	args := rawArgs(`{
		"asset":{"These":["TICK","OTHR"]},
		"portfolio":{"Except":[{"did":"0xD1","kind":{"User":2}}]},
		"extrinsic":"Whole",
		"transactionGroups":["Distribution","Issuance"]
	}`)

	grant, err := chain.DecodePermissions(args, 0)
	require.NoError(t, err)

	require.NotNil(t, grant.Assets)
	assert.Equal(t, "These", grant.Assets.Type)
	assert.Equal(t, []string{"TICK", "OTHR"}, grant.Assets.Values)

	require.Len(t, grant.Portfolios, 1)
	assert.Equal(t, "0xd1", grant.Portfolios[0].DID)
	assert.Equal(t, uint64(2), grant.Portfolios[0].Number)

	require.NotNil(t, grant.Transactions)
	assert.Equal(t, "Whole", grant.Transactions.Type)
	assert.Empty(t, grant.Transactions.Values)

	assert.Equal(t, []string{"Distribution", "Issuance"}, grant.TransactionGroups)
}

func TestDecodeSecondaryKeys(t *testing.T) {
	args := rawArgs(`[
		{"key":"0xAA","permissions":{"asset":"Whole"}},
		{"key":{"Account":"0xBB"}}
	]`)

	keys, err := chain.DecodeSecondaryKeys(args, 0)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "0xaa", keys[0].Address)
	require.NotNil(t, keys[0].Grant.Assets)
	assert.Equal(t, "Whole", keys[0].Grant.Assets.Type)

	assert.Equal(t, "0xbb", keys[1].Address)
}

func TestDecodeSettlementType(t *testing.T) {
	tag, block, err := chain.DecodeSettlementType(rawArgs(`"SettleOnAffirmation"`), 0)
	require.NoError(t, err)
	assert.Equal(t, "SettleOnAffirmation", tag)
	assert.Nil(t, block)

	tag, block, err = chain.DecodeSettlementType(rawArgs(`{"SettleOnBlock":12345}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "SettleOnBlock", tag)
	require.NotNil(t, block)
	assert.Equal(t, uint64(12345), *block)
}

func TestDecodeTimeOpt(t *testing.T) {
	ts, err := chain.DecodeTimeOpt(rawArgs(`1700000000000`), 0)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), *ts)

	ts, err = chain.DecodeTimeOpt(rawArgs(`"2023-11-14T22:13:20Z"`), 0)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 2023, ts.Year())

	ts, err = chain.DecodeTimeOpt(rawArgs(`null`), 0)
	require.NoError(t, err)
	assert.Nil(t, ts)
}
