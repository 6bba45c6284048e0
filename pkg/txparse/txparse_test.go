package txparse_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/aegis-labs/aegis-firewall/pkg/txparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructured_ReadsFromToValue(t *testing.T) {
	params := json.RawMessage(`[{"from":"0xAAA","to":"0xBBB","value":"0x2386f26fc10000"}]`)

	p, err := txparse.ParseStructured(params)
	require.NoError(t, err)

	assert.Equal(t, "0xaaa", p.From)
	assert.Equal(t, "0xbbb", p.To)
	assert.Equal(t, big.NewInt(10000000000000000), p.ValueWei)
}

func TestParseStructured_MissingValueDefaultsToZero(t *testing.T) {
	params := json.RawMessage(`[{"from":"0xAAA","to":"0xBBB"}]`)

	p, err := txparse.ParseStructured(params)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), p.ValueWei)
}

func TestParseStructured_RejectsEmptyParamsArray(t *testing.T) {
	_, err := txparse.ParseStructured(json.RawMessage(`[]`))
	require.Error(t, err)
}

func TestExtractTxHash_FromStringResult(t *testing.T) {
	result := json.RawMessage(`"0xabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabca"`)
	hash := txparse.ExtractTxHash(result)
	assert.Equal(t, "0xabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabca", hash)
}

func TestExtractTxHash_ScansForSubstring(t *testing.T) {
	result := json.RawMessage(`{"status":"ok","hash":"0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}`)
	hash := txparse.ExtractTxHash(result)
	assert.Equal(t, "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", hash)
}

func TestExtractTxHash_ReturnsEmptyWhenNoHashPresent(t *testing.T) {
	result := json.RawMessage(`{"status":"ok"}`)
	hash := txparse.ExtractTxHash(result)
	assert.Equal(t, "", hash)
}
