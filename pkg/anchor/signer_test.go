package anchor_test

import (
	"testing"

	"github.com/aegis-labs/aegis-firewall/pkg/anchor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewECDSASignerFromHex_ParsesValidKey(t *testing.T) {
	s, err := anchor.NewECDSASignerFromHex(testPrivKeyHex)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Address())
	assert.NotNil(t, s.PrivateKey())
}

func TestNewECDSASignerFromHex_AcceptsHexPrefix(t *testing.T) {
	s, err := anchor.NewECDSASignerFromHex("0x" + testPrivKeyHex)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Address())
}

func TestNewECDSASignerFromHex_RejectsEmptyKey(t *testing.T) {
	_, err := anchor.NewECDSASignerFromHex("")
	require.Error(t, err)
}

func TestNewECDSASignerFromHex_RejectsMalformedHex(t *testing.T) {
	_, err := anchor.NewECDSASignerFromHex("not-hex")
	require.Error(t, err)
}
