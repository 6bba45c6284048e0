package identity_test

import (
	"testing"

	"github.com/aegis-labs/aegis-firewall/pkg/identity"
	"github.com/stretchr/testify/assert"
)

func TestResolve_HeadersTakePriority(t *testing.T) {
	u, a := identity.Resolve(
		identity.Headers{User: "0xHeaderUser", Agent: "0xHeaderAgent"},
		identity.Tx{From: "0xTxFrom"},
		identity.Defaults{User: "0xDefaultUser", Agent: "0xDefaultAgent"},
	)
	assert.Equal(t, "0xheaderuser", u)
	assert.Equal(t, "0xheaderagent", a)
}

func TestResolve_FallsBackToTxFromForUser(t *testing.T) {
	u, a := identity.Resolve(
		identity.Headers{},
		identity.Tx{From: "0xTxFrom"},
		identity.Defaults{User: "0xDefaultUser", Agent: "0xDefaultAgent"},
	)
	assert.Equal(t, "0xtxfrom", u)
	assert.Equal(t, "0xdefaultagent", a)
}

func TestResolve_FallsBackToConfiguredDefaults(t *testing.T) {
	u, a := identity.Resolve(
		identity.Headers{},
		identity.Tx{},
		identity.Defaults{User: "0xDefaultUser", Agent: "0xDefaultAgent"},
	)
	assert.Equal(t, "0xdefaultuser", u)
	assert.Equal(t, "0xdefaultagent", a)
}

func TestResolve_LowercasesEverything(t *testing.T) {
	u, a := identity.Resolve(
		identity.Headers{User: "0xABCDEF"},
		identity.Tx{},
		identity.Defaults{Agent: "0x123ABC"},
	)
	assert.Equal(t, "0xabcdef", u)
	assert.Equal(t, "0x123abc", a)
}
