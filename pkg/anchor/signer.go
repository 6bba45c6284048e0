// Package anchor implements the periodic worker that anchors off-chain
// spend records on-chain via recordSpend, and the facilitator
// signer that authorizes those transactions.
package anchor

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// FacilitatorSigner exposes the key material needed to authorize a
// recordSpend transaction, backed by go-ethereum's ECDSA/secp256k1
// primitives since the signature must be verifiable by the on-chain
// registry.
type FacilitatorSigner interface {
	PrivateKey() *ecdsa.PrivateKey
	Address() string
}

// ECDSASigner holds the facilitator's secp256k1 key.
type ECDSASigner struct {
	priv *ecdsa.PrivateKey
	addr string
}

// NewECDSASignerFromHex parses a hex-encoded (0x-prefixed or bare)
// secp256k1 private key supplied as the facilitator's signing material.
func NewECDSASignerFromHex(keyHex string) (*ECDSASigner, error) {
	keyHex = strings.TrimPrefix(keyHex, "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("anchor: facilitator key is empty")
	}
	if _, err := hex.DecodeString(keyHex); err != nil {
		return nil, fmt.Errorf("anchor: facilitator key is not valid hex: %w", err)
	}

	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("anchor: parse facilitator key: %w", err)
	}

	addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()
	return &ECDSASigner{priv: priv, addr: addr}, nil
}

func (s *ECDSASigner) PrivateKey() *ecdsa.PrivateKey { return s.priv }
func (s *ECDSASigner) Address() string               { return s.addr }
