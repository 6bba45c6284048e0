// Package crypto supplies the audit evidence pack's content-addressing and
// signing primitives: a canonical hash of an exported evidence pack and an
// Ed25519 signature over it.
package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalMarshal marshals v into canonical JSON (RFC 8785-inspired):
// map keys sorted lexicographically (Go's default), no HTML escaping, no
// indentation, no trailing newline — so the same value always produces
// the same bytes for hashing.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	ret := buf.Bytes()
	if len(ret) > 0 && ret[len(ret)-1] == '\n' {
		ret = ret[:len(ret)-1]
	}
	return ret, nil
}

// SigPrefixEd25519 tags a signature produced by an Ed25519Signer with its
// algorithm.
const SigPrefixEd25519 = "ed25519"
