// Package txparse extracts {from, to, value} from the two intercepted
// JSON-RPC methods: a structured send-transaction call, or a signed
// send-raw-transaction envelope.
package txparse

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
)

// Parsed is the {from, to, value} triple the policy pipeline consumes.
type Parsed struct {
	From      string
	To        string
	ValueWei  *big.Int
	TxHashHex string // only known up-front for raw transactions
}

// structuredParams is the shape send-transaction's single params object
// takes: an array with one object, mirroring eth_sendTransaction.
type structuredParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// ParseStructured handles send-transaction: params is a one-element
// array containing {from, to, value}. A missing value defaults to zero
//.
func ParseStructured(params json.RawMessage) (*Parsed, error) {
	var arr []structuredParams
	if err := json.Unmarshal(params, &arr); err != nil {
		return nil, fmt.Errorf("txparse: malformed send-transaction params: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("txparse: send-transaction params array is empty")
	}

	p := arr[0]
	value, err := parseHexWei(p.Value)
	if err != nil {
		return nil, fmt.Errorf("txparse: malformed value: %w", err)
	}

	return &Parsed{From: strings.ToLower(p.From), To: strings.ToLower(p.To), ValueWei: value}, nil
}

// ParseRaw handles send-raw-transaction: params[0] is the RLP-encoded,
// signed transaction envelope. It is decoded with go-ethereum's
// core/types.Transaction, which recovers `from` via the signature.
func ParseRaw(params json.RawMessage) (*Parsed, error) {
	var arr []string
	if err := json.Unmarshal(params, &arr); err != nil {
		return nil, fmt.Errorf("txparse: malformed send-raw-transaction params: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("txparse: send-raw-transaction params array is empty")
	}

	raw := strings.TrimPrefix(arr[0], "0x")
	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("txparse: raw transaction is not valid hex: %w", err)
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("txparse: raw transaction decode failed: %w", err)
	}

	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, &tx)
	if err != nil {
		return nil, fmt.Errorf("txparse: recover sender: %w", err)
	}

	to := ""
	if tx.To() != nil {
		to = strings.ToLower(tx.To().Hex())
	}

	return &Parsed{
		From:      strings.ToLower(from.Hex()),
		To:        to,
		ValueWei:  tx.Value(),
		TxHashHex: strings.ToLower(tx.Hash().Hex()),
	}, nil
}

func parseHexWei(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("not a valid hex integer: %q", s)
	}
	return v, nil
}

// ExtractTxHash finds the tx hash in an upstream JSON-RPC success
// response: either result is itself a 32-byte hex string, or the first
// 32-byte hex substring anywhere in the response body.
func ExtractTxHash(result json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(result, &asString); err == nil && is32ByteHex(asString) {
		return strings.ToLower(asString)
	}

	// Fall back to scanning the raw bytes for the first 0x-prefixed
	// 64-hex-digit substring.
	return findFirst32ByteHex(string(result))
}

func is32ByteHex(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	body := s[2:]
	if len(body) != 64 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

func findFirst32ByteHex(s string) string {
	for i := 0; i+66 <= len(s); i++ {
		if s[i] == '0' && i+1 < len(s) && s[i+1] == 'x' {
			candidate := s[i : i+66]
			if is32ByteHex(candidate) {
				return strings.ToLower(candidate)
			}
		}
	}
	return ""
}
