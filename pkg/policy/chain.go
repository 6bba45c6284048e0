package policy

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// registryABIJSON is the minimal view-only surface of the policy registry
// contract this firewall depends on: a single getter keyed by (user, agent).
const registryABIJSON = `[
	{
		"name": "getPolicy",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "agent", "type": "address"}
		],
		"outputs": [
			{"name": "dailyLimit", "type": "uint256"},
			{"name": "currentSpend", "type": "uint256"},
			{"name": "lastReset", "type": "uint256"},
			{"name": "isActive", "type": "bool"},
			{"name": "exists", "type": "bool"}
		]
	}
]`

// ChainRegistry reads the policy tuple via a view call against the
// registry contract, using go-ethereum's ethclient/abi/bind stack — the
// same calling convention the ethereum-go-ethereum example repo's
// accounts/abi/bind tests exercise (bind.NewBoundContract + BoundContract.Call).
type ChainRegistry struct {
	contract *bind.BoundContract
	caller   bind.ContractCaller
}

// NewChainRegistry dials the node at rpcURL and binds the registry ABI to
// contractAddress.
func NewChainRegistry(ctx context.Context, rpcURL, contractAddress string) (*ChainRegistry, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("policy: dial eth rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("policy: parse registry abi: %w", err)
	}

	addr := common.HexToAddress(contractAddress)
	bc := bind.NewBoundContract(addr, parsed, client, nil, nil)

	return &ChainRegistry{contract: bc, caller: client}, nil
}

// ReadPolicy implements Registry.
func (r *ChainRegistry) ReadPolicy(ctx context.Context, user, agent string) (*Policy, error) {
	var out []interface{}
	results := &out

	err := r.contract.Call(&bind.CallOpts{Context: ctx}, results, "getPolicy",
		common.HexToAddress(user), common.HexToAddress(agent))
	if err != nil {
		return nil, fmt.Errorf("policy: getPolicy call: %w", err)
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("policy: unexpected getPolicy return arity %d", len(out))
	}

	dailyLimit, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("policy: dailyLimit not a uint256")
	}
	currentSpend, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("policy: currentSpend not a uint256")
	}
	lastReset, ok := out[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("policy: lastReset not a uint256")
	}
	isActive, ok := out[3].(bool)
	if !ok {
		return nil, fmt.Errorf("policy: isActive not a bool")
	}
	exists, ok := out[4].(bool)
	if !ok {
		return nil, fmt.Errorf("policy: exists not a bool")
	}

	return &Policy{
		User:                strings.ToLower(user),
		Agent:               strings.ToLower(agent),
		DailyLimit:          dailyLimit,
		CurrentSpendOnChain: currentSpend,
		LastReset:           lastReset.Int64(),
		IsActive:            isActive,
		Exists:              exists,
	}, nil
}
