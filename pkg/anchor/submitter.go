package anchor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/aegis-labs/aegis-firewall/pkg/kernel/retry"
)

// receiptPollPolicy governs the wait between TransactionReceipt polls:
// starts at 300ms and backs off to 3s so a slow block doesn't burn a
// poll every tick.
var receiptPollPolicy = retry.BackoffPolicy{
	PolicyID:    "anchor.receipt_poll",
	BaseMs:      300,
	MaxMs:       3000,
	MaxJitterMs: 100,
}

// recordSpendABIJSON is the single mutating entry point the Anchor
// Worker calls, the write-side counterpart to policy.registryABIJSON's
// read-only getPolicy.
const recordSpendABIJSON = `[
	{
		"name": "recordSpend",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "agent", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "txHash", "type": "bytes32"}
		],
		"outputs": []
	}
]`

// Submitter builds, signs and submits recordSpend transactions and waits
// for one confirmation, grounded in the ethereum-go-ethereum example
// repo's accounts/abi/bind conventions (bind.NewBoundContract,
// bind.TransactOpts via bind.NewKeyedTransactorWithChainID).
type Submitter struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	signer   FacilitatorSigner
	chainID  *big.Int
	addr     common.Address
}

// NewSubmitter dials rpcURL and binds the recordSpend ABI to
// contractAddress, signing with signer.
func NewSubmitter(ctx context.Context, rpcURL, contractAddress string, signer FacilitatorSigner) (*Submitter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("anchor: dial eth rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: read chain id: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(recordSpendABIJSON))
	if err != nil {
		return nil, fmt.Errorf("anchor: parse recordSpend abi: %w", err)
	}

	addr := common.HexToAddress(contractAddress)
	bc := bind.NewBoundContract(addr, parsed, client, client, client)

	return &Submitter{client: client, contract: bc, signer: signer, chainID: chainID, addr: addr}, nil
}

// SubmitAndWait sends recordSpend(user, agent, amount, txHash) and blocks
// until one confirmation or ctx expires.
func (s *Submitter) SubmitAndWait(ctx context.Context, user, agent string, amount *big.Int, txHash string) (*types.Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.signer.PrivateKey(), s.chainID)
	if err != nil {
		return nil, fmt.Errorf("anchor: build transactor: %w", err)
	}
	opts.Context = ctx

	hashBytes := common.HexToHash(txHash)
	tx, err := s.contract.Transact(opts, "recordSpend",
		common.HexToAddress(user), common.HexToAddress(agent), amount, hashBytes)
	if err != nil {
		return nil, fmt.Errorf("anchor: recordSpend submission failed: %w", err)
	}

	return s.waitMined(ctx, tx)
}

func (s *Submitter) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	params := retry.BackoffParams{
		PolicyID:  receiptPollPolicy.PolicyID,
		EffectID:  tx.Hash().Hex(),
		EnvSnapHash: s.addr.Hex(),
	}

	for attempt := 0; ; attempt++ {
		receipt, err := s.client.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("anchor: recordSpend reverted on-chain")
			}
			return receipt, nil
		}

		params.AttemptIndex = attempt
		delay := retry.ComputeBackoff(params, receiptPollPolicy)
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("anchor: waiting for receipt: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
