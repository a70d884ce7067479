package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is the ledger handle passed to every tool invocation.
type Client interface {
	Network() string
	ChainID() *big.Int
	Operator() Account
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	// AccountAlias returns the EVM alias registered for id, or the zero
	// address when the account has none.
	AccountAlias(ctx context.Context, id AccountID) (common.Address, error)
	// Execute signs and submits tx, then waits for its receipt. It is never
	// retried.
	Execute(ctx context.Context, tx *types.Transaction) (Receipt, error)
}

const (
	StatusSuccess  = "SUCCESS"
	StatusReverted = "REVERTED"
)

// Receipt summarizes an executed transaction.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	Status      string      `json:"status"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
}
