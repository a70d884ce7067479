package txassembly

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/gas"
	"github.com/ggonzalez94/lendtools/internal/ledger"
)

// Mode selects the terminal behaviour of an assembled transaction.
type Mode string

const (
	ModeSubmit Mode = "submit"
	ModeFreeze Mode = "freeze"
)

func ParseMode(input string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(input))) {
	case "", ModeSubmit:
		return ModeSubmit, nil
	case ModeFreeze:
		return ModeFreeze, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported execution mode %q (expected %s|%s)", input, ModeSubmit, ModeFreeze))
	}
}

// State is where an assembled transaction ended up.
type State string

const (
	StateSubmitted State = "submitted"
	StateFrozen    State = "frozen"
)

// Intent is a single contract invocation waiting to be submitted or frozen.
type Intent struct {
	Target common.Address
	Data   []byte
	Gas    gas.Profile
}

type Options struct {
	// Nonce is bound into frozen transactions. Zero when unset, which the
	// result reports through NonceDefaulted.
	Nonce *uint64
}

type Result struct {
	State    State          `json:"state"`
	Target   common.Address `json:"target"`
	Gas      gas.Profile    `json:"gas"`
	TxID     string         `json:"tx_id,omitempty"`
	Status   string         `json:"status,omitempty"`
	Block    uint64         `json:"block_number,omitempty"`
	Bytes    []byte         `json:"-"`
	Hex      string         `json:"bytes,omitempty"`
	FeePayer string         `json:"fee_payer,omitempty"`
	Nonce    *uint64        `json:"nonce,omitempty"`
	// NonceDefaulted is set when no nonce was supplied and 0 was bound.
	NonceDefaulted bool  `json:"nonce_defaulted,omitempty"`
	ChainID        int64 `json:"chain_id"`
}

// Assemble builds the transaction described by intent and either executes it
// through the ledger or returns its unsigned serialized form.
func Assemble(ctx context.Context, client ledger.Client, mode Mode, intent Intent, opts Options) (Result, error) {
	if client == nil {
		return Result{}, clierr.New(clierr.CodeInternal, "missing ledger client")
	}
	if intent.Gas.GasLimit == 0 {
		return Result{}, clierr.New(clierr.CodeInternal, "transaction intent has no gas limit")
	}
	chainID := client.ChainID()
	var nonce uint64
	if opts.Nonce != nil {
		nonce = *opts.Nonce
	}
	target := intent.Target
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(0),
		GasFeeCap: intent.Gas.MaxFeeWei(),
		Gas:       intent.Gas.GasLimit,
		To:        &target,
		Value:     big.NewInt(0),
		Data:      intent.Data,
	})
	result := Result{Target: target, Gas: intent.Gas, ChainID: chainID.Int64()}

	switch mode {
	case ModeSubmit:
		receipt, err := client.Execute(ctx, tx)
		if err != nil {
			return Result{}, err
		}
		result.State = StateSubmitted
		result.TxID = receipt.TxHash.Hex()
		result.Status = receipt.Status
		result.Block = receipt.BlockNumber
		return result, nil
	case ModeFreeze:
		buf, err := tx.MarshalBinary()
		if err != nil {
			return Result{}, clierr.Wrap(clierr.CodeInternal, "serialize frozen transaction", err)
		}
		result.State = StateFrozen
		result.Bytes = buf
		result.Hex = hexutil.Encode(buf)
		if id := client.Operator().ID; !id.IsZero() {
			result.FeePayer = id.String()
		}
		result.Nonce = &nonce
		result.NonceDefaulted = opts.Nonce == nil
		return result, nil
	default:
		return Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported execution mode %q", mode))
	}
}

// Decode parses frozen bytes back into a transaction.
func Decode(buf []byte) (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(buf); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode frozen transaction", err)
	}
	return tx, nil
}
