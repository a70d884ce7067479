// Package ledgertest provides an in-memory ledger.Client for handler tests.
package ledgertest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/registry"
)

// Stub records every call. Nil hooks fall back to canned behaviour.
type Stub struct {
	NetworkName string
	OperatorAcc ledger.Account

	CallFn    func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	AliasFn   func(ctx context.Context, id ledger.AccountID) (common.Address, error)
	ExecuteFn func(ctx context.Context, tx *types.Transaction) (ledger.Receipt, error)

	mu       sync.Mutex
	calls    []ethereum.CallMsg
	aliases  []ledger.AccountID
	executed []*types.Transaction
}

var _ ledger.Client = (*Stub)(nil)

// New returns a stub on the given network whose operator is 0.0.1001.
func New(network registry.Network) *Stub {
	id := ledger.AccountID{Num: 1001}
	return &Stub{
		NetworkName: network.String(),
		OperatorAcc: ledger.Account{ID: id, Address: common.HexToAddress("0x00000000000000000000000000000000000a11ce")},
	}
}

func (s *Stub) Network() string { return s.NetworkName }

func (s *Stub) ChainID() *big.Int {
	network, err := registry.ParseNetwork(s.NetworkName)
	if err != nil {
		return big.NewInt(0)
	}
	return network.ChainID()
}

func (s *Stub) Operator() ledger.Account { return s.OperatorAcc }

func (s *Stub) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, msg)
	s.mu.Unlock()
	if s.CallFn != nil {
		return s.CallFn(ctx, msg)
	}
	return nil, ethereum.NotFound
}

func (s *Stub) AccountAlias(ctx context.Context, id ledger.AccountID) (common.Address, error) {
	s.mu.Lock()
	s.aliases = append(s.aliases, id)
	s.mu.Unlock()
	if s.AliasFn != nil {
		return s.AliasFn(ctx, id)
	}
	return common.Address{}, nil
}

func (s *Stub) Execute(ctx context.Context, tx *types.Transaction) (ledger.Receipt, error) {
	s.mu.Lock()
	s.executed = append(s.executed, tx)
	s.mu.Unlock()
	if s.ExecuteFn != nil {
		return s.ExecuteFn(ctx, tx)
	}
	return ledger.Receipt{TxHash: tx.Hash(), Status: ledger.StatusSuccess}, nil
}

func (s *Stub) Calls() []ethereum.CallMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ethereum.CallMsg(nil), s.calls...)
}

func (s *Stub) Executed() []*types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Transaction(nil), s.executed...)
}

// Interactions counts every call that reached the ledger.
func (s *Stub) Interactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls) + len(s.aliases) + len(s.executed)
}
