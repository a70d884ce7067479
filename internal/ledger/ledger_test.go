package ledger

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/signer"
)

const testOperatorKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	tipCap   *big.Int
	sendErr  error
	status   uint64
	pending  int
	sent     []*types.Transaction
	receipts int
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return common.LeftPadBytes([]byte{6}, 32), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if f.tipCap == nil {
		return nil, errors.New("unsupported")
	}
	return f.tipCap, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return f.sendErr
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts++
	if f.receipts <= f.pending {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status, TxHash: txHash, BlockNumber: big.NewInt(42), GasUsed: 90_000}, nil
}

func testSigner(t *testing.T) signer.Signer {
	t.Helper()
	s, err := signer.Load(signer.Config{Source: signer.SourceEnv, KeyHex: testOperatorKey})
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	return s
}

func unsignedCall(gas uint64, feeCap int64) *types.Transaction {
	to := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(296),
		Gas:       gas,
		GasFeeCap: big.NewInt(feeCap),
		GasTipCap: big.NewInt(0),
		To:        &to,
		Data:      []byte{0xde, 0xad},
	})
}

func TestParseAccountIDAndLongZero(t *testing.T) {
	id, err := ParseAccountID("0.0.1234")
	if err != nil {
		t.Fatalf("ParseAccountID failed: %v", err)
	}
	if id.String() != "0.0.1234" {
		t.Fatalf("unexpected id %s", id)
	}
	if got := id.LongZeroAddress(); got != common.HexToAddress("0x00000000000000000000000000000000000004d2") {
		t.Fatalf("unexpected long-zero address %s", got.Hex())
	}
	wide := AccountID{Shard: 1, Realm: 2, Num: 3}.LongZeroAddress()
	want := common.HexToAddress("0x0000000100000000000000020000000000000003")
	if wide != want {
		t.Fatalf("unexpected packing %s", wide.Hex())
	}
	for _, bad := range []string{"", "1234", "0.0", "0.0.x", "-1.0.1", "4294967296.0.1"} {
		if _, err := ParseAccountID(bad); !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("expected usage error for %q, got %v", bad, err)
		}
	}
}

func TestExecuteSignsSendsAndWaits(t *testing.T) {
	backend := &fakeBackend{nonce: 7, tipCap: big.NewInt(5), status: types.ReceiptStatusSuccessful, pending: 1}
	s := testSigner(t)
	client, err := New(backend, Options{Network: registry.Testnet, Signer: s, PollInterval: time.Millisecond, ReceiptTimeout: time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	receipt, err := client.Execute(context.Background(), unsignedCall(400_000, 1_000))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if receipt.Status != StatusSuccess || receipt.BlockNumber != 42 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	sent := backend.sent[0]
	if sent.Nonce() != 7 || sent.Gas() != 400_000 || sent.GasTipCap().Int64() != 5 || sent.ChainId().Int64() != 296 {
		t.Fatalf("unexpected signed tx nonce=%d gas=%d tip=%s chain=%s", sent.Nonce(), sent.Gas(), sent.GasTipCap(), sent.ChainId())
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(296)), sent)
	if err != nil || from != s.Address() {
		t.Fatalf("unexpected sender %s err=%v", from.Hex(), err)
	}
	if receipt.TxHash != sent.Hash() {
		t.Fatal("receipt hash must match broadcast hash")
	}
}

func TestExecuteCapsTipAtFeeCap(t *testing.T) {
	backend := &fakeBackend{tipCap: big.NewInt(5_000), status: types.ReceiptStatusSuccessful}
	client, _ := New(backend, Options{Network: registry.Testnet, Signer: testSigner(t), PollInterval: time.Millisecond})
	if _, err := client.Execute(context.Background(), unsignedCall(21_000, 1_000)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := backend.sent[0].GasTipCap().Int64(); got != 1_000 {
		t.Fatalf("expected tip capped at fee cap, got %d", got)
	}
}

func TestExecuteRevertedIsError(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusFailed}
	client, _ := New(backend, Options{Network: registry.Mainnet, Signer: testSigner(t), PollInterval: time.Millisecond})
	receipt, err := client.Execute(context.Background(), unsignedCall(21_000, 1_000))
	if !clierr.Is(err, clierr.CodeLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if receipt.Status != StatusReverted {
		t.Fatalf("expected reverted status, got %+v", receipt)
	}
}

func TestExecuteSendErrorIsNotRetried(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("INSUFFICIENT_PAYER_BALANCE")}
	client, _ := New(backend, Options{Network: registry.Testnet, Signer: testSigner(t), PollInterval: time.Millisecond})
	_, err := client.Execute(context.Background(), unsignedCall(21_000, 1_000))
	if !clierr.Is(err, clierr.CodeLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if len(backend.sent) != 1 || backend.receipts != 0 {
		t.Fatalf("expected one send and no receipt polling, got sends=%d polls=%d", len(backend.sent), backend.receipts)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful, pending: 1 << 30}
	client, _ := New(backend, Options{Network: registry.Testnet, Signer: testSigner(t), PollInterval: time.Millisecond, ReceiptTimeout: 20 * time.Millisecond})
	if _, err := client.Execute(context.Background(), unsignedCall(21_000, 1_000)); !clierr.Is(err, clierr.CodeActionTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestExecuteWithoutSigner(t *testing.T) {
	client, _ := New(&fakeBackend{}, Options{Network: registry.Testnet})
	if _, err := client.Execute(context.Background(), unsignedCall(21_000, 1_000)); !clierr.Is(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestAccountAliasFromMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/accounts/0.0.1001":
			_, _ = w.Write([]byte(`{"account":"0.0.1001","evm_address":"0x00000000000000000000000000000000000a11ce"}`))
		case "/api/v1/accounts/0.0.1002":
			_, _ = w.Write([]byte(`{"account":"0.0.1002","evm_address":null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := New(&fakeBackend{}, Options{Network: registry.Testnet, MirrorURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	alias, err := client.AccountAlias(context.Background(), AccountID{Num: 1001})
	if err != nil || alias != common.HexToAddress("0x00000000000000000000000000000000000a11ce") {
		t.Fatalf("unexpected alias %s err=%v", alias.Hex(), err)
	}
	alias, err = client.AccountAlias(context.Background(), AccountID{Num: 1002})
	if err != nil || alias != (common.Address{}) {
		t.Fatalf("expected zero alias, got %s err=%v", alias.Hex(), err)
	}
	if _, err := client.AccountAlias(context.Background(), AccountID{Num: 9}); !clierr.Is(err, clierr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewRejectsUnknownNetwork(t *testing.T) {
	if _, err := New(&fakeBackend{}, Options{Network: registry.Network("previewnet")}); !clierr.Is(err, clierr.CodeUnsupportedNetwork) {
		t.Fatalf("expected unsupported network, got %v", err)
	}
}
