package txassembly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/gas"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/ledger/ledgertest"
	"github.com/ggonzalez94/lendtools/internal/registry"
)

func testIntent() Intent {
	return Intent{
		Target: common.HexToAddress("0x0000000000000000000000000000000000000abc"),
		Data:   []byte{0x09, 0x5e, 0xa7, 0xb3},
		Gas:    gas.ForWith(gas.ActionApprove, nil),
	}
}

func TestFreezeWithoutNonceOrOperatorID(t *testing.T) {
	stub := ledgertest.New(registry.Testnet)
	stub.OperatorAcc = ledger.Account{Address: common.HexToAddress("0x00000000000000000000000000000000000a11ce")}

	res, err := Assemble(context.Background(), stub, ModeFreeze, testIntent(), Options{})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !res.NonceDefaulted || res.Nonce == nil || *res.Nonce != 0 {
		t.Fatalf("expected defaulted nonce 0, got %+v", res)
	}
	if res.FeePayer != "" {
		t.Fatalf("expected no fee payer without an operator id, got %q", res.FeePayer)
	}
	buf, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if strings.Contains(string(buf), "fee_payer") || !strings.Contains(string(buf), `"nonce_defaulted":true`) {
		t.Fatalf("unexpected result json %s", buf)
	}
}

func TestFreezeNeverTouchesLedger(t *testing.T) {
	stub := ledgertest.New(registry.Testnet)
	nonce := uint64(12)
	res, err := Assemble(context.Background(), stub, ModeFreeze, testIntent(), Options{Nonce: &nonce})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if stub.Interactions() != 0 {
		t.Fatalf("freeze must not call the ledger, got %d interactions", stub.Interactions())
	}
	if res.State != StateFrozen || len(res.Bytes) == 0 || res.Hex == "" {
		t.Fatalf("unexpected frozen result %+v", res)
	}
	if res.FeePayer != "0.0.1001" {
		t.Fatalf("expected operator as fee payer, got %q", res.FeePayer)
	}
	if res.NonceDefaulted {
		t.Fatal("explicit nonce must not be reported as defaulted")
	}

	tx, err := Decode(res.Bytes)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if tx.Type() != types.DynamicFeeTxType || tx.ChainId().Int64() != 296 || tx.Nonce() != 12 {
		t.Fatalf("unexpected frozen tx type=%d chain=%s nonce=%d", tx.Type(), tx.ChainId(), tx.Nonce())
	}
	if tx.Gas() != 400_000 || *tx.To() != testIntent().Target || !bytes.Equal(tx.Data(), testIntent().Data) {
		t.Fatalf("frozen tx does not carry the intent: gas=%d to=%s", tx.Gas(), tx.To().Hex())
	}
	if tx.GasFeeCap().Cmp(testIntent().Gas.MaxFeeWei()) != 0 {
		t.Fatalf("unexpected fee cap %s", tx.GasFeeCap())
	}
	if v, _, _ := tx.RawSignatureValues(); v != nil && v.Sign() != 0 {
		t.Fatal("frozen transaction must be unsigned")
	}
}

func TestSubmitReturnsReceipt(t *testing.T) {
	stub := ledgertest.New(registry.Mainnet)
	stub.ExecuteFn = func(ctx context.Context, tx *types.Transaction) (ledger.Receipt, error) {
		return ledger.Receipt{TxHash: common.HexToHash("0x01"), Status: ledger.StatusSuccess, BlockNumber: 9}, nil
	}
	res, err := Assemble(context.Background(), stub, ModeSubmit, testIntent(), Options{})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if res.State != StateSubmitted || res.Status != ledger.StatusSuccess || res.TxID != common.HexToHash("0x01").Hex() {
		t.Fatalf("unexpected submit result %+v", res)
	}
	executed := stub.Executed()
	if len(executed) != 1 || executed[0].Gas() != 400_000 || executed[0].ChainId().Int64() != 295 {
		t.Fatalf("unexpected executed transactions %v", executed)
	}
}

func TestSubmitErrorPropagatesWithoutRetry(t *testing.T) {
	stub := ledgertest.New(registry.Testnet)
	cause := clierr.Wrap(clierr.CodeLedger, "broadcast transaction", errors.New("INSUFFICIENT_PAYER_BALANCE"))
	stub.ExecuteFn = func(ctx context.Context, tx *types.Transaction) (ledger.Receipt, error) {
		return ledger.Receipt{}, cause
	}
	_, err := Assemble(context.Background(), stub, ModeSubmit, testIntent(), Options{})
	if !errors.Is(err, cause) {
		t.Fatalf("expected ledger error to propagate, got %v", err)
	}
	if n := len(stub.Executed()); n != 1 {
		t.Fatalf("expected exactly one execute attempt, got %d", n)
	}
}

func TestUnknownModeIsUsageError(t *testing.T) {
	stub := ledgertest.New(registry.Testnet)
	if _, err := Assemble(context.Background(), stub, Mode("simulate"), testIntent(), Options{}); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if stub.Interactions() != 0 {
		t.Fatal("unknown mode must not reach the ledger")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeSubmit {
		t.Fatalf("expected submit default, got %q err=%v", m, err)
	}
	if m, err := ParseMode(" FREEZE "); err != nil || m != ModeFreeze {
		t.Fatalf("expected freeze, got %q err=%v", m, err)
	}
	if _, err := ParseMode("dry-run"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
