package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggonzalez94/lendtools/internal/config"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/ledger/ledgertest"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/txassembly"
)

const marketFixture = `{"reserves":[
  {"symbol":"WHBAR","decimals":8,"supply_apy":2.5,"variable_borrow_apy":3.9,"active":true,"variable_borrowing_enabled":true,
   "available_liquidity":{"usd_display":"$52,340.10"}},
  {"symbol":"SAUCE","decimals":6,"supply_apy":6.0,"variable_borrow_apy":1.2,"active":true,"variable_borrowing_enabled":true,
   "available_liquidity":{"usd_display":"$9,000.00"}}
]}`

type harness struct {
	t      *testing.T
	stub   *ledgertest.Stub
	market *httptest.Server
	dials  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("LENDTOOLS_NETWORK", "")
	t.Setenv("LENDTOOLS_OUTPUT", "")

	h := &harness{t: t, stub: ledgertest.New(registry.Testnet)}
	h.market = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(marketFixture))
	}))
	t.Cleanup(h.market.Close)
	return h
}

func (h *harness) run(args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr).WithLedgerDialer(func(ctx context.Context, settings config.Settings, mode txassembly.Mode) (ledger.Client, error) {
		h.dials++
		return h.stub, nil
	})
	base := []string{"--network", "testnet", "--market-data-url", h.market.URL, "--no-cache", "--log-level", "error"}
	code := r.Run(append(args, base...))
	return code, stdout.String(), stderr.String()
}

func decodeJSON(t *testing.T, raw string, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, raw)
	}
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("lendtools tools call"); got != "tools call" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	h := newHarness(t)
	code, stdout, _ := h.run("version")
	if code != 0 || strings.TrimSpace(stdout) == "" {
		t.Fatalf("expected version output, got code=%d stdout=%q", code, stdout)
	}
}

func TestRunnerToolsList(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("tools", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var out []map[string]any
	decodeJSON(t, stdout, &out)
	if len(out) != 6 {
		t.Fatalf("expected six tools, got %d", len(out))
	}
	if h.dials != 0 {
		t.Fatal("listing tools must not dial the ledger")
	}
}

func TestRunnerToolSchema(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("tools", "schema", "borrow", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var out map[string]any
	decodeJSON(t, stdout, &out)
	required, _ := out["required"].([]any)
	if len(required) != 3 {
		t.Fatalf("expected token, amount and rate_mode to be required, got %v", out["required"])
	}

	code, _, _ = h.run("tools", "schema", "swap")
	if code != 4 {
		t.Fatalf("expected not found exit code, got %d", code)
	}
}

func TestRunnerToolCallFreezeAndDecode(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("tools", "call", "deposit", "--mode", "freeze", "--nonce", "3",
		"--input", `{"token":"WHBAR","amount":"2"}`, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stdout=%s stderr=%s", code, stdout, stderr)
	}
	var result struct {
		Outcome string `json:"outcome"`
		Raw     struct {
			DecimalsSource  string `json:"decimals_source"`
			AmountBaseUnits string `json:"amount_base_units"`
			Transaction     struct {
				State string `json:"state"`
				Bytes string `json:"bytes"`
			} `json:"transaction"`
		} `json:"raw"`
	}
	decodeJSON(t, stdout, &result)
	if result.Outcome != "ok" || result.Raw.Transaction.State != "frozen" {
		t.Fatalf("unexpected result %s", stdout)
	}
	if result.Raw.DecimalsSource != "market_data" || result.Raw.AmountBaseUnits != "200000000" {
		t.Fatalf("unexpected amount resolution %s", stdout)
	}
	if len(h.stub.Executed()) != 0 {
		t.Fatal("freeze must not submit")
	}

	code, stdout, stderr = h.run("decode", result.Raw.Transaction.Bytes, "--results-only")
	if code != 0 {
		t.Fatalf("decode failed: %d %s", code, stderr)
	}
	var decoded map[string]any
	decodeJSON(t, stdout, &decoded)
	if decoded["nonce"].(float64) != 3 || decoded["chain_id"].(float64) != 296 || decoded["signed"] != false {
		t.Fatalf("unexpected decoded transaction %s", stdout)
	}
}

func TestRunnerToolCallPlainPrintsSummary(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("tools", "call", "withdraw", "--plain", "--input", `{"token":"WHBAR","amount":"1"}`)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "Submitted withdrawal of 1 WHBAR") || !strings.Contains(stdout, "testnet") {
		t.Fatalf("unexpected plain output %q", stdout)
	}
	if len(h.stub.Executed()) != 1 {
		t.Fatalf("expected one submitted transaction, got %d", len(h.stub.Executed()))
	}
}

func TestRunnerToolFailureEnvelope(t *testing.T) {
	h := newHarness(t)
	code, stdout, _ := h.run("tools", "call", "deposit", "--input", `{"token":"USDC","amount":"1"}`)
	if code != 5 {
		t.Fatalf("expected not configured exit code, got %d stdout=%s", code, stdout)
	}
	var env struct {
		Success bool `json:"success"`
		Error   struct {
			Type      string   `json:"type"`
			Available []string `json:"available"`
		} `json:"error"`
		Data struct {
			Summary string `json:"summary"`
		} `json:"data"`
	}
	decodeJSON(t, stdout, &env)
	if env.Success || env.Error.Type != "not_configured" {
		t.Fatalf("unexpected envelope %s", stdout)
	}
	if !strings.Contains(strings.Join(env.Error.Available, ","), "WHBAR") || !strings.Contains(env.Data.Summary, "testnet") {
		t.Fatalf("expected available symbols and network, got %s", stdout)
	}
}

func TestRunnerUsageErrors(t *testing.T) {
	h := newHarness(t)
	code, _, stderr := h.run("tools", "call", "deposit", "--mode", "simulate")
	if code != 2 {
		t.Fatalf("expected usage exit code, got %d", code)
	}
	var env map[string]any
	decodeJSON(t, stderr, &env)
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	if h.dials != 0 {
		t.Fatal("invalid mode must fail before dialing")
	}

	if code, _, _ := h.run("tools", "call", "deposit", "--input", `{"token":`); code != 2 {
		t.Fatalf("expected usage exit code for invalid json, got %d", code)
	}
}

func TestRunnerMarketsAndMetrics(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("markets", "--sort", "borrow", "--results-only", "--metrics")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var reserves []map[string]any
	decodeJSON(t, stdout, &reserves)
	if len(reserves) != 2 || reserves[0]["symbol"] != "SAUCE" {
		t.Fatalf("unexpected markets %s", stdout)
	}
	if !strings.Contains(stderr, "lendtools_upstream_requests_total") {
		t.Fatalf("expected metrics on stderr, got %q", stderr)
	}
}

func TestRunnerContracts(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("contracts", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var entries []map[string]any
	decodeJSON(t, stdout, &entries)
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		if e["network"] != "testnet" {
			t.Fatalf("expected testnet entries only, got %v", e)
		}
		symbols = append(symbols, e["symbol"].(string))
	}
	joined := strings.Join(symbols, ",")
	if !strings.Contains(joined, "WHBAR") || strings.Contains(joined, "USDC") {
		t.Fatalf("unexpected testnet symbols %s", joined)
	}
}

func TestRunnerSchema(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("schema", "tools", "call", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, `"mode"`) || !strings.Contains(stdout, `"nonce"`) {
		t.Fatalf("expected call flags in schema, got %s", stdout)
	}
}

func TestRunnerToolHistory(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("tools", "call", "deposit", "--mode", "freeze", "--input", `{"token":"WHBAR","amount":"1"}`, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var first struct {
		InvocationID string `json:"invocation_id"`
	}
	decodeJSON(t, stdout, &first)
	if first.InvocationID == "" {
		t.Fatalf("expected invocation id, got %s", stdout)
	}
	if code, _, _ := h.run("tools", "call", "borrow", "--input", `{"token":"USDC","amount":"1","rate_mode":"variable"}`); code != 5 {
		t.Fatalf("expected failed borrow, got %d", code)
	}

	code, stdout, stderr = h.run("tools", "history", "--results-only")
	if code != 0 {
		t.Fatalf("history failed: %d %s", code, stderr)
	}
	var entries []struct {
		InvocationID string `json:"invocation_id"`
		Tool         string `json:"tool"`
		Mode         string `json:"mode"`
		Outcome      string `json:"outcome"`
	}
	decodeJSON(t, stdout, &entries)
	if len(entries) != 2 || entries[0].Tool != "borrow" || entries[1].InvocationID != first.InvocationID {
		t.Fatalf("unexpected history %s", stdout)
	}
	if entries[1].Mode != "freeze" || entries[1].Outcome != "ok" || entries[0].Outcome != "error" {
		t.Fatalf("unexpected recorded outcomes %s", stdout)
	}

	code, stdout, _ = h.run("tools", "history", "--outcome", "error", "--results-only")
	decodeJSON(t, stdout, &entries)
	if code != 0 || len(entries) != 1 || entries[0].Tool != "borrow" {
		t.Fatalf("unexpected filtered history %s", stdout)
	}

	code, stdout, _ = h.run("tools", "history", first.InvocationID, "--select", "tool,raw.transaction.state", "--results-only")
	if code != 0 || !strings.Contains(stdout, "frozen") {
		t.Fatalf("unexpected single entry %d %s", code, stdout)
	}
	if code, _, _ := h.run("tools", "history", "missing-id"); code != 4 {
		t.Fatalf("expected not found for unknown invocation, got %d", code)
	}
	if code, _, _ := h.run("tools", "history", "--no-journal"); code != 3 {
		t.Fatalf("expected config error with journal disabled, got %d", code)
	}
}

func TestRunnerEnableCommands(t *testing.T) {
	h := newHarness(t)
	code, _, stderr := h.run("tools", "call", "borrow", "--enable-commands", "tools call deposit", "--input", `{"token":"WHBAR","amount":"1"}`)
	if code != 17 {
		t.Fatalf("expected blocked exit code, got %d stderr=%s", code, stderr)
	}
	if h.dials != 0 {
		t.Fatal("blocked tool must not dial the ledger")
	}
	if code, _, _ := h.run("markets", "--enable-commands", "tools"); code != 17 {
		t.Fatalf("expected markets to be blocked, got %d", code)
	}

	code, stdout, stderr := h.run("tools", "list", "--enable-commands", "tools list,tools call market_data", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var infos []struct {
		Name string `json:"name"`
	}
	decodeJSON(t, stdout, &infos)
	if len(infos) != 1 || infos[0].Name != "market_data" {
		t.Fatalf("expected only market_data listed, got %s", stdout)
	}
}
