package gas

import (
	"math/big"
	"strings"
	"testing"
)

func TestDefaultsByTier(t *testing.T) {
	light := ForWith(ActionApprove, nil)
	if light.Tier != Light || light.GasLimit != 400_000 || light.MaxFeeGwei != 1_000 {
		t.Fatalf("unexpected light profile %+v", light)
	}
	for _, action := range []Action{ActionDeposit, ActionWithdraw, ActionBorrow, ActionRepay} {
		heavy := ForWith(action, nil)
		if heavy.Tier != Heavy || heavy.GasLimit != 1_000_000 || heavy.MaxFeeGwei != 1_000 {
			t.Fatalf("unexpected heavy profile for %s: %+v", action, heavy)
		}
		if heavy.LimitSource != "default" || heavy.FeeSource != "default" {
			t.Fatalf("expected default sources, got %+v", heavy)
		}
	}
}

func TestTierOverride(t *testing.T) {
	t.Setenv("LENDTOOLS_GAS_LIMIT_HEAVY", "1500000")
	t.Setenv("LENDTOOLS_MAX_FEE_GWEI_HEAVY", "750")
	got := For(ActionBorrow)
	if got.GasLimit != 1_500_000 || got.MaxFeeGwei != 750 {
		t.Fatalf("expected tier override, got %+v", got)
	}
	if light := For(ActionApprove); light.GasLimit != 400_000 {
		t.Fatalf("heavy override must not affect light tier, got %+v", light)
	}
}

func TestActionOverrideWinsOverTier(t *testing.T) {
	t.Setenv("LENDTOOLS_GAS_LIMIT_HEAVY", "1500000")
	t.Setenv("LENDTOOLS_REPAY_GAS_LIMIT", "1200000")
	got := For(ActionRepay)
	if got.GasLimit != 1_200_000 || got.LimitSource != "LENDTOOLS_REPAY_GAS_LIMIT" {
		t.Fatalf("expected action override, got %+v", got)
	}
	if other := For(ActionWithdraw); other.GasLimit != 1_500_000 {
		t.Fatalf("expected tier override for withdraw, got %+v", other)
	}
}

func TestEveryActionHonoursOverride(t *testing.T) {
	for _, action := range []Action{ActionApprove, ActionDeposit, ActionWithdraw, ActionBorrow, ActionRepay} {
		lookup := func(key string) (string, bool) {
			if key == "LENDTOOLS_"+strings.ToUpper(string(action))+"_MAX_FEE_GWEI" {
				return "5", true
			}
			return "", false
		}
		if got := ForWith(action, lookup); got.MaxFeeGwei != 5 {
			t.Fatalf("expected %s fee override, got %+v", action, got)
		}
	}
}

func TestInvalidOverridesFallBack(t *testing.T) {
	for _, raw := range []string{"", "abc", "0", "-5", "1.5"} {
		t.Setenv("LENDTOOLS_GAS_LIMIT_LIGHT", raw)
		if got := For(ActionApprove); got.GasLimit != 400_000 {
			t.Fatalf("expected fallback for %q, got %+v", raw, got)
		}
	}
}

func TestProfileIsComputedFresh(t *testing.T) {
	t.Setenv("LENDTOOLS_GAS_LIMIT_LIGHT", "500000")
	if got := For(ActionApprove); got.GasLimit != 500_000 {
		t.Fatalf("unexpected gas limit %+v", got)
	}
	t.Setenv("LENDTOOLS_GAS_LIMIT_LIGHT", "600000")
	if got := For(ActionApprove); got.GasLimit != 600_000 {
		t.Fatalf("expected env change to apply, got %+v", got)
	}
}

func TestMaxFeeWei(t *testing.T) {
	p := Profile{MaxFeeGwei: 2}
	if p.MaxFeeWei().Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("unexpected wei %s", p.MaxFeeWei())
	}
}
