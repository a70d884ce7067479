package marketdata

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

// MinLiquidityUSD is the available liquidity a reserve needs to be listed.
const MinLiquidityUSD = 100.0

// Snapshot is the decoded endpoint payload.
type Snapshot struct {
	Reserves []RawReserve `json:"reserves"`
	// Skipped lists entries that could not be read. They are left out of
	// Reserves without failing the snapshot.
	Skipped []SkippedReserve `json:"-"`

	raw []byte
}

type SkippedReserve struct {
	Index  int
	Symbol string
	Reason string
}

// Amount is a monetary value in the formats the endpoint publishes.
type Amount struct {
	TinyToken    string `json:"tiny_token"`
	TokenDisplay string `json:"token_display"`
	USDDisplay   string `json:"usd_display"`
}

type RawReserve struct {
	Symbol                   string  `json:"symbol"`
	Decimals                 *int    `json:"decimals"`
	SupplyAPY                float64 `json:"supply_apy"`
	VariableBorrowAPY        float64 `json:"variable_borrow_apy"`
	StableBorrowAPY          float64 `json:"stable_borrow_apy"`
	UtilizationRate          float64 `json:"utilization_rate"`
	Active                   bool    `json:"active"`
	Frozen                   bool    `json:"frozen"`
	VariableBorrowingEnabled bool    `json:"variable_borrowing_enabled"`
	AvailableLiquidity       Amount  `json:"available_liquidity"`
	TotalSupply              Amount  `json:"total_supply"`
	TotalVariableDebt        Amount  `json:"total_variable_debt"`
	TotalStableDebt          Amount  `json:"total_stable_debt"`
}

// Reserve is the normalized view of one market.
type Reserve struct {
	Symbol string `json:"symbol"`
	// Decimals is nil when the endpoint did not publish it.
	Decimals              *int    `json:"decimals,omitempty"`
	SupplyAPY             float64 `json:"supply_apy"`
	VariableBorrowAPY     float64 `json:"variable_borrow_apy"`
	StableBorrowAPY       float64 `json:"stable_borrow_apy"`
	UtilizationRate       float64 `json:"utilization_rate"`
	Active                bool    `json:"active"`
	Frozen                bool    `json:"frozen"`
	BorrowingEnabled      bool    `json:"borrowing_enabled"`
	AvailableLiquidityUSD float64 `json:"available_liquidity_usd"`
	TotalSupplyUSD        float64 `json:"total_supply_usd"`
	TotalVariableDebtUSD  float64 `json:"total_variable_debt_usd"`
	TotalStableDebtUSD    float64 `json:"total_stable_debt_usd"`
}

// DecodeSnapshot parses a payload. Only a malformed envelope or reserves
// array is an error; unreadable or unnamed entries are skipped one by one.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var envelope struct {
		Reserves *[]json.RawMessage `json:"reserves"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Snapshot{}, clierr.Wrap(clierr.CodeUpstreamParse, "decode market data", err)
	}
	if envelope.Reserves == nil {
		return Snapshot{}, clierr.New(clierr.CodeUpstreamParse, "market data response has no reserves array")
	}
	snap := Snapshot{Reserves: make([]RawReserve, 0, len(*envelope.Reserves)), raw: raw}
	for i, item := range *envelope.Reserves {
		var r RawReserve
		if err := json.Unmarshal(item, &r); err != nil {
			snap.Skipped = append(snap.Skipped, SkippedReserve{Index: i, Symbol: peekSymbol(item), Reason: err.Error()})
			continue
		}
		if strings.TrimSpace(r.Symbol) == "" {
			snap.Skipped = append(snap.Skipped, SkippedReserve{Index: i, Reason: "missing symbol"})
			continue
		}
		snap.Reserves = append(snap.Reserves, r)
	}
	return snap, nil
}

// peekSymbol recovers the symbol of an entry that failed to decode, for logs.
func peekSymbol(item json.RawMessage) string {
	var named struct {
		Symbol any `json:"symbol"`
	}
	if err := json.Unmarshal(item, &named); err != nil {
		return ""
	}
	if s, ok := named.Symbol.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func Normalize(snap Snapshot) []Reserve {
	out := make([]Reserve, 0, len(snap.Reserves))
	for _, r := range snap.Reserves {
		var decimals *int
		if r.Decimals != nil {
			d := *r.Decimals
			decimals = &d
		}
		out = append(out, Reserve{
			Symbol:                strings.TrimSpace(r.Symbol),
			Decimals:              decimals,
			SupplyAPY:             finite(r.SupplyAPY),
			VariableBorrowAPY:     finite(r.VariableBorrowAPY),
			StableBorrowAPY:       finite(r.StableBorrowAPY),
			UtilizationRate:       finite(r.UtilizationRate),
			Active:                r.Active,
			Frozen:                r.Frozen,
			BorrowingEnabled:      r.VariableBorrowingEnabled,
			AvailableLiquidityUSD: ParseUSD(r.AvailableLiquidity.USDDisplay),
			TotalSupplyUSD:        ParseUSD(r.TotalSupply.USDDisplay),
			TotalVariableDebtUSD:  ParseUSD(r.TotalVariableDebt.USDDisplay),
			TotalStableDebtUSD:    ParseUSD(r.TotalStableDebt.USDDisplay),
		})
	}
	return out
}

// ParseUSD reads display strings like "$1,234.56". Malformed input is 0.
func ParseUSD(v string) float64 {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return finite(f)
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// FilterActive keeps reserves that are active, not frozen, above the liquidity
// floor and, unless includeBorrowDisabled is set, open for borrowing.
func FilterActive(reserves []Reserve, includeBorrowDisabled bool) []Reserve {
	out := make([]Reserve, 0, len(reserves))
	for _, r := range reserves {
		if !r.Active || r.Frozen || r.AvailableLiquidityUSD <= MinLiquidityUSD {
			continue
		}
		if !includeBorrowDisabled && !r.BorrowingEnabled {
			continue
		}
		out = append(out, r)
	}
	return out
}

func SortBySupplyYieldDescending(reserves []Reserve) {
	sort.SliceStable(reserves, func(i, j int) bool {
		return reserves[i].SupplyAPY > reserves[j].SupplyAPY
	})
}

func SortByBorrowCostAscending(reserves []Reserve) {
	sort.SliceStable(reserves, func(i, j int) bool {
		return reserves[i].VariableBorrowAPY < reserves[j].VariableBorrowAPY
	})
}

// FindReserve returns the reserve whose symbol matches case-insensitively.
func FindReserve(reserves []Reserve, symbol string) (Reserve, bool) {
	symbol = strings.TrimSpace(symbol)
	for _, r := range reserves {
		if strings.EqualFold(r.Symbol, symbol) {
			return r, true
		}
	}
	return Reserve{}, false
}
