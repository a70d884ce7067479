package lending

import (
	"context"
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/marketdata"
	"github.com/ggonzalez94/lendtools/internal/schema"
	"github.com/ggonzalez94/lendtools/internal/tools"
)

const (
	sortSupply = "supply"
	sortBorrow = "borrow"

	maxMarketLimit = 100
)

type marketDataTool struct {
	svc *Service
}

type MarketReport struct {
	Tool     string               `json:"tool"`
	Network  string               `json:"network"`
	Sort     string               `json:"sort"`
	Count    int                  `json:"count"`
	Reserves []marketdata.Reserve `json:"reserves"`
}

func (t *marketDataTool) Name() string { return ToolMarketData }

func (t *marketDataTool) Description() string {
	return "List active lending markets with supply and borrow rates, sorted by best supply yield or lowest borrow cost."
}

func (t *marketDataTool) Schema() schema.Object {
	return schema.ObjectSchema(schema.Object{
		"symbol":                  schema.StringProperty("Only return the market for this token symbol"),
		"include_borrow_disabled": schema.BooleanProperty("Include markets where borrowing is disabled"),
		"sort":                    schema.StringEnumProperty("Ordering of the result", sortSupply, sortBorrow),
		"limit":                   schema.IntegerProperty("Maximum number of markets to return (0 for all)", 0, maxMarketLimit),
	})
}

func (t *marketDataTool) Call(ctx context.Context, inv tools.Invocation) tools.Response {
	report := &actionReport{Tool: ToolMarketData, Network: networkName(inv.Ledger)}
	var p MarketQuery
	if err := decodeParams(inv.Input, &p); err != nil {
		return t.svc.failure(ToolMarketData, report, err)
	}
	out, err := t.svc.Markets(ctx, p)
	if err != nil {
		return t.svc.failure(ToolMarketData, report, err)
	}
	out.Network = report.Network
	return tools.Response{Raw: out, Summary: marketSummary(out, p.Symbol), Outcome: tools.OutcomeOK}
}

// Markets filters and sorts the current reserve list.
func (s *Service) Markets(ctx context.Context, p MarketQuery) (*MarketReport, error) {
	order := strings.ToLower(strings.TrimSpace(p.Sort))
	if order == "" {
		order = sortSupply
	}
	if order != sortSupply && order != sortBorrow {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("sort must be %s or %s, got %q", sortSupply, sortBorrow, p.Sort))
	}
	if p.Limit < 0 || p.Limit > maxMarketLimit {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("limit must be between 0 and %d", maxMarketLimit))
	}
	if s.markets == nil {
		return nil, clierr.New(clierr.CodeConfig, "market data source not configured")
	}

	reserves, err := s.markets.Reserves(ctx)
	if err != nil {
		return nil, err
	}
	active := marketdata.FilterActive(reserves, p.IncludeBorrowDisabled)
	if symbol := strings.TrimSpace(p.Symbol); symbol != "" {
		match, ok := marketdata.FindReserve(active, symbol)
		if !ok {
			return nil, clierr.New(clierr.CodeNotFound, fmt.Sprintf("no active market for %s", strings.ToUpper(symbol)))
		}
		active = []marketdata.Reserve{match}
	}
	if order == sortBorrow {
		marketdata.SortByBorrowCostAscending(active)
	} else {
		marketdata.SortBySupplyYieldDescending(active)
	}
	if p.Limit > 0 && len(active) > p.Limit {
		active = active[:p.Limit]
	}
	return &MarketReport{Tool: ToolMarketData, Sort: order, Count: len(active), Reserves: active}, nil
}

func marketSummary(report *MarketReport, symbol string) string {
	if report.Count == 0 {
		return "No active lending markets matched."
	}
	var b strings.Builder
	if symbol != "" {
		b.WriteString("Lending market:\n")
	} else {
		fmt.Fprintf(&b, "%d lending markets by %s:\n", report.Count, orderLabel(report.Sort))
	}
	for _, r := range report.Reserves {
		fmt.Fprintf(&b, "- %s: supply %.2f%%, variable borrow %.2f%%, stable borrow %.2f%%, utilization %.2f%%, liquidity $%.2f\n",
			r.Symbol, r.SupplyAPY, r.VariableBorrowAPY, r.StableBorrowAPY, r.UtilizationRate, r.AvailableLiquidityUSD)
	}
	return strings.TrimRight(b.String(), "\n")
}

func orderLabel(order string) string {
	if order == sortBorrow {
		return "lowest borrow cost"
	}
	return "highest supply yield"
}
