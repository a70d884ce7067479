// Package lending implements the lending-pool tools: the five state-changing
// actions and the market data read.
package lending

import (
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/ggonzalez94/lendtools/internal/gas"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/marketdata"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/resolve"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
	"github.com/ggonzalez94/lendtools/internal/tools"
)

const (
	ToolApprove    = "approve_token"
	ToolDeposit    = "deposit"
	ToolWithdraw   = "withdraw"
	ToolBorrow     = "borrow"
	ToolRepay      = "repay"
	ToolMarketData = "market_data"
)

var (
	lendingPoolABI = mustABI(registry.LendingPoolABI)
	erc20ABI       = mustABI(registry.ERC20ABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Service holds the collaborators shared by every lending tool.
type Service struct {
	directory *registry.Directory
	markets   resolve.ReserveSource
	resolver  *resolve.Resolver
	gasFor    func(gas.Action) gas.Profile
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

type Options struct {
	Directory *registry.Directory
	// Markets serves reserve snapshots for decimals and market_data. Usually a
	// *marketdata.Client.
	Markets resolve.ReserveSource
	// GasFor overrides gas.For, mostly for tests.
	GasFor  func(gas.Action) gas.Profile
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

var _ resolve.ReserveSource = (*marketdata.Client)(nil)

func NewService(opts Options) *Service {
	directory := opts.Directory
	if directory == nil {
		directory = registry.NewDirectory(registry.EmbeddedSource())
	}
	gasFor := opts.GasFor
	if gasFor == nil {
		gasFor = gas.For
	}
	logger := logging.OrDefault(opts.Logger)
	metrics := telemetry.OrDefault(opts.Metrics)
	return &Service{
		directory: directory,
		markets:   opts.Markets,
		resolver:  &resolve.Resolver{Markets: opts.Markets, Logger: logger, Metrics: metrics},
		gasFor:    gasFor,
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *Service) Directory() *registry.Directory { return s.directory }

// Tools returns every lending tool backed by this service.
func (s *Service) Tools() []tools.Tool {
	return []tools.Tool{
		s.approveTool(),
		s.depositTool(),
		s.withdrawTool(),
		s.borrowTool(),
		s.repayTool(),
		&marketDataTool{svc: s},
	}
}

// Register adds every lending tool to reg.
func (s *Service) Register(reg *tools.Registry) error {
	return reg.Register(s.Tools()...)
}
