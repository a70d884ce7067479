package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/lendtools/internal/cache"
	"github.com/ggonzalez94/lendtools/internal/config"
	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/journal"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/lending"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/marketdata"
	"github.com/ggonzalez94/lendtools/internal/model"
	"github.com/ggonzalez94/lendtools/internal/out"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/schema"
	"github.com/ggonzalez94/lendtools/internal/signer"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
	"github.com/ggonzalez94/lendtools/internal/tools"
	"github.com/ggonzalez94/lendtools/internal/txassembly"
	"github.com/ggonzalez94/lendtools/internal/version"
)

// LedgerDialer connects to the ledger for tool calls. Signing keys are only
// required in submit mode.
type LedgerDialer func(ctx context.Context, settings config.Settings, mode txassembly.Mode) (ledger.Client, error)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	dial   LedgerDialer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		dial:   DialLedger,
	}
}

// WithLedgerDialer replaces how tool calls reach the ledger.
func (r *Runner) WithLedgerDialer(dial LedgerDialer) *Runner {
	r.dial = dial
	return r
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	root        *cobra.Command
	lastCommand string
	showMetrics bool

	logger    *slog.Logger
	metrics   *telemetry.Metrics
	cache     *cache.Store
	journal   *journal.Store
	directory *registry.Directory
	markets   *marketdata.Client
	service   *lending.Service
	tools     *tools.Registry
}

// renderedError has already been written to stdout as an envelope. Run only
// maps it to an exit code.
type renderedError struct {
	err error
}

func (e *renderedError) Error() string { return e.err.Error() }
func (e *renderedError) Unwrap() error { return e.err }

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	state.writeMetrics()
	if state.cache != nil {
		_ = state.cache.Close()
	}
	if state.journal != nil {
		_ = state.journal.Close()
	}
	if err == nil {
		return 0
	}
	var rendered *renderedError
	if errors.As(err, &rendered) {
		return clierr.ExitCode(rendered.err)
	}
	err = normalizeRunError(err)
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Lending pool tools for agents: approve, deposit, withdraw, borrow, repay and market data",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			s.lastCommand = trimRootPath(cmd.CommandPath())
			settings, err := config.Load(s.flags)
			if err != nil {
				return err
			}
			s.settings = settings
			if err := settings.EnableCommands.CheckCommand(s.lastCommand); err != nil {
				return err
			}
			s.logger = logging.Setup(s.runner.stderr, settings.LogLevel)
			s.metrics = telemetry.New()
			return s.wire(s.lastCommand)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	flags.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	flags.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted for nested)")
	flags.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	flags.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	flags.StringVar(&s.flags.EnvFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	flags.StringVar(&s.flags.Network, "network", "", "Ledger network (mainnet|testnet)")
	flags.StringVar(&s.flags.RPCURL, "rpc-url", "", "JSON-RPC relay URL override")
	flags.StringVar(&s.flags.MirrorURL, "mirror-url", "", "Mirror node REST URL override")
	flags.StringVar(&s.flags.MarketDataURL, "market-data-url", "", "Market data endpoint override")
	flags.StringVar(&s.flags.ContractsPath, "contracts", "", "Contract directory JSON file (default: bundled)")
	flags.StringVar(&s.flags.Operator, "operator", "", "Operator account id (shard.realm.num)")
	flags.StringVar(&s.flags.KeySource, "key-source", "", "Signing key source (auto|env|file|keystore)")
	flags.StringVar(&s.flags.Timeout, "timeout", "", "Upstream request timeout")
	flags.StringVar(&s.flags.ReceiptTimeout, "receipt-timeout", "", "Maximum wait for a transaction receipt")
	flags.StringVar(&s.flags.MarketTTL, "market-ttl", "", "How long a market snapshot is reused")
	flags.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the persistent market snapshot cache")
	flags.BoolVar(&s.flags.NoJournal, "no-journal", false, "Do not record tool invocations in the local journal")
	flags.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths and tools (comma-separated, e.g. \"markets,tools call deposit\")")
	flags.StringVar(&s.flags.LogLevel, "log-level", "", "Log level written to stderr (debug|info|warn|error)")
	flags.BoolVar(&s.showMetrics, "metrics", false, "Print prometheus counters to stderr on exit")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newToolsCommand())
	cmd.AddCommand(s.newMarketsCommand())
	cmd.AddCommand(s.newContractsCommand())
	cmd.AddCommand(s.newNetworksCommand())
	cmd.AddCommand(s.newDecodeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// wire builds the collaborators a command needs from the loaded settings.
func (s *runtimeState) wire(commandPath string) error {
	source := registry.EmbeddedSource()
	if s.settings.ContractsPath != "" {
		source = registry.FileSource(s.settings.ContractsPath)
	}
	s.directory = registry.NewDirectory(source)

	if s.settings.CacheEnabled && readsMarkets(commandPath) && s.cache == nil {
		store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
		if err != nil {
			s.logger.Warn("market snapshot cache unavailable", "path", s.settings.CachePath, "error", err)
		} else {
			s.cache = store
		}
	}
	if s.settings.JournalEnabled && readsJournal(commandPath) && s.journal == nil {
		store, err := journal.Open(s.settings.JournalPath, s.settings.JournalLock)
		if err != nil {
			if commandPath != "tools call" {
				return clierr.Wrap(clierr.CodeConfig, "open invocation journal", err)
			}
			s.logger.Warn("invocation journal unavailable", "path", s.settings.JournalPath, "error", err)
		} else {
			s.journal = store
		}
	}
	cfg := marketdata.Config{
		Endpoint: s.settings.MarketDataURL,
		TTL:      s.settings.MarketTTL,
		Logger:   s.logger,
		Metrics:  s.metrics,
	}
	if s.cache != nil {
		cfg.Store = s.cache
	}
	s.markets = marketdata.New(cfg)
	s.service = lending.NewService(lending.Options{
		Directory: s.directory,
		Markets:   s.markets,
		Logger:    s.logger,
		Metrics:   s.metrics,
	})
	s.tools = tools.NewRegistry(s.logger, s.metrics)
	return s.service.Register(s.tools)
}

func readsJournal(commandPath string) bool {
	switch commandPath {
	case "tools call", "tools history":
		return true
	default:
		return false
	}
}

func readsMarkets(commandPath string) bool {
	switch commandPath {
	case "markets", "tools call":
		return true
	default:
		return false
	}
}

// DialLedger connects to the configured network. Freeze mode tolerates a
// missing signing key.
func DialLedger(ctx context.Context, settings config.Settings, mode txassembly.Mode) (ledger.Client, error) {
	var operator ledger.AccountID
	if settings.OperatorID != "" {
		id, err := ledger.ParseAccountID(settings.OperatorID)
		if err != nil {
			return nil, err
		}
		operator = id
	}

	opts := ledger.Options{
		Network:        settings.Network,
		RPCURL:         settings.RPCURL,
		MirrorURL:      settings.MirrorURL,
		OperatorID:     operator,
		ReceiptTimeout: settings.ReceiptTimeout,
		HTTPTimeout:    settings.Timeout,
	}
	key, err := signer.Load(signer.ConfigFromEnv(settings.KeySource))
	switch {
	case err == nil:
		opts.Signer = key
	case errors.Is(err, signer.ErrNoKey) && mode == txassembly.ModeFreeze:
	default:
		return nil, clierr.Wrap(clierr.CodeSigner, "load operator key", err)
	}
	if opts.Signer == nil && operator.IsZero() {
		return nil, clierr.New(clierr.CodeConfig, "an operator account (--operator) or signing key is required")
	}
	client, err := ledger.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Command(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass())
		},
	}
}

func (s *runtimeState) envelopeMeta(commandPath string, cacheStatus model.CacheStatus) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		Network:   s.settings.Network.String(),
		Cache:     cacheStatus,
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     s.envelopeMeta(commandPath, cacheStatus),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func errorBody(err error) *model.ErrorBody {
	body := &model.ErrorBody{Code: clierr.ExitCode(err), Type: clierr.TypeName(clierr.CodeInternal), Message: err.Error()}
	if cErr, ok := clierr.As(err); ok {
		body.Type = clierr.TypeName(cErr.Code)
		body.Available = cErr.Available
	}
	return body
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error:   errorBody(err),
		Meta:    s.envelopeMeta(commandPath, cacheMetaBypass()),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func (s *runtimeState) writeMetrics() {
	if !s.showMetrics || s.metrics == nil {
		return
	}
	if err := s.metrics.WriteText(s.runner.stderr); err != nil && s.logger != nil {
		s.logger.Error("write metrics", "error", err)
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func (s *runtimeState) cacheMetaMarkets() model.CacheStatus {
	if s.cache != nil {
		return model.CacheStatus{Status: "persistent"}
	}
	return model.CacheStatus{Status: "memory"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
