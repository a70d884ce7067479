package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/policy"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/signer"
)

const envPrefix = "LENDTOOLS_"

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	Network        string
	RPCURL         string
	MirrorURL      string
	MarketDataURL  string
	ContractsPath  string
	Operator       string
	KeySource      string
	Timeout        string
	ReceiptTimeout string
	MarketTTL      string
	NoCache        bool
	NoJournal      bool
	EnableCommands string
	LogLevel       string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	Network        registry.Network
	RPCURL         string
	MirrorURL      string
	MarketDataURL  string
	ContractsPath  string
	OperatorID     string
	KeySource      string
	Timeout        time.Duration
	ReceiptTimeout time.Duration
	MarketTTL      time.Duration
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	JournalEnabled bool
	JournalPath    string
	JournalLock    string
	EnableCommands policy.Allowlist
	LogLevel       string
}

type fileConfig struct {
	Output         string   `yaml:"output"`
	Network        string   `yaml:"network"`
	LogLevel       string   `yaml:"log_level"`
	Timeout        string   `yaml:"timeout"`
	EnableCommands []string `yaml:"enable_commands"`
	Endpoints      struct {
		RPC        string `yaml:"rpc"`
		Mirror     string `yaml:"mirror"`
		MarketData string `yaml:"market_data"`
	} `yaml:"endpoints"`
	Contracts struct {
		Path string `yaml:"path"`
	} `yaml:"contracts"`
	Operator struct {
		Account   string `yaml:"account"`
		KeySource string `yaml:"key_source"`
	} `yaml:"operator"`
	Execution struct {
		ReceiptTimeout  string `yaml:"receipt_timeout"`
		Journal         *bool  `yaml:"journal"`
		JournalPath     string `yaml:"journal_path"`
		JournalLockPath string `yaml:"journal_lock_path"`
	} `yaml:"execution"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		TTL      string `yaml:"ttl"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
}

// Load resolves settings from defaults, the YAML config file, an optional
// .env file, LENDTOOLS_* environment variables and flags, in that order.
func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "resolve config path", err)
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "load config file", err)
	}

	if err := loadDotEnv(flags.EnvFile); err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "load env file", err)
	}
	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeUsage, "invalid flags", err)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.ReceiptTimeout <= 0 {
		settings.ReceiptTimeout = 2 * time.Minute
	}
	if settings.MarketTTL < 0 {
		settings.MarketTTL = 0
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	dir, err := defaultCacheDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:     "json",
		Network:        registry.Testnet,
		KeySource:      signer.SourceAuto,
		Timeout:        10 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		MarketTTL:      time.Minute,
		CacheEnabled:   true,
		CachePath:      filepath.Join(dir, "cache.db"),
		CacheLockPath:  filepath.Join(dir, "cache.lock"),
		JournalEnabled: true,
		JournalPath:    filepath.Join(dir, "journal.db"),
		JournalLock:    filepath.Join(dir, "journal.lock"),
		LogLevel:       "warn",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "lendtools", "config.yaml"), nil
}

func defaultCacheDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "lendtools"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Network != "" {
		network, err := registry.ParseNetwork(cfg.Network)
		if err != nil {
			return fmt.Errorf("config network: %w", err)
		}
		settings.Network = network
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if err := setDuration(&settings.Timeout, cfg.Timeout, "timeout"); err != nil {
		return err
	}
	if len(cfg.EnableCommands) > 0 {
		settings.EnableCommands = policy.Parse(strings.Join(cfg.EnableCommands, ","))
	}
	if cfg.Endpoints.RPC != "" {
		settings.RPCURL = cfg.Endpoints.RPC
	}
	if cfg.Endpoints.Mirror != "" {
		settings.MirrorURL = cfg.Endpoints.Mirror
	}
	if cfg.Endpoints.MarketData != "" {
		settings.MarketDataURL = cfg.Endpoints.MarketData
	}
	if cfg.Contracts.Path != "" {
		settings.ContractsPath = cfg.Contracts.Path
	}
	if cfg.Operator.Account != "" {
		settings.OperatorID = cfg.Operator.Account
	}
	if cfg.Operator.KeySource != "" {
		settings.KeySource = cfg.Operator.KeySource
	}
	if err := setDuration(&settings.ReceiptTimeout, cfg.Execution.ReceiptTimeout, "execution.receipt_timeout"); err != nil {
		return err
	}
	if cfg.Execution.Journal != nil {
		settings.JournalEnabled = *cfg.Execution.Journal
	}
	if cfg.Execution.JournalPath != "" {
		settings.JournalPath = cfg.Execution.JournalPath
	}
	if cfg.Execution.JournalLockPath != "" {
		settings.JournalLock = cfg.Execution.JournalLockPath
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if err := setDuration(&settings.MarketTTL, cfg.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	return nil
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

// loadDotEnv loads path, or ./.env when path is empty. Variables already set
// in the environment are kept. A missing default file is not an error.
func loadDotEnv(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func applyEnv(settings *Settings) {
	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := env("NETWORK"); v != "" {
		if network, err := registry.ParseNetwork(v); err == nil {
			settings.Network = network
		}
	}
	if v := env("RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := env("MIRROR_URL"); v != "" {
		settings.MirrorURL = v
	}
	if v := env("MARKET_DATA_URL"); v != "" {
		settings.MarketDataURL = v
	}
	if v := env("CONTRACTS_PATH"); v != "" {
		settings.ContractsPath = v
	}
	if v := env("OPERATOR_ID"); v != "" {
		settings.OperatorID = v
	}
	if v := env("KEY_SOURCE"); v != "" {
		settings.KeySource = v
	}
	if v := env("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := env("RECEIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ReceiptTimeout = d
		}
	}
	if v := env("MARKET_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MarketTTL = d
		}
	}
	if v := env("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := env("CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := env("CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := env("NO_JOURNAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.JournalEnabled = !b
		}
	}
	if v := env("JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := env("ENABLE_COMMANDS"); v != "" {
		settings.EnableCommands = policy.Parse(v)
	}
	if v := env("LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Network != "" {
		network, err := registry.ParseNetwork(flags.Network)
		if err != nil {
			return err
		}
		settings.Network = network
	}
	if flags.RPCURL != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.MirrorURL != "" {
		settings.MirrorURL = flags.MirrorURL
	}
	if flags.MarketDataURL != "" {
		settings.MarketDataURL = flags.MarketDataURL
	}
	if flags.ContractsPath != "" {
		settings.ContractsPath = flags.ContractsPath
	}
	if flags.Operator != "" {
		settings.OperatorID = flags.Operator
	}
	if flags.KeySource != "" {
		settings.KeySource = flags.KeySource
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.ReceiptTimeout != "" {
		d, err := time.ParseDuration(flags.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("parse --receipt-timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if flags.MarketTTL != "" {
		d, err := time.ParseDuration(flags.MarketTTL)
		if err != nil {
			return fmt.Errorf("parse --market-ttl: %w", err)
		}
		settings.MarketTTL = d
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.NoJournal {
		settings.JournalEnabled = false
	}
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = policy.Parse(flags.EnableCommands)
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}
