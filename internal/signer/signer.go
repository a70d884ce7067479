package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions on behalf of the operator account.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

const (
	EnvOperatorKey          = "LENDTOOLS_OPERATOR_KEY"
	EnvOperatorKeyFile      = "LENDTOOLS_OPERATOR_KEY_FILE"
	EnvKeystorePath         = "LENDTOOLS_KEYSTORE_PATH"
	EnvKeystorePassword     = "LENDTOOLS_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "LENDTOOLS_KEYSTORE_PASSWORD_FILE"

	SourceAuto     = "auto"
	SourceEnv      = "env"
	SourceFile     = "file"
	SourceKeystore = "keystore"

	defaultKeyRelativePath = "lendtools/operator.key"
)

// ErrNoKey reports that no key material was found for the requested source.
var ErrNoKey = errors.New("no operator key configured")

// Config selects where operator key material is read from.
type Config struct {
	Source               string
	KeyHex               string
	KeyFile              string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

// ConfigFromEnv fills Config from LENDTOOLS_* variables and the default key
// file under the user config directory.
func ConfigFromEnv(source string) Config {
	cfg := Config{
		Source:               source,
		KeyHex:               strings.TrimSpace(os.Getenv(EnvOperatorKey)),
		KeyFile:              strings.TrimSpace(os.Getenv(EnvOperatorKeyFile)),
		KeystorePath:         strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		KeystorePassword:     strings.TrimSpace(os.Getenv(EnvKeystorePassword)),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = existingFile(DefaultKeyPath())
	}
	return cfg
}

// LocalSigner holds an in-memory secp256k1 key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

// Load resolves key material according to cfg.Source. Sources other than auto
// ignore fields that belong to another source.
func Load(cfg Config) (*LocalSigner, error) {
	source := strings.ToLower(strings.TrimSpace(cfg.Source))
	switch source {
	case "", SourceAuto:
	case SourceEnv:
		cfg.KeyFile, cfg.KeystorePath = "", ""
	case SourceFile:
		cfg.KeyHex, cfg.KeystorePath = "", ""
	case SourceKeystore:
		cfg.KeyHex, cfg.KeyFile = "", ""
	default:
		return nil, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", cfg.Source, SourceAuto, SourceEnv, SourceFile, SourceKeystore)
	}

	pk, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func loadKey(cfg Config) (*ecdsa.PrivateKey, error) {
	switch {
	case strings.TrimSpace(cfg.KeyHex) != "":
		return parseHexKey(cfg.KeyHex)
	case strings.TrimSpace(cfg.KeyFile) != "":
		buf, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read operator key file: %w", err)
		}
		return parseHexKey(string(buf))
	case strings.TrimSpace(cfg.KeystorePath) != "":
		password := cfg.KeystorePassword
		if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
			buf, err := os.ReadFile(cfg.KeystorePasswordFile)
			if err != nil {
				return nil, fmt.Errorf("read keystore password file: %w", err)
			}
			password = strings.TrimSpace(string(buf))
		}
		if strings.TrimSpace(password) == "" {
			return nil, fmt.Errorf("keystore password is required")
		}
		buf, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("read keystore file: %w", err)
		}
		key, err := keystore.DecryptKey(buf, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}
	return nil, fmt.Errorf("%w: set %s, %s or %s, or place a key at %s", ErrNoKey, EnvOperatorKey, EnvOperatorKeyFile, EnvKeystorePath, DefaultKeyPath())
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty operator key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	return pk, nil
}

// DefaultKeyPath is $XDG_CONFIG_HOME/lendtools/operator.key.
func DefaultKeyPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultKeyRelativePath)
}

func existingFile(path string) string {
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
