package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

//go:embed contracts.json
var embeddedContracts []byte

// LendingPool is the directory key of the protocol's pool singleton.
const LendingPool = "LendingPool"

// Source yields the raw contract directory document.
type Source interface {
	Read() ([]byte, error)
	String() string
}

type fileSource string

// FileSource reads the directory from a JSON file on disk.
func FileSource(path string) Source { return fileSource(path) }

func (s fileSource) Read() ([]byte, error) { return os.ReadFile(string(s)) }
func (s fileSource) String() string        { return string(s) }

type bytesSource struct {
	name string
	buf  []byte
}

// BytesSource serves a fixed in-memory document.
func BytesSource(name string, buf []byte) Source { return bytesSource{name: name, buf: buf} }

func (s bytesSource) Read() ([]byte, error) { return s.buf, nil }
func (s bytesSource) String() string        { return s.name }

// EmbeddedSource serves the directory bundled with the binary.
func EmbeddedSource() Source { return BytesSource("embedded:contracts.json", embeddedContracts) }

// TokenAddresses is the set of contracts backing one reserve on one network.
type TokenAddresses struct {
	Symbol       string         `json:"symbol"`
	Token        common.Address `json:"token"`
	AToken       common.Address `json:"a_token"`
	StableDebt   common.Address `json:"stable_debt"`
	VariableDebt common.Address `json:"variable_debt"`
}

// MarshalJSON leaves out contracts the directory does not list.
func (t TokenAddresses) MarshalJSON() ([]byte, error) {
	out := map[string]any{"symbol": t.Symbol, "token": t.Token}
	optional := map[string]common.Address{
		"a_token":       t.AToken,
		"stable_debt":   t.StableDebt,
		"variable_debt": t.VariableDebt,
	}
	for key, addr := range optional {
		if addr != (common.Address{}) {
			out[key] = addr
		}
	}
	return json.Marshal(out)
}

type addressField struct {
	Address string `json:"address"`
}

type record struct {
	Address      string        `json:"address,omitempty"`
	Token        *addressField `json:"token,omitempty"`
	AToken       *addressField `json:"aToken,omitempty"`
	StableDebt   *addressField `json:"stableDebt,omitempty"`
	VariableDebt *addressField `json:"variableDebt,omitempty"`
}

type entry struct {
	name     string
	networks map[Network]record
}

func (r record) tokenAddress() string {
	if r.Token == nil {
		return ""
	}
	return strings.TrimSpace(r.Token.Address)
}

func (r record) isToken() bool {
	return r.Token != nil || r.AToken != nil || r.StableDebt != nil || r.VariableDebt != nil
}

// Table is an immutable, validated snapshot of the directory document.
type Table struct {
	entries map[string]entry
}

// Directory owns the contract table for the lifetime of the process. Load is
// memoized; Reload swaps in a freshly read table.
type Directory struct {
	source Source

	mu    sync.RWMutex
	table *Table
}

func NewDirectory(source Source) *Directory {
	if source == nil {
		source = EmbeddedSource()
	}
	return &Directory{source: source}
}

func (d *Directory) Source() string { return d.source.String() }

func (d *Directory) Load() (*Table, error) {
	d.mu.RLock()
	table := d.table
	d.mu.RUnlock()
	if table != nil {
		return table, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.table != nil {
		return d.table, nil
	}
	table, err := d.read()
	if err != nil {
		return nil, err
	}
	d.table = table
	return table, nil
}

func (d *Directory) Reload() (*Table, error) {
	table, err := d.read()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.table = table
	d.mu.Unlock()
	return table, nil
}

func (d *Directory) read() (*Table, error) {
	buf, err := d.source.Read()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("read contract directory %s", d.source), err)
	}
	table, err := ParseTable(buf)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("parse contract directory %s", d.source), err)
	}
	return table, nil
}

func (d *Directory) ResolveToken(symbol string, network Network) (TokenAddresses, error) {
	table, err := d.Load()
	if err != nil {
		return TokenAddresses{}, err
	}
	return table.ResolveToken(symbol, network)
}

func (d *Directory) ResolveSingleton(name string, network Network) (common.Address, error) {
	table, err := d.Load()
	if err != nil {
		return common.Address{}, err
	}
	return table.ResolveSingleton(name, network)
}

func (d *Directory) AvailableSymbols(network Network) ([]string, error) {
	table, err := d.Load()
	if err != nil {
		return nil, err
	}
	return table.AvailableSymbols(network), nil
}

// ParseTable validates a directory document. Network keys must be known and
// every non-empty address must be a hex address.
func ParseTable(buf []byte) (*Table, error) {
	var raw map[string]map[string]record
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("contract directory is empty")
	}
	table := &Table{entries: make(map[string]entry, len(raw))}
	for name, byNetwork := range raw {
		key := normalizeKey(name)
		if key == "" {
			return nil, fmt.Errorf("contract directory has an empty key")
		}
		if _, dup := table.entries[key]; dup {
			return nil, fmt.Errorf("duplicate contract directory key %q", name)
		}
		e := entry{name: strings.TrimSpace(name), networks: make(map[Network]record, len(byNetwork))}
		for rawNetwork, rec := range byNetwork {
			network, err := ParseNetwork(rawNetwork)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			for _, addr := range []string{rec.Address, fieldAddress(rec.Token), fieldAddress(rec.AToken), fieldAddress(rec.StableDebt), fieldAddress(rec.VariableDebt)} {
				if addr != "" && !common.IsHexAddress(addr) {
					return nil, fmt.Errorf("%s.%s: invalid address %q", name, network, addr)
				}
			}
			e.networks[network] = rec
		}
		table.entries[key] = e
	}
	return table, nil
}

func (t *Table) ResolveToken(symbol string, network Network) (TokenAddresses, error) {
	e, ok := t.entries[normalizeKey(symbol)]
	if !ok {
		err := clierr.New(clierr.CodeNotFound, fmt.Sprintf("token %s not found in contract directory; available on %s: %s", displaySymbol(symbol), network, t.availableText(network)))
		err.Available = t.AvailableSymbols(network)
		return TokenAddresses{}, err
	}
	rec, ok := e.networks[network]
	if !ok || rec.tokenAddress() == "" {
		err := clierr.New(clierr.CodeNotConfigured, fmt.Sprintf("token %s is not configured on %s; available on %s: %s", e.name, network, network, t.availableText(network)))
		err.Available = t.AvailableSymbols(network)
		return TokenAddresses{}, err
	}
	return TokenAddresses{
		Symbol:       e.name,
		Token:        common.HexToAddress(rec.tokenAddress()),
		AToken:       common.HexToAddress(fieldAddress(rec.AToken)),
		StableDebt:   common.HexToAddress(fieldAddress(rec.StableDebt)),
		VariableDebt: common.HexToAddress(fieldAddress(rec.VariableDebt)),
	}, nil
}

func (t *Table) ResolveSingleton(name string, network Network) (common.Address, error) {
	e, ok := t.entries[normalizeKey(name)]
	if !ok {
		err := clierr.New(clierr.CodeNotFound, fmt.Sprintf("contract %s not found in contract directory", strings.TrimSpace(name)))
		err.Available = t.availableSingletons(network)
		return common.Address{}, err
	}
	rec, ok := e.networks[network]
	if !ok || strings.TrimSpace(rec.Address) == "" {
		err := clierr.New(clierr.CodeNotConfigured, fmt.Sprintf("contract %s is not configured on %s", e.name, network))
		err.Available = t.availableSingletons(network)
		return common.Address{}, err
	}
	return common.HexToAddress(rec.Address), nil
}

// AvailableSymbols lists the token symbols with a populated token address on
// the network, sorted alphabetically.
func (t *Table) AvailableSymbols(network Network) []string {
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		rec, ok := e.networks[network]
		if ok && rec.tokenAddress() != "" {
			out = append(out, e.name)
		}
	}
	sort.Strings(out)
	return out
}

// Symbols lists every token symbol in the directory regardless of network.
func (t *Table) Symbols() []string {
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		for _, rec := range e.networks {
			if rec.isToken() {
				out = append(out, e.name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (t *Table) availableSingletons(network Network) []string {
	out := make([]string, 0)
	for _, e := range t.entries {
		rec, ok := e.networks[network]
		if ok && strings.TrimSpace(rec.Address) != "" {
			out = append(out, e.name)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Table) availableText(network Network) string {
	symbols := t.AvailableSymbols(network)
	if len(symbols) == 0 {
		return "none"
	}
	return strings.Join(symbols, ", ")
}

func fieldAddress(f *addressField) string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f.Address)
}

func normalizeKey(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

func displaySymbol(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
