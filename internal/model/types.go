package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code      int      `json:"code"`
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Available []string `json:"available,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Network   string      `json:"network,omitempty"`
	Cache     CacheStatus `json:"cache"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// ToolInfo describes one registered tool for `tools list`.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Required    []string       `json:"required,omitempty"`
	Schema      map[string]any `json:"input_schema,omitempty"`
}

// ToolCallResult is the outcome of `tools call`.
type ToolCallResult struct {
	Tool         string `json:"tool"`
	InvocationID string `json:"invocation_id"`
	Outcome      string `json:"outcome"`
	Summary      string `json:"summary"`
	Raw          any    `json:"raw"`
}

// PlainSummary is printed instead of key=value pairs in plain output.
func (r ToolCallResult) PlainSummary() string { return r.Summary }

// ContractEntry is one row of `contracts`.
type ContractEntry struct {
	Symbol       string          `json:"symbol"`
	Network      string          `json:"network"`
	Token        common.Address  `json:"token"`
	AToken       *common.Address `json:"a_token,omitempty"`
	StableDebt   *common.Address `json:"stable_debt,omitempty"`
	VariableDebt *common.Address `json:"variable_debt,omitempty"`
}

type NetworkInfo struct {
	Network     string `json:"network"`
	ChainID     int64  `json:"chain_id"`
	LendingPool string `json:"lending_pool,omitempty"`
	RPCURL      string `json:"rpc_url,omitempty"`
	MirrorURL   string `json:"mirror_url,omitempty"`
}

type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}
