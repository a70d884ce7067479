package tools

import (
	"context"
	"encoding/json"

	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/schema"
	"github.com/ggonzalez94/lendtools/internal/txassembly"
)

// Tool is one callable capability exposed to the host agent.
type Tool interface {
	Name() string
	Description() string
	Schema() schema.Object
	// Call never returns an error; failures are reported in the Response.
	Call(ctx context.Context, inv Invocation) Response
}

// ExecContext carries the host-selected execution settings.
type ExecContext struct {
	Mode  txassembly.Mode `json:"mode"`
	Nonce *uint64         `json:"nonce,omitempty"`
}

type Invocation struct {
	ID     string
	Ledger ledger.Client
	Exec   ExecContext
	Input  json.RawMessage
}

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeWarning Outcome = "warning"
	OutcomeError   Outcome = "error"
)

// Response pairs a machine-readable payload with a human-readable summary.
type Response struct {
	Raw     any     `json:"raw"`
	Summary string  `json:"summary"`
	Outcome Outcome `json:"outcome"`
	// Err is the failure behind a warning or error outcome.
	Err error `json:"-"`
}
