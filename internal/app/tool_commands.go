package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/journal"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/lending"
	"github.com/ggonzalez94/lendtools/internal/model"
	"github.com/ggonzalez94/lendtools/internal/out"
	"github.com/ggonzalez94/lendtools/internal/schema"
	"github.com/ggonzalez94/lendtools/internal/tools"
	"github.com/ggonzalez94/lendtools/internal/txassembly"
)

func (s *runtimeState) newToolsCommand() *cobra.Command {
	root := &cobra.Command{Use: "tools", Short: "List, describe and call agent tools"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]model.ToolInfo, 0)
			for _, t := range s.tools.List() {
				if !s.settings.EnableCommands.AllowsTool(t.Name()) {
					continue
				}
				infos = append(infos, model.ToolInfo{Name: t.Name(), Description: t.Description(), Required: schema.Required(t.Schema())})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), infos, nil, cacheMetaBypass())
		},
	}

	describe := &cobra.Command{
		Use:   "schema <tool>",
		Short: "Print the JSON input schema of a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := s.tools.Get(args[0])
			if !ok {
				err := clierr.New(clierr.CodeNotFound, fmt.Sprintf("unknown tool %q", args[0]))
				err.Available = s.tools.Names()
				return err
			}
			info := model.ToolInfo{Name: t.Name(), Description: t.Description(), Required: schema.Required(t.Schema()), Schema: t.Schema()}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), info, nil, cacheMetaBypass())
		},
	}

	var (
		input     string
		inputFile string
		modeArg   string
		nonce     int64
	)
	call := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool with a JSON input object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := s.settings.EnableCommands.CheckTool(name); err != nil {
				return err
			}
			mode, err := txassembly.ParseMode(modeArg)
			if err != nil {
				return err
			}
			raw, err := readToolInput(input, inputFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			exec := tools.ExecContext{Mode: mode}
			if nonce >= 0 {
				n := uint64(nonce)
				exec.Nonce = &n
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout+s.settings.ReceiptTimeout)
			defer cancel()

			var client ledger.Client
			if name != lending.ToolMarketData {
				client, err = s.runner.dial(ctx, s.settings, mode)
				if err != nil {
					return err
				}
			}

			inv := tools.Invocation{ID: uuid.NewString(), Ledger: client, Exec: exec, Input: raw}
			resp := s.tools.Call(ctx, name, inv)
			s.recordInvocation(name, inv, resp)
			return s.emitToolResult(trimRootPath(cmd.CommandPath()), name, inv.ID, resp)
		},
	}
	call.Flags().StringVar(&input, "input", "", "Tool input as a JSON object")
	call.Flags().StringVar(&inputFile, "input-file", "", "Read tool input from a file (- for stdin)")
	call.Flags().StringVar(&modeArg, "mode", string(txassembly.ModeSubmit), "Execution mode (submit|freeze)")
	call.Flags().Int64Var(&nonce, "nonce", -1, "Nonce bound into frozen transactions")

	var (
		historyTool    string
		historyOutcome string
		historyLimit   int
	)
	history := &cobra.Command{
		Use:   "history [invocation-id]",
		Short: "Show recorded tool invocations, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.journal == nil {
				return clierr.New(clierr.CodeConfig, "invocation journal is disabled")
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			if len(args) == 1 {
				entry, err := s.journal.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), entry, nil, cacheMetaBypass())
			}
			if historyLimit < 0 || historyLimit > 500 {
				return clierr.New(clierr.CodeUsage, "--limit must be between 0 and 500")
			}
			entries, err := s.journal.List(ctx, journal.Filter{Tool: historyTool, Outcome: historyOutcome, Limit: historyLimit})
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "read invocation journal", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entries, nil, cacheMetaBypass())
		},
	}
	history.Flags().StringVar(&historyTool, "tool", "", "Only show invocations of this tool")
	history.Flags().StringVar(&historyOutcome, "outcome", "", "Only show invocations with this outcome (ok|warning|error)")
	history.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to return")

	root.AddCommand(list)
	root.AddCommand(describe)
	root.AddCommand(call)
	root.AddCommand(history)
	return root
}

// recordInvocation writes the call to the journal. Journal failures never
// change the tool result.
func (s *runtimeState) recordInvocation(name string, inv tools.Invocation, resp tools.Response) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := journal.Entry{
		InvocationID: inv.ID,
		Tool:         name,
		Network:      s.settings.Network.String(),
		Mode:         string(inv.Exec.Mode),
		Outcome:      string(resp.Outcome),
		Summary:      resp.Summary,
		RecordedAt:   s.runner.now(),
	}
	if raw, err := json.Marshal(resp.Raw); err == nil {
		entry.Raw = raw
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Warn("record invocation", "invocation_id", inv.ID, "error", err)
	}
}

func readToolInput(inline, path string, stdin io.Reader) (json.RawMessage, error) {
	if inline != "" && path != "" {
		return nil, clierr.New(clierr.CodeUsage, "use either --input or --input-file")
	}
	var buf []byte
	switch {
	case path == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read tool input from stdin", err)
		}
		buf = b
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read tool input file", err)
		}
		buf = b
	default:
		buf = []byte(inline)
	}
	if strings.TrimSpace(string(buf)) == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(buf) {
		return nil, clierr.New(clierr.CodeUsage, "tool input is not valid JSON")
	}
	return json.RawMessage(buf), nil
}

// emitToolResult writes the tool response as the command result. Warning and
// error outcomes still carry the full response but mark the envelope failed.
func (s *runtimeState) emitToolResult(commandPath, name, invocationID string, resp tools.Response) error {
	result := model.ToolCallResult{
		Tool:         name,
		InvocationID: invocationID,
		Outcome:      string(resp.Outcome),
		Summary:      resp.Summary,
		Raw:          resp.Raw,
	}
	if resp.Err == nil {
		return s.emitSuccess(commandPath, result, nil, s.cacheMetaMarkets())
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    result,
		Error:   errorBody(resp.Err),
		Meta:    s.envelopeMeta(commandPath, s.cacheMetaMarkets()),
	}
	if resp.Outcome == tools.OutcomeWarning {
		env.Warnings = []string{resp.Summary}
	}
	if err := out.Render(s.runner.stdout, env, s.settings); err != nil {
		return err
	}
	return &renderedError{err: resp.Err}
}
