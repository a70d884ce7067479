package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
)

// Registry holds tools by name and runs invocations against them.
type Registry struct {
	tools   map[string]Tool
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func NewRegistry(logger *slog.Logger, metrics *telemetry.Metrics) *Registry {
	return &Registry{
		tools:   map[string]Tool{},
		logger:  logging.OrDefault(logger),
		metrics: telemetry.OrDefault(metrics),
	}
}

func (r *Registry) Register(tools ...Tool) error {
	for _, t := range tools {
		if _, dup := r.tools[t.Name()]; dup {
			return fmt.Errorf("tool %q registered twice", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for _, t := range r.List() {
		out = append(out, t.Name())
	}
	return out
}

// Call runs the named tool. Unknown tools and panics become error responses.
func (r *Registry) Call(ctx context.Context, name string, inv Invocation) (resp Response) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	logger := r.logger.With("tool", name, "invocation_id", inv.ID)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tool panicked", "panic", fmt.Sprint(rec))
			resp = Response{
				Raw:     map[string]any{"error": fmt.Sprint(rec)},
				Summary: fmt.Sprintf("%s failed unexpectedly: %v", name, rec),
				Outcome: OutcomeError,
				Err:     clierr.New(clierr.CodeInternal, fmt.Sprintf("tool %s panicked: %v", name, rec)),
			}
		}
		r.metrics.ToolCall(name, string(resp.Outcome))
		logger.Info("tool call finished", "outcome", resp.Outcome, "duration_ms", time.Since(start).Milliseconds())
	}()

	t, ok := r.Get(name)
	if !ok {
		err := clierr.New(clierr.CodeNotFound, fmt.Sprintf("unknown tool %q", name))
		err.Available = r.Names()
		return Response{
			Raw:     map[string]any{"error": "unknown_tool", "available": r.Names()},
			Summary: fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(r.Names(), ", ")),
			Outcome: OutcomeError,
			Err:     err,
		}
	}
	return t.Call(ctx, inv)
}
