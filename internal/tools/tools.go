// Package tools holds the functions JARVIS exposes to the remote model and
// dispatches the model's tool-call batches to them.
//
// A [Dispatcher] runs every call of a batch concurrently and returns the
// results in call order. Calls naming an unknown tool are skipped. Handler
// errors and panics become failed [Result] values, so one broken tool never
// aborts the rest of the batch or the session.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// ErrToolExecution wraps every error a handler returns or panics with.
var ErrToolExecution = errors.New("tools: execution failed")

// Tool is a function the remote model may call.
type Tool struct {
	// Definition is the model-facing schema: name, description and JSON
	// Schema parameters.
	Definition s2s.ToolDefinition

	// Handler executes the call. Implementations must be safe for concurrent
	// use and respect ctx.
	Handler func(ctx context.Context, args map[string]any) (Result, error)

	// Timeout bounds a single execution. Zero means no limit beyond the
	// dispatch context.
	Timeout time.Duration
}

// Result is the structured reply sent back to the model for one call.
type Result struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failed returns an unsuccessful Result carrying msg.
func Failed(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Response pairs a Result with the call it answers.
type Response struct {
	ID     string
	Name   string
	Result Result
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics overrides observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher routes tool calls to registered tools by name.
type Dispatcher struct {
	tools   map[string]Tool
	order   []string
	metrics *observe.Metrics
	log     *slog.Logger
}

// New returns a Dispatcher serving tools. A later tool with a duplicate name
// replaces the earlier one.
func New(tools []Tool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools: make(map[string]Tool, len(tools)),
		log:   slog.Default(),
	}
	for _, t := range tools {
		if _, dup := d.tools[t.Definition.Name]; !dup {
			d.order = append(d.order, t.Definition.Name)
		}
		d.tools[t.Definition.Name] = t
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Definitions returns the schemas of all registered tools in registration
// order.
func (d *Dispatcher) Definitions() []s2s.ToolDefinition {
	defs := make([]s2s.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		defs = append(defs, d.tools[name].Definition)
	}
	return defs
}

// Dispatch executes calls concurrently and returns one Response per known
// call, in the order the calls were given. It returns once every call has
// finished.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []s2s.ToolCall) []Response {
	slots := make([]*Response, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		tool, ok := d.tools[call.Name]
		if !ok {
			d.log.Warn("tools: ignoring call to unknown tool", "tool", call.Name, "call_id", call.ID)
			continue
		}
		g.Go(func() error {
			res := d.execute(ctx, tool, call)
			slots[i] = &Response{ID: call.ID, Name: call.Name, Result: res}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Response, 0, len(calls))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// execute runs one call with tracing, metrics, timeout and panic recovery.
func (d *Dispatcher) execute(ctx context.Context, tool Tool, call s2s.ToolCall) (res Result) {
	ctx, span := observe.StartSpan(ctx, "tool "+call.Name,
		trace.WithAttributes(
			attribute.String("tool", call.Name),
			attribute.String("call_id", call.ID),
		),
	)
	defer span.End()

	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = d.fail(ctx, span, call, fmt.Errorf("%w: %s panicked: %v", ErrToolExecution, call.Name, r))
		}
		status := "ok"
		if !res.Success {
			status = "error"
		}
		d.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("tool", call.Name)))
		d.metrics.RecordToolCall(ctx, call.Name, status)
	}()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	res, err := tool.Handler(ctx, args)
	if err != nil {
		return d.fail(ctx, span, call, fmt.Errorf("%w: %s: %w", ErrToolExecution, call.Name, err))
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, call s2s.ToolCall, err error) Result {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	observe.Logger(ctx).Error("tools: call failed", "tool", call.Name, "call_id", call.ID, "err", err)
	return Failed(err.Error())
}
