package loom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/everydev1618/goloom/ast"
	"github.com/everydev1618/goloom/llm"
	"github.com/everydev1618/goloom/tools"
)

// maxGenerationAttempts bounds regeneration when vibe output fails to
// parse. Each attempt is a fresh provider call.
const maxGenerationAttempts = 3

// InputFunc solicits one answer from the user.
type InputFunc func(ctx context.Context, prompt string) (string, error)

// HostEvalFunc evaluates embedded host code with the given arguments.
type HostEvalFunc func(ctx context.Context, params []string, code string, args []Value) (Value, error)

// Snapshotter persists a state at each suspension and at the end of a
// run. Store implementations satisfy it.
type Snapshotter interface {
	SaveRun(ctx context.Context, st *State) error
}

// Driver owns the I/O loop around an Engine: provider calls, tool
// execution, user input, host evaluation, and snapshots. The engine
// itself never blocks; the driver does, between suspension and resume.
type Driver struct {
	engine    *Engine
	provider  llm.Provider
	tools     *tools.Registry
	snapshots Snapshotter
	input     InputFunc
	hostEval  HostEvalFunc
	retry     llm.RetryPolicy
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithTools sets the registry tool calls execute against.
func WithTools(reg *tools.Registry) DriverOption {
	return func(d *Driver) {
		d.tools = reg
	}
}

// WithSnapshots persists the state at every pause.
func WithSnapshots(s Snapshotter) DriverOption {
	return func(d *Driver) {
		d.snapshots = s
	}
}

// WithInput sets the user-input callback for ask operations.
func WithInput(fn InputFunc) DriverOption {
	return func(d *Driver) {
		d.input = fn
	}
}

// WithHostEval sets the host-code evaluator.
func WithHostEval(fn HostEvalFunc) DriverOption {
	return func(d *Driver) {
		d.hostEval = fn
	}
}

// NewDriver creates a driver around an engine and a provider.
func NewDriver(engine *Engine, provider llm.Provider, opts ...DriverOption) *Driver {
	d := &Driver{
		engine:   engine,
		provider: provider,
		retry:    engine.Config().Retry,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run advances a state to a terminal status, servicing every suspension
// on the way. The state is snapshotted after each transition, so a crash
// or cancellation loses at most the request in flight; Run can be called
// again on the reloaded state.
func (d *Driver) Run(ctx context.Context, st *State) error {
	for {
		if err := d.engine.RunUntilPause(st); err != nil {
			d.snapshot(ctx, st)
			return err
		}

		switch st.Status {
		case StatusCompleted:
			d.snapshot(ctx, st)
			return nil
		case StatusError:
			d.snapshot(ctx, st)
			return st.Err()
		case StatusAwaitingAI:
			if err := d.serviceAI(ctx, st); err != nil {
				d.snapshot(ctx, st)
				return err
			}
		case StatusAwaitingUser:
			if err := d.serviceInput(ctx, st); err != nil {
				d.snapshot(ctx, st)
				return err
			}
		case StatusAwaitingToolEval:
			if err := d.serviceTools(ctx, st); err != nil {
				d.snapshot(ctx, st)
				return err
			}
		case StatusAwaitingHostEval:
			if err := d.serviceHostEval(ctx, st); err != nil {
				d.snapshot(ctx, st)
				return err
			}
		default:
			return fmt.Errorf("driver cannot service status %s", st.Status)
		}
		d.snapshot(ctx, st)
	}
}

// serviceAI makes one provider round trip and resumes with the result.
// Vibe generations that fail to parse are retried with fresh generations
// up to maxGenerationAttempts.
func (d *Driver) serviceAI(ctx context.Context, st *State) error {
	if d.provider == nil {
		return fmt.Errorf("no provider configured")
	}
	ai := st.Pending.AI
	req := d.buildRequest(ai)

	for attempt := 1; ; attempt++ {
		var resp *llm.Response
		var err error
		if ai.Op == llm.OpVibe {
			var code string
			code, err = llm.WithRetry(ctx, d.retry, func(ctx context.Context) (string, error) {
				return d.provider.GenerateCode(ctx, req)
			})
			resp = &llm.Response{Content: code}
		} else {
			resp, err = llm.WithRetry(ctx, d.retry, func(ctx context.Context) (*llm.Response, error) {
				return d.provider.Execute(ctx, req)
			})
		}
		if err != nil {
			return fmt.Errorf("provider %s request: %w", ai.Op, err)
		}

		err = d.engine.ResumeWithAIResponse(st, resp)
		var syntaxErr *GeneratedCodeSyntaxError
		if errors.As(err, &syntaxErr) && attempt < maxGenerationAttempts {
			slog.Warn("generated code failed to parse, regenerating",
				"run_id", st.ID, "attempt", attempt, "error", syntaxErr.Err)
			continue
		}
		return err
	}
}

func (d *Driver) buildRequest(ai *PendingAI) llm.Request {
	req := llm.Request{
		Operation:  ai.Op,
		Prompt:     ai.Prompt,
		Context:    ai.Context,
		TargetType: targetType(ai.TargetType),
		Model:      ai.Model,
		History:    ai.History,
	}
	if len(ai.Tools) > 0 && d.tools != nil {
		req.Tools = d.tools.Schema(ai.Tools)
	}
	return req
}

func (d *Driver) serviceInput(ctx context.Context, st *State) error {
	if d.input == nil {
		return fmt.Errorf("run awaits user input but no input source is configured")
	}
	prompt := st.Pending.AI.Prompt

	for {
		answer, err := d.input(ctx, prompt)
		if err != nil {
			return err
		}
		err = d.engine.ResumeWithUserInput(st, answer)
		var coercionErr *TypeCoercionError
		if errors.As(err, &coercionErr) {
			prompt = fmt.Sprintf("%s (%s)", st.Pending.AI.Prompt, coercionErr)
			continue
		}
		return err
	}
}

// serviceTools executes the round's calls concurrently. Tool failures are
// not fatal: they travel back to the model as error results.
func (d *Driver) serviceTools(ctx context.Context, st *State) error {
	calls := st.Pending.Tool.Calls
	results := make([]llm.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = d.executeTool(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return d.engine.ResumeWithToolResults(st, results)
}

func (d *Driver) executeTool(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	result := llm.ToolResult{CallID: call.ID}
	if d.tools == nil {
		result.Error = "no tool registry configured"
		return result
	}
	content, err := d.tools.Execute(ctx, call.Name, call.Args)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Content = content
	return result
}

func (d *Driver) serviceHostEval(ctx context.Context, st *State) error {
	if d.hostEval == nil {
		return fmt.Errorf("run awaits host evaluation but no evaluator is configured")
	}
	pending := st.Pending.Host
	v, err := d.hostEval(ctx, pending.Params, pending.Code, pending.Args)
	if err != nil {
		return fmt.Errorf("host eval: %w", err)
	}
	return d.engine.ResumeWithHostResult(st, v)
}

func (d *Driver) snapshot(ctx context.Context, st *State) {
	if d.snapshots == nil {
		return
	}
	if err := d.snapshots.SaveRun(ctx, st); err != nil {
		slog.Error("snapshot failed", "run_id", st.ID, "error", err)
	}
}

// targetType maps a declared type annotation to the provider-facing
// structured output target.
func targetType(ann ast.TypeAnnotation) llm.TargetType {
	switch ann {
	case ast.TypeNumber:
		return llm.TargetNumber
	case ast.TypeBoolean:
		return llm.TargetBoolean
	case ast.TypeJSON:
		return llm.TargetJSON
	case ast.TypeArray:
		return llm.TargetArray
	default:
		return llm.TargetText
	}
}
