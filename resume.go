package loom

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/everydev1618/goloom/ast"
	"github.com/everydev1618/goloom/llm"
)

// Request returns the pending request of a suspended state.
func (s *State) Request() (*PendingRequest, error) {
	if !s.Status.Awaiting() || s.Pending == nil {
		return nil, ErrNotPaused
	}
	return s.Pending, nil
}

// ResumeWithAIResponse delivers a model response to a state awaiting one.
//
// A do response carrying tool calls (with rounds remaining) moves the
// state to awaiting tool evaluation instead of resuming; a vibe response
// that fails to parse returns *GeneratedCodeSyntaxError and leaves the
// state suspended so the driver can request a fresh generation. All other
// failures are fatal.
func (e *Engine) ResumeWithAIResponse(st *State, resp *llm.Response) error {
	if st.Status != StatusAwaitingAI || st.Pending == nil || st.Pending.AI == nil {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidResumeState, StatusAwaitingAI, st.Status)
	}
	ai := st.Pending.AI

	switch ai.Op {
	case llm.OpCompress:
		return e.resumeCompress(st, ai, resp)
	case llm.OpVibe:
		return e.resumeVibe(st, ai, resp)
	}

	// A do round that wants tools keeps the conversation open, bounded
	// by MaxRounds. Hitting the bound is not an error: the last content
	// becomes the result.
	if len(resp.ToolCalls) > 0 && len(ai.Tools) > 0 && ai.Round+1 < ai.MaxRounds {
		st.recordInteraction(ai, resp.Content, len(resp.ToolCalls), resp.Usage)
		st.Pending = &PendingRequest{
			Kind: RequestTool,
			Tool: &PendingToolEval{Calls: resp.ToolCalls, Content: resp.Content, AI: ai},
		}
		st.Status = StatusAwaitingToolEval
		slog.Debug("tool round requested", "run_id", st.ID, "round", ai.Round, "calls", len(resp.ToolCalls))
		return nil
	}

	value := TextValue(resp.Content)
	if resp.Parsed != nil {
		value = FromAny(resp.Parsed)
	}
	coerced, err := Coerce(value, ai.TargetType)
	if err != nil {
		return st.fail(err)
	}

	st.recordInteraction(ai, resp.Content, len(resp.ToolCalls), resp.Usage)
	st.pushValue(coerced)
	st.Pending = nil
	st.Status = StatusRunning
	return nil
}

// resumeCompress replaces the compressed block's entries with a single
// summary entry and continues.
func (e *Engine) resumeCompress(st *State, ai *PendingAI, resp *llm.Response) error {
	spec := ai.Compress
	if spec == nil || spec.FrameIndex >= len(st.Frames) {
		return st.fail(fmt.Errorf("compress response with no target region"))
	}
	frame := st.Frames[spec.FrameIndex]
	if spec.EntriesStart > len(frame.Entries) {
		return st.fail(fmt.Errorf("compress region out of range in frame %s", frame.Name))
	}

	frame.Entries = append(frame.Entries[:spec.EntriesStart], Entry{
		Kind:  EntrySummary,
		Text:  resp.Content,
		Depth: frame.depth(),
	})

	st.recordInteraction(ai, resp.Content, 0, resp.Usage)
	st.Pending = nil
	st.Status = StatusRunning
	return nil
}

// resumeVibe parses the generated source, registers the function it
// declares, resolves its arguments from the calling scope, and schedules
// the call.
func (e *Engine) resumeVibe(st *State, ai *PendingAI, resp *llm.Response) error {
	if e.parse == nil {
		return st.fail(fmt.Errorf("vibe response received with no parser configured"))
	}

	prog, err := e.parse(resp.Content)
	if err != nil {
		return &GeneratedCodeSyntaxError{Source: resp.Content, Err: err}
	}
	var decl *Function
	for i := range prog.Stmts {
		if prog.Stmts[i].Kind == ast.StmtFunc {
			stmt := &prog.Stmts[i]
			decl = &Function{Name: stmt.Name, Params: stmt.Params, Body: stmt.Body, Generated: true}
			break
		}
	}
	if decl == nil {
		return &GeneratedCodeSyntaxError{
			Source: resp.Content,
			Err:    fmt.Errorf("generated source declares no function"),
		}
	}

	if _, exists := st.Functions[decl.Name]; exists && e.cfg.VibeRedeclare != RedeclareOverwrite {
		return st.fail(&FunctionRedeclaredError{Name: decl.Name})
	}
	st.Functions[decl.Name] = decl

	args := make([]Value, len(decl.Params))
	for i, param := range decl.Params {
		v, err := e.getVariable(st, param)
		if err != nil {
			return st.fail(err)
		}
		args[i] = v
	}

	st.recordInteraction(ai, resp.Content, 0, resp.Usage)
	st.pushInstr(Instruction{Op: opInvokeResolved, Name: decl.Name, Args: args})
	st.Pending = nil
	st.Status = StatusRunning
	slog.Debug("generated function spliced", "run_id", st.ID, "function", decl.Name, "params", len(decl.Params))
	return nil
}

// ResumeWithUserInput delivers the user's answer to a state awaiting one.
// A coercion failure leaves the state suspended so the driver can ask
// again.
func (e *Engine) ResumeWithUserInput(st *State, input string) error {
	if st.Status != StatusAwaitingUser || st.Pending == nil || st.Pending.AI == nil {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidResumeState, StatusAwaitingUser, st.Status)
	}
	ai := st.Pending.AI

	coerced, err := Coerce(TextValue(input), ai.TargetType)
	if err != nil {
		return err
	}

	st.recordInteraction(ai, input, 0, llm.Usage{})
	st.pushValue(coerced)
	st.Pending = nil
	st.Status = StatusRunning
	return nil
}

// ResumeWithToolResults closes one tool round: the results join the
// conversation history and the state goes back to awaiting the model.
func (e *Engine) ResumeWithToolResults(st *State, results []llm.ToolResult) error {
	if st.Status != StatusAwaitingToolEval || st.Pending == nil || st.Pending.Tool == nil {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidResumeState, StatusAwaitingToolEval, st.Status)
	}
	tool := st.Pending.Tool
	ai := tool.AI

	ai.History = append(ai.History, llm.Round{
		Content: tool.Content,
		Calls:   tool.Calls,
		Results: results,
	})
	ai.Round++

	st.Pending = &PendingRequest{Kind: RequestAI, AI: ai}
	st.Status = StatusAwaitingAI
	return nil
}

// ResumeWithHostResult delivers the value a host-code evaluation produced.
func (e *Engine) ResumeWithHostResult(st *State, v Value) error {
	if st.Status != StatusAwaitingHostEval || st.Pending == nil || st.Pending.Host == nil {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidResumeState, StatusAwaitingHostEval, st.Status)
	}
	st.pushValue(v)
	st.Pending = nil
	st.Status = StatusRunning
	return nil
}

func (s *State) recordInteraction(ai *PendingAI, response string, toolCalls int, usage llm.Usage) {
	s.Interactions = append(s.Interactions, Interaction{
		ID:        ai.ID,
		Op:        ai.Op,
		Model:     ai.Model.Name,
		Prompt:    ai.Prompt,
		Response:  response,
		ToolCalls: toolCalls,
		Round:     ai.Round,
		Usage:     usage,
		At:        time.Now().UTC(),
	})
}
