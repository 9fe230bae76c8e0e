package loom

import (
	"time"

	"github.com/everydev1618/goloom/ast"
	"github.com/everydev1618/goloom/llm"
)

// Status is the lifecycle phase of a run.
type Status string

const (
	StatusRunning          Status = "running"
	StatusAwaitingAI       Status = "awaiting_ai"
	StatusAwaitingUser     Status = "awaiting_user"
	StatusAwaitingToolEval Status = "awaiting_tool_eval"
	StatusAwaitingHostEval Status = "awaiting_host_eval"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
)

// Awaiting reports whether s is one of the suspended statuses.
func (s Status) Awaiting() bool {
	switch s {
	case StatusAwaitingAI, StatusAwaitingUser, StatusAwaitingToolEval, StatusAwaitingHostEval:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// PendingAI is a suspended AI or user-input operation.
type PendingAI struct {
	ID         string             `json:"id"`
	Op         llm.Operation      `json:"op"`
	Prompt     string             `json:"prompt"`
	Context    string             `json:"context,omitempty"`
	Model      llm.ModelConfig    `json:"model"`
	TargetType ast.TypeAnnotation `json:"target_type,omitempty"`
	Tools      []string           `json:"tools,omitempty"`

	// MaxRounds bounds the tool-calling conversation this request may
	// grow into: 1 for do without tools, ask, and compress.
	MaxRounds int `json:"max_rounds"`

	// Round counts completed request/response cycles.
	Round int `json:"round"`

	// History holds the completed tool-calling rounds so the whole
	// conversation survives suspension and restart.
	History []llm.Round `json:"history,omitempty"`

	// Compress locates the entries a compress round replaces.
	Compress *CompressSpec `json:"compress,omitempty"`
}

// CompressSpec pins the frame region a compress summary replaces.
type CompressSpec struct {
	FrameIndex   int `json:"frame_index"`
	EntriesStart int `json:"entries_start"`
}

// PendingToolEval is a suspended tool-execution round. AI carries the
// conversation the round belongs to.
type PendingToolEval struct {
	Calls   []llm.ToolCall `json:"calls"`
	Content string         `json:"content,omitempty"`
	AI      *PendingAI     `json:"ai"`
}

// PendingHostEval is a suspended host-code evaluation.
type PendingHostEval struct {
	Params []string `json:"params"`
	Code   string   `json:"code"`
	Args   []Value  `json:"args,omitempty"`
}

// RequestKind discriminates the pending request union.
type RequestKind string

const (
	RequestAI   RequestKind = "ai"
	RequestUser RequestKind = "user"
	RequestTool RequestKind = "tool"
	RequestHost RequestKind = "host"
)

// PendingRequest is the suspended operation a paused state is waiting on.
// Exactly one payload field is set, selected by Kind.
type PendingRequest struct {
	Kind RequestKind      `json:"request"`
	AI   *PendingAI       `json:"ai,omitempty"`
	Tool *PendingToolEval `json:"tool,omitempty"`
	Host *PendingHostEval `json:"host,omitempty"`
}

// Function is one entry of the top-level function table.
type Function struct {
	Name   string     `json:"name"`
	Params []string   `json:"params"`
	Body   *ast.Block `json:"body"`

	// Generated marks functions spliced in by vibe.
	Generated bool `json:"generated,omitempty"`
}

// ModuleKind distinguishes same-language modules from host ones.
type ModuleKind string

const (
	ModuleSource ModuleKind = "source"
	ModuleHost   ModuleKind = "host"
)

// ModuleEntry is one loaded module, cached by resolved absolute path and
// never torn down mid-run. Host modules carry no exports until their
// first access evaluates them. Only the path and kind survive
// serialization; host modules re-evaluate after a restore.
type ModuleEntry struct {
	Path      string           `json:"path"`
	Kind      ModuleKind       `json:"kind"`
	Exports   map[string]Value `json:"exports,omitempty"`
	Evaluated bool             `json:"evaluated,omitempty"`

	// Functions holds exported function declarations; values alone
	// cannot carry bodies.
	Functions map[string]*Function `json:"functions,omitempty"`
}

// HostImport defers one host-module binding until first access.
type HostImport struct {
	Path   string `json:"path"`
	Export string `json:"export"`
}

// Interaction is one audit-log record of an AI round trip.
type Interaction struct {
	ID        string        `json:"id"`
	Op        llm.Operation `json:"op"`
	Model     string        `json:"model,omitempty"`
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response,omitempty"`
	ToolCalls int           `json:"tool_calls,omitempty"`
	Round     int           `json:"round"`
	Usage     llm.Usage     `json:"usage"`
	At        time.Time     `json:"at"`
}

// State is the complete snapshot of one run. It is plain data: every
// field survives the serializer, and advancing it requires only an
// Engine, which holds configuration and injected collaborators but no
// run state of its own.
//
// Invariant: Pending is non-nil exactly when Status is an awaiting one.
type State struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	// Frames is the call stack, outermost first.
	Frames []*Frame `json:"frames"`

	// Instrs is the instruction stack; the last element is the top.
	Instrs []Instruction `json:"instrs"`

	// Values is the operand stack for in-flight expressions.
	Values []Value `json:"values,omitempty"`

	Pending    *PendingRequest `json:"pending,omitempty"`
	LastResult Value           `json:"last_result,omitempty"`
	Failure    *RunError       `json:"failure,omitempty"`

	Functions   map[string]*Function    `json:"functions,omitempty"`
	Modules     map[string]*ModuleEntry `json:"modules,omitempty"`
	HostImports map[string]HostImport   `json:"host_imports,omitempty"`

	Interactions []Interaction `json:"interactions,omitempty"`
}

// currentFrame is the innermost call-stack frame.
func (s *State) currentFrame() *Frame {
	return s.Frames[len(s.Frames)-1]
}

// push/pop for the instruction stack (LIFO, top at the end).
func (s *State) pushInstr(in Instruction) {
	s.Instrs = append(s.Instrs, in)
}

func (s *State) popInstr() Instruction {
	in := s.Instrs[len(s.Instrs)-1]
	s.Instrs = s.Instrs[:len(s.Instrs)-1]
	return in
}

func (s *State) pushValue(v Value) {
	s.Values = append(s.Values, v)
}

func (s *State) popValue() Value {
	v := s.Values[len(s.Values)-1]
	s.Values = s.Values[:len(s.Values)-1]
	return v
}

// GetValue looks up a variable visible from the innermost frame, for
// inspecting a paused or completed state.
func (s *State) GetValue(name string) (Value, bool) {
	for i := len(s.Frames) - 1; i >= 0; i-- {
		if variable, ok := s.Frames[i].Locals[name]; ok {
			return variable.Value, true
		}
	}
	if _, ok := s.Functions[name]; ok {
		return FuncRef(name), true
	}
	return Value{}, false
}

// AIInteractions returns the audit log of AI round trips, oldest first.
func (s *State) AIInteractions() []Interaction {
	out := make([]Interaction, len(s.Interactions))
	copy(out, s.Interactions)
	return out
}

// Err returns the terminal error of a failed run, or nil.
func (s *State) Err() error {
	if s.Failure == nil {
		return nil
	}
	return s.Failure
}

// fail moves the state to its terminal error status.
func (s *State) fail(err error) error {
	s.Status = StatusError
	s.Failure = &RunError{Message: err.Error()}
	s.Pending = nil
	return err
}
