package loom

import (
	"github.com/everydev1618/goloom/ast"
	"github.com/everydev1618/goloom/llm"
)

// Op identifies one atomic unit of interpreter work.
type Op string

const (
	// opStmt decomposes one statement into further instructions.
	opStmt Op = "stmt"

	// opEval decomposes or evaluates one expression.
	opEval Op = "eval"

	// opPush pushes a literal value onto the operand stack.
	opPush Op = "push"

	// opDeclare pops a value and declares a binding in the current frame.
	opDeclare Op = "declare"

	// opAssign pops a value and rebinds an existing variable.
	opAssign Op = "assign"

	// opBinary pops two operands and pushes the operator result.
	opBinary Op = "binary"

	// opUnary pops one operand and pushes the operator result.
	opUnary Op = "unary"

	// opArray pops Count elements and pushes an array.
	opArray Op = "array"

	// opResult pops a value into the state's last result.
	opResult Op = "result"

	// opBranch pops a condition and pushes the chosen if/else block.
	opBranch Op = "branch"

	// opLoopMark delimits a loop on the instruction stack. Executed
	// normally it is a no-op; break unwinds to it.
	opLoopMark Op = "loopmark"

	// opWhileTest schedules the loop condition evaluation.
	opWhileTest Op = "whiletest"

	// opWhileCheck pops the condition and schedules the body or falls
	// through to the loop mark.
	opWhileCheck Op = "whilecheck"

	// opForBind pops the evaluated sequence and starts iteration.
	opForBind Op = "forbind"

	// opForStep schedules one iteration, or falls through when done.
	opForStep Op = "forstep"

	// opEnterBlock pushes a block mark in the current frame.
	opEnterBlock Op = "enterblock"

	// opExitBlock pops the block mark, drops block locals, and applies
	// the block's context mode. Compress mode suspends here.
	opExitBlock Op = "exitblock"

	// opInvoke pops Count arguments and calls a declared function.
	opInvoke Op = "invoke"

	// opInvokeResolved calls a function with pre-resolved arguments.
	// Used when splicing vibe-generated functions.
	opInvokeResolved Op = "invokeresolved"

	// opFrameExit pops the current frame when a function body completes
	// without an explicit return.
	opFrameExit Op = "frameexit"

	// opAIRequest pops the prompt and suspends with a pending AI or
	// user-input request.
	opAIRequest Op = "airequest"

	// opHostEval pops Count arguments and suspends with a pending
	// host-code evaluation.
	opHostEval Op = "hosteval"

	// opUnwind pops instructions to the nearest loop or frame boundary.
	// Break, continue, and return are all this, never host panics: the
	// instruction stack is the unit of serializable truth.
	opUnwind Op = "unwind"
)

// UnwindKind selects the boundary an opUnwind stops at.
type UnwindKind string

const (
	UnwindBreak    UnwindKind = "break"
	UnwindContinue UnwindKind = "continue"
	UnwindReturn   UnwindKind = "return"
)

// AICall is the payload of an opAIRequest instruction: everything needed
// to build a pending request once the prompt value is available.
type AICall struct {
	Op     llm.Operation      `json:"op"`
	Model  string             `json:"model,omitempty"`
	Tools  []string           `json:"tools,omitempty"`
	Target ast.TypeAnnotation `json:"target,omitempty"`
	Scope  ast.ContextScope   `json:"scope,omitempty"`
}

// Instruction is one atomic unit of work on the instruction stack. Op
// selects which payload fields are meaningful. Payloads carry enough to
// resume mid-expression after a round trip through the serializer.
type Instruction struct {
	Op Op `json:"op"`

	Stmt   *ast.Stmt          `json:"stmt,omitempty"`
	Expr   *ast.Expr          `json:"expr,omitempty"`
	Name   string             `json:"name,omitempty"`
	Type   ast.TypeAnnotation `json:"type,omitempty"`
	Const  bool               `json:"const,omitempty"`
	OpStr  string             `json:"opstr,omitempty"`
	Count  int                `json:"count,omitempty"`
	Mode   ast.ContextMode    `json:"mode,omitempty"`
	Target ast.TypeAnnotation `json:"target,omitempty"`

	// LoopBody marks the enter/exit pair wrapping a loop iteration;
	// continue unwinds to the loop-body exit and no further.
	LoopBody bool `json:"loop_body,omitempty"`

	// Merge marks the enter-block of a loop iteration after the first;
	// see BlockMark.MergeSummary.
	Merge bool `json:"merge,omitempty"`

	Val    *Value     `json:"val,omitempty"`
	Seq    []Value    `json:"seq,omitempty"`
	Index  int        `json:"index,omitempty"`
	Args   []Value    `json:"args,omitempty"`
	AI     *AICall    `json:"ai,omitempty"`
	Params []string   `json:"params,omitempty"`
	Code   string     `json:"code,omitempty"`
	Unwind UnwindKind `json:"unwind,omitempty"`
}
