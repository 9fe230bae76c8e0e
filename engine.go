package loom

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/everydev1618/goloom/ast"
	"github.com/everydev1618/goloom/llm"
)

// ErrNotRunning is returned when stepping a state that is suspended or
// terminal.
var ErrNotRunning = errors.New("state is not running")

// ParseFunc parses source text into a program. The engine needs it for
// module loading and for splicing vibe-generated code; the front end
// provides it.
type ParseFunc func(src string) (*ast.Program, error)

// HostResolver evaluates a host-language module on first access and
// returns its exports.
type HostResolver func(path string) (map[string]Value, error)

// Engine advances run states. It holds configuration and injected
// collaborators only; all run state lives in State, so one Engine can
// serve any number of (non-concurrent) runs without cross-contamination.
type Engine struct {
	cfg          Config
	parse        ParseFunc
	hostResolver HostResolver
	modulePath   []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithParser sets the source parser used for module loading and vibe
// splices.
func WithParser(parse ParseFunc) Option {
	return func(e *Engine) {
		e.parse = parse
	}
}

// WithHostResolver sets the host-module evaluator.
func WithHostResolver(resolve HostResolver) Option {
	return func(e *Engine) {
		e.hostResolver = resolve
	}
}

// WithModulePath adds root directories searched when resolving imports.
func WithModulePath(roots ...string) Option {
	return func(e *Engine) {
		e.modulePath = append(e.modulePath, roots...)
	}
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// NewRun builds the initial state for a program: imports are resolved
// (cycles rejected) and top-level functions hoisted before any statement
// executes.
func (e *Engine) NewRun(program *ast.Program) (*State, error) {
	st := &State{
		ID:          uuid.NewString(),
		Status:      StatusRunning,
		Frames:      []*Frame{newFrame("main", 0)},
		Functions:   make(map[string]*Function),
		Modules:     make(map[string]*ModuleEntry),
		HostImports: make(map[string]HostImport),
	}

	loader := newLoader(e, st)
	for i := range program.Stmts {
		stmt := &program.Stmts[i]
		switch stmt.Kind {
		case ast.StmtImport:
			if err := loader.load(stmt, program.Path); err != nil {
				return nil, err
			}
		case ast.StmtFunc:
			if _, exists := st.Functions[stmt.Name]; exists {
				return nil, &RuntimeError{Name: stmt.Name, Frame: "main", Err: ErrDuplicateDeclaration}
			}
			st.Functions[stmt.Name] = &Function{Name: stmt.Name, Params: stmt.Params, Body: stmt.Body}
		}
	}

	// Program statements execute in order; imports and hoisted function
	// declarations are already handled.
	for i := len(program.Stmts) - 1; i >= 0; i-- {
		stmt := program.Stmts[i]
		if stmt.Kind == ast.StmtImport || stmt.Kind == ast.StmtFunc {
			continue
		}
		st.pushInstr(Instruction{Op: opStmt, Stmt: &stmt})
	}

	slog.Debug("run created", "run_id", st.ID, "statements", len(program.Stmts))
	return st, nil
}

// Step executes exactly one atomic instruction. It performs no I/O: AI,
// user-input, tool, and host-eval instructions suspend the state instead
// of blocking. A returned error is fatal and moves the state to
// StatusError.
func (e *Engine) Step(st *State) error {
	if st.Status != StatusRunning {
		return fmt.Errorf("%w: status %s", ErrNotRunning, st.Status)
	}

	if len(st.Instrs) == 0 {
		st.Status = StatusCompleted
		slog.Debug("run completed", "run_id", st.ID, "result", st.LastResult.Display())
		return nil
	}

	in := st.popInstr()
	if err := e.exec(st, in); err != nil {
		return st.fail(err)
	}
	return nil
}

// RunUntilPause loops Step until the status leaves StatusRunning. It is
// the only "run for a while" primitive and performs no I/O itself.
func (e *Engine) RunUntilPause(st *State) error {
	for st.Status == StatusRunning {
		if err := e.Step(st); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) exec(st *State, in Instruction) error {
	switch in.Op {
	case opStmt:
		return e.decomposeStmt(st, in.Stmt)
	case opEval:
		return e.evalExpr(st, in.Expr, in.Target)
	case opPush:
		if in.Val != nil {
			st.pushValue(*in.Val)
		} else {
			st.pushValue(NullValue())
		}
		return nil
	case opDeclare:
		return e.execDeclare(st, in)
	case opAssign:
		return e.execAssign(st, in)
	case opBinary:
		return e.execBinary(st, in.OpStr)
	case opUnary:
		return e.execUnary(st, in.OpStr)
	case opArray:
		elems := make([]Value, in.Count)
		for i := in.Count - 1; i >= 0; i-- {
			elems[i] = st.popValue()
		}
		st.pushValue(ArrayValue(elems...))
		return nil
	case opResult:
		st.LastResult = st.popValue()
		return nil
	case opBranch:
		return e.execBranch(st, in.Stmt)
	case opLoopMark:
		// Reached only when the loop finished normally.
		return nil
	case opWhileTest:
		st.pushInstr(Instruction{Op: opWhileCheck, Stmt: in.Stmt, Index: in.Index})
		st.pushInstr(Instruction{Op: opEval, Expr: in.Stmt.Cond})
		return nil
	case opWhileCheck:
		return e.execWhileCheck(st, in)
	case opForBind:
		return e.execForBind(st, in.Stmt)
	case opForStep:
		return e.execForStep(st, in)
	case opEnterBlock:
		st.currentFrame().enterBlock(in.Mode, len(st.Values), in.Merge)
		return nil
	case opExitBlock:
		return e.execExitBlock(st)
	case opInvoke:
		args := make([]Value, in.Count)
		for i := in.Count - 1; i >= 0; i-- {
			args[i] = st.popValue()
		}
		return e.invoke(st, in.Name, args)
	case opInvokeResolved:
		return e.invoke(st, in.Name, in.Args)
	case opFrameExit:
		e.popFrame(st, NullValue())
		return nil
	case opAIRequest:
		return e.execAIRequest(st, in.AI)
	case opHostEval:
		return e.execHostEval(st, in)
	case opUnwind:
		return e.execUnwind(st, in)
	default:
		return fmt.Errorf("unknown instruction %q", in.Op)
	}
}

// decomposeStmt turns one statement into instructions, depth-first and
// lazily: nested statements stay as opStmt until reached.
func (e *Engine) decomposeStmt(st *State, stmt *ast.Stmt) error {
	switch stmt.Kind {
	case ast.StmtLet:
		st.pushInstr(Instruction{Op: opDeclare, Name: stmt.Name, Type: stmt.Type, Const: stmt.Const})
		if stmt.Value == nil {
			st.pushInstr(Instruction{Op: opPush})
		} else {
			st.pushInstr(Instruction{Op: opEval, Expr: stmt.Value, Target: stmt.Type})
		}
		return nil

	case ast.StmtAssign:
		st.pushInstr(Instruction{Op: opAssign, Name: stmt.Name})
		st.pushInstr(Instruction{Op: opEval, Expr: stmt.Value, Target: e.declaredType(st, stmt.Name)})
		return nil

	case ast.StmtExpr:
		st.pushInstr(Instruction{Op: opResult})
		st.pushInstr(Instruction{Op: opEval, Expr: stmt.Value})
		return nil

	case ast.StmtIf:
		st.pushInstr(Instruction{Op: opBranch, Stmt: stmt})
		st.pushInstr(Instruction{Op: opEval, Expr: stmt.Cond})
		return nil

	case ast.StmtWhile:
		st.pushInstr(Instruction{Op: opLoopMark, Stmt: stmt})
		st.pushInstr(Instruction{Op: opWhileTest, Stmt: stmt})
		return nil

	case ast.StmtForIn:
		st.pushInstr(Instruction{Op: opLoopMark, Stmt: stmt})
		st.pushInstr(Instruction{Op: opForBind, Stmt: stmt})
		st.pushInstr(Instruction{Op: opEval, Expr: stmt.Seq})
		return nil

	case ast.StmtBreak:
		st.pushInstr(Instruction{Op: opUnwind, Unwind: UnwindBreak})
		return nil

	case ast.StmtContinue:
		st.pushInstr(Instruction{Op: opUnwind, Unwind: UnwindContinue})
		return nil

	case ast.StmtReturn:
		st.pushInstr(Instruction{Op: opUnwind, Unwind: UnwindReturn})
		if stmt.Value == nil {
			st.pushInstr(Instruction{Op: opPush})
		} else {
			st.pushInstr(Instruction{Op: opEval, Expr: stmt.Value})
		}
		return nil

	case ast.StmtFunc:
		// Function declarations inside a body register when reached.
		if _, exists := st.Functions[stmt.Name]; exists {
			return &RuntimeError{Name: stmt.Name, Frame: st.currentFrame().Name, Err: ErrDuplicateDeclaration}
		}
		st.Functions[stmt.Name] = &Function{Name: stmt.Name, Params: stmt.Params, Body: stmt.Body}
		return nil

	case ast.StmtImport:
		// Resolved before execution; nothing to do at runtime.
		return nil

	case ast.StmtModel:
		st.pushInstr(Instruction{Op: opDeclare, Name: stmt.Name, Type: ast.TypeModel})
		ref := ModelRef(stmt.Name, stmt.Config)
		st.pushInstr(Instruction{Op: opPush, Val: &ref})
		return nil

	case ast.StmtBlock:
		e.pushBlock(st, stmt.Body, false, false)
		return nil

	default:
		return fmt.Errorf("unknown statement kind %q", stmt.Kind)
	}
}

// pushBlock schedules enter, body, exit for a block. loopBody marks the
// iteration block of a loop: the boundary continue unwinds to. merge
// marks iterations after the first; see BlockMark.MergeSummary.
func (e *Engine) pushBlock(st *State, block *ast.Block, loopBody, merge bool) {
	st.pushInstr(Instruction{Op: opExitBlock, LoopBody: loopBody})
	for i := len(block.Stmts) - 1; i >= 0; i-- {
		st.pushInstr(Instruction{Op: opStmt, Stmt: &block.Stmts[i]})
	}
	st.pushInstr(Instruction{Op: opEnterBlock, Mode: block.Mode, LoopBody: loopBody, Merge: merge})
}

func (e *Engine) evalExpr(st *State, expr *ast.Expr, target ast.TypeAnnotation) error {
	switch expr.Kind {
	case ast.ExprText:
		st.pushValue(TextValue(expr.Text))
	case ast.ExprNumber:
		st.pushValue(NumberValue(expr.Number))
	case ast.ExprBool:
		st.pushValue(BoolValue(expr.Bool))
	case ast.ExprNull:
		st.pushValue(NullValue())
	case ast.ExprJSON:
		st.pushValue(JSONValue(expr.Raw))
	case ast.ExprArray:
		st.pushInstr(Instruction{Op: opArray, Count: len(expr.Elems)})
		for i := len(expr.Elems) - 1; i >= 0; i-- {
			st.pushInstr(Instruction{Op: opEval, Expr: &expr.Elems[i]})
		}
	case ast.ExprIdent:
		v, err := e.getVariable(st, expr.Name)
		if err != nil {
			return err
		}
		st.pushValue(v)
	case ast.ExprBinary:
		st.pushInstr(Instruction{Op: opBinary, OpStr: expr.Op})
		st.pushInstr(Instruction{Op: opEval, Expr: expr.Y})
		st.pushInstr(Instruction{Op: opEval, Expr: expr.X})
	case ast.ExprUnary:
		st.pushInstr(Instruction{Op: opUnary, OpStr: expr.Op})
		st.pushInstr(Instruction{Op: opEval, Expr: expr.X})
	case ast.ExprCall:
		st.pushInstr(Instruction{Op: opInvoke, Name: expr.Name, Count: len(expr.Args)})
		for i := len(expr.Args) - 1; i >= 0; i-- {
			st.pushInstr(Instruction{Op: opEval, Expr: &expr.Args[i]})
		}
	case ast.ExprDo:
		st.pushInstr(Instruction{Op: opAIRequest, AI: &AICall{
			Op: llm.OpDo, Model: expr.Model, Tools: expr.Tools, Target: target, Scope: expr.Scope,
		}})
		st.pushInstr(Instruction{Op: opEval, Expr: expr.Prompt})
	case ast.ExprVibe:
		st.pushInstr(Instruction{Op: opAIRequest, AI: &AICall{
			Op: llm.OpVibe, Model: expr.Model, Target: target, Scope: expr.Scope,
		}})
		st.pushInstr(Instruction{Op: opEval, Expr: expr.Prompt})
	case ast.ExprAsk:
		st.pushInstr(Instruction{Op: opAIRequest, AI: &AICall{Op: llm.OpAsk, Target: target}})
		st.pushInstr(Instruction{Op: opEval, Expr: expr.Prompt})
	case ast.ExprHostEval:
		st.pushInstr(Instruction{Op: opHostEval, Params: expr.Params, Code: expr.Code, Count: len(expr.Args)})
		for i := len(expr.Args) - 1; i >= 0; i-- {
			st.pushInstr(Instruction{Op: opEval, Expr: &expr.Args[i]})
		}
	default:
		return fmt.Errorf("unknown expression kind %q", expr.Kind)
	}
	return nil
}

func (e *Engine) execDeclare(st *State, in Instruction) error {
	v := st.popValue()
	coerced, err := Coerce(v, in.Type)
	if err != nil {
		return err
	}
	return st.currentFrame().declare(in.Name, coerced, in.Type, in.Const)
}

// execAssign rebinds in whichever live frame holds the variable,
// innermost first.
func (e *Engine) execAssign(st *State, in Instruction) error {
	v := st.popValue()
	for i := len(st.Frames) - 1; i >= 0; i-- {
		if _, ok := st.Frames[i].Locals[in.Name]; ok {
			return st.Frames[i].assign(in.Name, v)
		}
	}
	return &RuntimeError{Name: in.Name, Frame: st.currentFrame().Name, Err: ErrUndefinedVariable}
}

func (e *Engine) execBranch(st *State, stmt *ast.Stmt) error {
	cond := st.popValue()
	if cond.Truthy() {
		e.pushBlock(st, stmt.Then, false, false)
	} else if stmt.Else != nil {
		e.pushBlock(st, stmt.Else, false, false)
	}
	return nil
}

func (e *Engine) execWhileCheck(st *State, in Instruction) error {
	cond := st.popValue()
	if !cond.Truthy() {
		// Fall through to the loop mark below.
		return nil
	}
	st.pushInstr(Instruction{Op: opWhileTest, Stmt: in.Stmt, Index: in.Index + 1})
	e.pushBlock(st, in.Stmt.Body, true, in.Index > 0)
	return nil
}

func (e *Engine) execForBind(st *State, stmt *ast.Stmt) error {
	seq := st.popValue()
	if seq.Kind != KindArray {
		return fmt.Errorf("for-in requires an array, got %s", seq.Kind)
	}
	st.pushInstr(Instruction{Op: opForStep, Stmt: stmt, Seq: seq.Array, Index: 0})
	return nil
}

func (e *Engine) execForStep(st *State, in Instruction) error {
	if in.Index >= len(in.Seq) {
		return nil
	}
	st.pushInstr(Instruction{Op: opForStep, Stmt: in.Stmt, Seq: in.Seq, Index: in.Index + 1})

	// One iteration: a loop-body block declaring the loop variable.
	st.pushInstr(Instruction{Op: opExitBlock, LoopBody: true})
	body := in.Stmt.Body
	for i := len(body.Stmts) - 1; i >= 0; i-- {
		st.pushInstr(Instruction{Op: opStmt, Stmt: &body.Stmts[i]})
	}
	st.pushInstr(Instruction{Op: opDeclare, Name: in.Stmt.Name})
	elem := in.Seq[in.Index]
	st.pushInstr(Instruction{Op: opPush, Val: &elem})
	st.pushInstr(Instruction{Op: opEnterBlock, Mode: body.Mode, LoopBody: true, Merge: in.Index > 0})
	return nil
}

// execExitBlock pops the block mark and applies its context mode.
// Compress suspends the run for a summarization round; everything else
// completes synchronously.
func (e *Engine) execExitBlock(st *State) error {
	frame := st.currentFrame()
	mark, err := frame.exitBlock()
	if err != nil {
		return err
	}
	if len(st.Values) > mark.ValuesLen {
		st.Values = st.Values[:mark.ValuesLen]
	}

	switch mark.Mode {
	case ast.ModeForget:
		frame.Entries = frame.Entries[:mark.EntriesLen]
	case ast.ModeCompress:
		if len(frame.Entries) == mark.EntriesLen {
			return nil
		}
		return e.requestCompress(st, mark)
	}
	return nil
}

// requestCompress suspends with a single-round summarization request for
// the entries the exiting block accumulated. A loop iteration after the
// first folds the previous iteration's summary into its region, so a
// compress-tagged loop leaves exactly one summary behind.
func (e *Engine) requestCompress(st *State, mark BlockMark) error {
	frame := st.currentFrame()
	start := mark.EntriesLen
	if mark.MergeSummary && start > 0 && frame.Entries[start-1].Kind == EntrySummary {
		start--
	}
	rendered := compressPrompt(frame.Entries[start:])

	st.Pending = &PendingRequest{
		Kind: RequestAI,
		AI: &PendingAI{
			ID:         uuid.NewString(),
			Op:         llm.OpCompress,
			Prompt:     rendered,
			Model:      e.resolveModel(st, ""),
			TargetType: ast.TypeText,
			MaxRounds:  1,
			Compress: &CompressSpec{
				FrameIndex:   len(st.Frames) - 1,
				EntriesStart: start,
			},
		},
	}
	st.Status = StatusAwaitingAI
	slog.Debug("compress requested", "run_id", st.ID, "frame", frame.Name, "entries", len(frame.Entries)-start)
	return nil
}

func (e *Engine) invoke(st *State, name string, args []Value) error {
	fn, ok := st.Functions[name]
	if !ok {
		return &RuntimeError{Name: name, Frame: st.currentFrame().Name, Err: ErrUndefinedVariable}
	}
	if len(args) != len(fn.Params) {
		return fmt.Errorf("function %s expects %d arguments, got %d", name, len(fn.Params), len(args))
	}

	frame := newFrame(name, len(st.Values))
	st.Frames = append(st.Frames, frame)
	for i, param := range fn.Params {
		if err := frame.declare(param, args[i], ast.TypeNone, false); err != nil {
			return err
		}
	}

	st.pushInstr(Instruction{Op: opFrameExit})
	for i := len(fn.Body.Stmts) - 1; i >= 0; i-- {
		st.pushInstr(Instruction{Op: opStmt, Stmt: &fn.Body.Stmts[i]})
	}
	return nil
}

// popFrame unwinds the innermost frame and pushes the call's result.
func (e *Engine) popFrame(st *State, result Value) {
	frame := st.currentFrame()
	st.Frames = st.Frames[:len(st.Frames)-1]
	if len(st.Values) > frame.SavedValues {
		st.Values = st.Values[:frame.SavedValues]
	}
	st.pushValue(result)
}

// execAIRequest pops the prompt and suspends. No network I/O happens
// here: the driver owns all blocking.
func (e *Engine) execAIRequest(st *State, call *AICall) error {
	promptVal := st.popValue()
	prompt := promptVal.Display()

	frame := st.currentFrame()
	frame.recordPrompt(prompt)

	contextText := ""
	if call.Scope == ast.ScopeLocal {
		contextText = BuildLocalContext(st)
	} else {
		contextText = BuildGlobalContext(st)
	}

	maxRounds := 1
	switch {
	case call.Op == llm.OpVibe:
		maxRounds = e.cfg.MaxToolRounds
	case call.Op == llm.OpDo && len(call.Tools) > 0:
		maxRounds = e.cfg.MaxToolRounds
	}

	pending := &PendingAI{
		ID:         uuid.NewString(),
		Op:         call.Op,
		Prompt:     prompt,
		Context:    contextText,
		Model:      e.resolveModel(st, call.Model),
		TargetType: call.Target,
		Tools:      call.Tools,
		MaxRounds:  maxRounds,
	}

	if call.Op == llm.OpAsk {
		st.Pending = &PendingRequest{Kind: RequestUser, AI: pending}
		st.Status = StatusAwaitingUser
	} else {
		st.Pending = &PendingRequest{Kind: RequestAI, AI: pending}
		st.Status = StatusAwaitingAI
	}

	slog.Debug("run suspended",
		"run_id", st.ID,
		"op", call.Op,
		"status", st.Status,
		"model", pending.Model.Name,
		"tools", len(call.Tools),
	)
	return nil
}

func (e *Engine) execHostEval(st *State, in Instruction) error {
	args := make([]Value, in.Count)
	for i := in.Count - 1; i >= 0; i-- {
		args[i] = st.popValue()
	}
	st.Pending = &PendingRequest{
		Kind: RequestHost,
		Host: &PendingHostEval{Params: in.Params, Code: in.Code, Args: args},
	}
	st.Status = StatusAwaitingHostEval
	slog.Debug("run suspended", "run_id", st.ID, "status", st.Status, "params", len(in.Params))
	return nil
}

// execUnwind pops instructions to the matching boundary. Block exits met
// on the way run their normal cleanup; a compress-mode exit may suspend,
// in which case the unwind re-queues itself underneath and continues
// after resume.
func (e *Engine) execUnwind(st *State, in Instruction) error {
	if in.Unwind == UnwindReturn && in.Val == nil {
		v := st.popValue()
		in.Val = &v
	}

	for {
		if len(st.Instrs) == 0 {
			switch in.Unwind {
			case UnwindReturn:
				// Top-level return ends the program.
				if in.Val != nil {
					st.LastResult = *in.Val
				}
				st.Values = st.Values[:0]
				return nil
			default:
				return fmt.Errorf("%s outside loop", in.Unwind)
			}
		}

		top := st.Instrs[len(st.Instrs)-1]
		switch top.Op {
		case opExitBlock:
			st.popInstr()
			if in.Unwind == UnwindContinue && top.LoopBody {
				// The loop's next test or step sits right below;
				// run the cleanup and fall through to it.
				st.pushInstr(top)
				return nil
			}
			st.pushInstr(in)
			st.pushInstr(top)
			return nil

		case opLoopMark:
			switch in.Unwind {
			case UnwindBreak:
				st.popInstr()
				return nil
			case UnwindReturn:
				st.popInstr()
			default:
				return fmt.Errorf("continue crossed a loop boundary")
			}

		case opFrameExit:
			if in.Unwind != UnwindReturn {
				return fmt.Errorf("%s outside loop", in.Unwind)
			}
			st.popInstr()
			result := NullValue()
			if in.Val != nil {
				result = *in.Val
			}
			e.popFrame(st, result)
			return nil

		default:
			st.popInstr()
		}
	}
}

func (e *Engine) execBinary(st *State, op string) error {
	y := st.popValue()
	x := st.popValue()

	switch op {
	case "+":
		switch {
		case x.Kind == KindNumber && y.Kind == KindNumber:
			st.pushValue(NumberValue(x.Number + y.Number))
			return nil
		case x.Kind == KindText || y.Kind == KindText:
			st.pushValue(TextValue(x.Display() + y.Display()))
			return nil
		case x.Kind == KindArray && y.Kind == KindArray:
			st.pushValue(ArrayValue(append(append([]Value{}, x.Array...), y.Array...)...))
			return nil
		}
	case "-", "*", "/", "%":
		if x.Kind == KindNumber && y.Kind == KindNumber {
			switch op {
			case "-":
				st.pushValue(NumberValue(x.Number - y.Number))
			case "*":
				st.pushValue(NumberValue(x.Number * y.Number))
			case "/":
				if y.Number == 0 {
					return fmt.Errorf("division by zero")
				}
				st.pushValue(NumberValue(x.Number / y.Number))
			case "%":
				if y.Number == 0 {
					return fmt.Errorf("division by zero")
				}
				st.pushValue(NumberValue(float64(int64(x.Number) % int64(y.Number))))
			}
			return nil
		}
	case "==":
		st.pushValue(BoolValue(x.Equal(y)))
		return nil
	case "!=":
		st.pushValue(BoolValue(!x.Equal(y)))
		return nil
	case "<", "<=", ">", ">=":
		if cmp, ok := compare(x, y); ok {
			var result bool
			switch op {
			case "<":
				result = cmp < 0
			case "<=":
				result = cmp <= 0
			case ">":
				result = cmp > 0
			case ">=":
				result = cmp >= 0
			}
			st.pushValue(BoolValue(result))
			return nil
		}
	case "&&":
		st.pushValue(BoolValue(x.Truthy() && y.Truthy()))
		return nil
	case "||":
		st.pushValue(BoolValue(x.Truthy() || y.Truthy()))
		return nil
	default:
		return fmt.Errorf("unknown operator %q", op)
	}

	return fmt.Errorf("operator %q: unsupported operand kinds %s and %s", op, x.Kind, y.Kind)
}

func compare(x, y Value) (int, bool) {
	switch {
	case x.Kind == KindNumber && y.Kind == KindNumber:
		switch {
		case x.Number < y.Number:
			return -1, true
		case x.Number > y.Number:
			return 1, true
		default:
			return 0, true
		}
	case x.Kind == KindText && y.Kind == KindText:
		return strings.Compare(x.Text, y.Text), true
	default:
		return 0, false
	}
}

func (e *Engine) execUnary(st *State, op string) error {
	x := st.popValue()
	switch op {
	case "-":
		if x.Kind != KindNumber {
			return fmt.Errorf("operator -: unsupported operand kind %s", x.Kind)
		}
		st.pushValue(NumberValue(-x.Number))
		return nil
	case "!":
		st.pushValue(BoolValue(!x.Truthy()))
		return nil
	default:
		return fmt.Errorf("unknown operator %q", op)
	}
}

// getVariable resolves a name: call-stack frames innermost to outermost,
// then the top-level function table, then deferred host-module imports.
func (e *Engine) getVariable(st *State, name string) (Value, error) {
	for i := len(st.Frames) - 1; i >= 0; i-- {
		if variable, ok := st.Frames[i].Locals[name]; ok {
			return variable.Value, nil
		}
	}
	if _, ok := st.Functions[name]; ok {
		return FuncRef(name), nil
	}
	if hi, ok := st.HostImports[name]; ok {
		return e.resolveHostImport(st, hi)
	}
	return Value{}, &RuntimeError{Name: name, Frame: st.currentFrame().Name, Err: ErrUndefinedVariable}
}

// resolveHostImport evaluates a host module on first access and reads the
// requested export from its cached export set afterwards.
func (e *Engine) resolveHostImport(st *State, hi HostImport) (Value, error) {
	entry, ok := st.Modules[hi.Path]
	if !ok {
		return Value{}, fmt.Errorf("host module %s not in module table", hi.Path)
	}
	if !entry.Evaluated {
		if e.hostResolver == nil {
			return Value{}, fmt.Errorf("host module %s: no host resolver configured", hi.Path)
		}
		exports, err := e.hostResolver(hi.Path)
		if err != nil {
			return Value{}, fmt.Errorf("host module %s: %w", hi.Path, err)
		}
		entry.Exports = exports
		entry.Evaluated = true
		slog.Debug("host module evaluated", "path", hi.Path, "exports", len(exports))
	}
	v, ok := entry.Exports[hi.Export]
	if !ok {
		return Value{}, &ExportNotFoundError{Module: hi.Path, Name: hi.Export}
	}
	return v, nil
}

// declaredType reports the declared type of a visible variable, or none.
func (e *Engine) declaredType(st *State, name string) ast.TypeAnnotation {
	for i := len(st.Frames) - 1; i >= 0; i-- {
		if variable, ok := st.Frames[i].Locals[name]; ok {
			return variable.Type
		}
	}
	return ast.TypeNone
}

// resolveModel maps a model reference in source to a concrete config: a
// declared model variable wins, then the engine default.
func (e *Engine) resolveModel(st *State, name string) llm.ModelConfig {
	if name != "" {
		for i := len(st.Frames) - 1; i >= 0; i-- {
			variable, ok := st.Frames[i].Locals[name]
			if !ok || variable.Type != ast.TypeModel {
				continue
			}
			var cfg llm.ModelConfig
			if len(variable.Value.JSON) > 0 && json.Unmarshal(variable.Value.JSON, &cfg) == nil && cfg.Name != "" {
				return cfg
			}
		}
		if name != "default" {
			return llm.ModelConfig{Name: name}
		}
	}
	return llm.ModelConfig{Name: e.cfg.DefaultModel}
}
