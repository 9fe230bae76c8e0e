// Package ast defines the node vocabulary consumed by the Loom engine.
//
// The engine does not ship a lexer or parser; a front end produces these
// nodes, and generated code (vibe splices) is parsed by an injected
// ParseFunc. Nodes are plain tagged structs so that instruction payloads
// embedding AST fragments serialize with encoding/json without adapters:
// every node carries a Kind discriminator and only the fields that kind
// uses are populated, the same shape the engine's other wire types have.
package ast

import "encoding/json"

// TypeAnnotation is the declared type of a variable. The empty annotation
// means untyped: values bind without coercion.
type TypeAnnotation string

const (
	TypeNone    TypeAnnotation = ""
	TypeText    TypeAnnotation = "text"
	TypeNumber  TypeAnnotation = "number"
	TypeBoolean TypeAnnotation = "boolean"
	TypeJSON    TypeAnnotation = "json"
	TypeArray   TypeAnnotation = "array"
	TypeModel   TypeAnnotation = "model"
	TypePrompt  TypeAnnotation = "prompt"
)

// ContextMode controls how a loop body's context entries are treated when
// the body block exits. See the engine's context assembler.
type ContextMode string

const (
	// ModeVerbose keeps every per-iteration entry visible. The default.
	ModeVerbose ContextMode = "verbose"

	// ModeForget discards the block's entries entirely at block exit.
	ModeForget ContextMode = "forget"

	// ModeCompress replaces the block's entries with one AI-written
	// summary at block exit, at the cost of an extra model round trip.
	ModeCompress ContextMode = "compress"
)

// ContextScope selects which frames an AI operation projects into its
// prompt context.
type ContextScope string

const (
	ScopeGlobal ContextScope = "global"
	ScopeLocal  ContextScope = "local"
)

// StmtKind discriminates statement nodes.
type StmtKind string

const (
	StmtLet      StmtKind = "let"
	StmtAssign   StmtKind = "assign"
	StmtExpr     StmtKind = "expr"
	StmtIf       StmtKind = "if"
	StmtWhile    StmtKind = "while"
	StmtForIn    StmtKind = "forin"
	StmtBreak    StmtKind = "break"
	StmtContinue StmtKind = "continue"
	StmtReturn   StmtKind = "return"
	StmtFunc     StmtKind = "func"
	StmtImport   StmtKind = "import"
	StmtModel    StmtKind = "model"
	StmtBlock    StmtKind = "block"
)

// ExprKind discriminates expression nodes.
type ExprKind string

const (
	ExprText     ExprKind = "text"
	ExprNumber   ExprKind = "number"
	ExprBool     ExprKind = "bool"
	ExprNull     ExprKind = "null"
	ExprJSON     ExprKind = "json"
	ExprArray    ExprKind = "array"
	ExprIdent    ExprKind = "ident"
	ExprBinary   ExprKind = "binary"
	ExprUnary    ExprKind = "unary"
	ExprCall     ExprKind = "call"
	ExprDo       ExprKind = "do"
	ExprVibe     ExprKind = "vibe"
	ExprAsk      ExprKind = "ask"
	ExprHostEval ExprKind = "hosteval"
)

// Program is a parsed source file: the root of execution and the unit of
// module loading.
type Program struct {
	Path  string `json:"path,omitempty"`
	Stmts []Stmt `json:"stmts"`
}

// Block is a brace-delimited statement list. Loop bodies reuse Block with
// the owning loop's context mode.
type Block struct {
	Stmts []Stmt      `json:"stmts"`
	Mode  ContextMode `json:"mode,omitempty"`
}

// ImportName binds one export of a module into the importing scope,
// optionally under an alias.
type ImportName struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// ImportKind distinguishes same-language modules from host-language ones.
type ImportKind string

const (
	ImportSource ImportKind = "source"
	ImportHost   ImportKind = "host"
)

// Stmt is one statement. Kind selects which fields are meaningful:
//
//	let:      Name, Type, Const, Value (nil declares null)
//	assign:   Name, Value
//	expr:     Value
//	if:       Cond, Then, Else (Else may be nil)
//	while:    Cond, Body (Body.Mode is the loop's context mode)
//	forin:    Name, Seq, Body
//	return:   Value (nil returns null)
//	func:     Name, Params, Body
//	import:   Path, ImportKind, Names
//	model:    Name, Config
//	block:    Body
type Stmt struct {
	Kind StmtKind `json:"kind"`

	Name   string          `json:"name,omitempty"`
	Type   TypeAnnotation  `json:"type,omitempty"`
	Const  bool            `json:"const,omitempty"`
	Value  *Expr           `json:"value,omitempty"`
	Cond   *Expr           `json:"cond,omitempty"`
	Seq    *Expr           `json:"seq,omitempty"`
	Then   *Block          `json:"then,omitempty"`
	Else   *Block          `json:"else,omitempty"`
	Body   *Block          `json:"body,omitempty"`
	Params []string        `json:"params,omitempty"`
	Path   string          `json:"path,omitempty"`
	Import ImportKind      `json:"import,omitempty"`
	Names  []ImportName    `json:"names,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Expr is one expression. Kind selects which fields are meaningful:
//
//	text:     Text
//	number:   Number
//	bool:     Bool
//	json:     Raw
//	array:    Elems
//	ident:    Name
//	binary:   Op, X, Y
//	unary:    Op, X
//	call:     Name, Args
//	do:       Prompt, Model, Tools, Scope
//	vibe:     Prompt, Model
//	ask:      Prompt
//	hosteval: Params, Code, Args
type Expr struct {
	Kind ExprKind `json:"kind"`

	Text   string          `json:"text,omitempty"`
	Number float64         `json:"number,omitempty"`
	Bool   bool            `json:"bool,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
	Elems  []Expr          `json:"elems,omitempty"`
	Name   string          `json:"name,omitempty"`
	Op     string          `json:"op,omitempty"`
	X      *Expr           `json:"x,omitempty"`
	Y      *Expr           `json:"y,omitempty"`
	Args   []Expr          `json:"args,omitempty"`
	Prompt *Expr           `json:"prompt,omitempty"`
	Model  string          `json:"model,omitempty"`
	Tools  []string        `json:"tools,omitempty"`
	Scope  ContextScope    `json:"scope,omitempty"`
	Params []string        `json:"params,omitempty"`
	Code   string          `json:"code,omitempty"`
}
