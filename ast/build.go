package ast

import "encoding/json"

// Constructor helpers for front ends and tests. Each returns a node with
// only the fields its kind uses.

func Text(s string) *Expr      { return &Expr{Kind: ExprText, Text: s} }
func Number(n float64) *Expr   { return &Expr{Kind: ExprNumber, Number: n} }
func Bool(b bool) *Expr        { return &Expr{Kind: ExprBool, Bool: b} }
func Null() *Expr              { return &Expr{Kind: ExprNull} }
func Ident(name string) *Expr  { return &Expr{Kind: ExprIdent, Name: name} }
func JSON(raw string) *Expr    { return &Expr{Kind: ExprJSON, Raw: json.RawMessage(raw)} }
func Array(elems ...Expr) *Expr {
	return &Expr{Kind: ExprArray, Elems: elems}
}

func Binary(op string, x, y *Expr) *Expr {
	return &Expr{Kind: ExprBinary, Op: op, X: x, Y: y}
}

func Unary(op string, x *Expr) *Expr {
	return &Expr{Kind: ExprUnary, Op: op, X: x}
}

func Call(name string, args ...Expr) *Expr {
	return &Expr{Kind: ExprCall, Name: name, Args: args}
}

// Do builds an AI call expression. Scope defaults to global when empty.
func Do(prompt *Expr, model string, tools ...string) *Expr {
	return &Expr{Kind: ExprDo, Prompt: prompt, Model: model, Tools: tools}
}

func Vibe(prompt *Expr, model string) *Expr {
	return &Expr{Kind: ExprVibe, Prompt: prompt, Model: model}
}

func Ask(prompt *Expr) *Expr {
	return &Expr{Kind: ExprAsk, Prompt: prompt}
}

func HostEval(params []string, code string, args ...Expr) *Expr {
	return &Expr{Kind: ExprHostEval, Params: params, Code: code, Args: args}
}

func Let(name string, typ TypeAnnotation, value *Expr) Stmt {
	return Stmt{Kind: StmtLet, Name: name, Type: typ, Value: value}
}

func Const(name string, typ TypeAnnotation, value *Expr) Stmt {
	return Stmt{Kind: StmtLet, Name: name, Type: typ, Const: true, Value: value}
}

func Assign(name string, value *Expr) Stmt {
	return Stmt{Kind: StmtAssign, Name: name, Value: value}
}

func ExprStmt(value *Expr) Stmt {
	return Stmt{Kind: StmtExpr, Value: value}
}

func If(cond *Expr, then *Block, els *Block) Stmt {
	return Stmt{Kind: StmtIf, Cond: cond, Then: then, Else: els}
}

func While(cond *Expr, body *Block) Stmt {
	return Stmt{Kind: StmtWhile, Cond: cond, Body: body}
}

func ForIn(name string, seq *Expr, body *Block) Stmt {
	return Stmt{Kind: StmtForIn, Name: name, Seq: seq, Body: body}
}

func Break() Stmt    { return Stmt{Kind: StmtBreak} }
func Continue() Stmt { return Stmt{Kind: StmtContinue} }

func Return(value *Expr) Stmt {
	return Stmt{Kind: StmtReturn, Value: value}
}

func Func(name string, params []string, body *Block) Stmt {
	return Stmt{Kind: StmtFunc, Name: name, Params: params, Body: body}
}

func Import(path string, kind ImportKind, names ...ImportName) Stmt {
	return Stmt{Kind: StmtImport, Path: path, Import: kind, Names: names}
}

func Model(name string, config string) Stmt {
	return Stmt{Kind: StmtModel, Name: name, Config: json.RawMessage(config)}
}

func BlockStmt(body *Block) Stmt {
	return Stmt{Kind: StmtBlock, Body: body}
}

// NewBlock builds a block with the default (verbose) context mode.
func NewBlock(stmts ...Stmt) *Block {
	return &Block{Stmts: stmts}
}

// ModedBlock builds a block with an explicit context mode.
func ModedBlock(mode ContextMode, stmts ...Stmt) *Block {
	return &Block{Stmts: stmts, Mode: mode}
}
