package loom

import (
	"context"
	"fmt"
	"testing"

	"github.com/everydev1618/goloom/ast"
	"github.com/everydev1618/goloom/llm"
	"github.com/everydev1618/goloom/tools"
)

// fakeProvider replays scripted responses and records the requests it saw.
type fakeProvider struct {
	responses []*llm.Response
	code      []string
	requests  []llm.Request
}

func (p *fakeProvider) Execute(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("fake provider: no scripted response")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *fakeProvider) GenerateCode(ctx context.Context, req llm.Request) (string, error) {
	p.requests = append(p.requests, req)
	if len(p.code) == 0 {
		return "", fmt.Errorf("fake provider: no scripted code")
	}
	code := p.code[0]
	p.code = p.code[1:]
	return code, nil
}

type countingStore struct {
	saves int
}

func (s *countingStore) SaveRun(ctx context.Context, st *State) error {
	if _, err := Serialize(st); err != nil {
		return err
	}
	s.saves++
	return nil
}

func TestDriverServicesToolConversation(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register("lookup", tools.Def{
		Description: "look a thing up",
		Params:      map[string]tools.ParamDef{"q": {Type: "string", Required: true}},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("result for %v", args["q"]), nil
		},
	})

	provider := &fakeProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "lookup", Args: map[string]any{"q": "sun"}}}},
		{Content: "the sun is hot"},
	}}
	snapshots := &countingStore{}

	e := NewEngine()
	st, err := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Let("fact", ast.TypeText, ast.Do(ast.Text("tell me about the sun"), "", "lookup")),
		ast.ExprStmt(ast.Ident("fact")),
	}})
	if err != nil {
		t.Fatalf("NewRun() error = %v", err)
	}

	d := NewDriver(e, provider, WithTools(reg), WithSnapshots(snapshots))
	if err := d.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", st.Status, StatusCompleted)
	}
	if st.LastResult.Text != "the sun is hot" {
		t.Errorf("LastResult = %s", st.LastResult.Display())
	}
	if snapshots.saves == 0 {
		t.Error("no snapshots taken")
	}

	// The second request carried the tool round and its result.
	if len(provider.requests) != 2 {
		t.Fatalf("provider requests = %d, want 2", len(provider.requests))
	}
	second := provider.requests[1]
	if len(second.History) != 1 {
		t.Fatalf("History = %d rounds, want 1", len(second.History))
	}
	if got := second.History[0].Results[0].Content; got != "result for sun" {
		t.Errorf("tool result = %q", got)
	}
	if len(provider.requests[0].Tools) != 1 || provider.requests[0].Tools[0].Name != "lookup" {
		t.Errorf("first request tools = %+v", provider.requests[0].Tools)
	}
}

func TestDriverAnswersAskViaInputFunc(t *testing.T) {
	e := NewEngine()
	st, _ := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Let("name", ast.TypeText, ast.Ask(ast.Text("Your name?"))),
		ast.ExprStmt(ast.Ident("name")),
	}})

	var asked string
	d := NewDriver(e, &fakeProvider{}, WithInput(func(ctx context.Context, prompt string) (string, error) {
		asked = prompt
		return "Grace", nil
	}))
	if err := d.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if asked != "Your name?" {
		t.Errorf("prompt = %q", asked)
	}
	if st.LastResult.Text != "Grace" {
		t.Errorf("LastResult = %s, want Grace", st.LastResult.Display())
	}
}

func TestDriverRegeneratesUnparseableVibe(t *testing.T) {
	double := ast.Func("double", []string{"n"}, ast.NewBlock(
		ast.Return(ast.Binary("*", ast.Ident("n"), ast.Number(2))),
	))
	e := NewEngine(WithParser(vibeParser(double)))
	st, _ := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Let("n", ast.TypeNone, ast.Number(10)),
		ast.ExprStmt(ast.Vibe(ast.Text("double it"), "")),
	}})

	provider := &fakeProvider{code: []string{"syntax error junk", "func double(n) { return n * 2 }"}}
	d := NewDriver(e, provider)
	if err := d.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st.LastResult.Number != 20 {
		t.Errorf("LastResult = %s, want 20", st.LastResult.Display())
	}
	if len(provider.requests) != 2 {
		t.Errorf("generation attempts = %d, want 2", len(provider.requests))
	}
}

func TestDriverServicesHostEval(t *testing.T) {
	e := NewEngine()
	st, _ := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Let("x", ast.TypeNone, ast.Number(6)),
		ast.ExprStmt(ast.HostEval([]string{"v"}, "v * 7", *ast.Ident("x"))),
	}})

	d := NewDriver(e, &fakeProvider{}, WithHostEval(
		func(ctx context.Context, params []string, code string, args []Value) (Value, error) {
			if code != "v * 7" || len(args) != 1 {
				t.Errorf("host eval got code %q args %v", code, args)
			}
			return NumberValue(args[0].Number * 7), nil
		}))
	if err := d.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.LastResult.Number != 42 {
		t.Errorf("LastResult = %s, want 42", st.LastResult.Display())
	}
}

func TestDriverFailsWithoutInputSource(t *testing.T) {
	e := NewEngine()
	st, _ := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Let("name", ast.TypeText, ast.Ask(ast.Text("Your name?"))),
	}})

	d := NewDriver(e, &fakeProvider{})
	if err := d.Run(context.Background(), st); err == nil {
		t.Fatal("expected error with no input source")
	}
	// The run is still resumable: nothing consumed the pending request.
	if st.Status != StatusAwaitingUser {
		t.Errorf("Status = %q, want %q", st.Status, StatusAwaitingUser)
	}
}
