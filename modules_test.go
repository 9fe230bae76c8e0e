package loom

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/everydev1618/goloom/ast"
)

// jsonParser decodes program documents, the same exchange format the CLI
// uses for modules.
func jsonParser(src string) (*ast.Program, error) {
	program := &ast.Program{}
	if err := json.Unmarshal([]byte(src), program); err != nil {
		return nil, err
	}
	return program, nil
}

func writeModule(t *testing.T, dir, name string, stmts ...ast.Stmt) string {
	t.Helper()
	data, err := json.Marshal(&ast.Program{Stmts: stmts})
	if err != nil {
		t.Fatalf("marshal module: %v", err)
	}
	path := filepath.Join(dir, name+sourceExt)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write module: %v", err)
	}
	return path
}

func moduleEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	return NewEngine(WithParser(jsonParser), WithModulePath(dir))
}

func TestImportValueAndFunction(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "util",
		ast.Let("greeting", ast.TypeNone, ast.Text("hello")),
		ast.Func("twice", []string{"n"}, ast.NewBlock(
			ast.Return(ast.Binary("*", ast.Ident("n"), ast.Number(2))),
		)),
	)

	e := moduleEngine(t, dir)
	st := mustComplete(t, e,
		ast.Import("util", ast.ImportSource,
			ast.ImportName{Name: "greeting"},
			ast.ImportName{Name: "twice"},
		),
		ast.ExprStmt(ast.Binary("+", ast.Ident("greeting"),
			ast.Binary("+", ast.Text(" "), ast.Call("twice", *ast.Number(21))))),
	)

	if st.LastResult.Text != "hello 42" {
		t.Errorf("LastResult = %s, want hello 42", st.LastResult.Display())
	}
}

func TestImportAlias(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "util",
		ast.Let("value", ast.TypeNone, ast.Number(7)),
	)

	e := moduleEngine(t, dir)
	st := mustComplete(t, e,
		ast.Import("util", ast.ImportSource, ast.ImportName{Name: "value", Alias: "v"}),
		ast.ExprStmt(ast.Ident("v")),
	)
	if st.LastResult.Number != 7 {
		t.Errorf("LastResult = %s, want 7", st.LastResult.Display())
	}
}

func TestImportedValueIsConst(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "util", ast.Let("value", ast.TypeNone, ast.Number(7)))

	e := moduleEngine(t, dir)
	_, err := runProgram(t, e,
		ast.Import("util", ast.ImportSource, ast.ImportName{Name: "value"}),
		ast.Assign("value", ast.Number(8)),
	)
	if !errors.Is(err, ErrConstReassignment) {
		t.Errorf("error = %v, want ErrConstReassignment", err)
	}
}

func TestImportExportNotFound(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "util", ast.Let("value", ast.TypeNone, ast.Number(7)))

	e := moduleEngine(t, dir)
	_, err := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Import("util", ast.ImportSource, ast.ImportName{Name: "missing"}),
	}})
	var notFound *ExportNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *ExportNotFoundError", err)
	}
	if notFound.Name != "missing" {
		t.Errorf("Name = %q, want missing", notFound.Name)
	}
}

func TestImportConflict(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "one", ast.Let("value", ast.TypeNone, ast.Number(1)))
	writeModule(t, dir, "two", ast.Let("value", ast.TypeNone, ast.Number(2)))

	e := moduleEngine(t, dir)
	_, err := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Import("one", ast.ImportSource, ast.ImportName{Name: "value"}),
		ast.Import("two", ast.ImportSource, ast.ImportName{Name: "value"}),
	}})
	var conflict *ImportConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want *ImportConflictError", err)
	}
	if conflict.Name != "value" {
		t.Errorf("Name = %q, want value", conflict.Name)
	}
}

func TestImportCycle(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "a",
		ast.Import("b", ast.ImportSource, ast.ImportName{Name: "bv"}),
		ast.Let("av", ast.TypeNone, ast.Number(1)),
	)
	writeModule(t, dir, "b",
		ast.Import("a", ast.ImportSource, ast.ImportName{Name: "av"}),
		ast.Let("bv", ast.TypeNone, ast.Number(2)),
	)

	e := moduleEngine(t, dir)
	_, err := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Import("a", ast.ImportSource, ast.ImportName{Name: "av"}),
	}})
	var cycle *CircularDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("error = %v, want *CircularDependencyError", err)
	}
	if len(cycle.Cycle) != 3 {
		t.Errorf("Cycle = %v, want three segments", cycle.Cycle)
	}
	if !strings.Contains(err.Error(), "import cycle detected") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDiamondImportLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "base", ast.Let("n", ast.TypeNone, ast.Number(1)))
	writeModule(t, dir, "left",
		ast.Import("base", ast.ImportSource, ast.ImportName{Name: "n", Alias: "ln"}),
		ast.Let("l", ast.TypeNone, ast.Ident("ln")),
	)
	writeModule(t, dir, "right",
		ast.Import("base", ast.ImportSource, ast.ImportName{Name: "n", Alias: "rn"}),
		ast.Let("r", ast.TypeNone, ast.Ident("rn")),
	)

	e := moduleEngine(t, dir)
	st := mustComplete(t, e,
		ast.Import("left", ast.ImportSource, ast.ImportName{Name: "l"}),
		ast.Import("right", ast.ImportSource, ast.ImportName{Name: "r"}),
		ast.ExprStmt(ast.Binary("+", ast.Ident("l"), ast.Ident("r"))),
	)

	if st.LastResult.Number != 2 {
		t.Errorf("LastResult = %s, want 2", st.LastResult.Display())
	}
	if len(st.Modules) != 3 {
		t.Errorf("modules loaded = %d, want 3 (base cached once)", len(st.Modules))
	}
}

func TestImportResolvesToAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "lib", ast.Let("n", ast.TypeNone, ast.Number(5)))
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWD) })

	e := NewEngine(WithParser(jsonParser), WithModulePath("."))
	st := mustComplete(t, e,
		ast.Import("lib", ast.ImportSource, ast.ImportName{Name: "n"}),
		ast.ExprStmt(ast.Ident("n")),
	)

	if st.LastResult.Number != 5 {
		t.Errorf("LastResult = %s, want 5", st.LastResult.Display())
	}
	for path := range st.Modules {
		if !filepath.IsAbs(path) {
			t.Errorf("module cached under relative path %q", path)
		}
	}
}

func TestModuleMayNotSuspend(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "needy",
		ast.Let("x", ast.TypeNone, ast.Do(ast.Text("help"), "")),
	)

	e := moduleEngine(t, dir)
	_, err := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Import("needy", ast.ImportSource, ast.ImportName{Name: "x"}),
	}})
	if err == nil || !strings.Contains(err.Error(), "suspended") {
		t.Errorf("error = %v, want module suspension error", err)
	}
}

func TestHostImportEvaluatesLazily(t *testing.T) {
	calls := 0
	resolver := func(path string) (map[string]Value, error) {
		calls++
		return map[string]Value{"pi": NumberValue(3.14)}, nil
	}

	e := NewEngine(WithHostResolver(resolver))
	st, err := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Import("math_helpers", ast.ImportHost, ast.ImportName{Name: "pi"}),
		ast.Let("a", ast.TypeNone, ast.Number(1)),
		ast.ExprStmt(ast.Ident("pi")),
	}})
	if err != nil {
		t.Fatalf("NewRun() error = %v", err)
	}
	if calls != 0 {
		t.Fatalf("resolver called %d times at load, want 0 (lazy)", calls)
	}

	if err := e.RunUntilPause(st); err != nil {
		t.Fatalf("RunUntilPause() error = %v", err)
	}
	if st.LastResult.Number != 3.14 {
		t.Errorf("LastResult = %s, want 3.14", st.LastResult.Display())
	}
	if calls != 1 {
		t.Errorf("resolver called %d times, want 1", calls)
	}
}

func TestHostImportMissingExport(t *testing.T) {
	resolver := func(path string) (map[string]Value, error) {
		return map[string]Value{}, nil
	}
	e := NewEngine(WithHostResolver(resolver))
	st, err := e.NewRun(&ast.Program{Stmts: []ast.Stmt{
		ast.Import("helpers", ast.ImportHost, ast.ImportName{Name: "nope"}),
		ast.ExprStmt(ast.Ident("nope")),
	}})
	if err != nil {
		t.Fatalf("NewRun() error = %v", err)
	}

	err = e.RunUntilPause(st)
	var notFound *ExportNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("error = %v, want *ExportNotFoundError", err)
	}
	if st.Status != StatusError {
		t.Errorf("Status = %q, want %q", st.Status, StatusError)
	}
}
