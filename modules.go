package loom

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/everydev1618/goloom/ast"
)

// sourceExt is the default extension appended to extension-less import
// paths.
const sourceExt = ".loom"

// loader resolves the import graph of a run before its first step. It is
// the one place the engine touches the filesystem; steps never do.
//
// Loaded modules are cached by resolved path in the run state's module
// table, shared across the whole graph, and only successful loads are
// cached: a failed import can be retried after the underlying problem is
// fixed.
type loader struct {
	engine *Engine
	st     *State

	// stack holds the resolved paths currently being loaded, import
	// order outermost first. Re-entering one is a cycle.
	stack []string

	// origin maps bound names to the module that bound them, for
	// conflict reporting.
	origin map[string]string
}

func newLoader(e *Engine, st *State) *loader {
	return &loader{engine: e, st: st, origin: make(map[string]string)}
}

// load resolves one import statement and binds the names it requests.
func (l *loader) load(stmt *ast.Stmt, fromPath string) error {
	if stmt.Import == ast.ImportHost {
		return l.bindHost(stmt)
	}
	resolved := l.resolve(stmt.Path, fromPath)
	entry, err := l.loadSource(resolved)
	if err != nil {
		return err
	}
	return l.bind(stmt, entry)
}

func (l *loader) loadSource(path string) (*ModuleEntry, error) {
	if entry, ok := l.st.Modules[path]; ok && entry.Kind == ModuleSource {
		return entry, nil
	}
	if i := slices.Index(l.stack, path); i >= 0 {
		return nil, &CircularDependencyError{Cycle: append(slices.Clone(l.stack[i:]), path)}
	}
	if l.engine.parse == nil {
		return nil, fmt.Errorf("module %s: no parser configured", path)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}
	prog, err := l.engine.parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}
	prog.Path = path

	l.stack = append(l.stack, path)
	entry, err := l.evaluate(path, prog)
	l.stack = l.stack[:len(l.stack)-1]
	if err != nil {
		return nil, err
	}

	l.st.Modules[path] = entry
	slog.Debug("module loaded", "path", path, "exports", len(entry.Exports), "functions", len(entry.Functions))
	return entry, nil
}

// evaluate runs the module body to completion in its own state. The
// module table is shared with the importing run so the cache spans the
// whole graph. Module bodies run eagerly and synchronously: an AI, user,
// or host suspension inside one is an error.
func (l *loader) evaluate(path string, prog *ast.Program) (*ModuleEntry, error) {
	sub := &State{
		ID:          uuid.NewString(),
		Status:      StatusRunning,
		Frames:      []*Frame{newFrame(moduleName(path), 0)},
		Functions:   make(map[string]*Function),
		Modules:     l.st.Modules,
		HostImports: make(map[string]HostImport),
	}
	child := &loader{engine: l.engine, st: sub, stack: l.stack, origin: make(map[string]string)}

	for i := range prog.Stmts {
		stmt := &prog.Stmts[i]
		switch stmt.Kind {
		case ast.StmtImport:
			if err := child.load(stmt, path); err != nil {
				return nil, err
			}
		case ast.StmtFunc:
			if _, exists := sub.Functions[stmt.Name]; exists {
				return nil, fmt.Errorf("module %s: %w", path,
					&RuntimeError{Name: stmt.Name, Frame: sub.Frames[0].Name, Err: ErrDuplicateDeclaration})
			}
			sub.Functions[stmt.Name] = &Function{Name: stmt.Name, Params: stmt.Params, Body: stmt.Body}
		}
	}
	for i := len(prog.Stmts) - 1; i >= 0; i-- {
		stmt := prog.Stmts[i]
		if stmt.Kind == ast.StmtImport || stmt.Kind == ast.StmtFunc {
			continue
		}
		sub.pushInstr(Instruction{Op: opStmt, Stmt: &stmt})
	}

	if err := l.engine.RunUntilPause(sub); err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}
	if sub.Status != StatusCompleted {
		return nil, fmt.Errorf("module %s suspended with status %s: module bodies must evaluate without AI, user, or host requests",
			path, sub.Status)
	}

	exports := make(map[string]Value, len(sub.Frames[0].Order))
	for _, name := range sub.Frames[0].Order {
		exports[name] = sub.Frames[0].Locals[name].Value
	}
	return &ModuleEntry{
		Path:      path,
		Kind:      ModuleSource,
		Exports:   exports,
		Evaluated: true,
		Functions: sub.Functions,
	}, nil
}

// bind installs the requested exports into the importing run: functions
// into the function table, values as const bindings in the root frame.
func (l *loader) bind(stmt *ast.Stmt, entry *ModuleEntry) error {
	root := l.st.Frames[0]
	for _, name := range stmt.Names {
		alias := name.Alias
		if alias == "" {
			alias = name.Name
		}

		if fn, ok := entry.Functions[name.Name]; ok {
			if _, exists := l.st.Functions[alias]; exists {
				return l.conflict(alias, entry.Path)
			}
			l.st.Functions[alias] = fn
			l.origin[alias] = entry.Path
			continue
		}
		if v, ok := entry.Exports[name.Name]; ok {
			if _, exists := root.Locals[alias]; exists {
				return l.conflict(alias, entry.Path)
			}
			if err := root.declare(alias, v, ast.TypeNone, true); err != nil {
				return err
			}
			l.origin[alias] = entry.Path
			continue
		}
		return &ExportNotFoundError{Module: entry.Path, Name: name.Name}
	}
	return nil
}

// bindHost records deferred host-module bindings. The module itself is
// not evaluated until one of its exports is first read.
func (l *loader) bindHost(stmt *ast.Stmt) error {
	path := stmt.Path
	if _, ok := l.st.Modules[path]; !ok {
		l.st.Modules[path] = &ModuleEntry{Path: path, Kind: ModuleHost}
	}
	for _, name := range stmt.Names {
		alias := name.Alias
		if alias == "" {
			alias = name.Name
		}
		_, asHost := l.st.HostImports[alias]
		_, asFunc := l.st.Functions[alias]
		_, asLocal := l.st.Frames[0].Locals[alias]
		if asHost || asFunc || asLocal {
			return l.conflict(alias, path)
		}
		l.st.HostImports[alias] = HostImport{Path: path, Export: name.Name}
		l.origin[alias] = path
	}
	return nil
}

func (l *loader) conflict(alias, imported string) error {
	existing, ok := l.origin[alias]
	if !ok {
		existing = "the program"
	}
	return &ImportConflictError{Name: alias, Existing: existing, Imported: imported}
}

// resolve maps an import path to a file: relative paths are tried against
// the importing file's directory, then each configured module root. The
// result is absolute, so every spelling of one file shares a cache entry
// and the cycle set never loses track of a module in flight.
func (l *loader) resolve(path, fromPath string) string {
	if filepath.Ext(path) == "" {
		path += sourceExt
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	var candidates []string
	if fromPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(fromPath), path))
	}
	for _, root := range l.engine.modulePath {
		candidates = append(candidates, filepath.Join(root, path))
	}
	candidates = append(candidates, path)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return absPath(c)
		}
	}
	return absPath(candidates[0])
}

// absPath falls back to a cleaned relative path only when the working
// directory is unavailable.
func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

func moduleName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), sourceExt)
}
