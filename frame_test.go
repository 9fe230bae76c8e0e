package loom

import (
	"errors"
	"testing"

	"github.com/everydev1618/goloom/ast"
)

func TestFrameDeclareAndAssign(t *testing.T) {
	f := newFrame("main", 0)

	if err := f.declare("x", NumberValue(1), ast.TypeNumber, false); err != nil {
		t.Fatalf("declare() error = %v", err)
	}
	if err := f.declare("x", NumberValue(2), ast.TypeNone, false); !errors.Is(err, ErrDuplicateDeclaration) {
		t.Errorf("redeclare error = %v, want ErrDuplicateDeclaration", err)
	}

	// Assignment coerces to the declared type.
	if err := f.assign("x", TextValue("5")); err != nil {
		t.Fatalf("assign() error = %v", err)
	}
	if got := f.Locals["x"].Value; got.Kind != KindNumber || got.Number != 5 {
		t.Errorf("x = %s (%s), want number 5", got.Display(), got.Kind)
	}

	if err := f.assign("ghost", NumberValue(1)); !errors.Is(err, ErrUndefinedVariable) {
		t.Errorf("assign missing = %v, want ErrUndefinedVariable", err)
	}
}

func TestFrameConst(t *testing.T) {
	f := newFrame("main", 0)
	f.declare("c", NumberValue(1), ast.TypeNone, true)
	if err := f.assign("c", NumberValue(2)); !errors.Is(err, ErrConstReassignment) {
		t.Errorf("assign const = %v, want ErrConstReassignment", err)
	}
}

func TestBlockExitRemovesBindings(t *testing.T) {
	f := newFrame("main", 0)
	f.declare("outer", NumberValue(1), ast.TypeNone, false)

	f.enterBlock(ast.ModeVerbose, 0, false)
	f.declare("inner", NumberValue(2), ast.TypeNone, false)

	mark, err := f.exitBlock()
	if err != nil {
		t.Fatalf("exitBlock() error = %v", err)
	}
	if mark.Mode != ast.ModeVerbose {
		t.Errorf("Mode = %q, want verbose", mark.Mode)
	}
	if _, ok := f.Locals["inner"]; ok {
		t.Error("inner still bound after block exit")
	}
	if _, ok := f.Locals["outer"]; !ok {
		t.Error("outer removed by block exit")
	}

	// Sibling block may reuse the name now.
	f.enterBlock(ast.ModeVerbose, 0, false)
	if err := f.declare("inner", NumberValue(3), ast.TypeNone, false); err != nil {
		t.Errorf("sibling redeclare error = %v", err)
	}
}

func TestExitBlockWithoutEntry(t *testing.T) {
	f := newFrame("main", 0)
	if _, err := f.exitBlock(); err == nil {
		t.Error("exitBlock() on empty block stack should fail")
	}
}

func TestEntriesRecordDepthAndPrompts(t *testing.T) {
	f := newFrame("main", 0)
	f.declare("top", NumberValue(1), ast.TypeNone, false)
	f.enterBlock(ast.ModeVerbose, 0, false)
	f.declare("nested", NumberValue(2), ast.TypeNone, false)
	f.recordPrompt("ask the model")

	if f.Entries[0].Depth != 0 {
		t.Errorf("top Depth = %d, want 0", f.Entries[0].Depth)
	}
	if f.Entries[1].Depth != 1 {
		t.Errorf("nested Depth = %d, want 1", f.Entries[1].Depth)
	}
	if f.Entries[2].Kind != EntryPrompt || f.Entries[2].Text != "ask the model" {
		t.Errorf("prompt entry = %+v", f.Entries[2])
	}
}
