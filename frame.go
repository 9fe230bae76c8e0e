package loom

import (
	"fmt"

	"github.com/everydev1618/goloom/ast"
)

// Variable is one binding in a frame.
type Variable struct {
	Value Value              `json:"value"`
	Type  ast.TypeAnnotation `json:"type,omitempty"`
	Const bool               `json:"const,omitempty"`
}

// EntryKind tags an ordered frame entry.
type EntryKind string

const (
	// EntryVariable records a variable declaration.
	EntryVariable EntryKind = "variable"

	// EntryPrompt records an AI or user-input solicitation made from
	// this frame.
	EntryPrompt EntryKind = "prompt"

	// EntrySummary is a synthetic entry written by a compress round in
	// place of a block's raw entries.
	EntrySummary EntryKind = "summary"
)

// Entry is one element of a frame's execution-ordered history: variable
// declarations and AI-prompt events in the order they happened. It is the
// substrate the context assembler reconstructs prompts from.
type Entry struct {
	Kind  EntryKind          `json:"entry"`
	Name  string             `json:"name,omitempty"`
	Type  ast.TypeAnnotation `json:"type,omitempty"`
	Value Value              `json:"value,omitempty"`
	Text  string             `json:"text,omitempty"`

	// Depth is the block nesting depth the entry was recorded at,
	// relative to the frame body.
	Depth int `json:"depth,omitempty"`
}

// BlockMark records what a frame looked like at block entry so block exit
// can remove exactly the bindings introduced since, however the block was
// exited.
type BlockMark struct {
	Mode       ast.ContextMode `json:"mode,omitempty"`
	LocalsLen  int             `json:"locals_len"`
	EntriesLen int             `json:"entries_len"`
	ValuesLen  int             `json:"values_len"`

	// MergeSummary marks a loop iteration after the first: a compress
	// exit extends its region over the previous iteration's summary, so
	// the loop leaves one summary behind rather than one per iteration.
	MergeSummary bool `json:"merge_summary,omitempty"`
}

// Frame is one call-stack level: the lexical bindings of a function call
// or the program body. Nested blocks are flattened into their owning
// frame and delimited by block marks.
type Frame struct {
	Name    string               `json:"name"`
	Locals  map[string]*Variable `json:"locals"`
	Order   []string             `json:"order,omitempty"`
	Entries []Entry              `json:"entries,omitempty"`
	Blocks  []BlockMark          `json:"blocks,omitempty"`

	// SavedValues is the operand-stack depth at frame entry; unwinding
	// the frame truncates back to it.
	SavedValues int `json:"saved_values,omitempty"`
}

func newFrame(name string, savedValues int) *Frame {
	return &Frame{
		Name:        name,
		Locals:      make(map[string]*Variable),
		SavedValues: savedValues,
	}
}

// depth is the current block nesting depth within the frame.
func (f *Frame) depth() int {
	return len(f.Blocks)
}

// declare binds a new variable in the frame. The name must be free in the
// whole frame: sibling-block reuse is legal only because block exit
// removes the earlier binding first.
func (f *Frame) declare(name string, v Value, ann ast.TypeAnnotation, isConst bool) error {
	if _, exists := f.Locals[name]; exists {
		return &RuntimeError{Name: name, Frame: f.Name, Err: ErrDuplicateDeclaration}
	}
	f.Locals[name] = &Variable{Value: v, Type: ann, Const: isConst}
	f.Order = append(f.Order, name)
	f.Entries = append(f.Entries, Entry{
		Kind:  EntryVariable,
		Name:  name,
		Type:  ann,
		Value: v,
		Depth: f.depth(),
	})
	return nil
}

// assign rebinds an existing variable, coercing to its declared type.
func (f *Frame) assign(name string, v Value) error {
	variable, exists := f.Locals[name]
	if !exists {
		return fmt.Errorf("frame %s: %w: %s", f.Name, ErrUndefinedVariable, name)
	}
	if variable.Const {
		return &RuntimeError{Name: name, Frame: f.Name, Err: ErrConstReassignment}
	}
	coerced, err := Coerce(v, variable.Type)
	if err != nil {
		return err
	}
	variable.Value = coerced
	return nil
}

// enterBlock pushes a block mark capturing the current binding, entry,
// and operand-stack extents.
func (f *Frame) enterBlock(mode ast.ContextMode, valuesLen int, mergeSummary bool) {
	if mode == "" {
		mode = ast.ModeVerbose
	}
	f.Blocks = append(f.Blocks, BlockMark{
		Mode:         mode,
		LocalsLen:    len(f.Order),
		EntriesLen:   len(f.Entries),
		ValuesLen:    valuesLen,
		MergeSummary: mergeSummary,
	})
}

// exitBlock pops the innermost block mark and removes the bindings it
// introduced. Entry disposal (verbose/forget/compress) is the engine's
// concern; the popped mark is returned for it.
func (f *Frame) exitBlock() (BlockMark, error) {
	if len(f.Blocks) == 0 {
		return BlockMark{}, fmt.Errorf("frame %s: block exit without block entry", f.Name)
	}
	mark := f.Blocks[len(f.Blocks)-1]
	f.Blocks = f.Blocks[:len(f.Blocks)-1]

	for _, name := range f.Order[mark.LocalsLen:] {
		delete(f.Locals, name)
	}
	f.Order = f.Order[:mark.LocalsLen]
	return mark, nil
}

// recordPrompt appends an AI-prompt event to the frame history.
func (f *Frame) recordPrompt(text string) {
	f.Entries = append(f.Entries, Entry{Kind: EntryPrompt, Text: text, Depth: f.depth()})
}
