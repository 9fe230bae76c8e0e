package loom

import (
	"strconv"
	"strings"

	"github.com/everydev1618/goloom/ast"
)

// The context assembler reconstructs a textual execution history for AI
// prompts from the frames' ordered entries. The output format is part of
// the engine's observable behavior: frame headers, the (current scope)
// and (entry) markers, the (depth N) suffix on nested entries, and the
// two-space indentation per depth are all a stable contract, and prompts
// are reproducible across serialize/deserialize.

// BuildGlobalContext renders every live frame, outermost first. The
// innermost frame is marked as the current scope.
func BuildGlobalContext(st *State) string {
	var b strings.Builder
	for i, frame := range st.Frames {
		if i > 0 {
			b.WriteString("\n")
		}
		writeFrame(&b, frame, i == len(st.Frames)-1)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildLocalContext renders only the current scope.
func BuildLocalContext(st *State) string {
	var b strings.Builder
	writeFrame(&b, st.currentFrame(), true)
	return strings.TrimRight(b.String(), "\n")
}

func writeFrame(b *strings.Builder, frame *Frame, current bool) {
	b.WriteString("frame ")
	b.WriteString(frame.Name)
	if current {
		b.WriteString(" (current scope)")
	} else {
		b.WriteString(" (entry)")
	}
	b.WriteString("\n")

	for _, entry := range frame.Entries {
		line, ok := renderEntry(frame, entry)
		if !ok {
			continue
		}
		b.WriteString(strings.Repeat("  ", entry.Depth+1))
		b.WriteString(line)
		if entry.Depth > 0 {
			b.WriteString(" (depth ")
			b.WriteString(strconv.Itoa(entry.Depth))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
}

// renderEntry formats one history entry. Variables read their current
// value when the binding is still live, so reassignments show through.
// Model and prompt bindings are configuration, not conversation, and
// stay out.
func renderEntry(frame *Frame, entry Entry) (string, bool) {
	switch entry.Kind {
	case EntryVariable:
		value := entry.Value
		ann := entry.Type
		if variable, ok := frame.Locals[entry.Name]; ok {
			value = variable.Value
			ann = variable.Type
		}
		if ann == ast.TypeModel || ann == ast.TypePrompt {
			return "", false
		}
		var b strings.Builder
		b.WriteString(entry.Name)
		if ann != ast.TypeNone {
			b.WriteString(": ")
			b.WriteString(string(ann))
		}
		b.WriteString(" = ")
		b.WriteString(value.Display())
		return b.String(), true

	case EntryPrompt:
		return "prompt: " + entry.Text, true

	case EntrySummary:
		return "summary: " + entry.Text, true

	default:
		return "", false
	}
}

// compressPrompt builds the summarization request for a compress-mode
// block exit from the entries the block accumulated.
func compressPrompt(entries []Entry) string {
	var b strings.Builder
	b.WriteString("Summarize the following execution history in a short paragraph. ")
	b.WriteString("Preserve every variable name, final value, and decision needed to continue the task.\n\n")
	for _, entry := range entries {
		line, ok := renderCompressEntry(entry)
		if !ok {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderCompressEntry formats an entry for the summarizer using its
// recorded value: the bindings are already gone by the time compress runs.
func renderCompressEntry(entry Entry) (string, bool) {
	switch entry.Kind {
	case EntryVariable:
		if entry.Type == ast.TypeModel || entry.Type == ast.TypePrompt {
			return "", false
		}
		return entry.Name + " = " + entry.Value.Display(), true
	case EntryPrompt:
		return "prompt: " + entry.Text, true
	case EntrySummary:
		return "summary: " + entry.Text, true
	default:
		return "", false
	}
}
