package loom

import (
	"encoding/json"
	"fmt"
)

// stateVersion is the current state-document schema version. Bump it on
// any change to the serialized shape of State or its parts.
const stateVersion = 1

// envelopeKind guards against feeding the deserializer an unrelated JSON
// document.
const envelopeKind = "loom.state"

type stateEnvelope struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	State   json.RawMessage `json:"state"`
}

// Serialize encodes a state into a self-describing JSON document. It is
// valid at any point: running, suspended mid-conversation, or terminal.
// Values with no durable encoding fail with *UnsupportedValueError before
// anything is written.
func Serialize(st *State) ([]byte, error) {
	if err := checkState(st); err != nil {
		return nil, err
	}

	doc := *st
	doc.Modules = moduleRefs(st.Modules)

	raw, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return json.Marshal(stateEnvelope{
		Version: stateVersion,
		Kind:    envelopeKind,
		State:   raw,
	})
}

// Deserialize decodes a state document. Unknown versions fail closed with
// *DeserializationVersionError rather than guessing at migrations.
func Deserialize(data []byte) (*State, error) {
	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	if env.Kind != envelopeKind {
		return nil, fmt.Errorf("not a state document (kind %q)", env.Kind)
	}
	if env.Version != stateVersion {
		return nil, &DeserializationVersionError{Version: env.Version}
	}

	st := &State{}
	if err := json.Unmarshal(env.State, st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	if st.Status.Awaiting() && st.Pending == nil {
		return nil, fmt.Errorf("corrupt state document: status %s with no pending request", st.Status)
	}
	if st.Frames == nil {
		st.Frames = []*Frame{newFrame("main", 0)}
	}
	if st.Functions == nil {
		st.Functions = make(map[string]*Function)
	}
	if st.Modules == nil {
		st.Modules = make(map[string]*ModuleEntry)
	}
	if st.HostImports == nil {
		st.HostImports = make(map[string]HostImport)
	}
	for _, frame := range st.Frames {
		if frame.Locals == nil {
			frame.Locals = make(map[string]*Variable)
		}
	}
	return st, nil
}

// moduleRefs strips loaded modules to path references. Module contents
// are never re-embedded in a state document: source-module bindings
// already live in the function table and root frame, and host modules
// re-evaluate lazily on first access after a restore.
func moduleRefs(modules map[string]*ModuleEntry) map[string]*ModuleEntry {
	if len(modules) == 0 {
		return modules
	}
	refs := make(map[string]*ModuleEntry, len(modules))
	for path, entry := range modules {
		refs[path] = &ModuleEntry{Path: entry.Path, Kind: entry.Kind}
	}
	return refs
}

// checkState walks every value the document would carry.
func checkState(st *State) error {
	for _, frame := range st.Frames {
		for name, variable := range frame.Locals {
			if err := checkEncodable(variable.Value); err != nil {
				return fmt.Errorf("variable %s in frame %s: %w", name, frame.Name, err)
			}
		}
		for _, entry := range frame.Entries {
			if err := checkEncodable(entry.Value); err != nil {
				return fmt.Errorf("entry %s in frame %s: %w", entry.Name, frame.Name, err)
			}
		}
	}
	for i, v := range st.Values {
		if err := checkEncodable(v); err != nil {
			return fmt.Errorf("operand %d: %w", i, err)
		}
	}
	if err := checkEncodable(st.LastResult); err != nil {
		return fmt.Errorf("last result: %w", err)
	}
	return nil
}
