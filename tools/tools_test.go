package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func echoDef() Def {
	return Def{
		Description: "echo the input",
		Params: map[string]ParamDef{
			"text": {Type: "string", Description: "what to echo", Required: true},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return fmt.Sprint(args["text"]), nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("echo", echoDef()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	out, err := reg.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "hi" {
		t.Errorf("Execute() = %q, want hi", out)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoDef())
	if err := reg.Register("echo", echoDef()); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Errorf("Register() duplicate = %v, want ErrToolAlreadyRegistered", err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "ghost", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Execute() unknown = %v, want ErrToolNotFound", err)
	}
}

func TestExecuteWrapsToolFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", Def{
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("kaboom")
		},
	})

	_, err := reg.Execute(context.Background(), "boom", nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Execute() = %v, want *ToolError", err)
	}
	if toolErr.ToolName != "boom" {
		t.Errorf("ToolName = %q, want boom", toolErr.ToolName)
	}
}

func TestSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoDef())
	reg.Register("other", Def{Fn: func(ctx context.Context, args map[string]any) (string, error) {
		return "", nil
	}})

	schemas := reg.Schema([]string{"echo"})
	if len(schemas) != 1 {
		t.Fatalf("Schema() = %d entries, want 1", len(schemas))
	}
	s := schemas[0]
	if s.Name != "echo" || s.Description != "echo the input" {
		t.Errorf("schema = %+v", s)
	}
	props, ok := s.InputSchema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("InputSchema missing properties: %+v", s.InputSchema)
	}
	if _, ok := props["text"]; !ok {
		t.Errorf("properties = %+v, want text", props)
	}
	required, _ := s.InputSchema["required"].([]string)
	if len(required) != 1 || required[0] != "text" {
		t.Errorf("required = %v, want [text]", required)
	}
}

func TestNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", Def{Fn: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }})
	reg.Register("a", Def{Fn: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }})

	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want sorted [a b]", names)
	}
}
