package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"a3sist/internal/domain"
)

// fakeTool is a minimal domain.Tool for registry and validation tests.
type fakeTool struct {
	name    string
	params  string
	execFn  func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
	execCnt int
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool " + f.name }

func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        f.name,
		Description: f.Description(),
		Parameters:  json.RawMessage(f.params),
	}
}

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	f.execCnt++
	if f.execFn != nil {
		return f.execFn(ctx, params)
	}
	return TextResult("done"), nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(&fakeTool{name: "alpha"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := reg.Get("alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "alpha" {
		t.Errorf("Name = %q", got.Name())
	}
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{name: "alpha"})
	if err := reg.Register(&fakeTool{name: "alpha"}); err == nil {
		t.Error("duplicate Register succeeded")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Get("ghost")
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("error = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryListAndSchemasSorted(t *testing.T) {
	reg := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.Register(&fakeTool{name: name})
	}

	want := []string{"alpha", "mid", "zeta"}
	list := reg.List()
	schemas := reg.Schemas()
	if len(list) != 3 || len(schemas) != 3 {
		t.Fatalf("List/Schemas sizes = %d/%d, want 3/3", len(list), len(schemas))
	}
	for i, name := range want {
		if list[i].Name() != name {
			t.Errorf("List[%d] = %q, want %q", i, list[i].Name(), name)
		}
		if schemas[i].Name != name {
			t.Errorf("Schemas[%d] = %q, want %q", i, schemas[i].Name, name)
		}
	}
}

func TestRegistryWrapsWithSchemaValidation(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	inner := &fakeTool{
		name:   "strict",
		params: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	}
	if err := reg.Register(inner); err != nil {
		t.Fatalf("Register: %v", err)
	}

	wrapped, err := reg.Get("strict")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	res, err := wrapped.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("missing required param should fail validation")
	}
	if inner.execCnt != 0 {
		t.Errorf("inner tool ran %d times, validation should have blocked it", inner.execCnt)
	}
}

func TestRegistryWithoutLoggerSkipsValidation(t *testing.T) {
	reg := NewRegistry(nil)
	inner := &fakeTool{
		name:   "loose",
		params: `{"type":"object","required":["path"]}`,
	}
	reg.Register(inner)

	got, _ := reg.Get("loose")
	got.Execute(context.Background(), json.RawMessage(`{}`))
	if inner.execCnt != 1 {
		t.Errorf("inner tool ran %d times, want unwrapped passthrough", inner.execCnt)
	}
}
