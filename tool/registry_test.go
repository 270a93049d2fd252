package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text string `json:"text"`
}

func (a *echoArgs) Validate() error {
	if a.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

func echoTool() Tool {
	return New(
		Function("echo", "echoes text", Properties{"text": {Type: "string"}}, "text"),
		func(_ context.Context, args echoArgs) (any, error) {
			return map[string]any{"ok": true, "text": args.Text}, nil
		},
	)
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	return m
}

func TestRegistry_AddDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Add(echoTool()))

	err := r.Add(echoTool())
	require.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DefinitionsKeepOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Add(New(Function(name, name, nil), func(context.Context, struct{}) (any, error) {
			return nil, nil
		})))
	}

	var names []string
	for _, d := range r.Definitions() {
		names = append(names, d.Name)
		assert.Equal(t, "function", d.Type)
		assert.Equal(t, "object", d.Parameters.Type)
		assert.NotNil(t, d.Parameters.Required)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Add(echoTool()))

	res := r.Dispatch(context.Background(), Call{ID: "call_1", Name: "echo", Arguments: `{"text":"hi"}`})
	require.True(t, res.OK())
	assert.Equal(t, "call_1", res.CallID)
	assert.Equal(t, map[string]any{"ok": true, "text": "hi"}, decode(t, res.Output))
}

func TestRegistry_DispatchUnknown(t *testing.T) {
	r := NewRegistry(nil)

	res := r.Dispatch(context.Background(), Call{ID: "call_1", Name: "nope", Arguments: `{}`})
	require.ErrorIs(t, res.Err, ErrUnknownTool)
	assert.Equal(t, map[string]any{"ok": false, "error": "unknown tool: nope"}, decode(t, res.Output))
}

func TestRegistry_DispatchFailures(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Add(echoTool()))
	require.NoError(t, r.Add(New(Function("boom", "panics", nil), func(context.Context, struct{}) (any, error) {
		panic("kaboom")
	})))
	require.NoError(t, r.Add(New(Function("fails", "errors", nil), func(context.Context, struct{}) (any, error) {
		return nil, errors.New("upstream down")
	})))
	require.NoError(t, r.Add(New(Function("empty", "returns nothing", nil), func(context.Context, struct{}) (any, error) {
		return nil, nil
	})))
	require.NoError(t, r.Add(New(Function("refuses", "returns failure", nil), func(context.Context, struct{}) (any, error) {
		return Fail("not today"), nil
	})))

	tests := []struct {
		name   string
		call   Call
		ok     bool
		output map[string]any
	}{
		{"invalid json", Call{Name: "echo", Arguments: `{`}, false, nil},
		{"validation", Call{Name: "echo", Arguments: `{"text":""}`}, false, map[string]any{"ok": false, "error": "invalid arguments: text is required"}},
		{"panic", Call{Name: "boom"}, false, map[string]any{"ok": false, "error": "tool boom panicked: kaboom"}},
		{"handler error", Call{Name: "fails", Arguments: `{}`}, false, map[string]any{"ok": false, "error": "upstream down"}},
		{"nil result", Call{Name: "empty", Arguments: `{}`}, true, map[string]any{"ok": true}},
		{"failure value", Call{Name: "refuses", Arguments: `{}`}, false, map[string]any{"ok": false, "error": "not today"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(context.Background(), tt.call)
			assert.Equal(t, tt.ok, res.OK())
			out := decode(t, res.Output)
			if tt.output != nil {
				assert.Equal(t, tt.output, out)
			} else {
				assert.Equal(t, false, out["ok"])
				assert.NotEmpty(t, out["error"])
			}
		})
	}
}

func TestRegistry_GuardRunsBeforeDecoding(t *testing.T) {
	locked := true
	guard := func(context.Context) *Failure {
		if locked {
			f := Fail("locked")
			return &f
		}
		return nil
	}

	r := NewRegistry(nil)
	require.NoError(t, r.Add(New(
		Function("guarded", "echoes text behind a guard", Properties{"text": {Type: "string"}}, "text"),
		func(_ context.Context, args echoArgs) (any, error) {
			return map[string]any{"ok": true, "text": args.Text}, nil
		},
		WithGuard(guard),
	)))

	for _, args := range []string{``, `{`, `{"text":""}`, `{"text":"hi"}`} {
		res := r.Dispatch(context.Background(), Call{Name: "guarded", Arguments: args})
		assert.False(t, res.OK(), args)
		assert.Equal(t, map[string]any{"ok": false, "error": "locked"}, decode(t, res.Output), args)
	}

	locked = false
	res := r.Dispatch(context.Background(), Call{Name: "guarded", Arguments: `{"text":""}`})
	assert.Equal(t, map[string]any{"ok": false, "error": "invalid arguments: text is required"}, decode(t, res.Output))

	res = r.Dispatch(context.Background(), Call{Name: "guarded", Arguments: `{"text":"hi"}`})
	require.True(t, res.OK())
}
