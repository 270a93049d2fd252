package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrDuplicateTool = errors.New("duplicate tool")
	ErrUnknownTool   = errors.New("unknown tool")
)

// Failure is the payload returned to the model when a call did not succeed.
type Failure struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func Fail(reason string) Failure {
	return Failure{OK: false, Error: reason}
}

// Success is returned for handlers that produce no value of their own.
type Success struct {
	OK bool `json:"ok"`
}

// Call is a tool invocation issued by the model.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Result is the outcome of a dispatched call. Output is the JSON payload
// sent back to the model, Err the failure cause if any.
type Result struct {
	CallID   string
	Name     string
	Output   string
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil
}

type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

func (r *Registry) Add(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("tool without name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions returns the declarations in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Dispatch runs the call and always returns a result; failures of any kind,
// including panics in the handler, become a Failure payload.
func (r *Registry) Dispatch(ctx context.Context, call Call) (res Result) {
	start := time.Now()
	res = Result{CallID: call.ID, Name: call.Name}

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("tool %s panicked: %v", call.Name, p)
			res.Output = encode(Fail(res.Err.Error()))
		}
		res.Duration = time.Since(start)
		r.logger.Debug("tool call",
			slog.String("name", call.Name),
			slog.String("call_id", call.ID),
			slog.String("args", call.Arguments),
			slog.String("output", res.Output),
			slog.Any("err", res.Err),
		)
	}()

	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		res.Output = encode(Fail("unknown tool: " + call.Name))
		return res
	}

	out, err := t.Call(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		res.Err = err
		res.Output = encode(Fail(err.Error()))
		return res
	}

	switch v := out.(type) {
	case nil:
		res.Output = encode(Success{OK: true})
	case Failure:
		res.Err = errors.New(v.Error)
		res.Output = encode(v)
	default:
		res.Output = encode(v)
	}
	return res
}

func encode(v any) string {
	d, err := json.Marshal(v)
	if err != nil {
		d, _ = json.Marshal(Fail(fmt.Sprintf("failed to encode tool output: %v", err)))
	}
	return string(d)
}
