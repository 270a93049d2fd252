package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

type Choice string

const (
	ChoiceAuto Choice = "auto"
	ChoiceNone Choice = "none"
)

// Definition is the declaration sent to the model in session.update.
type Definition struct {
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

type Parameters struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required"`
}

type Properties map[string]Property

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Function returns a function definition with an object parameter schema.
func Function(name, description string, props Properties, required ...string) Definition {
	if props == nil {
		props = Properties{}
	}
	if required == nil {
		required = []string{}
	}
	return Definition{
		Type:        "function",
		Name:        name,
		Description: description,
		Parameters: Parameters{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// Tool is a definition bound to a handler.
type Tool interface {
	Definition() Definition
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Validator is implemented by argument records that check themselves after decoding.
type Validator interface {
	Validate() error
}

type HandlerFunc[A any] func(ctx context.Context, args A) (any, error)

// Guard runs before the raw arguments are decoded. A non-nil failure is
// returned to the model and the handler does not run.
type Guard func(ctx context.Context) *Failure

type Option func(*options)

type options struct {
	guards []Guard
}

func WithGuard(g Guard) Option {
	return func(o *options) {
		o.guards = append(o.guards, g)
	}
}

type typedTool[A any] struct {
	def     Definition
	handler HandlerFunc[A]
	guards  []Guard
}

// New binds a handler taking a typed argument record A. Guards run first,
// then the raw arguments from the model are decoded into A and validated
// before the handler runs.
func New[A any](def Definition, h HandlerFunc[A], opts ...Option) Tool {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &typedTool[A]{def: def, handler: h, guards: o.guards}
}

func (t *typedTool[A]) Definition() Definition {
	return t.def
}

func (t *typedTool[A]) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	for _, g := range t.guards {
		if f := g(ctx); f != nil {
			return *f, nil
		}
	}

	var args A
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if v, ok := any(&args).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return t.handler(ctx, args)
}
