package builtin

import (
	"context"
	"errors"

	"github.com/codewandler/voiceagent-go/memory"
	"github.com/codewandler/voiceagent-go/tool"
)

type setMemoryArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (a *setMemoryArgs) Validate() error {
	if a.Key == "" {
		return errors.New("key is required")
	}
	return nil
}

func SetMemory(store *memory.Store) tool.Tool {
	def := tool.Function(
		"set_memory",
		"Saves important data about the user into memory.",
		tool.Properties{
			"key": {
				Type:        "string",
				Description: "The key of the memory value. Always use lowercase and underscores, no other characters.",
			},
			"value": {
				Type:        "string",
				Description: "Value can be anything represented as a string",
			},
		},
		"key", "value",
	)
	return tool.New(def, func(_ context.Context, args setMemoryArgs) (any, error) {
		store.Set(args.Key, args.Value)
		return tool.Success{OK: true}, nil
	})
}
