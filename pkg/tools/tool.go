// Package tools holds the capabilities the developer agent may call, each
// described by a name, a description and a JSON Schema for its arguments.
package tools

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnknownTool is returned when a tool name is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Handler executes a tool with arguments that already passed validation.
type Handler func(ctx context.Context, args jsoniter.RawMessage) (string, error)

// Tool is a data-described capability.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler
}

// Parameters renders the schema as a plain map for provider SDKs.
func (t Tool) Parameters() (map[string]any, error) {
	if t.Schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	raw, err := json.Marshal(t.Schema)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}
