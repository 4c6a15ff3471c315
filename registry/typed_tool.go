package registry

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/wgs4/mmcp/protocol"
)

// TypedToolOption configures NewTypedTool.
type TypedToolOption func(*typedToolConfig)

type typedToolConfig struct {
	title                     string
	allowAdditionalProperties bool
}

// WithTitle sets the tool's title, only surfaced to clients negotiating
// 2025-06-18 or later.
func WithTitle(title string) TypedToolOption {
	return func(c *typedToolConfig) { c.title = title }
}

// WithAllowAdditionalProperties relaxes strict argument decoding so
// unknown JSON fields in a call don't fail the tool. Default is strict.
func WithAllowAdditionalProperties(allow bool) TypedToolOption {
	return func(c *typedToolConfig) { c.allowAdditionalProperties = allow }
}

// NewTypedTool builds a protocol.Tool descriptor and a ToolInvoker from a
// typed Go argument struct A and an optional typed output struct O, by
// reflecting JSON Schema via invopop/jsonschema the same way the teacher's
// NewToolWithOutput does. fn's summary string becomes a text content part
// and its structured return value is attached as StructuredContent, so
// version shaping never yields an empty response for a tool declaring an
// output schema.
func NewTypedTool[A, O any](name, description string, fn func(ctx context.Context, args A) (O, string, error), opts ...TypedToolOption) (protocol.Tool, ToolInvoker) {
	cfg := typedToolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	input := reflectInputSchema[A](cfg.allowAdditionalProperties)
	output := reflectOutputSchema[O]()

	descriptor := protocol.Tool{
		Name:         name,
		Description:  description,
		Title:        cfg.title,
		InputSchema:  input,
		OutputSchema: &output,
	}

	invoke := func(ctx context.Context, rawArgs []byte) (*protocol.CallToolResult, error) {
		var args A
		if len(rawArgs) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(rawArgs, &args); err != nil {
					return protocol.ErrorResult("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(rawArgs))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&args); err != nil {
					return protocol.ErrorResult("invalid arguments: %v", err), nil
				}
			}
		}

		result, summary, err := fn(ctx, args)
		if err != nil {
			return protocol.ErrorResult("%v", err), nil
		}

		structured, err := json.Marshal(result)
		if err != nil {
			return protocol.ErrorResult("failed to encode result: %v", err), nil
		}

		return &protocol.CallToolResult{
			Content:           []protocol.ContentPart{protocol.TextContent(summary)},
			StructuredContent: structured,
		}, nil
	}

	return descriptor, invoke
}

// NewTool builds a protocol.Tool descriptor and a ToolInvoker from a typed
// Go argument struct A for tools with no declared output schema.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) (*protocol.CallToolResult, error), opts ...TypedToolOption) (protocol.Tool, ToolInvoker) {
	cfg := typedToolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	input := reflectInputSchema[A](cfg.allowAdditionalProperties)
	descriptor := protocol.Tool{
		Name:        name,
		Description: description,
		Title:       cfg.title,
		InputSchema: input,
	}

	invoke := func(ctx context.Context, rawArgs []byte) (*protocol.CallToolResult, error) {
		var args A
		if len(rawArgs) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(rawArgs, &args); err != nil {
					return protocol.ErrorResult("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(rawArgs))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&args); err != nil {
					return protocol.ErrorResult("invalid arguments: %v", err), nil
				}
			}
		}
		return fn(ctx, args)
	}

	return descriptor, invoke
}

func reflectInputSchema[A any](allowAdditional bool) protocol.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return protocol.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]protocol.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]protocol.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}

	return protocol.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             append([]string(nil), s.Required...),
		AdditionalProperties: allowAdditional,
	}
}

func reflectOutputSchema[O any]() protocol.ToolOutputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(O))
	if s == nil || s.Type != "object" {
		return protocol.ToolOutputSchema{Type: "object", Properties: map[string]protocol.SchemaProperty{}}
	}

	props := make(map[string]protocol.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}

	return protocol.ToolOutputSchema{
		Type:       "object",
		Properties: props,
		Required:   append([]string(nil), s.Required...),
	}
}

func toSchemaProperty(s *jsonschema.Schema) protocol.SchemaProperty {
	if s == nil {
		return protocol.SchemaProperty{}
	}
	p := protocol.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]protocol.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
