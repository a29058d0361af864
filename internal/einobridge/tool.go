// Package einobridge exposes discovered operations to an Eino-based agent
// loop. Each enabled operation becomes an Eino InvokableTool; invocation
// always re-resolves the operation by name, so a tool object held across a
// reconnect still lands on the fresh session.
package einobridge

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/switchboard-ai/switchboard/internal/transport"
)

// Invoker dispatches an operation call by name. The orchestrator satisfies
// this interface.
type Invoker interface {
	Invoke(ctx context.Context, operation string, args json.RawMessage) (string, error)
}

// OperationTool wraps one operation as an Eino InvokableTool.
type OperationTool struct {
	op      transport.OperationDescriptor
	invoker Invoker
}

// NewOperationTool creates a wrapper for an operation.
func NewOperationTool(op transport.OperationDescriptor, invoker Invoker) *OperationTool {
	return &OperationTool{op: op, invoker: invoker}
}

// Descriptor returns the wrapped operation descriptor.
func (t *OperationTool) Descriptor() transport.OperationDescriptor {
	return t.op
}

// Info returns the tool information for the Eino loop.
func (t *OperationTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        t.op.Name,
		Desc:        t.op.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(parseInputSchemaToParams(t.op.InputSchema)),
	}, nil
}

// InvokableRun executes the operation through the invoker.
func (t *OperationTool) InvokableRun(ctx context.Context, argsJSON string, opts ...einotool.Option) (string, error) {
	return t.invoker.Invoke(ctx, t.op.Name, json.RawMessage(argsJSON))
}

// parseInputSchemaToParams converts a JSON Schema input shape to Eino
// ParameterInfo.
func parseInputSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}
