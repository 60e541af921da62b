package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nidhogg/sqlagent/internal/provider"
	"github.com/nidhogg/sqlagent/internal/user"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownTool is returned when no tool is registered under a name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrAccessDenied is returned when the caller shares no group with a tool.
	ErrAccessDenied = errors.New("tool access denied")
	// ErrInvalidToolArgs is returned when arguments do not match the tool's schema.
	ErrInvalidToolArgs = errors.New("invalid tool arguments")
)

// ToolHandler executes a tool call on behalf of u and returns the result as
// a JSON string.
type ToolHandler func(ctx context.Context, u *user.User, args string) (string, error)

type registeredTool struct {
	def     provider.Tool
	schema  *gojsonschema.Schema
	groups  []string
	handler ToolHandler
}

// ToolRegistry holds available tools, their handlers, and the groups
// allowed to call them.
type ToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registeredTool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]registeredTool),
	}
}

// Register adds a tool definition and its handler. Only users in one of
// groups may see or execute it. Registering a name twice replaces the tool.
// It panics if the definition's parameters are not a valid JSON Schema.
func (r *ToolRegistry) Register(def provider.Tool, groups []string, handler ToolHandler) {
	var schema *gojsonschema.Schema
	if def.Function.Parameters != nil {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Function.Parameters))
		if err != nil {
			panic(fmt.Sprintf("tool %s: invalid parameter schema: %v", def.Function.Name, err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := def.Function.Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = registeredTool{
		def:     def,
		schema:  schema,
		groups:  append([]string(nil), groups...),
		handler: handler,
	}
}

// Definitions returns the tool definitions visible to u, in registration order.
func (r *ToolRegistry) Definitions(u *user.User) []provider.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []provider.Tool
	for _, name := range r.order {
		t := r.tools[name]
		if u.InGroup(t.groups...) {
			defs = append(defs, t.def)
		}
	}
	return defs
}

// Execute runs a tool by name with the given JSON arguments.
func (r *ToolRegistry) Execute(ctx context.Context, u *user.User, name, args string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if !u.InGroup(t.groups...) {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, name)
	}
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := validateArgs(t.schema, args); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidToolArgs, name, err)
	}
	return t.handler(ctx, u, args)
}

func validateArgs(schema *gojsonschema.Schema, args string) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return errors.New(strings.Join(problems, "; "))
}
