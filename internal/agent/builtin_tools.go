package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/sqlagent/internal/memory"
	"github.com/nidhogg/sqlagent/internal/provider"
	"github.com/nidhogg/sqlagent/internal/sqlrunner"
	"github.com/nidhogg/sqlagent/internal/user"
)

// Built-in tool names.
const (
	ToolRunSQL         = "run_sql"
	ToolVisualizeData  = "visualize_data"
	ToolSaveToolUse    = "save_question_tool_args"
	ToolSearchToolUses = "search_saved_correct_tool_uses"
	ToolSaveTextMemory = "save_text_memory"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

var (
	allUsers   = []string{user.GroupAdmin, user.GroupUser}
	adminsOnly = []string{user.GroupAdmin}
)

// RegisterBuiltinTools adds the SQL and memory tools to a registry.
func RegisterBuiltinTools(reg *ToolRegistry, store *memory.Store, runner sqlrunner.Runner) {
	reg.Register(provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        ToolRunSQL,
			Description: "Execute a SQL query against the PostgreSQL database and return the result rows",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sql": map[string]string{"type": "string", "description": "SQL query to execute"},
				},
				"required": []string{"sql"},
			},
		},
	}, allUsers, func(ctx context.Context, u *user.User, args string) (string, error) {
		var p struct {
			SQL string `json:"sql"`
		}
		if err := json.Unmarshal([]byte(args), &p); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
		res, err := runner.Run(ctx, p.SQL)
		if err != nil {
			return "", err
		}
		return marshal(res)
	})

	reg.Register(provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        ToolVisualizeData,
			Description: "Run a SQL query and describe a chart (bar, line or table) for its result",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sql":        map[string]string{"type": "string", "description": "SQL query producing the data to plot"},
					"title":      map[string]string{"type": "string", "description": "Chart title"},
					"chart_type": map[string]string{"type": "string", "description": "Preferred chart type: bar|line|table (optional)"},
				},
				"required": []string{"sql"},
			},
		},
	}, allUsers, func(ctx context.Context, u *user.User, args string) (string, error) {
		var p struct {
			SQL       string `json:"sql"`
			Title     string `json:"title"`
			ChartType string `json:"chart_type"`
		}
		if err := json.Unmarshal([]byte(args), &p); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
		res, err := runner.Run(ctx, p.SQL)
		if err != nil {
			return "", err
		}
		return marshal(BuildChart(res, p.Title, ChartType(p.ChartType)))
	})

	reg.Register(provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        ToolSaveToolUse,
			Description: "Remember a question together with the tool and arguments that answered it correctly",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question":  map[string]string{"type": "string", "description": "The user question that was answered"},
					"tool_name": map[string]string{"type": "string", "description": "Name of the tool that was used"},
					"args":      map[string]string{"type": "object", "description": "Arguments passed to the tool"},
					"outcome":   map[string]string{"type": "string", "description": "Short description of the result (optional)"},
				},
				"required": []string{"question", "tool_name", "args"},
			},
		},
	}, adminsOnly, func(ctx context.Context, u *user.User, args string) (string, error) {
		var p struct {
			Question string          `json:"question"`
			ToolName string          `json:"tool_name"`
			Args     json.RawMessage `json:"args"`
			Outcome  string          `json:"outcome"`
		}
		if err := json.Unmarshal([]byte(args), &p); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
		id, err := store.SaveToolUse(u.ID, memory.ToolUse{
			Question: p.Question,
			ToolName: p.ToolName,
			Args:     p.Args,
			Outcome:  p.Outcome,
			Success:  true,
		})
		if err != nil {
			return "", err
		}
		return marshal(map[string]string{"status": "saved", "id": id})
	})

	reg.Register(provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        ToolSearchToolUses,
			Description: "Search previously saved correct tool uses for questions similar to this one",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]string{"type": "string", "description": "Question to look up"},
					"limit":    map[string]string{"type": "integer", "description": "Maximum number of results (default 5)"},
				},
				"required": []string{"question"},
			},
		},
	}, allUsers, func(ctx context.Context, u *user.User, args string) (string, error) {
		var p struct {
			Question string  `json:"question"`
			Limit    float64 `json:"limit"` // integral, but may arrive as 5.0
		}
		if err := json.Unmarshal([]byte(args), &p); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
		items := SearchToolUses(store, u.ID, p.Question, int(p.Limit))
		results := make([]memory.ToolUse, len(items))
		for i, it := range items {
			results[i] = *it.ToolUse
		}
		return marshal(map[string]any{"results": results, "count": len(results)})
	})

	reg.Register(provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        ToolSaveTextMemory,
			Description: "Save a free-text note about the database or the user's preferences for later conversations",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]string{"type": "string", "description": "Note to remember"},
				},
				"required": []string{"text"},
			},
		},
	}, allUsers, func(ctx context.Context, u *user.User, args string) (string, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(args), &p); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
		id, err := store.SaveTextNote(u.ID, p.Text)
		if err != nil {
			return "", err
		}
		return marshal(map[string]string{"status": "saved", "id": id})
	})
}

// SearchToolUses returns up to limit tool uses saved under scope for
// question. Items matching the whole question come first; when there are
// fewer than limit, items matching any single keyword of the question fill
// the rest. Each group is most recent first.
func SearchToolUses(store *memory.Store, scope, question string, limit int) []memory.Item {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	var out []memory.Item
	seen := make(map[string]bool)
	collect := func(query string) {
		for it := range store.Search(scope, query, memory.KindToolUse) {
			if len(out) >= limit {
				return
			}
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			out = append(out, it)
		}
	}

	collect(question)
	if strings.TrimSpace(question) == "" {
		return out
	}
	for _, kw := range extractKeywords(question) {
		if len(out) >= limit {
			break
		}
		collect(kw)
	}
	return out
}

// toolError renders err the way tool failures are reported to the model.
func toolError(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

// isClientError reports whether err was caused by bad tool input rather
// than an infrastructure failure.
func isClientError(err error) bool {
	return errors.Is(err, memory.ErrInvalidArgument) ||
		errors.Is(err, sqlrunner.ErrEmptyQuery) ||
		errors.Is(err, ErrUnknownTool) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrInvalidToolArgs)
}
