package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/sqlagent/internal/memory"
	"github.com/nidhogg/sqlagent/internal/provider"
	"github.com/nidhogg/sqlagent/internal/user"
	"go.uber.org/zap"
)

const maxToolRounds = 5

const roundLimitMessage = "Stopped after %d tool rounds without a final answer. Try a narrower question."

// DefaultSystemPrompt instructs the model how to use the built-in tools.
const DefaultSystemPrompt = `You are a data analyst assistant connected to a PostgreSQL database.
Answer questions by writing SQL and calling run_sql. Use visualize_data when a chart helps.
Before writing a query, call search_saved_correct_tool_uses to reuse queries that worked before.
When a query answers the question correctly, save it with save_question_tool_args if that tool is available.
Use save_text_memory to remember facts about the schema or the user's preferences.
Keep answers short and explain the numbers you report.`

var (
	// ErrEmptyMessage is returned when Execute is called without a message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoUser is returned when Execute is called without a resolved user.
	ErrNoUser = errors.New("no user")
)

// Options tune an Engine.
type Options struct {
	SystemPrompt string
	// RecentNotes is how many of the user's latest text notes are added to
	// the prompt. Zero means 5, negative disables.
	RecentNotes int
	MaxTokens   int
}

// Engine answers user messages with a bounded tool-calling loop.
type Engine struct {
	router *provider.Router
	memory *memory.Store
	tools  *ToolRegistry
	opts   Options
	logger *zap.Logger
}

// NewEngine creates a new agent engine.
func NewEngine(router *provider.Router, mem *memory.Store, tools *ToolRegistry, opts Options, logger *zap.Logger) *Engine {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.RecentNotes == 0 {
		opts.RecentNotes = 5
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Engine{
		router: router,
		memory: mem,
		tools:  tools,
		opts:   opts,
		logger: logger,
	}
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry { return e.tools }

// ToolInvocation is a tool call made while answering a message.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
	Failed    bool   `json:"failed,omitempty"`
}

// ExecuteResult holds the output of an agent execution.
type ExecuteResult struct {
	Content   string           `json:"content"`
	ToolCalls []ToolInvocation `json:"tool_calls"`
	Usage     provider.Usage   `json:"usage"`
	Trace     *Trace           `json:"trace"`
}

// Execute answers msg on behalf of u.
func (e *Engine) Execute(ctx context.Context, u *user.User, msg string) (*ExecuteResult, error) {
	if u == nil {
		return nil, ErrNoUser
	}
	if strings.TrimSpace(msg) == "" {
		return nil, ErrEmptyMessage
	}

	trace := &Trace{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		StartedAt: time.Now(),
	}

	notes := e.recentNotes(u.ID)
	if len(notes) > 0 {
		trace.add(StepMemoryRecall, fmt.Sprintf("Recalled %d text notes", len(notes)))
	}

	req := &provider.ChatRequest{
		Messages:  e.buildMessages(msg, notes),
		MaxTokens: e.opts.MaxTokens,
		Tools:     e.tools.Definitions(u),
	}
	result := &ExecuteResult{ToolCalls: []ToolInvocation{}, Trace: trace}

	trace.add(StepReasoning, "Sending request to LLM")

	var resp *provider.ChatResponse
	for round := 0; round < maxToolRounds; round++ {
		var err error
		resp, err = e.router.Route(ctx, req)
		if err != nil {
			return nil, err
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 || resp.FinishReason != provider.FinishToolCalls {
			break
		}

		trace.add(StepToolCall, fmt.Sprintf("Calling %d tool(s)", len(resp.ToolCalls)))
		req.Messages = append(req.Messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			inv := e.runTool(ctx, u, tc)
			result.ToolCalls = append(result.ToolCalls, inv)
			trace.add(StepToolResult, fmt.Sprintf("%s → %s", tc.Function.Name, truncate(inv.Result, 200)))
			req.Messages = append(req.Messages, provider.Message{
				Role:       "tool",
				Name:       tc.Function.Name,
				Content:    inv.Result,
				ToolCallID: tc.ID,
			})
		}

		e.logger.Debug("tool round complete",
			zap.String("user", u.ID),
			zap.Int("round", round+1),
			zap.Int("tool_calls", len(resp.ToolCalls)))
	}

	result.Content = resp.Content
	if resp.FinishReason == provider.FinishToolCalls && len(resp.ToolCalls) > 0 {
		// The last round's tool results were never shown to the model.
		result.Content = fmt.Sprintf(roundLimitMessage, maxToolRounds)
		e.logger.Warn("tool round limit reached", zap.String("user", u.ID), zap.Int("rounds", maxToolRounds))
	}
	trace.Steps = append(trace.Steps, Step{
		Type:       StepResponse,
		Content:    result.Content,
		Timestamp:  time.Now(),
		TokensUsed: result.Usage.TotalTokens,
	})
	trace.Duration = time.Since(trace.StartedAt)
	return result, nil
}

func (e *Engine) runTool(ctx context.Context, u *user.User, tc provider.ToolCall) ToolInvocation {
	inv := ToolInvocation{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	out, err := e.tools.Execute(ctx, u, tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		if isClientError(err) {
			e.logger.Debug("tool rejected call", zap.String("tool", inv.Name), zap.Error(err))
		} else {
			e.logger.Warn("tool failed", zap.String("tool", inv.Name), zap.Error(err))
		}
		inv.Result = toolError(err)
		inv.Failed = true
		return inv
	}
	inv.Result = out
	return inv
}

func (e *Engine) recentNotes(scope string) []string {
	if e.memory == nil || e.opts.RecentNotes < 0 {
		return nil
	}
	var notes []string
	for it := range e.memory.Search(scope, "", memory.KindTextNote) {
		notes = append(notes, it.Text)
		if len(notes) >= e.opts.RecentNotes {
			break
		}
	}
	return notes
}

func (e *Engine) buildMessages(userMsg string, notes []string) []provider.Message {
	msgs := []provider.Message{
		{Role: "system", Content: e.opts.SystemPrompt},
	}
	if len(notes) > 0 {
		var b strings.Builder
		b.WriteString("Notes you saved earlier for this user, newest first:\n")
		for _, n := range notes {
			b.WriteString("- ")
			b.WriteString(n)
			b.WriteString("\n")
		}
		msgs = append(msgs, provider.Message{Role: "system", Content: b.String()})
	}
	msgs = append(msgs, provider.Message{
		Role:    "user",
		Content: userMsg,
	})
	return msgs
}

// extractKeywords does a simple keyword extraction from text.
// Splits on whitespace/punctuation, filters short words and stopwords.
func extractKeywords(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})

	seen := make(map[string]bool)
	var result []string
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 3 || stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		result = append(result, lower)
		if len(result) >= 20 {
			break
		}
	}
	return result
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true,
	"but": true, "not": true, "you": true, "all": true,
	"can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true,
	"have": true, "been": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true,
	"what": true, "when": true, "make": true, "like": true,
	"just": true, "into": true, "than": true, "them": true,
	"some": true, "could": true, "would": true, "there": true,
	"how": true, "many": true, "much": true, "which": true,
	"show": true, "get": true, "list": true, "per": true,
}
