package command

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/nidhogg/sqlagent/internal/memory"
	"github.com/nidhogg/sqlagent/internal/user"
)

const recallLimit = 10

// NoteWriter saves text notes.
type NoteWriter interface {
	SaveTextNote(scope, text string) (string, error)
}

// MemoryReader queries agent memory.
type MemoryReader interface {
	Search(scope, query string, kind memory.Kind) iter.Seq[memory.Item]
	Len(kind memory.Kind) int
	MaxItems() int
}

// RegisterMemoryCommands registers /remember, /recall and /memstats.
func RegisterMemoryCommands(reg *Registry, w NoteWriter, r MemoryReader) {
	reg.Register(rememberCommand(w))
	reg.Register(recallCommand(r))
	reg.Register(statsCommand(r))
}

func rememberCommand(w NoteWriter) *Command {
	return &Command{
		Name:        "remember",
		Description: "Save a note the agent will see in later conversations",
		Usage:       "/remember <text>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /remember <text>"}, nil
			}
			id, err := w.SaveTextNote(cc.User.ID, args)
			if errors.Is(err, memory.ErrInvalidArgument) {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			if err != nil {
				return nil, err
			}
			return &CommandResult{Content: "Noted.", Data: map[string]string{"id": id}}, nil
		},
	}
}

func recallCommand(r MemoryReader) *Command {
	return &Command{
		Name:        "recall",
		Description: "Show your saved notes and tool uses matching a query",
		Usage:       "/recall [query]",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			var items []memory.Item
			for it := range r.Search(cc.User.ID, args, memory.KindAny) {
				items = append(items, it)
				if len(items) >= recallLimit {
					break
				}
			}
			if len(items) == 0 {
				return &CommandResult{Content: "Nothing remembered yet.", Data: []memory.Item{}}, nil
			}

			var sb strings.Builder
			for _, it := range items {
				if it.ToolUse != nil {
					fmt.Fprintf(&sb, "- [%s] %s -> %s %s\n", it.Kind, it.ToolUse.Question, it.ToolUse.ToolName, it.ToolUse.Args)
				} else {
					fmt.Fprintf(&sb, "- [%s] %s\n", it.Kind, it.Text)
				}
			}
			return &CommandResult{Content: sb.String(), Data: items}, nil
		},
	}
}

func statsCommand(r MemoryReader) *Command {
	return &Command{
		Name:        "memstats",
		Description: "Show agent memory usage",
		Usage:       "/memstats",
		Groups:      []string{user.GroupAdmin},
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			stats := map[string]int{
				"tool_use":  r.Len(memory.KindToolUse),
				"text_note": r.Len(memory.KindTextNote),
				"max_items": r.MaxItems(),
			}
			return &CommandResult{
				Content: fmt.Sprintf("tool uses %d/%d, text notes %d/%d",
					stats["tool_use"], stats["max_items"], stats["text_note"], stats["max_items"]),
				Data: stats,
			}, nil
		},
	}
}
