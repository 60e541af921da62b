package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes the two independently bounded collections.
type Kind string

const (
	// KindAny selects both collections when used as a filter.
	KindAny      Kind = ""
	KindToolUse  Kind = "tool_use"
	KindTextNote Kind = "text_note"
)

// ParseKind accepts "", "tool_use" and "text_note".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAny, KindToolUse, KindTextNote:
		return k, nil
	}
	return KindAny, fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, s)
}

var (
	// ErrInvalidArgument is returned for a blank scope or an empty/malformed payload.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by Get for unknown or evicted items.
	ErrNotFound = errors.New("memory item not found")
)

// ToolUse records a tool invocation the agent considered correct.
type ToolUse struct {
	Question string          `json:"question,omitempty"`
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
	Outcome  string          `json:"outcome,omitempty"`
	Success  bool            `json:"success"`
}

// Item is a single stored memory. Exactly one of ToolUse and Text is set,
// according to Kind.
type Item struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Scope     string    `json:"scope"`
	Seq       uint64    `json:"seq"`
	ToolUse   *ToolUse  `json:"tool_use,omitempty"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// searchText is the text a query is matched against.
func (it Item) searchText() string {
	if it.ToolUse == nil {
		return it.Text
	}
	tu := it.ToolUse
	return tu.Question + " " + tu.ToolName + " " + string(tu.Args) + " " + tu.Outcome
}

// clone returns a copy that shares no mutable state with the store.
func (it Item) clone() Item {
	if it.ToolUse != nil {
		tu := *it.ToolUse
		tu.Args = append(json.RawMessage(nil), tu.Args...)
		it.ToolUse = &tu
	}
	return it
}
