package agent

import "time"

// StepType identifies the kind of trace step.
type StepType string

const (
	StepMemoryRecall StepType = "memory_recall"
	StepReasoning    StepType = "reasoning"
	StepToolCall     StepType = "tool_call"
	StepToolResult   StepType = "tool_result"
	StepResponse     StepType = "response"
)

// Trace records what the engine did while answering one message.
type Trace struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Steps     []Step        `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Step is a single entry in a Trace.
type Step struct {
	Type       StepType  `json:"type"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokensUsed int       `json:"tokens_used,omitempty"`
}

func (t *Trace) add(typ StepType, content string) {
	t.Steps = append(t.Steps, Step{Type: typ, Content: content, Timestamp: time.Now()})
}
