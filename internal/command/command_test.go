package command

import (
	"context"
	"strings"
	"testing"

	"github.com/nidhogg/sqlagent/internal/memory"
	"github.com/nidhogg/sqlagent/internal/user"
	"go.uber.org/zap"
)

var (
	admin   = &user.User{ID: "admin@example.com", Email: "admin@example.com", Groups: []string{user.GroupAdmin}}
	analyst = &user.User{ID: "analyst@example.com", Email: "analyst@example.com", Groups: []string{user.GroupUser}}
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{User: analyst}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" || result.Command != "ping" {
		t.Errorf("got %+v, want pong: hello", result)
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "Unknown command") {
		t.Errorf("got %q, want unknown command message", result.Content)
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})
	reg.Register(&Command{Name: "gamma", Groups: []string{user.GroupAdmin}})

	list := reg.List(analyst)
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
	if n := len(reg.List(admin)); n != 3 {
		t.Errorf("admin sees %d commands, want 3", n)
	}
}

func TestIsCommand(t *testing.T) {
	for input, want := range map[string]bool{
		"/help":            true,
		"  /recall sales ": true,
		"/":                false,
		"/ help":           false,
		"// comment":       false,
		"how many orders?": false,
	} {
		if got := IsCommand(input); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", input, got, want)
		}
	}
}

func newMemoryRegistry() (*Registry, *memory.Store) {
	store := memory.NewStore(10, zap.NewNop())
	reg := NewRegistry()
	RegisterBuiltins(reg)
	RegisterMemoryCommands(reg, store, store)
	return reg, store
}

func TestRememberAndRecall(t *testing.T) {
	reg, store := newMemoryRegistry()
	ctx := context.Background()
	cc := &CommandContext{User: analyst}

	res, err := reg.Dispatch(ctx, "/remember fiscal year starts in April", cc)
	if err != nil || res.Content != "Noted." {
		t.Fatalf("remember: %+v %v", res, err)
	}
	store.SaveToolUse(analyst.ID, memory.ToolUse{Question: "fiscal revenue", ToolName: "run_sql"})
	store.SaveTextNote(admin.ID, "fiscal secret")

	res, err = reg.Dispatch(ctx, "/recall fiscal", cc)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	items := res.Data.([]memory.Item)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Kind != memory.KindToolUse {
		t.Errorf("expected most recent first, got %q", items[0].Kind)
	}
	if strings.Contains(res.Content, "secret") {
		t.Error("recall leaked another user's note")
	}

	res, _ = reg.Dispatch(ctx, "/remember", cc)
	if !strings.HasPrefix(res.Content, "Usage") {
		t.Errorf("got %q, want usage", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/recall nothing-like-this", cc)
	if res.Content != "Nothing remembered yet." {
		t.Errorf("got %q", res.Content)
	}
}

func TestMemStatsAdminOnly(t *testing.T) {
	reg, store := newMemoryRegistry()
	ctx := context.Background()
	store.SaveTextNote(analyst.ID, "one")

	res, _ := reg.Dispatch(ctx, "/memstats", &CommandContext{User: analyst})
	if !strings.Contains(res.Content, "Unknown command") {
		t.Errorf("analyst ran memstats: %q", res.Content)
	}

	res, err := reg.Dispatch(ctx, "/memstats", &CommandContext{User: admin})
	if err != nil {
		t.Fatalf("memstats: %v", err)
	}
	if res.Content != "tool uses 0/10, text notes 1/10" {
		t.Errorf("got %q", res.Content)
	}
}

func TestHelpAndWhoami(t *testing.T) {
	reg, _ := newMemoryRegistry()
	ctx := context.Background()

	res, _ := reg.Dispatch(ctx, "/help", &CommandContext{User: analyst})
	if strings.Contains(res.Content, "/memstats") || !strings.Contains(res.Content, "/remember") {
		t.Errorf("help for analyst:\n%s", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/whoami", &CommandContext{User: admin})
	if res.Content != "admin@example.com (admin)" {
		t.Errorf("whoami: %q", res.Content)
	}
}
