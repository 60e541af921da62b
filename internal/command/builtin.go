package command

import (
	"context"
	"fmt"
	"strings"
)

// RegisterBuiltins registers /help and /whoami.
func RegisterBuiltins(reg *Registry) {
	reg.Register(&Command{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			var sb strings.Builder
			sb.WriteString("Available commands:\n")
			for _, cmd := range reg.List(cc.User) {
				fmt.Fprintf(&sb, "  %s - %s\n", cmd.Usage, cmd.Description)
			}
			return &CommandResult{Content: sb.String()}, nil
		},
	})

	reg.Register(&Command{
		Name:        "whoami",
		Description: "Show the current user and groups",
		Usage:       "/whoami",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if cc.User == nil {
				return &CommandResult{Content: "Not signed in."}, nil
			}
			return &CommandResult{
				Content: fmt.Sprintf("%s (%s)", cc.User.Email, strings.Join(cc.User.Groups, ", ")),
				Data:    cc.User,
			}, nil
		},
	})
}
