package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type client struct {
	server string
	email  string
	http   *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:8000", "SQL agent server URL")
	email := flag.String("email", "", "Email to chat as (empty means guest)")
	flag.Parse()

	c := &client{server: strings.TrimRight(*server, "/"), email: *email, http: &http.Client{Timeout: 3 * time.Minute}}

	fmt.Println("SQL Agent CLI Chat")
	fmt.Printf("Server: %s\n", c.server)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /me, /tools, /notes [query], /memory [query]")
	fmt.Println("Server commands: /help, /remember <text>, /recall [query]")
	fmt.Println("---")

	c.whoami()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		cmd, arg, _ := strings.Cut(input, " ")
		switch cmd {
		case "/me":
			c.whoami()
		case "/tools":
			c.listTools()
		case "/notes":
			c.searchMemory(arg, "text_note")
		case "/memory":
			c.searchMemory(arg, "")
		default:
			c.sendMessage(input)
		}
	}
}

func (c *client) do(method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequest(method, c.server+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.email != "" {
		req.AddCookie(&http.Cookie{Name: "vanna_email", Value: c.email})
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) whoami() {
	var me struct {
		Email  string   `json:"email"`
		Groups []string `json:"group_memberships"`
	}
	if err := c.do(http.MethodGet, "/api/me", nil, &me); err != nil {
		printError("Failed to resolve user: %v", err)
		return
	}
	fmt.Printf("Signed in as %s (%s)\n", me.Email, strings.Join(me.Groups, ", "))
}

func (c *client) listTools() {
	var tools []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.do(http.MethodGet, "/api/tools", nil, &tools); err != nil {
		printError("Failed to fetch tools: %v", err)
		return
	}
	fmt.Println("Available tools:")
	for _, t := range tools {
		fmt.Printf("  %s: %s\n", t.Name, t.Description)
	}
}

func (c *client) searchMemory(query, kind string) {
	q := url.Values{}
	q.Set("q", query)
	if kind != "" {
		q.Set("kind", kind)
	}
	var page struct {
		Items []struct {
			Kind    string `json:"kind"`
			Text    string `json:"text"`
			ToolUse *struct {
				Question string          `json:"question"`
				ToolName string          `json:"tool_name"`
				Args     json.RawMessage `json:"args"`
			} `json:"tool_use"`
		} `json:"items"`
		Count int `json:"count"`
	}
	if err := c.do(http.MethodGet, "/api/memory/search?"+q.Encode(), nil, &page); err != nil {
		printError("Failed to search memory: %v", err)
		return
	}
	if page.Count == 0 {
		fmt.Println("Nothing remembered yet.")
		return
	}
	for _, it := range page.Items {
		if it.ToolUse != nil {
			fmt.Printf("  [%s] %s -> %s %s\n", it.Kind, it.ToolUse.Question, it.ToolUse.ToolName, it.ToolUse.Args)
		} else {
			fmt.Printf("  [%s] %s\n", it.Kind, it.Text)
		}
	}
}

func (c *client) sendMessage(content string) {
	body, _ := json.Marshal(map[string]string{"message": content})

	var result struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Name   string `json:"name"`
			Failed bool   `json:"failed"`
		} `json:"tool_calls"`
	}
	if err := c.do(http.MethodPost, "/api/chat", bytes.NewReader(body), &result); err != nil {
		printError("Request failed: %v", err)
		return
	}

	for _, tc := range result.ToolCalls {
		icon := "\033[32m✓\033[0m"
		if tc.Failed {
			icon = "\033[31m✗\033[0m"
		}
		fmt.Printf("  %s \033[36m%s\033[0m\n", icon, tc.Name)
	}
	fmt.Println(result.Content)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
