package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	LLM      LLMConfig      `json:"llm"`
	Database DatabaseConfig `json:"database"`
	Memory   MemoryConfig   `json:"memory"`
	Auth     AuthConfig     `json:"auth"`
	Redis    RedisConfig    `json:"redis"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	Provider  string            `json:"provider"` // gemini|openai|anthropic
	Model     string            `json:"model"`
	APIKey    string            `json:"api_key"`
	Endpoint  string            `json:"endpoint"`
	Timeout   Duration          `json:"timeout"`
	Fallbacks []LLMConfig       `json:"fallbacks,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type DatabaseConfig struct {
	URL          string   `json:"url"`
	MaxRows      int      `json:"max_rows"`
	QueryTimeout Duration `json:"query_timeout"`
}

type MemoryConfig struct {
	MaxItems int `json:"max_items"`
}

// AuthConfig drives the cookie based user resolver.
type AuthConfig struct {
	CookieName   string   `json:"cookie_name"`
	DefaultEmail string   `json:"default_email"`
	AdminEmails  []string `json:"admin_emails"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// defaultDocument is used when no config file exists. It reads the same
// environment variables a config file would reference.
const defaultDocument = `{
	"server": {"port": ${PORT:8000}, "log_level": "${LOG_LEVEL:info}"},
	"llm": {
		"provider": "${LLM_PROVIDER:gemini}",
		"model": "${LLM_MODEL:}",
		"api_key": "${GOOGLE_API_KEY}",
		"endpoint": "${LLM_ENDPOINT:}"
	},
	"database": {"url": "${DATABASE_URL}"},
	"memory": {"max_items": ${MEMORY_MAX_ITEMS:1000}},
	"redis": {"url": "${REDIS_URL:}"}
}`

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references. A missing file falls back to the built-in default document.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(defaultDocument)
	} else if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a JSON config document after env substitution and fills defaults.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	c.LLM.applyDefaults()
	for i := range c.LLM.Fallbacks {
		c.LLM.Fallbacks[i].applyDefaults()
	}
	if c.Database.MaxRows <= 0 {
		c.Database.MaxRows = 1000
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = Duration(30 * time.Second)
	}
	if c.Memory.MaxItems <= 0 {
		c.Memory.MaxItems = 1000
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "vanna_email"
	}
	if c.Auth.DefaultEmail == "" {
		c.Auth.DefaultEmail = "guest@example.com"
	}
	if len(c.Auth.AdminEmails) == 0 {
		c.Auth.AdminEmails = []string{"admin@example.com"}
	}
}

func (l *LLMConfig) applyDefaults() {
	if l.Provider == "" {
		l.Provider = "gemini"
	}
	if l.Model == "" {
		switch l.Provider {
		case "gemini":
			l.Model = "gemini-2.5-flash"
		case "openai":
			l.Model = "gpt-4o-mini"
		case "anthropic":
			l.Model = "claude-3-5-haiku-latest"
		}
	}
	if l.Timeout == 0 {
		l.Timeout = Duration(120 * time.Second)
	}
}

// Validate reports every missing or malformed required setting at once.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		problems = append(problems, "llm.api_key is empty (set GOOGLE_API_KEY)")
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		problems = append(problems, "database.url is empty (set DATABASE_URL)")
	}
	for _, l := range append([]LLMConfig{c.LLM}, c.LLM.Fallbacks...) {
		switch l.Provider {
		case "gemini", "openai", "anthropic":
		default:
			problems = append(problems, fmt.Sprintf("unknown llm provider %q", l.Provider))
		}
	}
	if _, err := zapcore.ParseLevel(c.Server.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log level %q", c.Server.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
