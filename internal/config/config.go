package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for chataide.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Browser   BrowserConfig             `json:"browser"`
	Backend   BackendConfig             `json:"backend"`
	Sites     SitesConfig               `json:"sites"`
	Server    ServerConfig              `json:"server"`
	Providers map[string]ProviderConfig `json:"providers"`
	Audit     AuditConfig               `json:"audit"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// BrowserConfig selects how the browser adapter reaches Chrome. With
// remoteURL set it attaches to an already running browser over DevTools;
// otherwise it launches Chrome on profileDir.
type BrowserConfig struct {
	RemoteURL      string `json:"remoteURL,omitempty"` // e.g. ws://127.0.0.1:9222/devtools/browser/...
	ProfileDir     string `json:"profileDir"`
	Headless       bool   `json:"headless"`
	StartURL       string `json:"startURL"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	DebugPort      int    `json:"debugPort"`            // local Chrome's --remote-debugging-port
	ChromePath     string `json:"chromePath,omitempty"` // looked up on PATH when empty
}

// BackendConfig describes the reply-generation endpoints the client walks:
// scheme://host:{basePort .. basePort+portSpan-1}{path}.
type BackendConfig struct {
	Scheme           string `json:"scheme"`
	Host             string `json:"host"`
	BasePort         int    `json:"basePort"`
	PortSpan         int    `json:"portSpan"`
	Path             string `json:"path"`
	AttemptTimeoutMs int    `json:"attemptTimeoutMs"`
	Age              int    `json:"age,omitempty"` // 0 = not sent
}

type SitesConfig struct {
	OverridesFile string `json:"overridesFile,omitempty"`
}

// ServerConfig configures the reply service started by `chataide serve`.
type ServerConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	PromptFile      string   `json:"promptFile,omitempty"`
	DefaultProvider string   `json:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty"`
	MaxTokens       int      `json:"maxTokens"`
	Temperature     float64  `json:"temperature"`
	APIKey          string   `json:"apiKey,omitempty"` // optional bearer token for callers
	// Provider calls are throttled when RateLimitPerMinute > 0.
	RateLimitPerMinute float64 `json:"rateLimitPerMinute,omitempty"`
	RateLimitBurst     int     `json:"rateLimitBurst,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// AuditConfig configures the outcome journal. Only outcome metadata is
// stored, never message or reply text.
type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// MetricsConfig configures the Prometheus metrics endpoint of the reply service.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.chataide).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chataide"
	}
	return filepath.Join(home, ".chataide")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	expandPaths(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns expanded defaults when the file does
// not exist yet.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(ExpandPath(path)); os.IsNotExist(statErr) {
		cfg = Defaults()
		for name, pc := range cfg.Providers {
			pc.APIKey = ExpandEnvVars(pc.APIKey)
			cfg.Providers[name] = pc
		}
		expandPaths(cfg)
		return cfg, nil
	}
	return nil, err
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Browser.TimeoutSeconds < 1 || cfg.Browser.TimeoutSeconds > 600 {
		errs = append(errs, "browser.timeoutSeconds must be between 1 and 600")
	}
	if cfg.Browser.DebugPort < 1 || cfg.Browser.DebugPort > 65535 {
		errs = append(errs, "browser.debugPort must be between 1 and 65535")
	}

	switch cfg.Backend.Scheme {
	case "http", "https":
	default:
		errs = append(errs, "backend.scheme must be http or https")
	}
	if cfg.Backend.Host == "" {
		errs = append(errs, "backend.host is required")
	}
	if cfg.Backend.BasePort < 1 || cfg.Backend.BasePort > 65535 {
		errs = append(errs, "backend.basePort must be between 1 and 65535")
	}
	if cfg.Backend.PortSpan < 1 || cfg.Backend.BasePort+cfg.Backend.PortSpan-1 > 65535 {
		errs = append(errs, "backend.portSpan must be >= 1 and stay within the port range")
	}
	if !strings.HasPrefix(cfg.Backend.Path, "/") {
		errs = append(errs, "backend.path must start with /")
	}
	if cfg.Backend.AttemptTimeoutMs < 100 {
		errs = append(errs, "backend.attemptTimeoutMs must be >= 100")
	}
	if cfg.Backend.Age < 0 {
		errs = append(errs, "backend.age must be >= 0")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.Temperature < 0 || cfg.Server.Temperature > 2 {
		errs = append(errs, "server.temperature must be between 0 and 2")
	}
	if cfg.Server.MaxTokens < 1 {
		errs = append(errs, "server.maxTokens must be >= 1")
	}
	if cfg.Server.RateLimitPerMinute < 0 || cfg.Server.RateLimitBurst < 0 {
		errs = append(errs, "server.rateLimitPerMinute and server.rateLimitBurst must be >= 0")
	}
	for _, name := range cfg.Server.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("server.failoverChain references unknown provider: %s", name))
		}
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Audit.RetentionDays < 1 {
		errs = append(errs, "audit.retentionDays must be >= 1")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func expandPaths(cfg *Config) {
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Browser.ProfileDir = ExpandPath(cfg.Browser.ProfileDir)
	cfg.Sites.OverridesFile = ExpandPath(cfg.Sites.OverridesFile)
	cfg.Server.PromptFile = ExpandPath(cfg.Server.PromptFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
}

// replyMargin leaves room for the reply to travel back before the client's
// attempt times out.
const replyMargin = 500 * time.Millisecond

// ReplyBudget is how long the reply service may spend on one LLM call: the
// client's per-attempt window minus replyMargin, never below one second.
func ReplyBudget(cfg *Config) time.Duration {
	budget := time.Duration(cfg.Backend.AttemptTimeoutMs)*time.Millisecond - replyMargin
	if budget < time.Second {
		return time.Second
	}
	return budget
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
