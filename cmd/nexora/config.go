package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the nexora server: just enough
// to stand up the execution core's collaborators (Postgres, Redis, an
// LLM provider, the sandbox/worker pools, and the HTTP boundary) — no
// channel adapters, skills, or marketplace settings, since none of that
// lives in this binary.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP/SSE boundary.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

// DatabaseConfig points at the Postgres-compatible store backing
// resources and execution records (jobs live in Redis).
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RedisConfig points at the Redis instance backing the job queue and
// stream relay's pub/sub.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LLMConfig registers the providers the agent loop may resolve to.
type LLMConfig struct {
	DefaultProvider string         `yaml:"default_provider"`
	Anthropic       ProviderConfig `yaml:"anthropic"`
	OpenAI          ProviderConfig `yaml:"openai"`
}

// ProviderConfig is shared by every registered LLMProvider adapter.
type ProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxAttempts  int    `yaml:"max_attempts"`
}

// SandboxConfig tunes the ContainerPool and selects its driver.
type SandboxConfig struct {
	Driver          string        `yaml:"driver"` // "docker" or "firecracker"
	Image           string        `yaml:"image"`
	HostRoot        string        `yaml:"host_root"`
	MinSize         int           `yaml:"min_size"`
	MaxSize         int           `yaml:"max_size"`
	MinIdle         int           `yaml:"min_idle"`
	MaxExecutions   int           `yaml:"max_executions"`
	CPUMillicores   int           `yaml:"cpu_millicores"`
	MemoryMB        int           `yaml:"memory_mb"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	FunctionTimeout time.Duration `yaml:"function_timeout"`
}

// WorkerConfig tunes the SharedWorkerPool used by SharedPool functions.
type WorkerConfig struct {
	Image           string        `yaml:"image"`
	HostRoot        string        `yaml:"host_root"`
	WorkerCount     int           `yaml:"worker_count"`
	CPUMillicores   int           `yaml:"cpu_millicores"`
	MemoryMB        int           `yaml:"memory_mb"`
	FunctionTimeout time.Duration `yaml:"function_timeout"`
}

// LoggingConfig controls the root slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads path as YAML, expanding ${VAR} references against the
// process environment, applies NEXORA_* env overrides, fills defaults,
// and validates the result — the same load/override/default/validate
// pipeline the gateway's own config.Load follows, narrowed to this
// binary's collaborators.
func Load(path string) (*Config, error) {
	if envPath := strings.TrimSpace(os.Getenv("NEXORA_ENV_FILE")); envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("NEXORA_HTTP_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.LLM.Anthropic.APIKey = v
		cfg.LLM.Anthropic.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLM.OpenAI.APIKey = v
		cfg.LLM.OpenAI.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("NEXORA_LLM_DEFAULT_PROVIDER")); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("NEXORA_SANDBOX_DRIVER")); v != "" {
		cfg.Sandbox.Driver = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}

	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 5 * time.Second
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}

	if cfg.LLM.DefaultProvider == "" {
		switch {
		case cfg.LLM.Anthropic.Enabled:
			cfg.LLM.DefaultProvider = "anthropic"
		case cfg.LLM.OpenAI.Enabled:
			cfg.LLM.DefaultProvider = "openai"
		}
	}
	applyProviderDefaults(&cfg.LLM.Anthropic, "claude-sonnet-4-5")
	applyProviderDefaults(&cfg.LLM.OpenAI, "gpt-4o")

	if cfg.Sandbox.Driver == "" {
		cfg.Sandbox.Driver = "docker"
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "nexora-sandbox:latest"
	}
	if cfg.Sandbox.HostRoot == "" {
		cfg.Sandbox.HostRoot = "/var/lib/nexora/sandbox"
	}
	if cfg.Sandbox.MinSize == 0 {
		cfg.Sandbox.MinSize = 2
	}
	if cfg.Sandbox.MaxSize == 0 {
		cfg.Sandbox.MaxSize = 10
	}
	if cfg.Sandbox.MinIdle == 0 {
		cfg.Sandbox.MinIdle = 1
	}
	if cfg.Sandbox.MaxExecutions == 0 {
		cfg.Sandbox.MaxExecutions = 50
	}
	if cfg.Sandbox.CPUMillicores == 0 {
		cfg.Sandbox.CPUMillicores = 500
	}
	if cfg.Sandbox.MemoryMB == 0 {
		cfg.Sandbox.MemoryMB = 512
	}
	if cfg.Sandbox.AcquireTimeout == 0 {
		cfg.Sandbox.AcquireTimeout = 10 * time.Second
	}
	if cfg.Sandbox.FunctionTimeout == 0 {
		cfg.Sandbox.FunctionTimeout = 30 * time.Second
	}

	if cfg.Worker.Image == "" {
		cfg.Worker.Image = cfg.Sandbox.Image
	}
	if cfg.Worker.HostRoot == "" {
		cfg.Worker.HostRoot = "/var/lib/nexora/worker"
	}
	if cfg.Worker.WorkerCount == 0 {
		cfg.Worker.WorkerCount = 3
	}
	if cfg.Worker.CPUMillicores == 0 {
		cfg.Worker.CPUMillicores = 500
	}
	if cfg.Worker.MemoryMB == 0 {
		cfg.Worker.MemoryMB = 512
	}
	if cfg.Worker.FunctionTimeout == 0 {
		cfg.Worker.FunctionTimeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyProviderDefaults(p *ProviderConfig, defaultModel string) {
	if p.DefaultModel == "" {
		p.DefaultModel = defaultModel
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
}

// ConfigValidationError collects every config problem found in one
// pass, so operators fix all of them instead of one-at-a-time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if strings.TrimSpace(cfg.Database.URL) == "" {
		issues = append(issues, "database.url is required")
	}
	if cfg.LLM.DefaultProvider == "" {
		issues = append(issues, "llm.default_provider must be set, or an anthropic/openai api_key provided")
	}
	if cfg.LLM.Anthropic.Enabled && strings.TrimSpace(cfg.LLM.Anthropic.APIKey) == "" {
		issues = append(issues, "llm.anthropic.api_key is required when llm.anthropic.enabled is true")
	}
	if cfg.LLM.OpenAI.Enabled && strings.TrimSpace(cfg.LLM.OpenAI.APIKey) == "" {
		issues = append(issues, "llm.openai.api_key is required when llm.openai.enabled is true")
	}
	if cfg.Sandbox.Driver != "docker" && cfg.Sandbox.Driver != "firecracker" {
		issues = append(issues, fmt.Sprintf("sandbox.driver must be \"docker\" or \"firecracker\", got %q", cfg.Sandbox.Driver))
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
