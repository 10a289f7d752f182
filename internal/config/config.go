// Package config handles Eddie configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/eddie/config.yaml, /etc/eddie/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "eddie", "config.yaml"))
	}

	paths = append(paths, "/etc/eddie/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Eddie configuration.
type Config struct {
	Model    ModelConfig  `yaml:"model"`
	Agent    AgentConfig  `yaml:"agent"`
	Tasks    TaskConfig   `yaml:"tasks"`
	Signal   SignalConfig `yaml:"signal"`
	Search   SearchConfig `yaml:"search"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"`
}

// ModelConfig defines the LLM endpoint settings.
type ModelConfig struct {
	// URL is the base URL of an Ollama-compatible chat endpoint.
	URL string `yaml:"url"`
	// Name is the model to request (e.g., "llama3.1:8b").
	Name string `yaml:"name"`
	// ContextBytes is the conversation context budget in bytes. Message
	// pruning uses UTF-8 byte length as a documented approximation of
	// token count; the default corresponds to an 8K window.
	ContextBytes int `yaml:"context_bytes"`
	// TimeoutSec bounds each HTTP call to the model. A hung model call
	// must never stall a conversation indefinitely.
	TimeoutSec int `yaml:"timeout_sec"`
	// KeepAlive is passed through to the runtime so the model stays
	// loaded between turns (e.g., "15m").
	KeepAlive string `yaml:"keep_alive"`
}

// AgentConfig tunes the orchestrator's turn loop.
type AgentConfig struct {
	// MaxToolDepth is the maximum number of tool-call/model-call cycles
	// within a single turn.
	MaxToolDepth int `yaml:"max_tool_depth"`
	// MaxToolResultBytes caps the size of a capability result before it
	// is folded back into the conversation.
	MaxToolResultBytes int `yaml:"max_tool_result_bytes"`
	// EmptyRetries is how many times an empty model response is retried
	// before the turn degrades to an apology.
	EmptyRetries int `yaml:"empty_retries"`
}

// TaskConfig bounds the background task scheduler.
type TaskConfig struct {
	// QuotaPerUser is the maximum number of active tasks per user.
	QuotaPerUser int `yaml:"quota_per_user"`
	// MinTitle and MaxTitle bound task title length in bytes.
	MinTitle int `yaml:"min_title"`
	MaxTitle int `yaml:"max_title"`
	// MaxDuration is the longest a task may run for (default 90 days).
	MaxDuration time.Duration `yaml:"max_duration"`
}

// SignalConfig defines the signal-cli-rest-api connection.
type SignalConfig struct {
	// URL is the base URL of a signal-cli-rest-api instance.
	URL string `yaml:"url"`
	// Number is the bot's own phone number.
	Number string `yaml:"number"`
	// BotName is matched against group-message text to decide whether
	// the bot was addressed; group messages that do not mention it are
	// ignored.
	BotName string `yaml:"bot_name"`
	// Admins are phone numbers allowed to use /admin and /ignore.
	Admins []string `yaml:"admins"`
}

// SearchConfig defines the web search capability.
type SearchConfig struct {
	// Provider selects the search backend. Only "brave" is implemented.
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
}

// MQTTConfig defines the optional status publisher. Disabled unless
// Broker is set.
type MQTTConfig struct {
	Broker     string `yaml:"broker"` // e.g., mqtt://host:1883 or mqtts://host:8883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			URL:          "http://localhost:11434",
			Name:         "llama3.1:8b",
			ContextBytes: 8192,
			TimeoutSec:   120,
			KeepAlive:    "15m",
		},
		Agent: AgentConfig{
			MaxToolDepth:       6,
			MaxToolResultBytes: 16384,
			EmptyRetries:       3,
		},
		Tasks: TaskConfig{
			QuotaPerUser: 5,
			MinTitle:     3,
			MaxTitle:     80,
			MaxDuration:  90 * 24 * time.Hour,
		},
		Search: SearchConfig{
			Provider: "brave",
		},
		MQTT: MQTTConfig{
			DeviceName: "eddie",
		},
		DataDir: ".",
	}
}
