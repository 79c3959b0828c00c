// Package config loads conduit configuration from defaults, a YAML file and
// CONDUIT_* environment variables, in increasing priority.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Approval ApprovalConfig `mapstructure:"approval" yaml:"approval"`
	Todo     TodoConfig     `mapstructure:"todo" yaml:"todo"`
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Model    ModelConfig    `mapstructure:"model" yaml:"model"`
	Hooks    HooksConfig    `mapstructure:"hooks" yaml:"hooks"`
	JSVM     JSVMConfig     `mapstructure:"jsvm" yaml:"jsvm"`
	Policy   PolicyConfig   `mapstructure:"policy" yaml:"policy"`
	Cron     CronConfig     `mapstructure:"cron" yaml:"cron"`
	Protocol ProtocolConfig `mapstructure:"protocol" yaml:"protocol"`
}

// GatewayConfig configures the HTTP/websocket server.
type GatewayConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// AllowedOrigins restricts websocket origins; empty allows all.
	AllowedOrigins []string         `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	RateLimit      GatewayRateLimit `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// GatewayRateLimit is a per-client token bucket on the HTTP API.
type GatewayRateLimit struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig selects persistence. Driver is "sqlite" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

type QueueConfig struct {
	// WorkerIdleTimeout stops an idle session worker.
	WorkerIdleTimeout time.Duration `mapstructure:"worker_idle_timeout" yaml:"worker_idle_timeout"`
}

type ApprovalConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxPending     int           `mapstructure:"max_pending" yaml:"max_pending"`
	History        int           `mapstructure:"history" yaml:"history"`
	// AuditFile, when set, appends a JSONL audit trail.
	AuditFile string `mapstructure:"audit_file" yaml:"audit_file"`
}

type TodoConfig struct {
	MaxPerSession int  `mapstructure:"max_per_session" yaml:"max_per_session"`
	AllowSkip     bool `mapstructure:"allow_skip" yaml:"allow_skip"`
}

type RunnerConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
	DenialEndsTurn     bool          `mapstructure:"denial_ends_turn" yaml:"denial_ends_turn"`
	MaxToolResultBytes int           `mapstructure:"max_tool_result_bytes" yaml:"max_tool_result_bytes"`
}

// ModelConfig selects the model provider. Provider is "echo" or "ollama".
type ModelConfig struct {
	Provider     string        `mapstructure:"provider" yaml:"provider"`
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	Name         string        `mapstructure:"name" yaml:"name"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KeepAlive    string        `mapstructure:"keep_alive" yaml:"keep_alive"`
	SystemPrompt string        `mapstructure:"system_prompt" yaml:"system_prompt"`
}

type HooksConfig struct {
	Logging   bool              `mapstructure:"logging" yaml:"logging"`
	LogLevel  string            `mapstructure:"log_level" yaml:"log_level"`
	Filter    FilterConfig      `mapstructure:"filter" yaml:"filter"`
	RateLimit RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	Scripts   []HookScriptEntry `mapstructure:"scripts" yaml:"scripts"`
}

type FilterConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	SensitiveData  bool `mapstructure:"sensitive_data" yaml:"sensitive_data"`
	InjectionCheck bool `mapstructure:"injection_check" yaml:"injection_check"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxCalls int           `mapstructure:"max_calls" yaml:"max_calls"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

// HookScriptEntry registers a JavaScript handler on a site.
type HookScriptEntry struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Site string `mapstructure:"site" yaml:"site"`
	Path string `mapstructure:"path" yaml:"path"`
}

type JSVMConfig struct {
	PoolSize       int           `mapstructure:"pool_size" yaml:"pool_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type PolicyConfig struct {
	// Path is the policy YAML file. Empty uses the built-in default policy.
	Path  string `mapstructure:"path" yaml:"path"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

type CronConfig struct {
	Enabled bool      `mapstructure:"enabled" yaml:"enabled"`
	Jobs    []CronJob `mapstructure:"jobs" yaml:"jobs"`
}

// CronJob enqueues Message as a background message for SessionID on Schedule.
type CronJob struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Schedule  string `mapstructure:"schedule" yaml:"schedule"`
	SessionID string `mapstructure:"session_id" yaml:"session_id"`
	Message   string `mapstructure:"message" yaml:"message"`
}

type ProtocolConfig struct {
	// Version is the protocol version this server speaks.
	Version string `mapstructure:"version" yaml:"version"`
	// Accept is the semver constraint client versions must satisfy.
	Accept string `mapstructure:"accept" yaml:"accept"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load reads configuration. Priority: env > file > defaults. A missing file
// is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()
	viper.SetEnvPrefix("CONDUIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expanded

		viper.SetConfigFile(expanded)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

func GetString(key string) string { return viper.GetString(key) }
func GetInt(key string) int       { return viper.GetInt(key) }
func GetBool(key string) bool     { return viper.GetBool(key) }

// Set changes a key and persists it when a config file is in use.
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()
	viper.Set(key, value)
	if configPath != "" {
		return save()
	}
	return nil
}

// Save writes the current settings to the loaded config file.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0o600)
}

// SaveTo writes cfg to path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Reset clears loaded state. Tests use it between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// Get returns the raw value of key, or nil when unset.
func Get(key string) any {
	mu.RLock()
	defer mu.RUnlock()
	if !viper.IsSet(key) {
		return nil
	}
	return viper.Get(key)
}
