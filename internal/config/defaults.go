package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.port", 8787)
	viper.SetDefault("gateway.allowed_origins", []string{})
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 600)
	viper.SetDefault("gateway.rate_limit.burst", 60)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "~/.conduit/data.db")

	viper.SetDefault("queue.worker_idle_timeout", 5*time.Minute)

	viper.SetDefault("approval.default_timeout", 5*time.Minute)
	viper.SetDefault("approval.max_pending", 100)
	viper.SetDefault("approval.history", 1024)
	viper.SetDefault("approval.audit_file", "")

	viper.SetDefault("todo.max_per_session", 50)
	viper.SetDefault("todo.allow_skip", false)

	viper.SetDefault("runner.max_iterations", 10)
	viper.SetDefault("runner.turn_timeout", 10*time.Minute)
	viper.SetDefault("runner.denial_ends_turn", true)
	viper.SetDefault("runner.max_tool_result_bytes", 64*1024)

	viper.SetDefault("model.provider", "echo")
	viper.SetDefault("model.endpoint", "http://localhost:11434")
	viper.SetDefault("model.name", "llama3.2")
	viper.SetDefault("model.timeout", 5*time.Minute)
	viper.SetDefault("model.keep_alive", "5m")
	viper.SetDefault("model.system_prompt", "")

	viper.SetDefault("hooks.logging", true)
	viper.SetDefault("hooks.log_level", "debug")
	viper.SetDefault("hooks.filter.enabled", false)
	viper.SetDefault("hooks.filter.sensitive_data", true)
	viper.SetDefault("hooks.filter.injection_check", true)
	viper.SetDefault("hooks.rate_limit.enabled", false)
	viper.SetDefault("hooks.rate_limit.max_calls", 30)
	viper.SetDefault("hooks.rate_limit.window", time.Minute)

	viper.SetDefault("jsvm.pool_size", 4)
	viper.SetDefault("jsvm.idle_timeout", 5*time.Minute)
	viper.SetDefault("jsvm.acquire_timeout", 5*time.Second)
	viper.SetDefault("jsvm.timeout", 5*time.Second)

	viper.SetDefault("policy.path", "")
	viper.SetDefault("policy.watch", true)

	viper.SetDefault("cron.enabled", false)

	viper.SetDefault("protocol.version", "1.0.0")
	viper.SetDefault("protocol.accept", ">= 1.0.0, < 2.0.0")
}
