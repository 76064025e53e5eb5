// Package config loads gateway configuration with the precedence
// CLI flags > environment > TOML file > defaults. The file format is TOML;
// environment variables use the OPENVIA_ prefix. Flag application happens in
// cmd after Load.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Adapters AdaptersConfig `toml:"adapters"`
	LLM      LLMConfig      `toml:"llm"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Audit    AuditConfig    `toml:"audit"`
	Observer ObserverConfig `toml:"observer"`
	Logging  LoggingConfig  `toml:"logging"`
}

type AdaptersConfig struct {
	// Default names the channel started when both are configured and no
	// explicit selection is made: "telegram" or "feishu".
	Default  string         `toml:"default"`
	Telegram TelegramConfig `toml:"telegram"`
	Feishu   FeishuConfig   `toml:"feishu"`
}

type TelegramConfig struct {
	BotToken       string   `toml:"bot_token"`
	AllowedUserIDs []string `toml:"allowed_user_ids"`
}

type FeishuConfig struct {
	AppID          string   `toml:"app_id"`
	AppSecret      string   `toml:"app_secret"`
	VerifyToken    string   `toml:"verify_token"`
	ListenAddr     string   `toml:"listen_addr"`
	AllowedUserIDs []string `toml:"allowed_user_ids"`
}

type LLMConfig struct {
	Format           string   `toml:"format"` // openai | claude | gemini | responses | ...
	APIKey           string   `toml:"api_key"`
	BaseURL          string   `toml:"base_url"`
	Model            string   `toml:"model"`
	SystemPrompt     string   `toml:"system_prompt"`
	TimeoutSecs      int      `toml:"timeout_secs"`
	MaxTokens        int      `toml:"max_tokens"`
	Temperature      *float64 `toml:"temperature"`
	TopP             *float64 `toml:"top_p"`
	Thinking         *bool    `toml:"thinking"`
	MaxIterations    int      `toml:"max_iterations"`
	ShellConfirmList []string `toml:"shell_confirm_list"`
}

type GatewayConfig struct {
	WorkRoot  string `toml:"work_root"`
	SkillsDir string `toml:"skills_dir"`
}

type AuditConfig struct {
	// Backend selects the durable sink: "none" (in-memory ring only),
	// "sqlite", or "postgres".
	Backend     string `toml:"backend"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

type LoggingConfig struct {
	Level   string `toml:"level"` // debug | info | warn | error
	Verbose bool   `toml:"verbose"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	base := filepath.Join(home, ".openvia")
	return Config{
		Adapters: AdaptersConfig{Default: "telegram"},
		LLM: LLMConfig{
			Format:        "openai",
			Model:         "gpt-4.1-mini",
			MaxIterations: 10,
		},
		Gateway: GatewayConfig{
			WorkRoot:  filepath.Join(base, "sessions"),
			SkillsDir: filepath.Join(base, "skills"),
		},
		Audit:   AuditConfig{Backend: "none", SQLitePath: filepath.Join(base, "audit.db")},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "openvia.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	applyEnv(&cfg)

	if cfg.Adapters.Default == "" {
		cfg.Adapters.Default = "telegram"
	}
	return cfg
}

// applyEnv overrides file values from OPENVIA_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENVIA_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Adapters.Telegram.BotToken = v
	}
	if v := os.Getenv("OPENVIA_TELEGRAM_ALLOWED_USER_IDS"); v != "" {
		cfg.Adapters.Telegram.AllowedUserIDs = splitList(v)
	}
	if v := os.Getenv("OPENVIA_FEISHU_APP_ID"); v != "" {
		cfg.Adapters.Feishu.AppID = v
	}
	if v := os.Getenv("OPENVIA_FEISHU_APP_SECRET"); v != "" {
		cfg.Adapters.Feishu.AppSecret = v
	}
	if v := os.Getenv("OPENVIA_FEISHU_VERIFY_TOKEN"); v != "" {
		cfg.Adapters.Feishu.VerifyToken = v
	}
	if v := os.Getenv("OPENVIA_FEISHU_LISTEN_ADDR"); v != "" {
		cfg.Adapters.Feishu.ListenAddr = v
	}
	if v := os.Getenv("OPENVIA_ADAPTER"); v != "" {
		cfg.Adapters.Default = v
	}
	if v := os.Getenv("OPENVIA_LLM_FORMAT"); v != "" {
		cfg.LLM.Format = v
	}
	if v := os.Getenv("OPENVIA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENVIA_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENVIA_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OPENVIA_LLM_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLM.TimeoutSecs = n
		}
	}
	if v := os.Getenv("OPENVIA_LLM_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLM.MaxIterations = n
		}
	}
	if v := os.Getenv("OPENVIA_AUDIT_BACKEND"); v != "" {
		cfg.Audit.Backend = v
	}
	if v := os.Getenv("OPENVIA_AUDIT_SQLITE_PATH"); v != "" {
		cfg.Audit.SQLitePath = v
	}
	if v := os.Getenv("OPENVIA_AUDIT_POSTGRES_URL"); v != "" {
		cfg.Audit.PostgresURL = v
	}
	if v := os.Getenv("OPENVIA_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("OPENVIA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// splitList parses a comma-separated list, trimming whitespace and dropping
// empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
