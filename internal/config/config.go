// Package config handles configuration loading and management for Mission Control.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// ProjectConfigName is the per-project override file searched for from
// the working directory upwards.
const ProjectConfigName = ".mc.yaml"

// Config holds all configuration for Mission Control.
type Config struct {
	Store        StoreConfig             `mapstructure:"store"`
	Scheduler    SchedulerConfig         `mapstructure:"scheduler"`
	Engines      map[string]EngineConfig `mapstructure:"engines"`
	QA           QAConfig                `mapstructure:"qa"`
	Router       RouterConfig            `mapstructure:"router"`
	Server       ServerConfig            `mapstructure:"server"`
	Anthropic    AnthropicConfig         `mapstructure:"anthropic"`
	Log          LogConfig               `mapstructure:"log"`
	MasterIntent string                  `mapstructure:"master_intent"`
	SignalsDir   string                  `mapstructure:"signals_dir"`
	TUI          TUIConfig               `mapstructure:"tui"`
}

// StoreConfig selects the database file and driver.
type StoreConfig struct {
	Path   string `mapstructure:"path"`
	Driver string `mapstructure:"driver"`
}

// SchedulerConfig holds poll-loop settings.
type SchedulerConfig struct {
	// Interval is the base tick interval.
	Interval time.Duration `mapstructure:"interval"`
	// MaxInterval caps the exponential backoff after failed health probes.
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// Jitter is the standard deviation applied to each tick.
	Jitter time.Duration `mapstructure:"jitter"`
	// StallAfter is how long a job may run before it is reported as stalled.
	StallAfter time.Duration `mapstructure:"stall_after"`
	// HealthURL is probed before each tick when set. A non-2xx answer
	// counts as downstream unavailability.
	HealthURL string `mapstructure:"health_url"`
}

// EngineConfig describes how to launch one external engine.
type EngineConfig struct {
	// Command is the executable name or path.
	Command string `mapstructure:"command"`
	// Args may contain {model} and {command} placeholders.
	Args []string `mapstructure:"args"`
	// ToolFlag, when set, is followed by the comma-joined tool grants.
	ToolFlag string `mapstructure:"tool_flag"`
	// Timeout hard-kills the process.
	Timeout time.Duration `mapstructure:"timeout"`
}

// QAConfig names the agents the post-execution router hands work to.
type QAConfig struct {
	// Agent reviews every successful task.
	Agent string `mapstructure:"agent"`
	// Engine runs review jobs when the QA agent is unknown.
	Engine string `mapstructure:"engine"`
}

// RouterConfig holds the tier router thresholds.
type RouterConfig struct {
	// QuickPathMaxChars bounds the inputs eligible for quick-path.
	QuickPathMaxChars int `mapstructure:"quick_path_max_chars"`
	// DeepMinChars routes anything longer to the deep tier.
	DeepMinChars int `mapstructure:"deep_min_chars"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	Token       string   `mapstructure:"token"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AnthropicConfig holds Anthropic API settings for the in-process engine.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	FastModel  string `mapstructure:"fast_model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TUIConfig holds `mc watch` display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Engine returns the named engine config and whether it exists.
func (c *Config) Engine(name string) (EngineConfig, bool) {
	e, ok := c.Engines[strings.ToLower(name)]
	return e, ok
}

// EngineNames returns the configured engine names, sorted.
func (c *Config) EngineNames() []string {
	names := make([]string, 0, len(c.Engines))
	for n := range c.Engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (MC_*, ANTHROPIC_API_KEY, MC_API_TOKEN)
// 2. Project config (.mc.yaml in current directory or parent)
// 3. User config (~/.config/missioncontrol/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v, err := loadViper()
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// Lookup returns the effective value of one dot-notation key after every
// source is merged. The second result is false if the key is unknown.
func Lookup(key string) (any, bool, error) {
	v, err := loadViper()
	if err != nil {
		return nil, false, err
	}
	if !v.IsSet(key) {
		return nil, false, nil
	}
	return v.Get(key), true, nil
}

func loadViper() (*viper.Viper, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}
	return v, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("server.token", "MC_API_TOKEN")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Server.Token = expandEnv(cfg.Server.Token)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.SignalsDir = expandHome(cfg.SignalsDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.MaxInterval < c.Scheduler.Interval {
		return fmt.Errorf("scheduler.max_interval (%s) is below scheduler.interval (%s)",
			c.Scheduler.MaxInterval, c.Scheduler.Interval)
	}
	if _, ok := c.Engine(models.EngineClaude); !ok {
		return fmt.Errorf("engines.%s must be configured", models.EngineClaude)
	}
	for name, e := range c.Engines {
		if name != models.EngineAPI && e.Command == "" {
			return fmt.Errorf("engines.%s.command is empty", name)
		}
	}
	return nil
}

// SetUserValue writes one dot-notation key into the user config file.
func SetUserValue(key, value string) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", configPath, err)
		}
	}

	v.Set(key, value)
	return v.WriteConfigAs(configPath)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.driver", d.Store.Driver)

	v.SetDefault("scheduler.interval", d.Scheduler.Interval.String())
	v.SetDefault("scheduler.max_interval", d.Scheduler.MaxInterval.String())
	v.SetDefault("scheduler.jitter", d.Scheduler.Jitter.String())
	v.SetDefault("scheduler.stall_after", d.Scheduler.StallAfter.String())
	v.SetDefault("scheduler.health_url", "")

	for name, e := range d.Engines {
		v.SetDefault("engines."+name+".command", e.Command)
		v.SetDefault("engines."+name+".args", e.Args)
		v.SetDefault("engines."+name+".tool_flag", e.ToolFlag)
		v.SetDefault("engines."+name+".timeout", e.Timeout.String())
	}

	v.SetDefault("qa.agent", d.QA.Agent)
	v.SetDefault("qa.engine", d.QA.Engine)

	v.SetDefault("router.quick_path_max_chars", d.Router.QuickPathMaxChars)
	v.SetDefault("router.deep_min_chars", d.Router.DeepMinChars)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.token", "")
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.fast_model", d.Anthropic.FastModel)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.bedrock", false)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("master_intent", "")
	v.SetDefault("signals_dir", d.SignalsDir)
	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for Mission Control.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "missioncontrol")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "missioncontrol")
	}
	return filepath.Join(home, ".config", "missioncontrol")
}

// getDataDir returns the XDG data directory for Mission Control.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "missioncontrol")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "missioncontrol")
	}
	return filepath.Join(home, ".local", "share", "missioncontrol")
}

// findProjectConfig searches for .mc.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := getDataDir()
	return &Config{
		Store: StoreConfig{
			Path:   filepath.Join(dataDir, "mc.db"),
			Driver: "sqlite",
		},
		Scheduler: SchedulerConfig{
			Interval:    30 * time.Second,
			MaxInterval: 5 * time.Minute,
			Jitter:      2 * time.Second,
			StallAfter:  45 * time.Minute,
		},
		Engines: map[string]EngineConfig{
			models.EngineClaude: {
				Command:  "claude",
				Args:     []string{"-p", "--output-format", "json", "--model", "{model}"},
				ToolFlag: "--allowedTools",
				Timeout:  15 * time.Minute,
			},
			models.EngineShell: {
				Command: "sh",
				Args:    []string{"-c", "{command}"},
				Timeout: 5 * time.Minute,
			},
			models.EngineAPI: {
				Timeout: 5 * time.Minute,
			},
		},
		QA: QAConfig{
			Agent:  "qa",
			Engine: models.EngineClaude,
		},
		Router: RouterConfig{
			QuickPathMaxChars: 80,
			DeepMinChars:      400,
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:7420",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5",
			FastModel: "claude-haiku-4-5",
			MaxTokens: 8192,
			AWSRegion: "us-east-1",
		},
		Log: LogConfig{
			Level: "info",
		},
		SignalsDir: filepath.Join(dataDir, "signals"),
		TUI: TUIConfig{
			RefreshRate: 2 * time.Second,
		},
	}
}
