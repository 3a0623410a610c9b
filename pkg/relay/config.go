// Copyright 2024-2026 Aiku AI

package relay

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/telegram-relay/pkg/relay/rewrite"
)

//go:embed example-config.yaml
var ExampleConfig string

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// TelegramConfig selects the remote platform credentials and stream
// tuning. The bot token itself never lives in the config file; it is read
// from the named environment variable.
type TelegramConfig struct {
	TokenEnv        string `yaml:"token_env"`
	LongPollTimeout int    `yaml:"long_poll_timeout"`
}

// Token resolves the bot token from the environment.
func (c TelegramConfig) Token() string {
	return os.Getenv(c.TokenEnv)
}

// DatabaseConfig locates the mapping store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SendConfig is the dispatch retry discipline.
type SendConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	DeleteAttempts int      `yaml:"delete_attempts"`
	BaseBackoff    Duration `yaml:"base_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	CallTimeout    Duration `yaml:"call_timeout"`
}

func (c SendConfig) withDefaults() SendConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.DeleteAttempts < 1 {
		c.DeleteAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = Duration(500 * time.Millisecond)
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = Duration(30 * time.Second)
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = Duration(30 * time.Second)
	}
	return c
}

// RateLimitConfig is the default bucket plus per-destination overrides.
type RateLimitConfig struct {
	Default   RateConfig           `yaml:"default"`
	Overrides map[int64]RateConfig `yaml:"overrides"`
}

// FilterConfig is the raw filter rule set as written in YAML. Nil
// pointer fields inherit defaults (ignore_forwarded defaults to true).
type FilterConfig struct {
	RequireKeywords    []string `yaml:"require_keywords"`
	ExcludeKeywords    []string `yaml:"exclude_keywords"`
	ExcludePatterns    []string `yaml:"exclude_patterns"`
	IgnoreForwarded    *bool    `yaml:"ignore_forwarded"`
	MinLength          int      `yaml:"min_length"`
	MaxLength          int      `yaml:"max_length"`
	AllowMedia         []string `yaml:"allow_media"`
	DenyMedia          []string `yaml:"deny_media"`
	SkipFileExtensions []string `yaml:"skip_file_extensions"`
}

// TransformConfig is the raw transform rule set: the text rewrite rules
// plus media-targeting rules.
type TransformConfig struct {
	rewrite.Config `yaml:",inline"`
	DropMedia      []string `yaml:"drop_media"`
}

// DestinationConfig is one fan-out target. Filter and Transform, when
// set, fully override the route-level rules for this destination.
type DestinationConfig struct {
	Channel   int64            `yaml:"channel"`
	Filter    *FilterConfig    `yaml:"filter"`
	Transform *TransformConfig `yaml:"transform"`
}

// RouteConfig maps one source channel to its destinations.
type RouteConfig struct {
	Source       int64               `yaml:"source"`
	Destinations []DestinationConfig `yaml:"destinations"`
	Filter       *FilterConfig       `yaml:"filter"`
	Transform    *TransformConfig    `yaml:"transform"`
}

// Config is the full validated configuration snapshot.
type Config struct {
	LogLevel     string            `yaml:"log_level"`
	Telegram     TelegramConfig    `yaml:"telegram"`
	Database     DatabaseConfig    `yaml:"database"`
	QueueSize    int               `yaml:"queue_size"`
	Send         SendConfig        `yaml:"send"`
	RateLimit    RateLimitConfig   `yaml:"rate_limit"`
	TemplateVars map[string]string `yaml:"template_vars"`
	Routes       []RouteConfig     `yaml:"routes"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural requirements and fills defaults. Rule-level
// problems are not errors; they surface as warnings from CompileRoutes.
func (c *Config) Validate() error {
	if c.Telegram.TokenEnv == "" {
		c.Telegram.TokenEnv = "TELEGRAM_RELAY_TOKEN"
	}
	if c.Telegram.LongPollTimeout < 1 {
		c.Telegram.LongPollTimeout = 30
	}
	if c.Database.Path == "" {
		c.Database.Path = "telegram-relay.db"
	}
	if c.QueueSize < 1 {
		c.QueueSize = 256
	}
	c.Send = c.Send.withDefaults()
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	seen := make(map[int64]struct{}, len(c.Routes))
	for i, route := range c.Routes {
		if route.Source == 0 {
			return fmt.Errorf("route %d: source channel is required", i)
		}
		if _, dup := seen[route.Source]; dup {
			return fmt.Errorf("route %d: duplicate source channel %d", i, route.Source)
		}
		seen[route.Source] = struct{}{}
		if len(route.Destinations) == 0 {
			return fmt.Errorf("route %d (source %d): at least one destination is required", i, route.Source)
		}
		for j, dest := range route.Destinations {
			if dest.Channel == 0 {
				return fmt.Errorf("route %d destination %d: channel is required", i, j)
			}
		}
	}
	return nil
}

// CompileRoutes resolves per-destination overrides against route-level
// rules and compiles everything into immutable Route values. Warnings
// cover dropped rules (bad regex, unknown media kinds, non-idempotent
// rewrites); they are surfaced to the caller for logging, never fatal.
func (c *Config) CompileRoutes() ([]Route, []string) {
	var warnings []string
	routes := make([]Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		routeFilter, w := compileOptionalFilter(rc.Filter)
		warnings = append(warnings, w...)
		routeTransform, w := CompileTransform(rc.Transform, c.TemplateVars)
		warnings = append(warnings, w...)

		route := Route{Source: rc.Source}
		for _, dc := range rc.Destinations {
			dest := Destination{
				ChannelID: dc.Channel,
				Filter:    routeFilter,
				Transform: routeTransform,
			}
			if dc.Filter != nil {
				dest.Filter, w = compileOptionalFilter(dc.Filter)
				warnings = append(warnings, w...)
			}
			if dc.Transform != nil {
				dest.Transform, w = CompileTransform(dc.Transform, c.TemplateVars)
				warnings = append(warnings, w...)
			}
			route.Destinations = append(route.Destinations, dest)
		}
		routes = append(routes, route)
	}
	return routes, warnings
}

func compileOptionalFilter(cfg *FilterConfig) (*FilterRules, []string) {
	if cfg == nil {
		return nil, nil
	}
	return CompileFilter(*cfg)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "log_level")
	helper.Copy(up.Str, "telegram", "token_env")
	helper.Copy(up.Int, "telegram", "long_poll_timeout")
	helper.Copy(up.Str, "database", "path")
	helper.Copy(up.Int, "queue_size")
	helper.Copy(up.Int, "send", "max_attempts")
	helper.Copy(up.Int, "send", "delete_attempts")
	helper.Copy(up.Str, "send", "base_backoff")
	helper.Copy(up.Str, "send", "max_backoff")
	helper.Copy(up.Str, "send", "call_timeout")
	helper.Copy(up.Map, "rate_limit")
	helper.Copy(up.Map, "template_vars")
	helper.Copy(up.List, "routes")
}

// ConfigUpgrader carries forward user config values across example-config
// revisions.
var ConfigUpgrader up.BaseUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks:         nil,
	Base:           ExampleConfig,
}

// UpgradeConfig rewrites the config file at path onto the current
// example-config layout, carrying recognized user values forward. The
// upgraded bytes are returned; when save is true and the content changed,
// the file is rewritten in place.
func UpgradeConfig(path string, save bool) ([]byte, bool, error) {
	data, changed, err := up.Do(path, save, ConfigUpgrader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return data, changed, nil
}
