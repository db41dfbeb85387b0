// Package config provides YAML-based configuration loading for Gavel.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Gavel configuration, loaded from gavel.yaml.
type Config struct {
	Platform  string          `yaml:"platform"` // "discord" or "slack"
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	GuildID   string          `yaml:"guild_id"` // destination community for all hearings
	Origins   []OriginConfig  `yaml:"origins"`
	Roster    RosterConfig    `yaml:"roster"`
	AckEmoji  string          `yaml:"ack_emoji"`
	CaseLog   CaseLogConfig   `yaml:"case_log"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Reminder  ReminderConfig  `yaml:"reminder"`
}

// DiscordConfig holds Discord connection settings. The token may be supplied
// via the GAVEL_DISCORD_TOKEN environment variable instead of the file.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// SlackConfig holds Slack Socket Mode connection settings. Tokens may be
// supplied via GAVEL_SLACK_APP_TOKEN and GAVEL_SLACK_BOT_TOKEN.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// OriginConfig describes one public channel where disputes may be raised.
// A message in the channel mentioning the activation role opens a hearing.
type OriginConfig struct {
	GuildID          string `yaml:"guild_id"`
	ChannelID        string `yaml:"channel_id"`
	ActivationRoleID string `yaml:"activation_role_id"`
}

// RosterConfig names the adjudicator capabilities. Members of the destination
// guild holding any of these roles are eligible for hearing rosters.
type RosterConfig struct {
	ArbiterRoleIDs []string `yaml:"arbiter_role_ids"`
	StandbyRoleID  string   `yaml:"standby_role_id"` // narrower re-ping pool (optional)
}

// CaseLogConfig holds connection settings for the audit case log.
type CaseLogConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// DashboardConfig holds settings for the read-only operator dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ReminderConfig controls the stale-hearing reminder sweep.
type ReminderConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Cron        string `yaml:"cron"`          // 5-field cron expression
	MaxAgeHours int    `yaml:"max_age_hours"` // hearings open longer than this get nudged
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values, including token
// overrides from the environment.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "discord"
	}
	if tok := os.Getenv("GAVEL_DISCORD_TOKEN"); tok != "" {
		c.Discord.Token = tok
	}
	if tok := os.Getenv("GAVEL_SLACK_APP_TOKEN"); tok != "" {
		c.Slack.AppToken = tok
	}
	if tok := os.Getenv("GAVEL_SLACK_BOT_TOKEN"); tok != "" {
		c.Slack.BotToken = tok
	}
	if c.AckEmoji == "" {
		c.AckEmoji = "⚖️"
	}
	if c.CaseLog.Driver == "" {
		c.CaseLog.Driver = "sqlite"
	}
	if c.CaseLog.Driver == "sqlite" && c.CaseLog.Path == "" {
		c.CaseLog.Path = "gavel.db"
	}
	if c.CaseLog.Driver == "mysql" {
		if c.CaseLog.Host == "" {
			c.CaseLog.Host = "127.0.0.1"
		}
		if c.CaseLog.Port == 0 {
			c.CaseLog.Port = 3306
		}
		if c.CaseLog.Database == "" {
			c.CaseLog.Database = "gavel"
		}
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Reminder.Cron == "" {
		c.Reminder.Cron = "0 9 * * *"
	}
	if c.Reminder.MaxAgeHours == 0 {
		c.Reminder.MaxAgeHours = 72
	}
	for i := range c.Origins {
		if c.Origins[i].GuildID == "" {
			c.Origins[i].GuildID = c.GuildID
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "discord":
		if c.Discord.Token == "" {
			errs = append(errs, "discord.token is required (or GAVEL_DISCORD_TOKEN)")
		}
	case "slack":
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required (or GAVEL_SLACK_APP_TOKEN)")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required (or GAVEL_SLACK_BOT_TOKEN)")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (use discord or slack)", c.Platform))
	}
	if c.GuildID == "" {
		errs = append(errs, "guild_id is required")
	}
	if len(c.Origins) == 0 {
		errs = append(errs, "at least one origin is required")
	}
	for i, o := range c.Origins {
		if o.ChannelID == "" {
			errs = append(errs, fmt.Sprintf("origins[%d].channel_id is required", i))
		}
		if o.ActivationRoleID == "" {
			errs = append(errs, fmt.Sprintf("origins[%d].activation_role_id is required", i))
		}
	}
	if len(c.Roster.ArbiterRoleIDs) == 0 {
		errs = append(errs, "roster.arbiter_role_ids is required")
	}
	if c.CaseLog.Driver != "sqlite" && c.CaseLog.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("case_log.driver %q is not supported (use sqlite or mysql)", c.CaseLog.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
