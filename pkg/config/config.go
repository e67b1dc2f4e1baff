// Package config loads punku-chat settings from flags, environment and an
// optional YAML file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/punku-chat/pkg/i18n"
	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/widget"
	"github.com/go-go-golems/punku-chat/pkg/widget/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "PUNKU_CHAT"

	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

type StorageSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

type BridgeSettings struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Settings mirrors the attributes the widget is embedded with.
type Settings struct {
	HostURL           string            `mapstructure:"host_url" yaml:"host_url"`
	FlowID            string            `mapstructure:"flow_id" yaml:"flow_id"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key,omitempty"`
	InputType         string            `mapstructure:"input_type" yaml:"input_type"`
	OutputType        string            `mapstructure:"output_type" yaml:"output_type"`
	OutputComponent   string            `mapstructure:"output_component" yaml:"output_component,omitempty"`
	Tweaks            map[string]any    `mapstructure:"tweaks" yaml:"tweaks,omitempty"`
	TweaksJSON        string            `mapstructure:"tweaks_json" yaml:"-"`
	AdditionalHeaders map[string]string `mapstructure:"additional_headers" yaml:"additional_headers,omitempty"`
	EnableStreaming   bool              `mapstructure:"enable_streaming" yaml:"enable_streaming"`
	SessionID         string            `mapstructure:"session_id" yaml:"session_id,omitempty"`
	TTLHours          float64           `mapstructure:"ttl_hours" yaml:"ttl_hours"`
	IdleHours         float64           `mapstructure:"idle_expiration_hours" yaml:"idle_expiration_hours"`
	WidgetID          string            `mapstructure:"widget_id" yaml:"widget_id"`
	DefaultLanguage   string            `mapstructure:"default_language" yaml:"default_language,omitempty"`
	Theme             string            `mapstructure:"theme" yaml:"theme,omitempty"`
	ShowFeedback      bool              `mapstructure:"show_feedback" yaml:"show_feedback"`
	StartOpen         bool              `mapstructure:"start_open" yaml:"start_open"`
	Domain            string            `mapstructure:"domain" yaml:"domain,omitempty"`

	Storage StorageSettings `mapstructure:"storage" yaml:"storage"`
	Events  events.Settings `mapstructure:"events" yaml:"events"`
	Bridge  BridgeSettings  `mapstructure:"bridge" yaml:"bridge"`
}

// DefaultConfigFile is $HOME/.config/punku-chat/config.yaml.
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "punku-chat", "config.yaml")
}

// DefaultStoragePath is $HOME/.local/share/punku-chat/sessions.db.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessions.db"
	}
	return filepath.Join(home, ".local", "share", "punku-chat", "sessions.db")
}

// SetDefaults registers every key so that environment overrides are seen by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host_url", "")
	v.SetDefault("flow_id", "")
	v.SetDefault("api_key", "")
	v.SetDefault("input_type", "chat")
	v.SetDefault("output_type", "chat")
	v.SetDefault("output_component", "")
	v.SetDefault("tweaks", map[string]any{})
	v.SetDefault("tweaks_json", "")
	v.SetDefault("additional_headers", map[string]string{})
	v.SetDefault("enable_streaming", false)
	v.SetDefault("session_id", "")
	v.SetDefault("ttl_hours", session.DefaultExpiryHours)
	v.SetDefault("idle_expiration_hours", session.DefaultIdleExpiryHours)
	v.SetDefault("widget_id", widget.DefaultWidgetID)
	v.SetDefault("default_language", "")
	v.SetDefault("theme", "")
	v.SetDefault("show_feedback", true)
	v.SetDefault("start_open", false)
	v.SetDefault("domain", "")

	v.SetDefault("storage.driver", StorageSQLite)
	v.SetDefault("storage.path", DefaultStoragePath())

	v.SetDefault("events.redis_enabled", false)
	v.SetDefault("events.redis_addr", "localhost:6379")
	v.SetDefault("events.redis_group", "punku-chat")
	v.SetDefault("events.redis_consumer", "bridge-1")

	v.SetDefault("bridge.addr", ":8088")
	v.SetDefault("bridge.cleanup_interval", time.Minute)
	v.SetDefault("bridge.write_timeout", 10*time.Second)
}

// NewViper returns a viper instance with defaults, environment binding and,
// when present, the config file. An explicit configFile must exist.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile()
	}
	if configFile == "" {
		return v, nil
	}
	if _, err := os.Stat(configFile); err != nil {
		if !explicit && os.IsNotExist(err) {
			return v, nil
		}
		return nil, errors.Wrapf(err, "config file %s", configFile)
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", configFile)
	}
	log.Debug().Str("component", "config").Str("path", configFile).Msg("loaded config file")
	return v, nil
}

// Load decodes the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	s.HostURL = strings.TrimRight(strings.TrimSpace(s.HostURL), "/")

	// viper lowercases map keys; tweaks are keyed by case-sensitive component ids.
	if path := v.ConfigFileUsed(); path != "" {
		if err := s.readCaseSensitiveMaps(path); err != nil {
			return nil, err
		}
	}
	if s.TweaksJSON != "" {
		var tweaks map[string]any
		if err := json.Unmarshal([]byte(s.TweaksJSON), &tweaks); err != nil {
			return nil, errors.Wrap(err, "decode tweaks_json")
		}
		s.Tweaks = tweaks
	}
	return &s, nil
}

func (s *Settings) readCaseSensitiveMaps(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	var raw struct {
		Tweaks            map[string]any    `yaml:"tweaks"`
		AdditionalHeaders map[string]string `yaml:"additional_headers"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	if raw.Tweaks != nil {
		s.Tweaks = raw.Tweaks
	}
	if raw.AdditionalHeaders != nil {
		s.AdditionalHeaders = raw.AdditionalHeaders
	}
	return nil
}

// Validate checks the settings needed to talk to a flow.
func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("settings are nil")
	}
	if s.HostURL == "" {
		return errors.New("host_url is required")
	}
	if !strings.HasPrefix(s.HostURL, "http://") && !strings.HasPrefix(s.HostURL, "https://") {
		return errors.Errorf("host_url %q must start with http:// or https://", s.HostURL)
	}
	if s.FlowID == "" {
		return errors.New("flow_id is required")
	}
	switch s.Storage.Driver {
	case StorageSQLite, StorageMemory:
	default:
		return errors.Errorf("unknown storage driver %q", s.Storage.Driver)
	}
	return nil
}

func (s *Settings) SessionConfig() session.Config {
	return session.Config{ExpiryHours: s.TTLHours, IdleExpiryHours: s.IdleHours}
}

func (s *Settings) Language() string {
	return i18n.DefaultLanguage(s.DefaultLanguage, s.Theme)
}
