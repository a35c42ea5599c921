package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Chat      ChatConfig      `yaml:"chat"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds http, tls and data-path settings.
type ServerConfig struct {
	Address       string    `yaml:"address"`
	Port          int       `yaml:"port"`
	DBPath        string    `yaml:"db_path"`
	AttachmentDir string    `yaml:"attachment_dir"`
	TLS           TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds transport-level protection settings. The rate limit
// here guards the HTTP surface per API key or client IP; the chat-level
// sliding-window limiter is configured under ChatConfig.Rate.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ChatConfig carries every chat-policy tunable: validation limits, the
// sender sliding windows, presence debounce windows and bus sizing.
type ChatConfig struct {
	// SystemSender is the reserved identity for system notifications.
	SystemSender string `yaml:"system_sender"`
	// MaxMessageLen is the validator's hard cap on trimmed text length.
	MaxMessageLen int `yaml:"max_message_len"`
	// PreviewLen caps reply-context previews before the ellipsis.
	PreviewLen  int              `yaml:"preview_len"`
	Rate        RateConfig       `yaml:"rate"`
	Debounce    DebounceConfig   `yaml:"debounce"`
	Bus         BusConfig        `yaml:"bus"`
	Attachments AttachmentConfig `yaml:"attachments"`
}

// RateConfig holds the sender sliding-window thresholds. All windows are
// sliding, re-evaluated on every check.
type RateConfig struct {
	MaxSends        int      `yaml:"max_sends"`
	SendWindow      Duration `yaml:"send_window"`
	DuplicateWindow Duration `yaml:"duplicate_window"`
	// LongMessageLen is the secondary "long" threshold, below the hard
	// validator maximum.
	LongMessageLen  int      `yaml:"long_message_len"`
	MaxLongMessages int      `yaml:"max_long_messages"`
	LongWindow      Duration `yaml:"long_window"`
}

// DebounceConfig holds the presence-notification suppression windows.
type DebounceConfig struct {
	JoinSuppress  Duration `yaml:"join_suppress"`
	Reconnect     Duration `yaml:"reconnect"`
	Expiry        Duration `yaml:"expiry"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// BusConfig sizes the per-subscriber event buffers.
type BusConfig struct {
	Buffer int `yaml:"buffer"`
}

// AttachmentConfig bounds attachment uploads.
type AttachmentConfig struct {
	MaxSize SizeBytes `yaml:"max_size"`
	BaseURL string    `yaml:"base_url"`
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	Period    string `yaml:"period"`
	BatchSize int    `yaml:"batch_size"`
	DryRun    bool   `yaml:"dry_run"`
	MinPeriod string `yaml:"min_period"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ApplyDefaults fills zero-valued chat policy fields with the reference
// defaults. Thresholds remain configuration, not algorithm constants.
func (c *Config) ApplyDefaults() {
	ch := &c.Chat
	if ch.SystemSender == "" {
		ch.SystemSender = "system"
	}
	if ch.MaxMessageLen == 0 {
		ch.MaxMessageLen = 2000
	}
	if ch.PreviewLen == 0 {
		ch.PreviewLen = 80
	}
	if ch.Rate.MaxSends == 0 {
		ch.Rate.MaxSends = 10
	}
	if ch.Rate.SendWindow == 0 {
		ch.Rate.SendWindow = Duration(10 * time.Second)
	}
	if ch.Rate.DuplicateWindow == 0 {
		ch.Rate.DuplicateWindow = Duration(20 * time.Second)
	}
	if ch.Rate.LongMessageLen == 0 {
		ch.Rate.LongMessageLen = 500
	}
	if ch.Rate.MaxLongMessages == 0 {
		ch.Rate.MaxLongMessages = 3
	}
	if ch.Rate.LongWindow == 0 {
		ch.Rate.LongWindow = Duration(60 * time.Second)
	}
	if ch.Debounce.JoinSuppress == 0 {
		ch.Debounce.JoinSuppress = Duration(30 * time.Second)
	}
	if ch.Debounce.Reconnect == 0 {
		ch.Debounce.Reconnect = Duration(15 * time.Second)
	}
	if ch.Debounce.Expiry == 0 {
		ch.Debounce.Expiry = Duration(300 * time.Second)
	}
	if ch.Debounce.SweepInterval == 0 {
		ch.Debounce.SweepInterval = Duration(60 * time.Second)
	}
	if ch.Bus.Buffer == 0 {
		ch.Bus.Buffer = 256
	}
	if ch.Attachments.MaxSize == 0 {
		ch.Attachments.MaxSize = SizeBytes(32 << 20) // 32MB
	}
	if ch.Attachments.BaseURL == "" {
		ch.Attachments.BaseURL = "/attachments"
	}
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
