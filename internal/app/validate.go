package app

import (
	"fmt"

	"chatcoord/pkg/config"
)

// validateConfig rejects configurations the server cannot run with. It
// runs after defaults were applied, so zero values here mean an explicit
// bad setting.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("no configuration")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	ch := cfg.Chat
	if ch.MaxMessageLen <= 0 {
		return fmt.Errorf("max_message_len must be positive")
	}
	if ch.Rate.LongMessageLen >= ch.MaxMessageLen {
		return fmt.Errorf("long_message_len (%d) must be below max_message_len (%d)",
			ch.Rate.LongMessageLen, ch.MaxMessageLen)
	}
	if ch.Rate.MaxSends <= 0 || ch.Rate.SendWindow <= 0 {
		return fmt.Errorf("send rate window misconfigured")
	}
	if ch.Debounce.JoinSuppress <= 0 || ch.Debounce.Reconnect <= 0 || ch.Debounce.Expiry <= 0 {
		return fmt.Errorf("debounce windows must be positive")
	}
	if ch.Debounce.Expiry.Duration() < ch.Debounce.JoinSuppress.Duration() {
		return fmt.Errorf("debounce expiry must not be shorter than join_suppress")
	}
	if cfg.Retention.Enabled && cfg.Retention.Period == "" {
		return fmt.Errorf("retention enabled but no period set")
	}
	tls := cfg.Server.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}
