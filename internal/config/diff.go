package config

import (
	"reflect"
	"strings"

	logx "lixiwatch/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between oldCfg and
// newCfg and returns log fields describing the new values. Storage DSNs and
// passwords are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Ledger != newCfg.Ledger {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.rpc_url", newCfg.Ledger.RPCURL),
			logx.String("ledger.package_id", newCfg.Ledger.PackageID),
			logx.Int("ledger.query_limit", newCfg.Ledger.QueryLimit),
		)
	}

	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.Bool("poller.enabled", newCfg.Poller.Enabled),
			logx.Duration("poller.interval", newCfg.PollInterval()),
		)
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Viewer.Address), strings.TrimSpace(newCfg.Viewer.Address)) ||
		!strings.EqualFold(strings.TrimSpace(oldCfg.Viewer.Email), strings.TrimSpace(newCfg.Viewer.Email)) {
		changed = append(changed, "viewer")
		attrs = append(attrs,
			logx.Bool("viewer.address_set", strings.TrimSpace(newCfg.Viewer.Address) != ""),
			logx.Bool("viewer.email_set", strings.TrimSpace(newCfg.Viewer.Email) != ""),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}

	if oldCfg.Limits != newCfg.Limits {
		changed = append(changed, "limits")
		attrs = append(attrs,
			logx.Int("limits.notifications", newCfg.Limits.Notifications),
			logx.Int("limits.history", newCfg.Limits.History),
			logx.Int("limits.seen", newCfg.Limits.Seen),
		)
	}

	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled ||
		oldCfg.HTTPAddr() != newCfg.HTTPAddr() ||
		!reflect.DeepEqual(oldCfg.HTTP.AllowedOrigins, newCfg.HTTP.AllowedOrigins) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTPAddr()),
			logx.Int("http.origins", len(newCfg.HTTP.AllowedOrigins)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	return changed, attrs
}

// RequiresRestart reports whether a change touches settings that are only
// read at startup.
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "storage", "http", "limits":
			return true
		}
	}
	return false
}
