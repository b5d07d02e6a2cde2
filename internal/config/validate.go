package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	logx "lixiwatch/pkg/logx"
)

const (
	DefaultPollInterval = 12 * time.Second
	DefaultRPCTimeout   = 10 * time.Second
	DefaultBalanceTTL   = 15 * time.Second
	DefaultHTTPAddr     = "127.0.0.1:8787"
)

var knownDrivers = map[string]bool{
	"": true, "memory": true, "file": true,
	"sqlite": true, "sqlite3": true,
	"postgres": true, "postgresql": true,
	"redis": true,
}

// Validate checks cfg and returns every problem joined into one error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if cfg.Poller.Enabled {
		if strings.TrimSpace(cfg.Ledger.RPCURL) == "" {
			errs = append(errs, errors.New("ledger.rpc_url is required when poller is enabled"))
		}
		if strings.TrimSpace(cfg.Ledger.PackageID) == "" {
			errs = append(errs, errors.New("ledger.package_id is required when poller is enabled"))
		}
	}
	if u := strings.TrimSpace(cfg.Ledger.RPCURL); u != "" {
		if pu, err := url.Parse(u); err != nil || (pu.Scheme != "http" && pu.Scheme != "https") || pu.Host == "" {
			errs = append(errs, fmt.Errorf("ledger.rpc_url: invalid url %q", u))
		}
	}
	if cfg.Ledger.QueryLimit < 0 || cfg.Ledger.QueryLimit > 50 {
		errs = append(errs, fmt.Errorf("ledger.query_limit must be between 1 and 50, got %d", cfg.Ledger.QueryLimit))
	}
	if cfg.Ledger.RatePerSec < 0 {
		errs = append(errs, errors.New("ledger.rate_per_sec must be >= 0"))
	}
	for path, raw := range map[string]string{
		"ledger.timeout":       cfg.Ledger.Timeout,
		"ledger.balance_ttl":   cfg.Ledger.BalanceTTL,
		"poller.interval":      cfg.Poller.Interval,
		"storage.busy_timeout": cfg.Storage.BusyTimeout,
	} {
		if _, err := durationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !knownDrivers[driver] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", driver))
		}
	case "postgres", "postgresql", "redis":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", driver))
		}
	}

	if cfg.Limits.Notifications < 0 || cfg.Limits.History < 0 || cfg.Limits.Seen < 0 {
		errs = append(errs, errors.New("limits must be >= 0"))
	}

	if cfg.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(cfg.HTTPAddr()); err != nil {
			errs = append(errs, fmt.Errorf("http.addr: %w", err))
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}

	return errors.Join(errs...)
}

// PollInterval returns poller.interval or its default.
func (c *Config) PollInterval() time.Duration {
	return durationOr("poller.interval", c.Poller.Interval, DefaultPollInterval)
}

func (c *Config) RPCTimeout() time.Duration {
	return durationOr("ledger.timeout", c.Ledger.Timeout, DefaultRPCTimeout)
}

func (c *Config) BalanceTTL() time.Duration {
	return durationOr("ledger.balance_ttl", c.Ledger.BalanceTTL, DefaultBalanceTTL)
}

func (c *Config) BusyTimeout() time.Duration {
	d, _ := durationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return d
}

func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}
