package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. They win over the file so secrets and per-host
// values can stay out of it.
const (
	EnvRPCURL        = "SUI_RPC_URL"
	EnvPackageID     = "GIFTING_PACKAGE_ID"
	EnvViewerAddress = "LIXIWATCH_VIEWER_ADDRESS"
	EnvViewerEmail   = "LIXIWATCH_VIEWER_EMAIL"
	EnvStoreDSN      = "LIXIWATCH_STORE_DSN"
	EnvStorePassword = "LIXIWATCH_STORE_PASSWORD"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays the environment onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Ledger.RPCURL, EnvRPCURL)
	set(&cfg.Ledger.PackageID, EnvPackageID)
	set(&cfg.Viewer.Address, EnvViewerAddress)
	set(&cfg.Viewer.Email, EnvViewerEmail)
	set(&cfg.Storage.DSN, EnvStoreDSN)
	set(&cfg.Storage.Password, EnvStorePassword)
}
