package app

import (
	"strings"

	"lixiwatch/internal/config"
	"lixiwatch/internal/identity"
	"lixiwatch/internal/ledger"
	"lixiwatch/internal/storage"
	logx "lixiwatch/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: cfg.BusyTimeout(),
		KeyPrefix:   sc.KeyPrefix,
		Password:    sc.Password,
		DB:          sc.DB,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapViewer(cfg *config.Config) identity.Viewer {
	return identity.Viewer{Address: cfg.Viewer.Address, Email: cfg.Viewer.Email}.Normalize()
}

func mapEventTypes(cfg *config.Config) []string {
	return ledger.EventTypes(cfg.Ledger.PackageID, cfg.Ledger.GiftModule, cfg.Ledger.LixiModule)
}

func mapRPCConfig(cfg *config.Config) ledger.RPCConfig {
	return ledger.RPCConfig{
		URL:        cfg.Ledger.RPCURL,
		Timeout:    cfg.RPCTimeout(),
		RatePerSec: cfg.Ledger.RatePerSec,
	}
}
