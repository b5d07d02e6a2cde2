package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "12s", "1m").
type Config struct {
	Ledger  LedgerConfig  `json:"ledger"`
	Poller  PollerConfig  `json:"poller"`
	Viewer  ViewerConfig  `json:"viewer"`
	Storage StorageConfig `json:"storage"`
	Limits  LimitsConfig  `json:"limits,omitempty"`
	HTTP    HTTPConfig    `json:"http"`
	Logging LoggingConfig `json:"logging"`
}

// LedgerConfig points at the JSON-RPC node and the deployed package.
//
// Defaults:
//   - gift_module: "gifting"
//   - lixi_module: "sui_lixi"
//   - query_limit: 20
//   - timeout: "10s"
//   - rate_per_sec: 10
//   - coin_type: "0x2::sui::SUI"
//   - currency: "SUI"
//   - balance_ttl: "15s"
type LedgerConfig struct {
	RPCURL     string `json:"rpc_url"`
	PackageID  string `json:"package_id"`
	GiftModule string `json:"gift_module,omitempty"`
	LixiModule string `json:"lixi_module,omitempty"`
	QueryLimit int    `json:"query_limit,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	CoinType   string `json:"coin_type,omitempty"`
	Currency   string `json:"currency,omitempty"`
	BalanceTTL string `json:"balance_ttl,omitempty"`
}

// PollerConfig controls the ledger poll loop. Interval defaults to "12s".
type PollerConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
}

// ViewerConfig seeds the identity whose notifications are reconciled.
// It can be replaced at runtime through PUT /api/session.
type ViewerConfig struct {
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lixiwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres DSN or redis address
	Password    string `json:"password,omitempty"`     // redis (do not log)
	DB          int    `json:"db,omitempty"`           // redis
	KeyPrefix   string `json:"key_prefix,omitempty"`   // redis
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// LimitsConfig overrides collection caps. Zero keeps the default
// (notifications 50, history 100, seen 500).
type LimitsConfig struct {
	Notifications int `json:"notifications,omitempty"`
	History       int `json:"history,omitempty"`
	Seen          int `json:"seen,omitempty"`
}

// HTTPConfig controls the API server. Addr defaults to "127.0.0.1:8787".
type HTTPConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
