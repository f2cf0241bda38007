package config

import (
	"time"

	redisclient "github.com/vietddude/erawatcher/internal/infra/redis"
	"github.com/vietddude/erawatcher/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
	Network     NetworkConfig      `yaml:"network"`
	Nodes       NodesConfig        `yaml:"nodes"`
	Crawler     CrawlerConfig      `yaml:"crawler"`
	Worker      WorkerConfig       `yaml:"worker"`
	Aggregation AggregationConfig  `yaml:"aggregation"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// LagThreshold is the aggregation lag (in blocks) above which health is degraded.
	LagThreshold uint64 `yaml:"lag_threshold"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// NetworkConfig describes chain constants the indexer cannot read from RPC.
type NetworkConfig struct {
	Name string `yaml:"name"`
	// GenesisTotalSupply and GenesisValidatorsWeights are denominated.
	GenesisTotalSupply       int64 `yaml:"genesis_total_supply"`
	GenesisValidatorsWeights int64 `yaml:"genesis_validators_weights"`
	// TotalSupplyKey is the global state key holding the total supply, e.g. a mint URef.
	TotalSupplyKey  string   `yaml:"total_supply_key"`
	TotalSupplyPath []string `yaml:"total_supply_path"`
	// BootstrapEra is the last era excluded from circulating supply recomputation.
	BootstrapEra uint64 `yaml:"bootstrap_era"`
	// OpenEraWindow is added to an open era's start to get its supply cutoff.
	OpenEraWindow time.Duration `yaml:"open_era_window"`
	LockedWallets []string      `yaml:"locked_wallets"`
}

// NodesConfig holds node pool settings.
type NodesConfig struct {
	Seeds            []string      `yaml:"seeds"`
	RPCPort          int           `yaml:"rpc_port"`
	RPCPath          string        `yaml:"rpc_path"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	ProbeConcurrency int           `yaml:"probe_concurrency"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	MinQuorum        int           `yaml:"min_quorum"`
	ProbeRetry       RetryConfig   `yaml:"probe_retry"`
	// RateLimit is the per-node request budget per second, 0 = unlimited.
	RateLimit   int    `yaml:"rate_limit"`
	PeerRefresh string `yaml:"peer_refresh"` // cron spec
	BanPolicy   string `yaml:"ban_policy"`   // none, exclude
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
}

// CrawlerConfig holds orchestrator settings.
type CrawlerConfig struct {
	StartupDelay   time.Duration `yaml:"startup_delay"`
	Interval       time.Duration `yaml:"interval"`
	MaxDispatch    int           `yaml:"max_dispatch"`
	FinishTimeout  time.Duration `yaml:"finish_timeout"`
	CalculatingTTL time.Duration `yaml:"calculating_ttl"`
}

// WorkerConfig holds worker process settings.
type WorkerConfig struct {
	ID               string        `yaml:"id"`
	Concurrency      int           `yaml:"concurrency"`
	QueueSize        int           `yaml:"queue_size"`
	RegisterInterval time.Duration `yaml:"register_interval"`
}

// AggregationConfig holds aggregation engine settings.
type AggregationConfig struct {
	MaxBlocks int `yaml:"max_blocks"`
	CacheSize int `yaml:"cache_size"`
}
