package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.LagThreshold == 0 {
		cfg.Server.LagThreshold = 500
	}

	if cfg.Network.OpenEraWindow == 0 {
		cfg.Network.OpenEraWindow = 2 * time.Hour
	}

	n := &cfg.Nodes
	if n.RPCPort == 0 {
		n.RPCPort = 7777
	}
	if n.RPCPath == "" {
		n.RPCPath = "/rpc"
	}
	if n.ProbeTimeout == 0 {
		n.ProbeTimeout = 3 * time.Second
	}
	if n.ProbeConcurrency == 0 {
		n.ProbeConcurrency = 32
	}
	if n.CallTimeout == 0 {
		n.CallTimeout = 10 * time.Second
	}
	if n.MinQuorum == 0 {
		n.MinQuorum = 1
	}
	if n.ProbeRetry.MaxAttempts == 0 {
		n.ProbeRetry.MaxAttempts = 5
	}
	if n.ProbeRetry.InitialDelay == 0 {
		n.ProbeRetry.InitialDelay = 2 * time.Second
	}
	if n.ProbeRetry.MaxDelay == 0 {
		n.ProbeRetry.MaxDelay = 30 * time.Second
	}
	if n.ProbeRetry.BackoffMultiple == 0 {
		n.ProbeRetry.BackoffMultiple = 2.0
	}
	if n.PeerRefresh == "" {
		n.PeerRefresh = "@every 10m"
	}
	if n.BanPolicy == "" {
		n.BanPolicy = "none"
	}

	c := &cfg.Crawler
	if c.StartupDelay == 0 {
		c.StartupDelay = 5 * time.Second
	}
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxDispatch == 0 {
		c.MaxDispatch = 10000
	}
	if c.FinishTimeout == 0 {
		c.FinishTimeout = 15 * time.Minute
	}
	if c.CalculatingTTL == 0 {
		c.CalculatingTTL = time.Hour
	}

	w := &cfg.Worker
	if w.Concurrency == 0 {
		w.Concurrency = 50
	}
	if w.QueueSize == 0 {
		w.QueueSize = 100000
	}
	if w.RegisterInterval == 0 {
		w.RegisterInterval = time.Minute
	}

	if cfg.Aggregation.MaxBlocks == 0 {
		cfg.Aggregation.MaxBlocks = 1000
	}
	if cfg.Aggregation.CacheSize == 0 {
		cfg.Aggregation.CacheSize = 128
	}
}

// Validate checks settings that have no sensible default.
func (cfg *AppConfig) Validate() error {
	var errs []error
	if len(cfg.Nodes.Seeds) == 0 {
		errs = append(errs, errors.New("nodes.seeds must list at least one node"))
	}
	if cfg.Nodes.MinQuorum < 1 {
		errs = append(errs, errors.New("nodes.min_quorum must be >= 1"))
	}
	switch cfg.Nodes.BanPolicy {
	case "none", "exclude":
	default:
		errs = append(errs, fmt.Errorf("nodes.ban_policy %q is not one of none, exclude", cfg.Nodes.BanPolicy))
	}
	if cfg.Network.GenesisTotalSupply <= 0 {
		errs = append(errs, errors.New("network.genesis_total_supply must be positive"))
	}
	if cfg.Network.TotalSupplyKey == "" {
		errs = append(errs, errors.New("network.total_supply_key is required"))
	}
	if cfg.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be >= 1"))
	}
	if cfg.Aggregation.MaxBlocks < 1 {
		errs = append(errs, errors.New("aggregation.max_blocks must be >= 1"))
	}
	return errors.Join(errs...)
}
