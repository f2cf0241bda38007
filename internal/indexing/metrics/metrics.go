package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksIngested tracks blocks crawled and persisted
	BlocksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erawatcher_blocks_ingested_total",
			Help: "Total number of blocks ingested",
		},
	)

	// BlocksFailed tracks blocks whose ingestion failed
	BlocksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erawatcher_blocks_failed_total",
			Help: "Total number of block ingestion failures",
		},
		[]string{"reason"},
	)

	// DeploysClassified tracks staking deploys by kind
	DeploysClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erawatcher_deploys_classified_total",
			Help: "Total number of deploys classified",
		},
		[]string{"kind"},
	)

	// MalformedResults tracks execution results skipped as malformed
	MalformedResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erawatcher_malformed_results_total",
			Help: "Total number of malformed execution results skipped",
		},
		[]string{"source"},
	)

	// TransfersIngested tracks transfers recorded
	TransfersIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erawatcher_transfers_ingested_total",
			Help: "Total number of transfers ingested",
		},
	)

	// RPCCallsTotal tracks node calls per method and outcome
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erawatcher_rpc_calls_total",
			Help: "Total number of node RPC calls",
		},
		[]string{"method", "status"},
	)

	// RPCLatency tracks node call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erawatcher_rpc_latency_seconds",
			Help:    "Node RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ProbeResults tracks node probe outcomes
	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erawatcher_probe_results_total",
			Help: "Total number of node probes by result",
		},
		[]string{"result"},
	)

	// HealthyNodes tracks the size of the healthy node set
	HealthyNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erawatcher_healthy_nodes",
			Help: "Number of nodes at the maximum reported height",
		},
	)

	// NodeBans tracks nodes banned after failed calls
	NodeBans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erawatcher_node_bans_total",
			Help: "Total number of node bans",
		},
	)

	// OrchestratorState exposes the crawl state index
	OrchestratorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erawatcher_orchestrator_state",
			Help: "Current orchestrator state (0=idle 1=probing 2=dispatching 3=waiting 4=aggregating)",
		},
	)

	// HeightsQueued tracks heights dispatched to workers
	HeightsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erawatcher_heights_queued_total",
			Help: "Total number of heights dispatched",
		},
	)

	// HeightsAcked tracks worker acknowledgements by result
	HeightsAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erawatcher_heights_acked_total",
			Help: "Total number of height acknowledgements",
		},
		[]string{"result"},
	)

	// RegisteredWorkers tracks workers known to the orchestrator
	RegisteredWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erawatcher_registered_workers",
			Help: "Number of registered workers",
		},
	)

	// AggregationDuration tracks aggregation pass latency
	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erawatcher_aggregation_duration_seconds",
			Help:    "Aggregation pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// AggregationBatchDuration tracks the latency of a single aggregated batch
	AggregationBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erawatcher_aggregation_batch_duration_seconds",
			Help:    "Aggregation batch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// LastCalculatedHeight tracks aggregation progress
	LastCalculatedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erawatcher_last_calculated_height",
			Help: "Highest block height aggregated into eras",
		},
	)

	// ChainLatestBlock tracks the latest block height of the chain
	ChainLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erawatcher_chain_latest_block",
			Help: "Latest block height reported by the healthy node set",
		},
	)

	// CirculatingSupply tracks the latest computed circulating supply
	CirculatingSupply = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erawatcher_circulating_supply_tokens",
			Help: "Circulating supply per era in tokens",
		},
		[]string{"era"},
	)

	// DBConnectionPoolUsage tracks pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erawatcher_db_connection_pool_usage_percent",
			Help: "Database connection pool usage in percent",
		},
	)
)
