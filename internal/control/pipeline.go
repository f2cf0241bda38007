package control

import (
	"github.com/vietddude/erawatcher/internal/indexing/aggregate"
	"github.com/vietddude/erawatcher/internal/indexing/ingest"
	"github.com/vietddude/erawatcher/internal/indexing/nodepool"
	"github.com/vietddude/erawatcher/internal/indexing/supply"
)

// NewNodePool creates a pool dialing Casper nodes per the nodes config.
func (d *Deps) NewNodePool() *nodepool.Pool {
	n := d.Config.Nodes
	return nodepool.New(n, d.Tracker, nodepool.CasperDialer(n.RPCPort, n.RPCPath, n.RateLimit))
}

// NewIngester creates the block ingestion engine reading through pool.
func (d *Deps) NewIngester(pool *nodepool.Pool) *ingest.Engine {
	return ingest.NewEngine(pool, d.Store, d.Tracker, ingest.Config{
		TotalSupplyKey:  d.Config.Network.TotalSupplyKey,
		TotalSupplyPath: d.Config.Network.TotalSupplyPath,
	})
}

// NewCalculator creates the circulating supply calculator.
func (d *Deps) NewCalculator() *supply.Calculator {
	return supply.NewCalculator(d.Store, supply.Config{
		GenesisTotalSupply: d.Config.Network.GenesisTotalSupply,
		OpenEraWindow:      d.Config.Network.OpenEraWindow,
	})
}

// NewAggregator creates the aggregation engine.
func (d *Deps) NewAggregator(calc *supply.Calculator) (*aggregate.Engine, error) {
	net := d.Config.Network
	return aggregate.NewEngine(d.Store, d.Tracker, calc, aggregate.Config{
		MaxBlocks:                d.Config.Aggregation.MaxBlocks,
		CacheSize:                d.Config.Aggregation.CacheSize,
		LockedWallets:            net.LockedWallets,
		GenesisValidatorsWeights: net.GenesisValidatorsWeights,
		BootstrapEra:             net.BootstrapEra,
	})
}
