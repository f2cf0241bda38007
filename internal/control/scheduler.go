package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/vietddude/erawatcher/internal/core/config"
	"github.com/vietddude/erawatcher/internal/indexing/nodepool"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

func newScheduler() *cron.Cron {
	logger := cronLogger{log: slog.Default().With("component", "scheduler")}
	return cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
}

// schedulePeerRefresh adds a job extending pool's candidates from the peer
// directory of its nodes on the nodes.peer_refresh schedule.
func schedulePeerRefresh(c *cron.Cron, pool *nodepool.Pool, nodes config.NodesConfig, log *slog.Logger) error {
	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), nodes.ProbeTimeout*4)
		defer cancel()
		added, err := pool.RefreshPeers(ctx)
		if err != nil {
			log.Warn("Peer refresh failed", "error", err)
			return
		}
		log.Info("Peer directory refreshed", "added", added, "candidates", len(pool.Candidates()))
	}
	if _, err := c.AddFunc(nodes.PeerRefresh, refresh); err != nil {
		return fmt.Errorf("schedule peer refresh %q: %w", nodes.PeerRefresh, err)
	}
	return nil
}
