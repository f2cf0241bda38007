// Package progress holds the crash-safe work ledger shared by the
// orchestrator and the workers.
//
// # Keys
//
//   - crawled:<height>      set once a height is fully ingested
//   - lastCalculatedHeight  highest height the aggregation has folded into eras
//   - calculating           lock held while an aggregation pass runs
//   - lastQueried:<ip>      unix millis of the last RPC call sent to a node
//
// # Quick Start
//
//	tracker := progress.NewTracker(store)
//
//	crawled, _ := tracker.IsCrawled(ctx, 1000)
//	if !crawled {
//	    // ingest ...
//	    tracker.MarkCrawled(ctx, 1000)
//	}
//
//	last, _ := tracker.LastCalculatedHeight(ctx) // -1 before the first aggregation
package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Store is a key/value store for progress markers. Sets must survive process
// restarts in production implementations.
type Store interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A zero ttl keeps the key forever.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

const (
	keyLastCalculated = "lastCalculatedHeight"
	keyCalculating    = "calculating"
)

// NoHeight is returned by LastCalculatedHeight before anything was aggregated.
const NoHeight int64 = -1

func crawledKey(height uint64) string {
	return fmt.Sprintf("crawled:%d", height)
}

func lastQueriedKey(ip string) string {
	return fmt.Sprintf("lastQueried:%s", ip)
}

// Tracker gives typed access to the progress markers.
type Tracker struct {
	store Store
}

// NewTracker wraps a Store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// IsCrawled reports whether height was fully ingested.
func (t *Tracker) IsCrawled(ctx context.Context, height uint64) (bool, error) {
	_, ok, err := t.store.Get(ctx, crawledKey(height))
	if err != nil {
		return false, fmt.Errorf("get crawled marker %d: %w", height, err)
	}
	return ok, nil
}

// MarkCrawled sets the crawled marker for height.
func (t *Tracker) MarkCrawled(ctx context.Context, height uint64) error {
	if err := t.store.Set(ctx, crawledKey(height), "true", 0); err != nil {
		return fmt.Errorf("set crawled marker %d: %w", height, err)
	}
	return nil
}

// ClearCrawled removes the crawled marker so the height is crawled again.
func (t *Tracker) ClearCrawled(ctx context.Context, height uint64) error {
	if err := t.store.Delete(ctx, crawledKey(height)); err != nil {
		return fmt.Errorf("delete crawled marker %d: %w", height, err)
	}
	return nil
}

// LastCalculatedHeight returns the last aggregated height or NoHeight.
func (t *Tracker) LastCalculatedHeight(ctx context.Context) (int64, error) {
	val, ok, err := t.store.Get(ctx, keyLastCalculated)
	if err != nil {
		return NoHeight, fmt.Errorf("get last calculated height: %w", err)
	}
	if !ok {
		return NoHeight, nil
	}
	h, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return NoHeight, fmt.Errorf("parse last calculated height %q: %w", val, err)
	}
	return h, nil
}

// SetLastCalculatedHeight persists the last aggregated height.
func (t *Tracker) SetLastCalculatedHeight(ctx context.Context, height int64) error {
	if err := t.store.Set(ctx, keyLastCalculated, strconv.FormatInt(height, 10), 0); err != nil {
		return fmt.Errorf("set last calculated height: %w", err)
	}
	return nil
}

// IsCalculating reports whether an aggregation pass holds the lock.
func (t *Tracker) IsCalculating(ctx context.Context) (bool, error) {
	val, ok, err := t.store.Get(ctx, keyCalculating)
	if err != nil {
		return false, fmt.Errorf("get calculating flag: %w", err)
	}
	return ok && val == "true", nil
}

// SetCalculating takes the aggregation lock. The ttl bounds a lock left
// behind by a crashed process.
func (t *Tracker) SetCalculating(ctx context.Context, ttl time.Duration) error {
	if err := t.store.Set(ctx, keyCalculating, "true", ttl); err != nil {
		return fmt.Errorf("set calculating flag: %w", err)
	}
	return nil
}

// ClearCalculating releases the aggregation lock.
func (t *Tracker) ClearCalculating(ctx context.Context) error {
	if err := t.store.Delete(ctx, keyCalculating); err != nil {
		return fmt.Errorf("clear calculating flag: %w", err)
	}
	return nil
}

// LastQueried returns when a node was last used, or the zero time.
func (t *Tracker) LastQueried(ctx context.Context, ip string) (time.Time, error) {
	val, ok, err := t.store.Get(ctx, lastQueriedKey(ip))
	if err != nil {
		return time.Time{}, fmt.Errorf("get last queried %s: %w", ip, err)
	}
	if !ok {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// TouchQueried records that a node was used at ts. The marker is ephemeral.
func (t *Tracker) TouchQueried(ctx context.Context, ip string, ts time.Time, ttl time.Duration) error {
	if err := t.store.Set(ctx, lastQueriedKey(ip), strconv.FormatInt(ts.UnixMilli(), 10), ttl); err != nil {
		return fmt.Errorf("set last queried %s: %w", ip, err)
	}
	return nil
}
