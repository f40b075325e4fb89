package s3journal

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"
)

// ShardSymbols is the fixed alphabet spec.md §4.8 assigns shard
// directory-prefix identifiers from: digits then lowercase letters.
const ShardSymbols = "0123456789abcdefghijklmnopqrstuvwxyz"

// Sharder fans Submit calls out across N independent Journal instances,
// round-robin, each owning its own durable queue and ID prefix so their
// object keys and local queue topics never collide.
type Sharder struct {
	shards []*Journal
	next   atomic.Uint64
}

// NewSharder constructs n independent Journals from a shared base
// config, one per symbol in ShardSymbols (n must not exceed
// len(ShardSymbols)), and wraps them in a Sharder.
func NewSharder(base Config, n int) (*Sharder, error) {
	if n <= 0 {
		return nil, fmt.Errorf("s3journal: shard count must be positive")
	}
	if n > len(ShardSymbols) {
		return nil, fmt.Errorf("s3journal: shard count %d exceeds available symbols %d", n, len(ShardSymbols))
	}

	shards := make([]*Journal, 0, n)
	for i := 0; i < n; i++ {
		symbol := string(ShardSymbols[i])

		cfg := base
		cfg.ID = symbol
		baseFormat := base.DirectoryFormat
		if baseFormat == nil {
			baseFormat = func(now time.Time) string { return now.UTC().Format("2006/01/02") }
		}
		cfg.DirectoryFormat = func(now time.Time) string { return symbol + "/" + baseFormat(now) }
		if base.LocalDirectory != "" {
			cfg.LocalDirectory = filepath.Join(base.LocalDirectory, symbol)
		}

		j, err := New(cfg)
		if err != nil {
			for _, s := range shards {
				_ = s.Close()
			}
			return nil, fmt.Errorf("s3journal: construct shard %q: %w", symbol, err)
		}
		shards = append(shards, j)
	}

	return &Sharder{shards: shards}, nil
}

// Submit routes entry to the next shard in round-robin order.
func (s *Sharder) Submit(entry any) error {
	idx := s.next.Add(1) % uint64(len(s.shards))
	return s.shards[idx].Submit(entry)
}

// Stats merges every shard's Stats snapshot.
func (s *Sharder) Stats() Stats {
	var total Stats
	for _, sh := range s.shards {
		total.Stats = total.Stats.Add(sh.Stats().Stats)
	}
	return total
}

// Close closes every shard, returning the first error encountered (if
// any) after attempting to close all of them.
func (s *Sharder) Close() error {
	var firstErr error
	for _, sh := range s.shards {
		if err := sh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
