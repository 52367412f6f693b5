package decisioncache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const (
	snapshotVersion = 1
	snapshotBudget  = 5 * time.Second
)

type snapshot struct {
	Version int                          `json:"version"`
	Entries map[string]domain.CacheEntry `json:"entries"`
}

func (c *Cache) persistLocked(ctx context.Context) {
	if c.opts.Store == nil {
		return
	}
	snap := snapshot{Version: snapshotVersion, Entries: make(map[string]domain.CacheEntry, len(c.entries))}
	for key, e := range c.entries {
		snap.Entries[key] = e.Clone()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("snapshot_encode_failed", "key", c.opts.SnapshotKey, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotBudget)
	defer cancel()
	if err := c.opts.Store.Save(ctx, c.opts.SnapshotKey, data); err != nil {
		slog.Warn("snapshot_save_failed", "key", c.opts.SnapshotKey, "error", err)
	}
}

func (c *Cache) restore(ctx context.Context) {
	if c.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, snapshotBudget)
	defer cancel()

	data, err := c.opts.Store.Load(ctx, c.opts.SnapshotKey)
	if err != nil {
		slog.Warn("snapshot_load_failed", "key", c.opts.SnapshotKey, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("snapshot_decode_failed", "key", c.opts.SnapshotKey, "error", err)
		return
	}
	if snap.Version != snapshotVersion {
		slog.Warn("snapshot_version_unsupported", "key", c.opts.SnapshotKey, "version", snap.Version)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range snap.Entries {
		if e.Pattern == "" && e.Domain == "" {
			continue
		}
		entry := e.Clone()
		// Keys are re-derived from the entry fields.
		c.entries[entryKey(entry.IntentType, entry.Domain, entry.Pattern)] = &entry
	}
	c.pruneLocked("")
}
