package threads

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const (
	snapshotVersion         = 1
	snapshotThreads         = 10
	snapshotMessages        = 10
	snapshotMessageChars    = 200
	snapshotOperationBudget = 5 * time.Second
)

type snapshot struct {
	Version        int                      `json:"version"`
	ActiveThreadID string                   `json:"active_thread_id,omitempty"`
	Order          []string                 `json:"thread_order"`
	Threads        map[string]domain.Thread `json:"threads"`
}

// encodeSnapshot keeps the most recent threads, each with its latest
// messages clipped. Decisions and subtasks are kept whole.
func (r *Router) encodeSnapshotLocked() ([]byte, error) {
	snap := snapshot{
		Version:        snapshotVersion,
		ActiveThreadID: r.activeID,
		Threads:        make(map[string]domain.Thread),
	}
	for _, t := range r.recentLocked(snapshotThreads) {
		c := t.Clone()
		c.Messages = append([]domain.ThreadMessage(nil), tail(c.Messages, snapshotMessages)...)
		for i := range c.Messages {
			c.Messages[i].Text = clip(c.Messages[i].Text, snapshotMessageChars)
		}
		snap.Order = append(snap.Order, c.ID)
		snap.Threads[c.ID] = c
	}
	return json.Marshal(snap)
}

func (r *Router) persistLocked(ctx context.Context) {
	if r.opts.Store == nil {
		return
	}
	data, err := r.encodeSnapshotLocked()
	if err != nil {
		slog.Warn("snapshot_encode_failed", "key", r.opts.SnapshotKey, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotOperationBudget)
	defer cancel()
	if err := r.opts.Store.Save(ctx, r.opts.SnapshotKey, data); err != nil {
		slog.Warn("snapshot_save_failed", "key", r.opts.SnapshotKey, "error", err)
	}
}

func (r *Router) restore(ctx context.Context) {
	if r.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, snapshotOperationBudget)
	defer cancel()

	data, err := r.opts.Store.Load(ctx, r.opts.SnapshotKey)
	if err != nil {
		slog.Warn("snapshot_load_failed", "key", r.opts.SnapshotKey, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("snapshot_decode_failed", "key", r.opts.SnapshotKey, "error", err)
		return
	}
	if snap.Version != snapshotVersion {
		slog.Warn("snapshot_version_unsupported", "key", r.opts.SnapshotKey, "version", snap.Version)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range snap.Order {
		t, ok := snap.Threads[id]
		if !ok || t.ID == "" {
			continue
		}
		if _, dup := r.threads[id]; dup {
			continue
		}
		c := t.Clone()
		r.threads[id] = &c
		r.order = append(r.order, id)
	}
	if _, ok := r.threads[snap.ActiveThreadID]; ok {
		r.activeID = snap.ActiveThreadID
	}
	r.pruneLocked()
}
