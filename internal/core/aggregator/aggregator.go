package aggregator

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const DefaultWindow = 3 * time.Second

type Options struct {
	Window   time.Duration
	Now      func() time.Time
	Relation func(text string) domain.StreamRelation
}

// Aggregator debounces inbound messages into batches. Ingest, ForceFlush and
// the timer callback share one mutex around the buffer. Emitted batches are
// queued and handed to the callback one at a time, in emission order, by a
// single delivery goroutine that exits when the queue drains.
type Aggregator struct {
	opts    Options
	onBatch func(domain.Batch)

	mu         sync.Mutex
	buffer     []domain.RawMessage
	source     string
	timer      *time.Timer
	generation uint64
	closed     bool

	queue    []domain.Batch
	draining bool

	callbacks sync.WaitGroup
}

func New(onBatch func(domain.Batch), opts Options) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Relation == nil {
		opts.Relation = DetectRelation
	}
	if onBatch == nil {
		onBatch = func(domain.Batch) {}
	}
	return &Aggregator{
		opts:    opts,
		onBatch: onBatch,
	}
}

// Ingest buffers one message. Empty input is dropped. An acknowledgment into
// an empty buffer is emitted at once instead of waiting for the window.
func (a *Aggregator) Ingest(text, source string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	msg := domain.RawMessage{
		Text:      text,
		ArrivedAt: a.opts.Now(),
		Source:    source,
		Relation:  a.opts.Relation(text),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	a.buffer = append(a.buffer, msg)
	if source != "" {
		a.source = source
	}
	a.stopTimerLocked()

	if msg.Relation == domain.RelationAcknowledgment && len(a.buffer) == 1 {
		a.emitLocked()
		return
	}

	gen := a.generation
	a.timer = time.AfterFunc(a.opts.Window, func() {
		a.fire(gen)
	})
}

// ForceFlush emits whatever is buffered. No-op on an empty buffer.
func (a *Aggregator) ForceFlush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	if len(a.buffer) > 0 {
		a.emitLocked()
	}
}

// Close flushes pending input, refuses further messages and waits for
// in-flight callbacks.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.stopTimerLocked()
	if len(a.buffer) > 0 {
		a.emitLocked()
	}
	a.closed = true
	a.mu.Unlock()
	a.callbacks.Wait()
}

// Wait blocks until every queued batch has been delivered.
func (a *Aggregator) Wait() {
	a.callbacks.Wait()
}

func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

func (a *Aggregator) fire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// A newer Ingest or a flush bumped the generation: this timer is stale.
	if gen != a.generation || len(a.buffer) == 0 {
		return
	}
	a.timer = nil
	a.emitLocked()
}

func (a *Aggregator) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.generation++
}

func (a *Aggregator) emitLocked() {
	messages := a.buffer
	a.buffer = nil
	a.generation++

	batch := BuildBatch(messages, a.source, a.opts.Now())
	slog.Debug("batch_emitted",
		"kind", string(batch.Kind),
		"messages", len(batch.Messages),
		"source", batch.Source,
	)

	a.queue = append(a.queue, batch)
	if a.draining {
		return
	}
	a.draining = true
	a.callbacks.Add(1)
	go a.drain()
}

func (a *Aggregator) drain() {
	defer a.callbacks.Done()
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.draining = false
			a.mu.Unlock()
			return
		}
		batch := a.queue[0]
		a.queue[0] = domain.Batch{}
		a.queue = a.queue[1:]
		a.mu.Unlock()
		a.onBatch(batch)
	}
}
