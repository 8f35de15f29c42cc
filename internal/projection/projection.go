// Package projection exposes live, read-only typed views of replicated
// collections.
//
// A Handle holds the latest decoded snapshot of one collection. Every
// committed group that touches the collection, whether written locally or
// merged from a peer, triggers a full recompute and an atomic swap, so
// readers observe either the state before a group or after it.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
)

// Source is the part of the replica a projection reads.
type Source interface {
	Collection(name string) *replica.Collection
	Subscribe(collection string, fn func()) *replica.Subscription
}

// Option configures a projection.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for decode and refresh failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Handle is a live view of one collection.
type Handle[T any] struct {
	src        Source
	collection string
	decode     func(replica.Record) (T, error)
	logger     *slog.Logger

	snap    atomic.Pointer[[]T]
	changes chan struct{}

	// mu serializes refreshes and guards closed.
	mu     sync.Mutex
	closed bool
	sub    *replica.Subscription
	done   chan struct{}
}

// Subscribe opens a live view of collection. The registration is released by
// Close or when ctx is cancelled, whichever comes first.
func Subscribe[T any](ctx context.Context, src Source, collection string, decode func(replica.Record) (T, error), opts ...Option) (*Handle[T], error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Handle[T]{
		src:        src,
		collection: collection,
		decode:     decode,
		logger:     cfg.logger.With("collection", collection),
		changes:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	empty := []T{}
	h.snap.Store(&empty)

	// Register before the first read so no commit falls between them.
	h.sub = src.Subscribe(collection, h.onChange)

	if err := h.Refresh(ctx); err != nil {
		h.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			h.Close()
		case <-h.done:
		}
	}()
	return h, nil
}

// Snapshot returns a copy of the current records in collection order.
func (h *Handle[T]) Snapshot() []T {
	return slices.Clone(*h.snap.Load())
}

// Changes signals after each republish. Signals coalesce: a reader that falls
// behind sees one pending signal, not one per group. The channel is closed by
// Close.
func (h *Handle[T]) Changes() <-chan struct{} {
	return h.changes
}

// Find returns the first record matching pred.
func (h *Handle[T]) Find(pred func(T) bool) (T, bool) {
	for _, item := range *h.snap.Load() {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Refresh recomputes the snapshot from the full collection.
func (h *Handle[T]) Refresh(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("projection %s: closed", h.collection)
	}
	return h.refreshLocked(ctx)
}

func (h *Handle[T]) refreshLocked(ctx context.Context) error {
	records, err := h.src.Collection(h.collection).Records(ctx)
	if err != nil {
		return fmt.Errorf("projection %s: %w", h.collection, err)
	}

	items := make([]T, 0, len(records))
	for _, rec := range records {
		item, err := h.decode(rec)
		if err != nil {
			h.logger.Warn("skipping undecodable record", "id", rec.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	h.snap.Store(&items)
	return nil
}

func (h *Handle[T]) onChange() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if err := h.refreshLocked(context.Background()); err != nil {
		h.logger.Error("refresh failed", "error", err)
		return
	}
	select {
	case h.changes <- struct{}{}:
	default:
	}
}

// Close releases the subscription. It is safe to call more than once and from
// any goroutine.
func (h *Handle[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.sub.Unsubscribe()
	close(h.done)
	close(h.changes)
}

// Products is a product view that also serves cart price lookups.
type Products struct {
	*Handle[pos.Product]
}

// SubscribeProducts opens a live view of the products collection.
func SubscribeProducts(ctx context.Context, src Source, opts ...Option) (*Products, error) {
	h, err := Subscribe(ctx, src, pos.CollectionProducts, pos.DecodeProduct, opts...)
	if err != nil {
		return nil, err
	}
	return &Products{Handle: h}, nil
}

// Product returns the product with id.
func (p *Products) Product(id string) (pos.Product, bool) {
	return p.Find(func(prod pos.Product) bool { return prod.ID == id })
}
