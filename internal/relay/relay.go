// Package relay replicates ops through a shared Redis stream, for tills that
// cannot reach each other directly.
//
// Each peer appends its own ops to the stream in batches and reads everyone
// else's. Stream entries are never trimmed, so a new till catches up by
// reading from the start; Merge drops what it already holds.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/lanpos/internal/replica"
)

const (
	// DefaultStream is the stream key ops are published to.
	DefaultStream = "lanpos:ops"

	// DefaultBatchSize bounds the ops carried by one stream entry.
	DefaultBatchSize = 256

	readCount = 64
)

// Document is the replica surface the relay needs.
type Document interface {
	PeerID() string
	OpsFrom(ctx context.Context, after int64) ([]replica.Op, error)
	Merge(ctx context.Context, ops []replica.Op) (int, error)
}

// Connect creates a Redis client and checks it responds.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay: ping: %w", err)
	}
	return client, nil
}

// Relay publishes local ops to and merges remote ops from a Redis stream.
type Relay struct {
	client    *redis.Client
	doc       Document
	logger    *slog.Logger
	stream    string
	batchSize int

	// lastID is the last stream entry merged or skipped.
	lastID string
}

// Option configures a Relay.
type Option func(*Relay)

// WithStream overrides the stream key.
func WithStream(key string) Option {
	return func(r *Relay) {
		r.stream = key
	}
}

// WithBatchSize overrides the number of ops per stream entry.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

// New returns a relay for doc over client. It reads the stream from the start.
func New(client *redis.Client, doc Document, opts ...Option) *Relay {
	r := &Relay{
		client:    client,
		doc:       doc,
		logger:    slog.Default(),
		stream:    DefaultStream,
		batchSize: DefaultBatchSize,
		lastID:    "0",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) watermarkKey() string {
	return r.stream + ":published"
}

// Published returns the highest own seq already on the stream.
func (r *Relay) Published(ctx context.Context) (int64, error) {
	raw, err := r.client.HGet(ctx, r.watermarkKey(), r.doc.PeerID()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("relay: read watermark: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("relay: bad watermark %q: %w", raw, err)
	}
	return n, nil
}

// Publish appends ops to the stream in batches.
func (r *Relay) Publish(ctx context.Context, ops []replica.Op) error {
	for start := 0; start < len(ops); start += r.batchSize {
		end := min(start+r.batchSize, len(ops))
		payload, err := json.Marshal(ops[start:end])
		if err != nil {
			return fmt.Errorf("relay: encode ops: %w", err)
		}
		err = r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"peer": r.doc.PeerID(),
				"ops":  string(payload),
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("relay: xadd: %w", err)
		}
	}
	return nil
}

// PublishPending publishes own ops above the stored watermark and advances it.
// Returns the number of ops published.
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	after, err := r.Published(ctx)
	if err != nil {
		return 0, err
	}
	ops, err := r.doc.OpsFrom(ctx, after)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := r.Publish(ctx, ops); err != nil {
		return 0, err
	}
	last := ops[len(ops)-1].Seq
	if err := r.client.HSet(ctx, r.watermarkKey(), r.doc.PeerID(), last).Err(); err != nil {
		return 0, fmt.Errorf("relay: write watermark: %w", err)
	}
	return len(ops), nil
}

// Poll merges every stream entry after the last one seen. Entries published
// by this peer are skipped. It does not block. Returns the number of ops
// applied.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	applied := 0
	for {
		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, r.lastID},
			Count:   readCount,
			Block:   -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return applied, nil
		}
		if err != nil {
			return applied, fmt.Errorf("relay: xread: %w", err)
		}

		read := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				n, err := r.apply(ctx, msg)
				if err != nil {
					return applied, err
				}
				applied += n
				r.lastID = msg.ID
				read++
			}
		}
		if read < readCount {
			return applied, nil
		}
	}
}

func (r *Relay) apply(ctx context.Context, msg redis.XMessage) (int, error) {
	peer, _ := msg.Values["peer"].(string)
	if peer == r.doc.PeerID() {
		return 0, nil
	}
	raw, ok := msg.Values["ops"].(string)
	if !ok {
		r.logger.Warn("relay entry without ops", "id", msg.ID, "peer", peer)
		return 0, nil
	}
	var ops []replica.Op
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		r.logger.Warn("relay entry undecodable", "id", msg.ID, "peer", peer, "error", err)
		return 0, nil
	}
	n, err := r.doc.Merge(ctx, ops)
	if errors.Is(err, replica.ErrInvalidOp) {
		r.logger.Warn("relay entry rejected", "id", msg.ID, "peer", peer, "error", err)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("relay: merge %s: %w", msg.ID, err)
	}
	return n, nil
}

// Run publishes and polls every interval until ctx is done. Errors are logged
// and retried on the next tick.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := r.PublishPending(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("relay publish failed", "error", err)
		} else if n > 0 {
			r.logger.Info("ops published", "count", n, "stream", r.stream)
		}

		if n, err := r.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("relay poll failed", "error", err)
		} else if n > 0 {
			r.logger.Info("ops merged from relay", "count", n, "stream", r.stream)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
