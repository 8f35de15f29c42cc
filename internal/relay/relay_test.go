package relay

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func openPeer(t *testing.T, id string) *replica.Replica {
	t.Helper()
	doc, err := replica.Open(":memory:", replica.WithPeerID(id))
	require.NoError(t, err)
	t.Cleanup(func() { doc.Close() })
	return doc
}

func newRelay(client *redis.Client, doc Document, opts ...Option) *Relay {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(client, doc, opts...)
}

func addProduct(t *testing.T, doc *replica.Replica, id string, stock int64) {
	t.Helper()
	p := pos.Product{ID: id, Name: id, Price: 100, CategoryID: "cat-1", SKU: "SKU-" + id, Stock: stock}
	require.NoError(t, doc.Collection(pos.CollectionProducts).Append(context.Background(), p.Record()))
}

func stock(t *testing.T, doc *replica.Replica, id string) int64 {
	t.Helper()
	rec, ok, err := doc.Collection(pos.CollectionProducts).Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := rec.Fields.Int(pos.FieldStock)
	return n
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	client.Close()
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay: ping")
}

func TestRelay_ConvergesTwoPeers(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	a := openPeer(t, "a")
	b := openPeer(t, "b")
	ra := newRelay(client, a)
	rb := newRelay(client, b)

	addProduct(t, a, "prod-1", 10)
	n, err := ra.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	applied, err := rb.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	require.NoError(t, a.Collection(pos.CollectionProducts).AddDelta(ctx, "prod-1", pos.FieldStock, -2))
	require.NoError(t, b.Collection(pos.CollectionProducts).AddDelta(ctx, "prod-1", pos.FieldStock, -5))

	for _, r := range []*Relay{ra, rb} {
		_, err := r.PublishPending(ctx)
		require.NoError(t, err)
	}
	for _, r := range []*Relay{ra, rb} {
		_, err := r.Poll(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), stock(t, a, "prod-1"))
	assert.Equal(t, int64(3), stock(t, b, "prod-1"))
}

func TestRelay_PublishPendingAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	a := openPeer(t, "a")
	r := newRelay(client, a)

	addProduct(t, a, "prod-1", 1)
	addProduct(t, a, "prod-2", 1)

	n, err := r.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	published, err := r.Published(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), published)

	n, err = r.PublishPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := mr.Stream(DefaultStream)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRelay_Batches(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	a := openPeer(t, "a")
	b := openPeer(t, "b")

	for _, id := range []string{"prod-1", "prod-2", "prod-3", "prod-4", "prod-5"} {
		addProduct(t, a, id, 1)
	}
	_, err := newRelay(client, a, WithBatchSize(2)).PublishPending(ctx)
	require.NoError(t, err)

	entries, err := mr.Stream(DefaultStream)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	applied, err := newRelay(client, b).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, applied)
}

func TestRelay_SkipsOwnEntries(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	a := openPeer(t, "a")
	r := newRelay(client, a)

	addProduct(t, a, "prod-1", 1)
	_, err := r.PublishPending(ctx)
	require.NoError(t, err)

	applied, err := r.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestRelay_PollIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	a := openPeer(t, "a")
	b := openPeer(t, "b")

	addProduct(t, a, "prod-1", 1)
	_, err := newRelay(client, a).PublishPending(ctx)
	require.NoError(t, err)

	first, err := newRelay(client, b).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := newRelay(client, b).Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestRelay_SkipsGarbageEntries(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	b := openPeer(t, "b")

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: DefaultStream,
		Values: map[string]any{"peer": "x", "ops": "not json"},
	}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: DefaultStream,
		Values: map[string]any{"peer": "x", "ops": `[{"id":"forged","peer":"x","seq":1,"clock":1,"group":"x:1","groupSize":1,"collection":"products","kind":"insert","recordId":"p","value":{}}]`},
	}).Err())

	applied, err := newRelay(client, b).Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestRelay_PollEmptyStream(t *testing.T) {
	_, client := newRedis(t)
	applied, err := newRelay(client, openPeer(t, "a")).Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	_, client := newRedis(t)
	a := openPeer(t, "a")
	b := openPeer(t, "b")
	addProduct(t, a, "prod-1", 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- newRelay(client, a).Run(ctx, 10*time.Millisecond) }()
	go func() { done <- newRelay(client, b).Run(ctx, 10*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		_, ok, err := b.Collection(pos.CollectionProducts).Get(context.Background(), "prod-1")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	for range 2 {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not stop")
		}
	}
}
