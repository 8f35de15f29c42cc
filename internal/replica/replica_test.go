package replica

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lanpos/internal/value"
)

func openMem(t *testing.T, peer string) *Replica {
	t.Helper()
	r, err := Open(":memory:", WithPeerID(peer))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func seedProduct(t *testing.T, r *Replica, id string, stock int64) {
	t.Helper()
	err := r.Collection("products").Append(context.Background(), Record{
		ID:     id,
		Fields: value.Map{"name": value.String(id), "stock": value.Int(stock)},
	})
	require.NoError(t, err)
}

func stockOf(t *testing.T, r *Replica, id string) int64 {
	t.Helper()
	rec, ok, err := r.Collection("products").Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "product %s not visible", id)
	n, ok := rec.Fields.Int("stock")
	require.True(t, ok)
	return n
}

func TestOpen_PersistsPeerID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.db")

	r1, err := Open(path)
	require.NoError(t, err)
	peer := r1.PeerID()
	require.NotEmpty(t, peer)
	seedProduct(t, r1, "prod-1", 10)
	require.NoError(t, r1.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, peer, r2.PeerID())

	// seq resumes after the stored ops
	require.NoError(t, r2.Collection("products").AddDelta(context.Background(), "prod-1", "stock", -1))
	ops, err := r2.OpsFrom(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, int64(2), ops[1].Seq)
	assert.Greater(t, ops[1].Clock, ops[0].Clock)
}

func TestOpen_RejectsMismatchedPeerID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.db")

	r1, err := Open(path, WithPeerID("till-1"))
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	_, err = Open(path, WithPeerID("till-2"))
	require.Error(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.db")
	for i := 0; i < 3; i++ {
		r, err := Open(path, WithPeerID("till-1"))
		require.NoError(t, err)
		require.NoError(t, r.Close())
	}
}

func TestCollection_AppendPreservesInsertionOrder(t *testing.T) {
	r := openMem(t, "a")
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Collection("categories").Append(ctx, Record{ID: id, Fields: value.Map{"name": value.String(id)}}))
	}

	records, err := r.Collection("categories").Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "a", records[1].ID)
	assert.Equal(t, "b", records[2].ID)
}

func TestCollection_AppendDuplicateFails(t *testing.T) {
	r := openMem(t, "a")
	seedProduct(t, r, "prod-1", 5)

	err := r.Collection("products").Append(context.Background(), Record{ID: "prod-1", Fields: value.Map{}})
	require.ErrorIs(t, err, ErrDuplicateRecord)
}

func TestCollection_WriteToMissingRecord(t *testing.T) {
	r := openMem(t, "a")

	err := r.Collection("products").AddDelta(context.Background(), "nope", "stock", 1)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCollection_UpdateFieldAndAddDelta(t *testing.T) {
	r := openMem(t, "a")
	ctx := context.Background()
	seedProduct(t, r, "prod-1", 100)

	require.NoError(t, r.Collection("products").AddDelta(ctx, "prod-1", "stock", -3))
	require.NoError(t, r.Collection("products").AddDelta(ctx, "prod-1", "stock", -2))
	assert.Equal(t, int64(95), stockOf(t, r, "prod-1"))

	// a later overwrite resets the base; earlier deltas are subsumed
	require.NoError(t, r.Collection("products").UpdateField(ctx, "prod-1", "stock", value.Int(40)))
	require.NoError(t, r.Collection("products").AddDelta(ctx, "prod-1", "stock", -1))
	assert.Equal(t, int64(39), stockOf(t, r, "prod-1"))
}

func TestTransact_RollbackOnError(t *testing.T) {
	r := openMem(t, "a")
	ctx := context.Background()
	seedProduct(t, r, "prod-1", 10)

	boom := errors.New("boom")
	err := r.Transact(ctx, func(tx *Txn) error {
		require.NoError(t, tx.Collection("orders").Append(ctx, Record{ID: "order-1", Fields: value.Map{"total": value.Int(100)}}))
		require.NoError(t, tx.Collection("products").AddDelta(ctx, "prod-1", "stock", -1))
		return boom
	})
	require.ErrorIs(t, err, boom)

	orders, err := r.Collection("orders").Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, int64(10), stockOf(t, r, "prod-1"))

	// seq did not advance: the next group starts right after the seed op
	err = r.Transact(ctx, func(tx *Txn) error {
		assert.Equal(t, "a:2", tx.Group())
		return tx.Collection("products").AddDelta(ctx, "prod-1", "stock", -1)
	})
	require.NoError(t, err)
	vector, err := r.StateVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 2}, vector)
}

func TestTransact_ReadsPendingOps(t *testing.T) {
	r := openMem(t, "a")
	ctx := context.Background()
	seedProduct(t, r, "prod-1", 10)

	err := r.Transact(ctx, func(tx *Txn) error {
		products := tx.Collection("products")
		require.NoError(t, products.AddDelta(ctx, "prod-1", "stock", -4))

		rec, ok, err := products.Get(ctx, "prod-1")
		require.NoError(t, err)
		require.True(t, ok)
		n, _ := rec.Fields.Int("stock")
		assert.Equal(t, int64(6), n)

		require.NoError(t, tx.Collection("orders").Append(ctx, Record{ID: "order-1", Fields: value.Map{}}))
		_, ok, err = tx.Collection("orders").Get(ctx, "order-1")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestTransact_GroupIsAtomicAndComplete(t *testing.T) {
	r := openMem(t, "a")
	ctx := context.Background()
	seedProduct(t, r, "prod-1", 10)

	var group string
	err := r.Transact(ctx, func(tx *Txn) error {
		group = tx.Group()
		if err := tx.Collection("orders").Append(ctx, Record{ID: "order-1", Fields: value.Map{}}); err != nil {
			return err
		}
		return tx.Collection("products").AddDelta(ctx, "prod-1", "stock", -2)
	})
	require.NoError(t, err)

	ok, err := r.GroupComplete(ctx, group)
	require.NoError(t, err)
	assert.True(t, ok)

	ops, err := r.OpsFrom(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.Equal(t, group, op.Group)
		assert.Equal(t, 2, op.GroupSize)
	}
}

func orderIDs(t *testing.T, r *Replica) []string {
	t.Helper()
	recs, err := r.Collection("orders").Records(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids
}

func TestTransact_TwoHandlesOnOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "till.db")
	ctx := context.Background()

	a, err := Open(path, WithPeerID("till-1"))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, WithPeerID("till-1"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Collection("orders").Append(ctx, Record{ID: "order-a", Fields: value.Map{"total": value.Int(100)}}))
	require.NoError(t, b.Collection("orders").Append(ctx, Record{ID: "order-b", Fields: value.Map{"total": value.Int(200)}}))
	require.NoError(t, a.Collection("orders").Append(ctx, Record{ID: "order-c", Fields: value.Map{"total": value.Int(300)}}))

	assert.Equal(t, []string{"order-a", "order-b", "order-c"}, orderIDs(t, a))
	assert.Equal(t, []string{"order-a", "order-b", "order-c"}, orderIDs(t, b))

	vector, err := b.StateVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"till-1": 3}, vector)
}

func TestCommitLocal_SeqConflictKeepsNothing(t *testing.T) {
	r := openMem(t, "a")
	ctx := context.Background()
	seedProduct(t, r, "prod-1", 10)

	stored, err := r.OpsFrom(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// the log already ends at seq 1
	err = r.commitLocal(ctx, 1, stored)
	require.ErrorIs(t, err, ErrSeqConflict)

	// seq range is free but the ops are already stored
	err = r.commitLocal(ctx, 2, stored)
	require.ErrorIs(t, err, ErrSeqConflict)

	all, err := r.OpsFrom(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCollection_ClockTieOrderedByPeerBytes(t *testing.T) {
	lower := openMem(t, "till-b")
	upper := openMem(t, "Till-a")
	ctx := context.Background()

	require.NoError(t, lower.Collection("orders").Append(ctx, Record{ID: "order-lower", Fields: value.Map{}}))
	require.NoError(t, upper.Collection("orders").Append(ctx, Record{ID: "order-upper", Fields: value.Map{}}))
	_, err := Sync(ctx, lower, upper)
	require.NoError(t, err)

	// both inserts carry clock 1; "T" sorts before "t"
	assert.Equal(t, []string{"order-upper", "order-lower"}, orderIDs(t, lower))
	assert.Equal(t, []string{"order-upper", "order-lower"}, orderIDs(t, upper))
}

func TestMerge_IncompleteGroupInvisible(t *testing.T) {
	a := openMem(t, "a")
	b := openMem(t, "b")
	ctx := context.Background()
	seedProduct(t, a, "prod-1", 10)

	err := a.Transact(ctx, func(tx *Txn) error {
		if err := tx.Collection("orders").Append(ctx, Record{ID: "order-1", Fields: value.Map{}}); err != nil {
			return err
		}
		return tx.Collection("products").AddDelta(ctx, "prod-1", "stock", -2)
	})
	require.NoError(t, err)

	ops, err := a.OpsSince(ctx, nil)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	// seed op plus only the order half of the checkout group
	_, err = b.Merge(ctx, ops[:2])
	require.NoError(t, err)

	orders, err := b.Collection("orders").Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, int64(10), stockOf(t, b, "prod-1"))

	_, err = b.Merge(ctx, ops[2:])
	require.NoError(t, err)
	orders, err = b.Collection("orders").Records(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, int64(8), stockOf(t, b, "prod-1"))
}

func TestMerge_Idempotent(t *testing.T) {
	a := openMem(t, "a")
	b := openMem(t, "b")
	ctx := context.Background()
	seedProduct(t, a, "prod-1", 10)

	ops, err := a.OpsSince(ctx, nil)
	require.NoError(t, err)

	n, err := b.Merge(ctx, ops)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.Merge(ctx, ops)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(10), stockOf(t, b, "prod-1"))
}

func TestMerge_RejectsTamperedOp(t *testing.T) {
	a := openMem(t, "a")
	b := openMem(t, "b")
	ctx := context.Background()
	seedProduct(t, a, "prod-1", 10)

	ops, err := a.OpsSince(ctx, nil)
	require.NoError(t, err)
	ops[0].Value = value.Map{"stock": value.Int(1000)}

	_, err = b.Merge(ctx, ops)
	require.ErrorIs(t, err, ErrInvalidOp)
}

func TestMerge_AdvancesClock(t *testing.T) {
	a := openMem(t, "a")
	b := openMem(t, "b")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Collection("categories").Append(ctx, Record{ID: string(rune('a' + i)), Fields: value.Map{}}))
	}

	ops, err := a.OpsSince(ctx, nil)
	require.NoError(t, err)
	_, err = b.Merge(ctx, ops)
	require.NoError(t, err)
	assert.Equal(t, a.Clock().Current(), b.Clock().Current())
}

func TestMerge_OrderIndependent(t *testing.T) {
	ctx := context.Background()
	a := openMem(t, "a")
	b := openMem(t, "b")
	seedProduct(t, a, "prod-1", 100)
	_, err := Sync(ctx, a, b)
	require.NoError(t, err)

	require.NoError(t, a.Collection("products").AddDelta(ctx, "prod-1", "stock", -7))
	require.NoError(t, b.Collection("products").AddDelta(ctx, "prod-1", "stock", -5))
	require.NoError(t, b.Collection("products").UpdateField(ctx, "prod-1", "name", value.String("Espresso")))

	opsA, err := a.OpsSince(ctx, nil)
	require.NoError(t, err)
	opsB, err := b.OpsSince(ctx, map[string]int64{"a": 100})
	require.NoError(t, err)

	x := openMem(t, "x")
	_, err = x.Merge(ctx, opsA)
	require.NoError(t, err)
	_, err = x.Merge(ctx, opsB)
	require.NoError(t, err)

	y := openMem(t, "y")
	_, err = y.Merge(ctx, opsB)
	require.NoError(t, err)
	_, err = y.Merge(ctx, opsA)
	require.NoError(t, err)

	rx, err := x.Collection("products").Records(ctx)
	require.NoError(t, err)
	ry, err := y.Collection("products").Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, rx, ry)
	assert.Equal(t, int64(88), stockOf(t, x, "prod-1"))
}

func TestSync_ConcurrentDeltasConverge(t *testing.T) {
	ctx := context.Background()
	a := openMem(t, "a")
	b := openMem(t, "b")
	seedProduct(t, a, "prod-1", 100)
	_, err := Sync(ctx, a, b)
	require.NoError(t, err)

	// both peers sell 60 while partitioned
	require.NoError(t, a.Collection("products").AddDelta(ctx, "prod-1", "stock", -60))
	require.NoError(t, b.Collection("products").AddDelta(ctx, "prod-1", "stock", -60))

	stats, err := Sync(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AToB)
	assert.Equal(t, 1, stats.BToA)

	assert.Equal(t, int64(-20), stockOf(t, a, "prod-1"))
	assert.Equal(t, int64(-20), stockOf(t, b, "prod-1"))
}

func TestSync_OverwriteLosesConcurrentDecrement(t *testing.T) {
	ctx := context.Background()
	a := openMem(t, "a")
	b := openMem(t, "b")
	seedProduct(t, a, "prod-1", 100)
	_, err := Sync(ctx, a, b)
	require.NoError(t, err)

	// read-modify-write of an absolute value: one sale disappears
	require.NoError(t, a.Collection("products").UpdateField(ctx, "prod-1", "stock", value.Int(40)))
	require.NoError(t, b.Collection("products").UpdateField(ctx, "prod-1", "stock", value.Int(40)))
	_, err = Sync(ctx, a, b)
	require.NoError(t, err)

	assert.Equal(t, int64(40), stockOf(t, a, "prod-1"))
	assert.Equal(t, stockOf(t, a, "prod-1"), stockOf(t, b, "prod-1"))
}

func TestSubscribe_NotifiesAfterCommit(t *testing.T) {
	a := openMem(t, "a")
	b := openMem(t, "b")
	ctx := context.Background()

	var local, merged int
	subA := a.Subscribe("products", func() {
		// reads from inside the callback see the committed state
		records, err := a.Collection("products").Records(ctx)
		require.NoError(t, err)
		local = len(records)
	})
	subB := b.Subscribe("products", func() { merged++ })
	defer subB.Unsubscribe()

	seedProduct(t, a, "prod-1", 1)
	assert.Equal(t, 1, local)

	_, err := Sync(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	subA.Unsubscribe()
	subA.Unsubscribe()
	assert.Equal(t, 0, a.SubscriberCount("products"))

	seedProduct(t, a, "prod-2", 1)
	assert.Equal(t, 1, local)
}

func TestSubscribe_NotSignalledOnRollback(t *testing.T) {
	r := openMem(t, "a")
	calls := 0
	sub := r.Subscribe("orders", func() { calls++ })
	defer sub.Unsubscribe()

	_ = r.Transact(context.Background(), func(tx *Txn) error {
		_ = tx.Collection("orders").Append(context.Background(), Record{ID: "o", Fields: value.Map{}})
		return errors.New("abort")
	})
	assert.Equal(t, 0, calls)
}

func TestClosedReplicaUnavailable(t *testing.T) {
	r, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	ctx := context.Background()
	assert.ErrorIs(t, r.Ping(ctx), ErrUnavailable)
	_, err = r.Collection("products").Records(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	err = r.Transact(ctx, func(*Txn) error { return nil })
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStateVector_ContiguousPrefix(t *testing.T) {
	a := openMem(t, "a")
	b := openMem(t, "b")
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		require.NoError(t, a.Collection("categories").Append(ctx, Record{ID: id, Fields: value.Map{}}))
	}
	ops, err := a.OpsSince(ctx, nil)
	require.NoError(t, err)

	// skip seq 2
	_, err = b.Merge(ctx, []Op{ops[0], ops[2]})
	require.NoError(t, err)
	vector, err := b.StateVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), vector["a"])

	missing, err := a.OpsSince(ctx, vector)
	require.NoError(t, err)
	assert.Len(t, missing, 2)
}

func TestOp_JSONRoundTrip(t *testing.T) {
	a := openMem(t, "a")
	ctx := context.Background()
	seedProduct(t, a, "prod-1", 7)

	ops, err := a.OpsSince(ctx, nil)
	require.NoError(t, err)

	data, err := json.Marshal(ops)
	require.NoError(t, err)
	var decoded []Op
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	require.NoError(t, decoded[0].Validate())
	assert.Equal(t, ops[0], decoded[0])
}
