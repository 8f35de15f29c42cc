package replica

import (
	"context"
	"fmt"

	"github.com/roach88/lanpos/internal/value"
)

// Collection is a named collection of the document. Each write is its own
// single-op group.
type Collection struct {
	r    *Replica
	name string
}

// Collection returns the named collection. Collections exist implicitly.
func (r *Replica) Collection(name string) *Collection {
	return &Collection{r: r, name: name}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Records returns the visible records in insertion order.
func (c *Collection) Records(ctx context.Context) ([]Record, error) {
	return c.r.records(ctx, c.name, nil)
}

// Get returns one record.
func (c *Collection) Get(ctx context.Context, id string) (Record, bool, error) {
	records, err := c.Records(ctx)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := findRecord(records, id)
	return rec, ok, nil
}

// Append inserts a new record.
func (c *Collection) Append(ctx context.Context, rec Record) error {
	return c.r.Transact(ctx, func(tx *Txn) error {
		return tx.Collection(c.name).Append(ctx, rec)
	})
}

// UpdateField overwrites one field (last writer wins).
func (c *Collection) UpdateField(ctx context.Context, id, field string, v value.Value) error {
	return c.r.Transact(ctx, func(tx *Txn) error {
		return tx.Collection(c.name).UpdateField(ctx, id, field, v)
	})
}

// AddDelta adds a signed increment to an integer field. Concurrent deltas
// from different peers all survive.
func (c *Collection) AddDelta(ctx context.Context, id, field string, delta int64) error {
	return c.r.Transact(ctx, func(tx *Txn) error {
		return tx.Collection(c.name).AddDelta(ctx, id, field, delta)
	})
}

// TxCollection is a collection seen from inside a Txn.
type TxCollection struct {
	txn  *Txn
	name string
}

// Records returns committed records with the transaction's pending ops applied.
func (c *TxCollection) Records(ctx context.Context) ([]Record, error) {
	return c.txn.r.records(ctx, c.name, c.txn.pending)
}

// Get returns one record as of this point in the transaction.
func (c *TxCollection) Get(ctx context.Context, id string) (Record, bool, error) {
	records, err := c.Records(ctx)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := findRecord(records, id)
	return rec, ok, nil
}

// Append queues an insert. The id must be new.
func (c *TxCollection) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("replica: append to %s: empty record id", c.name)
	}
	exists, err := c.txn.exists(ctx, c.name, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateRecord, c.name, rec.ID)
	}
	return c.txn.push(c.name, KindInsert, rec.ID, "", rec.Fields.Clone())
}

// UpdateField queues a last-writer-wins write.
func (c *TxCollection) UpdateField(ctx context.Context, id, field string, v value.Value) error {
	if err := c.requireField(ctx, id, field); err != nil {
		return err
	}
	return c.txn.push(c.name, KindSet, id, field, value.Clone(v))
}

// AddDelta queues a counter increment.
func (c *TxCollection) AddDelta(ctx context.Context, id, field string, delta int64) error {
	if err := c.requireField(ctx, id, field); err != nil {
		return err
	}
	return c.txn.push(c.name, KindAdd, id, field, value.Int(delta))
}

func (c *TxCollection) requireField(ctx context.Context, id, field string) error {
	if field == "" {
		return fmt.Errorf("replica: write to %s/%s: empty field name", c.name, id)
	}
	exists, err := c.txn.exists(ctx, c.name, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, c.name, id)
	}
	return nil
}
