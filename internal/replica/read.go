package replica

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/lanpos/internal/value"
)

const opColumns = `id, peer, seq, clock, group_id, group_size, collection, kind, record_id, field, value`

// loadCollection returns the ops of complete groups for one collection in
// op key order.
func (r *Replica) loadCollection(ctx context.Context, collection string) ([]Op, error) {
	if r.closed.Load() {
		return nil, ErrUnavailable
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM ops o
		WHERE o.collection = ?
		  AND (SELECT COUNT(*) FROM ops g WHERE g.group_id = o.group_id) = o.group_size
		ORDER BY o.clock ASC, o.peer COLLATE BINARY ASC, o.seq ASC
	`, collection)
	if err != nil {
		return nil, unavailable(fmt.Errorf("load collection %s: %w", collection, err))
	}
	defer rows.Close()
	return scanOps(rows)
}

// recordExists reports whether an insert for id is visible in collection.
func (r *Replica) recordExists(ctx context.Context, collection, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM ops o
		WHERE o.collection = ? AND o.record_id = ? AND o.kind = 'insert'
		  AND (SELECT COUNT(*) FROM ops g WHERE g.group_id = o.group_id) = o.group_size
	`, collection, id).Scan(&n)
	if err != nil {
		return false, unavailable(fmt.Errorf("check record %s/%s: %w", collection, id, err))
	}
	return n > 0, nil
}

func scanOps(rows *sql.Rows) ([]Op, error) {
	var ops []Op
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return ops, nil
}

func scanOp(rows *sql.Rows) (Op, error) {
	var (
		op   Op
		kind string
		raw  string
	)
	if err := rows.Scan(&op.ID, &op.Peer, &op.Seq, &op.Clock, &op.Group, &op.GroupSize,
		&op.Collection, &kind, &op.RecordID, &op.Field, &raw); err != nil {
		return Op{}, fmt.Errorf("scan op: %w", err)
	}
	op.Kind = Kind(kind)
	v, err := value.Decode([]byte(raw))
	if err != nil {
		return Op{}, fmt.Errorf("decode op %s value: %w", op.ID, err)
	}
	op.Value = v
	return op, nil
}

// records materializes a collection, overlaying extra ops that are not yet
// committed.
func (r *Replica) records(ctx context.Context, collection string, extra []Op) ([]Record, error) {
	ops, err := r.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, op := range extra {
		if op.Collection == collection {
			ops = append(ops, op)
		}
	}
	return materialize(ops), nil
}

func findRecord(records []Record, id string) (Record, bool) {
	for _, rec := range records {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}
