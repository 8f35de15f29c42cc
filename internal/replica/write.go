package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/lanpos/internal/value"
)

// Txn collects the ops of one grouped mutation. It is only valid inside the
// function passed to Transact.
type Txn struct {
	r       *Replica
	group   string
	first   int64
	pending []Op
}

// Group returns the id shared by every op of this transaction.
func (t *Txn) Group() string {
	return t.group
}

// Collection returns a view of a collection that reads committed state plus
// this transaction's pending ops and writes into the transaction.
func (t *Txn) Collection(name string) *TxCollection {
	return &TxCollection{txn: t, name: name}
}

// maxCommitAttempts bounds how often Transact re-runs fn after another
// handle on the same database claimed the group's seq range.
const maxCommitAttempts = 3

// Transact runs fn and commits every op it produced as one group in a single
// SQLite transaction. If fn returns an error or the commit fails, no op is
// kept and the local seq does not advance.
//
// The group's seq range is checked against the log inside the write
// transaction. When another handle on the same file got there first, the
// replica catches up and fn runs again, so fn must not have effects outside
// the Txn.
//
// Subscribers of every touched collection are notified after commit.
func (r *Replica) Transact(ctx context.Context, fn func(*Txn) error) error {
	if r.closed.Load() {
		return ErrUnavailable
	}

	r.mu.Lock()
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		if err := r.catchUp(ctx); err != nil {
			r.mu.Unlock()
			return err
		}

		txn := &Txn{r: r, first: r.seq + 1}
		txn.group = groupID(r.peer, txn.first)

		if err := fn(txn); err != nil {
			r.mu.Unlock()
			return err
		}
		if len(txn.pending) == 0 {
			r.mu.Unlock()
			return nil
		}

		ops, err := txn.seal()
		if err != nil {
			r.mu.Unlock()
			return err
		}

		err = r.commitLocal(ctx, txn.first, ops)
		if errors.Is(err, ErrSeqConflict) {
			r.logger.Warn("local seq taken by another writer, retrying",
				"group", txn.group, "attempt", attempt)
			continue
		}
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("replica: commit group %s: %w", txn.group, err)
		}
		r.seq = ops[len(ops)-1].Seq
		r.mu.Unlock()

		r.logger.Debug("group committed", "group", txn.group, "ops", len(ops))
		r.notify(collectionsOf(ops))
		return nil
	}
	r.mu.Unlock()
	return ErrSeqConflict
}

// catchUp raises the local seq and the clock to what the log holds. Another
// process may have written through its own handle on the same file.
// Callers hold r.mu.
func (r *Replica) catchUp(ctx context.Context) error {
	var seq, clock int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(CASE WHEN peer = ? THEN seq END), 0), COALESCE(MAX(clock), 0) FROM ops`,
		r.peer).Scan(&seq, &clock)
	if err != nil {
		return unavailable(fmt.Errorf("load local seq: %w", err))
	}
	r.seq = max(r.seq, seq)
	r.clock.Observe(clock)
	return nil
}

// commitLocal writes a local group whose seqs start at first. It fails with
// ErrSeqConflict, keeping nothing, unless the log ends at first-1 for this
// peer and every op is new.
func (r *Replica) commitLocal(ctx context.Context, first int64, ops []Op) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ops WHERE peer = ?`, r.peer).Scan(&last); err != nil {
		return unavailable(fmt.Errorf("load local seq: %w", err))
	}
	if last != first-1 {
		return fmt.Errorf("%w: log ends at seq %d, group starts at %d", ErrSeqConflict, last, first)
	}

	applied, err := insertTx(ctx, tx, ops)
	if err != nil {
		return err
	}
	if len(applied) != len(ops) {
		return fmt.Errorf("%w: %d of %d ops already stored", ErrSeqConflict, len(ops)-len(applied), len(ops))
	}

	if err := tx.Commit(); err != nil {
		return unavailable(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// seal stamps the final group size and computes op ids.
func (t *Txn) seal() ([]Op, error) {
	ops := make([]Op, len(t.pending))
	for i, op := range t.pending {
		op.GroupSize = len(t.pending)
		id, err := ComputeID(op)
		if err != nil {
			return nil, fmt.Errorf("replica: op %s/%s: %w", op.Collection, op.RecordID, err)
		}
		op.ID = id
		ops[i] = op
	}
	return ops, nil
}

func (t *Txn) push(collection string, kind Kind, recordID, field string, v value.Value) error {
	if _, err := value.Canonical(v); err != nil {
		return fmt.Errorf("replica: %s %s/%s: %w", kind, collection, recordID, err)
	}
	t.pending = append(t.pending, Op{
		Peer:       t.r.peer,
		Seq:        t.first + int64(len(t.pending)),
		Clock:      t.r.clock.Next(),
		Group:      t.group,
		Collection: collection,
		Kind:       kind,
		RecordID:   recordID,
		Field:      field,
		Value:      v,
	})
	return nil
}

// exists checks committed and pending inserts.
func (t *Txn) exists(ctx context.Context, collection, id string) (bool, error) {
	for _, op := range t.pending {
		if op.Kind == KindInsert && op.Collection == collection && op.RecordID == id {
			return true, nil
		}
	}
	return t.r.recordExists(ctx, collection, id)
}

// insertOps writes ops in one SQLite transaction. Ops whose id or (peer, seq)
// is already stored are skipped. It returns the ops that were new.
func (r *Replica) insertOps(ctx context.Context, ops []Op) ([]Op, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	applied, err := insertTx(ctx, tx, ops)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(fmt.Errorf("commit: %w", err))
	}
	return applied, nil
}

func insertTx(ctx context.Context, tx *sql.Tx, ops []Op) ([]Op, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ops (`+opColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	var applied []Op
	for _, op := range ops {
		raw, err := value.Canonical(op.Value)
		if err != nil {
			return nil, fmt.Errorf("encode op %s: %w", op.ID, err)
		}
		res, err := stmt.ExecContext(ctx, op.ID, op.Peer, op.Seq, op.Clock, op.Group, op.GroupSize,
			op.Collection, string(op.Kind), op.RecordID, op.Field, string(raw))
		if err != nil {
			return nil, unavailable(fmt.Errorf("insert op %s: %w", op.ID, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, unavailable(fmt.Errorf("rows affected: %w", err))
		}
		if n > 0 {
			applied = append(applied, op)
		}
	}
	return applied, nil
}

func collectionsOf(ops []Op) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range ops {
		if !seen[op.Collection] {
			seen[op.Collection] = true
			out = append(out, op.Collection)
		}
	}
	return out
}
