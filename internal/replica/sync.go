package replica

import (
	"context"
	"fmt"
	"slices"
)

// StateVector maps each known peer to the highest seq such that every op
// 1..seq from that peer is present locally.
func (r *Replica) StateVector(ctx context.Context) (map[string]int64, error) {
	if r.closed.Load() {
		return nil, ErrUnavailable
	}
	rows, err := r.db.QueryContext(ctx, `SELECT peer, seq FROM ops ORDER BY peer COLLATE BINARY ASC, seq ASC`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("state vector: %w", err))
	}
	defer rows.Close()

	vector := make(map[string]int64)
	gapped := make(map[string]bool)
	for rows.Next() {
		var (
			peer string
			seq  int64
		)
		if err := rows.Scan(&peer, &seq); err != nil {
			return nil, fmt.Errorf("state vector: scan: %w", err)
		}
		if gapped[peer] {
			continue
		}
		if seq != vector[peer]+1 {
			gapped[peer] = true
			continue
		}
		vector[peer] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state vector: %w", err)
	}
	return vector, nil
}

// OpsSince returns every local op the holder of vector is missing, ordered by
// peer then seq.
func (r *Replica) OpsSince(ctx context.Context, vector map[string]int64) ([]Op, error) {
	if r.closed.Load() {
		return nil, ErrUnavailable
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM ops
		ORDER BY peer COLLATE BINARY ASC, seq ASC
	`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("ops since: %w", err))
	}
	defer rows.Close()

	all, err := scanOps(rows)
	if err != nil {
		return nil, fmt.Errorf("ops since: %w", err)
	}
	out := all[:0]
	for _, op := range all {
		if op.Seq > vector[op.Peer] {
			out = append(out, op)
		}
	}
	return out, nil
}

// OpsFrom returns this replica's own ops with seq greater than after.
func (r *Replica) OpsFrom(ctx context.Context, after int64) ([]Op, error) {
	if r.closed.Load() {
		return nil, ErrUnavailable
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM ops
		WHERE peer = ? AND seq > ?
		ORDER BY seq ASC
	`, r.peer, after)
	if err != nil {
		return nil, unavailable(fmt.Errorf("ops from: %w", err))
	}
	defer rows.Close()
	return scanOps(rows)
}

// Merge stores ops received from another peer. Every op is validated first;
// one invalid op rejects the batch. Ops already present are skipped, so
// merging the same batch twice is harmless. Returns the number of new ops.
func (r *Replica) Merge(ctx context.Context, ops []Op) (int, error) {
	if r.closed.Load() {
		return 0, ErrUnavailable
	}
	if len(ops) == 0 {
		return 0, nil
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	applied, err := r.insertOps(ctx, ops)
	if err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("replica: merge: %w", err)
	}
	var maxClock int64
	for _, op := range applied {
		maxClock = max(maxClock, op.Clock)
		if op.Peer == r.peer && op.Seq > r.seq {
			r.seq = op.Seq
		}
	}
	r.clock.Observe(maxClock)
	r.mu.Unlock()

	if len(applied) == 0 {
		return 0, nil
	}

	collections, err := r.groupCollections(ctx, applied)
	if err != nil {
		return len(applied), err
	}
	r.logger.Debug("ops merged", "received", len(ops), "applied", len(applied), "collections", collections)
	r.notify(collections)
	return len(applied), nil
}

// groupCollections lists every collection touched by the groups of ops. A
// merged op can complete a group whose other ops live in other collections.
func (r *Replica) groupCollections(ctx context.Context, ops []Op) ([]string, error) {
	groups := make(map[string]bool)
	var out []string
	for _, op := range ops {
		if groups[op.Group] {
			continue
		}
		groups[op.Group] = true
		rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT collection FROM ops WHERE group_id = ?`, op.Group)
		if err != nil {
			return nil, unavailable(fmt.Errorf("group collections: %w", err))
		}
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				rows.Close()
				return nil, fmt.Errorf("group collections: scan: %w", err)
			}
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("group collections: %w", err)
		}
	}
	slices.Sort(out)
	return out, nil
}

// GroupComplete reports whether every op of group is present.
func (r *Replica) GroupComplete(ctx context.Context, group string) (bool, error) {
	if r.closed.Load() {
		return false, ErrUnavailable
	}
	var count, size int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(group_size), 0) FROM ops WHERE group_id = ?
	`, group).Scan(&count, &size)
	if err != nil {
		return false, unavailable(fmt.Errorf("group complete: %w", err))
	}
	return count > 0 && count == size, nil
}

// SyncStats counts ops moved by Sync.
type SyncStats struct {
	AToB int `json:"aToB"`
	BToA int `json:"bToA"`
}

// Sync exchanges missing ops in both directions. Afterwards a and b hold the
// same op set and materialize identical collections.
func Sync(ctx context.Context, a, b *Replica) (SyncStats, error) {
	var stats SyncStats

	vb, err := b.StateVector(ctx)
	if err != nil {
		return stats, err
	}
	toB, err := a.OpsSince(ctx, vb)
	if err != nil {
		return stats, err
	}

	va, err := a.StateVector(ctx)
	if err != nil {
		return stats, err
	}
	toA, err := b.OpsSince(ctx, va)
	if err != nil {
		return stats, err
	}

	if stats.AToB, err = b.Merge(ctx, toB); err != nil {
		return stats, fmt.Errorf("sync %s -> %s: %w", a.peer, b.peer, err)
	}
	if stats.BToA, err = a.Merge(ctx, toA); err != nil {
		return stats, fmt.Errorf("sync %s -> %s: %w", b.peer, a.peer, err)
	}
	return stats, nil
}
