// Package replica provides the replicated document: a set of named collections
// of records that every peer on the LAN holds a full copy of.
//
// Each peer keeps an append-only op log in SQLite. Ops are never rewritten;
// the visible state of a collection is a pure function of the ops present,
// so two peers that hold the same set of ops materialize identical records
// regardless of the order in which the ops arrived.
//
// # Ops
//
//   - insert: creates a record with its initial fields (the first insert of an id wins)
//   - set: last-writer-wins register write of one field
//   - add: commutative signed increment of an integer field
//
// Every op carries (peer, seq, clock). seq is contiguous per peer and drives
// anti-entropy; clock is a Lamport clock that orders ops across peers. Ties are
// broken by peer id, then seq, compared as raw bytes.
//
// # Groups
//
// All ops produced by one Transact share a group id and record the group size.
// Materialization ignores a group until every one of its ops is present, so a
// peer never observes half of a multi-collection mutation.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: one writer, no SQLITE_BUSY
//
// Op ids are SHA-256 hashes of the canonical op (see internal/value), so the
// same op merged twice is stored once.
package replica
