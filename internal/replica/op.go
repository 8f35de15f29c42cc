package replica

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/lanpos/internal/value"
)

// Kind is the type of mutation an op performs.
type Kind string

const (
	KindInsert Kind = "insert"
	KindSet    Kind = "set"
	KindAdd    Kind = "add"
)

// Op is one immutable replicated mutation.
//
// Value holds the initial fields (value.Map) for insert, the new field value
// for set and the signed increment (value.Int) for add.
type Op struct {
	ID         string      `json:"id"`
	Peer       string      `json:"peer"`
	Seq        int64       `json:"seq"`
	Clock      int64       `json:"clock"`
	Group      string      `json:"group"`
	GroupSize  int         `json:"groupSize"`
	Collection string      `json:"collection"`
	Kind       Kind        `json:"kind"`
	RecordID   string      `json:"recordId"`
	Field      string      `json:"field,omitempty"`
	Value      value.Value `json:"value"`
}

// Record is a materialized record.
type Record struct {
	ID     string
	Fields value.Map
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Fields: r.Fields.Clone()}
}

// compareKey orders ops by (clock, peer, seq). Peer ids compare as bytes.
func compareKey(a, b Op) int {
	if c := cmp.Compare(a.Clock, b.Clock); c != 0 {
		return c
	}
	if c := strings.Compare(a.Peer, b.Peer); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// groupID names the group whose first op has seq first.
func groupID(peer string, first int64) string {
	return fmt.Sprintf("%s:%d", peer, first)
}

// ComputeID returns the content hash of the op, excluding the ID field itself.
func ComputeID(op Op) (string, error) {
	return value.Hash(value.DomainOp, value.Map{
		"peer":       value.String(op.Peer),
		"seq":        value.Int(op.Seq),
		"clock":      value.Int(op.Clock),
		"group":      value.String(op.Group),
		"groupSize":  value.Int(op.GroupSize),
		"collection": value.String(op.Collection),
		"kind":       value.String(op.Kind),
		"recordId":   value.String(op.RecordID),
		"field":      value.String(op.Field),
		"value":      op.Value,
	})
}

// Validate checks structural rules and that ID matches the content hash.
func (op Op) Validate() error {
	switch {
	case op.Peer == "":
		return fmt.Errorf("%w: empty peer", ErrInvalidOp)
	case op.Seq < 1 || op.Clock < 1:
		return fmt.Errorf("%w: seq and clock must be positive", ErrInvalidOp)
	case op.GroupSize < 1 || op.Group == "":
		return fmt.Errorf("%w: missing group", ErrInvalidOp)
	case op.Collection == "" || op.RecordID == "":
		return fmt.Errorf("%w: missing collection or record id", ErrInvalidOp)
	}

	switch op.Kind {
	case KindInsert:
		if _, ok := op.Value.(value.Map); !ok {
			return fmt.Errorf("%w: insert value must be a map", ErrInvalidOp)
		}
	case KindSet:
		if op.Field == "" {
			return fmt.Errorf("%w: set without field", ErrInvalidOp)
		}
	case KindAdd:
		if op.Field == "" {
			return fmt.Errorf("%w: add without field", ErrInvalidOp)
		}
		if _, ok := op.Value.(value.Int); !ok {
			return fmt.Errorf("%w: add value must be an integer", ErrInvalidOp)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}

	id, err := ComputeID(op)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOp, err)
	}
	if id != op.ID {
		return fmt.Errorf("%w: id %s does not match content hash %s", ErrInvalidOp, op.ID, id)
	}
	return nil
}

// UnmarshalJSON decodes Value through value.Decode so integers stay integers.
func (op *Op) UnmarshalJSON(data []byte) error {
	type alias Op
	var raw struct {
		alias
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*op = Op(raw.alias)
	if len(raw.Value) == 0 {
		return fmt.Errorf("%w: missing value", ErrInvalidOp)
	}
	v, err := value.Decode(raw.Value)
	if err != nil {
		return fmt.Errorf("op %s: %w", op.ID, err)
	}
	op.Value = v
	return nil
}
