package replica

import (
	"slices"

	"github.com/roach88/lanpos/internal/value"
)

// fieldState tracks how one field of one record resolves.
type fieldState struct {
	base    value.Value
	baseKey Op
	hasBase bool
	adds    []Op
}

type recordState struct {
	insert Op
	fields map[string]*fieldState
}

// materialize computes the visible records of one collection from its ops.
// The caller passes only ops of complete groups. The result depends on the
// set of ops, never on their order in the slice.
//
// Rules:
//   - records appear in order of their insert op key; the first insert of an id wins
//   - a field's base is the insert value or the set with the greatest key
//   - add ops with a key greater than the base are summed onto it
//   - set and add ops on ids without an insert are kept but not shown
func materialize(ops []Op) []Record {
	sorted := slices.Clone(ops)
	slices.SortFunc(sorted, compareKey)

	states := make(map[string]*recordState)
	var order []string
	pending := make(map[string][]Op)

	for _, op := range sorted {
		switch op.Kind {
		case KindInsert:
			if _, seen := states[op.RecordID]; seen {
				continue
			}
			fields, _ := op.Value.(value.Map)
			st := &recordState{insert: op, fields: make(map[string]*fieldState, len(fields))}
			for name, v := range fields {
				st.fields[name] = &fieldState{base: v, baseKey: op, hasBase: true}
			}
			states[op.RecordID] = st
			order = append(order, op.RecordID)
		case KindSet, KindAdd:
			pending[op.RecordID] = append(pending[op.RecordID], op)
		}
	}

	records := make([]Record, 0, len(order))
	for _, id := range order {
		st := states[id]
		for _, op := range pending[id] {
			fs, ok := st.fields[op.Field]
			if !ok {
				fs = &fieldState{}
				st.fields[op.Field] = fs
			}
			switch op.Kind {
			case KindSet:
				if !fs.hasBase || compareKey(op, fs.baseKey) > 0 {
					fs.base, fs.baseKey, fs.hasBase = op.Value, op, true
				}
			case KindAdd:
				fs.adds = append(fs.adds, op)
			}
		}

		fields := make(value.Map, len(st.fields))
		for name, fs := range st.fields {
			if v, ok := resolveField(fs); ok {
				fields[name] = v
			}
		}
		records = append(records, Record{ID: id, Fields: fields})
	}
	return records
}

// resolveField sums the adds that order after the base. A field with only
// adds counts from zero. A non-integer base absorbs no adds.
func resolveField(fs *fieldState) (value.Value, bool) {
	if len(fs.adds) == 0 {
		return value.Clone(fs.base), fs.hasBase
	}

	var total int64
	if fs.hasBase {
		n, ok := fs.base.(value.Int)
		if !ok {
			return value.Clone(fs.base), true
		}
		total = int64(n)
	}
	for _, op := range fs.adds {
		if fs.hasBase && compareKey(op, fs.baseKey) <= 0 {
			continue
		}
		total += int64(op.Value.(value.Int))
	}
	return value.Int(total), true
}
