// Package memstore is an in-process implementation of store.Store used by
// every unit test and by the concurrency properties that exercise claim
// contention without a real database. It honors the same conditional-write
// and transact-write semantics as the production dynamostore.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jobforge/jobforge/pkg/store"
)

type rowKey struct {
	table, pk, sk string
}

// Store is a mutex-guarded map keyed by (table, partition, sort). A single
// process-wide lock guards TransactWrite so concurrent claimers across many
// goroutines see genuinely serialized, disjoint outcomes — the same
// guarantee DynamoDB's per-item conditional writes give via its own
// internal partitioning, just achieved here with coarser granularity.
type Store struct {
	mu   sync.Mutex
	rows map[rowKey]json.RawMessage
}

func New() *Store {
	return &Store{rows: map[rowKey]json.RawMessage{}}
}

func (s *Store) Put(ctx context.Context, table, pk, sk string, item any, cond store.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(table, pk, sk, item, cond)
}

func (s *Store) put(table, pk, sk string, item any, cond store.Condition) error {
	key := rowKey{table, pk, sk}
	existing, ok := s.rows[key]
	if !s.conditionHolds(cond, ok, existing) {
		return &store.ErrConditionFailed{Table: table, PK: pk, SK: sk}
	}
	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	s.rows[key] = b
	return nil
}

func (s *Store) conditionHolds(cond store.Condition, exists bool, raw json.RawMessage) bool {
	switch cond.Kind {
	case store.NoCondition:
		return true
	case store.AttrNotExists:
		return !exists
	case store.AttrEquals:
		if !exists {
			return cond.Value == nil
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return false
		}
		got, present := m[cond.Attr]
		if !present {
			return cond.Value == nil
		}
		return equalJSON(got, cond.Value)
	default:
		return false
	}
}

// equalJSON compares two values the way JSON round-tripping would: numbers
// are compared as float64, and the round-tripped values by their encoded
// JSON text.
func equalJSON(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	var av, bv any
	_ = json.Unmarshal(ab, &av)
	_ = json.Unmarshal(bb, &bv)
	return deepEqual(av, bv)
}

func deepEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func (s *Store) Get(ctx context.Context, table, pk, sk string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.rows[rowKey{table, pk, sk}]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *Store) Delete(ctx context.Context, table, pk, sk string, cond store.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rowKey{table, pk, sk}
	existing, ok := s.rows[key]
	if !s.conditionHolds(cond, ok, existing) {
		return &store.ErrConditionFailed{Table: table, PK: pk, SK: sk}
	}
	delete(s.rows, key)
	return nil
}

func (s *Store) Query(ctx context.Context, table, pk string, opts store.QueryOptions, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.collect(func(k rowKey) bool { return k.table == table && k.pk == pk }, opts)
	return decodeInto(items, out)
}

func (s *Store) Scan(ctx context.Context, table string, opts store.QueryOptions, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.collect(func(k rowKey) bool { return k.table == table }, opts)
	return decodeInto(items, out)
}

type sortableRow struct {
	sk  string
	raw json.RawMessage
}

func (s *Store) collect(match func(rowKey) bool, opts store.QueryOptions) []json.RawMessage {
	var rows []sortableRow
	for k, raw := range s.rows {
		if !match(k) {
			continue
		}
		if opts.SKPrefix != "" && !hasPrefix(k.sk, opts.SKPrefix) {
			continue
		}
		if opts.Filter != nil {
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err == nil && !opts.Filter(m) {
				continue
			}
		}
		rows = append(rows, sortableRow{sk: k.sk, raw: raw})
	}
	sort.Slice(rows, func(i, j int) bool {
		if opts.Descending {
			return rows[i].sk > rows[j].sk
		}
		return rows[i].sk < rows[j].sk
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	out := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		out[i] = r.raw
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func decodeInto(items []json.RawMessage, out any) error {
	buf := append([]byte{'['}, []byte{}...)
	for i, it := range items {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, it...)
	}
	buf = append(buf, ']')
	return json.Unmarshal(buf, out)
}

func (s *Store) TransactWrite(ctx context.Context, ops []store.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		key := rowKey{op.Table, op.PK, op.SK}
		existing, ok := s.rows[key]
		if !s.conditionHolds(op.Condition, ok, existing) {
			return &store.ErrConditionFailed{Table: op.Table, PK: op.PK, SK: op.SK}
		}
	}

	for _, op := range ops {
		key := rowKey{op.Table, op.PK, op.SK}
		if op.Delete {
			delete(s.rows, key)
			continue
		}
		b, err := json.Marshal(op.Item)
		if err != nil {
			return err
		}
		s.rows[key] = b
	}
	return nil
}
