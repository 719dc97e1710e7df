// Package testutil provides an in-memory datastore engine for action and
// server tests. It implements datastore.Engine with the same observable
// behavior as the real service: per-instance positions, filter evaluation,
// locked-fields rejection and null-deletes-field write semantics.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    ds := testutil.NewMemory()
//	    ds.Seed("meeting/1", map[string]any{"name": "m"})
//	    client := datastore.NewClient(ds)
//	    ...
//	    writes := ds.Writes()
//	}
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
)

// Memory is an in-memory datastore.Engine. Seeded instances start at
// position 1; every write moves the head position forward and stamps the
// touched instances.
type Memory struct {
	mu        sync.Mutex
	instances map[string]map[string]any
	positions map[string]int
	deleted   map[string]bool
	reserved  map[keys.Collection]int
	head      int
	writes    []datastore.WriteRequest
}

// NewMemory returns an empty engine at head position 1.
func NewMemory() *Memory {
	return &Memory{
		instances: make(map[string]map[string]any),
		positions: make(map[string]int),
		deleted:   make(map[string]bool),
		reserved:  make(map[keys.Collection]int),
		head:      1,
	}
}

// Seed stores an instance at the current head position. The fqid is a
// "collection/id" string; malformed input panics, tests seed literals.
func (m *Memory) Seed(fqid string, fields map[string]any) {
	parsed := keys.MustFQID(fqid)
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		copied[k] = v
	}
	copied["id"] = parsed.ID
	m.instances[fqid] = copied
	m.positions[fqid] = m.head
	delete(m.deleted, fqid)
}

// Writes returns every write request submitted so far.
func (m *Memory) Writes() []datastore.WriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]datastore.WriteRequest, len(m.writes))
	copy(out, m.writes)
	return out
}

// Instance returns a copy of the stored fields, or nil when absent or
// deleted.
func (m *Memory) Instance(fqid string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted[fqid] {
		return nil
	}
	fields, ok := m.instances[fqid]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// IsDeleted reports whether the instance was removed by a delete event.
func (m *Memory) IsDeleted(fqid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleted[fqid]
}

func (m *Memory) Get(ctx context.Context, fqid keys.FQID, mappedFields ...string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(fqid, mappedFields)
}

func (m *Memory) getLocked(fqid keys.FQID, mappedFields []string) (map[string]any, error) {
	key := fqid.String()
	fields, ok := m.instances[key]
	if !ok || m.deleted[key] {
		return nil, fmt.Errorf("%w: %s", datastore.ErrNotFound, key)
	}
	out := make(map[string]any)
	if len(mappedFields) == 0 {
		for k, v := range fields {
			out[k] = v
		}
	} else {
		for _, name := range mappedFields {
			if v, ok := fields[name]; ok {
				out[name] = v
			}
		}
	}
	out["meta_position"] = m.positions[key]
	return out, nil
}

func (m *Memory) GetMany(ctx context.Context, requests ...datastore.GetManyRequest) (map[keys.Collection]map[int]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[keys.Collection]map[int]map[string]any)
	for _, req := range requests {
		inner := result[req.Collection]
		if inner == nil {
			inner = make(map[int]map[string]any)
			result[req.Collection] = inner
		}
		for _, id := range req.IDs {
			fields, err := m.getLocked(req.Collection.FQID(id), req.MappedFields)
			if err != nil {
				// The reader omits missing instances from the answer.
				continue
			}
			inner[id] = fields
		}
	}
	return result, nil
}

func (m *Memory) GetAll(ctx context.Context, collection keys.Collection, mappedFields ...string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, fqid := range m.sortedKeys(collection) {
		fields, err := m.getLocked(keys.MustFQID(fqid), mappedFields)
		if err != nil {
			continue
		}
		fields["id"] = m.instances[fqid]["id"]
		out = append(out, fields)
	}
	return out, nil
}

func (m *Memory) Filter(ctx context.Context, collection keys.Collection, filter datastore.Filter) ([]map[string]any, error) {
	if err := datastore.CheckFilter(filter); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, fqid := range m.sortedKeys(collection) {
		if m.deleted[fqid] {
			continue
		}
		if !matches(m.instances[fqid], filter) {
			continue
		}
		fields, err := m.getLocked(keys.MustFQID(fqid), nil)
		if err != nil {
			continue
		}
		out = append(out, fields)
	}
	return out, nil
}

func (m *Memory) Exists(ctx context.Context, collection keys.Collection, filter datastore.Filter) (datastore.Found, error) {
	count, err := m.Count(ctx, collection, filter)
	if err != nil {
		return datastore.Found{}, err
	}
	return datastore.Found{Exists: count.Count > 0, Position: count.Position}, nil
}

func (m *Memory) Count(ctx context.Context, collection keys.Collection, filter datastore.Filter) (datastore.Counted, error) {
	matched, err := m.Filter(ctx, collection, filter)
	if err != nil {
		return datastore.Counted{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return datastore.Counted{Count: len(matched), Position: m.head}, nil
}

func (m *Memory) Min(ctx context.Context, collection keys.Collection, filter datastore.Filter, field string) (map[string]any, error) {
	return m.aggregate(ctx, collection, filter, field, true)
}

func (m *Memory) Max(ctx context.Context, collection keys.Collection, filter datastore.Filter, field string) (map[string]any, error) {
	return m.aggregate(ctx, collection, filter, field, false)
}

func (m *Memory) aggregate(ctx context.Context, collection keys.Collection, filter datastore.Filter, field string, min bool) (map[string]any, error) {
	matched, err := m.Filter(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	var best *float64
	for _, fields := range matched {
		value, ok := asFloat(fields[field])
		if !ok {
			continue
		}
		if best == nil || (min && value < *best) || (!min && value > *best) {
			v := value
			best = &v
		}
	}
	key := "max"
	if min {
		key = "min"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := map[string]any{key: nil, "position": m.head}
	if best != nil {
		result[key] = *best
	}
	return result, nil
}

func (m *Memory) ReserveIDs(ctx context.Context, collection keys.Collection, amount int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	prefix := string(collection) + keys.KeySeparator
	for fqid := range m.instances {
		if !strings.HasPrefix(fqid, prefix) {
			continue
		}
		if id, ok := asInt(m.instances[fqid]["id"]); ok && id > max {
			max = id
		}
	}
	reserved := m.reserved[collection]
	if reserved > max {
		max = reserved
	}
	ids := make([]int, amount)
	for i := range ids {
		ids[i] = max + i + 1
	}
	m.reserved[collection] = max + amount
	return ids, nil
}

// Write applies the events atomically after checking the locked fields
// against the current positions.
func (m *Memory) Write(ctx context.Context, request datastore.WriteRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, position := range request.LockedFields {
		if current, ok := m.positions[key]; ok && current > position {
			return fmt.Errorf("%w: %s is at position %d, locked at %d",
				datastore.ErrLocked, key, current, position)
		}
	}
	// Validate every event first so a rejected request leaves the store
	// untouched.
	exists := make(map[string]bool, len(request.Events))
	for _, event := range request.Events {
		key := event.FQID.String()
		if _, ok := exists[key]; !ok {
			_, stored := m.instances[key]
			exists[key] = stored && !m.deleted[key]
		}
		switch event.Type {
		case datastore.EventCreate:
			exists[key] = true
		case datastore.EventUpdate:
			if !exists[key] {
				return fmt.Errorf("%w: %s", datastore.ErrNotFound, key)
			}
		case datastore.EventDelete:
			if !exists[key] {
				return fmt.Errorf("%w: %s", datastore.ErrNotFound, key)
			}
			exists[key] = false
		}
	}
	m.head++
	for _, event := range request.Events {
		key := event.FQID.String()
		switch event.Type {
		case datastore.EventCreate:
			fields := make(map[string]any, len(event.Fields))
			for k, v := range event.Fields {
				fields[k] = v
			}
			fields["id"] = event.FQID.ID
			m.instances[key] = fields
			delete(m.deleted, key)
		case datastore.EventUpdate:
			fields := m.instances[key]
			for k, v := range event.Fields {
				if v == nil {
					delete(fields, k)
					continue
				}
				fields[k] = v
			}
		case datastore.EventDelete:
			m.deleted[key] = true
		}
		m.positions[key] = m.head
	}
	m.writes = append(m.writes, request)
	return nil
}

func (m *Memory) sortedKeys(collection keys.Collection) []string {
	prefix := string(collection) + keys.KeySeparator
	var fqids []string
	for fqid := range m.instances {
		if strings.HasPrefix(fqid, prefix) {
			fqids = append(fqids, fqid)
		}
	}
	sort.Slice(fqids, func(i, j int) bool {
		a, _ := asInt(m.instances[fqids[i]]["id"])
		b, _ := asInt(m.instances[fqids[j]]["id"])
		return a < b
	})
	return fqids
}

func matches(fields map[string]any, filter datastore.Filter) bool {
	switch node := filter.(type) {
	case datastore.FilterOperator:
		return compare(fields[node.Field], node.Operator, node.Value)
	case datastore.And:
		for _, part := range node {
			if !matches(fields, part) {
				return false
			}
		}
		return true
	case datastore.Or:
		for _, part := range node {
			if matches(fields, part) {
				return true
			}
		}
		return false
	case datastore.Not:
		return !matches(fields, node.Filter)
	default:
		return false
	}
}

func compare(value any, operator string, against any) bool {
	if a, ok := asFloat(value); ok {
		if b, ok := asFloat(against); ok {
			switch operator {
			case "=":
				return a == b
			case "!=":
				return a != b
			case "<":
				return a < b
			case "<=":
				return a <= b
			case ">":
				return a > b
			case ">=":
				return a >= b
			}
			return false
		}
	}
	switch operator {
	case "=":
		return value == against
	case "!=":
		return value != against
	}
	if a, ok := value.(string); ok {
		if b, ok := against.(string); ok {
			switch operator {
			case "<":
				return a < b
			case "<=":
				return a <= b
			case ">":
				return a > b
			case ">=":
				return a >= b
			}
		}
	}
	return false
}

func asInt(value any) (int, bool) {
	f, ok := asFloat(value)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
