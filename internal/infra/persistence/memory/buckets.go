package memory

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"linkcore/pkg/domain"
)

// Bucket name prefixes used when a snapshot is spread over key/value rows.
const (
	recordsBucketPrefix = "records:"
	orderBucketPrefix   = "order:"
	linksBucketPrefix   = "links:"
)

// Buckets encodes the snapshot as one JSON payload per entity type, order
// list, and relation. Keys are returned in a stable order.
func (s Snapshot) Buckets() ([]string, map[string][]byte, error) {
	out := make(map[string][]byte)
	put := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode bucket %s: %w", key, err)
		}
		out[key] = data
		return nil
	}
	for _, entity := range domain.EntityTypes() {
		rows := s.Records[entity]
		if rows == nil {
			rows = map[string]json.RawMessage{}
		}
		if err := put(recordsBucketPrefix+string(entity), rows); err != nil {
			return nil, nil, err
		}
		order := s.Order[entity]
		if order == nil {
			order = []string{}
		}
		if err := put(orderBucketPrefix+string(entity), order); err != nil {
			return nil, nil, err
		}
	}
	for _, rel := range domain.Relations() {
		table := s.Links[rel.Name]
		if table == nil {
			table = map[string][]string{}
		}
		if err := put(linksBucketPrefix+rel.Name, table); err != nil {
			return nil, nil, err
		}
	}
	keys := make([]string, 0, len(out))
	for key := range out {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, out, nil
}

// SnapshotFromBuckets decodes rows written by Buckets. Unknown buckets are
// ignored so older databases keep loading.
func SnapshotFromBuckets(buckets map[string][]byte) (Snapshot, error) {
	snapshot := Snapshot{
		Records: make(map[domain.EntityType]map[string]json.RawMessage),
		Order:   make(map[domain.EntityType][]string),
		Links:   make(map[string]map[string][]string),
	}
	for key, payload := range buckets {
		if len(payload) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(key, recordsBucketPrefix):
			var rows map[string]json.RawMessage
			if err := json.Unmarshal(payload, &rows); err != nil {
				return Snapshot{}, fmt.Errorf("decode %s: %w", key, err)
			}
			snapshot.Records[domain.EntityType(strings.TrimPrefix(key, recordsBucketPrefix))] = rows
		case strings.HasPrefix(key, orderBucketPrefix):
			var order []string
			if err := json.Unmarshal(payload, &order); err != nil {
				return Snapshot{}, fmt.Errorf("decode %s: %w", key, err)
			}
			snapshot.Order[domain.EntityType(strings.TrimPrefix(key, orderBucketPrefix))] = order
		case strings.HasPrefix(key, linksBucketPrefix):
			var table map[string][]string
			if err := json.Unmarshal(payload, &table); err != nil {
				return Snapshot{}, fmt.Errorf("decode %s: %w", key, err)
			}
			snapshot.Links[strings.TrimPrefix(key, linksBucketPrefix)] = table
		}
	}
	return snapshot, nil
}
