package table

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Record is one raw JSON-like object from an upstream API:
// the result of decoding arbitrary JSON into a map.
type Record = map[string]any

// Flatten converts a batch of nested records into a flat Table. Nested map
// paths are joined with underscores ("track.album.id" becomes
// "track_album_id"); values that are still a list or map after flattening
// are serialized to their JSON text. Records in the same batch may have
// different shapes: the column set is the sparse union, in first-seen
// order, and rows simply lack cells for columns they never produced.
//
// Flatten([]) returns an empty Table, never an error; callers treat an
// empty table as a normal nothing-to-do signal.
func Flatten(records []Record) Table {
	var t Table
	seen := make(map[string]struct{})

	for _, rec := range records {
		row := make(Row)
		flattenInto(row, "", rec)
		for _, col := range sortedByInsertion(rec, "") {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				t.Columns = append(t.Columns, col)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// flattenInto walks one record, writing leaf values into row under
// underscore-joined keys.
func flattenInto(row Row, prefix string, value map[string]any) {
	for key, v := range value {
		name := key
		if prefix != "" {
			name = prefix + "_" + key
		}
		switch nested := v.(type) {
		case map[string]any:
			flattenInto(row, name, nested)
		default:
			row[name] = normalizeValue(v)
		}
	}
}

// sortedByInsertion returns the flattened column names of a record in a
// stable order. Go maps do not preserve JSON key order, so keys are
// sorted lexicographically at each nesting level, which keeps the column
// order deterministic across runs.
func sortedByInsertion(rec map[string]any, prefix string) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var cols []string
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "_" + k
		}
		if nested, ok := rec[k].(map[string]any); ok {
			cols = append(cols, sortedByInsertion(nested, name)...)
			continue
		}
		cols = append(cols, name)
	}
	return cols
}

// normalizeValue keeps scalars as-is and serializes residual lists and
// maps to JSON text, so every cell is representable as a TEXT column.
func normalizeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		// Unmarshallable values come from hand-built records in tests,
		// not from decoded JSON; fall back to the fmt representation.
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// CellString renders a cell value as its TEXT representation. nil stays
// nil so the database receives a NULL.
func CellString(v any) *string {
	if v == nil {
		return nil
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		// JSON numbers decode as float64; integral values render without
		// a trailing ".0" to match how the upstream API writes them.
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(data)
		}
	}
	return &s
}
