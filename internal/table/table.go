// Package table provides the flat tabular structure shared by the ETL
// pipeline and the warehouse: an ordered column list plus sparse rows.
package table

// Row holds one record's cell values keyed by column name.
// Missing keys mean the column is null for that row.
type Row map[string]any

// Table is an ordered collection of columns with zero or more rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// Empty reports whether the table has no rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// HasColumn reports whether the table declares the given column.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Project returns a fixed-column view of the table. Columns are emitted in
// the given order, renamed through renames where a mapping exists. Cells
// missing from a row come through as nil, so a projection never fails on
// sparse input.
func (t Table) Project(columns []string, renames map[string]string) Table {
	out := Table{Columns: make([]string, len(columns))}
	for i, col := range columns {
		name := col
		if renamed, ok := renames[col]; ok {
			name = renamed
		}
		out.Columns[i] = name
	}

	out.Rows = make([]Row, len(t.Rows))
	for i, row := range t.Rows {
		projected := make(Row, len(columns))
		for j, col := range columns {
			if v, ok := row[col]; ok {
				projected[out.Columns[j]] = v
			} else {
				projected[out.Columns[j]] = nil
			}
		}
		out.Rows[i] = projected
	}
	return out
}

// DistinctValues returns the unique non-empty string values of a column,
// in first-seen order. Used to derive "which ids must I fetch" sets from
// formatted tables.
func (t Table) DistinctValues(column string) []string {
	seen := make(map[string]struct{})
	var values []string
	for _, row := range t.Rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		values = append(values, s)
	}
	return values
}
