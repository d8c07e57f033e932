package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mckinlee/soundlog/internal/table"
)

// ReadTable executes a full select and returns the result as a Table.
// A missing table comes back as an empty Table, matching how the pipeline
// treats "nothing fetched yet".
func (s *Store) ReadTable(ctx context.Context, name string) (table.Table, error) {
	rows, err := s.pool.Query(ctx, "SELECT * FROM "+s.tableIdent(name))
	if err != nil {
		if isUndefinedTable(err) {
			return table.Table{}, nil
		}
		return table.Table{}, fmt.Errorf("querying table %s: %w", name, err)
	}
	defer rows.Close()

	columns := fieldNames(rows)

	var t table.Table
	t.Columns = columns
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return table.Table{}, fmt.Errorf("reading row from %s: %w", name, err)
		}
		row := make(table.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return table.Table{}, fmt.Errorf("iterating table %s: %w", name, err)
	}
	return t, nil
}

// ReadPage returns one offset-paginated page of a table as JSON-ready
// row maps. orderBy is a declared sort key from the entity contract, not
// user input; pass "" for tables without a guaranteed order.
func (s *Store) ReadPage(ctx context.Context, name, orderBy string, limit, offset int) ([]map[string]any, error) {
	query := "SELECT * FROM " + s.tableIdent(name)
	if orderBy != "" {
		query += " ORDER BY " + pgx.Identifier{orderBy}.Sanitize() + " DESC"
	}
	query += " LIMIT $1 OFFSET $2"

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		if isUndefinedTable(err) {
			return []map[string]any{}, nil
		}
		return nil, fmt.Errorf("querying page of %s: %w", name, err)
	}
	defer rows.Close()

	columns := fieldNames(rows)

	// The API contract promises a row list, never null, so a past-the-end
	// page serializes as [].
	result := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row from %s: %w", name, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Count returns the full row count of a table, independent of pagination.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.tableIdent(name)).Scan(&count)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("counting rows of %s: %w", name, err)
	}
	return count, nil
}

// DistinctValues returns the distinct non-null values of one column.
// The pipeline uses this against formatted tables to decide which ids to
// fetch next, de-duplicated at the database rather than in memory.
func (s *Store) DistinctValues(ctx context.Context, name, column string) ([]string, error) {
	query := "SELECT DISTINCT " + pgx.Identifier{column}.Sanitize() +
		" FROM " + s.tableIdent(name) +
		" WHERE " + pgx.Identifier{column}.Sanitize() + " IS NOT NULL"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying distinct %s of %s: %w", column, name, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning distinct value: %w", err)
		}
		if v != "" {
			values = append(values, v)
		}
	}
	return values, rows.Err()
}

// fieldNames extracts the result's column names in select order.
func fieldNames(rows pgx.Rows) []string {
	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, d := range descs {
		columns[i] = d.Name
	}
	return columns
}
