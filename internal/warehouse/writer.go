package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mckinlee/soundlog/internal/table"
)

// WriteMode selects how rows land in the destination table.
type WriteMode int

const (
	// Append adds rows to whatever is already there.
	Append WriteMode = iota
	// Replace overwrites the table's full contents in one transaction, so
	// concurrent readers never observe an intermediate empty table.
	Replace
)

// String returns the mode name for logs.
func (m WriteMode) String() string {
	if m == Replace {
		return "replace"
	}
	return "append"
}

// Write persists a table. The destination is created on first contact
// with one nullable TEXT column per table column; on later runs, columns
// the destination is missing are added before the insert. Schema changes
// are additive only: a column is never narrowed or dropped.
//
// Writing an empty table is a no-op.
func (s *Store) Write(ctx context.Context, tbl table.Table, name string, mode WriteMode) error {
	if tbl.Empty() {
		return nil
	}

	if err := s.ensureTable(ctx, name, tbl.Columns); err != nil {
		return fmt.Errorf("ensuring table %s: %w", name, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.reconcileColumns(ctx, tx, name, tbl.Columns); err != nil {
		return fmt.Errorf("reconciling columns for %s: %w", name, err)
	}

	if mode == Replace {
		// DELETE rather than TRUNCATE: it runs under MVCC, so readers keep
		// seeing the old rows until this transaction commits.
		if _, err := tx.Exec(ctx, "DELETE FROM "+s.tableIdent(name)); err != nil {
			return fmt.Errorf("clearing table %s: %w", name, err)
		}
	}

	rows := make([][]any, len(tbl.Rows))
	for i, row := range tbl.Rows {
		cells := make([]any, len(tbl.Columns))
		for j, col := range tbl.Columns {
			cells[j] = table.CellString(row[col])
		}
		rows[i] = cells
	}

	ident := pgx.Identifier{s.schema, name}
	if _, err := tx.CopyFrom(ctx, ident, tbl.Columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("inserting %d rows into %s: %w", len(rows), name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing write to %s: %w", name, err)
	}

	s.logger.Info("wrote table", "table", name, "rows", len(rows), "mode", mode.String())
	return nil
}

// ensureTable creates the destination if it does not exist.
func (s *Store) ensureTable(ctx context.Context, name string, columns []string) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + s.tableIdent(name) + " ("
	for i, col := range columns {
		if i > 0 {
			ddl += ", "
		}
		ddl += pgx.Identifier{col}.Sanitize() + " TEXT NULL"
	}
	ddl += ")"

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// reconcileColumns adds any incoming column the destination is missing,
// as a nullable TEXT column. Each ALTER runs in its own savepoint so one
// failure is logged and skipped without poisoning the transaction. The
// write is aborted only if a needed column still does not exist
// afterwards, because the insert would fail anyway.
func (s *Store) reconcileColumns(ctx context.Context, tx pgx.Tx, name string, incoming []string) error {
	existing, err := s.tableColumns(ctx, tx, name)
	if err != nil {
		return err
	}

	missing := missingColumns(existing, incoming)
	var failed []string

	for _, col := range missing {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("opening savepoint: %w", err)
		}

		ddl := "ALTER TABLE " + s.tableIdent(name) + " ADD COLUMN IF NOT EXISTS " +
			pgx.Identifier{col}.Sanitize() + " TEXT NULL"
		if _, err := sp.Exec(ctx, ddl); err != nil {
			s.logger.Warn("could not add column", "table", name, "column", col, "error", err)
			failed = append(failed, col)
			_ = sp.Rollback(ctx)
			continue
		}

		if err := sp.Commit(ctx); err != nil {
			return fmt.Errorf("committing column add for %s.%s: %w", name, col, err)
		}
		s.logger.Info("added column", "table", name, "column", col)
	}

	if len(failed) > 0 {
		return fmt.Errorf("destination cannot represent columns %v", failed)
	}
	return nil
}

// tableColumns returns the destination's current column set.
func (s *Store) tableColumns(ctx context.Context, tx pgx.Tx, name string) (map[string]bool, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
	`
	rows, err := tx.Query(ctx, query, s.schema, name)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scanning column name: %w", err)
		}
		columns[col] = true
	}
	return columns, rows.Err()
}

// missingColumns returns the incoming columns absent from existing, in
// incoming order.
func missingColumns(existing map[string]bool, incoming []string) []string {
	var missing []string
	for _, col := range incoming {
		if !existing[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// EnsureIndexes idempotently creates one index per column group on the
// given table. Multi-column groups become composite indexes.
func (s *Store) EnsureIndexes(ctx context.Context, name string, groups [][]string) error {
	for _, cols := range groups {
		if len(cols) == 0 {
			continue
		}

		idxName := indexName(name, cols)
		ddl := "CREATE INDEX IF NOT EXISTS " + pgx.Identifier{idxName}.Sanitize() +
			" ON " + s.tableIdent(name) + " ("
		for i, col := range cols {
			if i > 0 {
				ddl += ", "
			}
			ddl += pgx.Identifier{col}.Sanitize()
		}
		ddl += ")"

		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating index %s: %w", idxName, err)
		}
	}
	return nil
}

// indexName builds a deterministic index identifier.
func indexName(tableName string, cols []string) string {
	name := "idx_" + tableName
	for _, col := range cols {
		name += "_" + col
	}
	return name
}

// Purge deletes every row of a table. A missing table is not an error:
// nothing was written for that entity this run.
func (s *Store) Purge(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM "+s.tableIdent(name))
	if err != nil {
		if isUndefinedTable(err) {
			return nil
		}
		return fmt.Errorf("purging table %s: %w", name, err)
	}
	return nil
}
