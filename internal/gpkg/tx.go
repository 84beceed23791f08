package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Attribute is one column value of a feature row.
type Attribute struct {
	Column string
	Value  string
}

// Tx is a transaction on a GeoPackage.
type Tx struct {
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
	done  bool
}

// AddTable creates the feature table and registers it in gpkg_contents and
// gpkg_geometry_columns.
func (t *Tx) AddTable(ctx context.Context, def TableDef, srsID int32) error {
	if err := insertSpatialRef(ctx, t.tx, SpatialRefFor(srsID)); err != nil {
		return err
	}

	cols := []string{
		quoteIdent(PrimaryKeyColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		quoteIdent(ObjectIDColumn) + " TEXT",
		quoteIdent(GeometryColumn) + " MULTIPOLYGON",
	}
	seen := map[string]struct{}{
		PrimaryKeyColumn: {},
		ObjectIDColumn:   {},
		GeometryColumn:   {},
	}
	for _, c := range def.Columns {
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cols = append(cols, quoteIdent(c.Name)+" "+sqliteType(c.Type))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(def.Name), strings.Join(cols, ", "))
	if _, err := t.tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", def.Name, err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
		def.Name, def.Name, srsID); err != nil {
		return fmt.Errorf("failed to register contents for %s: %w", def.Name, err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
			VALUES (?, ?, 'MULTIPOLYGON', ?, 1, 0)`,
		def.Name, GeometryColumn, srsID); err != nil {
		return fmt.Errorf("failed to register geometry column for %s: %w", def.Name, err)
	}
	return nil
}

// Columns returns the column names of table in declaration order.
func (t *Tx) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return names, nil
}

// AddColumns adds TEXT columns to table.
func (t *Tx) AddColumns(ctx context.Context, table string, columns []string) error {
	for _, c := range columns {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoteIdent(table), quoteIdent(c))
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", c, table, err)
		}
	}
	return nil
}

// InsertFeature inserts one row. Rows with the same column set share a
// prepared statement for the lifetime of the transaction.
func (t *Tx) InsertFeature(ctx context.Context, table, objectID string, geometry []byte, attrs []Attribute) error {
	cols := make([]string, 0, len(attrs)+2)
	args := make([]any, 0, len(attrs)+2)
	cols = append(cols, quoteIdent(ObjectIDColumn), quoteIdent(GeometryColumn))
	args = append(args, objectID, geometry)
	for _, a := range attrs {
		cols = append(cols, quoteIdent(a.Column))
		args = append(args, a.Value)
	}

	key := table + "\x00" + strings.Join(cols, ",")
	stmt, ok := t.stmts[key]
	if !ok {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), placeholders)
		var err error
		stmt, err = t.tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
		}
		t.stmts[key] = stmt
	}

	if _, err := stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("failed to insert %s into %s: %w", objectID, table, err)
	}
	return nil
}

// UpdateBbox stores the 2D extent of table in gpkg_contents.
func (t *Tx) UpdateBbox(ctx context.Context, table string, minX, minY, maxX, maxY float64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE gpkg_contents
			SET min_x = ?, min_y = ?, max_x = ?, max_y = ?,
				last_change = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE table_name = ?`,
		minX, minY, maxX, maxY, table)
	if err != nil {
		return fmt.Errorf("failed to update bbox of %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update bbox of %s: %w", table, err)
	}
	if n != 1 {
		return fmt.Errorf("table %s is not registered in gpkg_contents", table)
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	t.closeStmts()
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.closeStmts()
	t.done = true
	return t.tx.Rollback()
}

func (t *Tx) closeStmts() {
	for k, s := range t.stmts {
		_ = s.Close()
		delete(t.stmts, k)
	}
}
