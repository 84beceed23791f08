// Package gpkg writes GeoPackage files: SQLite databases with the OGC core
// tables, holding one feature table each.
package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

const driverSqlite = "sqlite"

const (
	// ApplicationID is "GPKG" in ASCII.
	ApplicationID = 0x47504B47
	// UserVersion is GeoPackage 1.3.0.
	UserVersion = 10300

	// GeometryColumn holds the feature geometry blob.
	GeometryColumn = "geometry"
	// ObjectIDColumn holds the upstream object identifier.
	ObjectIDColumn = "object_id"
	// PrimaryKeyColumn is the integer feature id.
	PrimaryKeyColumn = "fid"
)

// ColumnDef declares a column of a feature table.
type ColumnDef struct {
	Name string
	// Type is a schema scalar type name; unknown names map to TEXT
	Type string
}

// TableDef declares a feature table.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// Handler owns one GeoPackage file.
type Handler struct {
	db   *sql.DB
	path string
}

// Create removes any stale file at path and opens a fresh GeoPackage.
func Create(ctx context.Context, path string) (*Handler, error) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale file %s: %w", p, err)
		}
	}
	return Open(ctx, path)
}

// Open opens or creates the GeoPackage at path and makes sure the core
// tables exist.
func Open(ctx context.Context, path string) (*Handler, error) {
	db, err := sql.Open(driverSqlite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; keep the connection so per-connection pragmas stick
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	h := &Handler{db: db, path: path}
	if err := h.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *Handler) initialize(ctx context.Context) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA application_id = %d", ApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", UserVersion),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = DELETE",
	}
	for _, p := range pragmas {
		if _, err := h.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range coreSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create core tables: %w", err)
		}
	}
	for _, srs := range defaultSpatialRefs {
		if err := insertSpatialRef(ctx, tx, srs); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit core tables: %w", err)
	}
	return nil
}

// Path returns the file backing the handler.
func (h *Handler) Path() string {
	return h.path
}

// DB exposes the underlying database for inspection.
func (h *Handler) DB() *sql.DB {
	return h.db
}

// Begin starts a transaction. Every table change goes through one.
func (h *Handler) Begin(ctx context.Context) (*Tx, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, stmts: make(map[string]*sql.Stmt)}, nil
}

// Close closes the database.
func (h *Handler) Close() error {
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqliteType maps schema scalar types to SQLite column types.
func sqliteType(t string) string {
	switch strings.ToLower(t) {
	case "integer", "int", "nonnegativeinteger":
		return "INTEGER"
	case "double", "float", "measure":
		return "REAL"
	case "boolean", "bool":
		return "BOOLEAN"
	case "date":
		return "DATE"
	default:
		return "TEXT"
	}
}
