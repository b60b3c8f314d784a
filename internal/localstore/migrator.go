package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/larder/internal/errs"
)

const (
	itemsTable   = "items"
	rebuildTable = "items_rebuild"
	expiryIndex  = "idx_items_owner_expiry"
)

type column struct {
	name string
	decl string
}

// requiredColumns is the full target definition of the items table, in order.
var requiredColumns = []column{
	{"id", "TEXT PRIMARY KEY"},
	{"owner_id", "TEXT"},
	{"name", "TEXT NOT NULL"},
	{"barcode", "TEXT"},
	{"unit", "TEXT"},
	{"location", "TEXT"},
	{"notes", "TEXT"},
	{"quantity", "REAL"},
	{"purchase_date", "TEXT"},
	{"expiry_date", "TEXT"},
	{"created_at", "TEXT"},
	{"updated_at", "TEXT"},
}

// MigrationStep moves the schema from FromVersion to FromVersion+1.
// Apply must be idempotent and report whether it changed anything.
type MigrationStep struct {
	FromVersion int
	Name        string
	Apply       func(ctx context.Context, q querier) (bool, error)
}

// steps is applied in order. Append new steps at the end.
var steps = []MigrationStep{
	{FromVersion: 0, Name: "create items", Apply: createBaseTable},
	{FromVersion: 1, Name: "add barcode", Apply: addColumn("barcode", "TEXT")},
	{FromVersion: 2, Name: "add unit", Apply: addColumn("unit", "TEXT")},
	{FromVersion: 3, Name: "add location", Apply: addColumn("location", "TEXT")},
	{FromVersion: 4, Name: "add notes", Apply: addColumn("notes", "TEXT")},
	{FromVersion: 5, Name: "add purchase_date", Apply: addColumn("purchase_date", "TEXT")},
	{FromVersion: 6, Name: "add owner_id", Apply: addColumn("owner_id", "TEXT")},
	{FromVersion: 7, Name: "index owner/expiry", Apply: createExpiryIndex},
}

// TargetVersion is the schema version this binary expects.
var TargetVersion = len(steps)

// BaseTableDDL is the version-1 definition of the items table.
const BaseTableDDL = `CREATE TABLE IF NOT EXISTS items (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    quantity    REAL,
    expiry_date TEXT,
    created_at  TEXT,
    updated_at  TEXT
)`

// Migrator owns the physical schema of the cache.
type Migrator struct {
	db  *sql.DB
	log *zap.Logger
}

// NewMigrator constructs a migrator. A nil logger disables logging.
func NewMigrator(db *sql.DB, log *zap.Logger) *Migrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{db: db, log: log}
}

// EnsureSchema brings the store up to TargetVersion and returns the number of
// schema mutations performed. It is a no-op once the version matches.
func (m *Migrator) EnsureSchema(ctx context.Context) (int, error) {
	return m.run(ctx, false)
}

// ForceSchema re-runs every step and the column reconciliation regardless of
// the persisted version. Used to recover from a schema mismatch.
func (m *Migrator) ForceSchema(ctx context.Context) (int, error) {
	return m.run(ctx, true)
}

// Version returns the persisted schema version.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	return userVersion(ctx, m.db)
}

func (m *Migrator) run(ctx context.Context, force bool) (applied int, err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: acquire connection: %v", errs.ErrMigration, err)
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return 0, fmt.Errorf("%w: begin: %v", errs.ErrMigration, err)
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
			applied = 0
			return
		}
		if _, e := conn.ExecContext(ctx, "COMMIT"); e != nil {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
			applied, err = 0, fmt.Errorf("%w: commit: %v", errs.ErrMigration, e)
		}
	}()

	version, err := userVersion(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("%w: read version: %v", errs.ErrMigration, err)
	}
	if version > TargetVersion {
		return 0, fmt.Errorf("%w: store version %d is newer than supported %d", errs.ErrMigration, version, TargetVersion)
	}
	if !force && version == TargetVersion {
		return 0, nil
	}

	for _, st := range steps {
		if !force && st.FromVersion < version {
			continue
		}
		changed, err := st.Apply(ctx, conn)
		if err != nil {
			return 0, fmt.Errorf("%w: step %d (%s): %v", errs.ErrMigration, st.FromVersion, st.Name, err)
		}
		if changed {
			applied++
			m.log.Info("schema step applied", zap.Int("from", st.FromVersion), zap.String("step", st.Name))
		}
		if st.FromVersion+1 > version {
			if err := setUserVersion(ctx, conn, st.FromVersion+1); err != nil {
				return 0, fmt.Errorf("%w: write version: %v", errs.ErrMigration, err)
			}
			version = st.FromVersion + 1
		}
	}

	rebuilt, err := reconcileColumns(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("%w: reconcile columns: %v", errs.ErrMigration, err)
	}
	if rebuilt {
		applied++
		m.log.Warn("items table rebuilt to restore missing columns")
	}
	return applied, nil
}

func createBaseTable(ctx context.Context, q querier) (bool, error) {
	exists, err := tableExists(ctx, q, itemsTable)
	if err != nil || exists {
		return false, err
	}
	if _, err := q.ExecContext(ctx, BaseTableDDL); err != nil {
		return false, err
	}
	return true, nil
}

func addColumn(name, decl string) func(ctx context.Context, q querier) (bool, error) {
	return func(ctx context.Context, q querier) (bool, error) {
		cols, err := tableColumns(ctx, q, itemsTable)
		if err != nil {
			return false, err
		}
		if len(cols) == 0 {
			return false, fmt.Errorf("table %s missing", itemsTable)
		}
		if cols[name] {
			return false, nil
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", itemsTable, name, decl)
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return false, err
		}
		return true, nil
	}
}

func createExpiryIndex(ctx context.Context, q querier) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, expiryIndex,
	).Scan(&n)
	if err != nil || n > 0 {
		return false, err
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s(owner_id, expiry_date)", expiryIndex, itemsTable)
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return false, err
	}
	return true, nil
}

// reconcileColumns rebuilds the items table when any required column is missing.
func reconcileColumns(ctx context.Context, q querier) (bool, error) {
	have, err := tableColumns(ctx, q, itemsTable)
	if err != nil {
		return false, err
	}
	var missing []string
	for _, c := range requiredColumns {
		if !have[c.name] {
			missing = append(missing, c.name)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}
	if !have["id"] {
		return false, fmt.Errorf("cannot rebuild %s without id column", itemsTable)
	}
	return true, rebuild(ctx, q, have)
}

func rebuild(ctx context.Context, q querier, have map[string]bool) error {
	names := make([]string, 0, len(requiredColumns))
	exprs := make([]string, 0, len(requiredColumns))
	for _, c := range requiredColumns {
		names = append(names, c.name)
		switch {
		case have[c.name]:
			exprs = append(exprs, c.name)
		case c.name == "name":
			exprs = append(exprs, "''")
		default:
			exprs = append(exprs, "NULL")
		}
	}

	stmts := []string{
		"DROP TABLE IF EXISTS " + rebuildTable,
		createTableSQL(rebuildTable),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			rebuildTable, strings.Join(names, ", "), strings.Join(exprs, ", "), itemsTable),
		"DROP TABLE " + itemsTable,
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", rebuildTable, itemsTable),
	}
	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("rebuild %q: %w", s, err)
		}
	}
	_, err := createExpiryIndex(ctx, q)
	return err
}

func createTableSQL(name string) string {
	defs := make([]string, 0, len(requiredColumns))
	for _, c := range requiredColumns {
		defs = append(defs, c.name+" "+c.decl)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))
}

func tableExists(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&n)
	return n > 0, err
}

// tableColumns returns the set of column names; empty when the table is absent.
func tableColumns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func userVersion(ctx context.Context, q querier) (int, error) {
	var v int
	err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func setUserVersion(ctx context.Context, q querier, v int) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v))
	return err
}
