package interaction

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteLog is the local development backend: a SQLite database in dataDir.
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

// OpenSQLite opens (or creates) the interaction database in dataDir and runs
// pending migrations. Pass ":memory:" for an in-memory database (tests).
func OpenSQLite(dataDir string) (*SQLiteLog, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "outreach.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func (l *SQLiteLog) Configured() bool { return true }

// migrate applies embedded SQL migrations that haven't run yet.
func (l *SQLiteLog) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(name string) (int, error) {
	base, _, _ := strings.Cut(name, "_")
	version, err := strconv.Atoi(base)
	if err != nil {
		return 0, fmt.Errorf("migration %q has no numeric prefix: %w", name, err)
	}
	return version, nil
}

func (l *SQLiteLog) Insert(ctx context.Context, row Row) error {
	id := row.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	extra := row.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("marshaling extra fields: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO interactions (id, created_at, route, model, input, output, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, createdAt.Format(time.RFC3339Nano), row.Route, row.Model,
		string(row.Input), string(row.Output), string(extraJSON))
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

func (l *SQLiteLog) List(ctx context.Context, route string, limit, offset int) ([]Row, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, created_at, route, model, input, output, extra
		FROM interactions
		WHERE route = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		route, clampLimit(limit), clampOffset(offset))
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var (
			row       Row
			createdAt string
			input     string
			output    string
			extra     string
		)
		if err := rows.Scan(&row.ID, &createdAt, &row.Route, &row.Model, &input, &output, &extra); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			row.CreatedAt = ts
		}
		row.Input = json.RawMessage(input)
		row.Output = json.RawMessage(output)
		if extra != "" {
			json.Unmarshal([]byte(extra), &row.Extra)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (l *SQLiteLog) Delete(ctx context.Context, id string) (int, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM interactions WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("deleting interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return int(n), nil
}
