package transpile

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS transpile_cache (
	key        TEXT PRIMARY KEY,
	code       TEXT NOT NULL,
	source_map BLOB,
	imports    TEXT NOT NULL,
	async      INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLCache persists transform outputs in a SQLite database so later runs
// skip esbuild for unchanged sources. Hits are memoized in memory.
type SQLCache struct {
	DB  *sql.DB
	mem *MemoryCache
}

// OpenSQLCache opens (or creates) the cache database in dir. The file is
// stored at {dir}/transpile.sqlite3.
func OpenSQLCache(dir string) (*SQLCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return openSQLCache(filepath.Join(dir, "transpile.sqlite3"))
}

// NewSQLCacheMemory creates an in-memory SQLCache for testing.
func NewSQLCacheMemory() (*SQLCache, error) {
	return openSQLCache(":memory:")
}

func openSQLCache(dsn string) (*SQLCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening transpile cache %q: %w", dsn, err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating transpile cache schema: %w", err)
	}
	return &SQLCache{DB: db, mem: NewMemoryCache()}, nil
}

// Close closes the underlying database connection.
func (c *SQLCache) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

func (c *SQLCache) Get(key string) (*Output, bool) {
	if out, ok := c.mem.Get(key); ok {
		return out, true
	}
	var (
		code    string
		rawMap  []byte
		imports string
		async   bool
	)
	err := c.DB.QueryRow(
		"SELECT code, source_map, imports, async FROM transpile_cache WHERE key = ?", key,
	).Scan(&code, &rawMap, &imports, &async)
	if err != nil {
		return nil, false
	}
	out := &Output{Code: code, Async: async}
	if err := json.Unmarshal([]byte(imports), &out.Imports); err != nil {
		return nil, false
	}
	if len(rawMap) > 0 {
		pm, err := ParsePositionMap(rawMap)
		if err != nil {
			return nil, false
		}
		out.Map = pm
	}
	_ = c.mem.Put(key, out)
	return out, true
}

func (c *SQLCache) Put(key string, out *Output) error {
	if out == nil {
		return errors.New("transpile cache: nil output")
	}
	_ = c.mem.Put(key, out)
	imports, err := json.Marshal(out.Imports)
	if err != nil {
		return err
	}
	if out.Imports == nil {
		imports = []byte("[]")
	}
	_, err = c.DB.Exec(
		"INSERT OR REPLACE INTO transpile_cache (key, code, source_map, imports, async, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		key, out.Code, out.Map.Raw(), string(imports), out.Async, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("transpile cache: writing %s: %w", key[:16], err)
	}
	return nil
}
