package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amadeuslabs/toolproxyd/internal/manager"
)

// SQLiteSource reads desired tool configs from a local SQLite database.
// It also exposes upsert/delete so operators and tests can seed it.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the tools database at path.
func OpenSQLite(path string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// WAL mode for concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}

	s := &SQLiteSource{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteSource) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS tools (
		tool           TEXT NOT NULL,
		version        TEXT NOT NULL,
		method         TEXT NOT NULL DEFAULT 'sse',
		args           TEXT NOT NULL,
		preferred_port INTEGER NOT NULL DEFAULT 0,
		env            TEXT NOT NULL DEFAULT '{}',
		required_env   TEXT NOT NULL DEFAULT '[]',
		updated_at     TEXT NOT NULL,
		PRIMARY KEY (tool, version)
	)`)
	return err
}

// FetchToolConfigs returns every stored tool/version record.
func (s *SQLiteSource) FetchToolConfigs(ctx context.Context) ([]manager.ToolVersionConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, version, method, args, preferred_port, env, required_env
		 FROM tools ORDER BY tool, version`)
	if err != nil {
		return nil, fmt.Errorf("%w: query tools: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var configs []manager.ToolVersionConfig
	for rows.Next() {
		var cfg manager.ToolVersionConfig
		var envJSON, reqJSON string
		if err := rows.Scan(&cfg.Tool, &cfg.Version, &cfg.Method, &cfg.Args,
			&cfg.PreferredPort, &envJSON, &reqJSON); err != nil {
			return nil, fmt.Errorf("%w: scan tool row: %v", ErrUnavailable, err)
		}
		if err := json.Unmarshal([]byte(envJSON), &cfg.Env); err != nil {
			return nil, fmt.Errorf("store: bad env for %s@%s: %w", cfg.Tool, cfg.Version, err)
		}
		if err := json.Unmarshal([]byte(reqJSON), &cfg.RequiredEnv); err != nil {
			return nil, fmt.Errorf("store: bad required_env for %s@%s: %w", cfg.Tool, cfg.Version, err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tools: %v", ErrUnavailable, err)
	}
	return configs, nil
}

// Upsert inserts or replaces one tool/version record.
func (s *SQLiteSource) Upsert(ctx context.Context, cfg manager.ToolVersionConfig) error {
	envJSON, err := json.Marshal(orEmptyMap(cfg.Env))
	if err != nil {
		return fmt.Errorf("store: marshal env: %w", err)
	}
	reqJSON, err := json.Marshal(orEmptySlice(cfg.RequiredEnv))
	if err != nil {
		return fmt.Errorf("store: marshal required_env: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tools (tool, version, method, args, preferred_port, env, required_env, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tool, version) DO UPDATE SET
			method=excluded.method, args=excluded.args,
			preferred_port=excluded.preferred_port,
			env=excluded.env, required_env=excluded.required_env,
			updated_at=excluded.updated_at`,
		cfg.Tool, cfg.Version, cfg.Method, cfg.Args, cfg.PreferredPort,
		string(envJSON), string(reqJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: upsert %s@%s: %w", cfg.Tool, cfg.Version, err)
	}
	return nil
}

// Delete removes one tool/version record. Deleting a missing record is
// a no-op.
func (s *SQLiteSource) Delete(ctx context.Context, tool, version string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM tools WHERE tool = ? AND version = ?`, tool, version); err != nil {
		return fmt.Errorf("store: delete %s@%s: %w", tool, version, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
