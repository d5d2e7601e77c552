package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/amadeuslabs/toolproxyd/internal/manager"
)

func openTestDB(t *testing.T) *SQLiteSource {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteUpsertAndFetch(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	fetch := manager.ToolVersionConfig{
		Tool:          "fetch_mcp",
		Version:       "1.0.0",
		Method:        "sse",
		Args:          "uvx mcp-server-fetch",
		PreferredPort: 10021,
		Env:           map[string]string{"API_KEY": "abc"},
		RequiredEnv:   []string{"API_KEY"},
	}
	slack := manager.ToolVersionConfig{
		Tool:    "slack_mcp",
		Version: "2.1.0",
		Method:  "sse",
		Args:    "npx -y @modelcontextprotocol/server-slack",
	}
	if err := s.Upsert(ctx, fetch); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, slack); err != nil {
		t.Fatal(err)
	}

	configs, err := s.FetchToolConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}

	// Ordered by tool, version.
	got := configs[0]
	if got.Tool != "fetch_mcp" || got.Version != "1.0.0" {
		t.Fatalf("unexpected first record: %+v", got)
	}
	if got.PreferredPort != 10021 {
		t.Errorf("preferred port lost: %d", got.PreferredPort)
	}
	if got.Env["API_KEY"] != "abc" {
		t.Errorf("env lost: %v", got.Env)
	}
	if len(got.RequiredEnv) != 1 || got.RequiredEnv[0] != "API_KEY" {
		t.Errorf("required_env lost: %v", got.RequiredEnv)
	}
}

func TestSQLiteUpsertReplaces(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	cfg := manager.ToolVersionConfig{Tool: "fetch_mcp", Version: "1.0.0", Args: "uvx mcp-server-fetch"}
	if err := s.Upsert(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	cfg.Args = "uvx mcp-server-fetch --verbose"
	cfg.PreferredPort = 10050
	if err := s.Upsert(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	configs, err := s.FetchToolConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 1 {
		t.Fatalf("upsert created a duplicate row: %d", len(configs))
	}
	if configs[0].Args != "uvx mcp-server-fetch --verbose" || configs[0].PreferredPort != 10050 {
		t.Errorf("upsert did not replace fields: %+v", configs[0])
	}
}

func TestSQLiteDelete(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, manager.ToolVersionConfig{Tool: "a", Version: "1", Args: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	configs, err := s.FetchToolConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 0 {
		t.Errorf("record survived delete: %+v", configs)
	}

	// Deleting a missing record is a no-op.
	if err := s.Delete(ctx, "nope", "1"); err != nil {
		t.Errorf("delete of missing record errored: %v", err)
	}
}
