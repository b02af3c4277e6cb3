package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteDashboards(t *testing.T) {
	dir := t.TempDir()
	plugins := []Plugin{newStubPlugin("demo")}

	if err := WriteDashboards(dir, plugins); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := filepath.Join(dir, "demo", "demo.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "{}" {
		t.Fatalf("unexpected dashboard content: %s", data)
	}

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := WriteDashboards(dir, plugins); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().Equal(old) {
		t.Fatalf("unchanged dashboard was rewritten")
	}

	broken := newStubPlugin("broken")
	broken.dashboards = []Dashboard{{Name: "bad", JSON: []byte("{")}}
	if err := WriteDashboards(dir, []Plugin{broken}); err == nil {
		t.Fatalf("expected invalid json error")
	}
	if err := WriteDashboards("", []Plugin{broken}); err != nil {
		t.Fatalf("empty dir should be a no-op: %v", err)
	}
}

func TestDashboardsMap(t *testing.T) {
	m := DashboardsMap([]Plugin{newStubPlugin("demo"), newStubPlugin("other")})
	if len(m) != 2 {
		t.Fatalf("expected 2 dashboards, got %d", len(m))
	}
	if _, ok := m["/dashboards/other/demo.json"]; !ok {
		t.Fatalf("missing other dashboard: %v", m)
	}
}
