package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := run(context.Background(), args, strings.NewReader(stdin), stdout, stderr)
	return stdout.String(), stderr.String(), code
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// statValue returns the value printed next to name in the stats table.
func statValue(t *testing.T, out, name string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, name+"  ") {
			return strings.TrimSpace(strings.TrimPrefix(line, name))
		}
	}
	t.Fatalf("stat %q not found in output:\n%s", name, out)
	return ""
}

func TestClassifyGolden(t *testing.T) {
	stdout, stderr, code := runCLI(t, "",
		"classify",
		"SELECT u.name, o.total FROM users u JOIN orders AS o ON o.user_id = u.id",
		"UPDATE users SET name = $1 WHERE id = $2",
		"BEGIN; UPDATE a SET x = 1; COMMIT;",
		"ALTER TABLE users ADD COLUMN age int",
	)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", code, stderr)
	}

	testsupport.CompareWithGolden(t, testsupport.GoldenPath("classify.txt"), []byte(stdout))
}

func TestClassifyStdinJSON(t *testing.T) {
	stdout, stderr, code := runCLI(t, "DELETE FROM sessions\n  WHERE expires_at < now()", "classify", "--json")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", code, stderr)
	}

	var got []classification
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	want := []classification{{
		Statement:   "DELETE FROM sessions WHERE expires_at < now()",
		Kinds:       []string{"delete"},
		DependsOn:   []string{"sessions"},
		Invalidates: []string{"sessions"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("classification mismatch (-want +got):\n%s", diff)
	}
}

const statementLog = `-- warm up
SELECT * FROM users WHERE id = 1
SELECT * FROM users WHERE id = 1
SELECT * FROM orders

UPDATE users SET name = 'x' WHERE id = 1
SELECT * FROM users WHERE id = 1
SELECT * FROM orders
`

func TestStatsReplay(t *testing.T) {
	path := writeFile(t, "statements.sql", statementLog)

	stdout, stderr, code := runCLI(t, "", "stats", "--json", path)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", code, stderr)
	}

	var report replayReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if report.Reads != 5 || report.Writes != 1 {
		t.Errorf("Expected 5 reads and 1 write, got %d and %d", report.Reads, report.Writes)
	}
	s := report.Stats
	if s.Hits != 2 || s.Misses != 3 {
		t.Errorf("Expected 2 hits and 3 misses, got %+v", s)
	}
	if s.Invalidations != 1 {
		t.Errorf("Expected the update to purge 1 entry, got %d", s.Invalidations)
	}
	if s.Entries != 2 {
		t.Errorf("Expected 2 cached entries, got %d", s.Entries)
	}
}

func TestStatsReplayFromStdinText(t *testing.T) {
	stdout, stderr, code := runCLI(t, statementLog, "stats", "--repeat", "2")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "replayed 10 reads and 2 writes") {
		t.Errorf("Expected replay summary, got:\n%s", stdout)
	}
	if got := statValue(t, stdout, "requests"); got != "10" {
		t.Errorf("Expected 10 requests, got %s", got)
	}
}

func TestStatsEnvironmentDisablesCache(t *testing.T) {
	t.Setenv("QUERYCACHE_ENABLED", "false")

	stdout, stderr, code := runCLI(t, statementLog, "stats")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", code, stderr)
	}
	if got := statValue(t, stdout, "hits"); got != "0" {
		t.Errorf("Expected no hits with caching disabled, got %s", got)
	}
	if got := statValue(t, stdout, "entries"); got != "0" {
		t.Errorf("Expected no entries with caching disabled, got %s", got)
	}
}

func TestStatsConfigFileCascades(t *testing.T) {
	config := writeFile(t, "querycache.yaml", `max-entries: 10
default-ttl: 1m
cascades:
  users:
    - orders
`)

	log := "SELECT * FROM orders\nDELETE FROM users WHERE id = 1\nSELECT * FROM orders\n"
	stdout, stderr, code := runCLI(t, log, "--config", config, "stats")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", code, stderr)
	}
	if got := statValue(t, stdout, "misses"); got != "2" {
		t.Errorf("Expected the cascade to invalidate orders, got %s misses", got)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	_, stderr, code := runCLI(t, "", "--max-entries", "0", "stats")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "MaxEntries") {
		t.Errorf("Expected error naming MaxEntries, got %q", stderr)
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	_, stderr, code := runCLI(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "stats")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "read config") {
		t.Errorf("Expected config read error, got %q", stderr)
	}
}

func TestDemo(t *testing.T) {
	stdout, stderr, code := runCLI(t, "", "demo", "--users", "2", "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", code, stderr)
	}

	for _, want := range []string{
		"read    hit",
		"write   1 affected, 1 purged",
		"write   1 affected, 3 purged",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, stdout)
		}
	}
	if got := statValue(t, stdout, "hits"); got != "2" {
		t.Errorf("Expected 2 hits, got %s", got)
	}
	if got := statValue(t, stdout, "misses"); got != "6" {
		t.Errorf("Expected 6 misses, got %s", got)
	}
}

func TestDemoUnsupportedDriver(t *testing.T) {
	_, stderr, code := runCLI(t, "", "demo", "--driver", "oracle")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, `unsupported driver "oracle"`) {
		t.Errorf("Expected unsupported driver error, got %q", stderr)
	}
}
