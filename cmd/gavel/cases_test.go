package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/db"
	"github.com/zulandar/gavel/internal/models"
)

// seedCaseLog writes a loadable config whose case log points at a seeded
// sqlite file, and returns the config path.
func seedCaseLog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gavel.db")

	gormDB, err := db.Connect(config.CaseLogConfig{Driver: "sqlite", Path: dbPath})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	closed := time.Now()
	records := []models.CaseRecord{
		{ThreadID: "thread-1", RaiserID: "alice", PartyA: "Summit Peak [SP]", PartyB: "Harbor City [HC]",
			Issue: "no-show", Outcome: "dismiss", Status: "closed", OpenedAt: time.Now().Add(-2 * time.Hour),
			ClosedAt: &closed,
			Events: []models.CaseEvent{
				{Kind: "opened", Actor: "alice"},
				{Kind: "closed", Actor: "arb1"},
			}},
		{ThreadID: "thread-2", RaiserID: "bob", Status: "open", OpenedAt: time.Now()},
	}
	for i := range records {
		if err := gormDB.Create(&records[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	cfgPath := filepath.Join(dir, "gavel.yaml")
	cfgYAML := fmt.Sprintf(`platform: discord
discord:
  token: tok
guild_id: G1
origins:
  - channel_id: C1
    activation_role_id: R1
roster:
  arbiter_role_ids: [R_ARB]
case_log:
  driver: sqlite
  path: %s
`, dbPath)
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func runCasesCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"cases"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestCases_ListsNewestFirst(t *testing.T) {
	cfgPath := seedCaseLog(t)

	out, err := runCasesCmd(t, "-c", cfgPath)
	if err != nil {
		t.Fatalf("cases failed: %v", err)
	}
	if !strings.Contains(out, "no-show") || !strings.Contains(out, "dismiss") {
		t.Errorf("output missing closed case details: %s", out)
	}
	// The open case has no parties yet; fields render as dashes.
	if !strings.Contains(out, "- vs -") {
		t.Errorf("output missing placeholder parties: %s", out)
	}
	// Recent lists newest first: the open case (id 2) before the closed one.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "2") || !strings.HasPrefix(lines[2], "1") {
		t.Errorf("expected id 2 before id 1:\n%s", out)
	}
}

func TestCases_ByThreadShowsEvents(t *testing.T) {
	cfgPath := seedCaseLog(t)

	out, err := runCasesCmd(t, "-c", cfgPath, "--thread", "thread-1")
	if err != nil {
		t.Fatalf("cases --thread failed: %v", err)
	}
	for _, want := range []string{"thread-1", "Summit Peak [SP] vs Harbor City [HC]", "opened", "closed", "arb1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestCases_UnknownThread(t *testing.T) {
	cfgPath := seedCaseLog(t)

	_, err := runCasesCmd(t, "-c", cfgPath, "--thread", "thread-999")
	if err == nil {
		t.Fatal("expected error for unknown thread")
	}
}

func TestCases_Limit(t *testing.T) {
	cfgPath := seedCaseLog(t)

	out, err := runCasesCmd(t, "-c", cfgPath, "-n", "1")
	if err != nil {
		t.Fatalf("cases failed: %v", err)
	}
	// Header plus exactly one record row.
	lines := strings.Count(strings.TrimSpace(out), "\n")
	if lines != 1 {
		t.Errorf("expected 1 record row, got output:\n%s", out)
	}
}
