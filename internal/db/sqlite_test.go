package db

import (
	"path/filepath"
	"testing"
)

func TestSchemaSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brawler.db")

	s, err := NewMatchStore(path)
	if err != nil {
		t.Fatalf("NewMatchStore: %v", err)
	}
	if v, err := s.db.version(); err != nil || v != len(matchSchema) {
		t.Fatalf("version = %d, %v; want %d", v, err, len(matchSchema))
	}
	if _, err := s.RecordMatch(finished(1, t0)); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	s.Close()

	// A later build adds a step; earlier steps must not run again.
	steps := append(append([]string(nil), matchSchema...), `ALTER TABLE matches ADD COLUMN map TEXT NOT NULL DEFAULT ''`)
	d, err := openSQLite(path, steps)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if v, _ := d.version(); v != len(steps) {
		t.Fatalf("version after upgrade = %d, want %d", v, len(steps))
	}
	var n int
	if err := d.queryRow("SELECT COUNT(*) FROM matches WHERE map = ''").Scan(&n); err != nil || n != 1 {
		t.Fatalf("rows after upgrade = %d, %v", n, err)
	}
	d.close()

	// The older build refuses the newer file.
	if _, err := NewMatchStore(path); err == nil {
		t.Fatal("expected an error opening a newer schema")
	}
}

func TestFailedStepRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brawler.db")
	steps := []string{
		`CREATE TABLE ok (x INTEGER)`,
		`CREATE TABLE broken (x INTEGER); INSERT INTO missing VALUES (1)`,
	}
	if _, err := openSQLite(path, steps); err == nil {
		t.Fatal("expected the broken step to fail")
	}

	d, err := openSQLite(path, steps[:1])
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.close()
	if v, _ := d.version(); v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
}
