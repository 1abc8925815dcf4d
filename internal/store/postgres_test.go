package store

import (
	"encoding/hex"
	"io/fs"
	"strings"
	"testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"plan.generated"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
	if computeDedupKey(body) != got {
		t.Fatalf("hash key not stable")
	}
}

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty -> nil expected")
	}
	if v := nullIfEmpty("x"); v != "x" {
		t.Fatalf("non-empty passthrough expected, got %v", v)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}
	body, err := migrationsFS.ReadFile(names[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"cities", "nodes", "policies", "plans", "plan_entries", "subscriptions", "webhook_deliveries", "webhook_dlq"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("migration missing table %s", table)
		}
	}
}

func TestEmbeddedMigrationsAddEntryISOYear(t *testing.T) {
	body, err := migrationsFS.ReadFile("migrations/0002_entry_iso_year.sql")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "ADD COLUMN IF NOT EXISTS iso_year") {
		t.Fatal("iso_year column not added")
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: defaultPageSize, -3: defaultPageSize, 5: 5, maxPageSize + 1: maxPageSize}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d)=%d want %d", in, got, want)
		}
	}
}
