package postgres

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "h"}, "postgres://x"},
		{"defaults", ClientConfig{User: "u", Password: "p", Host: "db", Database: "rb"}, "postgres://u:p@db:5432/rb?sslmode=disable"},
		{"custom port and ssl", ClientConfig{User: "u", Password: "p", Host: "db", Port: 6543, Database: "rb", SSLMode: "require"}, "postgres://u:p@db:6543/rb?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("migrations = %v", names)
	}
	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"audit_log", "executions", "execution_steps", "cycle_runs"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("migration missing table %s", table)
		}
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error("empty string should map to NULL")
	}
	if p := nullable("0xabc"); p == nil || deref(p) != "0xabc" {
		t.Error("non-empty string lost")
	}
}
