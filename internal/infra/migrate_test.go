package infra

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/congo-pay/chatwallet/migrations"
)

func TestPgx5URL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/wallet?sslmode=disable": "pgx5://u:p@db:5432/wallet?sslmode=disable",
		"postgresql://db/wallet":                        "pgx5://db/wallet",
		"pgx5://db/wallet":                              "pgx5://db/wallet",
	}
	for in, want := range cases {
		if got := pgx5URL(in); got != want {
			t.Errorf("pgx5URL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil || len(ups) == 0 {
		t.Fatalf("no up migrations embedded: %v", err)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(migrations.FS, down); err != nil {
			t.Fatalf("%s has no down migration", up)
		}
	}
	body, err := fs.ReadFile(migrations.FS, "0001_init.up.sql")
	if err != nil {
		t.Fatalf("read init: %v", err)
	}
	for _, table := range []string{"users", "conversation_states", "sessions", "otps", "transactions", "audit_logs"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("table %s missing from schema", table)
		}
	}
}
