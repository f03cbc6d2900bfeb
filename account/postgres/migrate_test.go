package postgres

import (
	"strings"
	"testing"
)

func TestMigrationsAreEmbeddedInOrder(t *testing.T) {
	names, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	for i, n := range names {
		if !strings.HasSuffix(n, "_up.sql") {
			t.Fatalf("unexpected migration name %q", n)
		}
		if i > 0 && names[i-1] >= n {
			t.Fatalf("migrations out of order: %v", names)
		}
	}

	body, err := migrationFS.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(body), "token_version") {
		t.Fatal("expected accounts migration to define token_version")
	}
}
