package migrate

import (
	"context"
	"errors"
	"testing"

	"unityplan.org/internal/tenant"
)

func TestSplitStatements(t *testing.T) {
	sql := `create table a (id text); insert into a values ('x;y'); create index i on a(id);`
	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("got %d statements, want 3: %#v", len(stmts), stmts)
	}
	if stmts[1] != ` insert into a values ('x;y');` {
		t.Fatalf("semicolon inside string literal split: %q", stmts[1])
	}
}

func TestProvisionTerritoryRejectsInvalidCode(t *testing.T) {
	for _, code := range []string{"", "KZ!", "a", "kz; drop schema global", "toolongcodexx"} {
		err := ProvisionTerritory(context.Background(), nil, code, "Nowhere")
		if !errors.Is(err, tenant.ErrUnknownTerritory) {
			t.Errorf("code %q: got %v, want ErrUnknownTerritory", code, err)
		}
	}
}
