package tenant

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestValidCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"dk", true},
		{"greenland", true},
		{"DK", false},
		{"d", false},
		{"dk;drop table users", false},
		{"territory_dk", false},
		{"dk2", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidCode(tc.code); got != tc.want {
			t.Errorf("ValidCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("dk"); got != "territory_dk" {
		t.Fatalf("unexpected schema name: %q", got)
	}
}

func TestStaticResolve(t *testing.T) {
	reg := NewStatic(
		Territory{Code: "dk", Name: "Denmark", Active: true},
		Territory{Code: "se", Name: "Sweden", Active: false},
	)

	got, err := reg.Resolve(context.Background(), " DK ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Name != "Denmark" {
		t.Fatalf("unexpected territory: %+v", got)
	}

	if _, err := reg.Resolve(context.Background(), "se"); !errors.Is(err, ErrUnknownTerritory) {
		t.Fatalf("expected ErrUnknownTerritory for disabled territory, got %v", err)
	}
	if _, err := reg.Resolve(context.Background(), "no"); !errors.Is(err, ErrUnknownTerritory) {
		t.Fatalf("expected ErrUnknownTerritory for unknown territory, got %v", err)
	}
}

func TestPGRegistryResolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select code, name, is_active from global.territories").
		WithArgs("dk").
		WillReturnRows(sqlmock.NewRows([]string{"code", "name", "is_active"}).AddRow("dk", "Denmark", true))

	reg := NewPGRegistry(db)
	got, err := reg.Resolve(context.Background(), "DK")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Code != "dk" || !got.Active {
		t.Fatalf("unexpected territory: %+v", got)
	}

	mock.ExpectQuery("select code, name, is_active from global.territories").
		WithArgs("xx").
		WillReturnError(sql.ErrNoRows)
	if _, err := reg.Resolve(context.Background(), "xx"); !errors.Is(err, ErrUnknownTerritory) {
		t.Fatalf("expected ErrUnknownTerritory, got %v", err)
	}

	if _, err := reg.Resolve(context.Background(), "x; drop"); !errors.Is(err, ErrUnknownTerritory) {
		t.Fatalf("expected malformed code rejection, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
