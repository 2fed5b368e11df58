package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

const testSchema = `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := Open(ctx, path, testSchema, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := Exec(ctx, db, "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = Open(ctx, path, testSchema, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after reopen, got %d", count)
	}
}

func TestOpenRejectsVersionMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(ctx, path, testSchema, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	if _, err := Open(ctx, path, testSchema, 2); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestRetryOnBusy(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"success", 0, nil, 1, false},
		{"busy then ok", 2, errors.New("database is locked"), 3, false},
		{"not busy", 1, errors.New("syntax error"), 1, true},
		{"always busy", 10, errors.New("SQLITE_BUSY"), busyRetryAttempts, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := RetryOnBusy(context.Background(), func() error {
				calls++
				if calls <= tc.failures {
					return tc.err
				}
				return nil
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
		})
	}
}
