package migrations

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun(t *testing.T) {
	db := openDB(t)

	for i := 0; i < 2; i++ {
		if err := Run(db); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	version, err := Version(db)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("recorded %d migrations, want 3", count)
	}

	for _, table := range []string{"todos", "approvals", "cron_jobs", "cron_history"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestPending(t *testing.T) {
	db := openDB(t)
	if err := Apply(db, nil); err != nil {
		t.Fatalf("apply nothing: %v", err)
	}

	if v, err := Version(db); err != nil || v != 0 {
		t.Errorf("fresh version = %d, %v; want 0", v, err)
	}
	pending, err := Pending(db)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 || pending[0] != 1 {
		t.Errorf("pending = %v, want [1 2 3]", pending)
	}

	if err := Run(db); err != nil {
		t.Fatalf("run: %v", err)
	}
	if pending, _ = Pending(db); len(pending) != 0 {
		t.Errorf("pending after run = %v", pending)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		want    []string
		wantErr string
	}{
		{
			name: "sorted by version",
			files: fstest.MapFS{
				"s/010_b.sql":  {Data: []byte("SELECT 1")},
				"s/002_a.sql":  {Data: []byte("SELECT 1")},
				"s/README.txt": {Data: []byte("ignored")},
			},
			want: []string{"002_a.sql", "010_b.sql"},
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"s/001_a.sql": {Data: []byte("SELECT 1")},
				"s/1_b.sql":   {Data: []byte("SELECT 1")},
			},
			wantErr: "used by",
		},
		{
			name:    "bad name",
			files:   fstest.MapFS{"s/init.sql": {Data: []byte("SELECT 1")}},
			wantErr: "NNN_description",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := Load(tt.files, "s")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			var names []string
			for _, m := range list {
				names = append(names, m.Name)
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestApply_FailedScriptRollsBack(t *testing.T) {
	db := openDB(t)
	list := []Migration{
		{Version: 1, Name: "001_ok.sql", SQL: "CREATE TABLE a (id INTEGER)"},
		{Version: 2, Name: "002_bad.sql", SQL: "CREATE TABLE b (id INTEGER); NOT SQL"},
	}

	err := Apply(db, list)
	if err == nil || !strings.Contains(err.Error(), "002_bad.sql") {
		t.Fatalf("err = %v, want failure naming 002_bad.sql", err)
	}
	if v, _ := Version(db); v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='b'").Scan(&n); err != nil || n != 0 {
		t.Errorf("table b should not exist: n=%d err=%v", n, err)
	}
}
