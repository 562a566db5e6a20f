package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"linkcore/pkg/domain"
)

func TestNewStoreCreatesTableAndLoadsSnapshot(t *testing.T) {
	db, conn := newStubDB()
	conn.state["records:facility"] = []byte(`{"f1":{"id":"f1","name":"North"}}`)
	conn.state["order:facility"] = []byte(`["f1"]`)
	conn.state["links:project_facilities"] = []byte(`{"p1":["f1"]}`)
	conn.state["unknown"] = []byte(`ignored`)

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if len(store.List(domain.EntityFacility)) != 1 {
		t.Fatalf("expected facility loaded from snapshot")
	}
	if got := store.LinkedIDs(domain.ProjectFacilities, "p1"); !slices.Equal(got, []string{"f1"}) {
		t.Fatalf("expected links loaded, got %v", got)
	}
	var sawDDL bool
	for _, stmt := range conn.execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
			break
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.execs)
	}
}

func TestRunInTransactionPersistsState(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cohort := &domain.Cohort{Name: "alpha"}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Insert(cohort)
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	payload, ok := conn.state["records:cohort"]
	if !ok || !strings.Contains(string(payload), cohort.ID) {
		t.Fatalf("expected cohort bucket persisted, got %s", payload)
	}
	if store.DB() != db {
		t.Fatalf("expected DB handle exposed")
	}
}

func TestRunInTransactionStopsOnUserError(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	execs := len(conn.execs)
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected user error, got %v", err)
	}
	if len(conn.execs) != execs {
		t.Fatalf("user error must not persist")
	}
}

func TestNewStoreErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*stubConn)
		open  error
	}{
		{name: "open", open: errors.New("open fail")},
		{name: "ping", setup: func(c *stubConn) { c.failPing = true }},
		{name: "ddl", setup: func(c *stubConn) { c.failExec = true }},
		{name: "query", setup: func(c *stubConn) { c.failQuery = true }},
		{name: "decode", setup: func(c *stubConn) { c.state["records:cohort"] = []byte(`{broken`) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, conn := newStubDB()
			if tc.setup != nil {
				tc.setup(conn)
			}
			restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
				if tc.open != nil {
					return nil, tc.open
				}
				return db, nil
			})
			defer restore()
			if _, err := NewStore("", nil); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRunInTransactionPersistErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*stubConn)
	}{
		{name: "begin", setup: func(c *stubConn) { c.failBegin = true }},
		{name: "exec", setup: func(c *stubConn) { c.failExec = true }},
		{name: "commit", setup: func(c *stubConn) { c.failCommit = true }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, conn := newStubDB()
			restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
			defer restore()
			store, err := NewStore("", nil)
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			tc.setup(conn)
			_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
				return tx.Insert(&domain.Cohort{Name: "alpha"})
			})
			if err == nil {
				t.Fatalf("expected persist error")
			}
		})
	}
}

// --- stub driver helpers ---

type stubDriver struct {
	conn *stubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

type stubConn struct {
	execs      []string
	state      map[string][]byte
	pending    map[string][]byte
	failExec   bool
	failBegin  bool
	failPing   bool
	failQuery  bool
	failCommit bool
}

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{state: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *stubConn) Ping(context.Context) error {
	if c.failPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *stubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.failBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.pending = make(map[string][]byte)
	return &stubTx{conn: c}, nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.execs = append(c.execs, query)
	if c.failExec {
		return nil, fmt.Errorf("exec fail")
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO STATE") {
		if len(args) != 2 {
			return nil, fmt.Errorf("expected bucket and payload args, got %d", len(args))
		}
		bucket, _ := args[0].Value.(string)
		payload, _ := args[1].Value.([]byte)
		c.pending[bucket] = payload
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if c.failQuery {
		return nil, fmt.Errorf("query fail")
	}
	if !strings.Contains(strings.ToLower(query), "from state") {
		return nil, fmt.Errorf("unexpected query %s", query)
	}
	keys := make([]string, 0, len(c.state))
	for key := range c.state {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	rows := make([][]driver.Value, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []driver.Value{key, c.state[key]})
	}
	return &stubRows{cols: []string{"bucket", "payload"}, rows: rows}, nil
}

type stubTx struct {
	conn *stubConn
}

func (t *stubTx) Commit() error {
	if t.conn.failCommit {
		return fmt.Errorf("commit fail")
	}
	for key, payload := range t.conn.pending {
		t.conn.state[key] = payload
	}
	t.conn.pending = nil
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
