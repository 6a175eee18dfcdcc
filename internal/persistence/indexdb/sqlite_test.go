package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	PasswordCost = bcrypt.MinCost
	goleak.VerifyTestMain(m)
}

func openTemp(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return idx, path
}

func TestSQLiteIndex_Accounts(t *testing.T) {
	idx, _ := openTemp(t)
	defer idx.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ok, err := idx.HasAccount(ctx, "alice"); err != nil || ok {
		t.Fatalf("HasAccount before register: ok=%v err=%v", ok, err)
	}
	if ok, err := idx.CheckPassword(ctx, "alice", "pw"); err != nil || ok {
		t.Fatalf("CheckPassword unknown: ok=%v err=%v", ok, err)
	}
	if err := idx.SetPassword(ctx, "alice", "pw"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if ok, err := idx.HasAccount(ctx, "alice"); err != nil || !ok {
		t.Fatalf("HasAccount after register: ok=%v err=%v", ok, err)
	}
	if ok, _ := idx.CheckPassword(ctx, "alice", "pw"); !ok {
		t.Fatalf("expected password to match")
	}
	if ok, _ := idx.CheckPassword(ctx, "alice", "nope"); ok {
		t.Fatalf("expected wrong password to fail")
	}
	if err := idx.SetPassword(ctx, "alice", "pw2"); err != nil {
		t.Fatalf("SetPassword replace: %v", err)
	}
	if ok, _ := idx.CheckPassword(ctx, "alice", "pw2"); !ok {
		t.Fatalf("expected replaced password to match")
	}
}

func TestSQLiteIndex_SessionsFlushOnClose(t *testing.T) {
	idx, path := openTemp(t)
	idx.RecordSessionStart("s1", 7, "127.0.0.1:5000")
	idx.RecordSessionState("s1", "bob", "Active")
	idx.RecordSessionEnd("s1", "client left")
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if idx.Stats().DropSessionTotal != 0 {
		t.Fatalf("unexpected drops: %+v", idx.Stats())
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var name, state, reason string
	var peer int64
	err = db.QueryRow(`SELECT peer_id,name,state,leave_reason FROM sessions WHERE session_id='s1'`).Scan(&peer, &name, &state, &reason)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if peer != 7 || name != "bob" || state != "Active" || reason != "client left" {
		t.Fatalf("row = %d %q %q %q", peer, name, state, reason)
	}
}

func TestSQLiteIndex_ClosedRejects(t *testing.T) {
	idx, _ := openTemp(t)
	_ = idx.Close()
	if err := idx.SetPassword(context.Background(), "x", "y"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	idx.RecordSessionStart("s2", 1, "addr")
	if idx.Stats().DropSessionTotal != 1 {
		t.Fatalf("expected dropped session row after close")
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryAccounts(t *testing.T) {
	m := NewMemoryAccounts()
	ctx := context.Background()
	if err := m.SetPassword(ctx, "carol", "secret"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if ok, _ := m.HasAccount(ctx, "carol"); !ok {
		t.Fatalf("expected account")
	}
	if ok, _ := m.CheckPassword(ctx, "carol", "secret"); !ok {
		t.Fatalf("expected match")
	}
	if ok, _ := m.CheckPassword(ctx, "dave", "secret"); ok {
		t.Fatalf("unknown account must not match")
	}
}
