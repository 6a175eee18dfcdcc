package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by account operations after Close.
var ErrClosed = errors.New("indexdb: closed")

// SQLiteIndex owns the server database. All statements run on one writer
// goroutine; callers post requests on a buffered channel. Session rows are
// fire-and-forget, account requests wait for their reply.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once
	// Held for reading while posting so Close never races a send.
	sendMu sync.RWMutex

	closed atomic.Bool

	dropSessionTotal atomic.Uint64
}

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqSessionState
	reqSessionEnd
	reqAccountGet
	reqAccountPut
)

type req struct {
	kind reqKind

	session sessionRow
	account accountRow

	resp chan accountResp
}

type sessionRow struct {
	SessionID string
	PeerID    uint64
	Name      string
	Addr      string
	State     string
	Reason    string
	At        string
}

type accountRow struct {
	Name string
	Hash []byte
	At   string
}

type accountResp struct {
	hash  []byte
	found bool
	err   error
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			name TEXT PRIMARY KEY,
			password_hash BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			peer_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			addr TEXT NOT NULL,
			state TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			left_at TEXT,
			leave_reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name, joined_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// post queues r without blocking. It reports false when the index is closed
// or the queue is full.
func (s *SQLiteIndex) post(r req) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

// postWait queues r, blocking until there is room or ctx is done.
func (s *SQLiteIndex) postWait(ctx context.Context, r req) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// RecordSessionStart inserts the row for a new connection.
func (s *SQLiteIndex) RecordSessionStart(sessionID string, peerID uint64, addr string) {
	s.recordSession(reqSessionStart, sessionRow{SessionID: sessionID, PeerID: peerID, Addr: addr, State: "Created", At: now()})
}

// RecordSessionState stores the latest lifecycle state and player name.
func (s *SQLiteIndex) RecordSessionState(sessionID, name, state string) {
	s.recordSession(reqSessionState, sessionRow{SessionID: sessionID, Name: name, State: state, At: now()})
}

// RecordSessionEnd closes the row with the leave reason.
func (s *SQLiteIndex) RecordSessionEnd(sessionID, reason string) {
	s.recordSession(reqSessionEnd, sessionRow{SessionID: sessionID, Reason: reason, At: now()})
}

func (s *SQLiteIndex) recordSession(kind reqKind, row sessionRow) {
	if s == nil {
		return
	}
	if !s.post(req{kind: kind, session: row}) {
		// The session table is a secondary index; drop rather than stall the caller.
		s.dropSessionTotal.Add(1)
	}
}

type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropSessionTotal uint64 `json:"drop_session_total"`
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropSessionTotal: s.dropSessionTotal.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,peer_id,name,addr,state,joined_at,updated_at) VALUES(?,?,?,?,?,?,?)`)
	updateState, _ := s.db.Prepare(`UPDATE sessions SET state=?, name=CASE WHEN ?<>'' THEN ? ELSE name END, updated_at=? WHERE session_id=?`)
	updateEnd, _ := s.db.Prepare(`UPDATE sessions SET left_at=?, leave_reason=?, updated_at=? WHERE session_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{upsertSession, updateState, updateEnd} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		begin()
		if tx == nil || st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		switch r.kind {
		case reqSessionStart:
			se := r.session
			exec(upsertSession, se.SessionID, int64(se.PeerID), se.Name, se.Addr, se.State, se.At, se.At)
		case reqSessionState:
			se := r.session
			exec(updateState, se.State, se.Name, se.Name, se.At, se.SessionID)
		case reqSessionEnd:
			se := r.session
			exec(updateEnd, se.At, se.Reason, se.At, se.SessionID)

		case reqAccountGet, reqAccountPut:
			// The pool holds one connection; release it before a direct query.
			commit()
			r.resp <- s.serveAccount(ctx, r)
			continue
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func (s *SQLiteIndex) serveAccount(ctx context.Context, r req) accountResp {
	a := r.account
	switch r.kind {
	case reqAccountGet:
		var hash []byte
		err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM accounts WHERE name=?`, a.Name).Scan(&hash)
		if errors.Is(err, sql.ErrNoRows) {
			return accountResp{}
		}
		if err != nil {
			return accountResp{err: err}
		}
		return accountResp{hash: hash, found: true}
	case reqAccountPut:
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts(name,password_hash,created_at,updated_at) VALUES(?,?,?,?)
			 ON CONFLICT(name) DO UPDATE SET password_hash=excluded.password_hash, updated_at=excluded.updated_at`,
			a.Name, a.Hash, a.At, a.At)
		return accountResp{err: err}
	}
	return accountResp{err: fmt.Errorf("indexdb: unknown request %d", r.kind)}
}
