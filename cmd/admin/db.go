package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	name := fs.String("name", "", "player name filter (sessions)")
	open := fs.Bool("open", false, "only sessions that have not ended")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", indexPath(*dataDir, *dbPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "sessions":
		if err := listSessions(db, strings.TrimSpace(*name), *open, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "sessions:", err)
			os.Exit(1)
		}
	case "accounts":
		if err := listAccounts(db, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "accounts:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want sessions|accounts)")
		os.Exit(2)
	}
}

type sessionRec struct {
	SessionID   string `json:"session_id"`
	PeerID      uint64 `json:"peer_id"`
	Name        string `json:"name"`
	Addr        string `json:"addr"`
	State       string `json:"state"`
	JoinedAt    string `json:"joined_at"`
	UpdatedAt   string `json:"updated_at"`
	LeftAt      string `json:"left_at,omitempty"`
	LeaveReason string `json:"leave_reason,omitempty"`
}

func listSessions(db *sql.DB, name string, openOnly bool, limit int) error {
	q := `SELECT session_id,peer_id,name,addr,state,joined_at,updated_at,left_at,leave_reason FROM sessions`
	var where []string
	var args []any
	if name != "" {
		where = append(where, "name=?")
		args = append(args, name)
	}
	if openOnly {
		where = append(where, "left_at IS NULL")
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY joined_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r sessionRec
		var left, reason sql.NullString
		if err := rows.Scan(&r.SessionID, &r.PeerID, &r.Name, &r.Addr, &r.State, &r.JoinedAt, &r.UpdatedAt, &left, &reason); err != nil {
			return err
		}
		r.LeftAt = left.String
		r.LeaveReason = reason.String
		printJSON(r)
	}
	return rows.Err()
}

func listAccounts(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT name,created_at,updated_at FROM accounts ORDER BY name LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Name      string `json:"name"`
			CreatedAt string `json:"created_at"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}
