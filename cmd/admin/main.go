package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelnet.ai/internal/persistence/indexdb"
	"voxelnet.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "clients":
			clientsCmd(os.Args[2:])
			return
		case "health":
			healthCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "passwd":
			passwdCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <clients|health|db|events|passwd> [flags]")
	os.Exit(2)
}

// eventsCmd prints lifecycle transitions recorded by the server, optionally
// filtered by player name or peer id.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	name := fs.String("name", "", "player name filter")
	peer := fs.Uint64("peer", 0, "peer id filter")
	since := fs.Duration("since", 0, "only entries newer than this (0 = all)")
	_ = fs.Parse(args)

	var after time.Time
	if *since > 0 {
		after = time.Now().Add(-*since)
	}
	recs, err := readTransitions(filepath.Join(*dataDir, "events"), transitionFilter{
		Name:  strings.TrimSpace(*name),
		Peer:  *peer,
		After: after,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	for _, r := range recs {
		printJSON(r)
	}
}

type transitionFilter struct {
	Name  string
	Peer  uint64
	After time.Time
}

func (f transitionFilter) match(e world.TransitionLogEntry) bool {
	if f.Name != "" && e.Name != f.Name {
		return false
	}
	if f.Peer != 0 && e.PeerID != f.Peer {
		return false
	}
	if !f.After.IsZero() && e.At.Before(f.After) {
		return false
	}
	return true
}

// readTransitions reads every hourly segment in dir in file name order, which
// is chronological.
func readTransitions(dir string, f transitionFilter) ([]world.TransitionLogEntry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "transitions-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []world.TransitionLogEntry
	for _, name := range names {
		recs, err := readSegment(filepath.Join(dir, name), f)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readSegment(path string, f transitionFilter) ([]world.TransitionLogEntry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	dec, err := zstd.NewReader(fh)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []world.TransitionLogEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e world.TransitionLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	// A segment still being written ends mid-frame; keep what decoded.
	if err := sc.Err(); err != nil && len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// passwdCmd sets a password directly in the index. The server must not be
// running against the same database.
func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	name := fs.String("name", "", "player name")
	password := fs.String("password", "", "new password")
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "missing -name or -password")
		os.Exit(2)
	}
	idx, err := indexdb.OpenSQLite(indexPath(*dataDir, *dbPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := idx.SetPassword(ctx, strings.TrimSpace(*name), *password); err != nil {
		fmt.Fprintln(os.Stderr, "set password:", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func indexPath(dataDir, dbPath string) string {
	if p := strings.TrimSpace(dbPath); p != "" {
		return p
	}
	return filepath.Join(dataDir, "index", "server.sqlite")
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
