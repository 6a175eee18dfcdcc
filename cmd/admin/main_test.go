package main

import (
	"path/filepath"
	"testing"
	"time"

	persistlog "voxelnet.ai/internal/persistence/log"
	"voxelnet.ai/internal/sim/world"
)

func TestReadTransitions_Filters(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewSessionLogger(dir)
	at := time.Now().UTC()
	entries := []world.TransitionLogEntry{
		{At: at.Add(-2 * time.Hour), PeerID: 1, Name: "alice", From: "Created", To: "HelloSent", Event: "Hello"},
		{At: at, PeerID: 1, Name: "alice", From: "HelloSent", To: "AwaitingInit2", Event: "AuthAccept"},
		{At: at, PeerID: 2, Name: "bob", From: "Created", To: "HelloSent", Event: "Hello"},
	}
	for _, e := range entries {
		if err := l.WriteTransition(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := filepath.Join(dir, "events")
	all, err := readTransitions(events, transitionFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	alice, _ := readTransitions(events, transitionFilter{Name: "alice"})
	if len(alice) != 2 {
		t.Fatalf("alice: %+v", alice)
	}
	recent, _ := readTransitions(events, transitionFilter{Peer: 1, After: at.Add(-time.Minute)})
	if len(recent) != 1 || recent[0].To != "AwaitingInit2" {
		t.Fatalf("recent: %+v", recent)
	}
}

func TestIndexPath(t *testing.T) {
	if got := indexPath("/d", ""); got != filepath.Join("/d", "index", "server.sqlite") {
		t.Fatalf("default path = %q", got)
	}
	if got := indexPath("/d", " /x.db "); got != "/x.db" {
		t.Fatalf("explicit path = %q", got)
	}
}
