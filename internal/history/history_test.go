package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"brld/internal/activity"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "historytest")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryTransitions(t *testing.T) {
	s := openTempStore(t)

	tr := activity.Transition{
		From:  activity.Stopped,
		To:    activity.Prepared,
		At:    time.Now(),
		Event: "start",
	}
	if err := s.RecordTransition("display", tr); err != nil {
		t.Fatalf("unexpected error recording transition: %v", err)
	}

	rows, err := s.Transitions("display")
	if err != nil {
		t.Fatalf("unexpected error querying transitions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].FromState != "stopped" || rows[0].ToState != "prepared" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestTrailHistoryReconstructsTransitions(t *testing.T) {
	s := openTempStore(t)
	trail := s.ActivityTrail("display")

	events := []activity.Transition{
		{From: activity.Stopped, To: activity.Prepared, At: time.Now(), Event: "start"},
		{From: activity.Prepared, To: activity.Scheduled, At: time.Now(), Event: "schedule"},
	}
	for _, e := range events {
		if err := s.RecordTransition("display", e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	history, err := trail.History()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(history))
	}
	if history[0].From != activity.Stopped || history[0].To != activity.Prepared {
		t.Fatalf("unexpected first transition: %+v", history[0])
	}
	if history[1].From != activity.Prepared || history[1].To != activity.Scheduled {
		t.Fatalf("unexpected second transition: %+v", history[1])
	}
}

func TestRecordAndQuerySessionEvents(t *testing.T) {
	s := openTempStore(t)

	now := time.Now()
	const sessionID = "9b1d4e2a-0000-4000-8000-000000000007"
	if err := s.RecordSessionEvent(sessionID, "auth", "keyfile", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RecordSessionEvent(sessionID, "enter-tty", "/dev/tty1", now.Add(time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := s.SessionEvents(sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Kind != "auth" || rows[1].Kind != "enter-tty" {
		t.Fatalf("unexpected ordering: %+v", rows)
	}
}

func TestRecentOrdersNewestFirstAcrossActivities(t *testing.T) {
	s := openTempStore(t)

	base := time.Now()
	if err := s.RecordTransition("display", activity.Transition{From: activity.Stopped, To: activity.Prepared, At: base}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RecordTransition("server", activity.Transition{From: activity.Stopped, To: activity.Prepared, At: base.Add(time.Second)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recent))
	}
	if recent[0].ActivityName != "server" {
		t.Fatalf("expected newest-first ordering, got %+v", recent)
	}
}
