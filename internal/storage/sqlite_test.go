package storage

import (
	"fmt"
	"testing"

	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/recording"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(id string, startedAt int64) *recording.Session {
	return &recording.Session{
		ID:        id,
		Name:      "session " + id,
		StartTime: startedAt,
		EndTime:   startedAt + 1000,
		Events: []protocol.RecordedEvent{
			{Type: "pointerdown", Timestamp: startedAt + 10, Target: protocol.RecordedTarget{Path: "#submit", Kind: "button"}},
			{Type: "input", Timestamp: startedAt + 500, Target: protocol.RecordedTarget{Path: "#email", Kind: "input"}, Value: "a@b.c"},
		},
		ConsoleEntries: []protocol.ConsoleEntry{
			{Level: "error", Args: []any{"boom"}, Timestamp: startedAt + 20},
		},
	}
}

func TestSaveAndGetRecording(t *testing.T) {
	s := openTestStore(t)

	want := testSession("r1", 1000)
	if err := s.SaveRecording(want); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}

	got, err := s.GetRecording("r1")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if got.ID != want.ID || got.Name != want.Name || got.EndTime != want.EndTime {
		t.Fatalf("loaded session differs: %+v", got)
	}
	if len(got.Events) != 2 || got.Events[1].Value != "a@b.c" {
		t.Fatalf("events not preserved: %+v", got.Events)
	}
	if len(got.ConsoleEntries) != 1 || got.ConsoleEntries[0].Level != "error" {
		t.Fatalf("console snapshot not preserved: %+v", got.ConsoleEntries)
	}
}

func TestSaveRejectsActiveSession(t *testing.T) {
	s := openTestStore(t)

	active := testSession("r1", 1000)
	active.EndTime = 0
	if err := s.SaveRecording(active); !errors.IsCode(err, errors.CodeStorageSaveFailed) {
		t.Fatalf("expected storage.save_failed, got %v", err)
	}
}

func TestSaveOverwritesSameID(t *testing.T) {
	s := openTestStore(t)

	first := testSession("r1", 1000)
	if err := s.SaveRecording(first); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}
	second := testSession("r1", 1000)
	second.Name = "renamed"
	if err := s.SaveRecording(second); err != nil {
		t.Fatalf("second SaveRecording failed: %v", err)
	}

	if n, _ := s.count(); n != 1 {
		t.Fatalf("expected 1 row after overwrite, got %d", n)
	}
	got, err := s.GetRecording("r1")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("overwrite did not take: %q", got.Name)
	}
}

func TestGetUnknownRecording(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetRecording("nope"); !errors.IsCode(err, errors.CodeRecordingNotFound) {
		t.Fatalf("expected recording.not_found, got %v", err)
	}
}

func TestListRecordingsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, start := range []int64{3000, 1000, 2000} {
		if err := s.SaveRecording(testSession(fmt.Sprintf("r%d", i), start)); err != nil {
			t.Fatalf("SaveRecording failed: %v", err)
		}
	}

	infos, err := s.ListRecordings()
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 recordings, got %d", len(infos))
	}
	if infos[0].StartTime != 3000 || infos[1].StartTime != 2000 || infos[2].StartTime != 1000 {
		t.Fatalf("not ordered newest first: %+v", infos)
	}
	if infos[0].EventCount != 2 {
		t.Fatalf("event count not recorded: %+v", infos[0])
	}
}

func TestDeleteRecording(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveRecording(testSession("r1", 1000)); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}
	if err := s.DeleteRecording("r1"); err != nil {
		t.Fatalf("DeleteRecording failed: %v", err)
	}
	if _, err := s.GetRecording("r1"); !errors.IsCode(err, errors.CodeRecordingNotFound) {
		t.Fatalf("expected recording.not_found after delete, got %v", err)
	}
	if err := s.DeleteRecording("r1"); !errors.IsCode(err, errors.CodeRecordingNotFound) {
		t.Fatalf("expected recording.not_found for double delete, got %v", err)
	}
}

func TestRetentionKeepsMostRecent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < maxRecordings+5; i++ {
		sess := testSession(fmt.Sprintf("r%d", i), int64(1000+i))
		if err := s.SaveRecording(sess); err != nil {
			t.Fatalf("SaveRecording %d failed: %v", i, err)
		}
	}

	if n, _ := s.count(); n != maxRecordings {
		t.Fatalf("expected %d rows after retention, got %d", maxRecordings, n)
	}
	// The oldest sessions are gone, the newest survives.
	if _, err := s.GetRecording("r0"); !errors.IsCode(err, errors.CodeRecordingNotFound) {
		t.Fatalf("oldest recording should have been evicted, got %v", err)
	}
	if _, err := s.GetRecording(fmt.Sprintf("r%d", maxRecordings+4)); err != nil {
		t.Fatalf("newest recording missing: %v", err)
	}
}
