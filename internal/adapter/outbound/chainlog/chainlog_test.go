package chainlog

import (
	"path/filepath"
	"testing"
)

type testEvent struct {
	Seq  int    `json:"seq"`
	Name string `json:"name"`
}

func TestLogAppendAndReadAllPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	log := NewLog[testEvent](filepath.Join(dir, "chain.jsonl"), nil)

	events := []testEvent{{Seq: 1, Name: "a"}, {Seq: 2, Name: "b"}, {Seq: 3, Name: "c"}}
	for _, e := range events {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d records, got %d", len(events), len(got))
	}
	for i, e := range events {
		if got[i] != e {
			t.Fatalf("record %d: expected %+v, got %+v", i, e, got[i])
		}
	}
}

func TestLogReadAllOnMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	log := NewLog[testEvent](filepath.Join(dir, "does-not-exist.jsonl"), nil)

	got, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty log, got %d records", len(got))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	payload := testEvent{Seq: 42, Name: "sealed"}
	if err := SaveSnapshot(path, payload); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := LoadSnapshot[testEvent](path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got != payload {
		t.Fatalf("expected %+v, got %+v", payload, got)
	}
}

func TestSnapshotOverwriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	if err := SaveSnapshot(path, testEvent{Seq: 1, Name: "first"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := SaveSnapshot(path, testEvent{Seq: 2, Name: "second"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := LoadSnapshot[testEvent](path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Seq != 2 || got.Name != "second" {
		t.Fatalf("expected second snapshot to win, got %+v", got)
	}
}
