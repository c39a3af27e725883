package journal

import (
	"context"
	"testing"
	"time"
)

func newTestWriter(t *testing.T) Writer {
	t.Helper()
	conn, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open journal db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC) }}
}

func TestOpenIsIdempotent(t *testing.T) {
	workspace := t.TempDir()
	conn, err := Open(workspace)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	w := Writer{DB: conn}
	if err := w.Append(context.Background(), "mission.created", "mission", "m-1", "", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	conn.Close()

	// Reopening the same workspace keeps the existing rows.
	conn2, err := Open(workspace)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	t.Cleanup(func() { conn2.Close() })
	entries, err := Writer{DB: conn2}.After(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != "mission.created" {
		t.Fatalf("entries after reopen: %+v", entries)
	}
}

func TestAppendAndAfter(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	if err := w.Append(ctx, "mission.created", "mission", "m-1", "1", Payload{"status": "pending"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "mission.updated", "mission", "m-1", "2", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := w.After(ctx, 10, 0)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != "mission.created" || entries[0].EntityID != "m-1" {
		t.Fatalf("first entry: %+v", entries[0])
	}
	if entries[1].Payload != "{}" {
		t.Fatalf("nil payload should store as {}: %q", entries[1].Payload)
	}

	after, err := w.After(ctx, 10, entries[0].ID)
	if err != nil {
		t.Fatalf("after cursor: %v", err)
	}
	if len(after) != 1 || after[0].Type != "mission.updated" {
		t.Fatalf("cursor listing: %+v", after)
	}
}

func TestTailReturnsMostRecentOldestFirst(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	for _, typ := range []string{"a", "b", "c"} {
		if err := w.Append(ctx, typ, "mission", "", "", nil); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := w.Tail(ctx, 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 2 || entries[0].Type != "b" || entries[1].Type != "c" {
		t.Fatalf("tail: %+v", entries)
	}
}
