package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWriter_RotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "journal")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Record(DirIn, "stdin", []byte(`{"command":"jump"}`)); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Record(DirOut, "", []byte(`{"event":"report","command":"jump","ok":true}`)); err != nil {
		t.Fatal(err)
	}
	if err := w.Record(DirIn, "stdin", []byte(`not json`)); err != nil {
		t.Fatal(err)
	}

	files, err := Files(dir, "journal")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "journal-2026-03-01-10.jsonl.zst" {
		t.Fatalf("files: %v", files)
	}

	// The second file is still open: it must be readable before Close.
	var live []Entry
	if err := ReadFile(files[1], func(e Entry) error { live = append(live, e); return nil }); err != nil {
		t.Fatalf("read live file: %v", err)
	}
	if len(live) != 2 || string(live[1].Data) != `"not json"` {
		t.Fatalf("live entries: %+v", live)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var first []Entry
	if err := ReadFile(files[0], func(e Entry) error { first = append(first, e); return nil }); err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].Dir != DirIn || first[0].Source != "stdin" || string(first[0].Data) != `{"command":"jump"}` {
		t.Fatalf("first entries: %+v", first)
	}
}
