package seqio

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanFile_ParsesMultilineRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "g.faa")
	writeFile(t, path, ">p1 some description\nMKL\nAVT\n>p2\nGG\n")

	var got []Record
	err := ScanFile(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "p1" || string(got[0].Seq) != "MKLAVT" {
		t.Fatalf("unexpected first record: %q %q", got[0].ID, got[0].Seq)
	}
	if got[1].ID != "p2" || string(got[1].Seq) != "GG" {
		t.Fatalf("unexpected second record: %q %q", got[1].ID, got[1].Seq)
	}
}

func TestScanFile_RejectsLeadingJunk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.faa")
	writeFile(t, path, "MKL\n>p1\nAVT\n")
	err := ScanFile(path, func(Record) error { return nil })
	if err == nil {
		t.Fatal("expected error for sequence data before header")
	}
}

func TestWriteFileAtomic_Roundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.faa")
	in := []Record{{ID: "a|1", Seq: []byte("MK")}, {ID: "b|2", Seq: []byte("LV")}}
	if err := WriteFileAtomic(path, in); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	out, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(out) != 2 || out[0].ID != "a|1" || string(out[1].Seq) != "LV" {
		t.Fatalf("unexpected roundtrip result: %+v", out)
	}
	if n, err := CountRecords(path); err != nil || n != 2 {
		t.Fatalf("CountRecords = %d, %v", n, err)
	}
}

func TestCountRecords_MissingFileIsZero(t *testing.T) {
	t.Parallel()

	n, err := CountRecords(filepath.Join(t.TempDir(), "nope.faa"))
	if err != nil || n != 0 {
		t.Fatalf("CountRecords missing = %d, %v", n, err)
	}
}

func TestReformatDir_HeaderConvention(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	// Three header shapes: bare, prefixed by another genome, already
	// prefixed by its own genome.
	writeFile(t, filepath.Join(in, "gen1.faa"),
		">prot1 desc\nMK\n>other|prot2\nLV\n>gen1|prot3\nAA\n")

	n, err := ReformatDir(in, out)
	if err != nil {
		t.Fatalf("ReformatDir: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 file reformatted, got %d", n)
	}
	records, err := ReadFile(filepath.Join(out, "gen1.faa"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// The third header already starts with its own genome ID and is kept.
	want := []string{"gen1|prot1", "gen1|other|prot2", "gen1|prot3"}
	for i, id := range want {
		if records[i].ID != id {
			t.Fatalf("record %d: got %q want %q", i, records[i].ID, id)
		}
	}
}

func TestMergeDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "pool")
	writeFile(t, filepath.Join(in, "a.faa"), ">a|1\nMK\n")
	writeFile(t, filepath.Join(in, "b.faa"), ">b|1\nLV\n")

	out := filepath.Join(dir, "merged.faa")
	n, err := MergeDir(in, out)
	if err != nil {
		t.Fatalf("MergeDir: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 files merged, got %d", n)
	}
	if c, _ := CountRecords(out); c != 2 {
		t.Fatalf("expected 2 merged records, got %d", c)
	}
}

func TestGenomeID(t *testing.T) {
	t.Parallel()

	if got := GenomeID("gen1|prot9"); got != "gen1" {
		t.Fatalf("GenomeID = %q", got)
	}
	if got := GenomeID("bare"); got != "bare" {
		t.Fatalf("GenomeID bare = %q", got)
	}
}
