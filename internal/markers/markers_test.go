package markers

import (
	"os"
	"path/filepath"
	"strings"
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

const modelFile = `HMMER3/f [3.3 | Nov 2019]
NAME  markerA
LENG  120
//
HMMER3/f [3.3 | Nov 2019]
NAME  markerB
LENG  88
//
`

func TestModelNames(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "models.hmm")
	writeFile(t, path, modelFile)
	names, err := ModelNames(path)
	if err != nil {
		t.Fatalf("ModelNames: %v", err)
	}
	if len(names) != 2 || names[0] != "markerA" || names[1] != "markerB" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestModelNames_EmptyFileFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.hmm")
	writeFile(t, path, "# nothing here\n")
	if _, err := ModelNames(path); err == nil {
		t.Fatal("expected error for file without NAME entries")
	}
}

// hitTable has g1 hitting markerA twice (one duplicate row), g2 hitting
// both markers, g3 hitting nothing relevant.
const hitTable = `# target name accession tlen query name ...
g1|p1 - 100 markerA - 1e-10 50.0
g1|p1 - 100 markerA - 1e-09 48.0
g1|p2 - 100 markerA - 1e-08 40.0
g2|p1 - 100 markerA - 1e-10 50.0
g2|p2 - 100 markerB - 1e-10 50.0
`

func TestHitsForMarker_DedupAndRemoval(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "search.out")
	writeFile(t, path, hitTable)

	ids, err := HitsForMarker(path, "markerA", map[string]bool{"g2": true})
	if err != nil {
		t.Fatalf("HitsForMarker: %v", err)
	}
	if len(ids) != 2 || ids[0] != "g1|p1" || ids[1] != "g1|p2" {
		t.Fatalf("unexpected hits: %v", ids)
	}
}

func TestBuildCountMatrix(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "search.out")
	writeFile(t, path, hitTable)

	m, err := BuildCountMatrix(path, []string{"markerA", "markerB"}, []string{"g1", "g2", "g3"})
	if err != nil {
		t.Fatalf("BuildCountMatrix: %v", err)
	}
	if got := m.Count("g1", "markerA"); got != 2 {
		t.Fatalf("g1 markerA = %d, want 2", got)
	}
	if got := m.Count("g2", "markerB"); got != 1 {
		t.Fatalf("g2 markerB = %d, want 1", got)
	}
	if got := m.Count("g3", "markerA"); got != 0 {
		t.Fatalf("g3 markerA = %d, want 0", got)
	}
}

func TestFilterGenomes_Reasons(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "search.out")
	// g1: marker A in 5 copies. g2: both markers duplicated. g3: nothing.
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("g1|p" + string(rune('0'+i)) + " - 100 markerA - 1e-10 50.0\n")
	}
	b.WriteString("g2|p1 - 100 markerA - 1e-10 50.0\n")
	b.WriteString("g2|p2 - 100 markerA - 1e-10 50.0\n")
	b.WriteString("g2|p3 - 100 markerB - 1e-10 50.0\n")
	b.WriteString("g2|p4 - 100 markerB - 1e-10 50.0\n")
	writeFile(t, path, b.String())

	m, err := BuildCountMatrix(path, []string{"markerA", "markerB"}, []string{"g1", "g2", "g3"})
	if err != nil {
		t.Fatalf("BuildCountMatrix: %v", err)
	}
	reasons := FilterGenomes(m, FilterThresholds{
		MinMarkerFraction:     0.5,
		MaxSingleCopy:         4,
		MaxDuplicatedFraction: 0.5,
	})
	if !strings.HasPrefix(reasons["g1"], "maxsdup:") {
		t.Fatalf("g1 reason = %q, want maxsdup", reasons["g1"])
	}
	if !strings.HasPrefix(reasons["g2"], "maxdupl:") {
		t.Fatalf("g2 reason = %q, want maxdupl", reasons["g2"])
	}
	if !strings.HasPrefix(reasons["g3"], "completeness:") {
		t.Fatalf("g3 reason = %q, want completeness", reasons["g3"])
	}
}

func TestWriteReadRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.removedtaxa")
	if err := WriteRemoved(path, map[string]string{"g9": "completeness:0.1000"}); err != nil {
		t.Fatalf("WriteRemoved: %v", err)
	}
	removed, err := ReadRemoved(path)
	if err != nil {
		t.Fatalf("ReadRemoved: %v", err)
	}
	if !removed["g9"] || len(removed) != 1 {
		t.Fatalf("unexpected removed set: %v", removed)
	}
}

func TestReadRemoved_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	removed, err := ReadRemoved(filepath.Join(t.TempDir(), "nope"))
	if err != nil || len(removed) != 0 {
		t.Fatalf("ReadRemoved missing = %v, %v", removed, err)
	}
}

func TestExtractHits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table := filepath.Join(dir, "search.out")
	writeFile(t, table, hitTable)
	faaDir := filepath.Join(dir, "reformatted")
	writeFile(t, filepath.Join(faaDir, "g1.faa"), ">g1|p1\nMK\n>g1|p2\nLV\n>g1|p3\nAA\n")
	writeFile(t, filepath.Join(faaDir, "g2.faa"), ">g2|p1\nGG\n")

	out := filepath.Join(dir, "markerA.faa")
	n, err := ExtractHits(table, faaDir, "markerA", nil, out)
	if err != nil {
		t.Fatalf("ExtractHits: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sequences, got %d", n)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), ">g1|p1\nMK\n") || !strings.Contains(string(data), ">g2|p1\nGG\n") {
		t.Fatalf("unexpected output:\n%s", data)
	}
}

func TestWriteCountsAndITOL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table := filepath.Join(dir, "search.out")
	writeFile(t, table, hitTable)
	m, err := BuildCountMatrix(table, []string{"markerA", "markerB"}, []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("BuildCountMatrix: %v", err)
	}

	counts := filepath.Join(dir, "x.counts")
	if err := WriteCounts(counts, m); err != nil {
		t.Fatalf("WriteCounts: %v", err)
	}
	data, _ := os.ReadFile(counts)
	if !strings.HasPrefix(string(data), "\tmarkerA\tmarkerB\n") {
		t.Fatalf("unexpected counts header:\n%s", data)
	}
	if !strings.Contains(string(data), "g1\t2\t0\n") {
		t.Fatalf("missing g1 row:\n%s", data)
	}

	itol := filepath.Join(dir, "x.itol.txt")
	if err := WriteITOLHeatmap(itol, m); err != nil {
		t.Fatalf("WriteITOLHeatmap: %v", err)
	}
	data, _ = os.ReadFile(itol)
	if !strings.HasPrefix(string(data), "DATASET_HEATMAP\n") {
		t.Fatalf("unexpected itol file:\n%s", data)
	}
	if !strings.Contains(string(data), "FIELD_LABELS,markerA,markerB\n") {
		t.Fatalf("missing field labels:\n%s", data)
	}
}
