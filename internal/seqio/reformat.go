package seqio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListGenomeFiles returns the sorted .faa files of a genome directory.
func ListGenomeFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.faa"))
	if err != nil {
		return nil, fmt.Errorf("glob genome dir %s: %w", dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// GenomeBase strips the .faa extension from a genome file name.
func GenomeBase(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// ReformatDir rewrites every genome file of inDir into outDir with headers
// in the genomeId|recordId convention. Records that already carry their own
// genome prefix keep their ID; descriptions are dropped. Returns the number
// of genome files written.
func ReformatDir(inDir, outDir string) (int, error) {
	files, err := ListGenomeFiles(inDir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create reformat dir: %w", err)
	}
	for _, in := range files {
		base := GenomeBase(in)
		var out []Record
		err := ScanFile(in, func(r Record) error {
			id := r.ID
			if !strings.Contains(id, "|") || strings.SplitN(id, "|", 2)[0] != base {
				id = base + "|" + id
			}
			out = append(out, Record{ID: id, Seq: r.Seq})
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("reformat %s: %w", in, err)
		}
		if err := WriteFileAtomic(filepath.Join(outDir, filepath.Base(in)), out); err != nil {
			return 0, fmt.Errorf("reformat %s: %w", in, err)
		}
	}
	return len(files), nil
}

// MergeDir concatenates every genome file of dir into a single FASTA at
// outPath. Returns the number of genome files merged.
func MergeDir(dir, outPath string) (int, error) {
	files, err := ListGenomeFiles(dir)
	if err != nil {
		return 0, err
	}
	var merged []Record
	for _, f := range files {
		err := ScanFile(f, func(r Record) error {
			merged = append(merged, r)
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("merge %s: %w", f, err)
		}
	}
	if err := WriteFileAtomic(outPath, merged); err != nil {
		return 0, fmt.Errorf("write merged fasta: %w", err)
	}
	return len(files), nil
}
