// Package supermatrix builds the concatenated per-genome alignment that
// feeds the species-tree stage.
package supermatrix

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/phylopipe/phylopipe/internal/seqio"
)

// GapRune fills positions for genomes missing from a marker alignment.
const GapRune = '?'

// Concat joins every trimmed marker alignment in alnDir into one
// supermatrix keyed by genome ID. A genome absent from a marker
// contributes a run of gap characters of that marker's alignment length;
// empty placeholder alignments contribute nothing. Returns the number of
// genomes written.
func Concat(alnDir, outPath string) (int, error) {
	entries, err := os.ReadDir(alnDir)
	if err != nil {
		return 0, fmt.Errorf("read alignment dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(alnDir, e.Name()))
	}
	sort.Strings(files)

	type alignment struct {
		length int
		seqs   map[string][]byte // genome -> aligned sequence
	}
	var alignments []alignment
	taxa := map[string]bool{}
	for _, f := range files {
		aln := alignment{seqs: map[string][]byte{}}
		err := seqio.ScanFile(f, func(r seqio.Record) error {
			genome := seqio.GenomeID(r.ID)
			taxa[genome] = true
			if aln.length == 0 {
				aln.length = len(r.Seq)
			}
			if _, dup := aln.seqs[genome]; !dup {
				aln.seqs[genome] = r.Seq
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("concat %s: %w", f, err)
		}
		if aln.length > 0 {
			alignments = append(alignments, aln)
		}
	}

	genomes := make([]string, 0, len(taxa))
	for g := range taxa {
		genomes = append(genomes, g)
	}
	sort.Strings(genomes)

	records := make([]seqio.Record, 0, len(genomes))
	for _, g := range genomes {
		var seq bytes.Buffer
		for _, aln := range alignments {
			if s, ok := aln.seqs[g]; ok && len(s) == aln.length {
				seq.Write(s)
			} else {
				seq.Write(bytes.Repeat([]byte{GapRune}, aln.length))
			}
		}
		records = append(records, seqio.Record{ID: g, Seq: seq.Bytes()})
	}
	if err := seqio.WriteFileAtomic(outPath, records); err != nil {
		return 0, fmt.Errorf("write supermatrix: %w", err)
	}
	return len(records), nil
}
