package markers

import (
	"fmt"
	"path/filepath"

	"github.com/phylopipe/phylopipe/internal/seqio"
)

// ExtractHits pulls the sequences matched to one marker out of the
// reformatted genome directory and writes them to outPath. Returns the
// number of sequences written.
func ExtractHits(hitTable, faaDir, marker string, removed map[string]bool, outPath string) (int, error) {
	ids, err := HitsForMarker(hitTable, marker, removed)
	if err != nil {
		return 0, err
	}

	// Group wanted record IDs by genome so each genome file is scanned once.
	byGenome := map[string]map[string]bool{}
	for _, id := range ids {
		g := seqio.GenomeID(id)
		if byGenome[g] == nil {
			byGenome[g] = map[string]bool{}
		}
		byGenome[g][id] = true
	}

	found := map[string]seqio.Record{}
	for genome, wanted := range byGenome {
		path := filepath.Join(faaDir, genome+".faa")
		err := seqio.ScanFile(path, func(r seqio.Record) error {
			if wanted[r.ID] {
				found[r.ID] = r
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("extract %s hits from %s: %w", marker, genome, err)
		}
	}

	// Preserve hit-table order.
	records := make([]seqio.Record, 0, len(found))
	for _, id := range ids {
		if r, ok := found[id]; ok {
			records = append(records, r)
		}
	}
	if err := seqio.WriteFileAtomic(outPath, records); err != nil {
		return 0, fmt.Errorf("write %s hits: %w", marker, err)
	}
	return len(records), nil
}
