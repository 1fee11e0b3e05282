package markers

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/phylopipe/phylopipe/internal/seqio"
)

// Hit is one row of the model-search table that survived deduplication.
type Hit struct {
	RecordID string // genomeId|recordId
	Marker   string
}

// ScanHits streams the non-comment rows of a domain hit table. Column 0 is
// the target record ID, column 3 the model name. Duplicate record IDs keep
// only their first occurrence, matching the search tool's best-hit-first
// ordering. The dedup is global, not per model: a record hitting several
// models is credited only to its best one, so hit extraction and the copy
// counts agree on which model owns a record.
func ScanHits(path string, fn func(Hit) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open hit table: %w", err)
	}
	defer f.Close()

	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		id := fields[0]
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := fn(Hit{RecordID: id, Marker: fields[3]}); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan hit table %s: %w", path, err)
	}
	return nil
}

// HitsForMarker returns the record IDs matched to one marker, excluding
// hits from removed genomes.
func HitsForMarker(path, marker string, removed map[string]bool) ([]string, error) {
	var ids []string
	err := ScanHits(path, func(h Hit) error {
		if h.Marker != marker {
			return nil
		}
		if removed[seqio.GenomeID(h.RecordID)] {
			return nil
		}
		ids = append(ids, h.RecordID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
