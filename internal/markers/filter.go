package markers

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/phylopipe/phylopipe/internal/seqio"
)

// CountMatrix holds per-genome marker copy numbers. Genomes with no hits
// at all still appear with all-zero rows.
type CountMatrix struct {
	Models  []string
	Genomes []string
	counts  map[string]map[string]int
}

// Count returns the copy number of a marker in a genome.
func (m *CountMatrix) Count(genome, model string) int {
	return m.counts[genome][model]
}

// BuildCountMatrix tallies marker copy numbers from a hit table for the
// given genome and model sets. Hits from genomes outside the set are
// ignored.
func BuildCountMatrix(hitTable string, models, genomes []string) (*CountMatrix, error) {
	known := map[string]bool{}
	for _, g := range genomes {
		known[g] = true
	}
	counts := make(map[string]map[string]int, len(genomes))
	for _, g := range genomes {
		row := make(map[string]int, len(models))
		for _, mdl := range models {
			row[mdl] = 0
		}
		counts[g] = row
	}
	err := ScanHits(hitTable, func(h Hit) error {
		g := seqio.GenomeID(h.RecordID)
		if !known[g] {
			return nil
		}
		if _, ok := counts[g][h.Marker]; ok {
			counts[g][h.Marker]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CountMatrix{Models: models, Genomes: genomes, counts: counts}, nil
}

// FilterThresholds are the genome quality cutoffs.
type FilterThresholds struct {
	// MinMarkerFraction is the fraction of markers a genome must carry.
	MinMarkerFraction float64
	// MaxSingleCopy is the highest tolerated copy number of any marker.
	MaxSingleCopy int
	// MaxDuplicatedFraction is the tolerated fraction of markers present
	// in more than one copy.
	MaxDuplicatedFraction float64
}

// FilterGenomes applies the thresholds and returns genome -> removal
// reason for every genome that fails. A genome failing several checks
// reports the last failing check, matching the original tooling.
func FilterGenomes(m *CountMatrix, t FilterThresholds) map[string]string {
	reasons := map[string]string{}
	nModels := len(m.Models)
	for _, g := range m.Genomes {
		maxCopies := 0
		duplicated := 0
		present := 0
		for _, mdl := range m.Models {
			c := m.Count(g, mdl)
			if c > maxCopies {
				maxCopies = c
			}
			if c > 1 {
				duplicated++
			}
			if c > 0 {
				present++
			}
		}
		if maxCopies > t.MaxSingleCopy {
			reasons[g] = fmt.Sprintf("maxsdup:%d", maxCopies)
		}
		if frac := float64(duplicated) / float64(nModels); frac > t.MaxDuplicatedFraction {
			reasons[g] = fmt.Sprintf("maxdupl:%.4f", frac)
		}
		if float64(present) < float64(nModels)*t.MinMarkerFraction {
			reasons[g] = fmt.Sprintf("completeness:%.4f", float64(present)/float64(nModels))
		}
	}
	return reasons
}

// WriteCounts writes the matrix as a TSV with genomes as rows and models
// as columns.
func WriteCounts(path string, m *CountMatrix) error {
	var b strings.Builder
	b.WriteString("\t" + strings.Join(m.Models, "\t") + "\n")
	for _, g := range m.Genomes {
		b.WriteString(g)
		for _, mdl := range m.Models {
			fmt.Fprintf(&b, "\t%d", m.Count(g, mdl))
		}
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

// WriteRemoved writes the removed-taxa list as "genome<TAB>reason" lines
// in genome order.
func WriteRemoved(path string, reasons map[string]string) error {
	genomes := make([]string, 0, len(reasons))
	for g := range reasons {
		genomes = append(genomes, g)
	}
	sort.Strings(genomes)
	var b strings.Builder
	for _, g := range genomes {
		fmt.Fprintf(&b, "%s\t%s\n", g, reasons[g])
	}
	return writeFileAtomic(path, []byte(b.String()))
}

// ReadRemoved loads a removed-taxa list. The reason column is ignored.
// A missing file yields an empty set.
func ReadRemoved(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("open removed-taxa list: %w", err)
	}
	defer f.Close()

	removed := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		removed[fields[0]] = true
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan removed-taxa list %s: %w", path, err)
	}
	return removed, nil
}

// WriteITOLHeatmap writes the count matrix as an ITOL DATASET_HEATMAP
// annotation file.
func WriteITOLHeatmap(path string, m *CountMatrix) error {
	var b strings.Builder
	b.WriteString("DATASET_HEATMAP\n" +
		"SEPARATOR COMMA\n" +
		"DATASET_LABEL,Count\n" +
		"COLOR,#ff0000\n" +
		"COLOR_MIN,#ff0000\n" +
		"COLOR_MAX,#0000ff\n" +
		"FIELD_LABELS," + strings.Join(m.Models, ",") + "\n" +
		"DATA\n")
	for _, g := range m.Genomes {
		b.WriteString(g)
		for _, mdl := range m.Models {
			fmt.Fprintf(&b, ",%d", m.Count(g, mdl))
		}
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
