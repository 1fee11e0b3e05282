package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// RunPaths locates every artifact of one analysis run below its root.
type RunPaths struct {
	Root string
	Name string // analysis name, used in root-level artifact names

	AnalysesDir    string
	ReformattedDir string
	TmpDir         string
	HMMOutDir      string
	HitsDir        string
	AlignedDir     string
	TrimmedDir     string
	ProteinTreeDir string // per-marker tree outputs at the run root
	TreeWorkDir    string // method-specific working dir with completion flags
	FinalTreeDir   string
	LogDir         string
	ITOLDir        string

	WorkflowLog    string
	ResourceLog    string
	ResourceReport string
	ArchivePath    string
}

// BuildRunPaths lays out a run directory the way the pipeline expects it.
// method selects the tree builder's working subdirectory.
func BuildRunPaths(root, name, method string) RunPaths {
	analyses := filepath.Join(root, "analyses")
	return RunPaths{
		Root:           root,
		Name:           name,
		AnalysesDir:    analyses,
		ReformattedDir: filepath.Join(analyses, "reformatted_faa"),
		TmpDir:         filepath.Join(analyses, "tmp"),
		HMMOutDir:      filepath.Join(analyses, "hmmout"),
		HitsDir:        filepath.Join(analyses, "hits_faa"),
		AlignedDir:     filepath.Join(analyses, "aligned"),
		TrimmedDir:     filepath.Join(analyses, "aligned_t"),
		ProteinTreeDir: filepath.Join(root, "proteintrees"),
		TreeWorkDir:    filepath.Join(analyses, "proteintrees", method),
		FinalTreeDir:   filepath.Join(analyses, "finaltree", method),
		LogDir:         filepath.Join(analyses, "log"),
		ITOLDir:        filepath.Join(root, "itol"),
		WorkflowLog:    filepath.Join(root, "workflow.log"),
		ResourceLog:    filepath.Join(root, "resources.log"),
		ResourceReport: filepath.Join(root, "resources.report"),
		ArchivePath:    filepath.Join(root, "analyses.tar.gz"),
	}
}

// MergedFasta is the single-file pool of all reformatted genomes.
func (p RunPaths) MergedFasta() string { return filepath.Join(p.TmpDir, "merged.faa") }

// HitTable is the raw model-search output for the model set.
func (p RunPaths) HitTable(modelsBase string) string {
	return filepath.Join(p.HMMOutDir, modelsBase+".out")
}

func (p RunPaths) CountsTable(modelsBase string) string {
	return filepath.Join(p.HMMOutDir, modelsBase+".counts")
}

func (p RunPaths) RemovedTaxa(modelsBase string) string {
	return filepath.Join(p.HMMOutDir, modelsBase+".removedtaxa")
}

func (p RunPaths) ITOLCounts(modelsBase string) string {
	return filepath.Join(p.ITOLDir, modelsBase+".counts.itol.txt")
}

// ConcatAlignment is the supermatrix at the run root.
func (p RunPaths) ConcatAlignment() string { return filepath.Join(p.Root, p.Name+".mafft_t") }

// FinalTree is the species tree copied to the run root.
func (p RunPaths) FinalTree() string { return filepath.Join(p.Root, p.Name+".treefile") }

// SpeciesTreeComplete marks the species-tree stage as finished.
func (p RunPaths) SpeciesTreeComplete() string {
	return filepath.Join(p.FinalTreeDir, p.Name+".complete")
}

func (p RunPaths) MarkerHits(marker string) string {
	return filepath.Join(p.HitsDir, marker+".faa")
}

func (p RunPaths) MarkerAligned(marker string) string {
	return filepath.Join(p.AlignedDir, marker+".mafft")
}

func (p RunPaths) MarkerTrimmed(marker string) string {
	return filepath.Join(p.TrimmedDir, marker+".mafft_t")
}

func (p RunPaths) MarkerTree(marker string) string {
	return filepath.Join(p.ProteinTreeDir, marker+".treefile")
}

func (p RunPaths) MarkerComplete(marker string) string {
	return filepath.Join(p.TreeWorkDir, marker+".complete")
}

func (p RunPaths) StageLogDir(stage string) string {
	return filepath.Join(p.LogDir, stage)
}

// EnsureRunLayout creates the full directory tree of a run.
func EnsureRunLayout(p RunPaths) error {
	dirs := []string{
		p.ReformattedDir,
		p.TmpDir,
		p.HMMOutDir,
		p.HitsDir,
		p.AlignedDir,
		p.TrimmedDir,
		p.ProteinTreeDir,
		p.TreeWorkDir,
		p.FinalTreeDir,
		p.LogDir,
		p.ITOLDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run dir %s: %w", dir, err)
		}
	}
	return nil
}
