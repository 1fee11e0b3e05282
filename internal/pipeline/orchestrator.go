package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/phylopipe/phylopipe/internal/archive"
	"github.com/phylopipe/phylopipe/internal/config"
	"github.com/phylopipe/phylopipe/internal/execx"
	"github.com/phylopipe/phylopipe/internal/markers"
	"github.com/phylopipe/phylopipe/internal/seqio"
	"github.com/phylopipe/phylopipe/internal/supermatrix"
)

// MinRetainedGenomes is the smallest supermatrix the species-tree stage
// accepts. A tree over three or fewer taxa is not meaningful, so falling
// at or below this is fatal rather than retryable.
const MinRetainedGenomes = 3

// ErrInsufficientGenomes aborts the run before a degenerate species tree
// is built.
var ErrInsufficientGenomes = errors.New(
	"too few genomes in the supermatrix alignment; loosen the filtering thresholds (minmarker, maxsdup, maxdupl) to retain more genomes")

// Orchestrator drives the ordered pipeline stages for one analysis
// request, consulting artifact probes to skip finished work and the
// resource monitor for every external invocation.
type Orchestrator struct {
	Cfg        config.Config
	QueryDir   string
	RefDir     string // optional reference genome directory
	ModelsPath string
	BaseDir    string // output base; defaults to <QueryDir>/phylopipe_out
	ForceNew   bool
	Sink       io.Writer // optional echo for run-log lines
	Now        func() time.Time

	paths       RunPaths
	log         *RunLog
	monitor     *execx.Monitor
	markerIDs   []string
	modelsBase  string
	genomeCount int
	executed    map[StageID]int
}

// ExecutedCount reports how many times a stage body actually ran during
// Run, excluding probe-skipped stages.
func (o *Orchestrator) ExecutedCount(id StageID) int { return o.executed[id] }

// Run executes the pipeline and returns the resolved run directory. The
// resource report is flushed even when a stage fails partway.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	o.executed = map[StageID]int{}

	if err := o.inspectInputs(); err != nil {
		return "", err
	}

	id := Identity{
		QueryBase:         filepath.Base(filepath.Clean(o.QueryDir)),
		ModelsBase:        o.modelsBase,
		TreeMethod:        o.Cfg.TreeMethod,
		MinMarkerFraction: o.Cfg.MinMarkerFraction,
	}
	if o.RefDir != "" {
		id.RefBase = filepath.Base(filepath.Clean(o.RefDir))
	}

	baseDir := o.BaseDir
	if baseDir == "" {
		baseDir = filepath.Join(o.QueryDir, "phylopipe_out")
	}
	score := func(root string) int {
		p := BuildRunPaths(root, id.String(), o.Cfg.TreeMethod)
		return ProgressScore(StageArtifacts(p, o.modelsBase, o.markerIDs, o.genomeCount))
	}
	run, err := SelectRun(baseDir, id, o.ForceNew, score, o.Now)
	if err != nil {
		return "", err
	}

	o.paths = BuildRunPaths(run.Root, id.String(), o.Cfg.TreeMethod)
	if err := EnsureRunLayout(o.paths); err != nil {
		return "", err
	}
	o.log, err = OpenRunLog(o.paths.WorkflowLog, o.Sink)
	if err != nil {
		return "", err
	}
	defer o.log.Close()
	if run.Resumed {
		o.log.Printf("resuming run %s (progress %d)", run.Root, run.Score)
	} else {
		o.writeBanner()
		o.log.Printf("starting run %s", run.Root)
	}

	o.monitor = execx.NewMonitor(o.paths.ResourceLog)
	defer func() {
		// The cost report must survive aborted runs.
		if err := o.monitor.WriteReport(o.paths.ResourceReport); err != nil {
			o.log.Printf("flush resource report: %v", err)
		}
		t := o.monitor.Totals()
		o.log.Printf("resource totals: commands=%d wall=%.1fs cpu=%.1fs peak_rss=%dB",
			t.Commands, t.Wall.Seconds(), t.CPU.Seconds(), t.PeakRSS)
	}()

	for _, stage := range o.stages() {
		if StageComplete(stage.Artifacts) {
			o.log.Printf("stage %s: artifacts present, skipping", stage.ID)
			continue
		}
		o.log.Printf("stage %s: running", stage.ID)
		o.executed[stage.ID]++
		if err := stage.Run(ctx); err != nil {
			err = fmt.Errorf("stage %s: %w", stage.ID, err)
			o.log.Printf("%v", err)
			return run.Root, err
		}
	}
	o.log.Printf("run complete: %s", run.Root)
	return run.Root, nil
}

// inspectInputs loads the marker names and counts the input genomes; both
// feed identity matching and artifact probing.
func (o *Orchestrator) inspectInputs() error {
	names, err := markers.ModelNames(o.ModelsPath)
	if err != nil {
		return err
	}
	o.markerIDs = names
	o.modelsBase = seqio.GenomeBase(o.ModelsPath)

	qFiles, err := seqio.ListGenomeFiles(o.QueryDir)
	if err != nil {
		return err
	}
	if len(qFiles) == 0 {
		return fmt.Errorf("no .faa genome files in %s", o.QueryDir)
	}
	o.genomeCount = len(qFiles)
	if o.RefDir != "" {
		rFiles, err := seqio.ListGenomeFiles(o.RefDir)
		if err != nil {
			return err
		}
		o.genomeCount += len(rFiles)
	}
	return nil
}

func (o *Orchestrator) stages() []Stage {
	sets := StageArtifacts(o.paths, o.modelsBase, o.markerIDs, o.genomeCount)
	runners := map[StageID]func(context.Context) error{
		StageReformat:     o.runReformat,
		StageMerge:        o.runMerge,
		StageSearch:       o.runSearch,
		StageFilter:       o.runFilter,
		StageExtract:      o.runExtract,
		StageAlign:        o.runAlign,
		StageTrees:        o.runTrees,
		StageConcat:       o.runConcat,
		StageSpeciesTree:  o.runSpeciesTree,
		StagePostAnalysis: o.runPostAnalysis,
		StageCleanup:      o.runCleanup,
	}
	stages := make([]Stage, 0, len(StageOrder))
	for _, id := range StageOrder {
		stages = append(stages, Stage{ID: id, Artifacts: sets[id], Run: runners[id]})
	}
	return stages
}

func (o *Orchestrator) writeBanner() {
	o.log.Raw(
		"phylopipe genome-tree pipeline",
		"builds a species tree from a concatenated marker alignment",
		"inputs must use plain filenames without extra dots",
		"################################",
	)
}

func (o *Orchestrator) runReformat(context.Context) error {
	n, err := seqio.ReformatDir(o.QueryDir, o.paths.ReformattedDir)
	if err != nil {
		return err
	}
	if o.RefDir != "" {
		r, err := seqio.ReformatDir(o.RefDir, o.paths.ReformattedDir)
		if err != nil {
			return err
		}
		n += r
	}
	o.log.Printf("reformatted %d genome files", n)
	return nil
}

func (o *Orchestrator) runMerge(context.Context) error {
	n, err := seqio.MergeDir(o.paths.ReformattedDir, o.paths.MergedFasta())
	if err != nil {
		return err
	}
	o.log.Printf("number of genomes in the analysis: %d", n)
	return nil
}

func (o *Orchestrator) runSearch(ctx context.Context) error {
	// The search tool writes the hit table itself, so point it at a temp
	// path and rename only after a clean exit.
	hitTable := o.paths.HitTable(o.modelsBase)
	partial := hitTable + ".partial"
	defer os.Remove(partial)

	args := []string{"--noali"}
	args = append(args, splitOptions(o.Cfg.HMMSearchOptions)...)
	args = append(args,
		"--domtblout", partial,
		"--cpu", strconv.Itoa(o.Cfg.HMMSearchCPU),
		o.ModelsPath,
		o.paths.MergedFasta(),
	)
	_, err := o.monitor.Run(ctx, execx.Invocation{
		Label:   "hmmsearch",
		Command: o.Cfg.Tools.HMMSearch,
		Args:    args,
		LogPath: filepath.Join(o.paths.StageLogDir("hmmsearch"), "hmmsearch.log"),
		Timeout: o.Cfg.SearchTimeout(),
	})
	if err != nil {
		return err
	}
	if err := os.Rename(partial, hitTable); err != nil {
		return fmt.Errorf("finalize hit table: %w", err)
	}
	return nil
}

func (o *Orchestrator) runFilter(context.Context) error {
	genomes, err := o.reformattedGenomes()
	if err != nil {
		return err
	}
	matrix, err := markers.BuildCountMatrix(o.paths.HitTable(o.modelsBase), o.markerIDs, genomes)
	if err != nil {
		return err
	}
	if err := markers.WriteCounts(o.paths.CountsTable(o.modelsBase), matrix); err != nil {
		return err
	}
	reasons := markers.FilterGenomes(matrix, markers.FilterThresholds{
		MinMarkerFraction:     o.Cfg.MinMarkerFraction,
		MaxSingleCopy:         o.Cfg.MaxSingleCopy,
		MaxDuplicatedFraction: o.Cfg.MaxDuplicatedFraction,
	})
	if err := markers.WriteRemoved(o.paths.RemovedTaxa(o.modelsBase), reasons); err != nil {
		return err
	}
	o.log.Printf("genomes removed by filtering thresholds: %d", len(reasons))
	return nil
}

func (o *Orchestrator) markerExecutor() (*MarkerExecutor, error) {
	removed, err := markers.ReadRemoved(o.paths.RemovedTaxa(o.modelsBase))
	if err != nil {
		return nil, err
	}
	return &MarkerExecutor{
		Paths:    o.paths,
		Cfg:      o.Cfg,
		Monitor:  o.monitor,
		Log:      o.log,
		HitTable: o.paths.HitTable(o.modelsBase),
		Removed:  removed,
	}, nil
}

func (o *Orchestrator) runExtract(ctx context.Context) error {
	ex, err := o.markerExecutor()
	if err != nil {
		return err
	}
	ForEachMarker(ctx, o.Cfg.Cores, o.markerIDs, func(_ context.Context, m string) {
		ex.ExtractHits(ex.Task(m))
	})
	return ctx.Err()
}

func (o *Orchestrator) runAlign(ctx context.Context) error {
	ex, err := o.markerExecutor()
	if err != nil {
		return err
	}
	ForEachMarker(ctx, o.Cfg.Cores, o.markerIDs, func(ctx context.Context, m string) {
		ex.AlignTrim(ctx, ex.Task(m))
	})
	return ctx.Err()
}

func (o *Orchestrator) runTrees(ctx context.Context) error {
	ex, err := o.markerExecutor()
	if err != nil {
		return err
	}
	ForEachMarker(ctx, o.Cfg.Cores, o.markerIDs, func(ctx context.Context, m string) {
		ex.BuildTree(ctx, ex.Task(m))
	})
	return ctx.Err()
}

func (o *Orchestrator) runConcat(context.Context) error {
	n, err := supermatrix.Concat(o.paths.TrimmedDir, o.paths.ConcatAlignment())
	if err != nil {
		return err
	}
	o.log.Printf("number of genomes in the final alignment: %d", n)
	return nil
}

func (o *Orchestrator) runSpeciesTree(ctx context.Context) error {
	concat := o.paths.ConcatAlignment()
	n, err := seqio.CountRecords(concat)
	if err != nil {
		return err
	}
	if n <= MinRetainedGenomes {
		return fmt.Errorf("%w (retained %d, need more than %d)", ErrInsufficientGenomes, n, MinRetainedGenomes)
	}

	logPath := filepath.Join(o.paths.StageLogDir("trees"), "speciestree.log")
	speciesTree := filepath.Join(o.paths.FinalTreeDir, o.paths.Name+".treefile")
	if o.Cfg.TreeMethod == config.TreeMethodIQTree {
		prefix := filepath.Join(o.paths.FinalTreeDir, o.paths.Name)
		args := []string{"--quiet", "--prefix", prefix, "-m", o.Cfg.IQTreeSpeciesModel, "-s", concat}
		if _, err := o.monitor.Run(ctx, execx.Invocation{
			Label:   "iqtree:speciestree",
			Command: o.Cfg.Tools.IQTree,
			Args:    args,
			LogPath: logPath,
			Timeout: o.Cfg.TreeTimeout(),
		}); err != nil {
			return err
		}
		if src := prefix + ".contree"; nonEmptyFile(src) {
			if err := copyFileAtomic(src, filepath.Join(o.paths.Root, o.paths.Name+".contree")); err != nil {
				return err
			}
		}
	} else {
		args := append(splitOptions(o.Cfg.FastTreeSpeciesOptions), concat)
		if _, err := o.monitor.Run(ctx, execx.Invocation{
			Label:      "fasttree:speciestree",
			Command:    o.Cfg.Tools.FastTree,
			Args:       args,
			StdoutPath: speciesTree,
			LogPath:    logPath,
			Timeout:    o.Cfg.TreeTimeout(),
		}); err != nil {
			return err
		}
	}
	if !nonEmptyFile(speciesTree) {
		return fmt.Errorf("species tree builder produced no tree at %s", speciesTree)
	}
	if err := copyFileAtomic(speciesTree, o.paths.FinalTree()); err != nil {
		return err
	}
	return writeFileAtomic(o.paths.SpeciesTreeComplete(), []byte(o.paths.Name+"\n"))
}

func (o *Orchestrator) runPostAnalysis(context.Context) error {
	genomes, err := o.reformattedGenomes()
	if err != nil {
		return err
	}
	matrix, err := markers.BuildCountMatrix(o.paths.HitTable(o.modelsBase), o.markerIDs, genomes)
	if err != nil {
		return err
	}
	return markers.WriteITOLHeatmap(o.paths.ITOLCounts(o.modelsBase), matrix)
}

// runCleanup is best-effort: a file vanishing mid-walk or an archive
// failure is logged and never fails the run.
func (o *Orchestrator) runCleanup(context.Context) error {
	for _, dir := range []string{o.paths.ReformattedDir, o.paths.TmpDir} {
		if err := os.RemoveAll(dir); err != nil {
			o.log.Printf("cleanup: remove %s: %v", dir, err)
		}
	}
	archive.RemoveEmptyFiles(o.paths.AnalysesDir, func(path string, err error) {
		o.log.Printf("cleanup: %s: %v", path, err)
	})
	if err := archive.Compress(o.paths.AnalysesDir, o.paths.ArchivePath); err != nil {
		o.log.Printf("cleanup: %v", err)
	}
	return nil
}

func (o *Orchestrator) reformattedGenomes() ([]string, error) {
	files, err := seqio.ListGenomeFiles(o.paths.ReformattedDir)
	if err != nil {
		return nil, err
	}
	genomes := make([]string, 0, len(files))
	for _, f := range files {
		genomes = append(genomes, seqio.GenomeBase(f))
	}
	return genomes, nil
}
