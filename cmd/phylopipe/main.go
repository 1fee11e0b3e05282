package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/phylopipe/phylopipe/internal/config"
	"github.com/phylopipe/phylopipe/internal/markers"
	"github.com/phylopipe/phylopipe/internal/pipeline"
	"github.com/phylopipe/phylopipe/internal/seqio"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "run":
		return runAnalysis(args[1:], stdout, stderr)
	case "check":
		return runCheck(args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "phylopipe %s\n", version)
		return 0
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: phylopipe <run|check|version> [options]")
	fmt.Fprintln(w, "  run    -qfaadir DIR -models FILE [options]  run the analysis pipeline")
	fmt.Fprintln(w, "  check  -qfaadir DIR -models FILE            validate inputs and tools")
}

func runAnalysis(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		qfaadir    = fs.String("qfaadir", "", "Directory with query genome .faa files (required)")
		models     = fs.String("models", "", "Combined marker-model file (required)")
		rfaadir    = fs.String("rfaadir", "", "Optional directory with reference genome .faa files")
		configPath = fs.String("config", "", "YAML config override file")
		outdir     = fs.String("outdir", "", "Output base directory (default <qfaadir>/phylopipe_out)")
		cores      = fs.Int("cores", 0, "Worker pool size and search tool cpu count")
		treeMethod = fs.String("tree-method", "", "Tree builder: fasttree or iqtree")
		minMarker  = fs.Float64("min-marker", -1, "Minimum marker fraction per genome, 0-1")
		forceNew   = fs.Bool("force-new", false, "Start a fresh run even when a resumable one exists")
		dryRun     = fs.Bool("dry-run", false, "Resolve the run plan without executing")
		verbose    = fs.Bool("v", false, "Echo the run log to stdout")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *qfaadir == "" || *models == "" {
		fmt.Fprintln(stderr, "run: -qfaadir and -models are required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *cores > 0 {
		cfg.Cores = *cores
		cfg.HMMSearchCPU = *cores
	}
	if *treeMethod != "" {
		cfg.TreeMethod = *treeMethod
	}
	if *minMarker >= 0 {
		cfg.MinMarkerFraction = *minMarker
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *dryRun {
		return dryRunPlan(cfg, *qfaadir, *rfaadir, *models, stdout, stderr)
	}

	orch := &pipeline.Orchestrator{
		Cfg:        cfg,
		QueryDir:   *qfaadir,
		RefDir:     *rfaadir,
		ModelsPath: *models,
		BaseDir:    *outdir,
		ForceNew:   *forceNew,
	}
	if *verbose {
		orch.Sink = stdout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runDir, err := orch.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, pipeline.ErrInsufficientGenomes) {
			fmt.Fprintln(stderr, "Hint: rerun with a lower -min-marker or relaxed maxsdup/maxdupl overrides.")
		}
		return 1
	}
	fmt.Fprintf(stdout, "Analysis complete. Results in %s\n", runDir)
	return 0
}

func dryRunPlan(cfg config.Config, qfaadir, rfaadir, models string, stdout, stderr io.Writer) int {
	names, err := markers.ModelNames(models)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	files, err := seqio.ListGenomeFiles(qfaadir)
	if err != nil || len(files) == 0 {
		fmt.Fprintf(stderr, "Error: no .faa genome files in %s\n", qfaadir)
		return 1
	}
	id := pipeline.Identity{
		QueryBase:         filepath.Base(filepath.Clean(qfaadir)),
		ModelsBase:        seqio.GenomeBase(models),
		TreeMethod:        cfg.TreeMethod,
		MinMarkerFraction: cfg.MinMarkerFraction,
	}
	if rfaadir != "" {
		id.RefBase = filepath.Base(filepath.Clean(rfaadir))
	}
	fmt.Fprintf(stdout, "genomes: %d\nmarkers: %d\ntree method: %s\nanalysis: %s\n",
		len(files), len(names), cfg.TreeMethod, id.String())
	return 0
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		qfaadir = fs.String("qfaadir", "", "Directory with query genome .faa files")
		models  = fs.String("models", "", "Combined marker-model file")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	failed := false
	if *qfaadir != "" {
		files, err := seqio.ListGenomeFiles(*qfaadir)
		if err != nil || len(files) == 0 {
			fmt.Fprintf(stdout, "FAIL genome dir %s: no .faa files\n", *qfaadir)
			failed = true
		} else {
			fmt.Fprintf(stdout, "ok   genome dir %s: %d files\n", *qfaadir, len(files))
			for _, f := range files[:min(3, len(files))] {
				if n, err := seqio.CountRecords(f); err != nil || n == 0 {
					fmt.Fprintf(stdout, "FAIL %s: not a FASTA file\n", f)
					failed = true
				} else {
					fmt.Fprintf(stdout, "ok   %s: %d records\n", filepath.Base(f), n)
				}
			}
		}
	}
	if *models != "" {
		names, err := markers.ModelNames(*models)
		if err != nil {
			fmt.Fprintf(stdout, "FAIL model file %s: %v\n", *models, err)
			failed = true
		} else {
			fmt.Fprintf(stdout, "ok   model file %s: %d markers\n", *models, len(names))
		}
	}
	tools := config.Default().Tools
	for _, tool := range []string{tools.HMMSearch, tools.Mafft, tools.Trimal, tools.FastTree, tools.IQTree} {
		if _, err := exec.LookPath(tool); err != nil {
			fmt.Fprintf(stdout, "missing tool: %s\n", tool)
		} else {
			fmt.Fprintf(stdout, "ok   tool: %s\n", tool)
		}
	}
	if failed {
		return 1
	}
	return 0
}
