package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/phylopipe/phylopipe/internal/config"
	"github.com/phylopipe/phylopipe/internal/execx"
	"github.com/phylopipe/phylopipe/internal/markers"
)

// MarkerTask tracks one marker's artifacts through its sub-pipeline:
// extraction, alignment, trimming, tree construction. Done means the
// executor finished attempting the marker, not that it produced usable
// data; a tolerated empty placeholder also completes the task.
type MarkerTask struct {
	Marker   string
	Hits     string
	Aligned  string
	Trimmed  string
	Tree     string
	Complete string
	Done     bool
}

// MarkerExecutor runs the per-marker sub-pipeline. Every sub-step checks
// its input precondition and converts any failure (error, timeout,
// missing input) into an empty placeholder output so one broken marker
// cannot abort the run or starve the concatenation stage.
type MarkerExecutor struct {
	Paths    RunPaths
	Cfg      config.Config
	Monitor  *execx.Monitor
	Log      *RunLog
	HitTable string
	Removed  map[string]bool
}

// Task builds the artifact paths for one marker.
func (e *MarkerExecutor) Task(marker string) *MarkerTask {
	return &MarkerTask{
		Marker:   marker,
		Hits:     e.Paths.MarkerHits(marker),
		Aligned:  e.Paths.MarkerAligned(marker),
		Trimmed:  e.Paths.MarkerTrimmed(marker),
		Tree:     e.Paths.MarkerTree(marker),
		Complete: e.Paths.MarkerComplete(marker),
	}
}

// RunChain drives the full sub-pipeline for one marker in order.
func (e *MarkerExecutor) RunChain(ctx context.Context, t *MarkerTask) {
	e.ExtractHits(t)
	e.AlignTrim(ctx, t)
	e.BuildTree(ctx, t)
}

// ExtractHits pulls the marker's matched sequences out of the reformatted
// genome pool.
func (e *MarkerExecutor) ExtractHits(t *MarkerTask) {
	if !nonEmptyFile(e.HitTable) {
		e.Log.Printf("extraction %s: hit table empty, writing placeholder", t.Marker)
		e.placeholder(t.Hits)
		return
	}
	n, err := markers.ExtractHits(e.HitTable, e.Paths.ReformattedDir, t.Marker, e.Removed, t.Hits)
	if err != nil {
		e.Log.Printf("extraction %s failed: %v", t.Marker, err)
		e.placeholder(t.Hits)
		return
	}
	e.Log.Printf("extraction %s: %d sequences", t.Marker, n)
}

// AlignTrim aligns the marker's hits and trims the alignment.
func (e *MarkerExecutor) AlignTrim(ctx context.Context, t *MarkerTask) {
	logPath := filepath.Join(e.Paths.StageLogDir("aln"), t.Marker+".log")

	if !nonEmptyFile(t.Hits) {
		e.Log.Printf("alignment %s: no hits, writing placeholders", t.Marker)
		e.placeholder(t.Aligned)
		e.placeholder(t.Trimmed)
		return
	}
	args := append(splitOptions(e.Cfg.MafftOptions), t.Hits)
	_, err := e.Monitor.Run(ctx, execx.Invocation{
		Label:      "mafft:" + t.Marker,
		Command:    e.Cfg.Tools.Mafft,
		Args:       args,
		StdoutPath: t.Aligned,
		LogPath:    logPath,
		Timeout:    e.Cfg.MarkerTimeout(),
	})
	if err != nil {
		e.Log.Printf("alignment %s failed: %v", t.Marker, err)
		e.placeholder(t.Aligned)
		e.placeholder(t.Trimmed)
		return
	}

	if !nonEmptyFile(t.Aligned) {
		e.placeholder(t.Trimmed)
		return
	}
	args = append(splitOptions(e.Cfg.TrimalOptions), "-in", t.Aligned, "-out", t.Trimmed)
	_, err = e.Monitor.Run(ctx, execx.Invocation{
		Label:   "trimal:" + t.Marker,
		Command: e.Cfg.Tools.Trimal,
		Args:    args,
		LogPath: logPath,
		Timeout: e.Cfg.MarkerTimeout(),
	})
	if err != nil {
		e.Log.Printf("trimming %s failed: %v", t.Marker, err)
		os.Remove(t.Trimmed)
		e.placeholder(t.Trimmed)
	}
}

// BuildTree constructs the marker's tree and marks the task complete.
func (e *MarkerExecutor) BuildTree(ctx context.Context, t *MarkerTask) {
	defer e.markComplete(t)
	logPath := filepath.Join(e.Paths.StageLogDir("trees"), t.Marker+".log")

	if !nonEmptyFile(t.Trimmed) {
		e.Log.Printf("tree %s: trimmed alignment empty, writing placeholder", t.Marker)
		e.placeholder(t.Tree)
		return
	}

	var err error
	if e.Cfg.TreeMethod == config.TreeMethodIQTree {
		err = e.buildIQTree(ctx, t, logPath)
	} else {
		args := append(splitOptions(e.Cfg.FastTreeProteinOptions), t.Trimmed)
		_, err = e.Monitor.Run(ctx, execx.Invocation{
			Label:      "fasttree:" + t.Marker,
			Command:    e.Cfg.Tools.FastTree,
			Args:       args,
			StdoutPath: t.Tree,
			LogPath:    logPath,
			Timeout:    e.Cfg.TreeTimeout(),
		})
	}
	if err != nil {
		e.Log.Printf("tree %s failed: %v", t.Marker, err)
		e.placeholder(t.Tree)
		return
	}
	if !nonEmptyFile(t.Tree) {
		e.placeholder(t.Tree)
	}
}

func (e *MarkerExecutor) buildIQTree(ctx context.Context, t *MarkerTask, logPath string) error {
	prefix := filepath.Join(e.Paths.TreeWorkDir, t.Marker)
	args := []string{
		"--prefix", prefix,
		"-m", e.Cfg.IQTreeProteinModel,
		"-T", "1",
		"-fast",
		"-s", t.Trimmed,
	}
	_, err := e.Monitor.Run(ctx, execx.Invocation{
		Label:   "iqtree:" + t.Marker,
		Command: e.Cfg.Tools.IQTree,
		Args:    args,
		LogPath: logPath,
		Timeout: e.Cfg.TreeTimeout(),
	})
	if err != nil {
		return err
	}
	// Prefer the consensus tree when one was produced.
	for _, src := range []string{prefix + ".contree", prefix + ".treefile"} {
		if nonEmptyFile(src) {
			return copyFileAtomic(src, t.Tree)
		}
	}
	return fmt.Errorf("iqtree produced no tree for %s", t.Marker)
}

func (e *MarkerExecutor) markComplete(t *MarkerTask) {
	if err := writeFileAtomic(t.Complete, []byte(t.Marker+"\n")); err != nil {
		e.Log.Printf("tree %s: write completion flag: %v", t.Marker, err)
		return
	}
	t.Done = true
}

// placeholder writes an intentionally empty artifact so downstream steps
// see the marker as attempted but contributing no data.
func (e *MarkerExecutor) placeholder(path string) {
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		e.Log.Printf("write placeholder %s: %v", path, err)
	}
}

func splitOptions(opts string) []string {
	return strings.Fields(opts)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
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

func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp copy: %w", err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp copy: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename copy: %w", err)
	}
	return nil
}
