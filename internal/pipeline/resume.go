package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Run is one analysis run directory picked or created for an identity.
type Run struct {
	Identity Identity
	Root     string
	Resumed  bool
	Score    int
}

// SelectRun picks the run directory for an identity. Unless forceNew is
// set, the highest-progress resumable candidate under baseDir is resumed;
// otherwise a fresh timestamped directory is created. A candidate is
// resumable only when it was actually started (has a run log) and has not
// finished (no non-empty final tree, no species-tree completion marker);
// resuming a completed run would silently redo finished work.
func SelectRun(baseDir string, id Identity, forceNew bool, score func(root string) int, now func() time.Time) (Run, error) {
	if now == nil {
		now = time.Now
	}
	if !forceNew {
		if root, s, ok := findResumable(baseDir, id, score); ok {
			return Run{Identity: id, Root: root, Resumed: true, Score: s}, nil
		}
	}
	root := filepath.Join(baseDir, NewRunDirName(id, now()))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Run{}, fmt.Errorf("create run dir: %w", err)
	}
	return Run{Identity: id, Root: root}, nil
}

func findResumable(baseDir string, id Identity, score func(root string) int) (string, int, bool) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", 0, false
	}
	prefix := id.String() + "-"
	name := id.String()

	type candidate struct {
		root  string
		score int
		mtime time.Time
	}
	var best *candidate
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		root := filepath.Join(baseDir, e.Name())
		if !resumable(root, name) {
			continue
		}
		c := candidate{root: root, mtime: dirMTime(root)}
		if score != nil {
			c.score = score(root)
		}
		if best == nil ||
			c.score > best.score ||
			(c.score == best.score && c.mtime.After(best.mtime)) {
			best = &c
		}
	}
	if best == nil {
		return "", 0, false
	}
	return best.root, best.score, true
}

func resumable(root, name string) bool {
	// Never started: nothing to resume.
	if !nonEmptyFile(filepath.Join(root, "workflow.log")) {
		return false
	}
	// Finished: the final tree exists or the species-tree stage marked
	// itself complete.
	if nonEmptyFile(filepath.Join(root, name+".treefile")) {
		return false
	}
	markers, err := filepath.Glob(filepath.Join(root, "analyses", "finaltree", "*", name+".complete"))
	if err == nil && len(markers) > 0 {
		return false
	}
	return true
}

func dirMTime(root string) time.Time {
	info, err := os.Stat(root)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
