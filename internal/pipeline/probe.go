package pipeline

import (
	"os"
	"path/filepath"
)

// Artifact is one expected output of a stage. A plain artifact names a
// single file; setting Glob turns Path into a directory probed for a
// matching, fully non-empty file set of exactly ExpectedCount entries.
// Zero-byte files never count as present: a stale empty file from an
// earlier failed run must not mask missing work.
type Artifact struct {
	Path          string
	Glob          string
	ExpectedCount int
}

// Done reports whether this artifact exists with real content.
func (a Artifact) Done() bool {
	if a.Glob == "" {
		return nonEmptyFile(a.Path)
	}
	matches, err := filepath.Glob(filepath.Join(a.Path, a.Glob))
	if err != nil {
		return false
	}
	nonEmpty := 0
	for _, m := range matches {
		if nonEmptyFile(m) {
			nonEmpty++
		}
	}
	if a.ExpectedCount > 0 {
		return nonEmpty == a.ExpectedCount
	}
	return nonEmpty > 0
}

// StageComplete reports whether every artifact of a stage is done. An
// empty artifact list means the stage leaves no probeable output and must
// always run.
func StageComplete(artifacts []Artifact) bool {
	if len(artifacts) == 0 {
		return false
	}
	for _, a := range artifacts {
		if !a.Done() {
			return false
		}
	}
	return true
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}
