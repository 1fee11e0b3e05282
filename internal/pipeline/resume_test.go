package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var resumeID = Identity{
	QueryBase:         "queries",
	ModelsBase:        "models",
	TreeMethod:        "fasttree",
	MinMarkerFraction: 0.1,
}

// startedRun creates a candidate directory that looks like an interrupted
// run: it has a non-empty workflow log and no completion artifacts.
func startedRun(t *testing.T, baseDir, suffix string) string {
	t.Helper()
	root := filepath.Join(baseDir, resumeID.String()+"-"+suffix)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeNonEmpty(t, filepath.Join(root, "workflow.log"))
	return root
}

func TestSelectRun_CreatesFreshWhenNoCandidates(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	run, err := SelectRun(base, resumeID, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectRun: %v", err)
	}
	if run.Resumed {
		t.Fatal("resumed with no candidates")
	}
	if info, err := os.Stat(run.Root); err != nil || !info.IsDir() {
		t.Fatalf("run dir not created: %v", err)
	}
	if filepath.Dir(run.Root) != base {
		t.Fatalf("run dir %s not under base", run.Root)
	}
}

func TestSelectRun_ResumesHighestProgress(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	low := startedRun(t, base, "20240101-000000-aaaa")
	high := startedRun(t, base, "20240102-000000-bbbb")
	scores := map[string]int{low: 25, high: 55}

	run, err := SelectRun(base, resumeID, false, func(root string) int { return scores[root] }, nil)
	if err != nil {
		t.Fatalf("SelectRun: %v", err)
	}
	if !run.Resumed {
		t.Fatal("did not resume a started candidate")
	}
	if run.Root != high {
		t.Fatalf("resumed %s, want highest-progress %s", run.Root, high)
	}
	if run.Score != 55 {
		t.Fatalf("score = %d, want 55", run.Score)
	}
}

func TestSelectRun_SkipsUnstartedDir(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	// Directory exists but was never started (no workflow log).
	root := filepath.Join(base, resumeID.String()+"-20240101-000000-cccc")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	run, err := SelectRun(base, resumeID, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectRun: %v", err)
	}
	if run.Resumed || run.Root == root {
		t.Fatalf("resumed an unstarted directory: %+v", run)
	}
}

func TestSelectRun_ExcludesCompletedRuns(t *testing.T) {
	t.Parallel()

	name := resumeID.String()
	cases := []struct {
		label string
		mark  func(t *testing.T, root string)
	}{
		{"final tree at root", func(t *testing.T, root string) {
			writeNonEmpty(t, filepath.Join(root, name+".treefile"))
		}},
		{"species-tree completion flag", func(t *testing.T, root string) {
			writeNonEmpty(t, filepath.Join(root, "analyses", "finaltree", "fasttree", name+".complete"))
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.label, func(t *testing.T) {
			t.Parallel()
			base := t.TempDir()
			done := startedRun(t, base, "20240101-000000-dddd")
			tc.mark(t, done)

			run, err := SelectRun(base, resumeID, false, nil, nil)
			if err != nil {
				t.Fatalf("SelectRun: %v", err)
			}
			if run.Resumed || run.Root == done {
				t.Fatalf("resumed a completed run: %+v", run)
			}
		})
	}
}

func TestSelectRun_ForceNewIgnoresCandidates(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	old := startedRun(t, base, "20240101-000000-eeee")

	run, err := SelectRun(base, resumeID, true, nil, func() time.Time {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("SelectRun: %v", err)
	}
	if run.Resumed || run.Root == old {
		t.Fatalf("forceNew resumed anyway: %+v", run)
	}
}

func TestSelectRun_IgnoresOtherIdentities(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	other := resumeID
	other.TreeMethod = "iqtree"
	root := filepath.Join(base, other.String()+"-20240101-000000-ffff")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeNonEmpty(t, filepath.Join(root, "workflow.log"))

	run, err := SelectRun(base, resumeID, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectRun: %v", err)
	}
	if run.Resumed {
		t.Fatalf("resumed a run of a different identity: %+v", run)
	}
}
