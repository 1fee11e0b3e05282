package pipeline

import "context"

// StageID names one step of the ordered pipeline.
type StageID string

const (
	StageReformat     StageID = "reformat"
	StageMerge        StageID = "merge"
	StageSearch       StageID = "search"
	StageFilter       StageID = "filter"
	StageExtract      StageID = "extraction"
	StageAlign        StageID = "alignment"
	StageTrees        StageID = "proteintrees"
	StageConcat       StageID = "concatenation"
	StageSpeciesTree  StageID = "speciestree"
	StagePostAnalysis StageID = "postanalysis"
	StageCleanup      StageID = "cleanup"
)

// StageOrder is the execution sequence. A stage never starts before the
// previous stage's artifacts are confirmed.
var StageOrder = []StageID{
	StageReformat,
	StageMerge,
	StageSearch,
	StageFilter,
	StageExtract,
	StageAlign,
	StageTrees,
	StageConcat,
	StageSpeciesTree,
	StagePostAnalysis,
	StageCleanup,
}

// stageWeights rank resumable candidates by completion. The exact numbers
// are not load-bearing; artifact probes stay the ground truth for skip
// decisions. Weighted stages sum to 100.
var stageWeights = map[StageID]int{
	StageReformat:    10,
	StageMerge:       5,
	StageSearch:      15,
	StageFilter:      5,
	StageExtract:     10,
	StageAlign:       15,
	StageTrees:       15,
	StageConcat:      15,
	StageSpeciesTree: 10,
}

// Stage couples a pipeline step with its expected outputs.
type Stage struct {
	ID        StageID
	Artifacts []Artifact
	Run       func(ctx context.Context) error
}

// StageArtifacts returns the expected outputs of every stage for a run
// directory, given the marker set and input genome count. The resume
// engine uses the same artifact sets to score candidate directories.
func StageArtifacts(p RunPaths, modelsBase string, markers []string, genomeCount int) map[StageID][]Artifact {
	hits := make([]Artifact, 0, len(markers))
	aligned := make([]Artifact, 0, 2*len(markers))
	trees := make([]Artifact, 0, len(markers))
	for _, m := range markers {
		hits = append(hits, Artifact{Path: p.MarkerHits(m)})
		aligned = append(aligned,
			Artifact{Path: p.MarkerAligned(m)},
			Artifact{Path: p.MarkerTrimmed(m)})
		trees = append(trees, Artifact{Path: p.MarkerComplete(m)})
	}
	return map[StageID][]Artifact{
		StageReformat:     {{Path: p.ReformattedDir, Glob: "*.faa", ExpectedCount: genomeCount}},
		StageMerge:        {{Path: p.MergedFasta()}},
		StageSearch:       {{Path: p.HitTable(modelsBase)}},
		StageFilter:       {{Path: p.CountsTable(modelsBase)}},
		StageExtract:      hits,
		StageAlign:        aligned,
		StageTrees:        trees,
		StageConcat:       {{Path: p.ConcatAlignment()}},
		StageSpeciesTree:  {{Path: p.FinalTree()}, {Path: p.SpeciesTreeComplete()}},
		StagePostAnalysis: {{Path: p.ITOLCounts(modelsBase)}},
		StageCleanup:      {{Path: p.ArchivePath}},
	}
}

// ProgressScore sums the weights of every complete stage, 0-100. As more
// artifacts appear the score can only grow.
func ProgressScore(sets map[StageID][]Artifact) int {
	score := 0
	for id, weight := range stageWeights {
		if StageComplete(sets[id]) {
			score += weight
		}
	}
	return score
}
