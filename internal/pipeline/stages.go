package pipeline

import (
	"context"

	"photo-indexer/internal/analysis"
	"photo-indexer/internal/enrich"
	"photo-indexer/internal/geocode"
	"photo-indexer/internal/indexer"
)

// Stage names in execution order.
const (
	StageDiscovery          = "discovery"
	StageReferenceImport    = "reference_import"
	StageMetadataEnrichment = "metadata_enrichment"
	StageContentAnalysis    = "content_analysis"
	StageFaceAnalysis       = "face_analysis"
)

// Kind selects which stages a run executes.
type Kind string

const (
	LibraryScan Kind = "library_scan"
	FullScan    Kind = "full_scan"
)

// Stages returns the stage names a kind runs, in order.
func (k Kind) Stages() []string {
	switch k {
	case LibraryScan:
		return []string{StageDiscovery, StageMetadataEnrichment}
	case FullScan:
		return []string{StageDiscovery, StageReferenceImport, StageMetadataEnrichment, StageContentAnalysis, StageFaceAnalysis}
	}
	return nil
}

// Stage is one step of a pipeline run. Run reports non-decreasing
// percentages and checks ctx between batches.
type Stage interface {
	Name() string
	Label() string
	Run(ctx context.Context, report func(percent int)) error
}

type funcStage struct {
	name, label string
	run         func(ctx context.Context, report func(int)) error
}

func (s funcStage) Name() string  { return s.name }
func (s funcStage) Label() string { return s.label }

func (s funcStage) Run(ctx context.Context, report func(int)) error {
	return s.run(ctx, report)
}

// NewStage adapts a function into a Stage.
func NewStage(name, label string, run func(ctx context.Context, report func(int)) error) Stage {
	return funcStage{name: name, label: label, run: run}
}

// DiscoveryStage reconciles the index with the photo source.
func DiscoveryStage(r *indexer.Reconciler) Stage {
	return NewStage(StageDiscovery, "Scanning library", func(ctx context.Context, report func(int)) error {
		_, err := r.Run(ctx, report)
		return err
	})
}

// ReferenceImportStage loads the city dataset when it is not yet present.
func ReferenceImportStage(im *geocode.Importer) Stage {
	return NewStage(StageReferenceImport, "Importing cities", im.Run)
}

// EnrichmentStage extracts metadata for newly discovered photos.
func EnrichmentStage(e *enrich.Enricher) Stage {
	return NewStage(StageMetadataEnrichment, "Reading metadata", func(ctx context.Context, report func(int)) error {
		_, err := e.Run(ctx, report)
		return err
	})
}

// ContentStage runs content analysis.
func ContentStage(c *analysis.Content) Stage {
	return NewStage(StageContentAnalysis, "Analyzing content", c.Run)
}

// FaceStage runs face detection.
func FaceStage(f *analysis.Faces) Stage {
	return NewStage(StageFaceAnalysis, "Detecting faces", f.Run)
}
