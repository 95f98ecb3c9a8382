package service

import (
	"context"
	"strings"
	"testing"

	"github.com/ravel/photoflow/internal/domain"
)

func TestPhotoHealthReportsMissingPieces(t *testing.T) {
	photos := newFakePhotoStore()
	p := photos.addPhoto("p1", "u1", nil)
	p.Descriptions = domain.JSONMap{"context": "a dog in a park", "caption": "dog"}

	checker := NewHealthChecker(photos)
	report, err := checker.PhotoHealth(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}

	if report.OK {
		t.Error("photo without tags or embeddings must not be healthy")
	}
	byLabel := make(map[string]bool)
	for _, c := range report.Checks {
		byLabel[c.Label] = c.OK
	}
	if !byLabel["descriptions.context"] || !byLabel["descriptions.caption"] {
		t.Error("present description fields must pass")
	}
	if byLabel["tags.any"] || byLabel["embedding.visual"] {
		t.Error("absent state must fail its checks")
	}
	for _, label := range report.Missing {
		if byLabel[label] {
			t.Errorf("missing label %s has a passing check", label)
		}
	}
}

func TestPhotoHealthDeletedPhoto(t *testing.T) {
	checker := NewHealthChecker(newFakePhotoStore())
	report, err := checker.PhotoHealth(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Error("deleted photo must be unhealthy")
	}
	if len(report.Missing) != 1 || report.Missing[0] != "photo" {
		t.Errorf("expected the single missing label %q, got %v", "photo", report.Missing)
	}
}

func TestPhotoHealthIndexedChecks(t *testing.T) {
	photos := newFakePhotoStore()
	photos.addPhoto("p1", "u1", nil)
	ctx := context.Background()
	if err := photos.ReplaceTagsForCategory(ctx, "p1", "subjects", []string{"dog", "ball"}); err != nil {
		t.Fatal(err)
	}
	if err := photos.ReplaceChunks(ctx, "p1", []string{"one", "two"}); err != nil {
		t.Fatal(err)
	}

	checker := NewHealthChecker(photos)
	report, err := checker.PhotoHealth(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}

	var tagChecks, chunkChecks int
	for _, c := range report.Checks {
		if strings.HasPrefix(c.Label, "tagPhoto#") {
			tagChecks++
			if c.OK {
				t.Errorf("tag without embedding must fail check %s", c.Label)
			}
		}
		if strings.HasPrefix(c.Label, "descriptionChunk#") {
			chunkChecks++
		}
	}
	if tagChecks != 2 {
		t.Errorf("expected 2 tag embedding checks, got %d", tagChecks)
	}
	if chunkChecks != 2 {
		t.Errorf("expected 2 chunk embedding checks, got %d", chunkChecks)
	}
}

func TestPatternSatisfied(t *testing.T) {
	report := &HealthReport{Checks: []HealthCheck{
		{Label: "tags.any", OK: true},
		{Label: "tagPhoto#0.tag#0.embedding", OK: true},
		{Label: "tagPhoto#1.tag#1.embedding", OK: false},
		{Label: "descriptionChunk#0.embedding", OK: true},
	}}

	tests := []struct {
		pattern string
		want    bool
	}{
		{"tags.any", true},
		{"tagPhoto#*.tag#*.embedding", false},
		{"tagPhoto#0.tag#0.embedding", true},
		{"descriptionChunk#*.embedding", true},
		// No check matches: vacuously satisfied.
		{"embedding.motion", true},
		// The wildcard only spans digits, not dots.
		{"tagPhoto#*.embedding", true},
	}
	for _, tc := range tests {
		if got := PatternSatisfied(report, tc.pattern); got != tc.want {
			t.Errorf("PatternSatisfied(%q) = %v, want %v", tc.pattern, got, tc.want)
		}
	}
}

func TestReconcileProcessSheet(t *testing.T) {
	photos := newFakePhotoStore()
	ctx := context.Background()
	done := photos.addPhoto("p1", "u1", nil)
	done.Descriptions = domain.JSONMap{"context": "a dog", "caption": "dog"}
	photos.addPhoto("p2", "u1", nil)

	proc := &domain.Process{ID: "proc1", Sheet: domain.ProcessSheet{}}
	specs := []TaskSpec{{
		Name: "vision_context", Kind: KindVisionContext, Stage: domain.StageVisionTasks,
		SubBatchSize: 2, Checks: []string{"descriptions.context", "descriptions.caption"},
	}}
	proc.Sheet.Initialize([]string{"vision_context"}, []string{"p1", "p2"})

	checker := NewHealthChecker(photos)
	if err := checker.ReconcileProcessSheet(ctx, proc, specs); err != nil {
		t.Fatal(err)
	}

	completed := proc.Sheet.CompletedFor("vision_context")
	if len(completed) != 1 || completed[0] != "p1" {
		t.Errorf("expected only p1 reconciled, got %v", completed)
	}
	pending := proc.Sheet.PendingFor("vision_context")
	if len(pending) != 1 || pending[0] != "p2" {
		t.Errorf("expected p2 still pending, got %v", pending)
	}
}
