package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/logger"
)

// HealthCheck is one named boolean predicate over a photo's persisted state.
type HealthCheck struct {
	Label string `json:"label"`
	OK    bool   `json:"ok"`
}

// HealthReport is the ordered check list for a single photo. Missing lists
// the labels of failing checks; a deleted photo yields the single failing
// label "photo".
type HealthReport struct {
	PhotoID string        `json:"photo_id"`
	OK      bool          `json:"ok"`
	Checks  []HealthCheck `json:"checks"`
	Missing []string      `json:"missing"`
}

// HealthChecker evaluates photo completeness from persisted state only. It
// drives retry targeting and sheet reconciliation.
type HealthChecker struct {
	photos PhotoStore
}

func NewHealthChecker(photos PhotoStore) *HealthChecker {
	return &HealthChecker{photos: photos}
}

// PhotoHealth loads the photo with its associated records and evaluates
// every check. A photo that no longer exists is reported as unhealthy, not
// as an error, so callers can treat deletion as "needs nothing".
func (h *HealthChecker) PhotoHealth(ctx context.Context, photoID string) (*HealthReport, error) {
	detail, err := h.photos.GetDetail(ctx, photoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &HealthReport{
				PhotoID: photoID,
				Checks:  []HealthCheck{{Label: "photo", OK: false}},
				Missing: []string{"photo"},
			}, nil
		}
		return nil, err
	}

	checks := evaluateChecks(detail)
	report := &HealthReport{PhotoID: photoID, OK: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			report.OK = false
			report.Missing = append(report.Missing, c.Label)
		}
	}
	return report, nil
}

// evaluateChecks builds the check list in a fixed order so reports are
// stable across runs.
func evaluateChecks(d *domain.PhotoDetail) []HealthCheck {
	desc := d.Photo.Descriptions
	checks := []HealthCheck{
		{Label: "descriptions.context", OK: nonEmptyString(desc["context"])},
		{Label: "descriptions.caption", OK: nonEmptyString(desc["caption"])},
		{Label: "descriptions.visual_aspects", OK: nonEmptyDoc(desc["visual_aspects"])},
		{Label: "descriptions.topology", OK: nonEmptyDoc(desc["topology"])},
		{Label: "descriptions.metadata", OK: nonEmptyDoc(desc["metadata"])},
		{Label: "embedding.visual", OK: d.Photo.VisualPointID != ""},
		{Label: "embedding.color", OK: d.Photo.ColorPointID != ""},
		{Label: "tags.any", OK: len(d.TagPhotos) > 0},
		{Label: "detections.any", OK: len(d.Detections) > 0},
		{Label: "descriptionChunks.any", OK: len(d.Chunks) > 0},
	}
	for i, tp := range d.TagPhotos {
		tag, ok := d.Tags[tp.TagID]
		checks = append(checks, HealthCheck{
			Label: fmt.Sprintf("tagPhoto#%d.tag#%d.embedding", i, i),
			OK:    ok && tag.EmbedPointID != "",
		})
	}
	for i, chunk := range d.Chunks {
		checks = append(checks, HealthCheck{
			Label: fmt.Sprintf("descriptionChunk#%d.embedding", i),
			OK:    chunk.EmbedPointID != "",
		})
	}
	return checks
}

func nonEmptyString(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func nonEmptyDoc(v interface{}) bool {
	switch t := v.(type) {
	case map[string]interface{}:
		return len(t) > 0
	case domain.JSONMap:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return false
	}
}

// PatternSatisfied reports whether every check whose label matches the
// pattern passed. Patterns use "#*" as a wildcard over numeric indices
// ("tagPhoto#*.tag#*.embedding"). A pattern matching no checks is
// satisfied.
func PatternSatisfied(report *HealthReport, pattern string) bool {
	re := compileCheckPattern(pattern)
	for _, c := range report.Checks {
		if re.MatchString(c.Label) && !c.OK {
			return false
		}
	}
	return true
}

// ChecksSatisfied reports whether all patterns hold for the report.
func ChecksSatisfied(report *HealthReport, patterns []string) bool {
	for _, p := range patterns {
		if !PatternSatisfied(report, p) {
			return false
		}
	}
	return true
}

func compileCheckPattern(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(pattern)
	expr := "^" + strings.ReplaceAll(quoted, `#\*`, `#\d+`) + "$"
	return regexp.MustCompile(expr)
}

// ReconcileProcessSheet marks as completed every sheet entry whose photo
// already satisfies the task's checks, without invoking any task. Used when
// a run crashed after persisting results but before updating its sheet.
func (h *HealthChecker) ReconcileProcessSheet(ctx context.Context, proc *domain.Process, specs []TaskSpec) error {
	reports := make(map[string]*HealthReport)
	for _, spec := range specs {
		pending := proc.Sheet.PendingFor(spec.Name)
		var done []string
		for _, photoID := range pending {
			report, ok := reports[photoID]
			if !ok {
				var err error
				report, err = h.PhotoHealth(ctx, photoID)
				if err != nil {
					return err
				}
				reports[photoID] = report
			}
			if ChecksSatisfied(report, spec.Checks) {
				done = append(done, photoID)
			}
		}
		if len(done) > 0 {
			proc.Sheet.MarkCompleted(spec.Name, done)
			logger.With(logger.Fields{
				logger.FieldProcessID: proc.ID,
				logger.FieldTask:      spec.Name,
				logger.FieldCount:     len(done),
			}).Info(ctx, "Reconciled sheet entries from photo health")
		}
	}
	return nil
}
