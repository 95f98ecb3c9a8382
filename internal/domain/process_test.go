package domain

import (
	"strings"
	"testing"
)

func TestSheetInitializeIsIdempotent(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision", "tags"}, []string{"p2", "p1"})
	s.MarkCompleted("vision", []string{"p1"})
	s.Initialize([]string{"vision", "tags"}, []string{"p2", "p1"})

	if got := s.PendingFor("vision"); strings.Join(got, ",") != "p1,p2" {
		t.Errorf("re-initialize must reset pending, got %v", got)
	}
	if got := s.CompletedFor("vision"); len(got) != 0 {
		t.Errorf("re-initialize must clear completed, got %v", got)
	}
}

func TestSheetMarkCompletedMovesBetweenSets(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision"}, []string{"p1", "p2", "p3"})
	s.MarkCompleted("vision", []string{"p2"})

	if got := s.PendingFor("vision"); strings.Join(got, ",") != "p1,p3" {
		t.Errorf("pending = %v", got)
	}
	if got := s.CompletedFor("vision"); strings.Join(got, ",") != "p2" {
		t.Errorf("completed = %v", got)
	}
}

func TestSheetMarkCompletedIsIdempotent(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision"}, []string{"p1", "p2"})
	s.MarkCompleted("vision", []string{"p1"})
	s.MarkCompleted("vision", []string{"p1"})
	s.MarkCompleted("vision", []string{"p1", "p2"})

	if got := s.CompletedFor("vision"); strings.Join(got, ",") != "p1,p2" {
		t.Errorf("duplicate completions must not duplicate entries, got %v", got)
	}
	if got := s.PendingFor("vision"); len(got) != 0 {
		t.Errorf("pending = %v", got)
	}
}

func TestSheetSetsStayDisjoint(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision"}, []string{"p1", "p2", "p3"})
	s.MarkCompleted("vision", []string{"p1", "p3"})
	s.MarkCompleted("vision", []string{"p3", "p2"})

	seen := make(map[string]int)
	for _, id := range append(s.PendingFor("vision"), s.CompletedFor("vision")...) {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("photo %s appears %d times across the sets", id, n)
		}
	}
}

func TestSheetUnknownTaskIsNoOp(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision"}, []string{"p1"})
	s.MarkCompleted("ocr", []string{"p1"})

	if _, ok := s["ocr"]; ok {
		t.Error("unknown task must not create a ledger")
	}
	if got := s.PendingFor("vision"); strings.Join(got, ",") != "p1" {
		t.Errorf("other ledgers must be untouched, got %v", got)
	}
}

func TestSheetUnknownPhotoIsNotReAdded(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision"}, []string{"p1"})
	s.MarkCompleted("vision", []string{"p9"})

	// An id never pending still lands in completed exactly once, but
	// pending is untouched.
	if got := s.PendingFor("vision"); strings.Join(got, ",") != "p1" {
		t.Errorf("pending = %v", got)
	}
}

func TestSheetAllCompleted(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision", "tags"}, []string{"p1", "p2"})
	if s.AllCompleted() {
		t.Error("fresh sheet must not be complete")
	}
	s.MarkCompleted("vision", []string{"p1", "p2"})
	if s.AllCompleted() {
		t.Error("one drained ledger is not enough")
	}
	s.MarkCompleted("tags", []string{"p1", "p2"})
	if !s.AllCompleted() {
		t.Error("drained sheet must report complete")
	}

	if !(ProcessSheet{}).AllCompleted() {
		t.Error("empty sheet is vacuously complete")
	}
}

func TestSheetValueScanRoundTrip(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision"}, []string{"p1", "p2"})
	s.MarkCompleted("vision", []string{"p2"})

	v, err := s.Value()
	if err != nil {
		t.Fatal(err)
	}
	var restored ProcessSheet
	if err := restored.Scan(v); err != nil {
		t.Fatal(err)
	}
	if got := restored.PendingFor("vision"); strings.Join(got, ",") != "p1" {
		t.Errorf("pending after round trip = %v", got)
	}
	if got := restored.CompletedFor("vision"); strings.Join(got, ",") != "p2" {
		t.Errorf("completed after round trip = %v", got)
	}
}

func TestSheetRender(t *testing.T) {
	s := ProcessSheet{}
	s.Initialize([]string{"vision"}, []string{"p1", "p2"})
	s.MarkCompleted("vision", []string{"p1"})

	out := s.Render()
	if !strings.Contains(out, "vision (1/2)") {
		t.Errorf("render missing progress header:\n%s", out)
	}
	if !strings.Contains(out, "✅ p1") || !strings.Contains(out, "❌ p2") {
		t.Errorf("render missing per-photo marks:\n%s", out)
	}
}

func TestProcessTerminal(t *testing.T) {
	p := &Process{CurrentStage: StageVisionTasks}
	if p.Terminal() {
		t.Error("running stage is not terminal")
	}
	for _, stage := range []ProcessStage{StageFinished, StageFailed} {
		p.CurrentStage = stage
		if !p.Terminal() {
			t.Errorf("stage %s must be terminal", stage)
		}
	}
}
