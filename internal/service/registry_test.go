package service

import (
	"errors"
	"testing"

	"github.com/ravel/photoflow/internal/domain"
)

func TestResolveKnownPackages(t *testing.T) {
	r := NewPackageRegistry()
	for _, id := range []string{"basic", "advanced"} {
		specs, err := r.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", id, err)
		}
		if len(specs) == 0 {
			t.Fatalf("package %q is empty", id)
		}
	}
	if got := len(r.Packages()); got != 2 {
		t.Errorf("expected 2 built-in packages, got %d", got)
	}
}

func TestResolveUnknownPackage(t *testing.T) {
	_, err := NewPackageRegistry().Resolve("deluxe")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
}

func TestResolveValidation(t *testing.T) {
	tests := []struct {
		name string
		spec TaskSpec
	}{
		{"empty name", TaskSpec{Kind: KindTags, Stage: domain.StageTagsTasks, SubBatchSize: 1, Checks: []string{"tags.any"}}},
		{"no kind", TaskSpec{Name: "t", Stage: domain.StageTagsTasks, SubBatchSize: 1, Checks: []string{"tags.any"}}},
		{"no checks", TaskSpec{Name: "t", Kind: KindTags, Stage: domain.StageTagsTasks, SubBatchSize: 1}},
		{"no sub-batch size", TaskSpec{Name: "t", Kind: KindTags, Stage: domain.StageTagsTasks, Checks: []string{"tags.any"}}},
		{"batch without sizes", TaskSpec{Name: "t", Kind: KindTags, Stage: domain.StageTagsTasks, UseBatchAPI: true, Checks: []string{"tags.any"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewPackageRegistry()
			r.Register("custom", []TaskSpec{tc.spec})
			if _, err := r.Resolve("custom"); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

func TestResolveRejectsDuplicateTaskNames(t *testing.T) {
	r := NewPackageRegistry()
	spec := TaskSpec{Name: "tags", Kind: KindTags, Stage: domain.StageTagsTasks, SubBatchSize: 2, Checks: []string{"tags.any"}}
	r.Register("custom", []TaskSpec{spec, spec})
	if _, err := r.Resolve("custom"); err == nil {
		t.Error("expected a configuration error for duplicate task names")
	}
}

func TestNewTaskUnknownKind(t *testing.T) {
	_, err := newTask(TaskSpec{Name: "t", Kind: TaskKind("mystery")}, &taskEnv{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
}
