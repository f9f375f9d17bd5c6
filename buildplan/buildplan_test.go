package buildplan

import (
	"testing"

	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/version"
)

func dep(name string, dependsOn ...string) resolver.ResolvedDependency {
	depends := make([]pkgmeta.Dependency, 0, len(dependsOn))
	for _, d := range dependsOn {
		depends = append(depends, pkgmeta.Dependency{Name: d})
	}
	return resolver.ResolvedDependency{
		Name:    name,
		Version: version.MustParse("0.1.0"),
		Source:  source.Repository("https://something.com"),
		Depends: depends,
	}
}

func TestCanGetInstallPlan(t *testing.T) {
	deps := []resolver.ResolvedDependency{
		dep("C", "E"),
		dep("D", "F"),
		dep("E"),
		dep("F"),
		dep("A", "C", "D"),
		dep("G", "A", "F"),
		dep("J"),
	}

	// we would normally expect: (E, F, J) -> (C, D) -> (A) -> (G)
	// but J is pretending to be slow; the rest installs around it.
	plan := New(deps)
	plan.installing["J"] = true

	first := plan.Get()
	second := plan.Get()
	gotNames := map[string]bool{nameOf(first): true, nameOf(second): true}
	if !gotNames["E"] || !gotNames["F"] {
		t.Fatalf("expected E and F to be offered next, got %v", gotNames)
	}
	if len(plan.installing) != 3 || !plan.installing["J"] || !plan.installing["E"] || !plan.installing["F"] {
		t.Fatalf("expected J, E, F installing, got %v", plan.installing)
	}

	if s := plan.Get(); s.Kind != StepWait {
		t.Fatalf("expected Wait, got %+v", s)
	}
	if s := plan.Get(); s.Kind != StepWait {
		t.Fatalf("expected Wait, got %+v", s)
	}

	plan.MarkInstalled("E")
	if s := plan.Get(); s.Kind != StepInstall || s.Dep.Name != "C" {
		t.Fatalf("expected to install C, got %+v", s)
	}
	if s := plan.Get(); s.Kind != StepWait {
		t.Fatalf("expected Wait, got %+v", s)
	}

	plan.MarkInstalled("F")
	if s := plan.Get(); s.Kind != StepInstall || s.Dep.Name != "D" {
		t.Fatalf("expected to install D, got %+v", s)
	}

	plan.MarkInstalled("C")
	plan.MarkInstalled("D")
	if s := plan.Get(); s.Kind != StepInstall || s.Dep.Name != "A" {
		t.Fatalf("expected to install A, got %+v", s)
	}
	plan.MarkInstalled("A")

	if s := plan.Get(); s.Kind != StepInstall || s.Dep.Name != "G" {
		t.Fatalf("expected to install G, got %+v", s)
	}
	plan.MarkInstalled("G")

	if s := plan.Get(); s.Kind != StepWait {
		t.Fatalf("expected Wait with only J left installing, got %+v", s)
	}

	plan.MarkInstalled("J")
	if s := plan.Get(); s.Kind != StepDone {
		t.Fatalf("expected Done, got %+v", s)
	}
	if s := plan.Get(); s.Kind != StepDone {
		t.Fatalf("expected Done to be stable, got %+v", s)
	}
}

func nameOf(s Step) string {
	if s.Dep == nil {
		return ""
	}
	return s.Dep.Name
}
