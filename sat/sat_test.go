package sat

import (
	"testing"

	"github.com/kraklabs/rv/version"
)

func mustConstraint(t *testing.T, s string) version.Constraint {
	t.Helper()
	c, err := version.ParseConstraint(s)
	if err != nil {
		t.Fatalf("parsing constraint %q: %v", s, err)
	}
	return c
}

func TestNoVersionReqOK(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("B", version.MustParse("1.1.0"))

	result, failed := s.Solve()
	if failed != nil {
		t.Fatalf("expected a solution, got failed requirements: %+v", failed)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 packages selected, got %d: %+v", len(result), result)
	}
}

func TestSamePkgDiffVersionNoReq(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("A", version.MustParse("1.1.0"))

	result, failed := s.Solve()
	if failed != nil {
		t.Fatalf("expected a solution, got failed requirements: %+v", failed)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 package selected, got %d: %+v", len(result), result)
	}
	if result["A"].String() != "1.0.0" {
		t.Fatalf("expected A=1.0.0, got %s", result["A"])
	}
}

func TestSamePkgSameVersionOK(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("A", version.MustParse("1.0.0"))

	result, failed := s.Solve()
	if failed != nil {
		t.Fatalf("expected a solution, got failed requirements: %+v", failed)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 package selected, got %d", len(result))
	}
	if result["A"].String() != "1.0.0" {
		t.Fatalf("expected A=1.0.0, got %s", result["A"])
	}
}

func TestVersionReqOK(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("A", version.MustParse("2.0.0"))
	s.AddPackage("B", version.MustParse("1.1.0"))
	s.AddRequirement("A", mustConstraint(t, "(>= 2.0.0)"), "B")

	result, failed := s.Solve()
	if failed != nil {
		t.Fatalf("expected a solution, got failed requirements: %+v", failed)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 packages selected, got %d: %+v", len(result), result)
	}
	if result["A"].String() != "2.0.0" {
		t.Fatalf("expected A=2.0.0, got %s", result["A"])
	}
}

func TestVersionReqError(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("B", version.MustParse("1.1.0"))
	s.AddRequirement("A", mustConstraint(t, "(>= 2.0.0)"), "B")

	_, failed := s.Solve()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed requirement, got %d: %+v", len(failed), failed)
	}
	if failed[0].Package != "A" {
		t.Fatalf("expected failed requirement on A, got %s", failed[0].Package)
	}
	if failed[0].Requirement.String() != "(>= 2.0.0)" {
		t.Fatalf("expected requirement (>= 2.0.0), got %s", failed[0].Requirement)
	}
	if failed[0].RequiredBy != "B" {
		t.Fatalf("expected required_by B, got %s", failed[0].RequiredBy)
	}
}

func TestVersionReqConflict(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("2.5.0"))
	s.AddPackage("B", version.MustParse("1.1.0"))
	s.AddPackage("C", version.MustParse("1.1.0"))
	s.AddRequirement("A", mustConstraint(t, "(> 3.0.0)"), "B")
	s.AddRequirement("A", mustConstraint(t, "(< 2.0.0)"), "C")

	_, failed := s.Solve()
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed requirements, got %d: %+v", len(failed), failed)
	}
}

func TestMultipleVersionReqConflict(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("2.0.0"))
	s.AddPackage("B", version.MustParse("1.1.0"))
	s.AddPackage("C", version.MustParse("1.1.0"))
	s.AddPackage("D", version.MustParse("3.1.0"))
	s.AddRequirement("A", mustConstraint(t, "(> 2.0.0)"), "B")
	s.AddRequirement("A", mustConstraint(t, "(< 2.0.0)"), "C")
	s.AddRequirement("D", mustConstraint(t, "(>= 3.1.0)"), "B")
	s.AddRequirement("D", mustConstraint(t, "(< 3.1.0)"), "C")

	_, failed := s.Solve()
	if len(failed) != 3 {
		t.Fatalf("expected 3 failed requirements, got %d: %+v", len(failed), failed)
	}
}

func TestMultipleSatisfiedVersionConflict(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("A", version.MustParse("2.0.0"))
	s.AddPackage("C", version.MustParse("1.1.0"))
	s.AddPackage("D", version.MustParse("1.1.0"))
	s.AddRequirement("A", mustConstraint(t, "(== 2.0.0)"), "B")
	s.AddRequirement("A", mustConstraint(t, "(== 1.0.0)"), "C")

	_, failed := s.Solve()
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed requirements, got %d: %+v", len(failed), failed)
	}
	if failed[0].Package != "A" || failed[1].Package != "A" {
		t.Fatalf("expected both failed requirements on A, got %+v", failed)
	}
}

func TestDeepDependencyChain(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("A", version.MustParse("2.0.0"))
	s.AddPackage("B", version.MustParse("1.0.0"))
	s.AddPackage("C", version.MustParse("1.0.0"))
	s.AddPackage("D", version.MustParse("1.0.0"))
	s.AddPackage("E", version.MustParse("1.0.0"))

	s.AddRequirement("A", mustConstraint(t, "(>= 2.0.0)"), "B")
	s.AddRequirement("B", mustConstraint(t, "(>= 1.0.0)"), "C")
	s.AddRequirement("C", mustConstraint(t, "(>= 1.0.0)"), "D")
	s.AddRequirement("D", mustConstraint(t, "(>= 1.0.0)"), "E")

	result, failed := s.Solve()
	if failed != nil {
		t.Fatalf("expected a solution, got failed requirements: %+v", failed)
	}
	if len(result) != 5 {
		t.Fatalf("expected 5 packages selected, got %d: %+v", len(result), result)
	}
	if result["A"].String() != "2.0.0" {
		t.Fatalf("expected A=2.0.0, got %s", result["A"])
	}
}

func TestDiamondDependency(t *testing.T) {
	s := New()
	s.AddPackage("A", version.MustParse("1.0.0"))
	s.AddPackage("B", version.MustParse("1.0.0"))
	s.AddPackage("C", version.MustParse("1.0.0"))
	s.AddPackage("D", version.MustParse("1.0.0"))
	s.AddPackage("D", version.MustParse("2.0.0"))

	s.AddRequirement("B", mustConstraint(t, "(>= 1.0.0)"), "A")
	s.AddRequirement("C", mustConstraint(t, "(>= 1.0.0)"), "A")
	s.AddRequirement("D", mustConstraint(t, "(>= 2.0.0)"), "B")
	s.AddRequirement("D", mustConstraint(t, "(>= 1.0.0)"), "C")

	result, failed := s.Solve()
	if failed != nil {
		t.Fatalf("expected a solution, got failed requirements: %+v", failed)
	}
	if len(result) != 4 {
		t.Fatalf("expected 4 packages selected, got %d: %+v", len(result), result)
	}
	if result["D"].String() != "2.0.0" {
		t.Fatalf("expected D=2.0.0, got %s", result["D"])
	}
}
