// Package sat implements the CDCL-lite post-checker:
// a SAT-style solver that, given every package version the resolver
// found and every version constraint between them, either confirms a
// single consistent assignment exists or extracts a minimal set of
// conflicting requirements explaining why not.
//
// This is a near-literal port of
// original_source/src/resolver/sat.rs's DependencySolver: variables
// are (name, version) pairs mapped to positive integers, clauses
// encode "at most one version per package" plus, for every recorded
// requirement, "one of the versions satisfying it is selected" (the
// clause does not depend on whether the requiring package is
// selected), and the core loop is iterative DPLL with unit
// propagation, a most-constrained-variable heuristic, and chronological
// backtracking.
package sat

import (
	"github.com/kraklabs/rv/version"
)

// literal is a signed clause literal: positive selects the variable
// true, negative selects it false.
type literal int32

// clause is a disjunction of literals.
type clause []literal

// pkgVersion is a (name, version) pair identifying one SAT variable.
type pkgVersion struct {
	name string
	ver  version.Version
}

// Requirement names a version constraint one package places on
// another package, for error reporting.
type Requirement struct {
	Package     string
	Requirement version.Constraint
	RequiredBy  string
}

// Solver accumulates packages and requirements, then attempts to find
// one consistent version assignment.
type Solver struct {
	packages     map[string][]version.Version
	requirements []Requirement
}

// New returns an empty Solver.
func New() *Solver {
	return &Solver{packages: make(map[string][]version.Version)}
}

// AddPackage registers one observed (name, version) pair. Duplicate
// (name, version) pairs are ignored.
func (s *Solver) AddPackage(name string, v version.Version) {
	for _, existing := range s.packages[name] {
		if existing.Equal(v) {
			return
		}
	}
	s.packages[name] = append(s.packages[name], v)
}

// AddRequirement records that requiredBy depends on package satisfying
// requirement.
func (s *Solver) AddRequirement(pkg string, req version.Constraint, requiredBy string) {
	s.requirements = append(s.requirements, Requirement{Package: pkg, Requirement: req, RequiredBy: requiredBy})
}

func (s *Solver) variableMappings() map[pkgVersion]literal {
	mapping := make(map[pkgVersion]literal)
	var v literal = 1
	for name, versions := range s.packages {
		for _, ver := range versions {
			mapping[pkgVersion{name, ver}] = v
			v++
		}
	}
	return mapping
}

func (s *Solver) createClauses(varOf map[pkgVersion]literal) ([]clause, map[int]int) {
	var clauses []clause
	clauseToReq := make(map[int]int)

	for name, versions := range s.packages {
		sorted := append([]version.Version(nil), versions...)
		sortVersions(sorted)
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				v1, ok1 := varOf[pkgVersion{name, sorted[i]}]
				v2, ok2 := varOf[pkgVersion{name, sorted[j]}]
				if ok1 && ok2 {
					clauses = append(clauses, clause{-v1, -v2})
				}
			}
		}
	}

	for i, req := range s.requirements {
		var satisfying []literal
		for _, ver := range s.packages[req.Package] {
			if req.Requirement.IsSatisfied(ver) {
				if v, ok := varOf[pkgVersion{req.Package, ver}]; ok {
					satisfying = append(satisfying, v)
				}
			}
		}

		if len(satisfying) == 0 {
			clauses = append(clauses, clause{})
			clauseToReq[len(clauses)-1] = i
			continue
		}

		clauses = append(clauses, satisfying)
		clauseToReq[len(clauses)-1] = i
	}

	return clauses, clauseToReq
}

func sortVersions(vs []version.Version) {
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j-1].GreaterThan(vs[j]); j-- {
			vs[j-1], vs[j] = vs[j], vs[j-1]
		}
	}
}

func isSatisfied(formula []clause, assignment map[literal]bool) bool {
	for _, cl := range formula {
		satisfied := false
		for _, lit := range cl {
			v := abs(lit)
			val, ok := assignment[v]
			if !ok {
				continue
			}
			if (lit > 0 && val) || (lit < 0 && !val) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

func abs(l literal) literal {
	if l < 0 {
		return -l
	}
	return l
}

func mostConstrainedVariable(formula []clause, assignment map[literal]bool, numVars int32) literal {
	varCounts := make(map[literal]int)

	for _, cl := range formula {
		clauseSatisfied := false
		for _, lit := range cl {
			v := abs(lit)
			if val, ok := assignment[v]; ok {
				if (lit > 0 && val) || (lit < 0 && !val) {
					clauseSatisfied = true
					break
				}
			}
		}
		if clauseSatisfied {
			continue
		}
		for _, lit := range cl {
			v := abs(lit)
			if _, ok := assignment[v]; !ok {
				varCounts[v]++
			}
		}
	}

	var firstVar, bestVar literal
	maxCount := 0
	for v := literal(1); v <= literal(numVars); v++ {
		if _, ok := assignment[v]; ok {
			continue
		}
		if firstVar == 0 {
			firstVar = v
		}
		if c := varCounts[v]; c > maxCount {
			maxCount = c
			bestVar = v
		}
	}
	if bestVar != 0 {
		return bestVar
	}
	return firstVar
}

// unitPropagate repeatedly finds clauses with exactly one unassigned
// literal and assigns it, until no more units exist or a conflict is
// found (nil, false).
func unitPropagate(formula []clause, assignment map[literal]bool) ([]struct {
	v   literal
	val bool
}, bool) {
	var result []struct {
		v   literal
		val bool
	}
	current := make(map[literal]bool, len(assignment))
	for k, v := range assignment {
		current[k] = v
	}

	changed := true
	for changed {
		changed = false
		for _, cl := range formula {
			if len(cl) == 0 {
				return nil, false
			}

			satisfied := false
			var unassignedLit literal
			unassignedCount := 0

			for _, lit := range cl {
				v := abs(lit)
				if val, ok := current[v]; ok {
					if (lit > 0 && val) || (lit < 0 && !val) {
						satisfied = true
						break
					}
				} else {
					unassignedCount++
					unassignedLit = lit
				}
			}

			if satisfied {
				continue
			}
			if unassignedCount == 0 {
				return nil, false
			}
			if unassignedCount == 1 {
				v := abs(unassignedLit)
				val := unassignedLit > 0
				if existing, ok := current[v]; ok {
					if existing != val {
						return nil, false
					}
					continue
				}
				current[v] = val
				result = append(result, struct {
					v   literal
					val bool
				}{v, val})
				changed = true
			}
		}
	}
	return result, true
}

const maxIterations = 100000

func (s *Solver) solveIterative(formula []clause, numVars int32) map[literal]bool {
	assignment := make(map[literal]bool)
	type decision struct {
		v   literal
		val bool
	}
	var stack []decision

	if units, ok := unitPropagate(formula, assignment); ok {
		for _, u := range units {
			assignment[u.v] = u.val
		}
	} else {
		return map[literal]bool{}
	}

	for iterations := 0; iterations < maxIterations; iterations++ {
		if int32(len(assignment)) == numVars && isSatisfied(formula, assignment) {
			return assignment
		}

		conflict := false
		for _, cl := range formula {
			allFalsified := true
			for _, lit := range cl {
				v := abs(lit)
				val, ok := assignment[v]
				if !ok || !((lit > 0 && !val) || (lit < 0 && val)) {
					allFalsified = false
					break
				}
			}
			if allFalsified {
				conflict = true
				break
			}
		}

		if conflict {
			if len(stack) == 0 {
				return map[literal]bool{}
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			delete(assignment, top.v)

			if top.val {
				assignment[top.v] = false
				stack = append(stack, decision{top.v, false})
				if units, ok := unitPropagate(formula, assignment); ok {
					for _, u := range units {
						assignment[u.v] = u.val
					}
				} else {
					delete(assignment, top.v)
					stack = stack[:len(stack)-1]
					continue
				}
			}
			continue
		}

		nextVar := mostConstrainedVariable(formula, assignment, numVars)
		if nextVar == 0 && int32(len(assignment)) < numVars {
			break
		}

		assignment[nextVar] = true
		stack = append(stack, decision{nextVar, true})

		if units, ok := unitPropagate(formula, assignment); ok {
			for _, u := range units {
				assignment[u.v] = u.val
			}
			continue
		}

		delete(assignment, nextVar)
		stack = stack[:len(stack)-1]

		assignment[nextVar] = false
		stack = append(stack, decision{nextVar, false})

		if units, ok := unitPropagate(formula, assignment); ok {
			for _, u := range units {
				assignment[u.v] = u.val
			}
		} else {
			delete(assignment, nextVar)
			stack = stack[:len(stack)-1]
		}
	}

	return map[literal]bool{}
}

// findMinimalUnsatisfiableSubset removes requirement clauses one at a
// time, keeping the formula unsatisfiable each time, to isolate the
// smallest set of conflicting requirements (a minimal-unsat-subset
// extraction).
func (s *Solver) findMinimalUnsatisfiableSubset(clauses []clause, clauseToReq map[int]int) []Requirement {
	type indexed struct {
		idx int
		cl  clause
	}
	var current []indexed
	for i, cl := range clauses {
		if _, ok := clauseToReq[i]; ok {
			current = append(current, indexed{i, cl})
		}
	}

	numVars := int32(0)
	for _, versions := range s.packages {
		numVars += int32(len(versions))
	}

	i := 0
	for i < len(current) {
		var testClauses []clause
		for j, ic := range current {
			if j != i {
				testClauses = append(testClauses, ic.cl)
			}
		}
		for idx, cl := range clauses {
			if _, ok := clauseToReq[idx]; !ok {
				testClauses = append(testClauses, cl)
			}
		}

		if len(s.solveIterative(testClauses, numVars)) == 0 {
			current = append(current[:i], current[i+1:]...)
		} else {
			i++
		}
	}

	var reqs []Requirement
	for _, ic := range current {
		if reqIdx, ok := clauseToReq[ic.idx]; ok {
			reqs = append(reqs, s.requirements[reqIdx])
		}
	}
	return reqs
}

func (s *Solver) findFailedRequirements(clauses []clause, clauseToReq map[int]int) []Requirement {
	var unsatisfiable []Requirement
	for i, cl := range clauses {
		if len(cl) == 0 {
			if reqIdx, ok := clauseToReq[i]; ok {
				unsatisfiable = append(unsatisfiable, s.requirements[reqIdx])
			}
		}
	}
	if len(unsatisfiable) > 0 {
		return unsatisfiable
	}
	return s.findMinimalUnsatisfiableSubset(clauses, clauseToReq)
}

// Solve attempts to find a single version per package name consistent
// with every recorded requirement. On success it returns the chosen
// version for each package name; on failure it returns the minimal set
// of conflicting requirements.
func (s *Solver) Solve() (map[string]version.Version, []Requirement) {
	varOf := s.variableMappings()
	clauses, clauseToReq := s.createClauses(varOf)

	varToPkgVersion := make(map[literal]pkgVersion, len(varOf))
	for pv, v := range varOf {
		varToPkgVersion[v] = pv
	}

	assignment := s.solveIterative(clauses, int32(len(varToPkgVersion)))

	if len(assignment) == 0 {
		return nil, s.findFailedRequirements(clauses, clauseToReq)
	}

	solution := make(map[string]version.Version)
	for v, selected := range assignment {
		if !selected {
			continue
		}
		if pv, ok := varToPkgVersion[v]; ok {
			solution[pv.name] = pv.ver
		}
	}
	return solution, nil
}
