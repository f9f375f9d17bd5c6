// Package buildplan tracks which resolved dependencies are ready to
// install, currently installing, or already installed, and hands out
// the next installable package as dependencies complete. Grounded on
// original_source/src/sync/build_plan.rs's BuildPlan/BuildStep.
package buildplan

import (
	"github.com/kraklabs/rv/resolver"
)

// StepKind discriminates the three things Get can return.
type StepKind int

const (
	StepInstall StepKind = iota
	StepWait
	StepDone
)

// Step is the result of asking the plan what to do next.
type Step struct {
	Kind StepKind
	Dep  *resolver.ResolvedDependency // only meaningful when Kind == StepInstall
}

// Plan walks a resolved dependency set in topological order, handing
// out one package at a time as its own dependencies finish installing.
// Not safe for concurrent use without external synchronization; the
// sync orchestrator serializes Get/MarkInstalled calls under its own
// lock.
type Plan struct {
	deps       []resolver.ResolvedDependency
	byName     map[string]*resolver.ResolvedDependency
	installed  map[string]bool
	installing map[string]bool
	fullDeps   map[string]map[string]bool
}

// New builds a Plan over deps, expanding each non-ignored dependency's
// full transitive dependency set up front.
func New(deps []resolver.ResolvedDependency) *Plan {
	byName := make(map[string]*resolver.ResolvedDependency, len(deps))
	for i := range deps {
		byName[deps[i].Name] = &deps[i]
	}

	fullDeps := make(map[string]map[string]bool)
	for i := range deps {
		dep := &deps[i]
		if dep.Ignored {
			continue
		}

		all := make(map[string]bool)
		var queue []string
		queue = append(queue, dep.AllDependencyNames()...)
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			if all[name] {
				continue
			}
			all[name] = true
			if d, ok := byName[name]; ok {
				for _, childName := range d.AllDependencyNames() {
					if !all[childName] {
						queue = append(queue, childName)
					}
				}
			}
		}

		fullDeps[dep.Name] = all
	}

	return &Plan{
		deps:       deps,
		byName:     byName,
		installed:  make(map[string]bool),
		installing: make(map[string]bool),
		fullDeps:   fullDeps,
	}
}

// MarkInstalled records name as installed, removing it from every
// other package's remaining-dependency set.
func (p *Plan) MarkInstalled(name string) {
	p.installed[name] = true
	delete(p.installing, name)
	for _, remaining := range p.fullDeps {
		delete(remaining, name)
	}
}

func (p *Plan) isSkippable(name string) bool {
	return p.installed[name] || p.installing[name]
}

func (p *Plan) activeDeps() []*resolver.ResolvedDependency {
	var out []*resolver.ResolvedDependency
	for i := range p.deps {
		if !p.deps[i].Ignored {
			out = append(out, &p.deps[i])
		}
	}
	return out
}

func (p *Plan) isDone() bool {
	return len(p.installed) == len(p.activeDeps())
}

// NumToInstall returns how many non-ignored packages remain to be
// installed.
func (p *Plan) NumToInstall() int {
	return len(p.activeDeps()) - len(p.installed)
}

// Get returns the next build step: a package whose dependencies are
// all satisfied, Wait if nothing is currently installable, or Done
// once every non-ignored package has been marked installed.
func (p *Plan) Get() Step {
	if p.isDone() {
		return Step{Kind: StepDone}
	}

	for name, remaining := range p.fullDeps {
		if len(remaining) != 0 {
			continue
		}
		if p.isSkippable(name) {
			continue
		}
		p.installing[name] = true
		return Step{Kind: StepInstall, Dep: p.byName[name]}
	}

	return Step{Kind: StepWait}
}
