// Package pkgmeta implements the package record and dependency model
// of a package record plus the key/value
// index-file parser, grounded on
// original_source/src/package/{mod,parser}.rs and shaped after the
// teacher's pkgtree declarative-field-table parsing style.
package pkgmeta

import (
	"github.com/kraklabs/rv/version"
)

// Role is a dependency's installation role.
type Role int

const (
	RoleRequired Role = iota
	RoleLinking
	RoleSuggested
	RoleEnhancing
)

// Dependency is either a bare name or a name plus a version
// constraint.
type Dependency struct {
	Name       string
	Constraint *version.Constraint // nil for a bare-name dependency
}

// HasConstraint reports whether d carries a version constraint.
func (d Dependency) HasConstraint() bool { return d.Constraint != nil }

// RemoteOverride redirects resolution of a listed dependency to a
// source-control URL.
type RemoteOverride struct {
	PackageName string // empty if the remote spec didn't name one explicitly
	GitURL      string
	Ref         string // branch, tag, or commit-ish, as written in the Remotes field
	SubPath     string
}

// Package is a package record as read from a repository index or a
// per-package metadata file.
type Package struct {
	Name    string
	Version version.Version

	// RuntimeRequirement is the package's own minimum-runtime-version
	// constraint (the runtime-version requirement).
	RuntimeRequirement *version.Constraint

	Depends   []Dependency // role: required
	Imports   []Dependency // role: required (imports are also "required" for installation purposes)
	LinkingTo []Dependency // role: linking
	Suggests  []Dependency // role: suggested
	Enhances  []Dependency // role: enhancing

	License          string
	MD5Sum           string
	Path             string // optional repository sub-path
	Recommended      bool
	NeedsCompilation bool
	Built            *string // non-nil => pre-compiled artifact marker present

	Remotes map[string]RemoteOverride

	// Universe-only fields (r-universe's package API shape).
	RemoteURL    string
	RemoteSHA    string
	RemoteSubdir string
}

// WorksWithRuntimeVersion reports whether the package's own
// RuntimeRequirement (if any) admits the given runtime version.
func (p Package) WorksWithRuntimeVersion(v version.Version) bool {
	if p.RuntimeRequirement == nil {
		return true
	}
	return p.RuntimeRequirement.IsSatisfied(v)
}

// DependenciesForRole returns the dependency list for a given role.
func (p Package) DependenciesForRole(role Role) []Dependency {
	switch role {
	case RoleRequired:
		all := make([]Dependency, 0, len(p.Depends)+len(p.Imports))
		all = append(all, p.Depends...)
		all = append(all, p.Imports...)
		return all
	case RoleLinking:
		return p.LinkingTo
	case RoleSuggested:
		return p.Suggests
	case RoleEnhancing:
		return p.Enhances
	default:
		return nil
	}
}

// InstallationDependencies returns the direct dependencies that are
// installed by default: required + linking, plus suggested iff
// installSuggested is true.
func (p Package) InstallationDependencies(installSuggested bool) []Dependency {
	deps := p.DependenciesForRole(RoleRequired)
	deps = append(deps, p.DependenciesForRole(RoleLinking)...)
	if installSuggested {
		deps = append(deps, p.DependenciesForRole(RoleSuggested)...)
	}
	return deps
}

// RecommendedPackages are versioned separately from the runtime but
// ship with every distribution and some carry version requirements
// against it; they are exempt from removal during a library diff.
var RecommendedPackages = map[string]bool{
	"boot": true, "class": true, "cluster": true, "codetools": true,
	"foreign": true, "KernSmooth": true, "lattice": true, "MASS": true,
	"Matrix": true, "mgcv": true, "nlme": true, "nnet": true,
	"rpart": true, "spatial": true, "survival": true,
}

// BasePackages ship as part of the runtime itself and always carry its
// exact version; like RecommendedPackages they are exempt from removal
// during a library diff and are never fetched from a repository.
var BasePackages = map[string]bool{
	"base": true, "compiler": true, "datasets": true, "grDevices": true,
	"graphics": true, "grid": true, "methods": true, "parallel": true,
	"splines": true, "stats": true, "stats4": true, "tcltk": true,
	"tools": true, "utils": true,
}
