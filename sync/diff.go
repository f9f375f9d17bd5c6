package sync

import (
	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/source"
)

// LibraryDiff is the result of comparing a resolved dependency set
// against what's actually on disk: which wanted packages are already
// satisfied, which of those can be satisfied by a plain copy instead
// of a full reinstall, and which installed packages are no longer
// wanted (with whether their removal should be reported to the
// caller -- a broken/unreadable entry is swept away silently).
type LibraryDiff struct {
	Seen         map[string]bool
	Copy         map[string]bool
	RemoveNotify map[string]bool
}

// CompareWithLocalLibrary answers three questions: which wanted
// packages are already installed at the source the resolver expects,
// which of those are Local packages that can be satisfied by copying
// rather than rebuilding, and which packages in the library are no
// longer wanted at all. usesLockfile gates Repository-sourced
// packages: when a lockfile is in use, a package already on disk at the
// right version counts as satisfied only if the resolver took it from
// the lockfile; without a lockfile the version match alone is enough.
func CompareWithLocalLibrary(lib *Library, deps []resolver.ResolvedDependency, usesLockfile bool) LibraryDiff {
	diff := LibraryDiff{
		Seen:         make(map[string]bool),
		Copy:         make(map[string]bool),
		RemoveNotify: make(map[string]bool),
	}

	byName := make(map[string]*resolver.ResolvedDependency, len(deps))
	for i := range deps {
		byName[deps[i].Name] = &deps[i]
	}

	preserved := func(name string) bool {
		return pkgmeta.RecommendedPackages[name] || pkgmeta.BasePackages[name]
	}

	for name := range lib.Packages {
		dep, wanted := byName[name]
		if wanted && lib.ContainsPackage(dep) && !dep.Ignored {
			switch dep.Source.Kind {
			case source.KindRepository:
				if !usesLockfile || dep.FromLockfile {
					diff.Seen[name] = true
				}
			case source.KindGit, source.KindUniverse, source.KindURL:
				diff.Seen[name] = true
			case source.KindLocal:
				diff.Copy[name] = true
				diff.Seen[name] = true
			}
			continue
		}

		if preserved(name) {
			continue
		}

		diff.RemoveNotify[name] = true
	}

	for name := range pkgmeta.RecommendedPackages {
		if dep, ok := byName[name]; ok && dep.Source.IsBuiltin() {
			diff.Seen[name] = true
		}
	}
	for name := range pkgmeta.BasePackages {
		if dep, ok := byName[name]; ok && dep.Source.IsBuiltin() {
			diff.Seen[name] = true
		}
	}

	for name := range lib.Broken {
		diff.RemoveNotify[name] = false
	}

	return diff
}

// NeedsSync reports whether installing is required at all: false only
// when every non-ignored package the plan wants is already satisfied.
func NeedsSync(diff LibraryDiff, numToInstall int) bool {
	return len(diff.Seen) != numToInstall
}
