// Package rverrors collects the typed error kinds the core surfaces: a
// small zoo of concrete error structs, each carrying enough context to
// render a single user-facing line without needing internal object
// identities.
package rverrors

import (
	"fmt"
	"strings"
)

// ManifestError signals the project manifest failed to parse.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("failed to parse manifest %s: %s", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// ManifestSemanticError signals a semantically invalid manifest: an
// unknown repository alias, a git dependency not naming exactly one of
// commit/tag/branch, etc.
type ManifestSemanticError struct {
	Package string
	Reason  string
}

func (e *ManifestSemanticError) Error() string {
	return fmt.Sprintf("manifest error for %q: %s", e.Package, e.Reason)
}

// RequirementFailure names a single unmet or conflicting constraint.
type RequirementFailure struct {
	RequiredBy string
	Constraint string
}

// UnresolvedError lists every package the resolver could not satisfy.
type UnresolvedError struct {
	// Name -> first parent that required it and the constraint that failed.
	Failures map[string]RequirementFailure
}

func (e *UnresolvedError) Error() string {
	var b strings.Builder
	b.WriteString("could not resolve all dependencies:\n")
	for name, f := range e.Failures {
		fmt.Fprintf(&b, "  %s: required by %s with constraint %s\n", name, f.RequiredBy, f.Constraint)
	}
	return b.String()
}

// ConflictError lists the conflicting constraints the SAT post-checker
// found for a given package name.
type ConflictError struct {
	Package     string
	Conflicts   []RequirementFailure
	VersionsSeen []string
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s requires %s", c.RequiredBy, c.Constraint))
	}
	return fmt.Sprintf("conflicting requirements for %s: %s (versions seen: %s)",
		e.Package, strings.Join(parts, "; "), strings.Join(e.VersionsSeen, ", "))
}

// CacheError wraps a disk-cache I/O failure.
type CacheError struct {
	Path string
	Err  error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache error at %s: %s", e.Path, e.Err) }
func (e *CacheError) Unwrap() error { return e.Err }

// NetworkError wraps a failed network call.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error fetching %s: %s", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// VCSError wraps a failed source-control sub-command, including its
// captured stderr.
type VCSError struct {
	Op     string
	Repo   string
	Stderr string
	Err    error
}

func (e *VCSError) Error() string {
	return fmt.Sprintf("git %s failed for %s: %s\n%s", e.Op, e.Repo, e.Err, e.Stderr)
}

func (e *VCSError) Unwrap() error { return e.Err }

// InstallError wraps a failed installer invocation.
type InstallError struct {
	Package     string
	Version     string
	BuildLogPath string
	Stderr      string
	Err         error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("failed to install %s %s: %s (see %s)", e.Package, e.Version, e.Err, e.BuildLogPath)
}

func (e *InstallError) Unwrap() error { return e.Err }

// LinkError wraps a failed link operation.
type LinkError struct {
	Package string
	Mode    string
	Err     error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("failed to %s-link %s: %s", e.Mode, e.Package, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// LibraryInUseError signals the library can't be modified because one
// or more processes hold package files open under it. Holders carries
// one line per distinct process, formatted "name (pid): pkg1, pkg2".
type LibraryInUseError struct {
	Packages []string
	Holders  []string
}

func (e *LibraryInUseError) Error() string {
	return fmt.Sprintf("packages loaded in a session, refusing to modify library:\n%s",
		strings.Join(e.Holders, "\n"))
}
