// Package lockfile implements the project lockfile model and its TOML
// round-trip (the lockfile data model and its external
// TOML interface), using github.com/pelletier/go-toml the way the
// teacher's manifest.go/lock.go use encoding/json for the equivalent
// project-state file, generalized to the package's own shape.
package lockfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml"

	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/rverrors"
	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/version"
)

// LockedPackage is one resolved-and-installed package entry.
type LockedPackage struct {
	Name    string          `toml:"Name"`
	Version string          `toml:"Version"`
	Source  lockedSource    `toml:"Source"`
	Depends []string        `toml:"Depends,omitempty"`
	Imports []string        `toml:"Imports,omitempty"`

	SubPath string `toml:"SubPath,omitempty"`

	ForceSource     bool `toml:"ForceSource,omitempty"`
	InstallSuggests bool `toml:"InstallSuggests,omitempty"`

	// Fingerprint is the content SHA or mtime captured at install
	// time, copied from the resolved Source for quick drift checks
	// without having to reconstruct a full Source value.
	Fingerprint string `toml:"Fingerprint,omitempty"`
}

// lockedSource is the TOML-friendly projection of a source.Source: a
// discriminator string plus whichever fields that Kind populates.
type lockedSource struct {
	Kind string `toml:"Kind"`

	RepositoryURL string `toml:"RepositoryURL,omitempty"`

	GitURL         string `toml:"GitURL,omitempty"`
	CommitSHA      string `toml:"CommitSHA,omitempty"`
	GitSubPath     string `toml:"GitSubPath,omitempty"`
	OriginalTag    string `toml:"OriginalTag,omitempty"`
	OriginalBranch string `toml:"OriginalBranch,omitempty"`
	UniverseRepoURL string `toml:"UniverseRepoURL,omitempty"`

	ArchiveURL string `toml:"ArchiveURL,omitempty"`
	ContentSHA string `toml:"ContentSHA,omitempty"`

	LocalPath  string `toml:"LocalPath,omitempty"`
	LocalSHA   string `toml:"LocalSHA,omitempty"`
	LocalMtime int64  `toml:"LocalMtime,omitempty"`
	IsLocalDir bool   `toml:"IsLocalDir,omitempty"`
}

func toLockedSource(s source.Source) lockedSource {
	return lockedSource{
		Kind:            s.Kind.String(),
		RepositoryURL:   s.RepositoryURL,
		GitURL:          s.GitURL,
		CommitSHA:       s.CommitSHA,
		GitSubPath:      s.GitSubPath,
		OriginalTag:     s.OriginalTag,
		OriginalBranch:  s.OriginalBranch,
		UniverseRepoURL: s.UniverseRepoURL,
		ArchiveURL:      s.ArchiveURL,
		ContentSHA:      s.ContentSHA,
		LocalPath:       s.LocalPath,
		LocalSHA:        s.LocalSHA,
		LocalMtime:      s.LocalMtime,
		IsLocalDir:      s.IsLocalDir,
	}
}

func (ls lockedSource) toSource() (source.Source, error) {
	switch ls.Kind {
	case "repository":
		return source.Repository(ls.RepositoryURL), nil
	case "git":
		return source.Git(ls.GitURL, ls.CommitSHA, ls.GitSubPath, ls.OriginalTag, ls.OriginalBranch), nil
	case "universe":
		return source.Universe(ls.UniverseRepoURL, ls.GitURL, ls.CommitSHA, ls.GitSubPath), nil
	case "url":
		return source.URL(ls.ArchiveURL, ls.ContentSHA), nil
	case "local":
		if ls.IsLocalDir {
			return source.LocalDir(ls.LocalPath, ls.LocalMtime), nil
		}
		return source.LocalTarball(ls.LocalPath, ls.LocalSHA), nil
	case "builtin":
		return source.Builtin(), nil
	default:
		return source.Source{}, fmt.Errorf("unrecognized locked source kind %q", ls.Kind)
	}
}

// Lockfile is the on-disk locked-dependency record for a project.
type Lockfile struct {
	RuntimeVersion string          `toml:"RuntimeVersion"`
	Packages       []LockedPackage `toml:"Packages"`
}

// New builds an empty Lockfile pinned to the given runtime version.
func New(runtimeVersion version.Version) *Lockfile {
	return &Lockfile{RuntimeVersion: runtimeVersion.String()}
}

// Load reads and parses a lockfile from path.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &rverrors.ManifestError{Path: path, Err: err}
	}
	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, &rverrors.ManifestError{Path: path, Err: err}
	}
	return &lf, nil
}

// Save writes lf to path in alphabetical-by-name order, for
// diff-friendly lockfiles across syncs.
func (lf *Lockfile) Save(path string) error {
	sort.Slice(lf.Packages, func(i, j int) bool {
		return lf.Packages[i].Name < lf.Packages[j].Name
	})

	data, err := toml.Marshal(*lf)
	if err != nil {
		return &rverrors.ManifestError{Path: path, Err: err}
	}
	return os.WriteFile(path, data, 0o644)
}

// Find returns the locked entry for name, if any.
func (lf *Lockfile) Find(name string) (LockedPackage, bool) {
	for _, p := range lf.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return LockedPackage{}, false
}

// Upsert inserts or replaces the locked entry for pkg.Name.
func (lf *Lockfile) Upsert(pkg LockedPackage) {
	for i, p := range lf.Packages {
		if p.Name == pkg.Name {
			lf.Packages[i] = pkg
			return
		}
	}
	lf.Packages = append(lf.Packages, pkg)
}

// Remove deletes the locked entry for name, if present.
func (lf *Lockfile) Remove(name string) {
	for i, p := range lf.Packages {
		if p.Name == name {
			lf.Packages = append(lf.Packages[:i], lf.Packages[i+1:]...)
			return
		}
	}
}

// FromResolved builds a LockedPackage entry from a resolved package
// record, its chosen source, and the install-time flags.
func FromResolved(pkg pkgmeta.Package, src source.Source, forceSource, installSuggests bool) LockedPackage {
	deps := make([]string, 0, len(pkg.Depends))
	for _, d := range pkg.Depends {
		deps = append(deps, d.Name)
	}
	imports := make([]string, 0, len(pkg.Imports))
	for _, d := range pkg.Imports {
		imports = append(imports, d.Name)
	}

	return LockedPackage{
		Name:            pkg.Name,
		Version:         pkg.Version.String(),
		Source:          toLockedSource(src),
		Depends:         deps,
		Imports:         imports,
		SubPath:         pkg.Path,
		ForceSource:     forceSource,
		InstallSuggests: installSuggests,
		Fingerprint:     src.Fingerprint(),
	}
}

// ResolvedSource reconstructs the source.Source this entry was locked
// against.
func (lp LockedPackage) ResolvedSource() (source.Source, error) {
	return lp.Source.toSource()
}

// ResolvedVersion parses the entry's recorded version string.
func (lp LockedPackage) ResolvedVersion() (version.Version, error) {
	return version.Parse(lp.Version)
}
