package sync

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/rvfs"
	"github.com/kraklabs/rv/source"
)

const (
	libraryMetadataFilename = ".rv.metadata"
	descriptionFilename     = "DESCRIPTION"
	stagingDirName          = "__rv__staging"
)

// DefaultStagingPath is where a Syncer built against libraryPath
// should stage installs before they're promoted, kept alongside the
// library itself so the final promotion is a same-filesystem rename.
func DefaultStagingPath(libraryPath string) string {
	return filepath.Join(libraryPath, stagingDirName)
}

// LocalMetadata records what a non-repository package was built from,
// so a later sync can tell whether its source changed: the recursive
// mtime for a local directory, or a content SHA for everything else
// (git, universe, url, local tarball).
type LocalMetadata struct {
	Mtime int64  `json:"mtime,omitempty"`
	SHA   string `json:"sha,omitempty"`
}

func loadLocalMetadata(packageDir string) (LocalMetadata, bool) {
	data, err := os.ReadFile(filepath.Join(packageDir, libraryMetadataFilename))
	if err != nil {
		return LocalMetadata{}, false
	}
	var m LocalMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return LocalMetadata{}, false
	}
	return m, true
}

// WriteLocalMetadata persists m for packageDir, called after a
// non-repository package finishes installing into staging.
func WriteLocalMetadata(packageDir string, m LocalMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(packageDir, libraryMetadataFilename), data, 0o644)
}

// Library is the observed state of a project's installed-package
// directory: which packages are there, at what version, what
// non-repository packages were fingerprinted with, and which entries
// are broken (a folder exists but its DESCRIPTION can't be read,
// almost always a link that outlived its cache target).
type Library struct {
	Path            string
	Packages        map[string]string // name -> version string
	NonRepoPackages map[string]LocalMetadata
	Broken          map[string]bool
	Custom          bool
}

// NewLibrary returns an empty Library rooted at path. Call Scan to
// populate it from disk.
func NewLibrary(path string, custom bool) *Library {
	return &Library{
		Path:            path,
		Packages:        make(map[string]string),
		NonRepoPackages: make(map[string]LocalMetadata),
		Broken:          make(map[string]bool),
		Custom:          custom,
	}
}

// Scan reads the library directory's current content. A custom
// (user-pointed) library is left untouched: rv has no business
// second-guessing what's in a directory it doesn't own the layout of.
func (l *Library) Scan() error {
	if l.Custom {
		return nil
	}

	isDir, err := rvfs.IsDir(l.Path)
	if err != nil || !isDir {
		return nil
	}

	l.Packages = make(map[string]string)
	l.NonRepoPackages = make(map[string]LocalMetadata)
	l.Broken = make(map[string]bool)

	entries, err := os.ReadDir(l.Path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == stagingDirName {
			continue
		}
		path := filepath.Join(l.Path, name)

		descPath := filepath.Join(path, descriptionFilename)
		if ok, _ := rvfs.IsRegular(descPath); !ok {
			l.Broken[name] = true
			continue
		}

		if m, ok := loadLocalMetadata(path); ok {
			l.NonRepoPackages[name] = m
		}

		v, err := pkgmeta.ParseDescriptionFile(descPath)
		if err != nil {
			l.Broken[name] = true
			continue
		}
		l.Packages[name] = v.String()
	}

	return nil
}

// ContainsPackage reports whether dep is already present in the
// library at the exact version/fingerprint the resolver expects.
func (l *Library) ContainsPackage(dep *resolver.ResolvedDependency) bool {
	if l.Custom {
		return false
	}
	_, inLibrary := l.Packages[dep.Name]
	if !inLibrary && dep.Source.Kind != source.KindBuiltin {
		return false
	}

	switch dep.Source.Kind {
	case source.KindGit, source.KindURL, source.KindUniverse:
		m, ok := l.NonRepoPackages[dep.Name]
		return ok && m.SHA != "" && m.SHA == dep.Source.Fingerprint()
	case source.KindLocal:
		m, ok := l.NonRepoPackages[dep.Name]
		if !ok {
			return false
		}
		if dep.Source.IsLocalDir {
			current, err := rvfs.MaxMtime(dep.LocalResolvedPath)
			if err != nil {
				return false
			}
			return current == m.Mtime
		}
		return m.SHA != "" && m.SHA == dep.Source.LocalSHA
	case source.KindRepository:
		return l.Packages[dep.Name] == dep.Version.String()
	case source.KindBuiltin:
		return true
	default:
		return false
	}
}
