// Package cache implements the content-addressed disk cache of
// path derivation for package databases, source trees,
// binary trees, git clones, and downloaded archives, plus the
// installation-status state machine, grounded on
// original_source/src/cache/disk.rs's DiskCache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kraklabs/rv/rvfs"
	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/version"
)

// Status is the installation-status state machine.
type Status int

const (
	StatusAbsent Status = iota
	StatusSource
	// StatusBinary's BuiltFromSource field records whether rv built the
	// binary itself, as opposed to it being fetched pre-built.
	StatusBinary
	StatusBoth
)

// InstallationStatus pairs a Status with the "built from source"
// qualifier that applies to Binary and Both.
type InstallationStatus struct {
	Status          Status
	BuiltFromSource bool
}

// Available reports whether the package is present in any form.
func (s InstallationStatus) Available() bool { return s.Status != StatusAbsent }

// BinaryAvailable reports whether a binary artifact is present.
func (s InstallationStatus) BinaryAvailable() bool {
	return s.Status == StatusBinary || s.Status == StatusBoth
}

// BinaryAvailableFromSource reports whether the present binary was
// built locally from source by rv.
func (s InstallationStatus) BinaryAvailableFromSource() bool {
	return s.BinaryAvailable() && s.BuiltFromSource
}

// SourceAvailable reports whether an extracted source tree is present.
func (s InstallationStatus) SourceAvailable() bool {
	return s.Status == StatusSource || s.Status == StatusBoth
}

// MarkAsBinaryUnavailable demotes a fetched-not-built binary: if the
// caller forced a source build and we only have a binary we didn't
// build ourselves, treat it as absent.
func (s InstallationStatus) MarkAsBinaryUnavailable() InstallationStatus {
	switch {
	case s.Status == StatusBoth && !s.BuiltFromSource:
		return InstallationStatus{Status: StatusSource}
	case s.Status == StatusBinary && !s.BuiltFromSource:
		return InstallationStatus{Status: StatusAbsent}
	default:
		return s
	}
}

func (s InstallationStatus) String() string {
	switch s.Status {
	case StatusSource:
		return "source"
	case StatusBinary:
		return fmt.Sprintf("binary (built from source: %v)", s.BuiltFromSource)
	case StatusBoth:
		return fmt.Sprintf("source and binary (built from source: %v)", s.BuiltFromSource)
	default:
		return "absent"
	}
}

const (
	packageDBFilename      = "PACKAGES.db"
	buildLogFilename       = "build.log"
	builtFromSourceMarker  = ".rv-built-from-source"
)

// SystemPathProvider supplies the OS/distro/arch path segment under
// which binary artifacts are cached, so the cache package doesn't need
// to know the host-detection details itself.
type SystemPathProvider interface {
	CurrentSystemPath(runtimeMajorMinor [2]uint32) string
}

// DiskCache locates (but does not itself populate) cached objects on
// disk. Freshness is only a concern for package databases; everything
// else is either present or absent.
type DiskCache struct {
	Root              string
	RuntimeVersion    [2]uint32
	System            SystemPathProvider
	PackagesTimeout   time.Duration
}

// New constructs a DiskCache rooted at root.
func New(root string, runtimeVersion version.Version, system SystemPathProvider, packagesTimeout time.Duration) (*DiskCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root %s: %w", root, err)
	}
	if packagesTimeout == 0 {
		packagesTimeout = time.Hour
	}
	return &DiskCache{
		Root:            root,
		RuntimeVersion:  runtimeVersion.MajorMinor(),
		System:          system,
		PackagesTimeout: packagesTimeout,
	}, nil
}

// HashString returns the lowercase-hex SHA-256 of s, used throughout
// this package to turn a URL or path into a filesystem-safe directory
// name.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RepoRootBinaryDir returns the root directory for a repository's
// binary artifacts: PACKAGES databases and binary package trees both
// live under here, since both depend on OS and runtime version.
func (c *DiskCache) RepoRootBinaryDir(repoURL string) string {
	return filepath.Join(c.Root, HashString(repoURL), c.System.CurrentSystemPath(c.RuntimeVersion))
}

func (c *DiskCache) packageDBPath(repoURL string) string {
	return filepath.Join(c.RepoRootBinaryDir(repoURL), packageDBFilename)
}

func (c *DiskCache) binaryPackagePath(repoURL, name, ver string) string {
	return filepath.Join(c.RepoRootBinaryDir(repoURL), name, ver)
}

func (c *DiskCache) sourcePackagePath(repoURL, name, ver string) string {
	return filepath.Join(c.Root, HashString(repoURL), "src", name, ver)
}

// SourceTarballFolder is where downloaded source tarballs are saved.
func (c *DiskCache) SourceTarballFolder() string {
	return filepath.Join(c.Root, "source_tarballs")
}

// TarballPath is the path a source tarball for name@ver should be
// saved to.
func (c *DiskCache) TarballPath(name, ver string) string {
	return filepath.Join(c.SourceTarballFolder(), fmt.Sprintf("%s_%s.tar.gz", name, ver))
}

// URLDownloadPath is where an arbitrary downloaded archive is staged,
// before its content SHA is known.
func (c *DiskCache) URLDownloadPath(url string) string {
	return filepath.Join(c.Root, "urls", HashString(strings.ToLower(url)))
}

// GitClonePath is where a bare/working git clone of repoURL is cached.
func (c *DiskCache) GitClonePath(repoURL string) string {
	trimmed := strings.ToLower(strings.TrimRight(repoURL, "/"))
	return filepath.Join(c.Root, "git", HashString(trimmed))
}

// BuildLogPath returns the path build stdout/stderr should be written
// to for the given source, package name, and version.
func (c *DiskCache) BuildLogPath(src source.Source, pkgName, ver string) string {
	var parentKey, fallbackVersion string
	switch src.Kind {
	case source.KindGit, source.KindUniverse:
		parentKey = HashString(src.GitURL)
		fallbackVersion = src.CommitSHA
	case source.KindURL:
		parentKey = HashString(src.ArchiveURL)
		fallbackVersion = src.ContentSHA
	case source.KindRepository:
		parentKey = HashString(src.RepositoryURL)
	case source.KindLocal:
		parentKey = HashString(src.LocalPath)
		fallbackVersion = src.LocalSHA
	default:
		parentKey = "builtin"
	}

	p := filepath.Join(c.Root, "logs", parentKey, c.System.CurrentSystemPath(c.RuntimeVersion))
	if pkgName != "" {
		p = filepath.Join(p, pkgName)
	}
	if ver != "" {
		p = filepath.Join(p, ver)
	} else if fallbackVersion != "" {
		p = filepath.Join(p, fallbackVersion)
	}
	return filepath.Join(p, buildLogFilename)
}

// PackagePaths is the pair of candidate source/binary paths a given
// Source resolves to.
type PackagePaths struct {
	Source string
	Binary string
}

// shaPrefixLen bounds how much of a content SHA is folded into a
// binary-artifact path, keeping paths short while still avoiding
// collisions in practice.
const shaPrefixLen = 10

func shaPrefix(sha string) string {
	if len(sha) <= shaPrefixLen {
		return sha
	}
	return sha[:shaPrefixLen]
}

// GetPackagePaths resolves a source (plus, for Repository sources,
// a package name/version) to its candidate source and binary paths.
// Not meaningful for Local or Builtin sources.
func (c *DiskCache) GetPackagePaths(src source.Source, pkgName, ver string) PackagePaths {
	switch src.Kind {
	case source.KindGit, source.KindUniverse:
		return PackagePaths{
			Source: c.GitClonePath(src.GitURL),
			Binary: filepath.Join(c.RepoRootBinaryDir(src.GitURL), shaPrefix(src.CommitSHA)),
		}
	case source.KindURL:
		return PackagePaths{
			Source: filepath.Join(c.URLDownloadPath(src.ArchiveURL), shaPrefix(src.ContentSHA)),
			Binary: filepath.Join(c.RepoRootBinaryDir(src.ArchiveURL), shaPrefix(src.ContentSHA)),
		}
	case source.KindRepository:
		return PackagePaths{
			Source: c.sourcePackagePath(src.RepositoryURL, pkgName, ver),
			Binary: c.binaryPackagePath(src.RepositoryURL, pkgName, ver),
		}
	default:
		return PackagePaths{}
	}
}

// GetInstallationStatus reports what form(s) of pkgName@version are
// present in the cache for the given source.
func (c *DiskCache) GetInstallationStatus(pkgName, ver string, src source.Source) InstallationStatus {
	var sourcePath, binaryPath string

	switch src.Kind {
	case source.KindGit, source.KindURL, source.KindUniverse:
		paths := c.GetPackagePaths(src, "", "")
		sourcePath = paths.Source
		binaryPath = filepath.Join(paths.Binary, pkgName)
	case source.KindRepository:
		paths := c.GetPackagePaths(src, pkgName, ver)
		sourcePath = filepath.Join(paths.Source, pkgName)
		binaryPath = filepath.Join(paths.Binary, pkgName)
	case source.KindLocal:
		return InstallationStatus{Status: StatusAbsent}
	case source.KindBuiltin:
		return InstallationStatus{Status: StatusBinary, BuiltFromSource: false}
	default:
		return InstallationStatus{Status: StatusAbsent}
	}

	binaryIsDir, _ := rvfs.IsDir(binaryPath)
	sourceIsDir, _ := rvfs.IsDir(sourcePath)

	builtFromSource := false
	if binaryIsDir {
		builtFromSource, _ = rvfs.IsRegular(filepath.Join(binaryPath, builtFromSourceMarker))
	}

	switch {
	case sourceIsDir && binaryIsDir:
		return InstallationStatus{Status: StatusBoth, BuiltFromSource: builtFromSource}
	case sourceIsDir:
		return InstallationStatus{Status: StatusSource}
	case binaryIsDir:
		return InstallationStatus{Status: StatusBinary, BuiltFromSource: builtFromSource}
	default:
		return InstallationStatus{Status: StatusAbsent}
	}
}

// GetPackageDBEntry returns the path a repository's compiled package
// database would live at, plus whether the file currently there (if
// any) is still within PackagesTimeout.
func (c *DiskCache) GetPackageDBEntry(repoURL string) (path string, fresh bool) {
	path = c.packageDBPath(repoURL)
	info, err := os.Stat(path)
	if err != nil {
		return path, false
	}
	age := time.Since(info.ModTime())
	return path, age <= c.PackagesTimeout
}
