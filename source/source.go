// Package source implements the tagged union over the five package
// source kinds plus Builtin, generalized from the
// teacher's gps/manifest.go ProjectIdentifier/Version sum-type pattern
// (a closed set of concrete types satisfying a marker interface) and
// grounded on original_source/src/lockfile.rs's Source enum.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kraklabs/rv/version"
)

// Kind discriminates the Source variants.
type Kind int

const (
	KindRepository Kind = iota
	KindGit
	KindUniverse
	KindURL
	KindLocal
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindRepository:
		return "repository"
	case KindGit:
		return "git"
	case KindUniverse:
		return "universe"
	case KindURL:
		return "url"
	case KindLocal:
		return "local"
	case KindBuiltin:
		return "builtin"
	default:
		return "unknown"
	}
}

// Source is a tagged union over the five package-source kinds plus
// Builtin. Only the fields relevant to Kind are meaningful.
//
// Invariants: after resolution, Git and Universe sources
// always carry a fully-resolved commit SHA, never a floating
// branch/tag alone; URL and Local-tarball sources always carry a
// content SHA; Local-directory sources carry the mtime observed at
// install time.
type Source struct {
	Kind Kind

	// Repository
	RepositoryURL string

	// Git / Universe
	GitURL           string
	CommitSHA        string
	GitSubPath       string
	OriginalTag      string
	OriginalBranch   string
	UniverseRepoURL  string // Universe only: the repository-index URL

	// Url
	ArchiveURL string
	ContentSHA string

	// Local
	LocalPath  string
	LocalSHA   string // tarball
	LocalMtime int64  // directory, seconds since epoch
	IsLocalDir bool
}

// Repository builds a Repository source.
func Repository(repoURL string) Source {
	return Source{Kind: KindRepository, RepositoryURL: repoURL}
}

// Git builds a Git source. Exactly one of tag/branch should be set on
// the pre-resolution form; after resolution, sha is always populated.
func Git(url, sha, subPath, tag, branch string) Source {
	return Source{
		Kind:           KindGit,
		GitURL:         url,
		CommitSHA:      sha,
		GitSubPath:     subPath,
		OriginalTag:    tag,
		OriginalBranch: branch,
	}
}

// Universe builds a Universe source: a repository-indexed project
// whose ground truth is a git commit.
func Universe(repoURL, gitURL, sha, subPath string) Source {
	return Source{
		Kind:            KindUniverse,
		UniverseRepoURL: repoURL,
		GitURL:          gitURL,
		CommitSHA:       sha,
		GitSubPath:      subPath,
	}
}

// URL builds a Url source.
func URL(archiveURL, contentSHA string) Source {
	return Source{Kind: KindURL, ArchiveURL: archiveURL, ContentSHA: contentSHA}
}

// LocalTarball builds a Local source backed by a tarball fingerprinted
// by content SHA.
func LocalTarball(path, sha string) Source {
	return Source{Kind: KindLocal, LocalPath: path, LocalSHA: sha}
}

// LocalDir builds a Local source backed by a directory fingerprinted
// by recursive mtime.
func LocalDir(path string, mtime int64) Source {
	return Source{Kind: KindLocal, LocalPath: path, LocalMtime: mtime, IsLocalDir: true}
}

// Builtin builds a Builtin source.
func Builtin() Source {
	return Source{Kind: KindBuiltin}
}

// IsRepo reports whether s is a Repository source.
func (s Source) IsRepo() bool { return s.Kind == KindRepository }

// IsGitOrURL reports whether s is a Git, Universe, or Url source.
func (s Source) IsGitOrURL() bool {
	return s.Kind == KindGit || s.Kind == KindUniverse || s.Kind == KindURL
}

// IsBuiltin reports whether s is the Builtin source.
func (s Source) IsBuiltin() bool { return s.Kind == KindBuiltin }

// CouldHaveChanged is true for git branches and non-fingerprinted
// references: the resolver uses this to force a remote re-check even
// when the lockfile has an entry for the package.
func (s Source) CouldHaveChanged() bool {
	switch s.Kind {
	case KindGit, KindUniverse:
		return s.OriginalBranch != "" || s.CommitSHA == ""
	case KindLocal:
		return s.IsLocalDir
	default:
		return false
	}
}

// Fingerprint returns the concrete fingerprint recorded for this
// source: the lowercase-hex SHA for git/universe/url/local-tarball
// sources, or the decimal mtime for local directories. Builtin and
// Repository sources have no fingerprint (empty string).
func (s Source) Fingerprint() string {
	switch s.Kind {
	case KindGit, KindUniverse:
		return NormalizeSHA(s.CommitSHA)
	case KindURL:
		return NormalizeSHA(s.ContentSHA)
	case KindLocal:
		if s.IsLocalDir {
			return itoa64(s.LocalMtime)
		}
		return NormalizeSHA(s.LocalSHA)
	default:
		return ""
	}
}

// NormalizeSHA lowercases a hex SHA, per the fingerprint
// normalization rule.
func NormalizeSHA(sha string) string {
	return strings.ToLower(strings.TrimSpace(sha))
}

// HashContent returns the lowercase-hex SHA-256 of data, used when a
// Source needs a content fingerprint computed locally (e.g. a
// downloaded archive).
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RepoURL returns the canonical URL to use for cache keying,
// regardless of which Source variant this is.
func (s Source) RepoURL() string {
	switch s.Kind {
	case KindRepository:
		return s.RepositoryURL
	case KindGit, KindUniverse:
		return s.GitURL
	case KindURL:
		return s.ArchiveURL
	case KindLocal:
		return s.LocalPath
	default:
		return ""
	}
}

// HazyVersionMatch reports whether a lockfile-recorded runtime version
// is compatible with the active one, delegating to version.Version's
// hazy-match semantics.
func HazyVersionMatch(locked, active version.Version) bool {
	return locked.HazyMatch(active)
}
