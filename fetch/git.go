// Package fetch wires the network-facing external collaborators
// cmd/rv needs in order to run the core end to end: a
// resolver.GitDescriptionFetcher over vcsfetch, a resolver.URLDownloader
// and repository-index loader over net/http, grounded on
// original_source/src/git/local.rs's caching-by-URL pattern and
// original_source/src/repository.rs's index-download path.
package fetch

import (
	"path/filepath"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/vcsfetch"
)

// GitFetcher implements resolver.GitDescriptionFetcher against a
// disk-cached git checkout per remote URL, reusing the same clone
// across every package resolved from that remote within a run.
type GitFetcher struct {
	Cache *cache.DiskCache
}

// FetchDescription opens (or creates) the cached clone for gitURL,
// fetches ref, and returns the commit it resolved to plus the
// DESCRIPTION file found under subdir.
func (f *GitFetcher) FetchDescription(gitURL string, ref vcsfetch.Reference, subdir string) (string, string, error) {
	repo, err := vcsfetch.Open(filepath.Clean(f.Cache.GitClonePath(gitURL)), gitURL)
	if err != nil {
		return "", "", err
	}
	if err := repo.Fetch(ref); err != nil {
		return "", "", err
	}

	description, err := repo.GetDescriptionFile(ref, subdir)
	if err != nil {
		return "", "", err
	}

	sha, err := repo.RevParse(ref.Name)
	if err != nil {
		// ref.Name may be a branch/tag that Fetch already checked out by
		// SHA internally; HEAD always resolves once checked out.
		sha, err = repo.RevParse("HEAD")
		if err != nil {
			return "", "", err
		}
	}

	return sha, description, nil
}
