package fetch

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kraklabs/rv/platform"
	"github.com/kraklabs/rv/repository"
)

// DatabaseLoader downloads a repository's source and (where available)
// binary PACKAGES indices over HTTP and assembles them into a
// repository.Database, the network-facing half of a package database
// repository.Load/Persist only round-trip from disk.
type DatabaseLoader struct {
	Client *http.Client
}

// NewDatabaseLoader returns a DatabaseLoader with a short timeout:
// PACKAGES index files are small, so a stuck connection should fail
// fast rather than stall a resolution.
func NewDatabaseLoader() *DatabaseLoader {
	return &DatabaseLoader{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Load fetches repoURL's source index, and its binary index for the
// given runtime/platform if the repository publishes one, returning an
// assembled Database. A missing binary index is not an error: plenty
// of repositories only carry source packages for a given platform.
func (l *DatabaseLoader) Load(repoURL string, runtimeVersion [2]uint32, info platform.Info) (*repository.Database, error) {
	sourceURL, binaryURL, err := repository.GetPackageIndexURLs(repoURL, runtimeVersion, info)
	if err != nil {
		return nil, err
	}

	db := repository.New(repoURL)

	sourceContent, err := l.get(sourceURL.String())
	if err != nil {
		return nil, fmt.Errorf("fetching source package index for %s: %w", repoURL, err)
	}
	db.ParseSource(sourceContent)

	if binaryURL != nil {
		if binaryContent, err := l.get(binaryURL.String()); err == nil {
			db.ParseBinary(binaryContent, runtimeVersion[0], runtimeVersion[1])
		}
	}

	return db, nil
}

func (l *DatabaseLoader) get(url string) (string, error) {
	resp, err := l.Client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s fetching %s", resp.Status, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
