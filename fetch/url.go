package fetch

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/rvfs"
	"github.com/kraklabs/rv/source"
)

// URLDownloaderHTTP implements resolver.URLDownloader over net/http,
// caching the downloaded archive and its extracted tree by content
// hash under the disk cache's urls/ subtree.
type URLDownloaderHTTP struct {
	Cache  *cache.DiskCache
	Client *http.Client
}

// NewURLDownloader returns a URLDownloaderHTTP with a sane default
// timeout for package-archive downloads.
func NewURLDownloader(c *cache.DiskCache) *URLDownloaderHTTP {
	return &URLDownloaderHTTP{Cache: c, Client: &http.Client{Timeout: 10 * time.Minute}}
}

// DownloadAndExtract fetches archiveURL, computes its content SHA,
// and extracts it into a cache directory keyed by that SHA so a
// repeated download of the same bytes reuses the extraction.
func (d *URLDownloaderHTTP) DownloadAndExtract(archiveURL string) (string, string, error) {
	staging := d.Cache.URLDownloadPath(archiveURL)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", "", err
	}
	archivePath := filepath.Join(staging, "archive.tar.gz")

	data, err := d.download(archiveURL)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		return "", "", err
	}

	sha := source.HashContent(data)
	destDir := d.Cache.GetPackagePaths(source.URL(archiveURL, sha), "", "").Source

	if isDir, _ := rvfs.IsDir(destDir); !isDir {
		if err := rvfs.ExtractTarGz(archivePath, destDir); err != nil {
			return "", "", err
		}
	}

	root := destDir
	entries, err := os.ReadDir(destDir)
	if err == nil && len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(destDir, entries[0].Name())
	}

	return root, sha, nil
}

func (d *URLDownloaderHTTP) download(archiveURL string) ([]byte, error) {
	resp, err := d.Client.Get(archiveURL)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", archiveURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: unexpected status %s", archiveURL, resp.Status)
	}

	return io.ReadAll(resp.Body)
}
