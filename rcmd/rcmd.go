// Package rcmd shells out to the host R interpreter's own
// `R CMD INSTALL` to build and install a resolved dependency,
// implementing sync.Installer. Grounded on
// original_source/src/r_cmd.rs's RCmd trait: each invocation runs in
// its own process group so a context cancellation can kill exactly
// that subprocess tree without taking rv itself down, mirroring the
// original's spawn_isolated_r_command/ACTIVE_R_PROCESS_IDS pattern.
package rcmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/link"
	"github.com/kraklabs/rv/platform"
	"github.com/kraklabs/rv/repository"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/rverrors"
	"github.com/kraklabs/rv/rvfs"
	"github.com/kraklabs/rv/vcsfetch"
)

// Installer runs `R CMD INSTALL` against a resolved dependency's
// source tree, downloading that tree first if it isn't already on
// disk (Repository tarballs, full git checkouts; Local and
// already-downloaded URL sources are used as found).
type Installer struct {
	// Binary is the R executable to invoke; defaults to "R" on PATH.
	Binary string

	Platform       platform.Info
	RuntimeVersion [2]uint32

	EnvVars map[string]map[string]string // package name -> extra env vars

	Client *http.Client
}

// New returns an Installer with its defaults filled in.
func New(info platform.Info, runtimeVersion [2]uint32) *Installer {
	return &Installer{
		Binary:         "R",
		Platform:       info,
		RuntimeVersion: runtimeVersion,
		Client:         &http.Client{Timeout: 10 * time.Minute},
	}
}

// InstallRepository downloads (if needed) and installs a
// Repository-sourced package, preferring a pre-built binary when the
// resolver selected one.
func (inst *Installer) InstallRepository(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	paths := c.GetPackagePaths(dep.Source, dep.Name, dep.Version.String())

	if dep.Kind == resolver.KindBinary {
		if err := inst.ensureExtracted(paths.Binary, func() (string, error) {
			urls, err := repository.GetTarballURLs(dep.Source.RepositoryURL, dep.Name, dep.Version.String(), dep.Path, inst.RuntimeVersion, inst.Platform)
			if err != nil {
				return "", err
			}
			if urls.Binary == nil {
				return "", fmt.Errorf("repository %s publishes no binary for %s %s on this platform", dep.Source.RepositoryURL, dep.Name, dep.Version)
			}
			return urls.Binary.String(), nil
		}); err != nil {
			return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
		}
		mode := link.Copy
		return link.LinkFiles(&mode, dep.Name, paths.Binary, libraryDirs[0])
	}

	if err := inst.ensureExtracted(paths.Source, func() (string, error) {
		urls, err := repository.GetTarballURLs(dep.Source.RepositoryURL, dep.Name, dep.Version.String(), dep.Path, inst.RuntimeVersion, inst.Platform)
		if err != nil {
			return "", err
		}
		if urls.Source != nil {
			if data, derr := inst.download(urls.Source.String()); derr == nil {
				return "", inst.saveAndExtract(data, paths.Source)
			}
		}
		if urls.Archive == nil {
			return "", fmt.Errorf("%s %s not found in repository %s", dep.Name, dep.Version, dep.Source.RepositoryURL)
		}
		data, err := inst.download(urls.Archive.String())
		if err != nil {
			return "", err
		}
		return "", inst.saveAndExtract(data, paths.Source)
	}); err != nil {
		return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
	}

	return inst.run(ctx, dep, extractedRoot(paths.Source), libraryDirs, c, configureArgs)
}

// InstallGit fully checks out the resolved commit (resolution itself
// only sparse-checked-out DESCRIPTION) and installs it.
func (inst *Installer) InstallGit(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	repo, err := vcsfetch.Open(c.GitClonePath(dep.Source.GitURL), dep.Source.GitURL)
	if err != nil {
		return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
	}
	ref := vcsfetch.Reference{Kind: vcsfetch.RefCommit, Name: dep.Source.CommitSHA}
	if err := repo.Fetch(ref); err != nil {
		return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
	}
	if err := repo.DisableSparseCheckout(); err != nil {
		return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
	}
	if err := repo.Checkout(dep.Source.CommitSHA); err != nil {
		return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
	}

	folder := repo.Path
	if dep.Source.GitSubPath != "" {
		folder = filepath.Join(folder, dep.Source.GitSubPath)
	}
	return inst.run(ctx, dep, folder, libraryDirs, c, configureArgs)
}

// InstallLocal installs a local path dependency, skipping the network
// entirely: the resolver already extracted tarball deps and recorded
// where to find them.
func (inst *Installer) InstallLocal(ctx context.Context, dep *resolver.ResolvedDependency, projectDir string, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	folder := dep.LocalResolvedPath
	if folder == "" {
		folder = filepath.Join(projectDir, dep.Source.LocalPath)
	}
	return inst.run(ctx, dep, folder, libraryDirs, c, configureArgs)
}

// InstallURL installs an already-downloaded URL dependency: the
// resolver's URLDownloader extracted it under the cache, keyed by the
// source's content SHA, so the same directory is reused here.
func (inst *Installer) InstallURL(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	paths := c.GetPackagePaths(dep.Source, "", "")
	root := extractedRoot(paths.Source)
	if isDir, _ := rvfs.IsDir(root); !isDir {
		data, err := inst.download(dep.Source.ArchiveURL)
		if err != nil {
			return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
		}
		if err := inst.saveAndExtract(data, paths.Source); err != nil {
			return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
		}
		root = extractedRoot(paths.Source)
	}
	return inst.run(ctx, dep, root, libraryDirs, c, configureArgs)
}

// ensureExtracted calls fetchURL to learn the download URL only when
// destDir doesn't already exist, so repeated installs of the same
// cached artifact never touch the network.
func (inst *Installer) ensureExtracted(destDir string, fetchURL func() (string, error)) error {
	if isDir, _ := rvfs.IsDir(extractedRoot(destDir)); isDir {
		return nil
	}
	url, err := fetchURL()
	if err != nil {
		return err
	}
	if url == "" {
		// fetchURL already populated destDir itself (the Repository
		// source-tarball path tries Source then Archive internally).
		return nil
	}
	data, err := inst.download(url)
	if err != nil {
		return err
	}
	return inst.saveAndExtract(data, destDir)
}

func (inst *Installer) download(url string) ([]byte, error) {
	client := inst.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (inst *Installer) saveAndExtract(data []byte, destDir string) error {
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp("", "rv-tarball-*.tar.gz")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	return rvfs.ExtractTarGz(tmp.Name(), destDir)
}

// extractedRoot descends into a single nested directory, the common
// shape of an R package tarball (<pkg>-<ver>/DESCRIPTION etc).
func extractedRoot(destDir string) string {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return destDir
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(destDir, entries[0].Name())
	}
	return destDir
}

// run invokes `R CMD INSTALL` against folder, writing combined
// stdout/stderr to the package's build log and honoring ctx by
// killing the subprocess's whole process group.
func (inst *Installer) run(ctx context.Context, dep *resolver.ResolvedDependency, folder string, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	binary := inst.Binary
	if binary == "" {
		binary = "R"
	}

	args := []string{"CMD", "INSTALL",
		fmt.Sprintf("--library=%s", libraryDirs[0]),
		"--use-vanilla", "--strip", "--strip-lib",
	}
	if len(configureArgs) > 0 {
		args = append(args, fmt.Sprintf("--configure-args=%s", strings.Join(configureArgs, " ")))
	}
	args = append(args, folder)

	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("R_LIBS=%s", strings.Join(libraryDirs, string(os.PathListSeparator))))
	for k, v := range inst.EnvVars[dep.Name] {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	setIsolatedProcessGroup(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return &rverrors.InstallError{Package: dep.Name, Version: dep.Version.String(), Err: err}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		killProcessGroup(cmd)
		err = <-waitErr
		if err == nil {
			err = ctx.Err()
		}
	}

	logPath := c.BuildLogPath(dep.Source, dep.Name, dep.Version.String())
	_ = rvfs.AtomicWriteFile(logPath, out.Bytes(), 0o644)

	if err != nil {
		return &rverrors.InstallError{
			Package:      dep.Name,
			Version:      dep.Version.String(),
			BuildLogPath: logPath,
			Stderr:       out.String(),
			Err:          err,
		}
	}
	return nil
}
