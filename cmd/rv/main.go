// Command rv is a thin composition-root binary: it wires manifest,
// resolver, and sync together exactly the way a real rv CLI's sync
// command would, for manual end-to-end smoke testing against a real
// project directory. It takes no flags, parses no subcommands, and
// prints no progress bars -- a full CLI driver is explicitly out of
// scope; this exists only to prove the core packages actually compose
// into a runnable whole.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/fetch"
	"github.com/kraklabs/rv/lockfile"
	"github.com/kraklabs/rv/manifest"
	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/platform"
	"github.com/kraklabs/rv/rcmd"
	"github.com/kraklabs/rv/repository"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/rvlog"
	"github.com/kraklabs/rv/sync"
)

func main() {
	log := rvlog.Stderr()

	projectDir := "."
	if len(os.Args) > 1 {
		projectDir = os.Args[1]
	}

	if err := run(projectDir, log); err != nil {
		log.LogRvfln("%v", err)
		os.Exit(1)
	}
}

func run(projectDir string, log *rvlog.Logger) error {
	manifestPath := filepath.Join(projectDir, "rproject.toml")
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	info := platform.Detect()
	runtimeVersion, err := (&rcmd.Installer{}).Version()
	if err != nil {
		return fmt.Errorf("detecting R version: %w", err)
	}
	installer := rcmd.New(info, runtimeVersion.MajorMinor())
	installer.EnvVars = m.PackagesEnvVars
	log.LogRvfln("using R %s on %s/%s", runtimeVersion, info.OS, info.Arch)

	libraryPath := m.Project.Library
	if libraryPath == "" {
		libraryPath = filepath.Join(projectDir, "renv", "library")
	} else if !filepath.IsAbs(libraryPath) {
		libraryPath = filepath.Join(projectDir, libraryPath)
	}

	cacheRoot := os.Getenv("RV_CACHE_DIR")
	if cacheRoot == "" {
		cacheRoot = filepath.Join(projectDir, ".rv-cache")
	}
	diskCache, err := cache.New(cacheRoot, runtimeVersion, info, 0)
	if err != nil {
		return fmt.Errorf("creating disk cache: %w", err)
	}

	lockfilePath := m.Project.LockfileName
	if lockfilePath == "" {
		lockfilePath = "rproject.lock"
	}
	lockfilePath = filepath.Join(projectDir, lockfilePath)

	var lf *lockfile.Lockfile
	if m.Project.UsesLockfile() {
		lf, err = lockfile.Load(lockfilePath)
		if err != nil {
			lf = lockfile.New(runtimeVersion)
		}
	}

	dbLoader := fetch.NewDatabaseLoader()
	var repos []resolver.RepoEntry
	for _, repo := range m.Repositories {
		path, fresh := diskCache.GetPackageDBEntry(repo.URL)
		db, err := repositoryDatabase(repo.URL, path, fresh, dbLoader, runtimeVersion.MajorMinor(), info, log)
		if err != nil {
			return fmt.Errorf("loading repository %s: %w", repo.URL, err)
		}
		repos = append(repos, resolver.RepoEntry{DB: db, ForceSource: repo.ForceSource})
	}

	gitFetcher := &fetch.GitFetcher{Cache: diskCache}
	urlDownloader := fetch.NewURLDownloader(diskCache)

	r := resolver.New(projectDir, repos, runtimeVersion, rcmd.BuiltinPackages(runtimeVersion), lf,
		m.PackagesEnvVars, gitFetcher, urlDownloader)

	resolution := r.Resolve(m.Dependencies, nil, diskCache)
	if !resolution.IsSuccess() {
		for _, msg := range resolution.ReqErrorMessages() {
			log.LogRvfln("%s", msg)
		}
		for _, f := range resolution.Failed {
			log.LogRvfln("could not resolve %s (required by %s)", f.Name, f.Parent)
		}
		return fmt.Errorf("dependency resolution failed")
	}
	log.LogRvfln("resolved %d package(s)", len(resolution.Found))

	library := sync.NewLibrary(libraryPath, m.Project.Library != "")
	syncer := &sync.Syncer{
		Library:     library,
		Cache:       diskCache,
		ProjectDir:  projectDir,
		StagingPath: sync.DefaultStagingPath(libraryPath),

		Installer:  installer,
		SystemDeps: rcmd.SystemDependencyChecker{Platform: info},

		Manifest:     m,
		MaxWorkers:   4,
		UsesLockfile: m.Project.UsesLockfile(),

		OSTag:   info.OS.String(),
		ArchTag: info.Arch,

		Log: log,
	}

	changes, err := syncer.Sync(context.Background(), resolution.Found, nil)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	for _, c := range changes {
		verb := "installed"
		if c.Change == sync.ChangeRemoved {
			verb = "removed"
		}
		log.LogRvfln("%s %s %s", verb, c.Name, c.Version)
	}

	if lf != nil {
		for _, dep := range resolution.Found {
			if dep.Ignored {
				continue
			}
			pkg := pkgmeta.Package{Name: dep.Name, Version: dep.Version, Depends: dep.Depends, Path: dep.Path}
			lf.Upsert(lockfile.FromResolved(pkg, dep.Source, dep.ForceSource, dep.InstallSuggests))
		}
		if err := lf.Save(lockfilePath); err != nil {
			return fmt.Errorf("saving lockfile: %w", err)
		}
	}

	return nil
}

// repositoryDatabase returns repoURL's package database, reusing a
// still-fresh on-disk copy and otherwise fetching a new one over HTTP
// and persisting it for next time.
func repositoryDatabase(repoURL, cachePath string, fresh bool, loader *fetch.DatabaseLoader,
	runtimeVersion [2]uint32, info platform.Info, log *rvlog.Logger) (*repository.Database, error) {

	if fresh {
		if db, err := repository.Load(cachePath); err == nil {
			return db, nil
		}
	}

	db, err := loader.Load(repoURL, runtimeVersion, info)
	if err != nil {
		return nil, err
	}
	if err := db.Persist(cachePath); err != nil {
		log.LogRvfln("warning: could not cache package database for %s: %v", repoURL, err)
	}
	return db, nil
}
