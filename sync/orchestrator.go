package sync

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdboyer/constext"

	"github.com/kraklabs/rv/buildplan"
	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/manifest"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/rverrors"
	"github.com/kraklabs/rv/rvfs"
	"github.com/kraklabs/rv/rvlog"
)

// pollInterval is how often the feeder goroutine re-checks the build
// plan for newly-installable packages.
const pollInterval = 5 * time.Millisecond

// SystemDependencyChecker reports which of a package's declared
// system (non-runtime) dependencies are absent on the current host.
// It is an external collaborator: the core only surfaces what's
// missing, it never installs system packages itself.
type SystemDependencyChecker interface {
	Missing(names []string) []string
}

// Syncer drives one project's library to match a resolved dependency
// set: diff against what's on disk, stage installs with bounded
// parallelism, then atomically swap staging into the library.
type Syncer struct {
	Library     *Library
	Cache       *cache.DiskCache
	ProjectDir  string
	StagingPath string

	Installer  Installer
	SystemDeps SystemDependencyChecker

	Manifest           *manifest.Manifest
	SystemDependencies map[string][]string // dep name -> system packages it needs, for reporting

	MaxWorkers        int
	SaveInstallLogsIn string
	DryRun            bool
	UsesLockfile      bool

	OSTag, ArchTag string

	Log *rvlog.Logger
}

func (s *Syncer) libraryDirs() []string {
	return []string{s.StagingPath, s.Library.Path}
}

func (s *Syncer) configureArgsFor(name string) []string {
	if s.Manifest == nil {
		return nil
	}
	rules, ok := s.Manifest.ConfigureArgs[name]
	if !ok {
		return nil
	}
	return manifest.ConfigureArgsFor(rules, s.OSTag, s.ArchTag)
}

type installResult struct {
	dep    *resolver.ResolvedDependency
	change SyncChange
	err    error
}

// Sync reconciles the library with deps. If cancel is nil, a fresh
// token is allocated that only this call can observe; pass one in to
// let a concurrent signal handler escalate Soft then Hard
// cancellation while Sync runs.
func (s *Syncer) Sync(ctx context.Context, deps []resolver.ResolvedDependency, cancel *CancelToken) ([]SyncChange, error) {
	if cancel == nil {
		cancel = NewCancelToken()
	}
	mergedCtx, mergedCancel := constext.Cons(ctx, cancel.Context())
	defer mergedCancel()

	if cancel.IsSoft() {
		return nil, nil
	}

	if isDir, _ := rvfs.IsDir(s.StagingPath); isDir {
		if err := os.RemoveAll(s.StagingPath); err != nil {
			return nil, err
		}
	}
	defer os.RemoveAll(s.StagingPath)

	if err := os.MkdirAll(s.Library.Path, 0o755); err != nil {
		return nil, err
	}

	if err := s.Library.Scan(); err != nil {
		return nil, err
	}

	var changes []SyncChange

	plan := buildplan.New(deps)
	numToInstall := plan.NumToInstall()
	diff := CompareWithLocalLibrary(s.Library, deps, s.UsesLockfile)
	needsSync := NeedsSync(diff, numToInstall)

	var holders []holder
	if len(diff.RemoveNotify) > 0 {
		holders = packagesInUse(s.Library.Path, s.Log)
	}

	for name := range diff.RemoveNotify {
		if holdsAny(holders, name) {
			return nil, &rverrors.LibraryInUseError{
				Packages: []string{name},
				Holders:  holderLines(holders),
			}
		}
	}

	if !needsSync {
		for name, notify := range diff.RemoveNotify {
			if notify && !s.DryRun {
				if err := os.RemoveAll(filepath.Join(s.Library.Path, name)); err != nil {
					return nil, err
				}
			}
			if notify {
				changes = append(changes, newRemovedChange(name))
			}
		}
		sortChanges(changes)
		return changes, nil
	}

	if err := os.MkdirAll(s.StagingPath, 0o755); err != nil {
		return nil, err
	}
	if s.SaveInstallLogsIn != "" {
		if err := os.MkdirAll(s.SaveInstallLogsIn, 0o755); err != nil {
			return nil, err
		}
	}

	s.checkSystemDependencies()

	for name := range diff.Seen {
		if isDir, _ := rvfs.IsDir(filepath.Join(s.Library.Path, name)); isDir {
			plan.MarkInstalled(name)
		}
	}
	numToInstall = plan.NumToInstall()

	depByName := make(map[string]*resolver.ResolvedDependency, len(deps))
	for i := range deps {
		depByName[deps[i].Name] = &deps[i]
	}

	var planMu sync.Mutex
	drainReady := func() []*resolver.ResolvedDependency {
		planMu.Lock()
		defer planMu.Unlock()
		var out []*resolver.ResolvedDependency
		for {
			step := plan.Get()
			if step.Kind != buildplan.StepInstall {
				break
			}
			out = append(out, depByName[step.Dep.Name])
		}
		return out
	}
	markInstalled := func(name string) {
		planMu.Lock()
		plan.MarkInstalled(name)
		planMu.Unlock()
	}

	if numToInstall == 0 {
		return s.finish(changes, diff)
	}

	ready := make(chan *resolver.ResolvedDependency, numToInstall)
	done := make(chan installResult, numToInstall)

	var installedCount atomic.Int64
	var hasErrors atomic.Bool

	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		defer close(ready)
		seen := make(map[string]bool)
		for !hasErrors.Load() && installedCount.Load() < int64(numToInstall) {
			if cancel.IsSoft() {
				return
			}
			for _, d := range drainReady() {
				if !seen[d.Name] {
					seen[d.Name] = true
					ready <- d
				}
			}
			time.Sleep(pollInterval)
		}
	}()

	workers := s.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dep := range ready {
				if hasErrors.Load() || cancel.IsHard() {
					continue
				}

				start := time.Now()
				var err error
				if diff.Copy[dep.Name] {
					err = copyFromLibrary(dep, s.Library.Path, s.StagingPath)
				} else {
					err = dispatchInstall(mergedCtx, dep, s.Installer, s.ProjectDir, s.libraryDirs(), s.Cache, s.configureArgsFor(dep.Name))
				}

				if err != nil {
					hasErrors.Store(true)
					done <- installResult{dep: dep, err: err}
					continue
				}

				change := newInstalledChange(dep, time.Since(start), s.SystemDependencies[dep.Name])
				done <- installResult{dep: dep, change: change}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	received := 0
	for res := range done {
		received++
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		markInstalled(res.dep.Name)
		installedCount.Add(1)
		changes = append(changes, res.change)
		s.saveInstallLog(res.change)
		if received >= numToInstall {
			break
		}
	}
	<-feederDone

	if firstErr != nil {
		return nil, firstErr
	}
	if cancel.IsSoft() {
		return nil, nil
	}

	return s.finish(changes, diff)
}

// finish applies pending removals and atomically promotes everything
// staged into the library.
func (s *Syncer) finish(changes []SyncChange, diff LibraryDiff) ([]SyncChange, error) {
	for name, notify := range diff.RemoveNotify {
		if notify && !s.DryRun {
			if err := os.RemoveAll(filepath.Join(s.Library.Path, name)); err != nil {
				return nil, err
			}
		}
		if notify {
			changes = append(changes, newRemovedChange(name))
		}
	}

	if !s.DryRun {
		entries, err := os.ReadDir(s.StagingPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		for _, entry := range entries {
			if diff.Seen[entry.Name()] {
				continue
			}
			from := filepath.Join(s.StagingPath, entry.Name())
			to := filepath.Join(s.Library.Path, entry.Name())
			if err := os.RemoveAll(to); err != nil {
				return nil, err
			}
			if err := os.Rename(from, to); err != nil {
				return nil, err
			}
		}
	}

	sortChanges(changes)
	return changes, nil
}

func (s *Syncer) saveInstallLog(change SyncChange) {
	if s.SaveInstallLogsIn == "" || change.IsBuiltin() {
		return
	}
	logPath := s.Cache.BuildLogPath(change.Source, change.Name, change.Version)
	if ok, _ := rvfs.IsRegular(logPath); !ok {
		return
	}
	_ = rvfs.CopyFile(logPath, filepath.Join(s.SaveInstallLogsIn, change.Name+".log"))
}

// checkSystemDependencies reports (but never installs) missing system
// packages; managing them is explicitly the host administrator's job.
func (s *Syncer) checkSystemDependencies() {
	if s.SystemDeps == nil || len(s.SystemDependencies) == 0 {
		return
	}

	seen := make(map[string]bool)
	var all []string
	for _, names := range s.SystemDependencies {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				all = append(all, n)
			}
		}
	}
	if len(all) == 0 {
		return
	}

	missing := s.SystemDeps.Missing(all)
	if len(missing) == 0 {
		s.Log.Logln("all system dependencies are satisfied")
		return
	}
	s.Log.LogRvfln("missing system dependencies: %v (run the sysdeps report for install hints)", missing)
}

func sortChanges(changes []SyncChange) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
}
