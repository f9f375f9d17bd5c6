package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/rvlog"
	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/version"
)

type fakeInstaller struct {
	installed []string
	fail      map[string]bool
}

func (f *fakeInstaller) InstallRepository(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	return f.install(dep, libraryDirs)
}
func (f *fakeInstaller) InstallGit(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	return f.install(dep, libraryDirs)
}
func (f *fakeInstaller) InstallLocal(ctx context.Context, dep *resolver.ResolvedDependency, projectDir string, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	return f.install(dep, libraryDirs)
}
func (f *fakeInstaller) InstallURL(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	return f.install(dep, libraryDirs)
}

func (f *fakeInstaller) install(dep *resolver.ResolvedDependency, libraryDirs []string) error {
	if f.fail[dep.Name] {
		return errFakeInstall
	}
	f.installed = append(f.installed, dep.Name)
	// mimic a real installer materializing the package into staging,
	// the first of libraryDirs by orchestrator convention.
	dir := filepath.Join(libraryDirs[0], dep.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, descriptionFilename), []byte("Package: "+dep.Name+"\nVersion: 1.0.0\n"), 0o644)
}

var errFakeInstall = fakeInstallError{}

type fakeInstallError struct{}

func (fakeInstallError) Error() string { return "fake install failure" }

func newSyncer(t *testing.T, installer Installer) (*Syncer, string) {
	t.Helper()
	root := t.TempDir()
	libPath := filepath.Join(root, "library")
	if err := os.MkdirAll(libPath, 0o755); err != nil {
		t.Fatal(err)
	}
	s := &Syncer{
		Library:     NewLibrary(libPath, false),
		ProjectDir:  root,
		StagingPath: filepath.Join(root, stagingDirName),
		Installer:   installer,
		MaxWorkers:  2,
		Log:         rvlog.Discard(),
	}
	return s, libPath
}

func TestSyncInstallsMissingPackages(t *testing.T) {
	installer := &fakeInstaller{}
	s, libPath := newSyncer(t, installer)

	deps := []resolver.ResolvedDependency{
		{Name: "foo", Version: version.MustParse("1.0.0"), Source: source.Repository("https://example.com")},
		{Name: "bar", Version: version.MustParse("1.0.0"), Source: source.Repository("https://example.com"), Depends: nil},
	}

	changes, err := s.Sync(context.Background(), deps, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	for _, c := range changes {
		if c.Change != ChangeInstalled {
			t.Fatalf("expected ChangeInstalled, got %+v", c)
		}
	}

	for _, name := range []string{"foo", "bar"} {
		if _, err := os.Stat(filepath.Join(libPath, name, descriptionFilename)); err != nil {
			t.Fatalf("expected %s to be promoted into the library: %v", name, err)
		}
	}

	if _, err := os.Stat(s.StagingPath); !os.IsNotExist(err) {
		t.Fatalf("expected staging directory to be cleaned up, got err=%v", err)
	}
}

func TestSyncNoOpWhenAlreadySatisfied(t *testing.T) {
	installer := &fakeInstaller{}
	s, libPath := newSyncer(t, installer)

	writePackage(t, libPath, "foo", "1.0.0")
	if err := s.Library.Scan(); err != nil {
		t.Fatal(err)
	}

	deps := []resolver.ResolvedDependency{
		{Name: "foo", Version: version.MustParse("1.0.0"), Source: source.Repository("https://example.com")},
	}

	changes, err := s.Sync(context.Background(), deps, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
	if len(installer.installed) != 0 {
		t.Fatalf("expected installer to not be invoked, got %v", installer.installed)
	}
}

func TestSyncRemovesUnwantedPackage(t *testing.T) {
	installer := &fakeInstaller{}
	s, libPath := newSyncer(t, installer)

	writePackage(t, libPath, "stale", "1.0.0")
	if err := s.Library.Scan(); err != nil {
		t.Fatal(err)
	}

	changes, err := s.Sync(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(changes) != 1 || changes[0].Name != "stale" || changes[0].Change != ChangeRemoved {
		t.Fatalf("expected stale to be reported removed, got %+v", changes)
	}
	if _, err := os.Stat(filepath.Join(libPath, "stale")); !os.IsNotExist(err) {
		t.Fatalf("expected stale package directory to be removed from disk")
	}
}

func TestSyncDryRunDoesNotTouchDisk(t *testing.T) {
	installer := &fakeInstaller{}
	s, libPath := newSyncer(t, installer)
	s.DryRun = true

	writePackage(t, libPath, "stale", "1.0.0")
	if err := s.Library.Scan(); err != nil {
		t.Fatal(err)
	}

	changes, err := s.Sync(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(changes) != 1 || changes[0].Name != "stale" {
		t.Fatalf("expected stale reported as a would-be removal, got %+v", changes)
	}
	if _, err := os.Stat(filepath.Join(libPath, "stale")); err != nil {
		t.Fatalf("dry run must not actually remove anything: %v", err)
	}
}

func TestSyncPropagatesInstallerError(t *testing.T) {
	installer := &fakeInstaller{fail: map[string]bool{"bad": true}}
	s, _ := newSyncer(t, installer)

	deps := []resolver.ResolvedDependency{
		{Name: "bad", Version: version.MustParse("1.0.0"), Source: source.Repository("https://example.com")},
	}

	_, err := s.Sync(context.Background(), deps, nil)
	if err == nil {
		t.Fatalf("expected an error from the failing installer")
	}

	if _, statErr := os.Stat(s.StagingPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected staging to be discarded after a failed sync")
	}
}

func TestSyncReturnsImmediatelyWhenAlreadyCanceled(t *testing.T) {
	installer := &fakeInstaller{}
	s, _ := newSyncer(t, installer)

	cancel := NewCancelToken()
	cancel.Cancel()

	deps := []resolver.ResolvedDependency{
		{Name: "foo", Version: version.MustParse("1.0.0"), Source: source.Repository("https://example.com")},
	}

	changes, err := s.Sync(context.Background(), deps, cancel)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if changes != nil {
		t.Fatalf("expected no changes on a pre-canceled sync, got %+v", changes)
	}
	if len(installer.installed) != 0 {
		t.Fatalf("expected no installs to be attempted, got %v", installer.installed)
	}
}
