package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/rvfs"
	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/version"
)

func writePackage(t *testing.T, libPath, name, ver string) string {
	t.Helper()
	dir := filepath.Join(libPath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	desc := "Package: " + name + "\nVersion: " + ver + "\n"
	if err := os.WriteFile(filepath.Join(dir, descriptionFilename), []byte(desc), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLibraryScanFindsPackagesAndBroken(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "foo", "1.2.0")

	if err := os.MkdirAll(filepath.Join(dir, "broken"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(dir, stagingDirName), 0o755); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(dir, false)
	if err := lib.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if lib.Packages["foo"] != "1.2.0" {
		t.Fatalf("expected foo at 1.2.0, got %v", lib.Packages)
	}
	if !lib.Broken["broken"] {
		t.Fatalf("expected broken to be marked broken")
	}
	if _, ok := lib.Packages[stagingDirName]; ok {
		t.Fatalf("staging directory should be skipped")
	}
}

func TestLibraryScanSkipsCustomLibrary(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "foo", "1.0.0")

	lib := NewLibrary(dir, true)
	if err := lib.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(lib.Packages) != 0 {
		t.Fatalf("custom library should never be scanned, got %v", lib.Packages)
	}
}

func TestContainsPackageCustomLibraryAlwaysFalse(t *testing.T) {
	lib := NewLibrary(t.TempDir(), true)
	dep := &resolver.ResolvedDependency{Name: "foo", Source: source.Source{Kind: source.KindBuiltin}}
	if lib.ContainsPackage(dep) {
		t.Fatalf("custom library must never report a package contained")
	}
}

func TestContainsPackageRepository(t *testing.T) {
	lib := NewLibrary(t.TempDir(), false)
	lib.Packages["foo"] = "1.0.0"

	dep := &resolver.ResolvedDependency{
		Name:    "foo",
		Version: version.MustParse("1.0.0"),
		Source:  source.Repository("https://example.com"),
	}
	if !lib.ContainsPackage(dep) {
		t.Fatalf("expected exact version match to be contained")
	}

	dep.Version = version.MustParse("2.0.0")
	if lib.ContainsPackage(dep) {
		t.Fatalf("expected version mismatch to not be contained")
	}
}

func TestContainsPackageGitComparesFingerprint(t *testing.T) {
	lib := NewLibrary(t.TempDir(), false)
	lib.Packages["foo"] = "1.0.0"

	src := source.Git("https://example.com/foo.git", "deadbeef", "", "", "main")
	lib.NonRepoPackages["foo"] = LocalMetadata{SHA: src.Fingerprint()}

	dep := &resolver.ResolvedDependency{Name: "foo", Source: src}
	if !lib.ContainsPackage(dep) {
		t.Fatalf("expected matching git fingerprint to be contained")
	}

	dep.Source = source.Git("https://example.com/foo.git", "cafef00d", "", "", "main")
	if lib.ContainsPackage(dep) {
		t.Fatalf("expected a different commit to not be contained")
	}
}

func TestContainsPackageLocalDirComparesMtime(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "DESCRIPTION"), []byte("Package: foo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(t.TempDir(), false)
	lib.Packages["foo"] = "1.0.0"

	dep := &resolver.ResolvedDependency{
		Name:              "foo",
		LocalResolvedPath: srcDir,
		Source:            source.Source{Kind: source.KindLocal, IsLocalDir: true},
	}

	mtime, err := rvfs.MaxMtime(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	lib.NonRepoPackages["foo"] = LocalMetadata{Mtime: mtime}

	if !lib.ContainsPackage(dep) {
		t.Fatalf("expected matching mtime to be contained")
	}

	// touch the file with a later mtime and expect the comparison to fail
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(srcDir, "DESCRIPTION"), future, future); err != nil {
		t.Fatal(err)
	}
	if lib.ContainsPackage(dep) {
		t.Fatalf("expected a changed mtime to not be contained")
	}
}

func TestContainsPackageBuiltinAlwaysTrue(t *testing.T) {
	lib := NewLibrary(t.TempDir(), false)
	dep := &resolver.ResolvedDependency{Name: "base", Source: source.Source{Kind: source.KindBuiltin}}
	if !lib.ContainsPackage(dep) {
		t.Fatalf("builtin packages are always considered contained")
	}
}

func TestWriteAndLoadLocalMetadata(t *testing.T) {
	dir := t.TempDir()
	want := LocalMetadata{SHA: "abc123"}
	if err := WriteLocalMetadata(dir, want); err != nil {
		t.Fatalf("WriteLocalMetadata: %v", err)
	}
	got, ok := loadLocalMetadata(dir)
	if !ok {
		t.Fatalf("expected metadata to load back")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
