package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/manifest"
	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/repository"
	"github.com/kraklabs/rv/vcsfetch"
	"github.com/kraklabs/rv/version"
)

type fakeSystem struct{}

func (fakeSystem) CurrentSystemPath([2]uint32) string { return "linux/x86_64" }

func newTestCache(t *testing.T) *cache.DiskCache {
	t.Helper()
	root := t.TempDir()
	c, err := cache.New(root, version.MustParse("4.3.0"), fakeSystem{}, 0)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

func newRepoWithPackages(url string, pkgs ...pkgmeta.Package) RepoEntry {
	db := repository.New(url)
	for _, p := range pkgs {
		db.SourcePackages[p.Name] = append(db.SourcePackages[p.Name], p)
	}
	return RepoEntry{DB: db}
}

func pkg(name, ver string, depends ...pkgmeta.Dependency) pkgmeta.Package {
	return pkgmeta.Package{Name: name, Version: version.MustParse(ver), Depends: depends}
}

func TestResolveBareDependencyFromRepository(t *testing.T) {
	c := newTestCache(t)
	repo := newRepoWithPackages("https://cran.example/", pkg("jsonlite", "1.8.0"))

	r := New("", []RepoEntry{repo}, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{{Kind: manifest.DependencyBare, Name: "jsonlite"}}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, failed=%+v reqFailures=%+v", res.Failed, res.ReqFailures)
	}
	if len(res.Found) != 1 || res.Found[0].Name != "jsonlite" {
		t.Fatalf("expected jsonlite found, got %+v", res.Found)
	}
	if res.Found[0].Source.Kind.String() != "repository" {
		t.Fatalf("expected repository source, got %s", res.Found[0].Source.Kind)
	}
}

func TestResolveTransitiveDependency(t *testing.T) {
	c := newTestCache(t)
	repo := newRepoWithPackages("https://cran.example/",
		pkg("dplyr", "1.1.0", pkgmeta.Dependency{Name: "rlang"}),
		pkg("rlang", "1.1.0"))

	r := New("", []RepoEntry{repo}, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{{Kind: manifest.DependencyBare, Name: "dplyr"}}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, failed=%+v reqFailures=%+v", res.Failed, res.ReqFailures)
	}
	names := map[string]bool{}
	for _, f := range res.Found {
		names[f.Name] = true
	}
	if !names["dplyr"] || !names["rlang"] {
		t.Fatalf("expected dplyr and rlang found, got %+v", res.Found)
	}
}

func TestResolveUnresolvedDependency(t *testing.T) {
	c := newTestCache(t)
	r := New("", nil, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{{Kind: manifest.DependencyBare, Name: "nope"}}, nil, c)

	if res.IsSuccess() {
		t.Fatalf("expected failure")
	}
	if len(res.Failed) != 1 || res.Failed[0].Name != "nope" {
		t.Fatalf("expected nope in Failed, got %+v", res.Failed)
	}
	if !res.Failed[0].IsListedInManifest() {
		t.Fatalf("expected top-level dependency to be listed in manifest")
	}
}

func TestResolveBuiltinTakesPriorityOverRepository(t *testing.T) {
	c := newTestCache(t)
	repo := newRepoWithPackages("https://cran.example/", pkg("base", "4.3.0"))
	builtins := map[string]pkgmeta.Package{"base": pkg("base", "4.3.0")}

	r := New("", []RepoEntry{repo}, version.MustParse("4.3.0"), builtins, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{{Kind: manifest.DependencyBare, Name: "base"}}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v / %+v", res.Failed, res.ReqFailures)
	}
	if res.Found[0].Source.Kind.String() != "builtin" {
		t.Fatalf("expected builtin source, got %s", res.Found[0].Source.Kind)
	}
}

func TestResolveRequiredRepoBypassesBuiltin(t *testing.T) {
	c := newTestCache(t)
	repo := newRepoWithPackages("my-repo", pkg("base", "4.3.0"))
	builtins := map[string]pkgmeta.Package{"base": pkg("base", "4.3.0")}

	r := New("", []RepoEntry{repo}, version.MustParse("4.3.0"), builtins, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyRepository, Name: "base", RepositoryAlias: "my-repo"},
	}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v / %+v", res.Failed, res.ReqFailures)
	}
	if res.Found[0].Source.Kind.String() != "repository" {
		t.Fatalf("expected repository source since a specific repo was required, got %s", res.Found[0].Source.Kind)
	}
}

func TestResolveVersionConflictSurfacesReqFailure(t *testing.T) {
	c := newTestCache(t)
	req1, _ := version.ParseConstraint("(>= 2.0.0)")
	req2, _ := version.ParseConstraint("(< 2.0.0)")
	repo := newRepoWithPackages("https://cran.example/",
		pkg("top1", "1.0.0", pkgmeta.Dependency{Name: "shared", Constraint: &req1}),
		pkg("top2", "1.0.0", pkgmeta.Dependency{Name: "shared", Constraint: &req2}),
		pkg("shared", "1.5.0"))

	r := New("", []RepoEntry{repo}, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyBare, Name: "top1"},
		{Kind: manifest.DependencyBare, Name: "top2"},
	}, nil, c)

	if res.IsSuccess() {
		t.Fatalf("expected requirement failure")
	}
	if len(res.ReqFailures["shared"]) == 0 {
		t.Fatalf("expected a requirement failure for shared, got %+v", res.ReqFailures)
	}
}

func TestResolveLocalDirectoryDependency(t *testing.T) {
	c := newTestCache(t)
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "mypkg")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	desc := "Package: mypkg\nVersion: 0.1.0\n"
	if err := os.WriteFile(filepath.Join(pkgDir, "DESCRIPTION"), []byte(desc), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir, nil, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyLocal, Name: "mypkg", Path: "mypkg"},
	}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v / %+v", res.Failed, res.ReqFailures)
	}
	if len(res.Found) != 1 || res.Found[0].Source.Kind.String() != "local" {
		t.Fatalf("expected a local source, got %+v", res.Found)
	}
	if !res.Found[0].ForceSource {
		t.Fatalf("expected local dependencies to force a source build")
	}
}

func TestResolveLocalDependencyNameMismatch(t *testing.T) {
	c := newTestCache(t)
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "mypkg")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	desc := "Package: actualname\nVersion: 0.1.0\n"
	if err := os.WriteFile(filepath.Join(pkgDir, "DESCRIPTION"), []byte(desc), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir, nil, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyLocal, Name: "mypkg", Path: "mypkg"},
	}, nil, c)

	if res.IsSuccess() {
		t.Fatalf("expected a name-mismatch failure")
	}
	if len(res.Failed) != 1 {
		t.Fatalf("expected one failure, got %+v", res.Failed)
	}
}

type fakeGitFetcher struct {
	sha         string
	description string
	err         error
}

func (f fakeGitFetcher) FetchDescription(gitURL string, ref vcsfetch.Reference, subdir string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.sha, f.description, nil
}

func TestResolveGitDependency(t *testing.T) {
	c := newTestCache(t)
	fetcher := fakeGitFetcher{sha: "abc123", description: "Package: gitpkg\nVersion: 2.0.0\n"}

	r := New("", nil, version.MustParse("4.3.0"), nil, nil, nil, fetcher, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyGit, Name: "gitpkg", GitURL: "https://github.com/example/gitpkg", Tag: "v2.0.0"},
	}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v / %+v", res.Failed, res.ReqFailures)
	}
	if res.Found[0].Source.Kind.String() != "git" || res.Found[0].Source.CommitSHA != "abc123" {
		t.Fatalf("expected a resolved git source with sha abc123, got %+v", res.Found[0].Source)
	}
}

func TestResolveGitDependencyFetchFailure(t *testing.T) {
	c := newTestCache(t)
	fetcher := fakeGitFetcher{err: fmt.Errorf("network unreachable")}

	r := New("", nil, version.MustParse("4.3.0"), nil, nil, nil, fetcher, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyGit, Name: "gitpkg", GitURL: "https://github.com/example/gitpkg"},
	}, nil, c)

	if res.IsSuccess() {
		t.Fatalf("expected failure")
	}
	if len(res.Failed) != 1 {
		t.Fatalf("expected one failure, got %+v", res.Failed)
	}
}

func TestResolveDependenciesOnlyIgnoresTopLevelPackage(t *testing.T) {
	c := newTestCache(t)
	repo := newRepoWithPackages("https://cran.example/",
		pkg("devhelpers", "1.0.0", pkgmeta.Dependency{Name: "needed"}),
		pkg("needed", "1.0.0"))

	r := New("", []RepoEntry{repo}, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyBare, Name: "devhelpers", DependenciesOnly: true},
	}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v / %+v", res.Failed, res.ReqFailures)
	}

	var devhelpers, needed *ResolvedDependency
	for i := range res.Found {
		switch res.Found[i].Name {
		case "devhelpers":
			devhelpers = &res.Found[i]
		case "needed":
			needed = &res.Found[i]
		}
	}
	if devhelpers == nil || !devhelpers.Ignored {
		t.Fatalf("expected devhelpers to be marked ignored, got %+v", devhelpers)
	}
	if needed == nil || needed.Ignored {
		t.Fatalf("expected needed to remain installed, got %+v", needed)
	}
}

func TestResolveRepositoryAliasRestrictsSearch(t *testing.T) {
	c := newTestCache(t)
	repoA := newRepoWithPackages("repo-a", pkg("widget", "1.0.0"))
	repoB := newRepoWithPackages("repo-b", pkg("widget", "2.0.0"))

	r := New("", []RepoEntry{repoA, repoB}, version.MustParse("4.3.0"), nil, nil, nil, nil, nil)
	res := r.Resolve([]manifest.Dependency{
		{Kind: manifest.DependencyRepository, Name: "widget", RepositoryAlias: "repo-b"},
	}, nil, c)

	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v", res.Failed)
	}
	if res.Found[0].Version.String() != "2.0.0" {
		t.Fatalf("expected widget 2.0.0 from repo-b, got %s", res.Found[0].Version)
	}
}
