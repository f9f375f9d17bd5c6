// Package resolver implements the BFS dependency resolution of
// starting from the manifest's direct dependencies and
// suggests, it walks the dependency graph applying the source
// priority cascade (local path, builtin, lockfile, remote override,
// then the package's active source), then hands the result to the
// sat package for a final consistency check, grounded on
// original_source/src/resolver/{mod,dependency,result}.rs.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/lockfile"
	"github.com/kraklabs/rv/manifest"
	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/repository"
	"github.com/kraklabs/rv/rvfs"
	"github.com/kraklabs/rv/sat"
	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/vcsfetch"
	"github.com/kraklabs/rv/version"
)

// RepoEntry pairs a loaded repository database with the
// force_source flag configured for it.
type RepoEntry struct {
	DB          *repository.Database
	ForceSource bool
}

// GitDescriptionFetcher materializes just enough of a git remote to
// read its DESCRIPTION file: a sparse checkout of reference, returning
// the commit it resolved to and the file's content.
type GitDescriptionFetcher interface {
	FetchDescription(gitURL string, ref vcsfetch.Reference, subdir string) (sha string, description string, err error)
}

// URLDownloader downloads and extracts an arbitrary archive URL.
type URLDownloader interface {
	DownloadAndExtract(url string) (dir string, sha string, err error)
}

// Kind distinguishes a resolved dependency's installed artifact form.
type Kind int

const (
	KindSource Kind = iota
	KindBinary
)

// ResolvedDependency is a single dependency the resolver found,
// together with everything sync needs to install it.
type ResolvedDependency struct {
	Name               string
	Version            version.Version
	Source             source.Source
	Depends            []pkgmeta.Dependency
	Suggests           []pkgmeta.Dependency
	ForceSource        bool
	InstallSuggests    bool
	Kind               Kind
	InstallationStatus cache.InstallationStatus
	Path               string
	FromLockfile       bool
	FromRemote         bool
	Remotes            map[string]pkgmeta.RemoteOverride
	LocalResolvedPath  string
	EnvVars            map[string]string
	Ignored            bool
}

// AllDependencyNames returns the deduplicated names of every
// dependency that would actually be installed for d, honoring
// InstallSuggests.
func (d ResolvedDependency) AllDependencyNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, dep := range d.Depends {
		if !seen[dep.Name] {
			seen[dep.Name] = true
			names = append(names, dep.Name)
		}
	}
	if d.InstallSuggests {
		for _, dep := range d.Suggests {
			if !seen[dep.Name] {
				seen[dep.Name] = true
				names = append(names, dep.Name)
			}
		}
	}
	return names
}

// UnresolvedDependency is a dependency the resolver could not locate
// anywhere.
type UnresolvedDependency struct {
	Name       string
	Constraint *version.Constraint
	Parent     string
	Error      string
	Remote     *pkgmeta.RemoteOverride
	URL        string
	LocalPath  string
}

// IsListedInManifest reports whether this was a top-level manifest
// dependency, as opposed to a transitive one.
func (u UnresolvedDependency) IsListedInManifest() bool { return u.Parent == "" }

func (u UnresolvedDependency) String() string {
	where := fmt.Sprintf("[required by: %s]", u.Parent)
	if u.IsListedInManifest() {
		where = "[listed in manifest]"
	}
	msg := fmt.Sprintf("%s %s", u.Name, where)
	if u.Error != "" {
		msg += ": " + u.Error
	}
	return msg
}

// RequirementFailure names one unsatisfied version constraint
// surfaced by the post-resolution SAT consistency check.
type RequirementFailure struct {
	RequiredBy string
	VersionReq string
}

func (f RequirementFailure) String() string {
	return fmt.Sprintf("%s requires %s", f.RequiredBy, f.VersionReq)
}

// Resolution is everything the resolver produced: the packages it
// found, the ones it couldn't, and any version conflicts the SAT check
// surfaced.
type Resolution struct {
	Found        []ResolvedDependency
	Failed       []UnresolvedDependency
	ReqFailures  map[string][]RequirementFailure
}

func (r *Resolution) addFound(dep ResolvedDependency) {
	for _, existing := range r.Found {
		if existing.Name == dep.Name && existing.Version.Equal(dep.Version) && existing.Source == dep.Source {
			return
		}
	}
	r.Found = append(r.Found, dep)
}

func (r *Resolution) foundInRepo(name string) bool {
	for _, d := range r.Found {
		if d.Source.IsRepo() && d.Name == name {
			return true
		}
	}
	return false
}

func (r *Resolution) ignore(name string) {
	for i := range r.Found {
		if r.Found[i].Name == name {
			r.Found[i].Ignored = true
		}
	}
}

// IsSuccess reports whether every dependency was found with no
// lingering version conflicts.
func (r *Resolution) IsSuccess() bool {
	return len(r.Failed) == 0 && len(r.ReqFailures) == 0
}

// ReqErrorMessages formats ReqFailures into human-readable lines,
// listing every version of the conflicting package that was found.
func (r *Resolution) ReqErrorMessages() []string {
	names := make([]string, 0, len(r.ReqFailures))
	for name := range r.ReqFailures {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		reqs := r.ReqFailures[name]
		var reqStrs []string
		for _, req := range reqs {
			reqStrs = append(reqStrs, req.String())
		}

		var versionLines []string
		for _, f := range r.Found {
			if f.Name == name {
				versionLines = append(versionLines, fmt.Sprintf("        * %s (from %s)", f.Version, f.Source.Kind))
			}
		}

		if len(versionLines) == 0 {
			out = append(out, fmt.Sprintf("%s:\n  - %s and no versions were found", name, joinComma(reqStrs)))
		} else {
			out = append(out, fmt.Sprintf("%s:\n  - %s and the following version(s) were found:\n%s",
				name, joinComma(reqStrs), joinNewline(versionLines)))
		}
	}
	return out
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func joinNewline(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += "\n"
		}
		out += s
	}
	return out
}

// finalize retracts failures that turned out to have been found under
// a different requirement path, then runs the SAT consistency check
// over everything found, dropping any package whose selected version
// doesn't match the chosen assignment.
func (r *Resolution) finalize() {
	keepFailed := r.Failed[:0:0]
	for _, failed := range r.Failed {
		actuallyFound := false
		for _, pkg := range r.Found {
			if pkg.Name != failed.Name {
				continue
			}
			if failed.Constraint == nil || failed.Constraint.IsSatisfied(pkg.Version) {
				actuallyFound = true
				break
			}
		}
		if !actuallyFound {
			keepFailed = append(keepFailed, failed)
		}
	}
	r.Failed = keepFailed

	solver := sat.New()
	for _, pkg := range r.Found {
		if pkg.Ignored {
			continue
		}
		solver.AddPackage(pkg.Name, pkg.Version)

		deps := append([]pkgmeta.Dependency{}, pkg.Depends...)
		if pkg.InstallSuggests {
			deps = append(deps, pkg.Suggests...)
		}
		for _, dep := range deps {
			if dep.Constraint != nil {
				solver.AddRequirement(dep.Name, *dep.Constraint, pkg.Name)
			}
		}
	}

	assignment, failures := solver.Solve()
	if failures != nil {
		out := make(map[string][]RequirementFailure)
		for _, req := range failures {
			out[req.Package] = append(out[req.Package], RequirementFailure{
				RequiredBy: req.RequiredBy,
				VersionReq: req.Requirement.String(),
			})
		}
		r.ReqFailures = out
		return
	}

	seenNames := make(map[string]bool)
	kept := make([]ResolvedDependency, 0, len(r.Found))
	for _, pkg := range r.Found {
		if seenNames[pkg.Name] {
			continue
		}
		if chosen, ok := assignment[pkg.Name]; ok {
			if pkg.Version.Equal(chosen) {
				seenNames[pkg.Name] = true
				kept = append(kept, pkg)
			}
		} else if pkg.Ignored {
			seenNames[pkg.Name] = true
			kept = append(kept, pkg)
		}
	}
	r.Found = kept
}

// queueItem is one pending (name, constraint) lookup, plus everything
// needed to resolve it and to queue its own dependencies afterward.
type queueItem struct {
	name               string
	dep                *manifest.Dependency
	constraint         *version.Constraint
	installSuggestions bool
	forceSource        *bool
	parent             string
	remote             *pkgmeta.RemoteOverride
	localPath          string
	matchingInLockfile *bool
}

func (q queueItem) hasRequiredRepo() bool {
	return q.dep != nil && q.dep.Kind == manifest.DependencyRepository && q.dep.RepositoryAlias != ""
}

// Resolver walks a manifest's dependency graph to a Resolution.
type Resolver struct {
	ProjectDir      string
	Repositories    []RepoEntry
	RepoURLs        map[string]bool
	RuntimeVersion  version.Version
	BuiltinPackages map[string]pkgmeta.Package
	PackagesEnvVars map[string]map[string]string
	Lockfile        *lockfile.Lockfile
	GitFetcher      GitDescriptionFetcher
	URLDownloader   URLDownloader
}

// New constructs a Resolver.
func New(projectDir string, repos []RepoEntry, runtimeVersion version.Version,
	builtinPackages map[string]pkgmeta.Package, lf *lockfile.Lockfile,
	packagesEnvVars map[string]map[string]string,
	gitFetcher GitDescriptionFetcher, urlDownloader URLDownloader) *Resolver {

	repoURLs := make(map[string]bool, len(repos))
	for _, r := range repos {
		repoURLs[r.DB.URL] = true
	}

	return &Resolver{
		ProjectDir:      projectDir,
		Repositories:    repos,
		RepoURLs:        repoURLs,
		RuntimeVersion:  runtimeVersion,
		BuiltinPackages: builtinPackages,
		PackagesEnvVars: packagesEnvVars,
		Lockfile:        lf,
		GitFetcher:      gitFetcher,
		URLDownloader:   urlDownloader,
	}
}

func (r *Resolver) localLookup(item queueItem) (ResolvedDependency, []queueItem, error) {
	canonPath, err := filepath.Abs(filepath.Join(r.ProjectDir, item.localPath))
	if err != nil {
		return ResolvedDependency{}, nil, fmt.Errorf("%s doesn't exist: %w", item.localPath, err)
	}
	info, err := os.Stat(canonPath)
	if err != nil {
		return ResolvedDependency{}, nil, fmt.Errorf("%s doesn't exist", item.localPath)
	}

	var descPath, resolvedPath, sha string
	var isDir bool

	if info.IsDir() {
		resolvedPath = canonPath
		isDir = true
		if p, ok := rvfs.FindFileCaseInsensitive(canonPath, "DESCRIPTION"); ok {
			descPath = p
		}
	} else {
		tmpDir, err := os.MkdirTemp("", "rv-local-*")
		if err != nil {
			return ResolvedDependency{}, nil, err
		}
		if err := rvfs.ExtractTarGz(canonPath, tmpDir); err != nil {
			return ResolvedDependency{}, nil, err
		}
		resolvedPath = tmpDir
		entries, _ := os.ReadDir(tmpDir)
		root := tmpDir
		if len(entries) == 1 && entries[0].IsDir() {
			root = filepath.Join(tmpDir, entries[0].Name())
		}
		if p, ok := rvfs.FindFileCaseInsensitive(root, "DESCRIPTION"); ok {
			descPath = p
			resolvedPath = root
		}
		data, _ := os.ReadFile(canonPath)
		sha = source.HashContent(data)
	}

	if descPath == "" {
		return ResolvedDependency{}, nil, fmt.Errorf("no DESCRIPTION file found under %s", item.localPath)
	}

	data, err := os.ReadFile(descPath)
	if err != nil {
		return ResolvedDependency{}, nil, err
	}
	blocks := pkgmeta.ParsePackageFile(string(data))
	pkg, ok := firstPackage(blocks)
	if !ok {
		return ResolvedDependency{}, nil, fmt.Errorf("%s does not contain a valid DESCRIPTION", item.localPath)
	}

	if item.name != pkg.Name {
		return ResolvedDependency{}, nil, fmt.Errorf("found package %q from %s but it is called %q in the manifest",
			pkg.Name, item.localPath, item.name)
	}

	var src source.Source
	if isDir {
		mtime, _ := rvfs.MaxMtime(resolvedPath)
		src = source.LocalDir(item.localPath, mtime)
	} else {
		src = source.LocalTarball(item.localPath, sha)
	}

	resolved := ResolvedDependency{
		Name:               pkg.Name,
		Version:            pkg.Version,
		Source:             src,
		Depends:            pkg.InstallationDependencies(item.installSuggestions),
		Suggests:           pkg.Suggests,
		Kind:               KindSource,
		ForceSource:        true,
		InstallSuggests:    item.installSuggestions,
		InstallationStatus: cache.InstallationStatus{Status: cache.StatusSource},
		Path:               pkg.Path,
		Remotes:            pkg.Remotes,
		LocalResolvedPath:  resolvedPath,
	}
	return resolved, childItems(resolved, item), nil
}

func firstPackage(blocks map[string][]pkgmeta.Package) (pkgmeta.Package, bool) {
	for _, list := range blocks {
		if len(list) > 0 {
			return list[0], true
		}
	}
	return pkgmeta.Package{}, false
}

func (r *Resolver) lockfileLookup(item queueItem, c *cache.DiskCache) (ResolvedDependency, []queueItem, bool) {
	if item.matchingInLockfile != nil && !*item.matchingInLockfile {
		return ResolvedDependency{}, nil, false
	}

	locked, ok := r.Lockfile.Find(item.name)
	if !ok {
		return ResolvedDependency{}, nil, false
	}

	src, err := locked.ResolvedSource()
	if err != nil {
		return ResolvedDependency{}, nil, false
	}
	if src.CouldHaveChanged() {
		return ResolvedDependency{}, nil, false
	}

	lockedVersion, err := locked.ResolvedVersion()
	if err != nil {
		return ResolvedDependency{}, nil, false
	}
	if item.constraint != nil && !item.constraint.IsSatisfied(lockedVersion) {
		return ResolvedDependency{}, nil, false
	}

	status := c.GetInstallationStatus(locked.Name, locked.Version, src)

	depends := namesToDependencies(locked.Depends)
	suggests := namesToDependencies(locked.Imports)

	resolved := ResolvedDependency{
		Name:               locked.Name,
		Version:            lockedVersion,
		Source:             src,
		Depends:            depends,
		Suggests:           suggests,
		ForceSource:        locked.ForceSource,
		InstallSuggests:    locked.InstallSuggests,
		Kind:                kindFromStatus(locked.ForceSource, status),
		InstallationStatus: status,
		Path:               locked.SubPath,
		FromLockfile:       true,
	}
	return resolved, childItems(resolved, item), true
}

func kindFromStatus(forceSource bool, status cache.InstallationStatus) Kind {
	if forceSource {
		return KindSource
	}
	if status.BinaryAvailable() {
		return KindBinary
	}
	return KindSource
}

func namesToDependencies(names []string) []pkgmeta.Dependency {
	deps := make([]pkgmeta.Dependency, 0, len(names))
	for _, n := range names {
		deps = append(deps, pkgmeta.Dependency{Name: n})
	}
	return deps
}

func (r *Resolver) builtinLookup(item queueItem) (ResolvedDependency, []queueItem, bool) {
	pkg, ok := r.BuiltinPackages[item.name]
	if !ok {
		return ResolvedDependency{}, nil, false
	}
	if item.constraint != nil && !item.constraint.IsSatisfied(pkg.Version) {
		return ResolvedDependency{}, nil, false
	}

	resolved := ResolvedDependency{
		Name:               pkg.Name,
		Version:            pkg.Version,
		Source:             source.Builtin(),
		Depends:            pkg.InstallationDependencies(item.installSuggestions),
		Suggests:           pkg.Suggests,
		Kind:               KindBinary,
		InstallSuggests:    item.installSuggestions,
		InstallationStatus: cache.InstallationStatus{Status: cache.StatusBinary},
		Path:               pkg.Path,
	}
	return resolved, childItems(resolved, item), true
}

func (r *Resolver) repositoriesLookup(item queueItem, c *cache.DiskCache) (ResolvedDependency, []queueItem, bool) {
	var repositoryAlias string
	if item.dep != nil && item.dep.Kind == manifest.DependencyRepository {
		repositoryAlias = item.dep.RepositoryAlias
	}

	for _, entry := range r.Repositories {
		if repositoryAlias != "" && entry.DB.URL != repositoryAlias {
			continue
		}

		forceSource := entry.ForceSource
		if item.forceSource != nil {
			forceSource = *item.forceSource
		}

		pkg, kind, ok := entry.DB.Find(item.name, item.constraint, r.RuntimeVersion, forceSource)
		if !ok {
			continue
		}

		var pkgSource source.Source
		if pkg.RemoteURL != "" && pkg.RemoteSHA != "" {
			pkgSource = source.Universe(entry.DB.URL, pkg.RemoteURL, pkg.RemoteSHA, pkg.RemoteSubdir)
		} else {
			pkgSource = source.Repository(entry.DB.URL)
		}

		status := c.GetInstallationStatus(pkg.Name, pkg.Version.String(), pkgSource)
		if forceSource {
			status = status.MarkAsBinaryUnavailable()
		}

		resolved := ResolvedDependency{
			Name:               pkg.Name,
			Version:            pkg.Version,
			Source:             pkgSource,
			Depends:            pkg.InstallationDependencies(item.installSuggestions),
			Suggests:           pkg.Suggests,
			ForceSource:        forceSource,
			InstallSuggests:    item.installSuggestions,
			Kind:               kindOf(kind),
			InstallationStatus: status,
			Path:               pkg.Path,
		}
		return resolved, childItems(resolved, item), true
	}
	return ResolvedDependency{}, nil, false
}

func kindOf(k repository.PackageKind) Kind {
	if k == repository.KindBinary {
		return KindBinary
	}
	return KindSource
}

func (r *Resolver) gitLookup(item queueItem, gitURL, ref, subdir string, c *cache.DiskCache) (ResolvedDependency, []queueItem, error) {
	reference := vcsfetch.Reference{Kind: vcsfetch.RefUnknown, Name: ref}
	if item.dep != nil && item.dep.Kind == manifest.DependencyGit {
		switch {
		case item.dep.Commit != "":
			reference = vcsfetch.Reference{Kind: vcsfetch.RefCommit, Name: item.dep.Commit}
		case item.dep.Branch != "":
			reference = vcsfetch.Reference{Kind: vcsfetch.RefBranch, Name: item.dep.Branch}
		case item.dep.Tag != "":
			reference = vcsfetch.Reference{Kind: vcsfetch.RefTag, Name: item.dep.Tag}
		}
	}

	sha, descContent, err := r.GitFetcher.FetchDescription(gitURL, reference, subdir)
	if err != nil {
		return ResolvedDependency{}, nil, fmt.Errorf("could not fetch repository %s (ref: %s): %w", gitURL, ref, err)
	}

	blocks := pkgmeta.ParsePackageFile(descContent)
	pkg, ok := firstPackage(blocks)
	if !ok {
		return ResolvedDependency{}, nil, fmt.Errorf("DESCRIPTION file from %s was found but is not valid", gitURL)
	}
	if item.name != pkg.Name {
		return ResolvedDependency{}, nil, fmt.Errorf("found package %q from %s but it is called %q in the manifest",
			pkg.Name, gitURL, item.name)
	}

	var tag, branch string
	if item.dep != nil {
		tag, branch = item.dep.Tag, item.dep.Branch
	}
	src := source.Git(gitURL, sha, subdir, tag, branch)

	status := c.GetInstallationStatus(pkg.Name, pkg.Version.String(), src)

	resolved := ResolvedDependency{
		Name:               pkg.Name,
		Version:            pkg.Version,
		Source:             src,
		Depends:            pkg.InstallationDependencies(item.installSuggestions),
		Suggests:           pkg.Suggests,
		ForceSource:        true,
		InstallSuggests:    item.installSuggestions,
		Kind:               KindSource,
		InstallationStatus: status,
		Path:               pkg.Path,
		Remotes:            pkg.Remotes,
	}
	return resolved, childItems(resolved, item), nil
}

func (r *Resolver) urlLookup(item queueItem, url string, c *cache.DiskCache) (ResolvedDependency, []queueItem, error) {
	dir, sha, err := r.URLDownloader.DownloadAndExtract(url)
	if err != nil {
		return ResolvedDependency{}, nil, err
	}

	descPath, ok := rvfs.FindFileCaseInsensitive(dir, "DESCRIPTION")
	if !ok {
		return ResolvedDependency{}, nil, fmt.Errorf("no DESCRIPTION file found after downloading %s", url)
	}
	data, err := os.ReadFile(descPath)
	if err != nil {
		return ResolvedDependency{}, nil, err
	}
	blocks := pkgmeta.ParsePackageFile(string(data))
	pkg, ok := firstPackage(blocks)
	if !ok {
		return ResolvedDependency{}, nil, fmt.Errorf("%s did not contain a valid DESCRIPTION", url)
	}
	if item.name != pkg.Name {
		return ResolvedDependency{}, nil, fmt.Errorf("found package %q from %s but it is called %q in the manifest",
			pkg.Name, url, item.name)
	}

	src := source.URL(url, sha)
	status := c.GetInstallationStatus(pkg.Name, pkg.Version.String(), src)

	resolved := ResolvedDependency{
		Name:               pkg.Name,
		Version:            pkg.Version,
		Source:             src,
		Depends:            pkg.InstallationDependencies(item.installSuggestions),
		Suggests:           pkg.Suggests,
		InstallSuggests:    item.installSuggestions,
		Kind:               KindSource,
		InstallationStatus: status,
		Path:               pkg.Path,
	}
	return resolved, childItems(resolved, item), nil
}

// childItems builds the BFS queue entries for a resolved dependency's
// own direct and (if installed) suggested dependencies.
func childItems(resolved ResolvedDependency, parent queueItem) []queueItem {
	deps := resolved.Depends
	if resolved.InstallSuggests {
		deps = append(append([]pkgmeta.Dependency{}, deps...), resolved.Suggests...)
	}

	items := make([]queueItem, 0, len(deps))
	for _, dep := range deps {
		constraint := dep.Constraint
		var remote *pkgmeta.RemoteOverride
		for name, r := range resolved.Remotes {
			rr := r
			if rr.PackageName == dep.Name || (rr.PackageName == "" && name == dep.Name) {
				remote = &rr
			}
		}
		items = append(items, queueItem{
			name:       dep.Name,
			constraint: constraint,
			parent:     resolved.Name,
			remote:     remote,
		})
	}
	return items
}

// Resolve walks deps breadth-first per the priority cascade described
// in the package doc, returning everything found, everything that
// couldn't be, and any remaining SAT-level version conflicts.
func (r *Resolver) Resolve(deps []manifest.Dependency, preferRepositoriesFor []string, c *cache.DiskCache) *Resolution {
	result := &Resolution{}
	processed := make(map[string]map[*version.Constraint]bool, len(deps)*4)

	repoRequired := make(map[string]bool)
	dependenciesOnly := make(map[string]bool)
	for _, d := range deps {
		if d.Kind == manifest.DependencyRepository && d.RepositoryAlias != "" {
			repoRequired[d.Name] = true
		}
		if d.DependenciesOnly {
			dependenciesOnly[d.Name] = true
		}
	}

	var queue []queueItem
	for i := range deps {
		d := &deps[i]
		var forceSource *bool
		if d.ForceSource {
			fs := true
			forceSource = &fs
		}

		var matching *bool
		if r.Lockfile != nil {
			if locked, ok := r.Lockfile.Find(d.Name); ok {
				m := dependencyMatchesLocked(d, locked, r.RepoURLs)
				matching = &m
			}
		}

		queue = append(queue, queueItem{
			name:               d.Name,
			dep:                d,
			installSuggestions: d.InstallSuggestions,
			forceSource:        forceSource,
			localPath:          d.Path,
			matchingInLockfile: matching,
		})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if reqs, ok := processed[item.name]; ok {
			if repoRequired[item.name] {
				continue
			}
			if reqs[item.constraint] {
				continue
			}
		}

		if item.localPath != "" {
			resolved, children, err := r.localLookup(item)
			if err == nil {
				markProcessed(processed, resolved.Name, item.constraint)
				result.addFound(resolved)
				queue = append(queue, children...)
				continue
			}
			result.Failed = append(result.Failed, UnresolvedDependency{
				Name: item.name, Constraint: item.constraint, Parent: item.parent,
				Error: err.Error(), LocalPath: item.localPath,
			})
			continue
		}

		if !item.hasRequiredRepo() {
			if resolved, children, ok := r.builtinLookup(item); ok {
				markProcessed(processed, resolved.Name, item.constraint)
				result.addFound(resolved)
				queue = append(queue, children...)
				continue
			}
		}

		if resolved, children, ok := r.lockfileLookup(item, c); ok {
			markProcessed(processed, resolved.Name, item.constraint)
			result.addFound(resolved)
			queue = append(queue, children...)
			continue
		}

		markProcessed(processed, item.name, item.constraint)

		var remoteResolved *ResolvedDependency
		var remoteChildren []queueItem
		canBeOverridden := item.constraint != nil && contains(preferRepositoriesFor, item.name)

		if item.remote != nil {
			resolved, children, err := r.gitLookup(item, item.remote.GitURL, item.remote.Ref, item.remote.SubPath, c)
			if err != nil {
				result.Failed = append(result.Failed, UnresolvedDependency{
					Name: item.name, Constraint: item.constraint, Parent: item.parent,
					Error: err.Error(), Remote: item.remote,
				})
			} else {
				resolved.FromRemote = true
				if canBeOverridden {
					remoteResolved = &resolved
					remoteChildren = children
				} else {
					result.addFound(resolved)
					queue = append(queue, children...)
				}
			}
			if remoteResolved == nil {
				continue
			}
		}

		switch {
		case item.dep == nil, item.dep.Kind == manifest.DependencyBare, item.dep.Kind == manifest.DependencyRepository:
			if item.constraint == nil && result.foundInRepo(item.name) {
				continue
			}
			if resolved, children, ok := r.repositoriesLookup(item, c); ok {
				result.addFound(resolved)
				queue = append(queue, children...)
			} else if remoteResolved != nil {
				result.addFound(*remoteResolved)
				queue = append(queue, remoteChildren...)
			} else {
				result.Failed = append(result.Failed, UnresolvedDependency{
					Name: item.name, Constraint: item.constraint, Parent: item.parent,
				})
			}
		case item.dep.Kind == manifest.DependencyURL:
			resolved, children, err := r.urlLookup(item, item.dep.URL, c)
			if err != nil {
				result.Failed = append(result.Failed, UnresolvedDependency{
					Name: item.name, Constraint: item.constraint, Parent: item.parent,
					Error: err.Error(), URL: item.dep.URL,
				})
			} else {
				result.addFound(resolved)
				queue = append(queue, children...)
			}
		case item.dep.Kind == manifest.DependencyGit:
			ref := item.dep.Commit
			if ref == "" {
				ref = item.dep.Branch
			}
			if ref == "" {
				ref = item.dep.Tag
			}
			resolved, children, err := r.gitLookup(item, item.dep.GitURL, ref, item.dep.Directory, c)
			if err != nil {
				result.Failed = append(result.Failed, UnresolvedDependency{
					Name: item.name, Constraint: item.constraint, Parent: item.parent,
					Error: err.Error(),
				})
			} else {
				result.addFound(resolved)
				queue = append(queue, children...)
			}
		}
	}

	for name := range dependenciesOnly {
		result.ignore(name)
	}

	for i := range result.Found {
		dep := &result.Found[i]
		if envVars, ok := r.PackagesEnvVars[dep.Name]; ok {
			dep.EnvVars = envVars
		}
	}

	result.finalize()
	return result
}

func markProcessed(processed map[string]map[*version.Constraint]bool, name string, constraint *version.Constraint) {
	if processed[name] == nil {
		processed[name] = make(map[*version.Constraint]bool)
	}
	processed[name][constraint] = true
}

func contains(items []string, s string) bool {
	for _, i := range items {
		if i == s {
			return true
		}
	}
	return false
}

func dependencyMatchesLocked(dep *manifest.Dependency, locked lockfile.LockedPackage, repoURLs map[string]bool) bool {
	src, err := locked.ResolvedSource()
	if err != nil {
		return false
	}
	switch dep.Kind {
	case manifest.DependencyGit:
		return src.Kind == source.KindGit && src.GitURL == dep.GitURL
	case manifest.DependencyURL:
		return src.Kind == source.KindURL && src.ArchiveURL == dep.URL
	case manifest.DependencyLocal:
		return src.Kind == source.KindLocal && src.LocalPath == dep.Path
	case manifest.DependencyRepository:
		if dep.RepositoryAlias == "" {
			return repoURLs[src.RepositoryURL]
		}
		return src.RepositoryURL == dep.RepositoryAlias
	default:
		return repoURLs[src.RepositoryURL]
	}
}
