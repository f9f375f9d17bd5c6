// Package manifest implements the project manifest TOML model: the
// `[project]` table, repository list, dependency list (five possible
// shapes), and the `packages_env_vars`/`configure_args` supplementary
// tables, decoded with github.com/pelletier/go-toml using the same
// raw/cooked two-struct pattern Go TOML manifests commonly use.
package manifest

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/kraklabs/rv/rverrors"
)

// Project is the `[project]` table.
type Project struct {
	Name         string `toml:"name"`
	RVersion     string `toml:"r_version"`
	Description  string `toml:"description,omitempty"`
	License      string `toml:"license,omitempty"`
	Library      string `toml:"library,omitempty"`
	LockfileName string `toml:"lockfile_name,omitempty"`
	CondaEnv     string `toml:"conda_env,omitempty"`
	UseLockfile  *bool  `toml:"use_lockfile,omitempty"`
}

// UsesLockfile reports the effective use_lockfile setting, defaulting
// to true when unset.
func (p Project) UsesLockfile() bool {
	return p.UseLockfile == nil || *p.UseLockfile
}

// Repository is one entry in the repositories list.
type Repository struct {
	Alias       string `toml:"alias"`
	URL         string `toml:"url"`
	ForceSource bool   `toml:"force_source,omitempty"`
}

// DependencyKind discriminates the five dependency-entry shapes.
type DependencyKind int

const (
	DependencyBare DependencyKind = iota
	DependencyRepository
	DependencyGit
	DependencyLocal
	DependencyURL
)

// Dependency is a single manifest dependency entry. Only the fields
// relevant to Kind are meaningful, mirroring the closed-variant-struct
// pattern used throughout this module (see source.Source).
type Dependency struct {
	Kind DependencyKind
	Name string

	// Repository
	RepositoryAlias string

	// Git
	GitURL    string
	Commit    string
	Tag       string
	Branch    string
	Directory string

	// Local
	Path string

	// Url
	URL string

	ForceSource         bool
	InstallSuggestions  bool
	DependenciesOnly    bool
}

// UnmarshalTOML implements toml.Unmarshaler so a dependency entry can
// be either a bare string or one of the four table shapes.
func (d *Dependency) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*d = Dependency{Kind: DependencyBare, Name: v}
		return nil
	case map[string]interface{}:
		return d.fromTable(v)
	default:
		return fmt.Errorf("unrecognized dependency entry shape: %T", data)
	}
}

func (d *Dependency) fromTable(t map[string]interface{}) error {
	name, _ := t["name"].(string)
	if name == "" {
		return fmt.Errorf("dependency table entry missing required 'name' field")
	}
	*d = Dependency{Name: name}

	d.InstallSuggestions, _ = t["install_suggestions"].(bool)
	d.DependenciesOnly, _ = t["dependencies_only"].(bool)
	d.ForceSource, _ = t["force_source"].(bool)

	gitURL, hasGit := t["git"].(string)
	path, hasPath := t["path"].(string)
	url, hasURL := t["url"].(string)
	repoAlias, hasRepo := t["repository"].(string)

	switch {
	case hasGit:
		d.Kind = DependencyGit
		d.GitURL = gitURL
		d.Commit, _ = t["commit"].(string)
		d.Tag, _ = t["tag"].(string)
		d.Branch, _ = t["branch"].(string)
		d.Directory, _ = t["directory"].(string)
		set := 0
		for _, s := range []string{d.Commit, d.Tag, d.Branch} {
			if s != "" {
				set++
			}
		}
		if set != 1 {
			return &rverrors.ManifestSemanticError{Package: name, Reason: "exactly one of commit/tag/branch must be set"}
		}
	case hasPath:
		d.Kind = DependencyLocal
		d.Path = path
	case hasURL:
		d.Kind = DependencyURL
		d.URL = url
	case hasRepo:
		d.Kind = DependencyRepository
		d.RepositoryAlias = repoAlias
	default:
		d.Kind = DependencyRepository
	}
	return nil
}

// ConfigureRule selects extra configure arguments by OS/arch tags.
type ConfigureRule struct {
	OS   []string `toml:"os,omitempty"`
	Arch []string `toml:"arch,omitempty"`
	Args []string `toml:"args"`
}

// Manifest is the full parsed project manifest.
type Manifest struct {
	Project      Project                    `toml:"project"`
	Repositories []Repository               `toml:"repositories,omitempty"`
	Dependencies []Dependency               `toml:"dependencies,omitempty"`
	Suggests     []Dependency               `toml:"suggests,omitempty"`

	PackagesEnvVars map[string]map[string]string `toml:"packages_env_vars,omitempty"`
	ConfigureArgs   map[string][]ConfigureRule    `toml:"configure_args,omitempty"`
}

// Load reads and parses a project manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &rverrors.ManifestError{Path: path, Err: err}
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &rverrors.ManifestError{Path: path, Err: err}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save writes m to path.
func (m *Manifest) Save(path string) error {
	data, err := toml.Marshal(*m)
	if err != nil {
		return &rverrors.ManifestError{Path: path, Err: err}
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *Manifest) validate() error {
	aliases := make(map[string]bool, len(m.Repositories))
	for _, r := range m.Repositories {
		aliases[r.Alias] = true
	}
	for _, d := range m.Dependencies {
		if d.Kind == DependencyRepository && d.RepositoryAlias != "" && !aliases[d.RepositoryAlias] {
			return &rverrors.ManifestSemanticError{
				Package: d.Name,
				Reason:  fmt.Sprintf("unknown repository alias %q", d.RepositoryAlias),
			}
		}
	}
	return nil
}

// ConfigureArgsFor returns the args of the first rule matching the
// given OS/arch tags, or nil if none match.
func ConfigureArgsFor(rules []ConfigureRule, osTag, archTag string) []string {
	for _, rule := range rules {
		if tagMatches(rule.OS, osTag) && tagMatches(rule.Arch, archTag) {
			return rule.Args
		}
	}
	return nil
}

func tagMatches(tags []string, want string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
