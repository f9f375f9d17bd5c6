package pkgmeta

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/version"
)

var anySpaceRE = regexp.MustCompile(`\s+`)

// ParseDependencies parses a comma-separated Depends/Imports/...-style
// field value into a Dependency slice. Trailing empty entries (a
// trailing comma in the source field) are skipped.
func ParseDependencies(content string) ([]Dependency, error) {
	var deps []Dependency
	for _, raw := range strings.Split(content, ",") {
		dep := strings.TrimSpace(raw)
		if dep == "" {
			continue
		}
		if idx := strings.IndexByte(dep, '('); idx >= 0 {
			name := strings.TrimSpace(dep[:idx])
			reqStr := strings.TrimSpace(dep[idx:])
			c, err := version.ParseConstraint(reqStr)
			if err != nil {
				return nil, fmt.Errorf("parsing dependency %q: %w", dep, err)
			}
			deps = append(deps, Dependency{Name: name, Constraint: &c})
		} else {
			deps = append(deps, Dependency{Name: dep})
		}
	}
	return deps, nil
}

// ParsePackageFile parses a PACKAGES/DESCRIPTION-style key/value
// index file into a name -> ordered-list-of-records map,
// preserving on-wire order (latest-last).
//
// This assumes the content is well-formed; malformed version or
// constraint fields are skipped rather than aborting the whole parse,
// since a single bad upstream record shouldn't take down an entire
// repository's index.
func ParsePackageFile(content string) map[string][]Package {
	packages := make(map[string][]Package)

	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	for _, block := range strings.Split(normalized, "\n\n") {
		pkg := parseBlock(block)
		if pkg.Name == "" {
			continue
		}
		packages[pkg.Name] = append(packages[pkg.Name], pkg)
	}

	return packages
}

// ParseDescriptionFile reads a single package's DESCRIPTION file and
// returns its declared version. DESCRIPTION uses the same key/value
// block shape as one entry of a PACKAGES index.
func ParseDescriptionFile(path string) (version.Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return version.Version{}, err
	}
	pkg := parseBlock(string(data))
	if pkg.Version.IsZero() {
		return version.Version{}, fmt.Errorf("%s: no Version field", path)
	}
	return pkg.Version, nil
}

func parseBlock(block string) Package {
	var pkg Package
	pkg.Remotes = make(map[string]RemoteOverride)

	scanner := bufio.NewScanner(strings.NewReader(block))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var key string
	var value strings.Builder
	flush := func() {
		if key == "" {
			return
		}
		val := anySpaceRE.ReplaceAllString(value.String(), " ")
		val = strings.TrimSpace(val)
		applyField(&pkg, key, val)
		key = ""
		value.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && key != "" {
			value.WriteByte(' ')
			value.WriteString(strings.TrimSpace(line))
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		flush()
		key = strings.TrimSpace(line[:idx])
		value.WriteString(strings.TrimSpace(line[idx+1:]))
	}
	flush()

	return pkg
}

func applyField(pkg *Package, key, value string) {
	switch key {
	case "Package":
		pkg.Name = value
	case "Version":
		if v, err := version.Parse(value); err == nil {
			pkg.Version = v
		}
	case "Depends":
		deps, err := ParseDependencies(value)
		if err != nil {
			return
		}
		for _, d := range deps {
			if d.Name == "R" {
				c := d.Constraint
				pkg.RuntimeRequirement = c
				continue
			}
			pkg.Depends = append(pkg.Depends, d)
		}
	case "Imports":
		pkg.Imports, _ = ParseDependencies(value)
	case "LinkingTo":
		pkg.LinkingTo, _ = ParseDependencies(value)
	case "Suggests":
		pkg.Suggests, _ = ParseDependencies(value)
	case "Enhances":
		pkg.Enhances, _ = ParseDependencies(value)
	case "License":
		pkg.License = value
	case "MD5sum":
		pkg.MD5Sum = value
	case "NeedsCompilation":
		pkg.NeedsCompilation = value == "yes"
	case "Path":
		pkg.Path = value
	case "Priority":
		if value == "recommended" {
			pkg.Recommended = true
		}
	case "Remotes":
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			pkg.Remotes[part] = ParseRemote(part)
		}
	case "Built":
		built := value
		pkg.Built = &built
	default:
		// SystemRequirements and any unrecognized key are ignored.
	}
}

// ParseRemote parses a Remotes field entry of the form
// "owner/repo[:subdir][@ref]" into a RemoteOverride. This is a
// simplified stand-in for the runtime's own remote-spec grammar;
// unrecognized shapes are kept as the raw GitURL with no ref/subpath.
func ParseRemote(spec string) RemoteOverride {
	out := RemoteOverride{GitURL: spec}

	if at := strings.LastIndexByte(spec, '@'); at >= 0 {
		out.GitURL = spec[:at]
		out.Ref = spec[at+1:]
	}
	if colon := strings.IndexByte(out.GitURL, ':'); colon >= 0 && !strings.Contains(out.GitURL[:colon], "//") {
		out.SubPath = out.GitURL[colon+1:]
		out.GitURL = out.GitURL[:colon]
	}
	return out
}

// runiversePackage is the wire shape of a single R-Universe API
// record, matching r-universe's package API shape.
type runiversePackage struct {
	Package          string `json:"Package"`
	Version          string `json:"Version"`
	License          string `json:"License"`
	MD5Sum           string `json:"MD5sum"`
	NeedsCompilation string `json:"NeedsCompilation"`
	Remotes          []string `json:"Remotes"`
	Dependencies     []runiverseDependency `json:"_dependencies"`
	RemoteURL        string `json:"RemoteUrl"`
	RemoteSHA        string `json:"RemoteSha"`
	RemoteSubdir     string `json:"RemoteSubdir"`
}

type runiverseDependency struct {
	Package string  `json:"Package"`
	Version *string `json:"Version"`
	Role    string  `json:"Role"`
}

// ParseUniverseAPI parses a JSON array as served by an R-Universe-style
// package index into a name -> []Package map (always a single-element
// slice per name, since Universe indexes have no multi-version
// history).
func ParseUniverseAPI(content string) (map[string][]Package, error) {
	var apis []runiversePackage
	if err := json.Unmarshal([]byte(content), &apis); err != nil {
		return nil, fmt.Errorf("parsing r-universe api response: %w", err)
	}

	out := make(map[string][]Package, len(apis))
	for _, api := range apis {
		pkg, err := universeToPackage(api)
		if err != nil {
			continue
		}
		out[pkg.Name] = []Package{pkg}
	}
	return out, nil
}

func universeToPackage(api runiversePackage) (Package, error) {
	v, err := version.Parse(api.Version)
	if err != nil {
		return Package{}, err
	}

	mapDeps := func(role string) []Dependency {
		var deps []Dependency
		for _, d := range api.Dependencies {
			if d.Role != role || d.Package == "R" {
				continue
			}
			dep := Dependency{Name: d.Package}
			if d.Version != nil {
				if c, err := version.ParseConstraint("(" + *d.Version + ")"); err == nil {
					dep.Constraint = &c
				}
			}
			deps = append(deps, dep)
		}
		return deps
	}

	var runtimeReq *version.Constraint
	for _, d := range api.Dependencies {
		if d.Package == "R" && d.Version != nil {
			if c, err := version.ParseConstraint("(" + *d.Version + ")"); err == nil {
				runtimeReq = &c
			}
		}
	}

	remotes := make(map[string]RemoteOverride, len(api.Remotes))
	for _, r := range api.Remotes {
		remotes[r] = ParseRemote(r)
	}

	return Package{
		Name:               api.Package,
		Version:            v,
		RuntimeRequirement: runtimeReq,
		Depends:            mapDeps("Depends"),
		Imports:            mapDeps("Imports"),
		Suggests:           mapDeps("Suggests"),
		Enhances:           mapDeps("Enhances"),
		LinkingTo:          mapDeps("LinkingTo"),
		License:            api.License,
		MD5Sum:             api.MD5Sum,
		Recommended:        RecommendedPackages[api.Package],
		NeedsCompilation:   strings.EqualFold(api.NeedsCompilation, "yes"),
		Remotes:            remotes,
		RemoteURL:          api.RemoteURL,
		RemoteSHA:          api.RemoteSHA,
		RemoteSubdir:       api.RemoteSubdir,
	}, nil
}

// ToUniverseSource builds the resolved source.Source for a Universe
// package record, using the repository index URL it was found in.
func ToUniverseSource(repoURL string, pkg Package) source.Source {
	return source.Universe(repoURL, pkg.RemoteURL, source.NormalizeSHA(pkg.RemoteSHA), pkg.RemoteSubdir)
}
