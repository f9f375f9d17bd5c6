package rcmd

import (
	"os/exec"
	"regexp"

	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/version"
)

// rVersionPattern extracts a runtime version number from `R --version`
// output, e.g. "R version 4.3.1 (2023-06-16)".
var rVersionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// Version runs the configured R binary and parses its reported
// version, grounded on original_source/src/r_cmd.rs's
// find_r_version/R_VERSION_RE.
func (inst *Installer) Version() (version.Version, error) {
	binary := inst.Binary
	if binary == "" {
		binary = "R"
	}
	out, err := exec.Command(binary, "--version").Output()
	if err != nil {
		return version.Version{}, err
	}
	match := rVersionPattern.FindString(string(out))
	if match == "" {
		return version.Version{}, &versionNotFoundError{output: string(out)}
	}
	return version.Parse(match)
}

type versionNotFoundError struct{ output string }

func (e *versionNotFoundError) Error() string {
	return "could not find an R version number in: " + e.output
}

// BuiltinPackages returns the synthetic package records for every
// name in pkgmeta.BasePackages, all pinned to runtimeVersion since
// base packages always ship at the runtime's own version and are
// never fetched from a repository.
func BuiltinPackages(runtimeVersion version.Version) map[string]pkgmeta.Package {
	out := make(map[string]pkgmeta.Package, len(pkgmeta.BasePackages))
	for name := range pkgmeta.BasePackages {
		out[name] = pkgmeta.Package{Name: name, Version: runtimeVersion}
	}
	return out
}
