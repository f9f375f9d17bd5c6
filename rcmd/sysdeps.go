package rcmd

import (
	"os/exec"
	"strings"

	"github.com/kraklabs/rv/platform"
)

// knownPathTools are system dependencies that are better detected by
// checking PATH than by querying the OS package database, since their
// package name rarely matches the binary name.
var knownPathTools = map[string]bool{
	"cmake":      true,
	"pkg-config": true,
	"git":        true,
}

// SystemDependencyChecker reports which of a package's declared
// system dependencies are absent, querying the host's package
// database (apt/dpkg on Debian-likes, rpm on RPM-likes) plus PATH for
// tools conventionally installed outside the package manager.
// Grounded on original_source/src/system_req.rs's
// check_installation_status; the conda install path it also offers is
// out of scope here, since this module never installs system packages
// itself.
type SystemDependencyChecker struct {
	Platform platform.Info
}

// Missing returns the subset of names not found installed.
func (c SystemDependencyChecker) Missing(names []string) []string {
	if len(names) == 0 {
		return nil
	}

	present := make(map[string]bool, len(names))
	switch c.Platform.Distro {
	case "ubuntu", "debian":
		for _, pkg := range c.dpkgPresent(names) {
			present[pkg] = true
		}
	case "centos", "redhat", "rockylinux", "almalinux", "opensuse", "sle":
		for _, pkg := range c.rpmPresent(names) {
			present[pkg] = true
		}
	}

	var missing []string
	for _, name := range names {
		if present[name] {
			continue
		}
		if knownPathTools[name] {
			if _, err := exec.LookPath(name); err == nil {
				continue
			}
		}
		missing = append(missing, name)
	}
	return missing
}

func (c SystemDependencyChecker) dpkgPresent(names []string) []string {
	args := append([]string{"-W", "-f=${Package}\n"}, names...)
	out, err := exec.Command("dpkg-query", args...).Output()
	if err != nil {
		return nil
	}
	var present []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			present = append(present, line)
		}
	}
	return present
}

func (c SystemDependencyChecker) rpmPresent(names []string) []string {
	args := append([]string{"-q"}, names...)
	out, _ := exec.Command("rpm", args...).Output()
	var present []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if pkg, ok := extractRPMPackageName(line); ok {
			present = append(present, pkg)
		}
	}
	return present
}

// extractRPMPackageName strips the version-release.arch suffix from a
// line of `rpm -q` output, e.g. "libxml2-2.9.7-1.el8.x86_64".
func extractRPMPackageName(line string) (string, bool) {
	if line == "" || strings.Contains(line, "is not installed") {
		return "", false
	}
	fields := strings.Split(line, "-")
	if len(fields) >= 3 {
		return strings.Join(fields[:len(fields)-2], "-"), true
	}
	return line, true
}
