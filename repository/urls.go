package repository

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kraklabs/rv/platform"
)

// distroName maps a distro id to the path segment a PPM/PRISM-style
// repository expects for its Linux binary tree, per the mapping at
// https://packagemanager.posit.co/client/#/repos/cran/setup. Returns
// false if the distro/version combination isn't supported.
func distroName(info platform.Info, distro string) (string, bool) {
	major, hasMajor := info.MajorVersion()
	switch distro {
	case "centos":
		if hasMajor && major >= 7 {
			return fmt.Sprintf("centos%d", major), true
		}
	case "almalinux":
		if hasMajor && major >= 9 {
			return fmt.Sprintf("rhel%d", major), true
		}
		if hasMajor && major >= 8 {
			return fmt.Sprintf("centos%d", major), true
		}
	case "rocky":
		if hasMajor && major >= 9 {
			return fmt.Sprintf("rhel%d", major), true
		}
	case "redhat":
		if hasMajor && major >= 9 {
			return fmt.Sprintf("rhel%d", major), true
		}
		if hasMajor && major >= 7 {
			return fmt.Sprintf("centos%d", major), true
		}
	case "ubuntu", "debian":
		if info.Codename != "" {
			return info.Codename, true
		}
	}
	return "", false
}

func withExtraSegments(base *url.URL, segments ...string) *url.URL {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Join(segments, "/")
	return &u
}

func sourcePath(base *url.URL, filePath []string) *url.URL {
	return withExtraSegments(base, append([]string{"src", "contrib"}, filePath...)...)
}

func archiveTarballPath(base *url.URL, name, ver string) *url.URL {
	fileName := fmt.Sprintf("%s_%s.tar.gz", name, ver)
	return withExtraSegments(base, "src", "contrib", "Archive", name, fileName)
}

// binaryPath builds the binary-tree URL for filePath under base, or
// returns nil if this OS/R-version/distro combination has no binaries
// (the repository's binary availability rules for this OS/R-version).
func binaryPath(base *url.URL, filePath []string, rVersion [2]uint32, info platform.Info) *url.URL {
	if rVersion[0] < 3 || (rVersion[0] == 3 && rVersion[1] < 6) {
		return nil
	}

	switch info.OS {
	case platform.Windows:
		segs := append([]string{"bin", "windows", "contrib", fmt.Sprintf("%d.%d", rVersion[0], rVersion[1])}, filePath...)
		return withExtraSegments(base, segs...)
	case platform.MacOS:
		if info.Arch == "" {
			return nil
		}
		segs := []string{"bin", "macosx"}
		if !(info.Arch == "x86_64" && rVersion[0] == 4 && rVersion[1] <= 2) {
			segs = append(segs, fmt.Sprintf("big-sur-%s", info.Arch))
		}
		segs = append(segs, "contrib", fmt.Sprintf("4.%d", rVersion[1]))
		segs = append(segs, filePath...)
		return withExtraSegments(base, segs...)
	case platform.Linux:
		return linuxBinaryPath(base, filePath, rVersion, info)
	default:
		return nil
	}
}

func linuxBinaryPath(base *url.URL, filePath []string, rVersion [2]uint32, info platform.Info) *url.URL {
	rv := fmt.Sprintf("%d.%d", rVersion[0], rVersion[1])
	addQuery := func(u *url.URL) {
		q := u.Query()
		q.Set("r_version", rv)
		if info.Arch != "" {
			q.Set("arch", info.Arch)
		}
		u.RawQuery = q.Encode()
	}

	segments := strings.Split(strings.Trim(base.Path, "/"), "/")
	for _, s := range segments {
		if s == "__linux__" {
			u := sourcePath(base, filePath)
			addQuery(u)
			return u
		}
	}

	name, ok := distroName(info, info.Distro)
	if !ok || len(segments) == 0 {
		return nil
	}

	edition := segments[len(segments)-1]
	rest := segments[:len(segments)-1]
	newPath := append(append([]string{}, rest...), "__linux__", name, edition, "src", "contrib")
	newPath = append(newPath, filePath...)

	u := *base
	u.Path = "/" + strings.Join(newPath, "/")
	addQuery(&u)
	return &u
}

// TarballURLs are the candidate locations of a single Repository-sourced
// package's tarball: the current source tree, optionally a pre-built
// binary, and the CRAN-style Archive fallback for superseded versions.
type TarballURLs struct {
	Source  *url.URL
	Binary  *url.URL
	Archive *url.URL
}

// GetTarballURLs builds the source/binary/archive tarball URLs for a
// Repository-sourced package at repoURL, given its name, version, and
// optional index sub-path.
func GetTarballURLs(repoURL, name, ver, subPath string, rVersion [2]uint32, info platform.Info) (TarballURLs, error) {
	base, err := url.Parse(repoURL)
	if err != nil {
		return TarballURLs{}, fmt.Errorf("invalid repository url %q: %w", repoURL, err)
	}

	var prefix []string
	if subPath != "" {
		prefix = strings.Split(subPath, "/")
	}

	ext := info.TarballExtension()
	binaryFile := append(append([]string{}, prefix...), fmt.Sprintf("%s_%s.%s", name, ver, ext))
	sourceFile := append(append([]string{}, prefix...), fmt.Sprintf("%s_%s.tar.gz", name, ver))

	return TarballURLs{
		Source:  sourcePath(base, sourceFile),
		Binary:  binaryPath(base, binaryFile, rVersion, info),
		Archive: archiveTarballPath(base, name, ver),
	}, nil
}

// packageIndexFilename is the per-repository package metadata file rv
// downloads to build a Database.
const packageIndexFilename = "PACKAGES"

// GetPackageIndexURLs returns the source and (if supported) binary
// PACKAGES index URLs for repoURL.
func GetPackageIndexURLs(repoURL string, rVersion [2]uint32, info platform.Info) (source *url.URL, binary *url.URL, err error) {
	base, err := url.Parse(repoURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid repository url %q: %w", repoURL, err)
	}
	return sourcePath(base, []string{packageIndexFilename}), binaryPath(base, []string{packageIndexFilename}, rVersion, info), nil
}
