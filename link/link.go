// Package link materializes an installed package from the cache into
// a project library directory, choosing among copy, reflink clone,
// hardlink, and symlink strategies, grounded on
// original_source/src/sync/link.rs's LinkMode.
package link

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/termie/go-shutil"
	"golang.org/x/sys/unix"

	"github.com/kraklabs/rv/rvfs"
)

// envName is the environment variable overriding the default link
// mode selection.
const envName = "RV_LINK_MODE"

// Mode is a package-installation linking strategy.
type Mode int

const (
	Copy Mode = iota
	Clone
	Hardlink
	Symlink
)

func (m Mode) String() string {
	switch m {
	case Copy:
		return "copy"
	case Clone:
		return "clone"
	case Hardlink:
		return "hardlink"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// parseMode recognizes an explicit mode name, case-insensitively.
func parseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "copy":
		return Copy, true
	case "clone":
		return Clone, true
	case "hardlink":
		return Hardlink, true
	case "symlink":
		return Symlink, true
	default:
		return 0, false
	}
}

// defaultMode is Clone on macOS (APFS copy-on-write), Hardlink
// everywhere else.
func defaultMode() Mode {
	if runtime.GOOS == "darwin" {
		return Clone
	}
	return Hardlink
}

// EffectiveMode picks the link mode for destination: an explicit
// RV_LINK_MODE environment override wins, then a network-filesystem
// destination forces Symlink (hardlinks and reflinks don't cross
// network mounts), else the OS default applies.
func EffectiveMode(destination string) Mode {
	if val, ok := os.LookupEnv(envName); ok {
		if m, ok := parseMode(val); ok {
			return m
		}
	}
	if isNetworkFS(destination) {
		return Symlink
	}
	return defaultMode()
}

// LinkFiles materializes packageName's files from source into
// destination using selectedMode (or the effective mode if nil),
// falling back to a plain copy if the chosen strategy fails partway
// through.
func LinkFiles(selectedMode *Mode, packageName, source, destination string) error {
	pkgInLib := filepath.Join(destination, packageName)
	if isDir, _ := rvfs.IsDir(pkgInLib); isDir {
		if err := os.RemoveAll(pkgInLib); err != nil {
			return err
		}
	}

	var mode Mode
	if selectedMode != nil {
		mode = *selectedMode
	} else {
		mode = EffectiveMode(destination)
	}

	var err error
	switch mode {
	case Copy:
		err = copyFolder(source, destination)
	case Clone:
		err = clonePackage(source, destination)
	case Hardlink:
		err = hardlinkPackage(source, destination)
	case Symlink:
		actualSource := filepath.Join(source, packageName)
		err = createSymlink(actualSource, pkgInLib)
	}

	if err != nil {
		if mode == Copy {
			return err
		}
		if isDir, _ := rvfs.IsDir(pkgInLib); isDir {
			os.RemoveAll(pkgInLib)
		}
		return copyFolder(source, destination)
	}

	return nil
}

func copyFolder(source, destination string) error {
	entries, err := os.ReadDir(source)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(source, entry.Name())
		to := filepath.Join(destination, entry.Name())
		if entry.IsDir() {
			err = shutil.CopyTree(from, to, nil)
		} else {
			err = rvfs.CopyFile(from, to)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// clonePackage reflink-clones every file under source into
// destination, walking directories itself rather than relying on a
// single recursive OS call (only macOS's copyfile(3) can recurse).
func clonePackage(source, destination string) error {
	entries, err := os.ReadDir(source)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := cloneRecursive(source, destination, filepath.Join(source, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func cloneRecursive(source, library, from string) error {
	rel, err := filepath.Rel(source, from)
	if err != nil {
		return err
	}
	to := filepath.Join(library, rel)

	info, err := os.Lstat(from)
	if err != nil {
		return err
	}

	if info.IsDir() {
		if err := os.MkdirAll(to, 0o755); err != nil {
			return err
		}
		entries, err := os.ReadDir(from)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := cloneRecursive(source, library, filepath.Join(from, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	return reflink(from, to)
}

// reflink attempts a copy-on-write clone via the Linux FICLONE ioctl,
// falling back to a regular byte copy on any other platform or when
// the filesystem doesn't support it.
func reflink(from, to string) error {
	if runtime.GOOS == "linux" {
		if err := reflinkLinux(from, to); err == nil {
			return nil
		}
	}
	return rvfs.CopyFile(from, to)
}

func reflinkLinux(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}

	dst, err := os.OpenFile(to, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fi.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	return unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
}

// hardlinkPackage walks source with godirwalk, recreating directories
// and hard-linking every regular file into destination.
func hardlinkPackage(source, destination string) error {
	return godirwalk.Walk(source, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(source, osPathname)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			outPath := filepath.Join(destination, rel)

			if de.IsDir() {
				return os.MkdirAll(outPath, 0o755)
			}
			return os.Link(osPathname, outPath)
		},
	})
}

func createSymlink(original, link string) error {
	if runtime.GOOS == "windows" {
		if isDir, _ := rvfs.IsDir(original); isDir {
			return os.Symlink(original, link)
		}
	}
	return os.Symlink(original, link)
}

// isNetworkFS reports whether path sits on a network filesystem
// (NFS, CIFS, etc), using the statfs magic number on Linux. Always
// false on platforms where that detection isn't available, a graceful
// degrade for unsupported host OSes.
func isNetworkFS(path string) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	dir := path
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return false
	}

	switch uint32(stat.Type) {
	case 0x6969, // NFS_SUPER_MAGIC
		0xFF534D42, // CIFS_MAGIC_NUMBER
		0x65735546: // FUSE_SUPER_MAGIC (network-backed FUSE mounts, e.g. sshfs)
		return true
	default:
		return false
	}
}
