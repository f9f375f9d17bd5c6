package sync

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/kraklabs/rv/rvlog"
)

// noCheckOpenFileEnvVar lets a caller skip the lsof scan entirely,
// useful in sandboxes where lsof isn't installed or the check is
// simply too slow to run on every sync.
const noCheckOpenFileEnvVar = "RV_NO_CHECK_OPEN_FILE"

// holder is one process with a package's shared object open.
type holder struct {
	processName string
	pid         int
	packages    map[string]bool
}

// packagesInUse shells out to `lsof +D libraryPath` and groups the
// open files it reports by holding process, mapping each open file
// back to the package that owns it: loaded shared objects live at
// <library>/<package>/libs/*.so, so the package name is the open
// file's grandparent directory name.
func packagesInUse(libraryPath string, log *rvlog.Logger) []holder {
	if runtime.GOOS == "windows" {
		return nil
	}
	if isEnvTruthy(noCheckOpenFileEnvVar) {
		return nil
	}

	out, err := exec.Command("lsof", "+D", libraryPath).Output()
	if err != nil {
		log.Logf("lsof +D %s failed (the +D option may not be supported on this system): %v\n", libraryPath, err)
		return nil
	}

	return parseLsofOutput(string(out))
}

// parseLsofOutput groups lsof's "+D" listing by holding process,
// mapping each open file back to the package that owns it: loaded
// shared objects live at <library>/<package>/libs/*.so, so the
// package name is the open file's grandparent directory name.
func parseLsofOutput(out string) []holder {
	byKey := make(map[[2]string]*holder)
	var order [][2]string
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header row
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		processName := fields[0]
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		openFile := fields[len(fields)-1]

		pkgDir := filepath.Dir(filepath.Dir(openFile))
		pkgName := filepath.Base(pkgDir)
		if pkgName == "." || pkgName == string(filepath.Separator) {
			continue
		}

		key := [2]string{processName, strconv.Itoa(pid)}
		h, ok := byKey[key]
		if !ok {
			h = &holder{processName: processName, pid: pid, packages: make(map[string]bool)}
			byKey[key] = h
			order = append(order, key)
		}
		h.packages[pkgName] = true
	}

	holders := make([]holder, 0, len(order))
	for _, key := range order {
		holders = append(holders, *byKey[key])
	}
	return holders
}

func isEnvTruthy(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// holderLines formats holders for a LibraryInUseError, one "name
// (pid): pkg1, pkg2" line per process.
func holderLines(holders []holder) []string {
	lines := make([]string, 0, len(holders))
	for _, h := range holders {
		names := make([]string, 0, len(h.packages))
		for name := range h.packages {
			names = append(names, name)
		}
		sort.Strings(names)
		lines = append(lines, h.processName+" ("+strconv.Itoa(h.pid)+"): "+strings.Join(names, ", "))
	}
	return lines
}

func holdsAny(holders []holder, pkgName string) bool {
	for _, h := range holders {
		if h.packages[pkgName] {
			return true
		}
	}
	return false
}
