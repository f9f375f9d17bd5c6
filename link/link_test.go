package link

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"copy":     Copy,
		"Clone":    Clone,
		"HARDLINK": Hardlink,
		"Symlink":  Symlink,
	}
	for input, want := range cases {
		got, ok := parseMode(input)
		if !ok || got != want {
			t.Errorf("parseMode(%q) = %v, %v; want %v, true", input, got, ok, want)
		}
	}
	if _, ok := parseMode("bogus"); ok {
		t.Error("parseMode(bogus) should fail")
	}
}

func TestEffectiveModeEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envName, "symlink")
	if got := EffectiveMode(dir); got != Symlink {
		t.Errorf("EffectiveMode with env override = %v, want Symlink", got)
	}
}

func TestEffectiveModeDefaultsWithoutOverride(t *testing.T) {
	dir := t.TempDir()
	os.Unsetenv(envName)
	if got := EffectiveMode(dir); got != defaultMode() {
		t.Errorf("EffectiveMode without override = %v, want %v", got, defaultMode())
	}
}

func TestLinkFilesCopy(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "pkgA", "DESCRIPTION"), "Package: pkgA\n")

	mode := Copy
	if err := LinkFiles(&mode, "pkgA", filepath.Join(src, "pkgA"), dst); err != nil {
		t.Fatalf("LinkFiles: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "DESCRIPTION"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "Package: pkgA\n" {
		t.Errorf("copied content = %q", got)
	}
}

func TestLinkFilesHardlink(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	pkgSrc := filepath.Join(src, "pkgA")
	writeFile(t, filepath.Join(pkgSrc, "DESCRIPTION"), "Package: pkgA\n")
	writeFile(t, filepath.Join(pkgSrc, "R", "helpers.R"), "f <- function() 1\n")

	mode := Hardlink
	if err := LinkFiles(&mode, "pkgA", pkgSrc, dst); err != nil {
		t.Fatalf("LinkFiles: %v", err)
	}

	srcInfo, err := os.Stat(filepath.Join(pkgSrc, "DESCRIPTION"))
	if err != nil {
		t.Fatalf("Stat src: %v", err)
	}
	dstInfo, err := os.Stat(filepath.Join(dst, "DESCRIPTION"))
	if err != nil {
		t.Fatalf("Stat dst: %v", err)
	}
	if !os.SameFile(srcInfo, dstInfo) {
		t.Error("expected hardlinked files to share the same inode")
	}

	if _, err := os.Stat(filepath.Join(dst, "R", "helpers.R")); err != nil {
		t.Errorf("nested file not hardlinked: %v", err)
	}
}

func TestLinkFilesSymlink(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	pkgSrc := filepath.Join(src, "pkgA")
	writeFile(t, filepath.Join(pkgSrc, "DESCRIPTION"), "Package: pkgA\n")

	mode := Symlink
	if err := LinkFiles(&mode, "pkgA", src, dst); err != nil {
		t.Fatalf("LinkFiles: %v", err)
	}

	linkPath := filepath.Join(dst, "pkgA")
	info, err := os.Lstat(linkPath)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("expected a symlink at destination")
	}

	target, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != pkgSrc {
		t.Errorf("symlink target = %q, want %q", target, pkgSrc)
	}
}

func TestLinkFilesRemovesExistingDirFirst(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	pkgSrc := filepath.Join(src, "pkgA")
	writeFile(t, filepath.Join(pkgSrc, "DESCRIPTION"), "Package: pkgA\n")
	writeFile(t, filepath.Join(dst, "pkgA", "stale.txt"), "leftover\n")

	mode := Copy
	if err := LinkFiles(&mode, "pkgA", pkgSrc, dst); err != nil {
		t.Fatalf("LinkFiles: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dst, "pkgA", "stale.txt")); !os.IsNotExist(err) {
		t.Error("expected stale leftover file to be removed")
	}
}
