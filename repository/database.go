// Package repository implements the per-repository package database
// a source index plus per-runtime-version binary
// indices, with gob-based disk persistence and the "prefer binary
// unless forced" lookup rule, grounded on
// original_source/src/repository.rs's RepositoryDatabase.
package repository

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/rv/pkgmeta"
	"github.com/kraklabs/rv/version"
)

// PackageKind distinguishes where a resolved package record came from.
type PackageKind int

const (
	KindSource PackageKind = iota
	KindBinary
)

func (k PackageKind) String() string {
	if k == KindBinary {
		return "binary"
	}
	return "source"
}

// majorMinor is a gob-friendly key for a runtime's [major, minor]
// version pair, since gob cannot key a map on an array of uint32
// directly inside a nested map value as cleanly as a small struct.
type majorMinor struct {
	Major, Minor uint32
}

// Database is a single repository's package index: one source table,
// plus one binary table per runtime major.minor version observed.
type Database struct {
	URL             string
	SourcePackages  map[string][]pkgmeta.Package
	BinaryPackages  map[majorMinor]map[string][]pkgmeta.Package
}

// New returns an empty Database keyed to the given repository URL.
func New(url string) *Database {
	return &Database{
		URL:            url,
		SourcePackages: make(map[string][]pkgmeta.Package),
		BinaryPackages: make(map[majorMinor]map[string][]pkgmeta.Package),
	}
}

// Load reads a Database previously written by Persist.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading package database from %s: %w", path, err)
	}
	var db Database
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&db); err != nil {
		return nil, fmt.Errorf("decoding package database from %s: %w", path, err)
	}
	return &db, nil
}

// Persist writes db to path, creating parent directories as needed.
func (db *Database) Persist(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory for package database: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(db); err != nil {
		return fmt.Errorf("encoding package database: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ParseSource replaces the source index from a PACKAGES-style
// key/value index file's content.
func (db *Database) ParseSource(content string) {
	db.SourcePackages = pkgmeta.ParsePackageFile(content)
}

// ParseBinary replaces the binary index for the given runtime
// major.minor version from a PACKAGES-style index file's content.
func (db *Database) ParseBinary(content string, major, minor uint32) {
	db.BinaryPackages[majorMinor{major, minor}] = pkgmeta.ParsePackageFile(content)
}

// ParseUniverseAPI replaces the source index from an R-Universe-style
// JSON API response's content.
func (db *Database) ParseUniverseAPI(content string) error {
	parsed, err := pkgmeta.ParseUniverseAPI(content)
	if err != nil {
		return err
	}
	db.SourcePackages = parsed
	return nil
}

// Find looks up name in db, preferring the binary index for the given
// runtime version unless forceSource is set, falling back to the
// source index otherwise.
//
// When several package records match (multiple versions of the same
// package recorded in the index), the one satisfying the runtime
// version and constraint with the highest R-requirement is selected;
// ties prefer later entries, since later entries in an index file take
// priority over earlier ones.
func (db *Database) Find(name string, constraint *version.Constraint, runtimeVersion version.Version, forceSource bool) (pkgmeta.Package, PackageKind, bool) {
	if !forceSource {
		if table, ok := db.BinaryPackages[majorMinor{runtimeVersion.MajorMinor()[0], runtimeVersion.MajorMinor()[1]}]; ok {
			if pkg, ok := findInTable(table, name, constraint, runtimeVersion); ok {
				return pkg, KindBinary, true
			}
		}
	}

	pkg, ok := findInTable(db.SourcePackages, name, constraint, runtimeVersion)
	return pkg, KindSource, ok
}

func findInTable(table map[string][]pkgmeta.Package, name string, constraint *version.Constraint, runtimeVersion version.Version) (pkgmeta.Package, bool) {
	records, ok := table[name]
	if !ok {
		return pkgmeta.Package{}, false
	}

	var found *pkgmeta.Package
	var maxRuntimeReq *version.Version

	for i := len(records) - 1; i >= 0; i-- {
		p := records[i]
		if !p.WorksWithRuntimeVersion(runtimeVersion) {
			continue
		}
		if constraint != nil && !constraint.IsSatisfied(p.Version) {
			continue
		}

		switch {
		case maxRuntimeReq != nil && p.RuntimeRequirement == nil:
			// keep current candidate: an unconstrained entry never beats
			// one that had an explicit, already-recorded requirement
		case maxRuntimeReq == nil && p.RuntimeRequirement != nil:
			v := p.RuntimeRequirement.Version
			maxRuntimeReq = &v
			rec := p
			found = &rec
		case maxRuntimeReq != nil && p.RuntimeRequirement != nil:
			if p.RuntimeRequirement.Version.GreaterThan(*maxRuntimeReq) {
				v := p.RuntimeRequirement.Version
				maxRuntimeReq = &v
				rec := p
				found = &rec
			}
		default:
			if found == nil {
				rec := p
				found = &rec
			}
		}
	}

	if found == nil {
		return pkgmeta.Package{}, false
	}
	return *found, true
}

// SourceCount returns the number of distinct source packages indexed.
func (db *Database) SourceCount() int { return len(db.SourcePackages) }

// BinaryCount returns the number of distinct binary packages indexed
// for the given runtime major.minor version.
func (db *Database) BinaryCount(major, minor uint32) int {
	table, ok := db.BinaryPackages[majorMinor{major, minor}]
	if !ok {
		return 0
	}
	return len(table)
}
