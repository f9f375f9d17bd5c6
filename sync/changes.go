package sync

import (
	"time"

	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/source"
)

// ChangeKind discriminates what happened to a package during a sync.
type ChangeKind int

const (
	ChangeInstalled ChangeKind = iota
	ChangeRemoved
)

// SyncChange is one line of a sync's result: a package that was
// installed or removed, and (for installs) how long it took and what
// system dependencies it pulled in.
type SyncChange struct {
	Name               string
	Version            string
	Source             source.Source
	Kind               resolver.Kind
	Duration           time.Duration
	SystemDependencies []string
	Change             ChangeKind
}

// IsBuiltin reports whether this change concerns a builtin package,
// which never has an install log worth saving.
func (c SyncChange) IsBuiltin() bool { return c.Source.Kind == source.KindBuiltin }

func newInstalledChange(dep *resolver.ResolvedDependency, duration time.Duration, sysDeps []string) SyncChange {
	return SyncChange{
		Name:               dep.Name,
		Version:            dep.Version.String(),
		Source:             dep.Source,
		Kind:               dep.Kind,
		Duration:           duration,
		SystemDependencies: sysDeps,
		Change:             ChangeInstalled,
	}
}

func newRemovedChange(name string) SyncChange {
	return SyncChange{Name: name, Change: ChangeRemoved}
}
