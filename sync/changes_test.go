package sync

import (
	"testing"
	"time"

	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/source"
	"github.com/kraklabs/rv/version"
)

func TestNewInstalledChange(t *testing.T) {
	dep := &resolver.ResolvedDependency{
		Name:    "foo",
		Version: version.MustParse("1.2.3"),
		Source:  source.Repository("https://example.com"),
		Kind:    resolver.KindSource,
	}
	change := newInstalledChange(dep, 2*time.Second, []string{"libxml2"})

	if change.Name != "foo" || change.Version != "1.2.3" {
		t.Fatalf("unexpected change: %+v", change)
	}
	if change.Change != ChangeInstalled {
		t.Fatalf("expected ChangeInstalled, got %v", change.Change)
	}
	if change.Duration != 2*time.Second {
		t.Fatalf("expected duration to be preserved, got %v", change.Duration)
	}
	if len(change.SystemDependencies) != 1 || change.SystemDependencies[0] != "libxml2" {
		t.Fatalf("expected system dependencies to be preserved, got %v", change.SystemDependencies)
	}
	if change.IsBuiltin() {
		t.Fatalf("a repository source is not builtin")
	}
}

func TestNewRemovedChange(t *testing.T) {
	change := newRemovedChange("foo")
	if change.Name != "foo" || change.Change != ChangeRemoved {
		t.Fatalf("unexpected change: %+v", change)
	}
}

func TestIsBuiltin(t *testing.T) {
	change := SyncChange{Source: source.Source{Kind: source.KindBuiltin}}
	if !change.IsBuiltin() {
		t.Fatalf("expected builtin source to report IsBuiltin")
	}
}
