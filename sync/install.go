package sync

import (
	"context"

	"github.com/kraklabs/rv/cache"
	"github.com/kraklabs/rv/link"
	"github.com/kraklabs/rv/resolver"
	"github.com/kraklabs/rv/source"
)

// Installer runs the external installer command (the host runtime's
// own package-build machinery) against a resolved dependency. The
// four methods mirror the five source kinds minus Builtin, which sync
// never dispatches to an installer at all. Implementations own every
// detail of invoking the runtime: locating its binary, building the
// configure-time environment, capturing build logs, and honoring
// ctx's cancellation by killing the child process group.
//
// This is an external collaborator, not part of the core: the core
// only needs to invoke it and to be able to cancel it.
type Installer interface {
	InstallRepository(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error
	InstallGit(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error
	InstallLocal(ctx context.Context, dep *resolver.ResolvedDependency, projectDir string, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error
	InstallURL(ctx context.Context, dep *resolver.ResolvedDependency, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error
}

// copyFromLibrary materializes dep from the current library straight
// into staging by copy, skipping the installer entirely -- used for
// Local dependencies the diff already found unchanged.
func copyFromLibrary(dep *resolver.ResolvedDependency, libraryPath, stagingPath string) error {
	mode := link.Copy
	return link.LinkFiles(&mode, dep.Name, libraryPath, stagingPath)
}

// dispatchInstall routes dep to the right Installer method by source
// kind. Builtin dependencies need nothing installed: the runtime
// already carries them.
func dispatchInstall(ctx context.Context, dep *resolver.ResolvedDependency, installer Installer, projectDir string, libraryDirs []string, c *cache.DiskCache, configureArgs []string) error {
	switch dep.Source.Kind {
	case source.KindRepository:
		return installer.InstallRepository(ctx, dep, libraryDirs, c, configureArgs)
	case source.KindGit, source.KindUniverse:
		return installer.InstallGit(ctx, dep, libraryDirs, c, configureArgs)
	case source.KindURL:
		return installer.InstallURL(ctx, dep, libraryDirs, c, configureArgs)
	case source.KindLocal:
		return installer.InstallLocal(ctx, dep, projectDir, libraryDirs, c, configureArgs)
	case source.KindBuiltin:
		return nil
	default:
		return nil
	}
}
