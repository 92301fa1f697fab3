// Package layout computes the on-disk paths of every file and directory
// that make up a repository, local and remote sides alike.
package layout

import (
	"os"
	"path/filepath"

	"github.com/rpcpool/zvault/bundle"
)

// Layout resolves every path under a repository's base directory.
type Layout struct {
	base string
}

// New returns a Layout rooted at base.
func New(base string) Layout { return Layout{base: base} }

// Base returns the repository's root directory.
func (l Layout) Base() string { return l.base }

func (l Layout) IndexPath() string            { return filepath.Join(l.base, "index") }
func (l Layout) BundleMapPath() string        { return filepath.Join(l.base, "bundles.map") }
func (l Layout) LocalLocksPath() string       { return filepath.Join(l.base, "locks") }
func (l Layout) RemotePath() string           { return filepath.Join(l.base, "remote") }
func (l Layout) RemoteLocksPath() string      { return filepath.Join(l.base, "remote", "locks") }
func (l Layout) RemoteBundlesPath() string    { return filepath.Join(l.base, "remote", "bundles") }
func (l Layout) LocalBundlesPath() string     { return filepath.Join(l.base, "bundles", "cached") }
func (l Layout) TempBundlesPath() string      { return filepath.Join(l.base, "bundles", "temp") }
func (l Layout) LocalBundleCachePath() string { return filepath.Join(l.base, "bundles", "local.cache") }
func (l Layout) RemoteBundleCachePath() string {
	return filepath.Join(l.base, "bundles", "remote.cache")
}
func (l Layout) DirtyFilePath() string     { return filepath.Join(l.base, "dirty") }
func (l Layout) ConfigPath() string        { return filepath.Join(l.base, "config.yaml") }
func (l Layout) RemoteReadmePath() string  { return filepath.Join(l.base, "remote", "README.md") }
func (l Layout) EncryptionKeysPath() string { return filepath.Join(l.base, "keys") }

// RemoteExists reports whether a remote side has ever been initialized.
func (l Layout) RemoteExists() bool {
	_, errB := os.Stat(l.RemoteBundlesPath())
	_, errL := os.Stat(l.RemoteLocksPath())
	return errB == nil && errL == nil
}

// bundlePath fans a bundle file out across nested two-character-prefix
// subdirectories once a folder holds more than 100 bundles, dividing the
// fan-out factor by 250 at each level; this keeps any one directory's
// entry count bounded as the repository grows, at the cost of the bundle
// id no longer appearing as a flat filename past the first few thousand
// bundles.
func bundlePath(id bundle.ID, folder string, count int) string {
	file := id.String() + ".bundle"
	rest := file
	for count >= 100 {
		if len(rest) < 10 {
			break
		}
		folder = filepath.Join(folder, rest[0:2])
		rest = rest[2:]
		count /= 250
	}
	return filepath.Join(folder, file)
}

// LocalBundlePath returns where a cached copy of id lives locally, given
// that count bundles already exist in the local bundle folder.
func (l Layout) LocalBundlePath(id bundle.ID, count int) string {
	return bundlePath(id, l.LocalBundlesPath(), count)
}

// RemoteBundlePath returns where a newly uploaded bundle should be written
// on the remote side, given that count bundles already exist there. The
// bundle is assigned a fresh random id for its remote path, matching the
// reference layout's behavior of not reusing the local id verbatim.
func (l Layout) RemoteBundlePath(count int) string {
	return bundlePath(bundle.RandomID(), l.RemoteBundlesPath(), count)
}

// TempBundlePath returns a fresh scratch path for a bundle being assembled
// before it is committed into the local bundle folder.
func (l Layout) TempBundlePath() string {
	return filepath.Join(l.TempBundlesPath(), bundle.RandomID().String()+".bundle")
}

// EnsureDirs creates every directory this layout expects to exist for a
// freshly initialized repository.
func (l Layout) EnsureDirs(withRemote bool) error {
	dirs := []string{
		l.base,
		l.LocalLocksPath(),
		l.LocalBundlesPath(),
		l.TempBundlesPath(),
		l.EncryptionKeysPath(),
	}
	if withRemote {
		dirs = append(dirs, l.RemoteLocksPath(), l.RemoteBundlesPath())
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
