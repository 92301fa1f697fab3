// Package bundledb tracks every bundle a repository owns, locally cached
// and remote, serves chunk reads through an LRU of decoded bundle
// contents, and owns the background uploader that moves finished bundles
// out to the remote side.
package bundledb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/bundleuploader"
	"github.com/rpcpool/zvault/compress"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/layout"
	"github.com/rpcpool/zvault/lock"
	"github.com/rpcpool/zvault/lru"
	"github.com/rpcpool/zvault/statistics"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/vmihailenco/msgpack/v5"
)

var log = logging.Logger("zvault/bundledb")

var cacheMagic = [7]byte{'z', 'v', 'a', 'u', 'l', 't', 0x04}

const cacheVersion byte = 1

// defaultUploadQueueCapacity bounds how many finished bundles may be
// waiting for the upload worker before Db.AddBundle starts blocking.
const defaultUploadQueueCapacity = 4

// StoredBundle is a bundle this Db knows about: its header and the path
// (absolute, on the filesystem this process runs on) it lives at. The
// remote path is not derivable from the bundle id alone — see
// layout.RemoteBundlePath — so it must always be carried alongside Info.
type StoredBundle struct {
	Info bundle.Info
	Path string
}

type cachedBundle struct {
	reader *bundle.Reader
	raw    []byte
}

// Db is the repository's bundle store: the local and remote bundle maps,
// a decoded-content LRU, and the upload worker.
type Db struct {
	lay      layout.Layout
	crypto   *zcrypto.Crypto
	uploader *bundleuploader.Uploader

	mu          sync.Mutex
	local       map[bundle.ID]StoredBundle
	remote      map[bundle.ID]StoredBundle
	localCount  int
	remoteCount int
	cache       *lru.Cache[bundle.ID, *cachedBundle]
}

type errorType string

func (e errorType) Error() string { return string(e) }

const (
	// ErrWrongMagic is returned when a cache file does not start with the
	// expected magic bytes.
	ErrWrongMagic = errorType("bundledb: wrong cache file magic")
	// ErrWrongVersion is returned for an unrecognized cache file version.
	ErrWrongVersion = errorType("bundledb: unsupported cache file version")
	// ErrMissingBundle is returned when a requested bundle id is not
	// present in either the local or remote map.
	ErrMissingBundle = errorType("bundledb: no such bundle")
	// ErrNeedsOnline is returned by operations that require at least
	// Online mode.
	ErrNeedsOnline = errorType("bundledb: requires at least Online")
	// ErrNeedsBackup is returned by operations that require at least
	// Backup mode.
	ErrNeedsBackup = errorType("bundledb: requires at least Backup")
	// ErrNeedsVacuum is returned by operations that require Vacuum.
	ErrNeedsVacuum = errorType("bundledb: requires Vacuum")
	// ErrNeedsLocalWrite is returned by operations that require at least
	// LocalWrite.
	ErrNeedsLocalWrite = errorType("bundledb: requires at least LocalWrite")
)

func readCacheFile(path string) ([]StoredBundle, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, ErrWrongMagic
	}
	var magic [7]byte
	copy(magic[:], data[:7])
	if magic != cacheMagic {
		return nil, ErrWrongMagic
	}
	if data[7] != cacheVersion {
		return nil, ErrWrongVersion
	}
	var list []StoredBundle
	if err := msgpack.Unmarshal(data[8:], &list); err != nil {
		return nil, fmt.Errorf("bundledb: decode cache: %w", err)
	}
	return list, nil
}

func writeCacheFile(path string, list []StoredBundle) error {
	body, err := msgpack.Marshal(list)
	if err != nil {
		return fmt.Errorf("bundledb: encode cache: %w", err)
	}
	out := make([]byte, 0, 8+len(body))
	out = append(out, cacheMagic[:]...)
	out = append(out, cacheVersion)
	out = append(out, body...)
	return os.WriteFile(path, out, 0o644)
}

func scanBundleDir(dir string) ([]string, error) {
	var found []string
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			sub, err := scanBundleDir(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			found = append(found, sub...)
			continue
		}
		if !strings.HasSuffix(e.Name(), ".bundle") {
			continue
		}
		found = append(found, filepath.Join(dir, e.Name()))
	}
	return found, nil
}

func reconcile(dir, cachePath string, cached []StoredBundle, crypto *zcrypto.Crypto) (map[bundle.ID]StoredBundle, bool, error) {
	out := make(map[bundle.ID]StoredBundle)
	byPath := make(map[string]bool)
	for _, sb := range cached {
		if _, err := os.Stat(sb.Path); err != nil {
			continue // file is gone, drop it
		}
		out[sb.Info.ID] = sb
		byPath[sb.Path] = true
	}
	changed := len(out) != len(cached)

	paths, err := scanBundleDir(dir)
	if err != nil {
		return nil, false, err
	}
	for _, p := range paths {
		if byPath[p] {
			continue
		}
		info, err := bundle.LoadInfo(p, crypto)
		if err != nil {
			log.Warnw("bundledb: failed to load bundle info during scan", "path", p, "error", err)
			continue
		}
		out[info.ID] = StoredBundle{Info: info, Path: p}
		changed = true
	}

	if changed {
		list := make([]StoredBundle, 0, len(out))
		for _, sb := range out {
			list = append(list, sb)
		}
		if err := writeCacheFile(cachePath, list); err != nil {
			return nil, false, err
		}
	}
	return out, changed, nil
}

// Open loads the local and remote bundle caches, reconciles them against
// what's actually on disk, and starts the upload worker.
func Open(lay layout.Layout, crypto *zcrypto.Crypto) (*Db, error) {
	localCached, err := readCacheFile(lay.LocalBundleCachePath())
	if err != nil {
		return nil, err
	}
	remoteCached, err := readCacheFile(lay.RemoteBundleCachePath())
	if err != nil {
		return nil, err
	}

	local, _, err := reconcile(lay.LocalBundlesPath(), lay.LocalBundleCachePath(), localCached, crypto)
	if err != nil {
		return nil, err
	}
	remote, _, err := reconcile(lay.RemoteBundlesPath(), lay.RemoteBundleCachePath(), remoteCached, crypto)
	if err != nil {
		return nil, err
	}

	return &Db{
		lay:         lay,
		crypto:      crypto,
		uploader:    bundleuploader.New(defaultUploadQueueCapacity),
		local:       local,
		remote:      remote,
		localCount:  len(local),
		remoteCount: len(remote),
		cache:       lru.New[bundle.ID, *cachedBundle](32),
	}, nil
}

// CreateBundle starts a fresh bundle writer of the given mode. Requires at
// least Backup mode.
func (db *Db) CreateBundle(mode bundle.Mode, hashMethod fingerprint.Method, compression *compress.Compression, encryption *zcrypto.Encryption, lockMode *lock.Mode) (*bundle.Writer, error) {
	if !lockMode.Implies(lock.Backup) {
		return nil, ErrNeedsBackup
	}
	return bundle.NewWriter(mode, hashMethod, compression, encryption, db.crypto)
}

// AddBundle finishes writer into a temp file, assigns it a remote path,
// mirrors meta bundles into the local cache, and queues the upload.
// Requires at least Backup mode.
func (db *Db) AddBundle(writer *bundle.Writer, lockMode *lock.Mode) (bundle.Info, error) {
	if !lockMode.Implies(lock.Backup) {
		return bundle.Info{}, ErrNeedsBackup
	}

	db.mu.Lock()
	remoteCount := db.remoteCount
	localCount := db.localCount
	db.mu.Unlock()

	tempPath := db.lay.TempBundlePath()
	stored, err := writer.Finish(tempPath)
	if err != nil {
		return bundle.Info{}, err
	}

	finalPath := db.lay.RemoteBundlePath(remoteCount)

	var localPath string
	if stored.Info.Mode == bundle.Meta {
		localPath = db.lay.LocalBundlePath(stored.Info.ID, localCount)
		if err := copyFile(tempPath, localPath); err != nil {
			return bundle.Info{}, fmt.Errorf("bundledb: mirror meta bundle locally: %w", err)
		}
	}

	if err := db.uploader.Queue(tempPath, finalPath); err != nil {
		return bundle.Info{}, err
	}

	db.mu.Lock()
	db.remote[stored.Info.ID] = StoredBundle{Info: stored.Info, Path: finalPath}
	db.remoteCount++
	if localPath != "" {
		db.local[stored.Info.ID] = StoredBundle{Info: stored.Info, Path: localPath}
		db.localCount++
	}
	db.mu.Unlock()

	statistics.BundleWrites.WithLabelValues(stored.Info.Mode.String()).Inc()
	log.Debugw("bundle added", "id", stored.Info.ID, "mode", stored.Info.Mode, "chunks", stored.Info.ChunkCount)
	return stored.Info, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// GetChunk returns the raw bytes of one chunk within a bundle, serving
// from the decoded-content LRU when possible.
func (db *Db) GetChunk(id bundle.ID, chunkID int) ([]byte, error) {
	db.mu.Lock()
	cb, hit := db.cache.Get(id)
	db.mu.Unlock()

	if hit {
		defer func() {
			db.mu.Lock()
			db.cache.Release(id)
			db.mu.Unlock()
		}()
		statistics.BundleReads.WithLabelValues("", "cache").Inc()
		return sliceChunk(cb, chunkID)
	}

	cb, sb, err := db.loadAndCache(id)
	if err != nil {
		return nil, err
	}
	statistics.BundleReads.WithLabelValues(sb.Info.Mode.String(), "disk").Inc()
	return sliceChunk(cb, chunkID)
}

func (db *Db) loadAndCache(id bundle.ID) (*cachedBundle, StoredBundle, error) {
	db.mu.Lock()
	sb, ok := db.local[id]
	if !ok {
		sb, ok = db.remote[id]
	}
	db.mu.Unlock()
	if !ok {
		return nil, StoredBundle{}, ErrMissingBundle
	}

	reader, err := bundle.Load(sb.Path, db.crypto)
	if err != nil {
		return nil, StoredBundle{}, err
	}
	raw, err := reader.LoadContents()
	if err != nil {
		return nil, StoredBundle{}, err
	}
	cb := &cachedBundle{reader: reader, raw: raw}

	db.mu.Lock()
	db.cache.Add(id, cb)
	db.mu.Unlock()

	return cb, sb, nil
}

// RemoteBundles returns every known remote bundle, sorted by path. Used by
// a from-scratch bundle-map/index rebuild, which needs a deterministic
// order to assign fresh small-integer ids in.
func (db *Db) RemoteBundles() []StoredBundle {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]StoredBundle, 0, len(db.remote))
	for _, sb := range db.remote {
		out = append(out, sb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Open returns a Reader for bundle id, for callers that need more than a
// single chunk's bytes (synchronize re-indexing a newly discovered
// bundle's full chunk list).
func (db *Db) Open(id bundle.ID) (*bundle.Reader, error) {
	db.mu.Lock()
	sb, ok := db.local[id]
	if !ok {
		sb, ok = db.remote[id]
	}
	db.mu.Unlock()
	if !ok {
		return nil, ErrMissingBundle
	}
	return bundle.Load(sb.Path, db.crypto)
}

func sliceChunk(cb *cachedBundle, chunkID int) ([]byte, error) {
	offset, length, err := cb.reader.GetChunkPosition(chunkID)
	if err != nil {
		return nil, err
	}
	if offset+length > len(cb.raw) {
		return nil, fmt.Errorf("bundledb: chunk %d out of range", chunkID)
	}
	return cb.raw[offset : offset+length], nil
}

// DeleteBundle removes a bundle from the remote (and, if present, local)
// maps and unlinks its files. Requires Vacuum mode.
func (db *Db) DeleteBundle(id bundle.ID, lockMode *lock.Mode) error {
	if !lockMode.Implies(lock.Vacuum) {
		return ErrNeedsVacuum
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if sb, ok := db.remote[id]; ok {
		os.Remove(sb.Path)
		delete(db.remote, id)
	}
	if sb, ok := db.local[id]; ok {
		os.Remove(sb.Path)
		delete(db.local, id)
	}
	db.cache.Remove(id)
	return db.persistLocked()
}

// DeleteLocalBundle removes just the local cached copy of a bundle.
// Requires at least LocalWrite mode.
func (db *Db) DeleteLocalBundle(id bundle.ID, lockMode *lock.Mode) error {
	if !lockMode.Implies(lock.LocalWrite) {
		return ErrNeedsLocalWrite
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	sb, ok := db.local[id]
	if !ok {
		return nil
	}
	os.Remove(sb.Path)
	delete(db.local, id)
	db.cache.Remove(id)
	return db.persistLocalLocked()
}

func (db *Db) persistLocked() error {
	if err := db.persistRemoteLocked(); err != nil {
		return err
	}
	return db.persistLocalLocked()
}

func (db *Db) persistRemoteLocked() error {
	list := make([]StoredBundle, 0, len(db.remote))
	for _, sb := range db.remote {
		list = append(list, sb)
	}
	return writeCacheFile(db.lay.RemoteBundleCachePath(), list)
}

func (db *Db) persistLocalLocked() error {
	list := make([]StoredBundle, 0, len(db.local))
	for _, sb := range db.local {
		list = append(list, sb)
	}
	return writeCacheFile(db.lay.LocalBundleCachePath(), list)
}

// Synchronize re-scans the remote bundle directory and reconciles it
// against the in-memory map, returning newly discovered and vanished
// bundles for the repository to fold into its index. Requires Online
// mode.
func (db *Db) Synchronize(lockMode *lock.Mode) (newInfos, goneInfos []bundle.Info, err error) {
	if !lockMode.Implies(lock.Online) {
		return nil, nil, ErrNeedsOnline
	}

	db.mu.Lock()
	existingByPath := make(map[string]bundle.ID, len(db.remote))
	for id, sb := range db.remote {
		existingByPath[sb.Path] = id
	}
	db.mu.Unlock()

	paths, err := scanBundleDir(db.lay.RemoteBundlesPath())
	if err != nil {
		return nil, nil, err
	}
	seenPaths := make(map[string]bool, len(paths))
	for _, p := range paths {
		seenPaths[p] = true
		if _, ok := existingByPath[p]; ok {
			continue
		}
		info, err := bundle.LoadInfo(p, db.crypto)
		if err != nil {
			log.Warnw("bundledb: synchronize skipping unreadable bundle", "path", p, "error", err)
			continue
		}
		newInfos = append(newInfos, info)
		db.mu.Lock()
		db.remote[info.ID] = StoredBundle{Info: info, Path: p}
		db.remoteCount++
		db.mu.Unlock()
	}

	db.mu.Lock()
	for path, id := range existingByPath {
		if seenPaths[path] {
			continue
		}
		goneInfos = append(goneInfos, db.remote[id].Info)
		delete(db.remote, id)
		db.cache.Remove(id)
	}
	var persistErr error
	if len(newInfos) > 0 || len(goneInfos) > 0 {
		persistErr = db.persistRemoteLocked()
	}
	db.mu.Unlock()

	return newInfos, goneInfos, persistErr
}

// Check validates every remote bundle's structural integrity and returns
// a map of the ones that failed. Requires Online mode.
func (db *Db) Check(full bool, lockMode *lock.Mode) (map[bundle.ID]error, error) {
	if !lockMode.Implies(lock.Online) {
		return nil, ErrNeedsOnline
	}
	db.mu.Lock()
	toCheck := make([]StoredBundle, 0, len(db.remote))
	for _, sb := range db.remote {
		toCheck = append(toCheck, sb)
	}
	db.mu.Unlock()

	errs := make(map[bundle.ID]error)
	for _, sb := range toCheck {
		reader, err := bundle.Load(sb.Path, db.crypto)
		if err != nil {
			errs[sb.Info.ID] = err
			continue
		}
		if err := reader.Check(full); err != nil {
			errs[sb.Info.ID] = err
		}
	}
	return errs, nil
}

// Repair attempts to recover the chunks of each named broken bundle into a
// fresh bundle and moves the broken file aside with a ".broken" suffix.
// Recovery is best-effort: it decodes as much of the content stream as
// survives (see Reader.RecoverContents) and keeps whichever whole chunks
// lie entirely within that recovered prefix, stopping at the first chunk
// truncation or corruption cuts short. Requires Vacuum mode.
func (db *Db) Repair(lockMode *lock.Mode, ids []bundle.ID, hashMethod fingerprint.Method) error {
	if !lockMode.Implies(lock.Vacuum) {
		return ErrNeedsVacuum
	}

	for _, id := range ids {
		db.mu.Lock()
		sb, ok := db.remote[id]
		db.mu.Unlock()
		if !ok {
			continue
		}

		recovered := recoverChunks(sb, db.crypto, hashMethod)

		brokenPath, err := evacuatePath(sb.Path)
		if err != nil {
			return err
		}
		if err := os.Rename(sb.Path, brokenPath); err != nil {
			return fmt.Errorf("bundledb: evacuate broken bundle: %w", err)
		}

		db.mu.Lock()
		delete(db.remote, id)
		db.cache.Remove(id)
		db.mu.Unlock()

		if len(recovered) == 0 {
			continue
		}

		writer, err := bundle.NewWriter(sb.Info.Mode, hashMethod, sb.Info.Compression, sb.Info.Encryption, db.crypto)
		if err != nil {
			return err
		}
		for _, c := range recovered {
			if _, err := writer.Add(c.data, c.fp); err != nil {
				return err
			}
		}
		tempPath := db.lay.TempBundlePath()
		stored, err := writer.Finish(tempPath)
		if err != nil {
			return err
		}
		finalPath := db.lay.RemoteBundlePath(db.remoteCount)
		if err := db.uploader.Queue(tempPath, finalPath); err != nil {
			return err
		}
		db.mu.Lock()
		db.remote[stored.Info.ID] = StoredBundle{Info: stored.Info, Path: finalPath}
		db.remoteCount++
		db.mu.Unlock()
	}
	if err := db.Flush(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.persistRemoteLocked()
}

type recoveredChunk struct {
	fp   fingerprint.Hash
	data []byte
}

func recoverChunks(sb StoredBundle, crypto *zcrypto.Crypto, hashMethod fingerprint.Method) []recoveredChunk {
	reader, err := bundle.Load(sb.Path, crypto)
	if err != nil {
		return nil
	}
	list, err := reader.Chunks()
	if err != nil {
		return nil
	}
	contents := reader.RecoverContents()

	var out []recoveredChunk
	off := 0
	for _, c := range list {
		end := off + int(c.Length)
		if end > len(contents) {
			break
		}
		data := contents[off:end]
		out = append(out, recoveredChunk{data: data, fp: hashMethod.Hash(data)})
		off = end
	}
	return out
}

func evacuatePath(path string) (string, error) {
	candidate := path + ".broken"
	for n := 0; ; n++ {
		if n > 0 {
			candidate = fmt.Sprintf("%s.broken.%d", path, n)
		}
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// Flush blocks until every currently queued upload completes. The
// uploader remains usable afterward, for the next backup's uploads.
func (db *Db) Flush() error {
	return db.uploader.Drain()
}

// Close drains and permanently shuts down the upload worker. Must be
// called before repository shutdown.
func (db *Db) Close() error {
	return db.uploader.Finish()
}
