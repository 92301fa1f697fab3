// Package bundleuploader runs the single background worker that moves
// finished bundle files from their temp path into their final remote
// location, off the hot path of the repository's main goroutine.
package bundleuploader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/rpcpool/zvault/statistics"
)

var log = logging.Logger("zvault/bundleuploader")

type job struct {
	tempPath  string
	finalPath string
}

// Uploader is a bounded single-producer/single-consumer queue: Queue
// blocks while the number of pending jobs is at capacity, a single worker
// goroutine drains them in FIFO order, and any worker error is latched and
// surfaced to the next Queue or Finish call.
type Uploader struct {
	capacity int

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []job
	finished bool
	err      error

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
}

// New starts an Uploader with the given queue capacity and begins its
// worker goroutine.
func New(capacity int) *Uploader {
	u := &Uploader{
		capacity: capacity,
		jobs:     make(chan job),
		done:     make(chan struct{}),
	}
	u.cond = sync.NewCond(&u.mu)
	go u.run()
	return u
}

// Queue enqueues the move of localTempPath to finalRemotePath, blocking
// while the queue is at capacity. Returns immediately with the latched
// error if the worker has already failed.
func (u *Uploader) Queue(localTempPath, finalRemotePath string) error {
	u.mu.Lock()
	for len(u.pending) >= u.capacity && u.err == nil && !u.finished {
		u.cond.Wait()
	}
	if u.err != nil {
		err := u.err
		u.mu.Unlock()
		return err
	}
	if u.finished {
		u.mu.Unlock()
		return fmt.Errorf("bundleuploader: queue closed")
	}
	j := job{tempPath: localTempPath, finalPath: finalRemotePath}
	u.pending = append(u.pending, j)
	u.mu.Unlock()

	u.jobs <- j
	statistics.UploadQueueDepth.WithLabelValues().Inc()
	return nil
}

// Drain blocks until every currently queued job has been processed,
// without shutting the worker down; more jobs may be queued afterward.
// Returns the latched error, if any.
func (u *Uploader) Drain() error {
	u.mu.Lock()
	for len(u.pending) > 0 && u.err == nil {
		u.cond.Wait()
	}
	err := u.err
	u.mu.Unlock()
	return err
}

// Finish blocks until every queued job has drained, then shuts the
// worker down for good. Must be called before repository shutdown; no
// further Queue calls are valid afterward.
func (u *Uploader) Finish() error {
	u.closeOnce.Do(func() { close(u.jobs) })
	<-u.done

	u.mu.Lock()
	defer u.mu.Unlock()
	u.finished = true
	u.cond.Broadcast()
	return u.err
}

func (u *Uploader) run() {
	defer close(u.done)
	for j := range u.jobs {
		err := moveFile(j.tempPath, j.finalPath)

		u.mu.Lock()
		// Drop the job we just handled off the front of pending; Queue
		// only ever appends, and the worker only ever processes in the
		// same order, so the front always matches.
		if len(u.pending) > 0 {
			u.pending = u.pending[1:]
		}
		statistics.UploadQueueDepth.WithLabelValues().Dec()
		if err != nil && u.err == nil {
			u.err = err
			statistics.UploadErrors.WithLabelValues().Inc()
			log.Errorw("bundle upload failed", "temp", j.tempPath, "final", j.finalPath, "error", err)
		}
		u.cond.Broadcast()
		u.mu.Unlock()
	}
}

func moveFile(tempPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("bundleuploader: create destination dir: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err == nil {
		return nil
	}
	// Rename fails across devices; fall back to copy-then-delete.
	return copyThenDelete(tempPath, finalPath)
}

func copyThenDelete(tempPath, finalPath string) error {
	src, err := os.Open(tempPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(finalPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(finalPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(finalPath)
		return err
	}
	return os.Remove(tempPath)
}
