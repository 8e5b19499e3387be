package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"photo-indexer/internal/faults"
	"photo-indexer/internal/filesystem"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/mediatypes"
	"photo-indexer/internal/workers"
)

var log = logging.For("source")

// Config configures the filesystem enumerator.
type Config struct {
	// Workers is the number of stat/probe workers (0 = auto based on CPU)
	Workers int
	// ChannelBuffer is the size of the work channel buffer
	ChannelBuffer int
	// SkipHidden skips files and directories starting with "."
	SkipHidden bool
	// ProbeDimensions reads image headers for width and height
	ProbeDimensions bool
	// Retry is applied to every stat and open
	Retry filesystem.RetryConfig
}

// DefaultConfig returns defaults sized for a local or network library.
func DefaultConfig() Config {
	return Config{
		Workers:         workers.ForIO(8),
		ChannelBuffer:   1000,
		SkipHidden:      true,
		ProbeDimensions: true,
		Retry:           filesystem.DefaultRetryConfig(),
	}
}

// FSEnumerator enumerates media files under a library root directory.
type FSEnumerator struct {
	root   string
	config Config

	// Statistics of the last run
	seen    atomic.Int64
	emitted atomic.Int64
}

// NewFSEnumerator creates an enumerator rooted at root.
func NewFSEnumerator(root string, config Config) *FSEnumerator {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if config.Workers <= 0 {
		config.Workers = workers.ForIO(8)
	}
	return &FSEnumerator{root: root, config: config}
}

// Root returns the library root.
func (e *FSEnumerator) Root() string {
	return e.root
}

// Stats returns the seen and emitted counts of the last run.
func (e *FSEnumerator) Stats() (seen, emitted int64) {
	return e.seen.Load(), e.emitted.Load()
}

type statResult struct {
	desc  Descriptor
	fresh bool
	err   error
	path  string
}

// Enumerate implements Enumerator.
func (e *FSEnumerator) Enumerate(ctx context.Context, folders []string, watermarkSec int64,
	onSeen func(path string), emit func([]Descriptor) error) error {
	info, err := os.Stat(e.root)
	if err != nil {
		return faults.Wrap(faults.ErrConfiguration, "source", "enumerate", "library root unavailable", err)
	}
	if !info.IsDir() {
		return faults.Wrap(faults.ErrConfiguration, "source", "enumerate", e.root+" is not a directory", nil)
	}

	start := time.Now()
	e.seen.Store(0)
	e.emitted.Store(0)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string, e.config.ChannelBuffer)
	results := make(chan statResult, e.config.ChannelBuffer)

	var walkErr error
	walkDone := make(chan struct{})
	go func() {
		defer close(walkDone)
		defer close(jobs)
		walkErr = e.walk(ctx, folders, jobs)
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				r := e.describe(path, watermarkSec)
				select {
				case results <- r:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var fresh []Descriptor
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				cancel()
			}
			continue
		}
		if r.path == "" {
			continue
		}
		e.seen.Add(1)
		if onSeen != nil {
			onSeen(r.path)
		}
		if r.fresh {
			fresh = append(fresh, r.desc)
		}
	}
	<-walkDone

	switch {
	case firstErr != nil:
		return firstErr
	case walkErr != nil:
		return walkErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].LastModifiedSec != fresh[j].LastModifiedSec {
			return fresh[i].LastModifiedSec > fresh[j].LastModifiedSec
		}
		return fresh[i].StableID < fresh[j].StableID
	})

	for i := 0; i < len(fresh); i += BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + BatchSize
		if end > len(fresh) {
			end = len(fresh)
		}
		if err := emit(fresh[i:end]); err != nil {
			return err
		}
		e.emitted.Add(int64(end - i))
	}

	log.Info("Enumerated %d assets (%d newer than watermark) in %v",
		e.seen.Load(), len(fresh), time.Since(start))
	return nil
}

// walk sends the path of every included media file to jobs. An unreadable
// directory fails the walk: skipping it would make its contents look deleted.
func (e *FSEnumerator) walk(ctx context.Context, folders []string, jobs chan<- string) error {
	return filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return fs.SkipAll
		default:
		}

		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != e.root {
				return nil
			}
			return faults.Transient("source", "walk", fmt.Errorf("%s: %w", path, err))
		}

		if e.config.SkipHidden && path != e.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !mediatypes.IsMediaFile(d.Name()) || !Included(folders, path) {
			return nil
		}

		select {
		case jobs <- path:
		case <-ctx.Done():
			return fs.SkipAll
		}
		return nil
	})
}

// describe stats a file and, when it is newer than the watermark, builds its
// descriptor. A file that vanished since the walk yields an empty result.
func (e *FSEnumerator) describe(path string, watermarkSec int64) statResult {
	info, err := filesystem.StatWithRetry(path, e.config.Retry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return statResult{}
		}
		return statResult{err: faults.Transient("source", "stat", fmt.Errorf("%s: %w", path, err))}
	}

	modified := info.ModTime().Unix()
	r := statResult{path: path}
	if watermarkSec > 0 && modified <= watermarkSec {
		return r
	}

	name := info.Name()
	ext := mediatypes.Ext(name)
	desc := Descriptor{
		StableID:        path,
		DisplayName:     name,
		SizeBytes:       info.Size(),
		LastModifiedSec: modified,
		MimeType:        mediatypes.GetMimeType(ext),
		RelativeFolder:  RelativeFolder(e.root, path),
	}

	hints := mediatypes.Hints{FileName: name, RelativePath: desc.RelativeFolder}
	if e.config.ProbeDimensions && mediatypes.GetFileType(ext) == mediatypes.FileTypeImage {
		if dims, err := ProbeDimensions(path, e.config.Retry); err == nil {
			w, h := dims.Width, dims.Height
			desc.Width, desc.Height = &w, &h
			hints.Width, hints.Height = w, h
		} else {
			log.Debug("No dimensions for %s: %v", path, err)
		}
	}
	desc.MediaType = string(mediatypes.Classify(hints))

	r.desc = desc
	r.fresh = true
	return r
}
