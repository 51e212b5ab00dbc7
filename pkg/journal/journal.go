package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nainya/eavstore/pkg/patch"
)

const (
	// DefaultMaxFileSize is the size at which the journal rotates (64MB)
	DefaultMaxFileSize = 64 << 20

	// DefaultRetainFiles is how many files older than the last checkpoint
	// are kept after a checkpoint
	DefaultRetainFiles = 1
)

// Journal is an append-only log spread over numbered files
// <Path>.000, <Path>.001, ...
type Journal struct {
	// Path is the base path for journal files (e.g., "/data/world.journal")
	Path string

	// MaxFileSize triggers rotation; zero means DefaultMaxFileSize
	MaxFileSize int64

	// RetainFiles is the number of pre-checkpoint files kept; negative
	// means DefaultRetainFiles
	RetainFiles int

	fd        *os.File
	mu        sync.Mutex
	seq       atomic.Uint64 // last assigned sequence number
	fileSize  int64
	fileIndex int
	closed    bool
	opened    bool
}

// Open opens the newest journal file for appending, or creates the first
// one. A record torn by a crash at the very end of the newest file is cut
// off; corruption anywhere else is an error.
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.opened && !j.closed {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(j.Path), 0755); err != nil {
		return err
	}
	files, err := j.findFiles()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		if err := j.openFileNoLock(0); err != nil {
			return err
		}
		j.seq.Store(0)
	} else {
		maxSeq, err := j.scanNoLock(files)
		if err != nil {
			return err
		}
		latest := files[len(files)-1]
		index, _ := j.fileIndexOf(filepath.Base(latest))
		if err := j.openFileNoLock(index); err != nil {
			return err
		}
		j.seq.Store(maxSeq)
	}

	j.closed = false
	j.opened = true
	return nil
}

// scanNoLock finds the highest sequence number and repairs a torn tail on
// the newest file
func (j *Journal) scanNoLock(files []string) (uint64, error) {
	var maxSeq uint64
	for i, file := range files {
		fd, err := os.Open(file)
		if err != nil {
			return 0, err
		}

		var good int64
		var scanErr error
		for {
			rec, n, err := readRecord(fd)
			if err != nil {
				if err != io.EOF {
					scanErr = err
				}
				break
			}
			good += int64(n)
			maxSeq = max(maxSeq, rec.Seq)
		}
		fd.Close()

		if scanErr == nil {
			continue
		}
		if i == len(files)-1 && errors.Is(scanErr, ErrTruncated) {
			if err := os.Truncate(file, good); err != nil {
				return 0, fmt.Errorf("journal: cutting torn record from %s: %w", file, err)
			}
			continue
		}
		return 0, fmt.Errorf("%s at offset %d: %w", file, good, scanErr)
	}
	return maxSeq, nil
}

// Seq returns the last assigned sequence number
func (j *Journal) Seq() uint64 {
	return j.seq.Load()
}

// Append writes p as a patch record and returns its sequence number. The
// record is buffered by the OS until Fsync.
func (j *Journal) Append(p patch.Patch) (uint64, error) {
	return j.write(KindPatch, p)
}

// Checkpoint starts a new file with a record holding the full state in
// snapshot, syncs it, and removes superseded files
func (j *Journal) Checkpoint(snapshot patch.Patch) (uint64, error) {
	payload, err := snapshot.MarshalBinary()
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || !j.opened {
		return 0, ErrClosed
	}
	if j.fileSize > 0 {
		if err := j.rotateNoLock(); err != nil {
			return 0, err
		}
	}
	seq, err := j.writeNoLock(KindCheckpoint, payload)
	if err != nil {
		return 0, err
	}
	if err := j.fd.Sync(); err != nil {
		return 0, err
	}
	return seq, j.removeSupersededNoLock()
}

func (j *Journal) write(kind Kind, p patch.Patch) (uint64, error) {
	payload, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || !j.opened {
		return 0, ErrClosed
	}
	return j.writeNoLock(kind, payload)
}

// writeNoLock frames and writes one record (caller must hold mu)
func (j *Journal) writeNoLock(kind Kind, payload []byte) (uint64, error) {
	if len(payload) > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	rec := Record{Kind: kind, Seq: j.seq.Load() + 1, Payload: payload}
	data := rec.Encode()

	if j.fileSize > 0 && j.fileSize+int64(len(data)) > j.maxFileSize() {
		if err := j.rotateNoLock(); err != nil {
			return 0, err
		}
	}

	n, err := j.fd.Write(data)
	j.fileSize += int64(n)
	if err != nil {
		return 0, err
	}
	j.seq.Store(rec.Seq)
	return rec.Seq, nil
}

// Fsync ensures everything written is on disk
func (j *Journal) Fsync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || !j.opened {
		return ErrClosed
	}
	return j.fd.Sync()
}

// Close syncs and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || !j.opened {
		return nil
	}
	j.closed = true
	syncErr := j.fd.Sync()
	return errors.Join(syncErr, j.fd.Close())
}

// Files returns every journal file, oldest first
func (j *Journal) Files() ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.findFiles()
}

func (j *Journal) maxFileSize() int64 {
	if j.MaxFileSize > 0 {
		return j.MaxFileSize
	}
	return DefaultMaxFileSize
}

func (j *Journal) retainFiles() int {
	if j.RetainFiles >= 0 {
		return j.RetainFiles
	}
	return DefaultRetainFiles
}

func (j *Journal) openFileNoLock(index int) error {
	fd, err := os.OpenFile(j.filePath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return err
	}
	j.fd = fd
	j.fileSize = stat.Size()
	j.fileIndex = index
	return nil
}

// rotateNoLock moves to a new file (caller must hold mu)
func (j *Journal) rotateNoLock() error {
	if err := j.fd.Sync(); err != nil {
		return err
	}
	if err := j.fd.Close(); err != nil {
		return err
	}
	return j.openFileNoLock(j.fileIndex + 1)
}

// removeSupersededNoLock deletes files older than the current one beyond
// the retention count (caller must hold mu)
func (j *Journal) removeSupersededNoLock() error {
	files, err := j.findFiles()
	if err != nil {
		return err
	}

	var older []string
	for _, f := range files {
		if idx, ok := j.fileIndexOf(filepath.Base(f)); ok && idx < j.fileIndex {
			older = append(older, f)
		}
	}
	if keep := j.retainFiles(); len(older) > keep {
		var errs []error
		for _, f := range older[:len(older)-keep] {
			errs = append(errs, os.Remove(f))
		}
		return errors.Join(errs...)
	}
	return nil
}

func (j *Journal) baseName() string {
	return filepath.Base(j.Path)
}

func (j *Journal) filePath(index int) string {
	return filepath.Join(filepath.Dir(j.Path), fmt.Sprintf("%s.%03d", j.baseName(), index))
}

// fileIndexOf parses the numeric suffix of a journal file name
func (j *Journal) fileIndexOf(name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, j.baseName()+".")
	if !ok || suffix == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(suffix)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// findFiles returns this journal's files sorted by index
func (j *Journal) findFiles() ([]string, error) {
	dir := filepath.Dir(j.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type indexed struct {
		path  string
		index int
	}
	var found []indexed
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if idx, ok := j.fileIndexOf(entry.Name()); ok {
			found = append(found, indexed{filepath.Join(dir, entry.Name()), idx})
		}
	}
	slices.SortFunc(found, func(a, b indexed) int { return a.index - b.index })

	files := make([]string, len(found))
	for i, f := range found {
		files[i] = f.path
	}
	return files, nil
}
