package filetransfer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

// State is the receiver's transfer state
type State int

const (
	StateIdle State = iota
	StateAwaitingDestination
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDestination:
		return "awaiting-destination"
	case StateReceiving:
		return "receiving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result describes a finished or aborted incoming transfer
type Result struct {
	FileName string
	Path     string
	Size     int64
	Err      error
}

// Receiver writes one incoming file at a time. Chunks that arrive before a
// destination is chosen are queued in order and flushed on Start.
type Receiver struct {
	logger     *slog.Logger
	onComplete func(Result)
	progress   Progress

	state    State
	fileName string
	total    int64
	received int64
	queue    []*models.FileChunk
	file     *os.File
	path     string
	hasher   *xxh3.Hasher
	mu       sync.Mutex
}

// NewReceiver creates a receiver. onComplete and progress may be nil.
func NewReceiver(onComplete func(Result), progress Progress, logger *slog.Logger) *Receiver {
	return &Receiver{
		logger:     logger.With("component", "filetransfer"),
		onComplete: onComplete,
		progress:   progress,
	}
}

// Prepare begins a transfer from its request header. Any transfer in
// progress is abandoned.
func (r *Receiver) Prepare(req *models.FileReq) {
	r.mu.Lock()
	var abandoned *Result
	if r.state != StateIdle {
		res := r.abortLocked(fmt.Errorf("superseded by %s", req.FileName))
		abandoned = &res
	}

	r.state = StateAwaitingDestination
	r.fileName = req.FileName
	r.total = req.FileSize
	r.received = 0
	r.queue = nil
	r.hasher = xxh3.New()
	r.mu.Unlock()

	if abandoned != nil {
		r.complete(*abandoned)
	}
	r.logger.Info("Incoming file", "file", req.FileName, "size", req.FileSize)
}

// Start opens the destination inside dir and flushes queued chunks
func (r *Receiver) Start(dir string) error {
	r.mu.Lock()

	if r.state != StateAwaitingDestination {
		r.mu.Unlock()
		return ErrNoTransfer
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		res := r.abortLocked(fmt.Errorf("creating destination: %w", err))
		r.mu.Unlock()
		r.complete(res)
		return res.Err
	}

	path := filepath.Join(dir, safeName(r.fileName))
	f, err := os.Create(path)
	if err != nil {
		res := r.abortLocked(fmt.Errorf("creating file: %w", err))
		r.mu.Unlock()
		r.complete(res)
		return res.Err
	}

	r.file = f
	r.path = path
	r.state = StateReceiving
	r.logger.Info("Receiving file", "file", r.fileName, "path", path, "queued", len(r.queue))

	queued := r.queue
	r.queue = nil

	var res *Result
	for _, c := range queued {
		if res = r.writeLocked(c); res != nil {
			break
		}
	}
	if res == nil && r.total <= 0 && r.state == StateReceiving {
		done := r.finishLocked(0, false)
		res = &done
	}
	r.mu.Unlock()

	if res != nil {
		r.complete(*res)
		return res.Err
	}
	return nil
}

// Cancel discards the transfer. A partially written file is removed.
func (r *Receiver) Cancel() {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	name := r.fileName
	r.abortLocked(nil)
	r.mu.Unlock()

	r.logger.Info("File transfer cancelled", "file", name)
}

// HandleChunk queues or writes one chunk. Chunks outside a transfer are
// dropped.
func (r *Receiver) HandleChunk(c *models.FileChunk) {
	r.mu.Lock()

	switch r.state {
	case StateIdle:
		r.mu.Unlock()
		r.logger.Debug("Dropping file chunk outside a transfer", "length", c.Length)
		return
	case StateAwaitingDestination:
		r.queue = append(r.queue, c)
		r.mu.Unlock()
		return
	}

	res := r.writeLocked(c)
	r.mu.Unlock()

	if res != nil {
		r.complete(*res)
	}
}

// State returns the current state and file name
func (r *Receiver) State() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.fileName
}

// writeLocked appends one chunk and returns a result when the transfer ended
func (r *Receiver) writeLocked(c *models.FileChunk) *Result {
	n := c.Length
	if n < 0 || n > len(c.Data) {
		n = len(c.Data)
	}
	data := c.Data[:n]

	if _, err := r.file.Write(data); err != nil {
		res := r.abortLocked(fmt.Errorf("writing file: %w", err))
		return &res
	}
	r.hasher.Write(data)
	r.received += int64(n)

	if r.progress != nil {
		r.progress(r.fileName, r.received, r.total)
	}

	if c.IsLast || r.received >= r.total {
		res := r.finishLocked(c.Checksum, c.IsLast)
		return &res
	}
	return nil
}

func (r *Receiver) finishLocked(checksum uint64, verify bool) Result {
	res := Result{FileName: r.fileName, Path: r.path, Size: r.received}

	if err := r.file.Close(); err != nil {
		res.Err = fmt.Errorf("closing file: %w", err)
	} else if verify && checksum != 0 && r.hasher.Sum64() != checksum {
		res.Err = ErrChecksumMismatch
	}
	r.file = nil

	if res.Err != nil {
		os.Remove(r.path)
	}
	r.resetLocked()
	return res
}

func (r *Receiver) abortLocked(cause error) Result {
	res := Result{FileName: r.fileName, Path: r.path, Size: r.received, Err: cause}
	if r.file != nil {
		r.file.Close()
		os.Remove(r.path)
		r.file = nil
	}
	r.resetLocked()
	return res
}

func (r *Receiver) resetLocked() {
	r.state = StateIdle
	r.queue = nil
	r.fileName = ""
	r.path = ""
	r.total = 0
	r.received = 0
	r.hasher = nil
}

func (r *Receiver) complete(res Result) {
	if res.Err != nil {
		r.logger.Warn("File transfer aborted", "file", res.FileName, "error", res.Err)
	} else {
		r.logger.Info("File received", "file", res.FileName, "path", res.Path, "size", res.Size)
	}
	if r.onComplete != nil {
		r.onComplete(res)
	}
}

// safeName keeps only the final path element of a remote file name
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "download"
	}
	return name
}
