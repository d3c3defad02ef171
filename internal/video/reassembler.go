package video

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

// DefaultFrameTimeout is how long an incomplete frame is kept after its first
// chunk
const DefaultFrameTimeout = 2 * time.Second

// DefaultMaxChunks bounds totalChunks when no frame size limit is configured
const DefaultMaxChunks = 1024

// maxExpiredIDs bounds the set of timed-out frame ids. Past it the ids
// collapse into expiredFloor.
const maxExpiredIDs = 256

// MaxChunks returns how many chunks of chunkSize bytes a frame of at most
// maxFrameSize bytes can need
func MaxChunks(maxFrameSize, chunkSize int) int {
	if maxFrameSize <= 0 || chunkSize <= 0 {
		return DefaultMaxChunks
	}
	return (maxFrameSize + chunkSize - 1) / chunkSize
}

// Frame is one reassembled compressed image
type Frame struct {
	ID        int64
	SenderID  string
	Timestamp int64
	Data      []byte
}

// Sink receives completed frames in display order
type Sink func(Frame)

// ReassemblerStats counts reassembly outcomes
type ReassemblerStats struct {
	Displayed uint64
	Stale     uint64
	Expired   uint64
	Invalid   uint64
}

type pendingFrame struct {
	total     int
	chunks    map[int][]byte
	size      int
	firstSeen time.Time
	timestamp int64
}

// Reassembler rebuilds frames from datagram chunks. Chunks may arrive in any
// order and more than once. A frame is released only once every chunk is
// present, and never after a newer frame has been released.
type Reassembler struct {
	timeout time.Duration
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time

	maxChunks int

	pending       map[int64]*pendingFrame
	expiredIDs    map[int64]struct{}
	expiredFloor  int64
	lastDisplayed int64
	sender        string
	mu            sync.Mutex

	displayed atomic.Uint64
	stale     atomic.Uint64
	expired   atomic.Uint64
	invalid   atomic.Uint64
}

// NewReassembler creates a reassembler delivering frames to sink
func NewReassembler(timeout time.Duration, sink Sink, logger *slog.Logger) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultFrameTimeout
	}
	return &Reassembler{
		timeout:       timeout,
		sink:          sink,
		logger:        logger.With("component", "video"),
		now:           time.Now,
		maxChunks:     DefaultMaxChunks,
		pending:       make(map[int64]*pendingFrame),
		expiredIDs:    make(map[int64]struct{}),
		expiredFloor:  -1,
		lastDisplayed: -1,
	}
}

// SetMaxChunks sets the largest accepted totalChunks. Chunks claiming more
// are counted as invalid.
func (r *Reassembler) SetMaxChunks(n int) {
	if n <= 0 {
		n = DefaultMaxChunks
	}
	r.mu.Lock()
	r.maxChunks = n
	r.mu.Unlock()
}

// Add accepts one chunk. It reports whether the chunk completed a frame.
func (r *Reassembler) Add(c *models.VideoChunk) bool {
	// Registrations and empty chunks carry no image data
	if len(c.Data) == 0 || c.TotalChunks == 0 {
		return false
	}
	if c.TotalChunks < 0 || c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks || c.FrameID < 0 {
		r.invalid.Add(1)
		return false
	}

	r.mu.Lock()

	if c.TotalChunks > r.maxChunks {
		r.mu.Unlock()
		r.invalid.Add(1)
		return false
	}

	// A new sender restarts frame numbering
	if c.SenderID != r.sender {
		r.resetLocked()
		r.sender = c.SenderID
	}

	if c.FrameID <= r.lastDisplayed {
		r.mu.Unlock()
		r.stale.Add(1)
		return false
	}

	// A timed-out frame stays dropped even if its missing chunks show up
	if r.expiredLocked(c.FrameID) {
		r.mu.Unlock()
		r.expired.Add(1)
		return false
	}

	now := r.now()
	f, exists := r.pending[c.FrameID]
	if exists && now.Sub(f.firstSeen) > r.timeout {
		r.expireLocked(c.FrameID)
		r.mu.Unlock()
		r.expired.Add(1)
		r.logger.Debug("Frame expired", "frame", c.FrameID, "have", len(f.chunks), "total", f.total)
		return false
	}
	if !exists {
		f = &pendingFrame{
			total:     c.TotalChunks,
			chunks:    make(map[int][]byte),
			firstSeen: now,
			timestamp: c.Timestamp,
		}
		r.pending[c.FrameID] = f
	}
	if f.total != c.TotalChunks {
		r.mu.Unlock()
		r.invalid.Add(1)
		return false
	}

	if _, dup := f.chunks[c.ChunkIndex]; !dup {
		f.chunks[c.ChunkIndex] = c.Data
		f.size += len(c.Data)
	}

	if len(f.chunks) < f.total {
		r.mu.Unlock()
		return false
	}

	data := make([]byte, 0, f.size)
	for i := 0; i < f.total; i++ {
		data = append(data, f.chunks[i]...)
	}

	r.lastDisplayed = c.FrameID
	for id := range r.pending {
		if id <= c.FrameID {
			delete(r.pending, id)
		}
	}
	for id := range r.expiredIDs {
		if id <= c.FrameID {
			delete(r.expiredIDs, id)
		}
	}
	sender := r.sender
	r.mu.Unlock()

	r.displayed.Add(1)
	if r.sink != nil {
		r.sink(Frame{ID: c.FrameID, SenderID: sender, Timestamp: f.timestamp, Data: data})
	}
	return true
}

// Cleanup purges incomplete frames older than the timeout and returns how
// many were dropped
func (r *Reassembler) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, f := range r.pending {
		if now.Sub(f.firstSeen) > r.timeout {
			r.expireLocked(id)
			removed++
		}
	}
	if removed > 0 {
		r.expired.Add(uint64(removed))
		r.logger.Debug("Purged incomplete frames", "count", removed)
	}
	return removed
}

// Run calls Cleanup every interval until ctx ends
func (r *Reassembler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup(r.now())
		}
	}
}

// Reset forgets all state, for a new session
func (r *Reassembler) Reset() {
	r.mu.Lock()
	r.resetLocked()
	r.sender = ""
	r.mu.Unlock()
}

func (r *Reassembler) resetLocked() {
	r.pending = make(map[int64]*pendingFrame)
	r.expiredIDs = make(map[int64]struct{})
	r.expiredFloor = -1
	r.lastDisplayed = -1
}

// expireLocked drops a pending frame and remembers its id
func (r *Reassembler) expireLocked(id int64) {
	delete(r.pending, id)
	if id <= r.expiredFloor {
		return
	}
	r.expiredIDs[id] = struct{}{}
	if len(r.expiredIDs) <= maxExpiredIDs {
		return
	}

	for old := range r.expiredIDs {
		if old > r.expiredFloor {
			r.expiredFloor = old
		}
	}
	r.expiredIDs = make(map[int64]struct{})
	for pid := range r.pending {
		if pid <= r.expiredFloor {
			delete(r.pending, pid)
		}
	}
}

func (r *Reassembler) expiredLocked(id int64) bool {
	if id <= r.expiredFloor {
		return true
	}
	_, ok := r.expiredIDs[id]
	return ok
}

// Pending returns the number of incomplete frames held
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// LastDisplayed returns the id of the newest released frame, or -1
func (r *Reassembler) LastDisplayed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastDisplayed
}

// Stats returns a snapshot of the counters
func (r *Reassembler) Stats() ReassemblerStats {
	return ReassemblerStats{
		Displayed: r.displayed.Load(),
		Stale:     r.stale.Load(),
		Expired:   r.expired.Load(),
		Invalid:   r.invalid.Load(),
	}
}
