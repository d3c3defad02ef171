// Package video carries live screen frames over datagrams. The sender splits
// each compressed frame into bounded chunks with no acknowledgment; the
// reassembler rebuilds frames and discards late or incomplete ones.
package video

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/protocol"
)

const (
	DefaultInterval  = 40 * time.Millisecond
	DefaultChunkSize = 45000
	DefaultQueueSize = 64
)

// ErrNoDestination is returned by SendFrame when no datagram route is known
var ErrNoDestination = errors.New("no video destination")

// FrameSource produces one compressed frame per call. A nil frame with a nil
// error means nothing changed and the tick is skipped.
type FrameSource interface {
	Capture() ([]byte, error)
}

// DatagramWriter is satisfied by *net.UDPConn
type DatagramWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Destination resolves where datagrams go right now. It is consulted per
// datagram so a route change takes effect mid-stream.
type Destination func() *net.UDPAddr

// SenderConfig configures a Sender
type SenderConfig struct {
	SenderID        string
	TargetID        string
	Interval        time.Duration
	ChunkSize       int
	MaxDatagramSize int
	QueueSize       int
}

// SenderStats counts sender activity
type SenderStats struct {
	Frames  uint64
	Sent    uint64
	Dropped uint64
}

type datagram struct {
	data []byte
}

// Sender streams frames from a FrameSource. Capture, chunking and writing
// never block each other: when the write queue is full, chunks are dropped.
type Sender struct {
	cfg    SenderConfig
	source FrameSource
	conn   DatagramWriter
	dest   Destination
	logger *slog.Logger

	nextFrame atomic.Int64
	queue     chan datagram

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex

	frames  atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewSender creates a sender. source may be nil when frames are pushed with
// SendFrame only.
func NewSender(cfg SenderConfig, source FrameSource, conn DatagramWriter, dest Destination, logger *slog.Logger) *Sender {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = protocol.MaxDatagramSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	return &Sender{
		cfg:    cfg,
		source: source,
		conn:   conn,
		dest:   dest,
		logger: logger.With("component", "video", "target", cfg.TargetID),
		queue:  make(chan datagram, cfg.QueueSize),
	}
}

// Start begins the capture ticker and the write loop. Starting a running
// sender is a no-op.
func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return
	}
	s.running.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.writeLoop(ctx)

	if s.source != nil {
		s.wg.Add(1)
		go s.captureLoop(ctx)
	}

	s.logger.Info("Video streaming started", "interval", s.cfg.Interval, "chunk_size", s.cfg.ChunkSize)
}

// Stop halts streaming and waits for the loops to exit
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}
	s.running.Store(false)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Video streaming stopped")
}

// Running reports whether the sender is streaming
func (s *Sender) Running() bool {
	return s.running.Load()
}

// SendFrame chunks one frame under a fresh frame id and queues its
// datagrams. It returns how many chunks were queued.
func (s *Sender) SendFrame(frame []byte) (int, error) {
	if len(frame) == 0 {
		return 0, nil
	}
	if s.dest() == nil {
		s.dropped.Add(1)
		return 0, ErrNoDestination
	}

	frameID := s.nextFrame.Add(1) - 1
	chunks := Chunk(frame, s.cfg.ChunkSize)
	now := time.Now().UnixMilli()
	s.frames.Add(1)

	queued := 0
	for i, part := range chunks {
		data, err := protocol.EncodeDatagram(&models.VideoChunk{
			SenderID:    s.cfg.SenderID,
			TargetID:    s.cfg.TargetID,
			FrameID:     frameID,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			Timestamp:   now,
			Data:        part,
		})
		if err != nil {
			return queued, err
		}
		if len(data) > s.cfg.MaxDatagramSize {
			s.dropped.Add(1)
			s.logger.Warn("Chunk exceeds datagram ceiling", "frame", frameID, "size", len(data))
			continue
		}

		select {
		case s.queue <- datagram{data: data}:
			queued++
		default:
			s.dropped.Add(1)
		}
	}
	return queued, nil
}

// Stats returns a snapshot of the counters
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Frames:  s.frames.Load(),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
	}
}

func (s *Sender) captureLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.source.Capture()
			if err != nil {
				s.logger.Warn("Capture failed", "error", err)
				continue
			}
			if _, err := s.SendFrame(frame); err != nil && !errors.Is(err, ErrNoDestination) {
				s.logger.Warn("Failed to send frame", "error", err)
			}
		}
	}
}

func (s *Sender) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			addr := s.dest()
			if addr == nil {
				s.dropped.Add(1)
				continue
			}
			if _, err := s.conn.WriteToUDP(d.data, addr); err != nil {
				s.dropped.Add(1)
				s.logger.Debug("Datagram write failed", "to", addr.String(), "error", err)
				continue
			}
			s.sent.Add(1)
		}
	}
}

// Chunk splits data into consecutive parts of at most size bytes. The parts
// alias data.
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
