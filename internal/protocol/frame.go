package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

const (
	// HeaderSize is the length prefix size in bytes
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a single frame body
	DefaultMaxFrameSize = 16 << 20

	readChunkSize = 32 * 1024
)

// AppendFrame appends the length-prefixed encoding of p to dst
func AppendFrame(dst []byte, p *models.Packet) ([]byte, error) {
	body, err := Encode(p)
	if err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...), nil
}

// WriteFrame writes one length-prefixed packet with a single Write call
func WriteFrame(w io.Writer, p *models.Packet) error {
	frame, err := AppendFrame(make([]byte, 0, 256), p)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", p.Type, err)
	}
	return nil
}

// FrameBuffer accumulates stream bytes and yields complete packets. A frame
// whose body has not fully arrived stays in the buffer untouched, length
// prefix included, until more bytes are written.
type FrameBuffer struct {
	buf     []byte
	off     int
	maxSize int
}

// NewFrameBuffer creates a buffer rejecting frames above maxSize (0 = default)
func NewFrameBuffer(maxSize int) *FrameBuffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameBuffer{maxSize: maxSize}
}

// Write appends received bytes. It never fails.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	if b.off > 0 && b.off >= len(b.buf)/2 {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Buffered returns the number of unread bytes
func (b *FrameBuffer) Buffered() int {
	return len(b.buf) - b.off
}

// Next returns the next complete packet, or nil with a nil error when more
// bytes are needed. Size violations and undecodable bodies are errors; the
// offending frame is consumed so the caller decides whether to continue.
func (b *FrameBuffer) Next() (*models.Packet, error) {
	avail := b.buf[b.off:]
	if len(avail) < HeaderSize {
		return nil, nil
	}

	size := binary.BigEndian.Uint32(avail[:HeaderSize])
	if size == 0 {
		b.off += HeaderSize
		return nil, ErrEmptyFrame
	}
	if uint64(size) > uint64(b.maxSize) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, b.maxSize)
	}
	if len(avail) < HeaderSize+int(size) {
		return nil, nil
	}

	body := avail[HeaderSize : HeaderSize+int(size)]
	b.off += HeaderSize + int(size)

	return Decode(body)
}

// Reader reads length-prefixed packets from a stream
type Reader struct {
	r       io.Reader
	frames  *FrameBuffer
	scratch []byte
}

// NewReader wraps r. maxSize bounds a frame body (0 = default).
func NewReader(r io.Reader, maxSize int) *Reader {
	return &Reader{
		r:       r,
		frames:  NewFrameBuffer(maxSize),
		scratch: make([]byte, readChunkSize),
	}
}

// ReadPacket blocks until a full packet is available. Short reads are
// buffered, not errors. io.EOF is returned only on a clean frame boundary.
func (r *Reader) ReadPacket() (*models.Packet, error) {
	for {
		pkt, err := r.frames.Next()
		if err != nil || pkt != nil {
			return pkt, err
		}

		n, err := r.r.Read(r.scratch)
		if n > 0 {
			r.frames.Write(r.scratch[:n])
			continue
		}
		if err != nil {
			if err == io.EOF && r.frames.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}
